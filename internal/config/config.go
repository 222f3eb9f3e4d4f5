package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Remote       RemoteConfig
	Agent        AgentConfig
	Auth         AuthConfig
	Session      SessionConfig
	Provisioning ProvisioningConfig
	Security     SecurityConfig
}

type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	RunMigrations  bool
}

type RemoteConfig struct {
	BaseURL       string
	Origin        string
	UserAgent     string
	APITimeout    time.Duration
	RatePerSecond float64
	Burst         int
	Endpoints     EndpointsConfig
}

type EndpointsConfig struct {
	SignIn       string
	CreatePlayer string
	PlayerStats  string
	Deposit      string
	Withdraw     string
	Balance      string
}

type AgentConfig struct {
	Login    string
	Password string
}

type AuthConfig struct {
	Mode       string // signin or browser
	BrowserURL string
	Timeout    time.Duration
}

type SessionConfig struct {
	Key               string
	LockKey           string
	RenewalMargin     time.Duration
	LeaseDuration     time.Duration
	WaitTimeout       time.Duration
	AuthTimeout       time.Duration
	MaxAuthAttempts   int
	Validity          time.Duration
	KeepAliveInterval time.Duration
}

type ProvisioningConfig struct {
	EmailDomain      string
	Currency         string
	MaxLoginAttempts int
	LookupAttempts   int
	LookupDelay      time.Duration
}

type SecurityConfig struct {
	SecretKey    string
	JWTSecretKey string
	JWTExpiry    time.Duration
}

var bindings = map[string]string{
	"server.port":            "PORT",
	"server.request_timeout": "SERVER_REQUEST_TIMEOUT",
	"server.run_migrations":  "SERVER_RUN_MIGRATIONS",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"remote.base_url":                "REMOTE_BASE_URL",
	"remote.origin":                  "REMOTE_ORIGIN",
	"remote.user_agent":              "REMOTE_USER_AGENT",
	"remote.api_timeout":             "REMOTE_API_TIMEOUT",
	"remote.rate_per_second":         "REMOTE_RATE_PER_SECOND",
	"remote.burst":                   "REMOTE_BURST",
	"remote.endpoints.sign_in":       "REMOTE_ENDPOINT_SIGN_IN",
	"remote.endpoints.create_player": "REMOTE_ENDPOINT_CREATE_PLAYER",
	"remote.endpoints.player_stats":  "REMOTE_ENDPOINT_PLAYER_STATS",
	"remote.endpoints.deposit":       "REMOTE_ENDPOINT_DEPOSIT",
	"remote.endpoints.withdraw":      "REMOTE_ENDPOINT_WITHDRAW",
	"remote.endpoints.balance":       "REMOTE_ENDPOINT_BALANCE",

	"agent.login":    "AGENT_LOGIN",
	"agent.password": "AGENT_PASSWORD",

	"auth.mode":        "AUTH_MODE",
	"auth.browser_url": "AUTH_BROWSER_URL",
	"auth.timeout":     "AUTH_TIMEOUT",

	"session.key":                "SESSION_KEY",
	"session.lock_key":           "SESSION_LOCK_KEY",
	"session.renewal_margin":     "SESSION_RENEWAL_MARGIN",
	"session.lease_duration":     "SESSION_LEASE_DURATION",
	"session.wait_timeout":       "SESSION_WAIT_TIMEOUT",
	"session.auth_timeout":       "SESSION_AUTH_TIMEOUT",
	"session.max_auth_attempts":  "SESSION_MAX_AUTH_ATTEMPTS",
	"session.validity":           "SESSION_VALIDITY",
	"session.keepalive_interval": "SESSION_KEEPALIVE_INTERVAL",

	"provisioning.email_domain":       "PROVISIONING_EMAIL_DOMAIN",
	"provisioning.currency":           "PROVISIONING_CURRENCY",
	"provisioning.max_login_attempts": "PROVISIONING_MAX_LOGIN_ATTEMPTS",
	"provisioning.lookup_attempts":    "PROVISIONING_LOOKUP_ATTEMPTS",
	"provisioning.lookup_delay":       "PROVISIONING_LOOKUP_DELAY",

	"security.secret_key": "SECURITY_SECRET_KEY",
	"jwt.secret_key":      "JWT_SECRET_KEY",
	"jwt.expiry_hours":    "JWT_EXPIRY_HOURS",
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.request_timeout", 150*time.Second)
	viper.SetDefault("server.run_migrations", true)

	viper.SetDefault("remote.api_timeout", 30*time.Second)
	viper.SetDefault("remote.rate_per_second", 5.0)
	viper.SetDefault("remote.burst", 5)
	viper.SetDefault("remote.endpoints.sign_in", "/api/agent/auth/sign-in")
	viper.SetDefault("remote.endpoints.create_player", "/api/agent/players/create")
	viper.SetDefault("remote.endpoints.player_stats", "/api/agent/statistics/players")
	viper.SetDefault("remote.endpoints.deposit", "/api/agent/cash/deposit")
	viper.SetDefault("remote.endpoints.withdraw", "/api/agent/cash/withdraw")
	viper.SetDefault("remote.endpoints.balance", "/api/agent/players/balance")

	viper.SetDefault("auth.mode", "signin")
	viper.SetDefault("auth.timeout", 60*time.Second)

	viper.SetDefault("session.key", "agentdesk:session")
	viper.SetDefault("session.lock_key", "agentdesk:session:renewal")
	viper.SetDefault("session.renewal_margin", 2*time.Minute)
	viper.SetDefault("session.lease_duration", 2*time.Minute)
	viper.SetDefault("session.wait_timeout", 90*time.Second)
	viper.SetDefault("session.auth_timeout", 75*time.Second)
	viper.SetDefault("session.max_auth_attempts", 3)
	viper.SetDefault("session.validity", 30*time.Minute)
	viper.SetDefault("session.keepalive_interval", 5*time.Minute)

	viper.SetDefault("provisioning.email_domain", "players.local")
	viper.SetDefault("provisioning.max_login_attempts", 6)
	viper.SetDefault("provisioning.lookup_attempts", 5)
	viper.SetDefault("provisioning.lookup_delay", 2*time.Second)

	viper.SetDefault("jwt.expiry_hours", 24)
}

// Load reads .env and the environment into a Config.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	for key, env := range bindings {
		viper.BindEnv(key, env)
	}
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using environment and defaults: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			RequestTimeout: viper.GetDuration("server.request_timeout"),
			RunMigrations:  viper.GetBool("server.run_migrations"),
		},
		Remote: RemoteConfig{
			BaseURL:       viper.GetString("remote.base_url"),
			Origin:        viper.GetString("remote.origin"),
			UserAgent:     viper.GetString("remote.user_agent"),
			APITimeout:    viper.GetDuration("remote.api_timeout"),
			RatePerSecond: viper.GetFloat64("remote.rate_per_second"),
			Burst:         viper.GetInt("remote.burst"),
			Endpoints: EndpointsConfig{
				SignIn:       viper.GetString("remote.endpoints.sign_in"),
				CreatePlayer: viper.GetString("remote.endpoints.create_player"),
				PlayerStats:  viper.GetString("remote.endpoints.player_stats"),
				Deposit:      viper.GetString("remote.endpoints.deposit"),
				Withdraw:     viper.GetString("remote.endpoints.withdraw"),
				Balance:      viper.GetString("remote.endpoints.balance"),
			},
		},
		Agent: AgentConfig{
			Login:    viper.GetString("agent.login"),
			Password: viper.GetString("agent.password"),
		},
		Auth: AuthConfig{
			Mode:       viper.GetString("auth.mode"),
			BrowserURL: viper.GetString("auth.browser_url"),
			Timeout:    viper.GetDuration("auth.timeout"),
		},
		Session: SessionConfig{
			Key:               viper.GetString("session.key"),
			LockKey:           viper.GetString("session.lock_key"),
			RenewalMargin:     viper.GetDuration("session.renewal_margin"),
			LeaseDuration:     viper.GetDuration("session.lease_duration"),
			WaitTimeout:       viper.GetDuration("session.wait_timeout"),
			AuthTimeout:       viper.GetDuration("session.auth_timeout"),
			MaxAuthAttempts:   viper.GetInt("session.max_auth_attempts"),
			Validity:          viper.GetDuration("session.validity"),
			KeepAliveInterval: viper.GetDuration("session.keepalive_interval"),
		},
		Provisioning: ProvisioningConfig{
			EmailDomain:      viper.GetString("provisioning.email_domain"),
			Currency:         viper.GetString("provisioning.currency"),
			MaxLoginAttempts: viper.GetInt("provisioning.max_login_attempts"),
			LookupAttempts:   viper.GetInt("provisioning.lookup_attempts"),
			LookupDelay:      viper.GetDuration("provisioning.lookup_delay"),
		},
		Security: SecurityConfig{
			SecretKey:    viper.GetString("security.secret_key"),
			JWTSecretKey: viper.GetString("jwt.secret_key"),
			JWTExpiry:    time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour,
		},
	}
}
