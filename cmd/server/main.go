package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ruralpay/agentdesk/internal/audit"
	"github.com/ruralpay/agentdesk/internal/config"
	"github.com/ruralpay/agentdesk/internal/database"
	"github.com/ruralpay/agentdesk/internal/handlers"
	"github.com/ruralpay/agentdesk/internal/metrics"
	mW "github.com/ruralpay/agentdesk/internal/middleware"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
	"github.com/ruralpay/agentdesk/internal/services"
	"github.com/ruralpay/agentdesk/internal/session"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the named front-end client and exit")
	flag.Parse()

	cfg := config.Load()

	if *issueToken != "" {
		token, err := mW.IssueToken(cfg.Security.JWTSecretKey, *issueToken, cfg.Security.JWTExpiry)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if cfg.Remote.BaseURL == "" || cfg.Agent.Login == "" || cfg.Agent.Password == "" {
		log.Fatal("REMOTE_BASE_URL, AGENT_LOGIN and AGENT_PASSWORD must be set")
	}

	db := database.InitDatabase(cfg.Server.RunMigrations)
	defer db.Close()

	var store session.Store
	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
		store = session.NewRedisStore(redisClient, cfg.Session.Key, cfg.Session.LockKey)
	} else {
		log.Println("[SESSION] Using in-process session store; renewals are not coordinated across processes")
		store = session.NewMemoryStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	remoteCfg := remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		Origin:        cfg.Remote.Origin,
		UserAgent:     cfg.Remote.UserAgent,
		Timeout:       cfg.Remote.APITimeout,
		RatePerSecond: cfg.Remote.RatePerSecond,
		Burst:         cfg.Remote.Burst,
		Endpoints: remote.Endpoints{
			SignIn:       cfg.Remote.Endpoints.SignIn,
			CreatePlayer: cfg.Remote.Endpoints.CreatePlayer,
			PlayerStats:  cfg.Remote.Endpoints.PlayerStats,
			Deposit:      cfg.Remote.Endpoints.Deposit,
			Withdraw:     cfg.Remote.Endpoints.Withdraw,
			Balance:      cfg.Remote.Endpoints.Balance,
		},
	}
	factory := remote.NewFactory(remoteCfg, nil)

	var authenticator session.Authenticator
	switch cfg.Auth.Mode {
	case "browser":
		if cfg.Auth.BrowserURL == "" {
			log.Fatal("AUTH_BROWSER_URL is required when AUTH_MODE=browser")
		}
		authenticator = remote.NewBrowserAuthenticator(cfg.Auth.BrowserURL, factory.Config().Origin, cfg.Session.Validity, cfg.Auth.Timeout)
	case "signin":
		authenticator = remote.NewSignInAuthenticator(remoteCfg, cfg.Session.Validity, cfg.Auth.Timeout)
	default:
		log.Fatalf("Unknown AUTH_MODE %q", cfg.Auth.Mode)
	}

	supervisor := session.NewSupervisor(store, authenticator, factory,
		models.Credentials{Login: cfg.Agent.Login, Password: cfg.Agent.Password},
		session.Config{
			RenewalMargin:   cfg.Session.RenewalMargin,
			LeaseDuration:   cfg.Session.LeaseDuration,
			WaitTimeout:     cfg.Session.WaitTimeout,
			AuthTimeout:     cfg.Session.AuthTimeout,
			MaxAuthAttempts: cfg.Session.MaxAuthAttempts,
		}, recorder)

	sealer, err := services.NewPasswordSealer(cfg.Security.SecretKey)
	if err != nil {
		log.Fatalf("Failed to initialize password sealer: %v", err)
	}

	auditLogger := audit.NewLogger()
	ledgerService := services.NewLedgerService(db, supervisor, auditLogger, recorder)
	provisioningService := services.NewProvisioningService(db, supervisor, sealer, services.ProvisioningConfig{
		EmailDomain:      cfg.Provisioning.EmailDomain,
		Currency:         cfg.Provisioning.Currency,
		MaxLoginAttempts: cfg.Provisioning.MaxLoginAttempts,
		LookupAttempts:   cfg.Provisioning.LookupAttempts,
		LookupDelay:      cfg.Provisioning.LookupDelay,
	}, auditLogger, recorder)
	agentHandler := handlers.NewAgentHandler(provisioningService, ledgerService, supervisor)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go session.NewKeepAlive(supervisor, cfg.Session.KeepAliveInterval).Start(workerCtx)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"session": supervisor.State().String(),
		})
	})
	r.Handle("/metrics", metrics.Handler(registry))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware(cfg.Security.JWTSecretKey))
		agentHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
