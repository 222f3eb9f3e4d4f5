package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ruralpay/agentdesk/internal/audit"
	"github.com/ruralpay/agentdesk/internal/clock"
	"github.com/ruralpay/agentdesk/internal/metrics"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
)

const maxLoginLength = 16

// CreateAccountRequest asks for a dashboard player for a chat user.
type CreateAccountRequest struct {
	UserID   int64  `json:"telegramId" validate:"required,gt=0"`
	Login    string `json:"login" validate:"required,alphanum,min=3,max=16"`
	Password string `json:"password" validate:"required,min=6,max=32"`
}

type ProvisioningConfig struct {
	EmailDomain      string
	Currency         string
	MaxLoginAttempts int
	LookupAttempts   int
	LookupDelay      time.Duration
}

// ProvisioningService creates players on the dashboard and links them to
// chat users.
type ProvisioningService struct {
	db        *sql.DB
	sessions  SessionProvider
	sealer    *PasswordSealer
	validator *ValidationHelper
	audit     *audit.Logger
	metrics   metrics.Recorder
	cfg       ProvisioningConfig

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	suffix func() (string, error)
}

func NewProvisioningService(db *sql.DB, sessions SessionProvider, sealer *PasswordSealer, cfg ProvisioningConfig, auditLogger *audit.Logger, recorder metrics.Recorder) *ProvisioningService {
	if cfg.EmailDomain == "" {
		cfg.EmailDomain = "players.local"
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 6
	}
	if cfg.LookupAttempts <= 0 {
		cfg.LookupAttempts = 5
	}
	if cfg.LookupDelay < 0 {
		cfg.LookupDelay = 0
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &ProvisioningService{
		db:        db,
		sessions:  sessions,
		sealer:    sealer,
		validator: NewValidationHelper(),
		audit:     auditLogger,
		metrics:   recorder,
		cfg:       cfg,
		now:       time.Now,
		sleep:     clock.Sleep,
		suffix:    randomSuffix,
	}
}

// CreateAccount picks a free login, creates the player on the dashboard,
// resolves its id and stores the link.
func (s *ProvisioningService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*models.PlayerAccount, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	if err := s.ensureUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	login, err := s.pickLogin(ctx, strings.ToLower(req.Login))
	if err != nil {
		s.fail(req.UserID, req.Login, err)
		return nil, err
	}

	email := login + "@" + s.cfg.EmailDomain
	createErr := withClient(ctx, s.sessions, false, func(ctx context.Context, c *remote.Client) error {
		_, err := c.CreatePlayer(ctx, remote.NewPlayer{
			Login:    login,
			Password: req.Password,
			Email:    email,
			Currency: s.cfg.Currency,
		})
		return err
	})
	if createErr != nil && !errors.Is(createErr, models.ErrTransport) {
		s.fail(req.UserID, login, createErr)
		return nil, createErr
	}
	if createErr != nil {
		// The player may exist even though the answer was lost.
		log.Printf("[PROVISION] Create for %s got no clear answer, looking it up: %v", login, createErr)
	}

	playerID, err := s.lookupPlayerID(ctx, login)
	if err != nil {
		if createErr != nil && errors.Is(err, models.ErrProvisioningIncomplete) {
			err = createErr
		}
		s.fail(req.UserID, login, err)
		return nil, err
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, err
	}

	account := &models.PlayerAccount{
		UserID:         req.UserID,
		RemotePlayerID: playerID,
		Login:          login,
		Password:       req.Password,
		Email:          email,
		CreatedAt:      s.now(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO player_accounts (user_id, remote_player_id, login, password_sealed, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		account.UserID, account.RemotePlayerID, account.Login, sealed, account.Email, account.CreatedAt).Scan(&account.ID)
	if err != nil {
		s.fail(req.UserID, login, err)
		return nil, fmt.Errorf("player %d created but not linked: %w", playerID, err)
	}

	if createErr != nil {
		// The lookup found a player with this login, but another creator may
		// have claimed it between the availability check and our create.
		s.audit.LogProvisioning(req.UserID, playerID, login, audit.StatusAdopted)
		s.metrics.RecordProvisioning("adopted")
		log.Printf("[PROVISION] Linked player %d (%s) to user %d after an unanswered create; needs reconciliation", playerID, login, req.UserID)
		return account, nil
	}

	s.audit.LogProvisioning(req.UserID, playerID, login, audit.StatusSuccess)
	s.metrics.RecordProvisioning("created")
	log.Printf("[PROVISION] Linked player %d (%s) to user %d", playerID, login, req.UserID)
	return account, nil
}

// GetAccount returns the user's most recent player account.
func (s *ProvisioningService) GetAccount(ctx context.Context, userID int64) (*models.PlayerAccount, error) {
	var account models.PlayerAccount
	var sealed string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, remote_player_id, login, password_sealed, email, created_at
		FROM player_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, userID).Scan(&account.ID, &account.UserID, &account.RemotePlayerID, &account.Login,
		&sealed, &account.Email, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewOpError(models.ErrNotFound, "account", fmt.Sprintf("no player account for user %d", userID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player account: %w", err)
	}

	account.Password, err = s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open password for player %d: %w", account.RemotePlayerID, err)
	}
	return &account, nil
}

func (s *ProvisioningService) ensureUser(ctx context.Context, userID int64) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, balance, version, created_at, updated_at)
		VALUES ($1, 0, 1, $2, $2)
		ON CONFLICT (telegram_id) DO NOTHING`, userID, now)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// pickLogin returns the first candidate the dashboard does not know.
func (s *ProvisioningService) pickLogin(ctx context.Context, base string) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxLoginAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			suffix, err := s.suffix()
			if err != nil {
				return "", err
			}
			stem := base
			if len(stem)+len(suffix) > maxLoginLength {
				stem = stem[:maxLoginLength-len(suffix)]
			}
			candidate = stem + suffix
		}

		var exists bool
		err := withClient(ctx, s.sessions, true, func(ctx context.Context, c *remote.Client) error {
			var callErr error
			exists, callErr = c.PlayerExists(ctx, candidate)
			return callErr
		})
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		log.Printf("[PROVISION] Login %s is taken", candidate)
	}

	return "", models.NewOpError(models.ErrNameUnavailable, "provision",
		fmt.Sprintf("login %s and its variants are already taken", base), nil)
}

func (s *ProvisioningService) lookupPlayerID(ctx context.Context, login string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LookupAttempts; attempt++ {
		var player *remote.Player
		err := withClient(ctx, s.sessions, true, func(ctx context.Context, c *remote.Client) error {
			var callErr error
			player, _, callErr = c.FindPlayer(ctx, login)
			return callErr
		})
		switch {
		case err == nil && player != nil:
			return player.ID, nil
		case err != nil && !errors.Is(err, models.ErrTransport):
			return 0, err
		}
		lastErr = err

		if attempt < s.cfg.LookupAttempts {
			if serr := s.sleep(ctx, s.cfg.LookupDelay); serr != nil {
				break
			}
		}
	}

	return 0, models.NewOpError(models.ErrProvisioningIncomplete, "provision",
		fmt.Sprintf("player %s was created but its id is not available yet", login), lastErr)
}

func (s *ProvisioningService) fail(userID int64, login string, err error) {
	s.audit.LogProvisioning(userID, 0, login, audit.StatusFailed)
	result := "failed"
	if kind := models.KindOf(err); kind != nil {
		result = strings.ReplaceAll(kind.Error(), " ", "_")
	}
	s.metrics.RecordProvisioning(result)
	log.Printf("[PROVISION] Provisioning %s for user %d failed: %v", login, userID, err)
}

func randomSuffix() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("failed to generate login suffix: %w", err)
	}
	return fmt.Sprintf("%03d", n.Int64()), nil
}
