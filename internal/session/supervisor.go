package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/agentdesk/internal/clock"
	"github.com/ruralpay/agentdesk/internal/metrics"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
	"golang.org/x/sync/singleflight"
)

// State is the supervisor's view of the shared session.
type State int

const (
	StateNoSession State = iota
	StateValid
	StateStale
	StateRenewing
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateStale:
		return "stale"
	case StateRenewing:
		return "renewing"
	default:
		return "no_session"
	}
}

// Authenticator performs the full dashboard login.
type Authenticator interface {
	Authenticate(ctx context.Context, creds models.Credentials) (*models.Session, error)
}

// ClientFactory binds a session to a remote client.
type ClientFactory interface {
	Client(s *models.Session) *remote.Client
}

type Config struct {
	RenewalMargin   time.Duration
	LeaseDuration   time.Duration
	WaitTimeout     time.Duration
	AuthTimeout     time.Duration
	MaxAuthAttempts int
	PollInitial     time.Duration
	PollMax         time.Duration
	// AuthRetryDelay is the pause between failed login attempts.
	AuthRetryDelay time.Duration
}

// leaseHeadroom covers persisting the session after a login that used the
// whole auth window.
const leaseHeadroom = 10 * time.Second

func DefaultConfig() Config {
	return Config{
		RenewalMargin:   2 * time.Minute,
		LeaseDuration:   2 * time.Minute,
		WaitTimeout:     90 * time.Second,
		AuthTimeout:     75 * time.Second,
		MaxAuthAttempts: 3,
		PollInitial:     250 * time.Millisecond,
		PollMax:         5 * time.Second,
		AuthRetryDelay:  2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RenewalMargin < 0 {
		c.RenewalMargin = 0
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	// The lease must outlive a full login window, or a second renewer can
	// take over while the first is still authenticating.
	if floor := c.AuthTimeout + leaseHeadroom; c.LeaseDuration < floor {
		log.Printf("[SESSION] Lease %s is shorter than the auth window, raising it to %s", c.LeaseDuration, floor)
		c.LeaseDuration = floor
	}
	if c.MaxAuthAttempts <= 0 {
		c.MaxAuthAttempts = d.MaxAuthAttempts
	}
	if c.PollInitial <= 0 {
		c.PollInitial = d.PollInitial
	}
	if c.PollMax < c.PollInitial {
		c.PollMax = c.PollInitial
	}
	if c.AuthRetryDelay < 0 {
		c.AuthRetryDelay = 0
	}
	return c
}

// Supervisor hands out clients bound to a usable session and is the only
// writer to the Store. Build one per process and pass it explicitly.
type Supervisor struct {
	store   Store
	auth    Authenticator
	clients ClientFactory
	creds   models.Credentials
	cfg     Config
	metrics metrics.Recorder
	ownerID string

	mu      sync.Mutex
	current *models.Session
	state   State

	group singleflight.Group

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(store Store, auth Authenticator, clients ClientFactory, creds models.Credentials, cfg Config, recorder metrics.Recorder) *Supervisor {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Supervisor{
		store:   store,
		auth:    auth,
		clients: clients,
		creds:   creds,
		cfg:     cfg.withDefaults(),
		metrics: recorder,
		ownerID: uuid.NewString(),
		state:   StateNoSession,
		now:     time.Now,
		sleep:   clock.Sleep,
	}
}

// State reports the current session state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateValid && !s.current.Usable(s.now(), s.cfg.RenewalMargin) {
		s.state = StateStale
	}
	return s.state
}

// Current returns the in-process session, if any. It may be stale.
func (s *Supervisor) Current() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// GetReadyClient returns a client bound to a usable session, renewing the
// session first when needed. Fails with models.ErrRenewalTimeout or
// models.ErrAuthFailure.
func (s *Supervisor) GetReadyClient(ctx context.Context) (*remote.Client, error) {
	if sess := s.cached(); sess != nil {
		return s.clients.Client(sess), nil
	}

	sess, err := s.renew(ctx)
	if err != nil {
		return nil, err
	}
	return s.clients.Client(sess), nil
}

// EnsureFresh renews the session if it is missing or inside its margin.
func (s *Supervisor) EnsureFresh(ctx context.Context) error {
	_, err := s.GetReadyClient(ctx)
	return err
}

// Invalidate drops sess after the dashboard rejected it. A nil sess drops
// whatever is held in process.
func (s *Supervisor) Invalidate(ctx context.Context, sess *models.Session) {
	s.mu.Lock()
	if s.current != nil && (sess == nil || s.current.ID == sess.ID) {
		s.current = nil
		s.state = StateStale
	}
	s.mu.Unlock()

	if sess == nil {
		return
	}
	if err := s.store.Invalidate(ctx, sess.ID); err != nil {
		log.Printf("[SESSION] Failed to invalidate stored session %s: %v", sess.ID, err)
	}
	s.metrics.RecordRenewal("invalidated")
}

func (s *Supervisor) cached() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	if s.current.Usable(s.now(), s.cfg.RenewalMargin) {
		s.state = StateValid
		return s.current
	}
	if s.state != StateRenewing {
		s.state = StateStale
	}
	return nil
}

func (s *Supervisor) renew(ctx context.Context) (*models.Session, error) {
	ch := s.group.DoChan("session", func() (interface{}, error) {
		// Detached so a caller giving up cannot strand a half-finished login.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WaitTimeout+s.cfg.AuthTimeout)
		defer cancel()
		return s.refresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Session), nil
	case <-ctx.Done():
		return nil, models.NewOpError(models.ErrRenewalTimeout, "session", "gave up waiting for a dashboard session", ctx.Err())
	}
}

func (s *Supervisor) refresh(ctx context.Context) (*models.Session, error) {
	deadline := s.now().Add(s.cfg.WaitTimeout)
	delay := s.cfg.PollInitial

	for {
		if sess := s.loadUsable(ctx); sess != nil {
			s.adopt(sess)
			s.metrics.RecordRenewal("adopted")
			return sess, nil
		}

		acquired, err := s.store.TryAcquireRenewalLock(ctx, s.ownerID, s.cfg.LeaseDuration)
		if err != nil {
			log.Printf("[SESSION] Renewal lock unavailable: %v", err)
		} else if acquired {
			return s.renewHoldingLock(ctx)
		}

		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			s.metrics.RecordRenewal("timeout")
			return nil, models.NewOpError(models.ErrRenewalTimeout, "session",
				fmt.Sprintf("no usable session after waiting %s", s.cfg.WaitTimeout), nil)
		}

		wait := delay
		if wait > remaining {
			wait = remaining
		}
		if err := s.sleep(ctx, wait); err != nil {
			s.metrics.RecordRenewal("timeout")
			return nil, models.NewOpError(models.ErrRenewalTimeout, "session", "renewal wait aborted", err)
		}

		delay *= 2
		if delay > s.cfg.PollMax {
			delay = s.cfg.PollMax
		}
	}
}

func (s *Supervisor) renewHoldingLock(ctx context.Context) (*models.Session, error) {
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.ReleaseRenewalLock(rctx, s.ownerID); err != nil {
			log.Printf("[SESSION] Failed to release renewal lock: %v", err)
		}
	}()

	// Another process may have saved between our Load and the lock.
	if sess := s.loadUsable(ctx); sess != nil {
		s.adopt(sess)
		s.metrics.RecordRenewal("adopted")
		return sess, nil
	}

	s.setState(StateRenewing)
	log.Printf("[SESSION] Renewing dashboard session (owner %s)", s.ownerID)

	authCtx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAuthAttempts; attempt++ {
		sess, err := s.auth.Authenticate(authCtx, s.creds)
		if err == nil {
			if verr := sess.Validate(s.cfg.RenewalMargin); verr != nil {
				err = models.NewOpError(models.ErrAuthFailure, "session", "login produced an unusable session", verr)
			}
		}
		s.metrics.RecordAuthAttempt(err == nil)

		if err == nil {
			if serr := s.store.Save(ctx, sess, 0); serr != nil {
				log.Printf("[SESSION] Failed to persist renewed session %s: %v", sess.ID, serr)
			}
			s.adopt(sess)
			s.metrics.RecordRenewal("renewed")
			log.Printf("[SESSION] Session %s valid until %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
			return sess, nil
		}

		lastErr = err
		log.Printf("[SESSION] Login attempt %d/%d failed: %v", attempt, s.cfg.MaxAuthAttempts, err)
		if attempt == s.cfg.MaxAuthAttempts || authCtx.Err() != nil {
			break
		}
		if err := s.sleep(authCtx, s.cfg.AuthRetryDelay); err != nil {
			break
		}
	}

	s.mu.Lock()
	s.current = nil
	s.state = StateNoSession
	s.mu.Unlock()

	s.metrics.RecordRenewal("failed")
	msg := "could not log in to the agent dashboard"
	if m := models.MessageOf(lastErr); m != "" && errors.Is(lastErr, models.ErrAuthFailure) {
		msg = m
	}
	return nil, models.NewOpError(models.ErrAuthFailure, "session", msg, lastErr)
}

// loadUsable never returns a session inside its renewal margin.
func (s *Supervisor) loadUsable(ctx context.Context) *models.Session {
	sess, err := s.store.Load(ctx)
	if err != nil {
		log.Printf("[SESSION] Failed to load stored session: %v", err)
		return nil
	}
	if sess == nil || !sess.Usable(s.now(), s.cfg.RenewalMargin) {
		return nil
	}
	return sess
}

func (s *Supervisor) adopt(sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	s.state = StateValid
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
