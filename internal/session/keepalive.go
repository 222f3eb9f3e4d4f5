package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
)

// KeepAlive refreshes the shared session on a timer so chat requests rarely
// pay for a login.
type KeepAlive struct {
	supervisor *Supervisor
	interval   time.Duration
}

func NewKeepAlive(supervisor *Supervisor, interval time.Duration) *KeepAlive {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &KeepAlive{supervisor: supervisor, interval: interval}
}

// Start runs once immediately, then on every tick until ctx is cancelled.
func (k *KeepAlive) Start(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	log.Printf("[KEEPALIVE] Started with interval %s", k.interval)

	if err := k.RunOnce(ctx); err != nil {
		log.Printf("[KEEPALIVE] Check failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[KEEPALIVE] Stopped")
			return
		case <-ticker.C:
			if err := k.RunOnce(ctx); err != nil {
				log.Printf("[KEEPALIVE] Check failed: %v", err)
			}
		}
	}
}

// RunOnce makes sure a session exists, then checks it against the dashboard.
// A rejected check drops the session and renews it straight away.
func (k *KeepAlive) RunOnce(ctx context.Context) error {
	client, err := k.supervisor.GetReadyClient(ctx)
	if err != nil {
		return err
	}

	err = client.Ping(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrSessionInvalid) {
		return err
	}

	log.Printf("[KEEPALIVE] Session %s rejected by dashboard, renewing", client.Session().ID)
	k.supervisor.Invalidate(ctx, client.Session())
	return k.supervisor.EnsureFresh(ctx)
}
