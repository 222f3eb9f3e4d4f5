// Package session keeps the one authenticated dashboard session that every
// worker shares, and renews it without letting two workers log in at once.
package session

import (
	"context"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
)

// Store is the durable home of the shared session and of the renewal lease.
// Implementations must make Save and the lease operations atomic.
type Store interface {
	// Load returns nil, nil when no session is stored.
	Load(ctx context.Context) (*models.Session, error)
	// Save persists s for at most ttl, and never past s.ExpiresAt.
	Save(ctx context.Context, s *models.Session, ttl time.Duration) error
	// Invalidate removes the stored session only if its id matches.
	Invalidate(ctx context.Context, sessionID string) error
	TryAcquireRenewalLock(ctx context.Context, ownerID string, lease time.Duration) (bool, error)
	ReleaseRenewalLock(ctx context.Context, ownerID string) error
}

// storeTTL caps ttl by the session's remaining validity.
func storeTTL(s *models.Session, ttl time.Duration, now time.Time) time.Duration {
	remaining := s.ExpiresAt.Sub(now)
	if ttl <= 0 || ttl > remaining {
		return remaining
	}
	return ttl
}
