package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
)

// MemoryStore is a single-process Store, used when Redis is unavailable.
// It gives no protection across processes.
type MemoryStore struct {
	mu sync.Mutex

	session   *models.Session
	storedTil time.Time

	lockOwner string
	lockTil   time.Time

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Load(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || !m.now().Before(m.storedTil) {
		m.session = nil
		return nil, nil
	}
	copied := *m.session
	copied.Cookies = append([]models.Cookie(nil), m.session.Cookies...)
	return &copied, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *models.Session, ttl time.Duration) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session: missing session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ttl = storeTTL(s, ttl, now)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	copied := *s
	copied.Cookies = append([]models.Cookie(nil), s.Cookies...)
	m.session = &copied
	m.storedTil = now.Add(ttl)
	return nil
}

func (m *MemoryStore) Invalidate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.ID == sessionID {
		m.session = nil
	}
	return nil
}

func (m *MemoryStore) TryAcquireRenewalLock(ctx context.Context, ownerID string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lockOwner != "" && now.Before(m.lockTil) {
		return false, nil
	}
	m.lockOwner = ownerID
	m.lockTil = now.Add(lease)
	return true, nil
}

func (m *MemoryStore) ReleaseRenewalLock(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lockOwner == ownerID {
		m.lockOwner = ""
		m.lockTil = time.Time{}
	}
	return nil
}
