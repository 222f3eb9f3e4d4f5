package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
	"github.com/stretchr/testify/assert"
)

type fakeAuthenticator struct {
	calls    int32
	delay    time.Duration
	fail     bool
	validity time.Duration
}

func (a *fakeAuthenticator) Authenticate(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail {
		return nil, models.NewOpError(models.ErrAuthFailure, "sign-in", "invalid login or password", nil)
	}

	validity := a.validity
	if validity == 0 {
		validity = 30 * time.Minute
	}
	now := time.Now()
	return &models.Session{
		ID:        uuid.NewString(),
		Cookies:   []models.Cookie{{Name: "sid", Value: uuid.NewString()}},
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
	}, nil
}

func (a *fakeAuthenticator) Calls() int {
	return int(atomic.LoadInt32(&a.calls))
}

// staleStore always serves a session that is already past its margin.
type staleStore struct {
	*MemoryStore
	stale *models.Session
}

func (s *staleStore) Load(ctx context.Context) (*models.Session, error) {
	if sess, _ := s.MemoryStore.Load(ctx); sess != nil {
		return sess, nil
	}
	return s.stale, nil
}

func testConfig() Config {
	return Config{
		RenewalMargin:   time.Minute,
		LeaseDuration:   time.Minute,
		WaitTimeout:     5 * time.Second,
		AuthTimeout:     5 * time.Second,
		MaxAuthAttempts: 3,
		PollInitial:     5 * time.Millisecond,
		PollMax:         20 * time.Millisecond,
	}
}

func testFactory(baseURL string) *remote.Factory {
	if baseURL == "" {
		baseURL = "http://dashboard.invalid"
	}
	return remote.NewFactory(remote.Config{BaseURL: baseURL}, nil)
}

func testCreds() models.Credentials {
	return models.Credentials{Login: "agent", Password: "secret"}
}

func TestSupervisor_GetReadyClient(t *testing.T) {
	ctx := context.Background()

	t.Run("first use logs in once and caches", func(t *testing.T) {
		auth := &fakeAuthenticator{}
		sup := NewSupervisor(NewMemoryStore(), auth, testFactory(""), testCreds(), testConfig(), nil)
		assert.Equal(t, StateNoSession, sup.State())

		first, err := sup.GetReadyClient(ctx)
		assert.NoError(t, err)
		second, err := sup.GetReadyClient(ctx)
		assert.NoError(t, err)

		assert.Equal(t, 1, auth.Calls())
		assert.Equal(t, first.Session().ID, second.Session().ID)
		assert.Equal(t, StateValid, sup.State())
	})

	t.Run("adopts a session saved by another process", func(t *testing.T) {
		store := NewMemoryStore()
		existing := testSession(time.Now(), 30*time.Minute)
		assert.NoError(t, store.Save(ctx, existing, 0))

		auth := &fakeAuthenticator{}
		sup := NewSupervisor(store, auth, testFactory(""), testCreds(), testConfig(), nil)

		client, err := sup.GetReadyClient(ctx)
		assert.NoError(t, err)
		assert.Equal(t, existing.ID, client.Session().ID)
		assert.Equal(t, 0, auth.Calls())
	})

	t.Run("never returns a stored session inside its margin", func(t *testing.T) {
		stale := testSession(time.Now().Add(-29*time.Minute), 30*time.Minute)
		store := &staleStore{MemoryStore: NewMemoryStore(), stale: stale}

		auth := &fakeAuthenticator{}
		sup := NewSupervisor(store, auth, testFactory(""), testCreds(), testConfig(), nil)

		client, err := sup.GetReadyClient(ctx)
		assert.NoError(t, err)
		assert.NotEqual(t, stale.ID, client.Session().ID)
		assert.Equal(t, 1, auth.Calls())
	})

	t.Run("authentication failure after bounded attempts", func(t *testing.T) {
		auth := &fakeAuthenticator{fail: true}
		sup := NewSupervisor(NewMemoryStore(), auth, testFactory(""), testCreds(), testConfig(), nil)

		client, err := sup.GetReadyClient(ctx)
		assert.Nil(t, client)
		assert.True(t, errors.Is(err, models.ErrAuthFailure))
		assert.Equal(t, "invalid login or password", models.MessageOf(err))
		assert.Equal(t, 3, auth.Calls())
		assert.Equal(t, StateNoSession, sup.State())
	})

	t.Run("times out while another owner holds the lease", func(t *testing.T) {
		store := NewMemoryStore()
		ok, _ := store.TryAcquireRenewalLock(ctx, "someone-else", time.Hour)
		assert.True(t, ok)

		cfg := testConfig()
		cfg.WaitTimeout = 60 * time.Millisecond
		auth := &fakeAuthenticator{}
		sup := NewSupervisor(store, auth, testFactory(""), testCreds(), cfg, nil)

		_, err := sup.GetReadyClient(ctx)
		assert.True(t, errors.Is(err, models.ErrRenewalTimeout))
		assert.Equal(t, 0, auth.Calls())
	})

	t.Run("takes over after a crashed renewer's lease expires", func(t *testing.T) {
		store := NewMemoryStore()
		ok, _ := store.TryAcquireRenewalLock(ctx, "crashed", 30*time.Millisecond)
		assert.True(t, ok)

		auth := &fakeAuthenticator{}
		sup := NewSupervisor(store, auth, testFactory(""), testCreds(), testConfig(), nil)

		client, err := sup.GetReadyClient(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, 1, auth.Calls())
	})
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Run("zero config gets defaults", func(t *testing.T) {
		cfg := Config{}.withDefaults()
		d := DefaultConfig()
		assert.Equal(t, d.LeaseDuration, cfg.LeaseDuration)
		assert.Equal(t, d.WaitTimeout, cfg.WaitTimeout)
		assert.Equal(t, d.MaxAuthAttempts, cfg.MaxAuthAttempts)
		assert.GreaterOrEqual(t, cfg.LeaseDuration, cfg.AuthTimeout)
	})

	t.Run("lease shorter than the auth window is raised", func(t *testing.T) {
		cfg := Config{LeaseDuration: 30 * time.Second, AuthTimeout: 75 * time.Second}.withDefaults()
		assert.Equal(t, 75*time.Second+leaseHeadroom, cfg.LeaseDuration)
	})

	t.Run("long enough lease is kept", func(t *testing.T) {
		cfg := Config{LeaseDuration: 5 * time.Minute, AuthTimeout: 75 * time.Second}.withDefaults()
		assert.Equal(t, 5*time.Minute, cfg.LeaseDuration)
	})
}

func TestSupervisor_ConcurrentRenewal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	auth := &fakeAuthenticator{delay: 50 * time.Millisecond}

	// Several supervisors stand in for separate worker processes.
	supervisors := make([]*Supervisor, 6)
	for i := range supervisors {
		supervisors[i] = NewSupervisor(store, auth, testFactory(""), testCreds(), testConfig(), nil)
	}

	var wg sync.WaitGroup
	ids := make(chan string, 6*5)
	for _, sup := range supervisors {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(s *Supervisor) {
				defer wg.Done()
				client, err := s.GetReadyClient(ctx)
				if assert.NoError(t, err) {
					ids <- client.Session().ID
				}
			}(sup)
		}
	}
	wg.Wait()
	close(ids)

	assert.Equal(t, 1, auth.Calls())

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestSupervisor_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	auth := &fakeAuthenticator{}
	sup := NewSupervisor(store, auth, testFactory(""), testCreds(), testConfig(), nil)

	first, err := sup.GetReadyClient(ctx)
	assert.NoError(t, err)

	sup.Invalidate(ctx, first.Session())
	assert.Equal(t, StateStale, sup.State())
	stored, _ := store.Load(ctx)
	assert.Nil(t, stored)

	second, err := sup.GetReadyClient(ctx)
	assert.NoError(t, err)
	assert.NotEqual(t, first.Session().ID, second.Session().ID)
	assert.Equal(t, 2, auth.Calls())

	t.Run("old session id does not drop the new one", func(t *testing.T) {
		sup.Invalidate(ctx, first.Session())

		stored, _ := store.Load(ctx)
		assert.NotNil(t, stored)
		assert.Equal(t, second.Session().ID, stored.ID)
		assert.Equal(t, StateValid, sup.State())
	})
}

func TestKeepAlive_RunOnce(t *testing.T) {
	ctx := context.Background()

	var pings int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, remote.DefaultEndpoints().PlayerStats, r.URL.Path)
		if atomic.AddInt32(&pings, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"records":[]},"notification":[]}`))
	}))
	defer server.Close()

	auth := &fakeAuthenticator{}
	sup := NewSupervisor(NewMemoryStore(), auth, testFactory(server.URL), testCreds(), testConfig(), nil)
	keepAlive := NewKeepAlive(sup, time.Minute)

	t.Run("rejected check renews the session", func(t *testing.T) {
		err := keepAlive.RunOnce(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, auth.Calls())
		assert.Equal(t, StateValid, sup.State())
	})

	t.Run("healthy check leaves the session alone", func(t *testing.T) {
		err := keepAlive.RunOnce(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, auth.Calls())
		assert.Equal(t, int32(2), atomic.LoadInt32(&pings))
	})
}
