package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/stretchr/testify/assert"
)

func testSession(now time.Time, validity time.Duration) *models.Session {
	return &models.Session{
		ID:        "sess-1",
		Cookies:   []models.Cookie{{Name: "sid", Value: "abc"}},
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
		Origin:    "https://agents.example.com",
	}
}

func TestRedisStore_Load(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "", "")

	t.Run("missing key", func(t *testing.T) {
		mock.ExpectGet(DefaultSessionKey).RedisNil()

		sess, err := store.Load(ctx)
		assert.NoError(t, err)
		assert.Nil(t, sess)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stored session", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		data, err := json.Marshal(testSession(now, 30*time.Minute))
		assert.NoError(t, err)
		mock.ExpectGet(DefaultSessionKey).SetVal(string(data))

		sess, err := store.Load(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, sess)
		assert.Equal(t, "sess-1", sess.ID)
		assert.Equal(t, "abc", sess.Cookies[0].Value)
		assert.True(t, sess.ExpiresAt.Equal(now.Add(30*time.Minute)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt value is treated as absent", func(t *testing.T) {
		mock.ExpectGet(DefaultSessionKey).SetVal("{not json")

		sess, err := store.Load(ctx)
		assert.NoError(t, err)
		assert.Nil(t, sess)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisStore_Save(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "custom:session", "custom:lock")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	t.Run("ttl capped by expiry", func(t *testing.T) {
		sess := testSession(now, 30*time.Minute)
		data, _ := json.Marshal(sess)
		mock.ExpectSet("custom:session", data, 30*time.Minute).SetVal("OK")

		err := store.Save(ctx, sess, time.Hour)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("shorter ttl kept", func(t *testing.T) {
		sess := testSession(now, 30*time.Minute)
		data, _ := json.Marshal(sess)
		mock.ExpectSet("custom:session", data, 10*time.Minute).SetVal("OK")

		err := store.Save(ctx, sess, 10*time.Minute)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired session rejected", func(t *testing.T) {
		sess := testSession(now.Add(-time.Hour), 30*time.Minute)

		err := store.Save(ctx, sess, 0)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisStore_RenewalLock(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "", "")

	t.Run("acquire", func(t *testing.T) {
		mock.ExpectSetNX(DefaultLockKey, "owner-a", time.Minute).SetVal(true)

		ok, err := store.TryAcquireRenewalLock(ctx, "owner-a", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held by another owner", func(t *testing.T) {
		mock.ExpectSetNX(DefaultLockKey, "owner-b", time.Minute).SetVal(false)

		ok, err := store.TryAcquireRenewalLock(ctx, "owner-b", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release only own lock", func(t *testing.T) {
		mock.ExpectEval(releaseLockScript, []string{DefaultLockKey}, "owner-a").SetVal(int64(1))

		err := store.ReleaseRenewalLock(ctx, "owner-a")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "", "")

	mock.ExpectEval(invalidateScript, []string{DefaultSessionKey}, "sess-1").SetVal(int64(0))

	err := store.Invalidate(ctx, "sess-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	t.Run("expired entries disappear", func(t *testing.T) {
		assert.NoError(t, store.Save(ctx, testSession(now, 10*time.Minute), 0))

		sess, err := store.Load(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, sess)

		now = now.Add(11 * time.Minute)
		sess, err = store.Load(ctx)
		assert.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("invalidate ignores other ids", func(t *testing.T) {
		assert.NoError(t, store.Save(ctx, testSession(now, 10*time.Minute), 0))

		assert.NoError(t, store.Invalidate(ctx, "another"))
		sess, _ := store.Load(ctx)
		assert.NotNil(t, sess)

		assert.NoError(t, store.Invalidate(ctx, "sess-1"))
		sess, _ = store.Load(ctx)
		assert.Nil(t, sess)
	})

	t.Run("lease is exclusive until released or expired", func(t *testing.T) {
		ok, _ := store.TryAcquireRenewalLock(ctx, "a", time.Minute)
		assert.True(t, ok)
		ok, _ = store.TryAcquireRenewalLock(ctx, "b", time.Minute)
		assert.False(t, ok)

		assert.NoError(t, store.ReleaseRenewalLock(ctx, "b"))
		ok, _ = store.TryAcquireRenewalLock(ctx, "b", time.Minute)
		assert.False(t, ok)

		now = now.Add(2 * time.Minute)
		ok, _ = store.TryAcquireRenewalLock(ctx, "b", time.Minute)
		assert.True(t, ok)
	})
}
