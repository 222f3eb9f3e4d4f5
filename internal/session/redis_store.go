package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/agentdesk/internal/models"
)

const (
	DefaultSessionKey = "agentdesk:session"
	DefaultLockKey    = "agentdesk:session:renewal"
)

// Only the lease owner may release it.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Only delete the session that was actually rejected, never a newer one.
const invalidateScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local ok, decoded = pcall(cjson.decode, raw)
if ok and decoded["id"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisStore struct {
	client     *redis.Client
	sessionKey string
	lockKey    string
	now        func() time.Time
}

// NewRedisStore creates a Redis-backed session store. Empty keys fall back
// to the defaults.
func NewRedisStore(client *redis.Client, sessionKey, lockKey string) *RedisStore {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	if lockKey == "" {
		lockKey = DefaultLockKey
	}
	return &RedisStore{
		client:     client,
		sessionKey: sessionKey,
		lockKey:    lockKey,
		now:        time.Now,
	}
}

func (r *RedisStore) Load(ctx context.Context) (*models.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("[SESSION] Ignoring undecodable stored session: %v", err)
		return nil, nil
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.Session, ttl time.Duration) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session: missing session id")
	}

	ttl = storeTTL(s, ttl, r.now())
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.sessionKey, data, ttl).Err()
}

func (r *RedisStore) Invalidate(ctx context.Context, sessionID string) error {
	err := r.client.Eval(ctx, invalidateScript, []string{r.sessionKey}, sessionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: invalidate: %w", err)
	}
	return nil
}

func (r *RedisStore) TryAcquireRenewalLock(ctx context.Context, ownerID string, lease time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.lockKey, ownerID, lease).Result()
	if err != nil {
		return false, fmt.Errorf("session: acquire renewal lock: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) ReleaseRenewalLock(ctx context.Context, ownerID string) error {
	err := r.client.Eval(ctx, releaseLockScript, []string{r.lockKey}, ownerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: release renewal lock: %w", err)
	}
	return nil
}
