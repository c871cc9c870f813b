package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/model"
)

const (
	lockTTL  = 30 * time.Second
	lockWait = 10 * time.Second
	lockPoll = 10 * time.Millisecond
)

// releaseLock deletes a lock key only while it still holds the caller's owner id.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore keeps session state as JSON under "<prefix>:<token>" with a sliding TTL.
// Token locks live under "<prefix>:lock:<token>".
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, lockTTL: lockTTL, lockWait: lockWait}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + ":" + token
}

// Load returns the state for token.
func (s *RedisStore) Load(ctx context.Context, token string) (*model.SessionState, error) {
	const op = "session.redis.Load"

	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var st model.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrCorrupt, err)
	}
	return &st, nil
}

// Save writes state for token.
func (s *RedisStore) Save(ctx context.Context, token string, st *model.SessionState) error {
	const op = "session.redis.Save"

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.client.Set(ctx, s.key(token), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete removes state for token.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	const op = "session.redis.Delete"

	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Lock takes "<prefix>:lock:<token>" with SET NX PX, polling until it is free.
// The key expires after lockTTL so a crashed holder cannot wedge the session.
func (s *RedisStore) Lock(ctx context.Context, token string) (Unlock, error) {
	const op = "session.redis.Lock"

	owner, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	key := s.prefix + ":lock:" + token

	backoff := retry.WithMaxDuration(s.lockWait, retry.NewConstant(lockPoll))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := s.client.SetNX(ctx, key, owner.String(), s.lockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(ErrLockTimeout)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return func() {
		ctx := context.WithoutCancel(ctx)
		_ = releaseLock.Run(ctx, s.client, []string{key}, owner.String()).Err()
	}, nil
}

// Ping checks connectivity; used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
