package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/solverpay-backend/pkg/instance"
)

const defaultLeaseTTL = 5 * time.Minute

// ErrLeaseLost means the lease expired and was taken before Release ran.
var ErrLeaseLost = errors.New("cron lease expired before release")

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
}

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

// RedisLease is a single-holder lease on one key. A crashed holder blocks
// other instances for at most ttl.
type RedisLease struct {
	store leaseStore
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLease(store leaseStore, key string, ttl time.Duration) (*RedisLease, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lease")
	case key == "":
		return nil, errors.New("lease key is required")
	case ttl <= 0:
		ttl = defaultLeaseTTL
	}
	return &RedisLease{store: store, key: key, ttl: ttl}, nil
}

// Acquire takes the lease if it is free. The token names this instance so a
// stuck key can be traced to its holder.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := instance.GetID() + "/" + uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Release is a no-op when nothing is held.
func (l *RedisLease) Release(ctx context.Context) error {
	token := l.token
	if token == "" {
		return nil
	}
	reply, err := l.store.RunScript(ctx, compareAndDelete, []string{l.key}, token)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	l.token = ""
	if n, _ := reply.(int64); n == 0 {
		return ErrLeaseLost
	}
	return nil
}
