package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by TryAcquire when another holder owns the key.
var ErrHeld = errors.New("lock: held by another owner")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Client is the subset of a go-redis client the locker uses.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Locker hands out Redis leases keyed by name. Each lease is a SET NX PX key holding a random
// token, so only the owner can release it and a crashed owner loses it after the TTL.
type Locker struct {
	R            Client
	Prefix       string
	RetryBackoff time.Duration
}

// Lease is a held lock.
type Lease struct {
	key   string
	token string
	r     redis.Scripter
}

// Release drops the lease if it is still ours. It runs on its own short deadline so a
// cancelled request context does not leave the key behind until expiry.
func (l *Lease) Release() error {
	if l == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return unlockScript.Run(ctx, l.r, []string{l.key}, l.token).Err()
}

// TryAcquire takes key once without waiting.
func (l Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("lock: key is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lease := &Lease{key: l.Prefix + key, token: uuid.NewString(), r: l.R}
	ok, err := l.R.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return lease, nil
}

// Acquire polls TryAcquire until the key is free or ctx is done.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	ticker := time.NewTicker(backoff)
	defer ticker.Stop()
	for {
		lease, err := l.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, ErrHeld) {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WithLock runs fn while holding key. The lease is released when fn returns, error or not.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release() }()
	return fn(ctx)
}
