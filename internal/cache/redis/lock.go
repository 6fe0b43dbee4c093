package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// unlockLua deletes the lock only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry out only while the caller still holds the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and token-checked
// release. The indexer uses it so only one replica projects the event log.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Lease is a held lock.
type Lease struct {
	lm    *LockManager
	key   string
	token string
	once  sync.Once
}

// AcquireLease takes the lock for name or returns domain.ErrLockHeld.
func (lm *LockManager) AcquireLease(ctx context.Context, name string, ttl time.Duration) (domain.Lease, error) {
	l := &Lease{lm: lm, key: key("lock", name), token: uuid.NewString()}
	ok, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return l, nil
}

// Extend resets the lease TTL. It returns domain.ErrLockHeld when the lease
// expired and someone else took the lock.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := l.lm.extendSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release gives the lock up. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.once.Do(func() {
		// The caller's context is usually already cancelled here.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
	})
}

// Acquire implements domain.LockManager.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l, err := lm.AcquireLease(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.Lease       = (*Lease)(nil)
)
