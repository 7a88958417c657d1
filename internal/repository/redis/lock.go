package redisrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deletes KEYS[1] only while it still holds our token.
const luaCompareDel = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

const defaultLockRetry = 10 * time.Millisecond

// Locker is a cross-instance mutex built on SET NX PX. The lease bounds how
// long a crashed holder can block a key. Waiters poll, so hand-off order is
// not FIFO.
type Locker struct {
	rdb     *redis.Client
	lease   time.Duration
	retry   time.Duration
	release *redis.Script
}

func NewLocker(rdb *redis.Client, lease time.Duration) *Locker {
	return &Locker{
		rdb:     rdb,
		lease:   lease,
		retry:   defaultLockRetry,
		release: redis.NewScript(luaCompareDel),
	}
}

// Lock blocks until key is held or ctx is done. The returned unlock must be
// called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	const op = "redisrepo.Locker.Lock"

	token, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rkey := KeyGateLock(key)

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, rkey, token, l.lease).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			return func() {
				// Release must run even when the caller's context is gone.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				_ = l.release.Run(ctx, l.rdb, []string{rkey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
