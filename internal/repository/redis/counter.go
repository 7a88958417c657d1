package redisrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Adds ARGV[1] to KEYS[1] only if it has been seeded.
// Returns {1, value} when applied, {0, 0} otherwise.
const luaAddSeeded = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {1, redis.call('INCRBY', KEYS[1], ARGV[1])}
end
return {0, 0}
`

// Sets KEYS[1] to ARGV[1] unless it exists, then returns what it holds.
const luaSeed = `
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  return tonumber(ARGV[1])
end
return tonumber(redis.call('GET', KEYS[1]))
`

// Counter keeps the per-event checked-in totals in Redis so every instance
// shares one number. INCRBY is commutative, so no lock is taken.
type Counter struct {
	rdb  *redis.Client
	add  *redis.Script
	seed *redis.Script
}

func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{
		rdb:  rdb,
		add:  redis.NewScript(luaAddSeeded),
		seed: redis.NewScript(luaSeed),
	}
}

// Add applies delta to a seeded counter and reports false, changing nothing,
// when the counter has not been seeded yet.
func (c *Counter) Add(ctx context.Context, eventID, delta int64) (bool, error) {
	res, err := c.add.Run(ctx, c.rdb, []string{KeyCheckedIn(eventID)}, delta).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redisrepo.Counter.Add: %w", err)
	}
	return len(res) == 2 && res[0] == 1, nil
}

// Get returns the counter and whether it has ever been seeded.
func (c *Counter) Get(ctx context.Context, eventID int64) (int64, bool, error) {
	const op = "redisrepo.Counter.Get"

	s, err := c.rdb.Get(ctx, KeyCheckedIn(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := parseInt(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	return n, true, nil
}

func (c *Counter) Seed(ctx context.Context, eventID, n int64) (int64, error) {
	v, err := c.seed.Run(ctx, c.rdb, []string{KeyCheckedIn(eventID)}, n).Int64()
	if err != nil {
		return 0, fmt.Errorf("redisrepo.Counter.Seed: %w", err)
	}
	return v, nil
}

func (c *Counter) Set(ctx context.Context, eventID, n int64) error {
	if err := c.rdb.Set(ctx, KeyCheckedIn(eventID), n, 0).Err(); err != nil {
		return fmt.Errorf("redisrepo.Counter.Set: %w", err)
	}
	return nil
}
