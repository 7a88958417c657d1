package metrics

import (
	"context"
	"sync"
	"sync/atomic"
)

// Counter mirrors the checked-in total of each event for cheap reads.
// Add must be commutative; it only applies once the counter has been seeded.
type Counter interface {
	// Add applies delta and reports whether the counter was seeded. An
	// unseeded counter is left untouched.
	Add(ctx context.Context, eventID, delta int64) (bool, error)
	Get(ctx context.Context, eventID int64) (n int64, seeded bool, err error)
	// Seed sets the counter to n unless it is already seeded, and returns
	// the value it holds afterwards.
	Seed(ctx context.Context, eventID, n int64) (int64, error)
	// Set overwrites the counter with n.
	Set(ctx context.Context, eventID, n int64) error
}

// MemoryCounter is the in-process Counter. Each event gets its own atomic,
// so updates from concurrent gates never contend on a lock.
type MemoryCounter struct {
	m sync.Map // int64 -> *atomic.Int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{}
}

func (c *MemoryCounter) Add(_ context.Context, eventID, delta int64) (bool, error) {
	v, ok := c.m.Load(eventID)
	if !ok {
		return false, nil
	}
	v.(*atomic.Int64).Add(delta)
	return true, nil
}

func (c *MemoryCounter) Get(_ context.Context, eventID int64) (int64, bool, error) {
	v, ok := c.m.Load(eventID)
	if !ok {
		return 0, false, nil
	}
	return v.(*atomic.Int64).Load(), true, nil
}

func (c *MemoryCounter) Seed(_ context.Context, eventID, n int64) (int64, error) {
	fresh := new(atomic.Int64)
	fresh.Store(n)

	v, _ := c.m.LoadOrStore(eventID, fresh)
	return v.(*atomic.Int64).Load(), nil
}

func (c *MemoryCounter) Set(_ context.Context, eventID, n int64) error {
	v, _ := c.m.LoadOrStore(eventID, new(atomic.Int64))
	v.(*atomic.Int64).Store(n)
	return nil
}
