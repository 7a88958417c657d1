// Package gate bounds and orders concurrent scans before they reach the
// admission engine.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kirinyoku/tix-checkin/internal/credential"
)

// ErrBusy is returned when a scan could not enter its critical section within
// the configured wait. Nothing was recorded; the gate may rescan.
var ErrBusy = errors.New("gate busy")

type Config struct {
	MaxInFlightPerEvent int64
	LockTimeout         time.Duration
}

// Coordinator runs each scan inside a per-event in-flight slot and a
// per-ticket critical section. Scans of different tickets run in parallel.
type Coordinator struct {
	locker Locker
	codec  *credential.Codec
	cfg    Config

	mu    sync.Mutex
	slots map[int64]*semaphore.Weighted
}

func NewCoordinator(locker Locker, codec *credential.Codec, cfg Config) *Coordinator {
	if cfg.MaxInFlightPerEvent <= 0 {
		cfg.MaxInFlightPerEvent = 256
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 3 * time.Second
	}

	return &Coordinator{
		locker: locker,
		codec:  codec,
		cfg:    cfg,
		slots:  make(map[int64]*semaphore.Weighted),
	}
}

// Submit runs fn once the scan holds its event slot and ticket section.
//
// Returns:
//   - ErrBusy if either could not be acquired within LockTimeout.
//   - ctx.Err() if the caller gave up first; fn has not run.
//   - fn's error otherwise.
func (c *Coordinator) Submit(
	ctx context.Context,
	eventID int64,
	payload string,
	fn func(ctx context.Context) error,
) error {
	const op = "service.gate.Submit"

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	defer cancel()

	slot := c.slot(eventID)
	if err := slot.Acquire(waitCtx, 1); err != nil {
		return c.waitErr(ctx, op, err)
	}
	defer slot.Release(1)

	unlock, err := c.locker.Lock(waitCtx, c.Key(payload))
	if err != nil {
		return c.waitErr(ctx, op, err)
	}
	defer unlock()

	return fn(ctx)
}

// Key is the critical-section key of a payload: the ticket id of an
// authentic credential, otherwise a hash of the raw payload so identical
// garbage still serializes.
func (c *Coordinator) Key(payload string) string {
	if c.codec != nil {
		if claims, err := c.codec.Decode(payload); err == nil {
			return "ticket:" + claims.TicketID.String()
		}
	}
	return "payload:" + credential.PayloadHash(payload)
}

func (c *Coordinator) slot(eventID int64) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[eventID]
	if !ok {
		s = semaphore.NewWeighted(c.cfg.MaxInFlightPerEvent)
		c.slots[eventID] = s
	}

	return s
}

func (c *Coordinator) waitErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}
