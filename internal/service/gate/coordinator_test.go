package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/tix-checkin/internal/credential"
)

func testCodec(t *testing.T) *credential.Codec {
	t.Helper()
	key := make([]byte, credential.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	kr, err := credential.NewKeyring(1, map[uint8][]byte{1: key})
	require.NoError(t, err)
	c, err := credential.New(kr)
	require.NoError(t, err)
	return c
}

func TestLocalLocker_FIFOPerKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := l.Lock(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			u()
		}()
		// let waiter i block before i+1 arrives
		time.Sleep(10 * time.Millisecond)
	}

	unlock()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, l.size(), "idle sections are dropped")
}

func TestLocalLocker_DoubleUnlockIsHarmless(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	assert.Equal(t, 0, l.size())
}

func TestSubmit_SameTicketIsSerialized(t *testing.T) {
	codec := testCodec(t)
	c := NewCoordinator(NewLocalLocker(), codec, Config{LockTimeout: 5 * time.Second})

	payload, err := codec.Encode(uuid.New(), 1, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Submit(context.Background(), 1, payload, func(context.Context) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
}

func TestSubmit_DifferentTicketsRunInParallel(t *testing.T) {
	codec := testCodec(t)
	c := NewCoordinator(NewLocalLocker(), codec, Config{LockTimeout: time.Second})

	p1, err := codec.Encode(uuid.New(), 1, time.Now())
	require.NoError(t, err)
	p2, err := codec.Encode(uuid.New(), 1, time.Now())
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = c.Submit(context.Background(), 1, p1, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), 1, p2, func(context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("scan of another ticket was blocked")
	}
	close(release)
}

func TestSubmit_TimeoutIsBusy(t *testing.T) {
	c := NewCoordinator(NewLocalLocker(), nil, Config{LockTimeout: 30 * time.Millisecond})

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = c.Submit(context.Background(), 1, "same", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ran := false
	err := c.Submit(context.Background(), 1, "same", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, ran)
}

func TestSubmit_EventSlotsBounded(t *testing.T) {
	c := NewCoordinator(NewLocalLocker(), nil, Config{MaxInFlightPerEvent: 1, LockTimeout: 30 * time.Millisecond})

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = c.Submit(context.Background(), 7, "a", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := c.Submit(context.Background(), 7, "b", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	err = c.Submit(context.Background(), 8, "b", func(context.Context) error { return nil })
	assert.NoError(t, err, "other events have their own slots")
}

func TestSubmit_CancelledBeforeAcquire(t *testing.T) {
	c := NewCoordinator(NewLocalLocker(), nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := c.Submit(ctx, 1, "x", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrBusy))
	assert.False(t, ran)
}

func TestSubmit_PropagatesFnError(t *testing.T) {
	c := NewCoordinator(NewLocalLocker(), nil, Config{})
	boom := errors.New("boom")

	err := c.Submit(context.Background(), 1, "x", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestKey(t *testing.T) {
	codec := testCodec(t)
	c := NewCoordinator(NewLocalLocker(), codec, Config{})

	id := uuid.New()
	p1, err := codec.Encode(id, 1, time.Unix(1, 0))
	require.NoError(t, err)
	p2, err := codec.Encode(id, 1, time.Unix(2, 0))
	require.NoError(t, err)

	assert.Equal(t, "ticket:"+id.String(), c.Key(p1))
	assert.Equal(t, c.Key(p1), c.Key(p2), "re-issued credentials share the ticket section")

	assert.Equal(t, c.Key("garbage"), c.Key("garbage"))
	assert.NotEqual(t, c.Key("garbage"), c.Key("other"))
	assert.Contains(t, c.Key("garbage"), "payload:")
}
