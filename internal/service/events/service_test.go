package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository/memory"
	"github.com/kirinyoku/tix-checkin/internal/service/metrics"
)

func TestOpenCheckIn(t *testing.T) {
	store := memory.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	counter := metrics.NewMemoryCounter()
	m := metrics.New(store, counter, nil, log, metrics.Config{})
	svc := New(store, m, log)
	ctx := context.Background()

	w, err := svc.OpenCheckIn(ctx, 10, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), w.Capacity)
	assert.False(t, w.OpenedAt.IsZero())

	_, seeded, err := counter.Get(ctx, 10)
	require.NoError(t, err)
	assert.True(t, seeded)

	_, err = svc.OpenCheckIn(ctx, 10, 500)
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	got, err := svc.Window(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Capacity, "capacity is fixed once open")

	snap, err := m.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(250), snap.RemainingSpots)
}

func TestOpenCheckIn_InvalidCapacity(t *testing.T) {
	store := memory.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, metrics.New(store, metrics.NewMemoryCounter(), nil, log, metrics.Config{}), log)

	for _, c := range []int64{0, -5} {
		_, err := svc.OpenCheckIn(context.Background(), 1, c)
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	}

	_, err := svc.Window(context.Background(), 1)
	assert.ErrorIs(t, err, ErrWindowNotFound)
}

func TestOpenCheckIn_CapacityMustCoverIssuedTickets(t *testing.T) {
	store := memory.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	counter := metrics.NewMemoryCounter()
	svc := New(store, metrics.New(store, counter, nil, log, metrics.Config{}), log)
	ctx := context.Background()

	statuses := []domain.TicketStatus{
		domain.TicketValid, domain.TicketValid, domain.TicketValid,
		domain.TicketUsed, domain.TicketCancelled,
	}
	for i, st := range statuses {
		require.NoError(t, store.Tickets().Create(ctx, &domain.Ticket{
			ID: uuid.New(), EventID: 7, TicketCode: fmt.Sprintf("CAP0000%d", i), Status: st, IssuedAt: time.Now(),
		}))
	}

	_, err := svc.OpenCheckIn(ctx, 7, 3)
	assert.ErrorIs(t, err, ErrCapacityTooSmall)

	_, err = svc.Window(ctx, 7)
	assert.ErrorIs(t, err, ErrWindowNotFound)

	w, err := svc.OpenCheckIn(ctx, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.CheckedIn, "used tickets hold their slots")

	n, seeded, err := counter.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Equal(t, int64(1), n)
}
