package uow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	"github.com/kirinyoku/tix-checkin/internal/repository/memory"
)

func TestDo_RunsHooksAfterCommit(t *testing.T) {
	store := memory.NewStore()
	u := NewUoW(store)
	ctx := context.Background()

	tk := &domain.Ticket{ID: uuid.New(), EventID: 1, TicketCode: "C0DE0001", Status: domain.TicketValid, IssuedAt: time.Now()}

	var order []string
	err := u.Do(ctx, func(ctx context.Context, tx repository.Store, after func(AfterCommit)) error {
		after(func(ctx context.Context) {
			_, err := store.Tickets().Get(ctx, tk.ID)
			assert.NoError(t, err, "hook sees committed state")
			order = append(order, "first")
		})
		after(func(context.Context) { order = append(order, "second") })
		return tx.Tickets().Create(ctx, tk)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDo_SkipsHooksOnRollback(t *testing.T) {
	store := memory.NewStore()
	u := NewUoW(store)
	ctx := context.Background()

	tk := &domain.Ticket{ID: uuid.New(), EventID: 1, TicketCode: "C0DE0002", Status: domain.TicketValid, IssuedAt: time.Now()}

	boom := errors.New("boom")
	ran := false
	err := u.DoWithOpts(ctx, repository.TxOptions{IsoLevel: repository.Serializable},
		func(ctx context.Context, tx repository.Store, after func(AfterCommit)) error {
			after(func(context.Context) { ran = true })
			if err := tx.Tickets().Create(ctx, tk); err != nil {
				return err
			}
			return boom
		})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	_, err = store.Tickets().Get(ctx, tk.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// retryStore re-runs the callback once, like a serialization retry.
type retryStore struct {
	repository.Store
}

func (s retryStore) InTx(ctx context.Context, opts repository.TxOptions, fn func(context.Context, repository.Store) error) error {
	_ = s.Store.InTx(ctx, opts, func(ctx context.Context, tx repository.Store) error {
		_ = fn(ctx, tx)
		return errors.New("serialization failure")
	})
	return s.Store.InTx(ctx, opts, fn)
}

func TestDo_DiscardsHooksOfRetriedAttempts(t *testing.T) {
	u := NewUoW(retryStore{Store: memory.NewStore()})

	calls := 0
	err := u.Do(context.Background(), func(_ context.Context, _ repository.Store, after func(AfterCommit)) error {
		after(func(context.Context) { calls++ })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
