// Package memory is an in-process implementation of the repository
// interfaces. A single mutex guards all state; transactions hold it for their
// whole duration and undo their writes on error, so they are serializable.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
)

type codeKey struct {
	eventID int64
	code    string
}

type Store struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*domain.Ticket
	codes   map[codeKey]uuid.UUID
	records []domain.CheckInRecord
	windows map[int64]*domain.CheckInWindow
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		tickets: make(map[uuid.UUID]*domain.Ticket),
		codes:   make(map[codeKey]uuid.UUID),
		windows: make(map[int64]*domain.CheckInWindow),
		now:     time.Now,
	}
}

func (s *Store) Tickets() repository.Tickets   { return &TicketRepo{s: s} }
func (s *Store) CheckIns() repository.CheckIns { return &CheckInRepo{s: s} }
func (s *Store) Windows() repository.Windows   { return &WindowRepo{s: s} }

func (s *Store) InTx(
	ctx context.Context,
	_ repository.TxOptions,
	fn func(ctx context.Context, tx repository.Store) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}

	return nil
}

// txStore is the view handed to InTx callbacks. Its repositories run with
// the store mutex already held and record undo steps.
type txStore struct {
	s    *Store
	undo []func()
}

func (t *txStore) Tickets() repository.Tickets   { return &TicketRepo{s: t.s, tx: t} }
func (t *txStore) CheckIns() repository.CheckIns { return &CheckInRepo{s: t.s, tx: t} }
func (t *txStore) Windows() repository.Windows   { return &WindowRepo{s: t.s, tx: t} }

// InTx on a transaction joins it.
func (t *txStore) InTx(
	ctx context.Context,
	_ repository.TxOptions,
	fn func(ctx context.Context, tx repository.Store) error,
) error {
	return fn(ctx, t)
}

func (t *txStore) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// enter locks the store unless the caller is inside a transaction.
func enter(s *Store, tx *txStore) func() {
	if tx != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func onRollback(tx *txStore, fn func()) {
	if tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func copyTicket(t *domain.Ticket) *domain.Ticket {
	cp := *t
	if t.UsedAt != nil {
		u := *t.UsedAt
		cp.UsedAt = &u
	}
	if t.CancelledAt != nil {
		c := *t.CancelledAt
		cp.CancelledAt = &c
	}
	return &cp
}
