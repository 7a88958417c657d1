package memory

import (
	"context"
	"fmt"

	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
)

type WindowRepo struct {
	s  *Store
	tx *txStore
}

func (r *WindowRepo) Open(ctx context.Context, w *domain.CheckInWindow) error {
	const op = "memory.WindowRepo.Open"

	defer enter(r.s, r.tx)()

	if _, ok := r.s.windows[w.EventID]; ok {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}

	cp := *w
	if cp.OpenedAt.IsZero() {
		cp.OpenedAt = r.s.now()
	}
	r.s.windows[w.EventID] = &cp

	onRollback(r.tx, func() { delete(r.s.windows, w.EventID) })

	return nil
}

func (r *WindowRepo) Get(ctx context.Context, eventID int64) (*domain.CheckInWindow, error) {
	const op = "memory.WindowRepo.Get"

	defer enter(r.s, r.tx)()

	w, ok := r.s.windows[eventID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	cp := *w
	return &cp, nil
}

func (r *WindowRepo) Claim(ctx context.Context, eventID int64) (bool, error) {
	defer enter(r.s, r.tx)()

	w, ok := r.s.windows[eventID]
	if !ok || w.CheckedIn >= w.Capacity {
		return false, nil
	}

	w.CheckedIn++
	onRollback(r.tx, func() { w.CheckedIn-- })

	return true, nil
}

func (r *WindowRepo) Release(ctx context.Context, eventID int64) error {
	defer enter(r.s, r.tx)()

	w, ok := r.s.windows[eventID]
	if !ok || w.CheckedIn == 0 {
		return nil
	}

	w.CheckedIn--
	onRollback(r.tx, func() { w.CheckedIn++ })

	return nil
}
