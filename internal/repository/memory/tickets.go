package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
)

type TicketRepo struct {
	s  *Store
	tx *txStore
}

func (r *TicketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	const op = "memory.TicketRepo.Create"

	defer enter(r.s, r.tx)()

	if _, ok := r.s.tickets[t.ID]; ok {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}

	key := codeKey{eventID: t.EventID, code: t.TicketCode}
	if _, ok := r.s.codes[key]; ok {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}

	stored := copyTicket(t)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = r.s.now()
	}

	r.s.tickets[t.ID] = stored
	r.s.codes[key] = t.ID

	onRollback(r.tx, func() {
		delete(r.s.tickets, t.ID)
		delete(r.s.codes, key)
	})

	return nil
}

func (r *TicketRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "memory.TicketRepo.Get"

	defer enter(r.s, r.tx)()

	t, ok := r.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return copyTicket(t), nil
}

func (r *TicketRepo) TryTransition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TicketStatus,
) (bool, error) {
	const op = "memory.TicketRepo.TryTransition"

	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%s: %s -> %s: %w", op, from, to, repository.ErrInvalidTransition)
	}

	defer enter(r.s, r.tx)()

	t, ok := r.s.tickets[id]
	if !ok || t.Status != from {
		return false, nil
	}

	prev := copyTicket(t)
	now := r.s.now()

	t.Status = to
	t.UpdatedAt = now
	switch to {
	case domain.TicketUsed:
		t.UsedAt = &now
	case domain.TicketCancelled:
		t.CancelledAt = &now
	}

	onRollback(r.tx, func() { r.s.tickets[id] = prev })

	return true, nil
}

func (r *TicketRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.Ticket, domain.TicketStatus, error) {
	const op = "memory.TicketRepo.Cancel"

	defer enter(r.s, r.tx)()

	t, ok := r.s.tickets[id]
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	from := t.Status
	if from == domain.TicketCancelled {
		return copyTicket(t), from, nil
	}

	prev := copyTicket(t)
	now := r.s.now()

	t.Status = domain.TicketCancelled
	t.CancelledAt = &now
	t.UpdatedAt = now

	onRollback(r.tx, func() { r.s.tickets[id] = prev })

	return copyTicket(t), from, nil
}

func (r *TicketRepo) Counts(ctx context.Context, eventID int64) (domain.TicketCounts, error) {
	defer enter(r.s, r.tx)()

	var c domain.TicketCounts
	for _, t := range r.s.tickets {
		if t.EventID != eventID {
			continue
		}
		switch t.Status {
		case domain.TicketValid:
			c.Valid++
		case domain.TicketUsed:
			c.Used++
		case domain.TicketCancelled:
			c.Cancelled++
		}
	}

	return c, nil
}
