package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
)

type CheckInRepo struct {
	s  *Store
	tx *txStore
}

func (r *CheckInRepo) Append(ctx context.Context, rec *domain.CheckInRecord) error {
	const op = "memory.CheckInRepo.Append"

	defer enter(r.s, r.tx)()

	for i := range r.s.records {
		if r.s.records[i].ID == rec.ID {
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
	}

	cp := *rec
	if rec.TicketID != nil {
		id := *rec.TicketID
		cp.TicketID = &id
	}

	n := len(r.s.records)
	r.s.records = append(r.s.records, cp)

	onRollback(r.tx, func() { r.s.records = r.s.records[:n] })

	return nil
}

func (r *CheckInRepo) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckInRecord, error) {
	defer enter(r.s, r.tx)()

	var out []domain.CheckInRecord
	for _, rec := range r.s.records {
		if rec.TicketID != nil && *rec.TicketID == ticketID {
			out = append(out, rec)
		}
	}

	return out, nil
}

func (r *CheckInRepo) CountByOutcome(ctx context.Context, eventID int64, outcome domain.Outcome) (int64, error) {
	defer enter(r.s, r.tx)()

	var n int64
	for _, rec := range r.s.records {
		if rec.EventID == eventID && rec.Outcome == outcome {
			n++
		}
	}

	return n, nil
}
