package postgresrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-checkin/internal/domain"
)

type CheckInRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CheckInRepo) With(db DB) *CheckInRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CheckInRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *CheckInRepo) Append(ctx context.Context, rec *domain.CheckInRecord) error {
	const op = "postgresrepo.CheckInRepo.Append"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO checkin_records(id, event_id, ticket_id, scanned_by,
		                             scanned_at, outcome, reason, payload_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.EventID, rec.TicketID, rec.ScannedBy,
		rec.Timestamp, string(rec.Outcome), string(rec.Reason), rec.PayloadHash,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// ListByTicket returns the audit trail of a ticket, oldest first.
func (r *CheckInRepo) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckInRecord, error) {
	const op = "postgresrepo.CheckInRepo.ListByTicket"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, ticket_id, scanned_by, scanned_at, outcome, reason, payload_hash
		 FROM checkin_records
		 WHERE ticket_id = $1
		 ORDER BY scanned_at, id`,
		ticketID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.CheckInRecord
	for rows.Next() {
		var (
			rec             domain.CheckInRecord
			outcome, reason string
		)

		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.TicketID,
			&rec.ScannedBy,
			&rec.Timestamp,
			&outcome,
			&reason,
			&rec.PayloadHash,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		if rec.Outcome, err = domain.ParseOutcome(outcome); err != nil {
			return nil, fmt.Errorf("%s: record %s: %w", op, rec.ID, err)
		}
		rec.Reason = domain.Reason(reason)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *CheckInRepo) CountByOutcome(ctx context.Context, eventID int64, outcome domain.Outcome) (int64, error) {
	const op = "postgresrepo.CheckInRepo.CountByOutcome"

	db := r.handle()

	var n int64
	if err := db.QueryRow(ctx,
		`SELECT count(*) FROM checkin_records WHERE event_id = $1 AND outcome = $2`,
		eventID, string(outcome),
	).Scan(&n); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}
