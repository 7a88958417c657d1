package postgresrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
)

const ticketColumns = `id, event_id, user_id, ticket_code, qr_payload, attendee_name,
	status, issued_at, used_at, cancelled_at, updated_at`

const qualifiedTicketColumns = `t.id, t.event_id, t.user_id, t.ticket_code, t.qr_payload, t.attendee_name,
	t.status, t.issued_at, t.used_at, t.cancelled_at, t.updated_at`

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *TicketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	const op = "postgresrepo.TicketRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO tickets(id, event_id, user_id, ticket_code, qr_payload,
		                     attendee_name, status, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING updated_at`,
		t.ID, t.EventID, t.UserID, t.TicketCode, t.QRPayload,
		t.AttendeeName, string(t.Status), t.IssuedAt,
	).Scan(&t.UpdatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Get retrieves a ticket by its ID.
//
// Returns repository.ErrNotFound if the ticket does not exist.
func (r *TicketRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.Get"

	db := r.handle()

	t, err := scanTicket(db.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// TryTransition moves the ticket from one status to another in a single
// conditional UPDATE. Concurrent callers with the same precondition are
// serialized by the row lock; only the first one sees a row affected.
func (r *TicketRepo) TryTransition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TicketStatus,
) (bool, error) {
	const op = "postgresrepo.TicketRepo.TryTransition"

	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%s: %s -> %s: %w", op, from, to, repository.ErrInvalidTransition)
	}

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE tickets
		 SET status       = $3::text,
		     used_at      = CASE WHEN $3::text = 'used' THEN now() ELSE used_at END,
		     cancelled_at = CASE WHEN $3::text = 'cancelled' THEN now() ELSE cancelled_at END,
		     updated_at   = now()
		 WHERE id = $1 AND status = $2::text`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// Cancel forces a ticket into the cancelled state and returns the status it
// left. The prior status is read under the row lock, so a concurrent
// admission is either fully before or fully after the cancellation.
func (r *TicketRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.Ticket, domain.TicketStatus, error) {
	const op = "postgresrepo.TicketRepo.Cancel"

	db := r.handle()

	var (
		t    domain.Ticket
		from string
	)
	err := db.QueryRow(ctx,
		`WITH prev AS (
		 	SELECT id, status FROM tickets WHERE id = $1 FOR UPDATE
		 )
		 UPDATE tickets AS t
		 SET status = 'cancelled', cancelled_at = now(), updated_at = now()
		 FROM prev
		 WHERE t.id = prev.id AND prev.status <> 'cancelled'
		 RETURNING prev.status, `+qualifiedTicketColumns,
		id,
	).Scan(append([]any{&from}, ticketDest(&t)...)...)
	if err == nil {
		return &t, domain.TicketStatus(from), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", wrapDBErr(op, err)
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return cur, cur.Status, nil
}

func (r *TicketRepo) Counts(ctx context.Context, eventID int64) (domain.TicketCounts, error) {
	const op = "postgresrepo.TicketRepo.Counts"

	db := r.handle()

	var c domain.TicketCounts
	err := db.QueryRow(ctx,
		`SELECT
		 	COALESCE(SUM(CASE WHEN status = 'valid' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN status = 'used' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0)
		 FROM tickets
		 WHERE event_id = $1`,
		eventID,
	).Scan(&c.Valid, &c.Used, &c.Cancelled)
	if err != nil {
		return domain.TicketCounts{}, wrapDBErr(op, err)
	}

	return c, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := row.Scan(ticketDest(&t)...); err != nil {
		return nil, err
	}
	return &t, nil
}

// ticketDest lists scan targets in ticketColumns order. Status is scanned
// through a string adapter.
func ticketDest(t *domain.Ticket) []any {
	return []any{
		&t.ID,
		&t.EventID,
		&t.UserID,
		&t.TicketCode,
		&t.QRPayload,
		&t.AttendeeName,
		(*string)(&t.Status),
		&t.IssuedAt,
		&t.UsedAt,
		&t.CancelledAt,
		&t.UpdatedAt,
	}
}
