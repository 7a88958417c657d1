package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-checkin/internal/domain"
)

type WindowRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *WindowRepo) With(db DB) *WindowRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *WindowRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Open inserts the check-in window of an event. A second call for the same
// event fails with repository.ErrConflict.
func (r *WindowRepo) Open(ctx context.Context, w *domain.CheckInWindow) error {
	const op = "postgresrepo.WindowRepo.Open"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO checkin_windows(event_id, capacity, checked_in)
		 VALUES ($1, $2, $3)
		 RETURNING opened_at`,
		w.EventID, w.Capacity, w.CheckedIn,
	).Scan(&w.OpenedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *WindowRepo) Get(ctx context.Context, eventID int64) (*domain.CheckInWindow, error) {
	const op = "postgresrepo.WindowRepo.Get"

	db := r.handle()

	var w domain.CheckInWindow
	if err := db.QueryRow(ctx,
		`SELECT event_id, capacity, checked_in, opened_at FROM checkin_windows WHERE event_id = $1`,
		eventID,
	).Scan(&w.EventID, &w.Capacity, &w.CheckedIn, &w.OpenedAt); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &w, nil
}

// Claim takes a slot with a conditional UPDATE, so concurrent admissions of
// one event queue on the window row and never overshoot its capacity.
func (r *WindowRepo) Claim(ctx context.Context, eventID int64) (bool, error) {
	const op = "postgresrepo.WindowRepo.Claim"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE checkin_windows
		 SET checked_in = checked_in + 1
		 WHERE event_id = $1 AND checked_in < capacity`,
		eventID,
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *WindowRepo) Release(ctx context.Context, eventID int64) error {
	const op = "postgresrepo.WindowRepo.Release"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE checkin_windows
		 SET checked_in = checked_in - 1
		 WHERE event_id = $1 AND checked_in > 0`,
		eventID,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
