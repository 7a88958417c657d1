// Package events opens check-in for an event and fixes its capacity.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	"github.com/kirinyoku/tix-checkin/internal/uow"
)

// Seeder prepares per-event metrics once check-in opens.
type Seeder interface {
	Seed(ctx context.Context, eventID, checkedIn int64) error
	Invalidate(ctx context.Context, eventID int64)
}

type Service struct {
	store  repository.Store
	uow    *uow.UoW
	seeder Seeder
	log    *slog.Logger
}

func New(store repository.Store, seeder Seeder, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		uow:    uow.NewUoW(store),
		seeder: seeder,
		log:    log,
	}
}

// OpenCheckIn opens the check-in window of an event with a fixed capacity.
// Tickets already issued for the event must fit in it.
//
// Returns:
//   - *domain.CheckInWindow: the opened window.
//   - error: events.ErrInvalidCapacity if capacity <= 0,
//     events.ErrCapacityTooSmall if valid plus used tickets exceed capacity,
//     events.ErrAlreadyOpen on a second call for the same event.
func (s *Service) OpenCheckIn(ctx context.Context, eventID, capacity int64) (*domain.CheckInWindow, error) {
	const op = "service.events.OpenCheckIn"

	if capacity <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCapacity)
	}

	w := &domain.CheckInWindow{EventID: eventID, Capacity: capacity}

	err := s.uow.DoWithOpts(ctx, repository.TxOptions{IsoLevel: repository.Serializable}, func(
		ctx context.Context,
		tx repository.Store,
		after func(uow.AfterCommit),
	) error {
		counts, err := tx.Tickets().Counts(ctx, eventID)
		if err != nil {
			return err
		}
		if counts.Expected() > capacity {
			return fmt.Errorf("%w: %d issued, capacity %d", ErrCapacityTooSmall, counts.Expected(), capacity)
		}
		w.CheckedIn = counts.Used

		if err := tx.Windows().Open(ctx, w); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyOpen
			}
			return err
		}

		// No admission can commit before the window does, so the seed
		// precedes every delta the counter will see.
		if err := s.seeder.Seed(ctx, eventID, w.CheckedIn); err != nil {
			s.log.Warn("seed check-in metrics failed",
				slog.Int64("event_id", eventID), slog.Any("err", err))
		}

		after(func(ctx context.Context) { s.seeder.Invalidate(ctx, eventID) })

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("check-in opened", slog.Int64("event_id", eventID), slog.Int64("capacity", capacity))

	return w, nil
}

func (s *Service) Window(ctx context.Context, eventID int64) (*domain.CheckInWindow, error) {
	const op = "service.events.Window"

	w, err := s.store.Windows().Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrWindowNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return w, nil
}
