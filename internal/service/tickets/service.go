// Package tickets is the issuance and cancellation entry point used by the
// sales and refund collaborators.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/kirinyoku/tix-checkin/internal/credential"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	"github.com/kirinyoku/tix-checkin/internal/uow"
)

const (
	maxCodeAttempts = 5

	DefaultQRSize = 256
	MaxQRSize     = 1024
)

// Aggregator is told when issuance or refunds move an event's figures.
// Invalidate drops cached figures on every instance; OnRelease takes one
// refunded admission off the checked-in total.
type Aggregator interface {
	Invalidate(ctx context.Context, eventID int64)
	OnRelease(ctx context.Context, eventID int64)
}

type Service struct {
	store       repository.Store
	uow         *uow.UoW
	codec       *credential.Codec
	aggregator  Aggregator
	log         *slog.Logger
	now         func() time.Time
}

func New(store repository.Store, codec *credential.Codec, aggregator  Aggregator, log *slog.Logger) *Service {
	return &Service{
		store:       store,
		uow:         uow.NewUoW(store),
		codec:       codec,
		aggregator:  aggregator,
		log:         log,
		now:         time.Now,
	}
}

// Issue mints a valid ticket with a signed credential.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID, userID: owner of the ticket.
//   - attendeeName: optional display name shown at the gate.
//
// Returns:
//   - *domain.Ticket: the stored ticket, QRPayload included.
//   - error: tickets.ErrCapacityExhausted if the event's check-in window is
//     open and valid plus used tickets already reach its capacity.
func (s *Service) Issue(ctx context.Context, eventID, userID int64, attendeeName string) (*domain.Ticket, error) {
	const op = "service.tickets.Issue"

	for range maxCodeAttempts {
		t, err := s.issueOnce(ctx, eventID, userID, attendeeName)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return t, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrCodeExhausted)
}

func (s *Service) issueOnce(ctx context.Context, eventID, userID int64, attendeeName string) (*domain.Ticket, error) {
	code, err := newTicketCode()
	if err != nil {
		return nil, err
	}

	t := &domain.Ticket{
		ID:           uuid.New(),
		EventID:      eventID,
		UserID:       userID,
		TicketCode:   code,
		AttendeeName: attendeeName,
		Status:       domain.TicketValid,
		IssuedAt:     s.now().UTC().Truncate(time.Second),
	}

	t.QRPayload, err = s.codec.Encode(t.ID, t.EventID, t.IssuedAt)
	if err != nil {
		return nil, err
	}

	err = s.uow.DoWithOpts(ctx, repository.TxOptions{IsoLevel: repository.Serializable}, func(
		ctx context.Context,
		tx repository.Store,
		after func(uow.AfterCommit),
	) error {
		w, err := tx.Windows().Get(ctx, eventID)
		switch {
		case err == nil:
			counts, err := tx.Tickets().Counts(ctx, eventID)
			if err != nil {
				return err
			}
			if counts.Expected() >= w.Capacity {
				return ErrCapacityExhausted
			}
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if err := tx.Tickets().Create(ctx, t); err != nil {
			return err
		}

		after(func(ctx context.Context) { s.aggregator.Invalidate(ctx, eventID) })

		return nil
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Cancel moves a ticket to cancelled from any state. Cancelling twice is a
// no-op that returns the ticket. Refunding an admitted ticket gives its
// capacity slot back and lowers the checked-in total.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "service.tickets.Cancel"

	var t *domain.Ticket
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Store, after func(uow.AfterCommit)) error {
		var (
			from domain.TicketStatus
			err  error
		)
		t, from, err = tx.Tickets().Cancel(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}
		if from == domain.TicketCancelled {
			return nil
		}

		eventID := t.EventID
		released := from == domain.TicketUsed
		if released {
			if err := tx.Windows().Release(ctx, eventID); err != nil {
				return err
			}
		}

		after(func(ctx context.Context) {
			if released {
				s.aggregator.OnRelease(ctx, eventID)
			}
			s.aggregator.Invalidate(ctx, eventID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("ticket cancelled", slog.String("ticket_id", id.String()), slog.Int64("event_id", t.EventID))

	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "service.tickets.Get"

	t, err := s.store.Tickets().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}

// QRCodePNG renders the ticket's credential as a PNG of size x size pixels.
// size is clamped to [64, MaxQRSize]; 0 selects DefaultQRSize.
func (s *Service) QRCodePNG(ctx context.Context, id uuid.UUID, size int) ([]byte, error) {
	const op = "service.tickets.QRCodePNG"

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case size == 0:
		size = DefaultQRSize
	case size < 64:
		size = 64
	case size > MaxQRSize:
		size = MaxQRSize
	}

	png, err := qrcode.Encode(t.QRPayload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return png, nil
}
