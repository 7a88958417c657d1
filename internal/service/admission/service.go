// Package admission decides the outcome of a gate scan and records it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/tix-checkin/internal/credential"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	"github.com/kirinyoku/tix-checkin/internal/uow"
)

type Scan struct {
	EventID   int64
	Payload   string
	ScannedBy string
}

// Verdict is the classified result of a scan. TicketID is nil when the
// payload could not be authenticated.
type Verdict struct {
	Outcome      domain.Outcome
	Reason       domain.Reason
	TicketID     *uuid.UUID
	AttendeeName string
	RecordID     uuid.UUID
	Timestamp    time.Time
}

type MetricsSink interface {
	OnAdmission(ctx context.Context, eventID int64)
}

type Publisher interface {
	PublishCheckIn(ctx context.Context, rec domain.CheckInRecord) error
}

type ChangeNotifier interface {
	PublishCheckInChanged(ctx context.Context, eventID int64) error
}

type Service struct {
	store     repository.Store
	uow       *uow.UoW
	codec     *credential.Codec
	metrics   MetricsSink
	publisher Publisher
	notifier  ChangeNotifier
	log       *slog.Logger
	now       func() time.Time
}

// New wires the engine. notifier may be nil when there is a single instance.
func New(
	store repository.Store,
	codec *credential.Codec,
	metrics MetricsSink,
	publisher Publisher,
	notifier ChangeNotifier,
	log *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		uow:       uow.NewUoW(store),
		codec:     codec,
		metrics:   metrics,
		publisher: publisher,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// Admit classifies a scan and journals the result.
//
// Parameters:
//   - ctx: request-scoped context. It is honored until the status transition
//     starts; from then on the work completes regardless.
//   - scan: gate event, raw payload and operator.
//
// Returns:
//   - Verdict: for every classified outcome, including rejections.
//   - error: admission.ErrStoreUnavailable on storage failure (retry with the
//     same payload), admission.ErrIntegrity on contradictory stored state, or
//     ctx.Err().
func (s *Service) Admit(ctx context.Context, scan Scan) (Verdict, error) {
	const op = "service.admission.Admit"

	hash := credential.PayloadHash(scan.Payload)

	claims, err := s.codec.DecodeForEvent(scan.Payload, scan.EventID)
	if err != nil {
		if errors.Is(err, credential.ErrEventMismatch) {
			return s.reject(ctx, scan, hash, &claims.TicketID, domain.OutcomeDenied, domain.ReasonWrongEvent)
		}
		return s.reject(ctx, scan, hash, nil, domain.OutcomeInvalid, domain.ReasonBadCredential)
	}

	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	ticket, err := s.store.Tickets().Get(ctx, claims.TicketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.reject(ctx, scan, hash, &claims.TicketID, domain.OutcomeDenied, domain.ReasonUnknownTicket)
		}
		return Verdict{}, storeErr(op, err)
	}

	if ticket.EventID != claims.EventID {
		s.log.Error("ticket event contradicts credential",
			slog.String("ticket_id", ticket.ID.String()),
			slog.Int64("ticket_event_id", ticket.EventID),
			slog.Int64("credential_event_id", claims.EventID),
		)
		return Verdict{}, fmt.Errorf("%s: ticket %s: %w", op, ticket.ID, ErrIntegrity)
	}

	if _, err := s.store.Windows().Get(ctx, scan.EventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.reject(ctx, scan, hash, &ticket.ID, domain.OutcomeDenied, domain.ReasonCheckInClosed)
		}
		return Verdict{}, storeErr(op, err)
	}

	switch ticket.Status {
	case domain.TicketCancelled:
		return s.reject(ctx, scan, hash, &ticket.ID, domain.OutcomeDenied, domain.ReasonCancelled)
	case domain.TicketUsed:
		return s.reject(ctx, scan, hash, &ticket.ID, domain.OutcomeDuplicate, domain.ReasonAlreadyUsed)
	case domain.TicketValid:
		return s.admit(ctx, scan, hash, ticket)
	default:
		s.log.Error("ticket has unknown status",
			slog.String("ticket_id", ticket.ID.String()),
			slog.String("status", string(ticket.Status)),
		)
		return Verdict{}, fmt.Errorf("%s: ticket %s status %q: %w", op, ticket.ID, ticket.Status, ErrIntegrity)
	}
}

// History returns every recorded scan of a ticket, oldest first.
func (s *Service) History(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckInRecord, error) {
	const op = "service.admission.History"

	if _, err := s.store.Tickets().Get(ctx, ticketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrTicketNotFound)
		}
		return nil, storeErr(op, err)
	}

	recs, err := s.store.CheckIns().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	return recs, nil
}

// errWindowFull rolls back an admission that found no free slot.
var errWindowFull = errors.New("check-in window full")

// admit performs valid -> used, takes a capacity slot and journals the
// outcome in one unit of work. Losing the transition to a concurrent scan is
// classified from the status the winner left behind. With no slot left the
// transition is undone and the scan is denied.
func (s *Service) admit(ctx context.Context, scan Scan, hash string, ticket *domain.Ticket) (Verdict, error) {
	const op = "service.admission.admit"

	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	ctx = context.WithoutCancel(ctx)

	rec := s.newRecord(scan, hash, &ticket.ID)

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Store, after func(uow.AfterCommit)) error {
		ok, err := tx.Tickets().TryTransition(ctx, ticket.ID, domain.TicketValid, domain.TicketUsed)
		if err != nil {
			return err
		}

		if ok {
			claimed, err := tx.Windows().Claim(ctx, scan.EventID)
			if err != nil {
				return err
			}
			if !claimed {
				return errWindowFull
			}
			rec.Outcome, rec.Reason = domain.OutcomeSuccess, domain.ReasonAdmitted
		} else {
			cur, err := tx.Tickets().Get(ctx, ticket.ID)
			if err != nil {
				return err
			}
			switch cur.Status {
			case domain.TicketUsed:
				rec.Outcome, rec.Reason = domain.OutcomeDuplicate, domain.ReasonLostRace
			case domain.TicketCancelled:
				rec.Outcome, rec.Reason = domain.OutcomeDenied, domain.ReasonCancelled
			default:
				return fmt.Errorf("ticket %s still %q after failed transition: %w", ticket.ID, cur.Status, ErrIntegrity)
			}
		}

		if err := tx.CheckIns().Append(ctx, &rec); err != nil {
			return err
		}

		after(func(ctx context.Context) { s.afterCommit(ctx, rec) })

		return nil
	})
	if err != nil {
		if errors.Is(err, errWindowFull) {
			return s.reject(ctx, scan, hash, &ticket.ID, domain.OutcomeDenied, domain.ReasonCapacityFull)
		}
		if errors.Is(err, ErrIntegrity) {
			s.log.Error("admission integrity failure", slog.Any("err", err))
			return Verdict{}, fmt.Errorf("%s: %w", op, err)
		}
		return Verdict{}, storeErr(op, err)
	}

	return s.verdict(rec, ticket), nil
}

// reject journals a non-admitting outcome outside any transaction.
func (s *Service) reject(
	ctx context.Context,
	scan Scan,
	hash string,
	ticketID *uuid.UUID,
	outcome domain.Outcome,
	reason domain.Reason,
) (Verdict, error) {
	const op = "service.admission.reject"

	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	rec := s.newRecord(scan, hash, ticketID)
	rec.Outcome, rec.Reason = outcome, reason

	if err := s.store.CheckIns().Append(ctx, &rec); err != nil {
		return Verdict{}, storeErr(op, err)
	}

	s.afterCommit(ctx, rec)

	return s.verdict(rec, nil), nil
}

func (s *Service) afterCommit(ctx context.Context, rec domain.CheckInRecord) {
	s.log.Debug("scan classified",
		slog.Int64("event_id", rec.EventID),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("reason", string(rec.Reason)),
		slog.String("record_id", rec.ID.String()),
		slog.String("scanned_by", rec.ScannedBy),
	)

	if rec.Outcome.Admitted() {
		s.metrics.OnAdmission(ctx, rec.EventID)

		if s.notifier != nil {
			if err := s.notifier.PublishCheckInChanged(ctx, rec.EventID); err != nil {
				s.log.Warn("publish checkin_changed failed",
					slog.Int64("event_id", rec.EventID), slog.Any("err", err))
			}
		}
	}

	if err := s.publisher.PublishCheckIn(ctx, rec); err != nil {
		s.log.Warn("publish check-in record failed",
			slog.String("record_id", rec.ID.String()), slog.Any("err", err))
	}
}

func (s *Service) newRecord(scan Scan, hash string, ticketID *uuid.UUID) domain.CheckInRecord {
	var tid *uuid.UUID
	if ticketID != nil {
		id := *ticketID
		tid = &id
	}

	return domain.CheckInRecord{
		ID:          uuid.New(),
		EventID:     scan.EventID,
		TicketID:    tid,
		ScannedBy:   scan.ScannedBy,
		Timestamp:   s.now().UTC(),
		PayloadHash: hash,
	}
}

func (s *Service) verdict(rec domain.CheckInRecord, ticket *domain.Ticket) Verdict {
	v := Verdict{
		Outcome:   rec.Outcome,
		Reason:    rec.Reason,
		TicketID:  rec.TicketID,
		RecordID:  rec.ID,
		Timestamp: rec.Timestamp,
	}

	if ticket != nil && rec.Outcome.Admitted() {
		v.AttendeeName = ticket.AttendeeName
	}

	return v
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
