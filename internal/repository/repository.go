package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkin/internal/domain"
)

// Tickets is the authoritative record of ticket status. TryTransition is the
// only compare-and-set primitive; it must be linearizable per ticket.
type Tickets interface {
	Create(ctx context.Context, t *domain.Ticket) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	TryTransition(ctx context.Context, id uuid.UUID, from, to domain.TicketStatus) (bool, error)
	// Cancel moves a ticket to cancelled and also returns the status it held
	// before, so a refunded admission can give its slot back.
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Ticket, domain.TicketStatus, error)
	Counts(ctx context.Context, eventID int64) (domain.TicketCounts, error)
}

// CheckIns is the append-only journal of scan attempts.
type CheckIns interface {
	Append(ctx context.Context, rec *domain.CheckInRecord) error
	ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckInRecord, error)
	CountByOutcome(ctx context.Context, eventID int64, outcome domain.Outcome) (int64, error)
}

// Windows holds the check-in window of each event and the admission slots
// taken from its capacity.
type Windows interface {
	Open(ctx context.Context, w *domain.CheckInWindow) error
	Get(ctx context.Context, eventID int64) (*domain.CheckInWindow, error)
	// Claim takes one slot. It reports false, changing nothing, when the
	// window is full or missing.
	Claim(ctx context.Context, eventID int64) (bool, error)
	// Release gives one slot back. It never takes the count below zero.
	Release(ctx context.Context, eventID int64) error
}

// Store groups the repositories. InTx runs fn with a Store whose
// repositories share one transaction; fn's error rolls it back.
type Store interface {
	Tickets() Tickets
	CheckIns() CheckIns
	Windows() Windows
	InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Store) error) error
}

type IsoLevel int

const (
	ReadCommitted IsoLevel = iota
	Serializable
)

type TxOptions struct {
	IsoLevel IsoLevel
}
