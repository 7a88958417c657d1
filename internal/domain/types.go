package domain

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
)

// CanTransition reports whether a ticket may move from one status to another.
// Admission only ever moves valid->used; refunds move valid or used to cancelled.
func CanTransition(from, to TicketStatus) bool {
	switch from {
	case TicketValid:
		return to == TicketUsed || to == TicketCancelled
	case TicketUsed:
		return to == TicketCancelled
	default:
		return false
	}
}

type Ticket struct {
	ID           uuid.UUID
	EventID      int64
	UserID       int64
	TicketCode   string
	QRPayload    string
	AttendeeName string
	Status       TicketStatus
	IssuedAt     time.Time
	UsedAt       *time.Time
	CancelledAt  *time.Time
	UpdatedAt    time.Time
}

type TicketCounts struct {
	Valid     int64
	Used      int64
	Cancelled int64
}

// Expected is the number of tickets that may still show up or already did.
func (c TicketCounts) Expected() int64 {
	return c.Valid + c.Used
}

type CheckInRecord struct {
	ID          uuid.UUID
	EventID     int64
	TicketID    *uuid.UUID // nil when the credential could not be resolved
	ScannedBy   string
	Timestamp   time.Time
	Outcome     Outcome
	Reason      Reason
	PayloadHash string
}

// CheckInWindow is the admission state of an event. CheckedIn is the number
// of slots held by used tickets and never exceeds Capacity.
type CheckInWindow struct {
	EventID   int64
	Capacity  int64
	CheckedIn int64
	OpenedAt  time.Time
}

type CheckInMetrics struct {
	EventID                 int64   `json:"event_id"`
	TotalCheckedIn          int64   `json:"total_checked_in"`
	EventCapacity           int64   `json:"event_capacity"`
	RemainingSpots          int64   `json:"remaining_spots"`
	EventCapacityPercentage float64 `json:"event_capacity_percentage"`
	TotalExpected           int64   `json:"total_expected"`
}
