package domain

import "fmt"

// Outcome is the classification of a single scan attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeDenied    Outcome = "denied"
	// OutcomeBusy is returned when the ticket's gate section could not be
	// acquired in time. It is never journaled.
	OutcomeBusy Outcome = "busy"
)

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeSuccess, OutcomeDuplicate, OutcomeInvalid, OutcomeDenied, OutcomeBusy:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Admitted reports whether the outcome let the holder in.
func (o Outcome) Admitted() bool {
	return o == OutcomeSuccess
}

// Journaled reports whether a check-in record is written for the outcome.
func (o Outcome) Journaled() bool {
	switch o {
	case OutcomeSuccess, OutcomeDuplicate, OutcomeInvalid, OutcomeDenied:
		return true
	case OutcomeBusy:
		return false
	default:
		return false
	}
}

// Retryable reports whether the gate should resubmit the same payload.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeBusy:
		return true
	case OutcomeSuccess, OutcomeDuplicate, OutcomeInvalid, OutcomeDenied:
		return false
	default:
		return false
	}
}

// Reason is a machine-readable detail attached to an outcome.
type Reason string

const (
	ReasonAdmitted      Reason = "admitted"
	ReasonBadCredential Reason = "bad_credential"
	ReasonWrongEvent    Reason = "wrong_event"
	ReasonUnknownTicket Reason = "unknown_ticket"
	ReasonCheckInClosed Reason = "checkin_not_open"
	ReasonCancelled     Reason = "cancelled"
	ReasonAlreadyUsed   Reason = "already_used"
	ReasonLostRace      Reason = "lost_race"
	ReasonCapacityFull  Reason = "capacity_reached"
	ReasonGateBusy      Reason = "gate_busy"
)
