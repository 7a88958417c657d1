package tickets

import "errors"

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrCapacityExhausted = errors.New("event check-in capacity exhausted")
	ErrCodeExhausted     = errors.New("could not allocate a unique ticket code")
)
