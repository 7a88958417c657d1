package admission

import "errors"

var (
	// ErrIntegrity means stored state contradicts an authentic credential.
	// It is never turned into an outcome and no record is written.
	ErrIntegrity = errors.New("ticket integrity violation")

	// ErrStoreUnavailable wraps storage failures. The scan may be retried
	// with the identical payload.
	ErrStoreUnavailable = errors.New("ticket store unavailable")

	ErrTicketNotFound = errors.New("ticket not found")
)
