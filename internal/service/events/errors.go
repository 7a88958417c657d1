package events

import "errors"

var (
	ErrAlreadyOpen     = errors.New("check-in already open for event")
	ErrInvalidCapacity = errors.New("capacity must be positive")
	// ErrCapacityTooSmall means the event already has more valid or used
	// tickets than the requested capacity.
	ErrCapacityTooSmall = errors.New("capacity below issued tickets")
	ErrWindowNotFound  = errors.New("check-in window not found")
)
