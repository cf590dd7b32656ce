package domain

import "errors"

var (
	// ErrRangeTooWide is returned when a log fetch requests a block span wider
	// than the configured maximum
	ErrRangeTooWide = errors.New("block range exceeds configured maximum")

	// ErrPoolNotFound is returned when an event references a pool the store
	// does not track
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPositionNotFound is returned when a locked position is not found
	ErrPositionNotFound = errors.New("locked position not found")

	// ErrUnknownEventSignature is returned when a log's topic0 matches no
	// tracked event
	ErrUnknownEventSignature = errors.New("unknown event signature")
)
