package domain

import "errors"

var (
	// ErrMalformedCandidate marks input that violates a candidate precondition.
	ErrMalformedCandidate = errors.New("malformed candidate")
	// ErrReservedDesignator is returned for numbers in the reserved 70-89 range.
	ErrReservedDesignator = errors.New("reserved designator")
	// ErrEmptyBatch is returned when a batch carries no fixes.
	ErrEmptyBatch = errors.New("empty observation batch")
	// ErrUnknownRegion is returned by region lookups that find nothing.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrEntityNotFound is returned when a write targets a storm that does not exist.
	ErrEntityNotFound = errors.New("storm not found")
)
