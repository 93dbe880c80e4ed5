package service

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrNotStarted is returned by operations invoked before Start.
	ErrNotStarted = errors.New("service not started")

	// ErrStaleEvaluation is returned when an evaluation targets a date
	// earlier than the user's latest snapshot. Momentum advances
	// monotonically; backdated recomputation is rejected.
	ErrStaleEvaluation = errors.New("evaluation older than latest snapshot")

	// ErrInvalidEvent is returned for events missing required fields.
	ErrInvalidEvent = errors.New("invalid event")
)
