package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a station, reservation, requester or
	// queue entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks a malformed request.
	ErrValidation = errors.New("validation failed")
	// ErrUnverified is returned when a station has not been approved yet.
	ErrUnverified = errors.New("station not verified")
	// ErrConflict is returned when a station has no free slot for an interval.
	ErrConflict = errors.New("capacity exceeded")
	// ErrUnauthenticated is returned when the caller cannot be identified.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ConflictError reports a capacity rejection together with the earliest
// instant at which one of the overlapping reservations ends.
type ConflictError struct {
	StationID    string
	EarliestFree time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("station %s: %v, earliest free at %s",
		e.StationID, ErrConflict, e.EarliestFree.Format(time.RFC3339))
}

// Unwrap allows errors.Is(err, ErrConflict).
func (e *ConflictError) Unwrap() error { return ErrConflict }

// Error codes exposed to callers.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeValidation      = "VALIDATION"
	CodeUnverified      = "UNVERIFIED"
	CodeConflict        = "CONFLICT"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInternal        = "INTERNAL"
)

// Code maps an error to its external code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnverified):
		return CodeUnverified
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	default:
		return CodeInternal
	}
}
