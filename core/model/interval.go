package model

import (
	"fmt"
	"time"
)

// Interval is the half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate ensures both bounds are set and Start precedes End.
func (i Interval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() {
		return fmt.Errorf("%w: interval start and end are required", ErrValidation)
	}
	if !i.Start.Before(i.End) {
		return fmt.Errorf("%w: interval start must precede end", ErrValidation)
	}
	return nil
}

// Overlaps reports whether i and o share at least one instant.
// [a,b) and [c,d) overlap iff a < d && b > c.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}
