package metrics

import (
	"time"

	"github.com/kilianp07/chargeslot/core/model"
)

// ReservationOutcome classifies a booking decision.
type ReservationOutcome string

const (
	OutcomeAccepted  ReservationOutcome = "accepted"
	OutcomeConflict  ReservationOutcome = "conflict"
	OutcomeCancelled ReservationOutcome = "cancelled"
)

// ReservationEvent is a booking decision to be recorded.
type ReservationEvent struct {
	StationID     string
	RequesterID   string
	ReservationID string
	Outcome       ReservationOutcome
	// Overlapping is the number of reservations overlapping the requested
	// interval at decision time.
	Overlapping int
	Capacity    int
	Time        time.Time
}

// Sink records booking and queue activity for observability purposes.
type Sink interface {
	RecordReservation(ev ReservationEvent) error
	RecordQueueEvent(ev model.QueueEvent) error
}

// CleanupRecorder is implemented by sinks able to record cleanup passes.
type CleanupRecorder interface {
	RecordCleanup(removed int, at time.Time) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordReservation(ReservationEvent) error { return nil }
func (NopSink) RecordQueueEvent(model.QueueEvent) error  { return nil }

// Ensure NopSink implements CleanupRecorder.
func (NopSink) RecordCleanup(int, time.Time) error { return nil }
