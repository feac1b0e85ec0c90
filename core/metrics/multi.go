package metrics

import (
	"errors"
	"time"

	"github.com/kilianp07/chargeslot/core/model"
)

// MultiSink fans out records to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordReservation forwards the event to every sink. A failing sink does
// not prevent the others from recording; errors are joined.
func (m *MultiSink) RecordReservation(ev ReservationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordReservation(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordQueueEvent forwards queue transitions.
func (m *MultiSink) RecordQueueEvent(ev model.QueueEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordQueueEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordCleanup forwards cleanup passes to sinks supporting them.
func (m *MultiSink) RecordCleanup(removed int, at time.Time) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(CleanupRecorder); ok {
			if err := rec.RecordCleanup(removed, at); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
