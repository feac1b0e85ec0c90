package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
)

// PromSink records booking decisions and queue transitions in Prometheus
// metrics.
type PromSink struct {
	reservations *prometheus.CounterVec
	queueEvents  *prometheus.CounterVec
	waiting      *prometheus.GaugeVec
	serviceTime  *prometheus.HistogramVec
	cleaned      prometheus.Counter
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.reservations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeslot_reservations_total",
		Help: "Reservation decisions by station and outcome",
	}, []string{"station_id", "outcome"})); err != nil {
		return nil, err
	}
	if s.queueEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeslot_queue_events_total",
		Help: "Walk-up queue transitions by station and type",
	}, []string{"station_id", "type"})); err != nil {
		return nil, err
	}
	if s.waiting, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chargeslot_queue_waiting",
		Help: "Entries waiting at a station after the last join or promotion",
	}, []string{"station_id"})); err != nil {
		return nil, err
	}
	if s.serviceTime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chargeslot_service_time_seconds",
		Help:    "Turn length granted on promotion",
		Buckets: prometheus.ExponentialBuckets(60, 2, 8),
	}, []string{"station_id"})); err != nil {
		return nil, err
	}
	if s.cleaned, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chargeslot_queue_cleanup_removed_total",
		Help: "Completed queue entries removed by cleanup",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordReservation counts the decision.
func (s *PromSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	s.reservations.WithLabelValues(ev.StationID, string(ev.Outcome)).Inc()
	return nil
}

// RecordQueueEvent counts the transition and tracks queue length and turn
// length.
func (s *PromSink) RecordQueueEvent(ev model.QueueEvent) error {
	station := ev.Entry.StationID
	s.queueEvents.WithLabelValues(station, string(ev.Type)).Inc()
	switch ev.Type {
	case model.QueueEventJoined, model.QueueEventPromoted:
		s.waiting.WithLabelValues(station).Set(float64(ev.Waiting))
	}
	if ev.Type == model.QueueEventPromoted {
		s.serviceTime.WithLabelValues(station).Observe(ev.ServiceTime.Seconds())
	}
	return nil
}

// RecordCleanup adds the number of purged entries.
func (s *PromSink) RecordCleanup(removed int, _ time.Time) error {
	s.cleaned.Add(float64(removed))
	return nil
}
