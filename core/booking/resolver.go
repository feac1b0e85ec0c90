// Package booking admits pre-booked reservations against station capacity.
//
// A reservation is accepted only if, for the requested interval, fewer than
// Capacity existing reservations of the station overlap it. Check and insert
// run under the station's lock so concurrent requests cannot both take the
// last free slot.
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/logger"
	"github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/store"
	"github.com/kilianp07/chargeslot/internal/keylock"
)

// ReserveRequest describes a slot the requester wants to book.
type ReserveRequest struct {
	StationID     string
	RequesterID   string
	Interval      model.Interval
	PaymentAmount decimal.Decimal
	Remarks       string
}

// Availability is the occupancy of a station at one instant.
type Availability struct {
	StationID string    `json:"station_id"`
	At        time.Time `json:"at"`
	Capacity  int       `json:"capacity"`
	Reserved  int       `json:"reserved"`
	Available int       `json:"available"`
}

// Resolver is the booking conflict resolver.
type Resolver struct {
	directory    directory.Directory
	reservations store.ReservationStore
	locks        *keylock.Locker
	sink         metrics.Sink
	logger       logger.Logger

	now   func() time.Time
	newID func() string
}

// NewResolver builds a Resolver. A nil locks gets a private Locker and a nil
// sink records nothing.
func NewResolver(dir directory.Directory, reservations store.ReservationStore, locks *keylock.Locker, sink metrics.Sink, log logger.Logger) *Resolver {
	if locks == nil {
		locks = keylock.New()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Resolver{
		directory:    dir,
		reservations: reservations,
		locks:        locks,
		sink:         sink,
		logger:       log,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

func (r *Resolver) validate(req ReserveRequest) error {
	if req.StationID == "" {
		return fmt.Errorf("%w: station id is required", model.ErrValidation)
	}
	if req.RequesterID == "" {
		return fmt.Errorf("%w: requester id is required", model.ErrValidation)
	}
	if err := req.Interval.Validate(); err != nil {
		return err
	}
	if req.PaymentAmount.IsNegative() {
		return fmt.Errorf("%w: payment amount must not be negative", model.ErrValidation)
	}
	return nil
}

// station resolves a station that may accept reservations.
func (r *Resolver) station(ctx context.Context, id string) (model.Station, error) {
	st, err := r.directory.LookupStation(ctx, id)
	if err != nil {
		return model.Station{}, err
	}
	if !st.Verified {
		return model.Station{}, fmt.Errorf("station %s: %w", id, model.ErrUnverified)
	}
	if st.Capacity <= 0 {
		return model.Station{}, fmt.Errorf("%w: station %s has no capacity", model.ErrValidation, id)
	}
	return st, nil
}

// Reserve books req.Interval at req.StationID. When the station is full for
// any part of the interval it returns a *model.ConflictError whose
// EarliestFree is the soonest end among the overlapping reservations.
func (r *Resolver) Reserve(ctx context.Context, req ReserveRequest) (model.Reservation, error) {
	if err := r.validate(req); err != nil {
		return model.Reservation{}, err
	}
	st, err := r.station(ctx, req.StationID)
	if err != nil {
		return model.Reservation{}, err
	}

	unlock := r.locks.Lock(st.ID)
	defer unlock()

	overlap, err := r.reservations.OverlappingReservations(ctx, st.ID, req.Interval)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("load reservations of %s: %w", st.ID, err)
	}
	if len(overlap) >= st.Capacity {
		earliest := overlap[0].Interval.End
		for _, o := range overlap[1:] {
			if o.Interval.End.Before(earliest) {
				earliest = o.Interval.End
			}
		}
		r.record(metrics.ReservationEvent{
			StationID:   st.ID,
			RequesterID: req.RequesterID,
			Outcome:     metrics.OutcomeConflict,
			Overlapping: len(overlap),
			Capacity:    st.Capacity,
		})
		r.logger.Debugw("reservation rejected", map[string]any{
			"station_id":    st.ID,
			"requester_id":  req.RequesterID,
			"overlapping":   len(overlap),
			"earliest_free": earliest,
		})
		return model.Reservation{}, &model.ConflictError{StationID: st.ID, EarliestFree: earliest}
	}

	res := model.Reservation{
		ID:            r.newID(),
		StationID:     st.ID,
		RequesterID:   req.RequesterID,
		Interval:      req.Interval,
		PaymentAmount: req.PaymentAmount,
		Remarks:       req.Remarks,
		CreatedAt:     r.now(),
	}
	if err := r.reservations.CreateReservation(ctx, res); err != nil {
		return model.Reservation{}, fmt.Errorf("persist reservation: %w", err)
	}
	r.record(metrics.ReservationEvent{
		StationID:     st.ID,
		RequesterID:   req.RequesterID,
		ReservationID: res.ID,
		Outcome:       metrics.OutcomeAccepted,
		Overlapping:   len(overlap),
		Capacity:      st.Capacity,
	})
	r.logger.Infow("reservation accepted", map[string]any{
		"reservation_id": res.ID,
		"station_id":     st.ID,
		"requester_id":   req.RequesterID,
		"start":          req.Interval.Start,
		"end":            req.Interval.End,
	})
	return res, nil
}

// Cancel deletes a reservation. Cancellation is not restricted to the owner
// and has no time window.
func (r *Resolver) Cancel(ctx context.Context, id string) error {
	res, err := r.reservations.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(res.StationID)
	defer unlock()
	if err := r.reservations.DeleteReservation(ctx, id); err != nil {
		return err
	}
	r.record(metrics.ReservationEvent{
		StationID:     res.StationID,
		RequesterID:   res.RequesterID,
		ReservationID: id,
		Outcome:       metrics.OutcomeCancelled,
	})
	r.logger.Infof("reservation %s cancelled", id)
	return nil
}

// ListByStation returns the station's reservations ordered by start time.
func (r *Resolver) ListByStation(ctx context.Context, stationID string) ([]model.Reservation, error) {
	if _, err := r.directory.LookupStation(ctx, stationID); err != nil {
		return nil, err
	}
	return r.reservations.ReservationsByStation(ctx, stationID)
}

// ListByRequester returns the requester's reservations ordered by start time.
func (r *Resolver) ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester id is required", model.ErrValidation)
	}
	return r.reservations.ReservationsByRequester(ctx, requesterID)
}

// Availability reports how many slots of the station are taken at instant at.
func (r *Resolver) Availability(ctx context.Context, stationID string, at time.Time) (Availability, error) {
	if at.IsZero() {
		return Availability{}, fmt.Errorf("%w: instant is required", model.ErrValidation)
	}
	st, err := r.directory.LookupStation(ctx, stationID)
	if err != nil {
		return Availability{}, err
	}
	covering, err := r.reservations.OverlappingReservations(ctx, stationID, model.Interval{Start: at, End: at.Add(time.Nanosecond)})
	if err != nil {
		return Availability{}, err
	}
	free := st.Capacity - len(covering)
	if free < 0 {
		free = 0
	}
	return Availability{
		StationID: stationID,
		At:        at,
		Capacity:  st.Capacity,
		Reserved:  len(covering),
		Available: free,
	}, nil
}

func (r *Resolver) record(ev metrics.ReservationEvent) {
	ev.Time = r.now()
	if err := r.sink.RecordReservation(ev); err != nil {
		r.logger.Warnf("record reservation event: %v", err)
	}
}
