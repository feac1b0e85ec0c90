package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/chargeslot/core/booking"
	"github.com/kilianp07/chargeslot/core/model"
)

// Booking is the reservation surface served over HTTP.
type Booking interface {
	Reserve(ctx context.Context, req booking.ReserveRequest) (model.Reservation, error)
	Cancel(ctx context.Context, id string) error
	ListByStation(ctx context.Context, stationID string) ([]model.Reservation, error)
	ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error)
	Availability(ctx context.Context, stationID string, at time.Time) (booking.Availability, error)
}

// ReserveBody is the payload of POST /api/stations/{id}/reservations.
type ReserveBody struct {
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Remarks       string          `json:"remarks"`
}

type reservationHandlers struct {
	booking Booking
}

func (h reservationHandlers) reserve(w http.ResponseWriter, r *http.Request) {
	var body ReserveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: decode body: %v", model.ErrValidation, err))
		return
	}
	res, err := h.booking.Reserve(r.Context(), booking.ReserveRequest{
		StationID:     r.PathValue("id"),
		RequesterID:   principalFrom(r.Context()).RequesterID,
		Interval:      model.Interval{Start: body.Start, End: body.End},
		PaymentAmount: body.PaymentAmount,
		Remarks:       body.Remarks,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h reservationHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.booking.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h reservationHandlers) listByStation(w http.ResponseWriter, r *http.Request) {
	res, err := h.booking.ListByStation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(res))
}

func (h reservationHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	res, err := h.booking.ListByRequester(r.Context(), principalFrom(r.Context()).RequesterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(res))
}

func (h reservationHandlers) availability(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, fmt.Errorf("%w: at must be RFC3339", model.ErrValidation))
			return
		}
		at = t
	}
	a, err := h.booking.Availability(r.Context(), r.PathValue("id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
