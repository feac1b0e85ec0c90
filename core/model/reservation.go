package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is a pre-booked slot at a station. It is immutable once created;
// the only allowed change is cancellation, which deletes it.
type Reservation struct {
	ID            string          `json:"id"`
	StationID     string          `json:"station_id"`
	RequesterID   string          `json:"requester_id"`
	Interval      Interval        `json:"interval"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Remarks       string          `json:"remarks,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SortReservations orders reservations by start time, then id.
func SortReservations(rs []Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Interval.Start.Equal(rs[j].Interval.Start) {
			return rs[i].Interval.Start.Before(rs[j].Interval.Start)
		}
		return rs[i].ID < rs[j].ID
	})
}
