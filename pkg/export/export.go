// Package export writes reservation listings for accounting and station
// operators.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/chargeslot/core/model"
)

// Header is the first CSV record.
var Header = []string{"id", "station_id", "requester_id", "start", "end", "payment_amount", "remarks", "created_at"}

// WriteJSON writes the reservations to w as a JSON array.
func WriteJSON(w io.Writer, rs []model.Reservation) error {
	if rs == nil {
		rs = []model.Reservation{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rs)
}

// WriteCSV writes the reservations to w in CSV format, times in RFC3339 UTC.
func WriteCSV(w io.Writer, rs []model.Reservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rs {
		rec := []string{
			r.ID,
			r.StationID,
			r.RequesterID,
			r.Interval.Start.UTC().Format(time.RFC3339),
			r.Interval.End.UTC().Format(time.RFC3339),
			r.PaymentAmount.StringFixed(2),
			r.Remarks,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format, "json" or "csv".
func Write(w io.Writer, format string, rs []model.Reservation) error {
	switch format {
	case "json":
		return WriteJSON(w, rs)
	case "csv":
		return WriteCSV(w, rs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
