package model

import (
	"fmt"
	"sort"
	"time"
)

// DefaultPriority is assigned to walk-up entries joining without a priority.
const DefaultPriority = 5

// QueueStatus is the lifecycle state of a walk-up queue entry.
type QueueStatus int

const (
	QueueWaiting QueueStatus = iota
	QueueProcessing
	QueueCompleted
)

// String returns the canonical name of the status.
func (s QueueStatus) String() string {
	switch s {
	case QueueWaiting:
		return "waiting"
	case QueueProcessing:
		return "processing"
	case QueueCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseQueueStatus converts a status name back to its value.
func ParseQueueStatus(s string) (QueueStatus, error) {
	switch s {
	case "waiting":
		return QueueWaiting, nil
	case "processing":
		return QueueProcessing, nil
	case "completed":
		return QueueCompleted, nil
	}
	return 0, fmt.Errorf("%w: unknown queue status %q", ErrValidation, s)
}

// MarshalText encodes the status by name.
func (s QueueStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *QueueStatus) UnmarshalText(b []byte) error {
	v, err := ParseQueueStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// QueueEntry is a walk-up user waiting for, or being served by, a station.
type QueueEntry struct {
	ID          string      `json:"id"`
	StationID   string      `json:"station_id"`
	RequesterID string      `json:"requester_id"`
	Priority    int         `json:"priority"`
	EnrolledAt  time.Time   `json:"enrolled_at"`
	Status      QueueStatus `json:"status"`
}

// Before reports whether e is served ahead of o: lower priority first, then
// earlier enrollment, then id for a total order.
func (e QueueEntry) Before(o QueueEntry) bool {
	if e.Priority != o.Priority {
		return e.Priority < o.Priority
	}
	if !e.EnrolledAt.Equal(o.EnrolledAt) {
		return e.EnrolledAt.Before(o.EnrolledAt)
	}
	return e.ID < o.ID
}

// SortEntries orders entries in service order.
func SortEntries(entries []QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
}
