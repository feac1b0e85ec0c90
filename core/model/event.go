package model

import "time"

// QueueEventType names a transition of the walk-up queue.
type QueueEventType string

const (
	QueueEventJoined    QueueEventType = "joined"
	QueueEventPromoted  QueueEventType = "promoted"
	QueueEventCompleted QueueEventType = "completed"
	QueueEventDiscarded QueueEventType = "discarded"
)

// QueueEvent is published by the admission scheduler on every lifecycle
// transition of an entry.
type QueueEvent struct {
	Type  QueueEventType `json:"type"`
	Entry QueueEntry     `json:"entry"`
	// Position is the 1-based rank among waiting entries, set for joins.
	Position int `json:"position,omitempty"`
	// Waiting is the number of entries still waiting at the station.
	Waiting int `json:"waiting"`
	// ServiceTime is the turn length granted on promotion.
	ServiceTime time.Duration `json:"service_time,omitempty"`
	Time        time.Time     `json:"time"`
}
