// Package store defines the persistence contracts of the booking and
// admission engines. Implementations are the single source of truth: callers
// never keep an authoritative copy of reservations or queue entries in memory.
// Lookups of absent records return model.ErrNotFound.
package store

import (
	"context"
	"io"

	"github.com/kilianp07/chargeslot/core/factory"
	"github.com/kilianp07/chargeslot/core/model"
)

// ReservationStore persists reservations with secondary lookup by station,
// requester and time range.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r model.Reservation) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
	// OverlappingReservations returns the reservations of the station whose
	// interval overlaps iv under the half-open rule.
	OverlappingReservations(ctx context.Context, stationID string, iv model.Interval) ([]model.Reservation, error)
	ReservationsByStation(ctx context.Context, stationID string) ([]model.Reservation, error)
	ReservationsByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error)
}

// QueueStore persists walk-up queue entries.
type QueueStore interface {
	AddEntry(ctx context.Context, e model.QueueEntry) error
	GetEntry(ctx context.Context, id string) (model.QueueEntry, error)
	UpdateEntryStatus(ctx context.Context, id string, status model.QueueStatus) error
	EntriesByStation(ctx context.Context, stationID string) ([]model.QueueEntry, error)
	EntriesByStatus(ctx context.Context, status model.QueueStatus) ([]model.QueueEntry, error)
	// DeleteCompleted removes every completed entry and returns how many
	// were deleted.
	DeleteCompleted(ctx context.Context) (int, error)
}

// Backend bundles both stores over one connection.
type Backend interface {
	ReservationStore
	QueueStore
	io.Closer
}

// Config selects and configures the storage backend.
type Config struct {
	Backend factory.ModuleConfig `json:"backend"`
}

// SetDefaults selects the in-memory backend when none is configured.
func (c *Config) SetDefaults() {
	if c.Backend.Type == "" {
		c.Backend.Type = "memory"
	}
}

var backendRegistry = factory.NewRegistry[Backend]()

// RegisterBackend adds a storage backend factory identified by name.
func RegisterBackend(name string, f factory.Factory[Backend]) error {
	return backendRegistry.Register(name, f)
}

// Open creates the backend described by cfg.
func Open(cfg Config) (Backend, error) {
	cfg.SetDefaults()
	return backendRegistry.Create(cfg.Backend)
}

// Backends lists the registered backend types.
func Backends() []string { return backendRegistry.Types() }
