// Package memory provides map-backed reservation and queue stores. Pending
// state does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/store"
)

func init() {
	_ = store.RegisterBackend("memory", func(map[string]any) (store.Backend, error) {
		return New(), nil
	})
}

// Store implements store.Backend.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]model.Reservation
	entries      map[string]model.QueueEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		reservations: map[string]model.Reservation{},
		entries:      map[string]model.QueueEntry{},
	}
}

func (s *Store) CreateReservation(_ context.Context, r model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *Store) GetReservation(_ context.Context, id string) (model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (s *Store) DeleteReservation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[id]; !ok {
		return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	delete(s.reservations, id)
	return nil
}

func (s *Store) OverlappingReservations(_ context.Context, stationID string, iv model.Interval) ([]model.Reservation, error) {
	return s.filterReservations(func(r model.Reservation) bool {
		return r.StationID == stationID && r.Interval.Overlaps(iv)
	}), nil
}

func (s *Store) ReservationsByStation(_ context.Context, stationID string) ([]model.Reservation, error) {
	return s.filterReservations(func(r model.Reservation) bool { return r.StationID == stationID }), nil
}

func (s *Store) ReservationsByRequester(_ context.Context, requesterID string) ([]model.Reservation, error) {
	return s.filterReservations(func(r model.Reservation) bool { return r.RequesterID == requesterID }), nil
}

func (s *Store) filterReservations(keep func(model.Reservation) bool) []model.Reservation {
	s.mu.RLock()
	res := make([]model.Reservation, 0)
	for _, r := range s.reservations {
		if keep(r) {
			res = append(res, r)
		}
	}
	s.mu.RUnlock()
	model.SortReservations(res)
	return res
}

func (s *Store) AddEntry(_ context.Context, e model.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("queue entry %s already exists", e.ID)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *Store) GetEntry(_ context.Context, id string) (model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return model.QueueEntry{}, fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	return e, nil
}

func (s *Store) UpdateEntryStatus(_ context.Context, id string, status model.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	e.Status = status
	s.entries[id] = e
	return nil
}

func (s *Store) EntriesByStation(_ context.Context, stationID string) ([]model.QueueEntry, error) {
	return s.filterEntries(func(e model.QueueEntry) bool { return e.StationID == stationID }), nil
}

func (s *Store) EntriesByStatus(_ context.Context, status model.QueueStatus) ([]model.QueueEntry, error) {
	return s.filterEntries(func(e model.QueueEntry) bool { return e.Status == status }), nil
}

func (s *Store) filterEntries(keep func(model.QueueEntry) bool) []model.QueueEntry {
	s.mu.RLock()
	res := make([]model.QueueEntry, 0)
	for _, e := range s.entries {
		if keep(e) {
			res = append(res, e)
		}
	}
	s.mu.RUnlock()
	model.SortEntries(res)
	return res
}

func (s *Store) DeleteCompleted(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.Status == model.QueueCompleted {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
