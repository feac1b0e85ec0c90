// Package directory stands in for the station and user management system.
// The booking and admission engines only read from it.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/chargeslot/auth"
	"github.com/kilianp07/chargeslot/core/model"
)

// Directory resolves stations and requesters by id.
type Directory interface {
	LookupStation(ctx context.Context, id string) (model.Station, error)
	LookupRequester(ctx context.Context, id string) (model.Requester, error)
}

// Config seeds a MemoryDirectory, or points at a remote station management
// API when Remote.URL is set.
type Config struct {
	Stations   []model.Station   `json:"stations"`
	Requesters []model.Requester `json:"requesters"`
	Remote     RemoteConfig      `json:"remote"`
}

// RemoteConfig configures the HTTP directory client.
type RemoteConfig struct {
	URL string `json:"url"`
	// CacheTTLMS keeps successful lookups for this long. Zero disables the
	// cache.
	CacheTTLMS int       `json:"cache_ttl_ms"`
	TimeoutMS  int       `json:"timeout_ms"`
	Auth       auth.Conf `json:"auth"`
}

// Validate checks every seeded station.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Stations))
	for _, s := range c.Stations {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate station %s", model.ErrValidation, s.ID)
		}
		seen[s.ID] = true
	}
	for _, r := range c.Requesters {
		if r.ID == "" {
			return fmt.Errorf("%w: requester id is required", model.ErrValidation)
		}
	}
	if c.Remote.URL != "" && (len(c.Stations) > 0 || len(c.Requesters) > 0) {
		return fmt.Errorf("%w: directory.remote cannot be combined with seeded stations or requesters", model.ErrValidation)
	}
	if c.Remote.CacheTTLMS < 0 || c.Remote.TimeoutMS < 0 {
		return fmt.Errorf("%w: directory.remote durations must not be negative", model.ErrValidation)
	}
	return nil
}

// MemoryDirectory is a Directory backed by maps.
type MemoryDirectory struct {
	mu         sync.RWMutex
	stations   map[string]model.Station
	requesters map[string]model.Requester
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		stations:   map[string]model.Station{},
		requesters: map[string]model.Requester{},
	}
}

// NewFromConfig returns a directory seeded from cfg.
func NewFromConfig(cfg Config) (*MemoryDirectory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := NewMemoryDirectory()
	for _, s := range cfg.Stations {
		d.PutStation(s)
	}
	for _, r := range cfg.Requesters {
		d.PutRequester(r)
	}
	return d, nil
}

// PutStation registers or replaces a station.
func (d *MemoryDirectory) PutStation(s model.Station) {
	d.mu.Lock()
	d.stations[s.ID] = s
	d.mu.Unlock()
}

// PutRequester registers or replaces a requester.
func (d *MemoryDirectory) PutRequester(r model.Requester) {
	d.mu.Lock()
	d.requesters[r.ID] = r
	d.mu.Unlock()
}

func (d *MemoryDirectory) LookupStation(_ context.Context, id string) (model.Station, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stations[id]
	if !ok {
		return model.Station{}, fmt.Errorf("station %s: %w", id, model.ErrNotFound)
	}
	return s, nil
}

func (d *MemoryDirectory) LookupRequester(_ context.Context, id string) (model.Requester, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.requesters[id]
	if !ok {
		return model.Requester{}, fmt.Errorf("requester %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

// Verify approves a station so that it can accept reservations.
func (d *MemoryDirectory) Verify(_ context.Context, id string) (model.Station, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stations[id]
	if !ok {
		return model.Station{}, fmt.Errorf("station %s: %w", id, model.ErrNotFound)
	}
	s.Verified = true
	d.stations[id] = s
	return s, nil
}

// ListUnverified returns stations awaiting approval ordered by id.
func (d *MemoryDirectory) ListUnverified(_ context.Context) []model.Station {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]model.Station, 0)
	for _, s := range d.stations {
		if !s.Verified {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
