package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/chargeslot/core/admission"
)

// RequesterDef is one walk-up arrival. Requesters join in file order.
type RequesterDef struct {
	ID       string `yaml:"id"`
	Priority *int   `yaml:"priority,omitempty"`
}

type Timings struct {
	BaseMS int `yaml:"base_ms"`
	MinMS  int `yaml:"min_ms"`
	DecMS  int `yaml:"dec_ms"`
}

func (t Timings) toConfig() admission.Config {
	return admission.Config{
		BaseServiceTimeMS:    t.BaseMS,
		MinServiceTimeMS:     t.MinMS,
		DecrementPerWaiterMS: t.DecMS,
		CleanupIntervalMS:    60000,
	}
}

type Expected struct {
	// Order lists requester ids in the order they are served.
	Order []string `yaml:"order,omitempty"`
}

// Scenario drives a single-station walk-up queue.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Timings     Timings        `yaml:"timings"`
	Requesters  []RequesterDef `yaml:"requesters"`
	Expected    Expected       `yaml:"expected"`
}

// Validate rejects scenarios the scheduler could not run.
func (sc *Scenario) Validate() error {
	if len(sc.Requesters) == 0 {
		return fmt.Errorf("scenario %q: no requesters", sc.Name)
	}
	seen := make(map[string]bool, len(sc.Requesters))
	for i, r := range sc.Requesters {
		if r.ID == "" {
			return fmt.Errorf("scenario %q: requester %d has no id", sc.Name, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("scenario %q: duplicate requester %s", sc.Name, r.ID)
		}
		seen[r.ID] = true
	}
	cfg := sc.Timings.toConfig()
	cfg.SetDefaults()
	return cfg.Validate()
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}
