package model

import "fmt"

// Station is a charging site able to host a fixed number of simultaneous
// reservations. It is owned by the station management system; the booking and
// admission engines only read it.
type Station struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
	// Capacity is the number of charging slots, i.e. the maximum number of
	// reservations that may cover the same instant.
	Capacity int  `json:"capacity"`
	Verified bool `json:"verified"`
}

// Validate checks that the station can take part in admission decisions.
func (s Station) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: station id is required", ErrValidation)
	}
	if s.Capacity <= 0 {
		return fmt.Errorf("%w: station %s capacity must be positive", ErrValidation, s.ID)
	}
	return nil
}

// Requester is a mobile user booking slots or joining walk-up queues.
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	RequesterID string
}
