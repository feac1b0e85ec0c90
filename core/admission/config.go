package admission

import (
	"fmt"
	"time"

	"github.com/kilianp07/chargeslot/core/model"
)

// MaxCompleteRetries bounds CompleteRetries so the doubling backoff cannot
// overflow.
const MaxCompleteRetries = 16

// MaxCompleteBackoffMS bounds the first completion retry delay.
const MaxCompleteBackoffMS = 60000

// Config holds the timings of the walk-up service loop. All durations are
// expressed in milliseconds.
type Config struct {
	// BaseServiceTimeMS is the turn length granted when nobody else waits.
	BaseServiceTimeMS int `json:"base_service_time_ms"`
	// MinServiceTimeMS is the floor of the turn length.
	MinServiceTimeMS int `json:"min_service_time_ms"`
	// DecrementPerWaiterMS shortens a turn for every entry left waiting.
	DecrementPerWaiterMS int `json:"decrement_per_waiter_ms"`
	// CleanupIntervalMS is the period of the completed-entry purge.
	CleanupIntervalMS int `json:"cleanup_interval_ms"`
	// CompleteRetries bounds consecutive attempts to persist a completion.
	CompleteRetries int `json:"complete_retries"`
	// CompleteBackoffMS is the delay before the first completion retry; it
	// doubles after every failed attempt.
	CompleteBackoffMS int `json:"complete_backoff_ms"`
}

// SetDefaults fills the completion retry settings. Timings of the service
// loop have no defaults.
func (c *Config) SetDefaults() {
	if c.CompleteRetries == 0 {
		c.CompleteRetries = 5
	}
	if c.CompleteBackoffMS == 0 {
		c.CompleteBackoffMS = 200
	}
}

// Validate checks that every timing is set and consistent.
func (c Config) Validate() error {
	if c.BaseServiceTimeMS <= 0 {
		return fmt.Errorf("%w: admission.base_service_time_ms must be positive", model.ErrValidation)
	}
	if c.MinServiceTimeMS <= 0 {
		return fmt.Errorf("%w: admission.min_service_time_ms must be positive", model.ErrValidation)
	}
	if c.MinServiceTimeMS > c.BaseServiceTimeMS {
		return fmt.Errorf("%w: admission.min_service_time_ms exceeds base_service_time_ms", model.ErrValidation)
	}
	if c.DecrementPerWaiterMS < 0 {
		return fmt.Errorf("%w: admission.decrement_per_waiter_ms must not be negative", model.ErrValidation)
	}
	if c.CleanupIntervalMS <= 0 {
		return fmt.Errorf("%w: admission.cleanup_interval_ms must be positive", model.ErrValidation)
	}
	if c.CompleteRetries <= 0 || c.CompleteRetries > MaxCompleteRetries {
		return fmt.Errorf("%w: admission.complete_retries must be between 1 and %d", model.ErrValidation, MaxCompleteRetries)
	}
	if c.CompleteBackoffMS <= 0 || c.CompleteBackoffMS > MaxCompleteBackoffMS {
		return fmt.Errorf("%w: admission.complete_backoff_ms must be between 1 and %d", model.ErrValidation, MaxCompleteBackoffMS)
	}
	return nil
}

// ServiceTime returns the turn length when waiting entries remain queued:
// max(Min, Base - waiting*Decrement).
func (c Config) ServiceTime(waiting int) time.Duration {
	ms := int64(c.BaseServiceTimeMS) - int64(waiting)*int64(c.DecrementPerWaiterMS)
	if ms < int64(c.MinServiceTimeMS) {
		ms = int64(c.MinServiceTimeMS)
	}
	return time.Duration(ms) * time.Millisecond
}

// CleanupInterval returns the cleanup period.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMS) * time.Millisecond
}

func (c Config) backoff(attempt int) time.Duration {
	if attempt > MaxCompleteRetries {
		attempt = MaxCompleteRetries
	}
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(c.CompleteBackoffMS) * time.Millisecond << attempt
}
