package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func at(min int) time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(min) * time.Minute)
}

func TestIntervalOverlapHalfOpen(t *testing.T) {
	iv := Interval{Start: at(10), End: at(20)}
	cases := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"partial", Interval{Start: at(15), End: at(25)}, true},
		{"adjacent after", Interval{Start: at(20), End: at(30)}, false},
		{"adjacent before", Interval{Start: at(0), End: at(10)}, false},
		{"enclosing", Interval{Start: at(0), End: at(30)}, true},
		{"inside", Interval{Start: at(12), End: at(13)}, true},
	}
	for _, c := range cases {
		if got := iv.Overlaps(c.other); got != c.want {
			t.Errorf("%s: expected %v got %v", c.name, c.want, got)
		}
		if got := c.other.Overlaps(iv); got != c.want {
			t.Errorf("%s (reversed): expected %v got %v", c.name, c.want, got)
		}
	}
}

func TestIntervalValidate(t *testing.T) {
	if err := (Interval{Start: at(0), End: at(1)}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, iv := range []Interval{{}, {Start: at(0)}, {Start: at(1), End: at(1)}, {Start: at(2), End: at(1)}} {
		if err := iv.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", iv, err)
		}
	}
}

func TestQueueStatusText(t *testing.T) {
	for _, s := range []QueueStatus{QueueWaiting, QueueProcessing, QueueCompleted} {
		b, _ := s.MarshalText()
		var got QueueStatus
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Fatalf("round trip %s: %v %v", s, got, err)
		}
	}
	if _, err := ParseQueueStatus("paused"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSortEntries(t *testing.T) {
	entries := []QueueEntry{
		{ID: "a", Priority: 5, EnrolledAt: at(0)},
		{ID: "b", Priority: 1, EnrolledAt: at(1)},
		{ID: "c", Priority: 5, EnrolledAt: at(2)},
		{ID: "d", Priority: 3, EnrolledAt: at(3)},
	}
	SortEntries(entries)
	got := ""
	for _, e := range entries {
		got += e.ID
	}
	if got != "bdac" {
		t.Fatalf("expected bdac got %s", got)
	}
}

func TestCode(t *testing.T) {
	conflict := &ConflictError{StationID: "s1", EarliestFree: at(0)}
	cases := map[error]string{
		fmt.Errorf("station s1: %w", ErrNotFound): CodeNotFound,
		fmt.Errorf("bad: %w", ErrValidation):      CodeValidation,
		ErrUnverified:                              CodeUnverified,
		conflict:                                   CodeConflict,
		ErrUnauthenticated:                         CodeUnauthenticated,
		errors.New("boom"):                         CodeInternal,
	}
	for err, want := range cases {
		if got := Code(err); got != want {
			t.Errorf("%v: expected %s got %s", err, want, got)
		}
	}
	var ce *ConflictError
	if !errors.As(fmt.Errorf("wrap: %w", conflict), &ce) || !ce.EarliestFree.Equal(at(0)) {
		t.Fatalf("conflict error not recoverable")
	}
}

func TestStationValidate(t *testing.T) {
	if err := (Station{ID: "s", Capacity: 1}).Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := (Station{ID: "s"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error")
	}
}
