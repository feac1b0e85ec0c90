// Package storetest holds the behaviour every store.Backend must exhibit.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/store"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func reservation(id, station, requester string, from, to int) model.Reservation {
	return model.Reservation{
		ID:            id,
		StationID:     station,
		RequesterID:   requester,
		Interval:      model.Interval{Start: at(from), End: at(to)},
		PaymentAmount: decimal.RequireFromString("12.50"),
		Remarks:       "type 2 connector",
		CreatedAt:     base,
	}
}

// Run exercises b through the store.Backend contract. newBackend must return
// an empty backend on every call.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	t.Run("ReservationLifecycle", func(t *testing.T) { testReservationLifecycle(t, newBackend(t)) })
	t.Run("Overlap", func(t *testing.T) { testOverlap(t, newBackend(t)) })
	t.Run("QueueLifecycle", func(t *testing.T) { testQueueLifecycle(t, newBackend(t)) })
	t.Run("DeleteCompleted", func(t *testing.T) { testDeleteCompleted(t, newBackend(t)) })
}

func testReservationLifecycle(t *testing.T, b store.Backend) {
	ctx := context.Background()
	r := reservation("r1", "s1", "u1", 0, 60)
	require.NoError(t, b.CreateReservation(ctx, r))

	got, err := b.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r.StationID, got.StationID)
	assert.Equal(t, r.RequesterID, got.RequesterID)
	assert.True(t, r.Interval.Start.Equal(got.Interval.Start))
	assert.True(t, r.Interval.End.Equal(got.Interval.End))
	assert.True(t, r.PaymentAmount.Equal(got.PaymentAmount))
	assert.Equal(t, r.Remarks, got.Remarks)

	require.NoError(t, b.CreateReservation(ctx, reservation("r2", "s1", "u2", 60, 90)))
	require.NoError(t, b.CreateReservation(ctx, reservation("r3", "s2", "u1", 0, 30)))

	byStation, err := b.ReservationsByStation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids(byStation))

	byRequester, err := b.ReservationsByRequester(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r3"}, ids(byRequester))

	require.NoError(t, b.DeleteReservation(ctx, "r1"))
	_, err = b.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, b.DeleteReservation(ctx, "r1"), model.ErrNotFound)

	byStation, err = b.ReservationsByStation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, ids(byStation))
}

func testOverlap(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateReservation(ctx, reservation("a", "s1", "u1", 15, 25)))
	require.NoError(t, b.CreateReservation(ctx, reservation("b", "s1", "u1", 20, 30)))
	require.NoError(t, b.CreateReservation(ctx, reservation("c", "s1", "u1", 0, 10)))
	require.NoError(t, b.CreateReservation(ctx, reservation("d", "s2", "u1", 10, 20)))

	got, err := b.OverlappingReservations(ctx, "s1", model.Interval{Start: at(10), End: at(20)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))

	got, err = b.OverlappingReservations(ctx, "s1", model.Interval{Start: at(0), End: at(40)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(got))

	got, err = b.OverlappingReservations(ctx, "s3", model.Interval{Start: at(0), End: at(40)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testQueueLifecycle(t *testing.T, b store.Backend) {
	ctx := context.Background()
	entries := []model.QueueEntry{
		{ID: "e1", StationID: "s1", RequesterID: "u1", Priority: 5, EnrolledAt: at(0)},
		{ID: "e2", StationID: "s1", RequesterID: "u2", Priority: 1, EnrolledAt: at(1)},
		{ID: "e3", StationID: "s2", RequesterID: "u3", Priority: 5, EnrolledAt: at(2)},
	}
	for _, e := range entries {
		require.NoError(t, b.AddEntry(ctx, e))
	}

	got, err := b.GetEntry(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Priority)
	assert.Equal(t, model.QueueWaiting, got.Status)
	assert.True(t, got.EnrolledAt.Equal(at(1)))
	_, err = b.GetEntry(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	byStation, err := b.EntriesByStation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1"}, entryIDs(byStation))

	require.NoError(t, b.UpdateEntryStatus(ctx, "e2", model.QueueProcessing))
	assert.ErrorIs(t, b.UpdateEntryStatus(ctx, "missing", model.QueueProcessing), model.ErrNotFound)

	processing, err := b.EntriesByStatus(ctx, model.QueueProcessing)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, entryIDs(processing))

	waiting, err := b.EntriesByStatus(ctx, model.QueueWaiting)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e3"}, entryIDs(waiting))
}

func testDeleteCompleted(t *testing.T, b store.Backend) {
	ctx := context.Background()
	for i, st := range []model.QueueStatus{model.QueueWaiting, model.QueueProcessing, model.QueueCompleted, model.QueueCompleted} {
		e := model.QueueEntry{
			ID:          string(rune('a' + i)),
			StationID:   "s1",
			RequesterID: "u",
			Priority:    5,
			EnrolledAt:  at(i),
		}
		require.NoError(t, b.AddEntry(ctx, e))
		if st != model.QueueWaiting {
			require.NoError(t, b.UpdateEntryStatus(ctx, e.ID, st))
		}
	}

	n, err := b.DeleteCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.DeleteCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := b.EntriesByStation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, entryIDs(left))
}

func ids(rs []model.Reservation) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func entryIDs(es []model.QueueEntry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
