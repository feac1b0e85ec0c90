package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		l.mu.Lock()
		l.bodies = append(l.bodies, strings.TrimSpace(string(b)))
		l.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (l *lineRecorder) expect(t *testing.T, points ...*write.Point) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.bodies) != len(points) {
		t.Fatalf("expected %d writes, got %#v", len(points), l.bodies)
	}
	for i, p := range points {
		exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
		if l.bodies[i] != exp {
			t.Errorf("write %d: got %s want %s", i, l.bodies[i], exp)
		}
	}
}

func TestInfluxSink_RecordReservation(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()

	ev := coremetrics.ReservationEvent{
		StationID:     "s1",
		RequesterID:   "u1",
		ReservationID: "r1",
		Outcome:       coremetrics.OutcomeAccepted,
		Overlapping:   1,
		Capacity:      2,
		Time:          now,
	}
	if err := sink.RecordReservation(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("reservation_decision").
		AddTag("station_id", "s1").
		AddTag("outcome", "accepted").
		AddField("requester_id", "u1").
		AddField("overlapping", 1).
		AddField("capacity", 2).
		SetTime(now).
		AddField("reservation_id", "r1")
	rec.expect(t, p)
}

func TestInfluxSink_RecordQueueEvent(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()

	ev := model.QueueEvent{
		Type:        model.QueueEventPromoted,
		Entry:       model.QueueEntry{ID: "e1", StationID: "s1", RequesterID: "u1", Priority: 3},
		Waiting:     4,
		ServiceTime: 90 * time.Second,
		Time:        now,
	}
	if err := sink.RecordQueueEvent(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := sink.RecordCleanup(2, now); err != nil {
		t.Fatalf("record cleanup: %v", err)
	}
	p := write.NewPointWithMeasurement("queue_event").
		AddTag("station_id", "s1").
		AddTag("type", "promoted").
		AddField("entry_id", "e1").
		AddField("requester_id", "u1").
		AddField("priority", 3).
		AddField("waiting", 4).
		SetTime(now).
		AddField("service_ms", int64(90000))
	c := write.NewPointWithMeasurement("queue_cleanup").
		AddTag("component", "admission").
		AddField("removed", 2).
		SetTime(now)
	rec.expect(t, p, c)
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{
		URL:    srv.URL + "/api/v2/write",
		Token:  "tok",
		Org:    "org",
		Bucket: "bucket",
	})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
