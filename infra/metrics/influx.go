package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving the points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes booking and queue activity to an InfluxDB instance using
// the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordReservation writes a reservation_decision point.
func (s *InfluxSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("reservation_decision").
		AddTag("station_id", ev.StationID).
		AddTag("outcome", string(ev.Outcome)).
		AddField("requester_id", ev.RequesterID).
		AddField("overlapping", ev.Overlapping).
		AddField("capacity", ev.Capacity).
		SetTime(ev.Time)
	if ev.ReservationID != "" {
		p = p.AddField("reservation_id", ev.ReservationID)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordQueueEvent writes a queue_event point.
func (s *InfluxSink) RecordQueueEvent(ev model.QueueEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("queue_event").
		AddTag("station_id", ev.Entry.StationID).
		AddTag("type", string(ev.Type)).
		AddField("entry_id", ev.Entry.ID).
		AddField("requester_id", ev.Entry.RequesterID).
		AddField("priority", ev.Entry.Priority).
		AddField("waiting", ev.Waiting).
		SetTime(ev.Time)
	if ev.Position > 0 {
		p = p.AddField("position", ev.Position)
	}
	if ev.ServiceTime > 0 {
		p = p.AddField("service_ms", ev.ServiceTime.Milliseconds())
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCleanup writes a queue_cleanup point.
func (s *InfluxSink) RecordCleanup(removed int, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("queue_cleanup").
		AddTag("component", "admission").
		AddField("removed", removed).
		SetTime(at)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }
