package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/infra/logger"
	"github.com/kilianp07/chargeslot/internal/eventbus"
)

// StartEventCollector subscribes to the queue event bus and records every
// event in sink. It stops when the context is canceled or the bus closes; the
// returned channel is closed at that point.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[model.QueueEvent], sink coremetrics.Sink) <-chan struct{} {
	if bus == nil || sink == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	log := logger.New("metrics-collector")
	return bus.Listen(ctx, func(ev model.QueueEvent) {
		if err := sink.RecordQueueEvent(ev); err != nil {
			log.Warnf("record queue event %s for %s: %v", ev.Type, ev.Entry.ID, err)
		}
	})
}
