package mqtt

import (
	"context"

	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/infra/logger"
	"github.com/kilianp07/chargeslot/internal/eventbus"
)

// StartNotifier forwards every queue event published on bus to n until ctx
// is canceled or the bus closes. The returned channel is closed on exit.
func StartNotifier(ctx context.Context, bus *eventbus.Bus[model.QueueEvent], n Notifier) <-chan struct{} {
	log := logger.New("mqtt_listener")
	return bus.Listen(ctx, func(ev model.QueueEvent) {
		if err := n.Notify(ctx, ev); err != nil {
			log.Warnf("notify %s for entry %s: %v", ev.Type, ev.Entry.ID, err)
		}
	})
}
