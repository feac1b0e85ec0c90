package scenarios

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/kilianp07/chargeslot/core/admission"
	"github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/infra/logger"
	"github.com/kilianp07/chargeslot/infra/store/memory"
	"github.com/kilianp07/chargeslot/internal/eventbus"
)

const station = "sim-station"

// Run enrolls every requester of sc at one station in file order, prints a
// line per join, promotion and completion to w, and returns the requester ids
// in the order they were served. Entry ids are sequential so equal priorities
// enrolled in the same instant keep their join order.
func Run(ctx context.Context, w io.Writer, sc *Scenario) ([]string, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	dir := directory.NewMemoryDirectory()
	dir.PutStation(model.Station{ID: station, Capacity: 1, Verified: true})
	for _, r := range sc.Requesters {
		dir.PutRequester(model.Requester{ID: r.ID})
	}

	n := len(sc.Requesters)
	bus := eventbus.NewWithBuffer[model.QueueEvent](4 * n)
	events := bus.Subscribe()
	var seq atomic.Int64
	sched, err := admission.New(sc.Timings.toConfig(), dir, memory.New(), bus, logger.NopLogger{},
		admission.WithIDGenerator(func() string { return fmt.Sprintf("q%06d", seq.Add(1)) }))
	if err != nil {
		return nil, err
	}
	defer sched.Close()
	defer bus.Close()

	for _, r := range sc.Requesters {
		res, err := sched.Join(ctx, station, r.ID, r.Priority)
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", r.ID, err)
		}
		fmt.Fprintf(w, "joined    %-6s priority=%d position=%d\n", r.ID, res.Entry.Priority, res.Position)
	}

	var order []string
	for completed := 0; completed < n; {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case ev := <-events:
			switch ev.Type {
			case model.QueueEventPromoted:
				order = append(order, ev.Entry.RequesterID)
				fmt.Fprintf(w, "serving   %-6s priority=%d turn=%s waiting=%d\n", ev.Entry.RequesterID, ev.Entry.Priority, ev.ServiceTime, ev.Waiting)
			case model.QueueEventCompleted:
				completed++
				fmt.Fprintf(w, "completed %-6s\n", ev.Entry.RequesterID)
			}
		}
	}
	return order, nil
}
