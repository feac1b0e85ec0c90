// Package admission runs the walk-up queue of every station.
//
// Entries move waiting -> processing -> completed. Each station serves at
// most one entry at a time; when a turn ends the best waiting entry, ordered
// by (priority, enrolment time), is promoted. Turn length shrinks as the
// queue grows. All state lives in the store; the scheduler only keeps the
// timers of running turns.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/logger"
	"github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/monitoring"
	"github.com/kilianp07/chargeslot/core/store"
	"github.com/kilianp07/chargeslot/internal/eventbus"
	"github.com/kilianp07/chargeslot/internal/keylock"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// JoinResult is the outcome of a successful Join.
type JoinResult struct {
	Entry model.QueueEntry `json:"entry"`
	// Position is the 1-based rank of the entry among waiting entries at
	// insertion time.
	Position int `json:"position"`
}

// StatusSnapshot is the queue of one station in service order.
type StatusSnapshot struct {
	StationID string             `json:"station_id"`
	Entries   []model.QueueEntry `json:"entries"`
	Busy      bool               `json:"busy"`
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithAfterFunc replaces time.AfterFunc for turn and retry timers.
func WithAfterFunc(f AfterFunc) Option { return func(s *Scheduler) { s.afterFunc = f } }

// WithIDGenerator replaces the UUID generator of queue entries.
func WithIDGenerator(f func() string) Option { return func(s *Scheduler) { s.newID = f } }

// WithCleanupRecorder records every cleanup pass.
func WithCleanupRecorder(r metrics.CleanupRecorder) Option {
	return func(s *Scheduler) { s.cleanupRec = r }
}

// Scheduler is the admission queue scheduler.
type Scheduler struct {
	cfg       Config
	directory directory.Directory
	queue     store.QueueStore
	bus       *eventbus.Bus[model.QueueEvent]
	logger    logger.Logger
	locks     *keylock.Locker

	now        func() time.Time
	newID      func() string
	afterFunc  AfterFunc
	cleanupRec metrics.CleanupRecorder

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[uint64]Timer
	turns   map[string]string // station id -> entry whose completion is armed
	seq     uint64
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// New validates cfg and returns a Scheduler. bus may be nil.
func New(cfg Config, dir directory.Directory, queue store.QueueStore, bus *eventbus.Bus[model.QueueEvent], log logger.Logger, opts ...Option) (*Scheduler, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		directory: dir,
		queue:     queue,
		bus:       bus,
		logger:    log,
		locks:     keylock.New(),
		now:       time.Now,
		newID:     uuid.NewString,
		afterFunc: realAfterFunc,
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uint64]Timer),
		turns:     make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the validated configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Join enrolls requesterID in the queue of stationID. A nil priority means
// model.DefaultPriority; lower values are served first.
func (s *Scheduler) Join(ctx context.Context, stationID, requesterID string, priority *int) (JoinResult, error) {
	if stationID == "" || requesterID == "" {
		return JoinResult{}, fmt.Errorf("%w: station and requester ids are required", model.ErrValidation)
	}
	if _, err := s.directory.LookupRequester(ctx, requesterID); err != nil {
		return JoinResult{}, err
	}
	if _, err := s.directory.LookupStation(ctx, stationID); err != nil {
		return JoinResult{}, err
	}
	prio := model.DefaultPriority
	if priority != nil {
		prio = *priority
	}
	entry := model.QueueEntry{
		ID:          s.newID(),
		StationID:   stationID,
		RequesterID: requesterID,
		Priority:    prio,
		EnrolledAt:  s.now(),
		Status:      model.QueueWaiting,
	}

	unlock := s.locks.Lock(stationID)
	if err := s.queue.AddEntry(ctx, entry); err != nil {
		unlock()
		return JoinResult{}, fmt.Errorf("enqueue %s at %s: %w", requesterID, stationID, err)
	}
	entries, err := s.queue.EntriesByStation(ctx, stationID)
	if err != nil {
		unlock()
		return JoinResult{}, fmt.Errorf("load queue of %s: %w", stationID, err)
	}

	position, waiting := 0, 0
	for _, e := range entries {
		if e.Status != model.QueueWaiting {
			continue
		}
		waiting++
		if e.ID == entry.ID {
			position = waiting
		}
	}
	// Published before the lock is released so a promotion of this station
	// cannot overtake it on the bus.
	s.publish(model.QueueEvent{Type: model.QueueEventJoined, Entry: entry, Position: position, Waiting: waiting})
	unlock()
	s.logger.Infow("queue joined", map[string]any{
		"entry_id":     entry.ID,
		"station_id":   stationID,
		"requester_id": requesterID,
		"priority":     prio,
		"position":     position,
	})

	s.pump(stationID)
	return JoinResult{Entry: entry, Position: position}, nil
}

// Status returns the station's entries in service order.
func (s *Scheduler) Status(ctx context.Context, stationID string) (StatusSnapshot, error) {
	if _, err := s.directory.LookupStation(ctx, stationID); err != nil {
		return StatusSnapshot{}, err
	}
	entries, err := s.queue.EntriesByStation(ctx, stationID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	snap := StatusSnapshot{StationID: stationID, Entries: entries}
	for _, e := range entries {
		if e.Status == model.QueueProcessing {
			snap.Busy = true
			break
		}
	}
	return snap, nil
}

// pump promotes the best waiting entry of the station unless one is already
// being served. It runs under the station lock. A processing entry without an
// armed turn, left by a promotion whose write succeeded but reported an
// error, gets its turn armed here.
func (s *Scheduler) pump(stationID string) {
	if s.isClosed() {
		return
	}
	unlock := s.locks.Lock(stationID)
	defer unlock()

	entries, err := s.queue.EntriesByStation(s.ctx, stationID)
	if err != nil {
		s.logger.Errorf("load queue of %s: %v", stationID, err)
		s.schedule(s.cfg.backoff(0), func() { s.pump(stationID) })
		return
	}
	var next, serving model.QueueEntry
	found, busy, waiting := false, false, 0
	for _, e := range entries {
		switch e.Status {
		case model.QueueProcessing:
			if !busy {
				serving, busy = e, true
			}
		case model.QueueWaiting:
			if !found {
				next, found = e, true
			}
			waiting++
		}
	}
	if busy {
		if !s.hasTurn(stationID, serving.ID) {
			s.logger.Warnf("entry %s at %s is processing without a turn, arming it", serving.ID, stationID)
			s.startTurn(serving, waiting)
		}
		return
	}
	if !found {
		return
	}
	if err := s.queue.UpdateEntryStatus(s.ctx, next.ID, model.QueueProcessing); err != nil {
		s.logger.Errorf("promote %s at %s: %v", next.ID, stationID, err)
		s.schedule(s.cfg.backoff(0), func() { s.pump(stationID) })
		return
	}
	next.Status = model.QueueProcessing
	s.startTurn(next, waiting-1)
}

// startTurn arms the completion of e, which must already be processing, and
// announces the promotion. Called under the station lock.
func (s *Scheduler) startTurn(e model.QueueEntry, remaining int) {
	turn := s.cfg.ServiceTime(remaining)
	s.mu.Lock()
	s.turns[e.StationID] = e.ID
	s.mu.Unlock()
	s.schedule(turn, func() { s.complete(e, 0) })

	s.publish(model.QueueEvent{Type: model.QueueEventPromoted, Entry: e, Waiting: remaining, ServiceTime: turn})
	s.logger.Infow("queue entry promoted", map[string]any{
		"entry_id":     e.ID,
		"station_id":   e.StationID,
		"requester_id": e.RequesterID,
		"waiting":      remaining,
		"service_ms":   turn.Milliseconds(),
	})
}

func (s *Scheduler) hasTurn(stationID, entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns[stationID] == entryID
}

func (s *Scheduler) endTurn(stationID, entryID string) {
	s.mu.Lock()
	if s.turns[stationID] == entryID {
		delete(s.turns, stationID)
	}
	s.mu.Unlock()
}

// complete ends the turn of e and hands the station to the next entry.
// Failed writes are retried with exponential backoff; once the attempts are
// exhausted the completion is re-armed so the station never stays blocked.
func (s *Scheduler) complete(e model.QueueEntry, attempt int) {
	unlock := s.locks.Lock(e.StationID)
	err := s.queue.UpdateEntryStatus(s.ctx, e.ID, model.QueueCompleted)
	if err == nil || errors.Is(err, model.ErrNotFound) {
		s.endTurn(e.StationID, e.ID)
	}
	unlock()

	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		s.logger.Warnf("completed entry %s vanished from store", e.ID)
		s.pump(e.StationID)
		return
	case attempt+1 < s.cfg.CompleteRetries:
		delay := s.cfg.backoff(attempt)
		s.logger.Warnf("complete %s at %s (attempt %d): %v, retrying in %s", e.ID, e.StationID, attempt+1, err, delay)
		s.schedule(delay, func() { s.complete(e, attempt+1) })
		return
	default:
		s.logger.Errorf("complete %s at %s failed after %d attempts: %v", e.ID, e.StationID, attempt+1, err)
		monitoring.CaptureException(err, map[string]string{"component": "admission", "station_id": e.StationID, "entry_id": e.ID})
		s.schedule(s.cfg.backoff(0), func() { s.complete(e, 0) })
		return
	}

	e.Status = model.QueueCompleted
	s.publish(model.QueueEvent{Type: model.QueueEventCompleted, Entry: e})
	s.logger.Debugf("queue entry %s completed at %s", e.ID, e.StationID)
	s.pump(e.StationID)
}

// Cleanup deletes every completed entry and returns how many were removed.
// Waiting and processing entries are never touched.
func (s *Scheduler) Cleanup(ctx context.Context) (int, error) {
	n, err := s.queue.DeleteCompleted(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	if n > 0 {
		s.logger.Infof("removed %d completed queue entries", n)
	}
	if s.cleanupRec != nil {
		if err := s.cleanupRec.RecordCleanup(n, s.now()); err != nil {
			s.logger.Warnf("record cleanup: %v", err)
		}
	}
	return n, nil
}

// RunCleanup calls Cleanup every CleanupInterval until ctx is done.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Errorf("%v", err)
			}
		}
	}
}

// Start recovers the queues left by a previous process and launches the
// cleanup loop. Entries found processing are discarded by marking them
// completed, since their timers did not survive; stations with waiting
// entries are then served again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started or closed")
	}
	s.started = true
	s.mu.Unlock()

	stale, err := s.queue.EntriesByStatus(ctx, model.QueueProcessing)
	if err != nil {
		return fmt.Errorf("recover processing entries: %w", err)
	}
	discarded := 0
	for _, e := range stale {
		unlock := s.locks.Lock(e.StationID)
		if s.hasTurn(e.StationID, e.ID) {
			unlock()
			continue
		}
		err := s.queue.UpdateEntryStatus(ctx, e.ID, model.QueueCompleted)
		unlock()
		if err != nil {
			return fmt.Errorf("discard stale entry %s: %w", e.ID, err)
		}
		e.Status = model.QueueCompleted
		s.publish(model.QueueEvent{Type: model.QueueEventDiscarded, Entry: e})
		s.logger.Warnf("discarded interrupted turn %s at %s", e.ID, e.StationID)
		discarded++
	}

	waiting, err := s.queue.EntriesByStatus(ctx, model.QueueWaiting)
	if err != nil {
		return fmt.Errorf("recover waiting entries: %w", err)
	}
	seen := make(map[string]bool)
	for _, e := range waiting {
		if seen[e.StationID] {
			continue
		}
		seen[e.StationID] = true
		s.pump(e.StationID)
	}
	if discarded > 0 || len(seen) > 0 {
		s.logger.Infof("recovery: %d turns discarded, %d stations resumed", discarded, len(seen))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.RunCleanup(s.ctx)
	}()
	return nil
}

// Close stops all pending timers and the cleanup loop. Queued entries stay
// in the store and are picked up by the next Start.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return nil
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// schedule arms fn after d. Timers armed after Close are ignored.
func (s *Scheduler) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	id := s.seq
	s.timers[id] = s.afterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				s.logger.Errorf("timer callback panicked: %v", v)
				monitoring.CapturePanic(v, map[string]string{"component": "admission"})
			}
		}()
		fn()
	})
}

func (s *Scheduler) publish(ev model.QueueEvent) {
	if s.bus == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	s.bus.Publish(ev)
}
