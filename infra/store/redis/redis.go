// Package redis stores reservations and queue entries in Redis.
//
// Layout, under a configurable prefix:
//
//	<p>:reservation:<id>              JSON reservation
//	<p>:station:<sid>:reservations    ZSET of reservation ids scored by start (unix ms)
//	<p>:requester:<rid>:reservations  SET of reservation ids
//	<p>:entry:<id>                    JSON queue entry
//	<p>:station:<sid>:entries         SET of entry ids
//	<p>:entries:<status>              SET of entry ids
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/chargeslot/core/factory"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/store"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

func init() {
	_ = store.RegisterBackend("redis", func(conf map[string]any) (store.Backend, error) {
		var o Options
		if err := factory.Decode(conf, &o); err != nil {
			return nil, err
		}
		return Open(context.Background(), o)
	})
}

// Store implements store.Backend on a Redis client.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, o Options) (*Store, error) {
	if o.Addr == "" {
		o.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", o.Addr, err)
	}
	return New(rdb, o.Prefix), nil
}

// New wraps an existing client. An empty prefix defaults to "chargeslot".
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "chargeslot"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) reservationKey(id string) string { return s.prefix + ":reservation:" + id }
func (s *Store) stationReservationsKey(id string) string {
	return s.prefix + ":station:" + id + ":reservations"
}
func (s *Store) requesterReservationsKey(id string) string {
	return s.prefix + ":requester:" + id + ":reservations"
}
func (s *Store) entryKey(id string) string { return s.prefix + ":entry:" + id }
func (s *Store) stationEntriesKey(id string) string {
	return s.prefix + ":station:" + id + ":entries"
}
func (s *Store) statusKey(st model.QueueStatus) string { return s.prefix + ":entries:" + st.String() }

func (s *Store) CreateReservation(ctx context.Context, r model.Reservation) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.reservationKey(r.ID), string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("store reservation %s: %w", r.ID, err)
	}
	if !ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.stationReservationsKey(r.StationID), redis.Z{
			Score:  float64(r.Interval.Start.UnixMilli()),
			Member: r.ID,
		})
		p.SAdd(ctx, s.requesterReservationsKey(r.RequesterID), r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index reservation %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	data, err := s.rdb.Get(ctx, s.reservationKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Reservation{}, err
	}
	var r model.Reservation
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.Reservation{}, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	r, err := s.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.reservationKey(id))
		p.ZRem(ctx, s.stationReservationsKey(r.StationID), id)
		p.SRem(ctx, s.requesterReservationsKey(r.RequesterID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	return nil
}

func (s *Store) OverlappingReservations(ctx context.Context, stationID string, iv model.Interval) ([]model.Reservation, error) {
	// Scores are truncated to milliseconds, so the range is inclusive and
	// exact overlap is checked after loading.
	ids, err := s.rdb.ZRangeByScore(ctx, s.stationReservationsKey(stationID), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(iv.End.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	all, err := s.loadReservations(ctx, ids)
	if err != nil {
		return nil, err
	}
	res := all[:0]
	for _, r := range all {
		if r.Interval.Overlaps(iv) {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *Store) ReservationsByStation(ctx context.Context, stationID string) ([]model.Reservation, error) {
	ids, err := s.rdb.ZRange(ctx, s.stationReservationsKey(stationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.loadReservations(ctx, ids)
}

func (s *Store) ReservationsByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	ids, err := s.rdb.SMembers(ctx, s.requesterReservationsKey(requesterID)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadReservations(ctx, ids)
}

func (s *Store) loadReservations(ctx context.Context, ids []string) ([]model.Reservation, error) {
	res := make([]model.Reservation, 0, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.reservationKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r model.Reservation
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decode reservation %s: %w", ids[i], err)
		}
		res = append(res, r)
	}
	model.SortReservations(res)
	return res, nil
}

func (s *Store) AddEntry(ctx context.Context, e model.QueueEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.entryKey(e.ID), string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("store queue entry %s: %w", e.ID, err)
	}
	if !ok {
		return fmt.Errorf("queue entry %s already exists", e.ID)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.stationEntriesKey(e.StationID), e.ID)
		p.SAdd(ctx, s.statusKey(e.Status), e.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index queue entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (model.QueueEntry, error) {
	data, err := s.rdb.Get(ctx, s.entryKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return model.QueueEntry{}, fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.QueueEntry{}, err
	}
	var e model.QueueEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return model.QueueEntry{}, fmt.Errorf("decode queue entry %s: %w", id, err)
	}
	return e, nil
}

func (s *Store) UpdateEntryStatus(ctx context.Context, id string, status model.QueueStatus) error {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	prev := e.Status
	e.Status = status
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.entryKey(id), string(data), 0)
		p.SRem(ctx, s.statusKey(prev), id)
		p.SAdd(ctx, s.statusKey(status), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update queue entry %s: %w", id, err)
	}
	return nil
}

func (s *Store) EntriesByStation(ctx context.Context, stationID string) ([]model.QueueEntry, error) {
	ids, err := s.rdb.SMembers(ctx, s.stationEntriesKey(stationID)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadEntries(ctx, ids)
}

func (s *Store) EntriesByStatus(ctx context.Context, status model.QueueStatus) ([]model.QueueEntry, error) {
	ids, err := s.rdb.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadEntries(ctx, ids)
}

func (s *Store) loadEntries(ctx context.Context, ids []string) ([]model.QueueEntry, error) {
	res := make([]model.QueueEntry, 0, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e model.QueueEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("decode queue entry %s: %w", ids[i], err)
		}
		res = append(res, e)
	}
	model.SortEntries(res)
	return res, nil
}

func (s *Store) DeleteCompleted(ctx context.Context) (int, error) {
	done, err := s.EntriesByStatus(ctx, model.QueueCompleted)
	if err != nil {
		return 0, err
	}
	if len(done) == 0 {
		return 0, nil
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range done {
			p.Del(ctx, s.entryKey(e.ID))
			p.SRem(ctx, s.stationEntriesKey(e.StationID), e.ID)
			p.SRem(ctx, s.statusKey(model.QueueCompleted), e.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete completed entries: %w", err)
	}
	return len(done), nil
}

// Close closes the client.
func (s *Store) Close() error { return s.rdb.Close() }
