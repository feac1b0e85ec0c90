// Package sql persists reservations and queue entries in SQLite or
// PostgreSQL through sqlx. Both dialects share one schema; placeholders are
// rebound for the active driver.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/chargeslot/core/factory"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/store"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	_ = store.RegisterBackend("sqlite", func(conf map[string]any) (store.Backend, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			c.Path = "chargeslot.db"
		}
		return OpenSQLite(c.Path)
	})
	_ = store.RegisterBackend("postgres", func(conf map[string]any) (store.Backend, error) {
		var c struct {
			DSN string `json:"dsn"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires dsn")
		}
		return OpenPostgres(c.DSN)
	})
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reservations (
        id TEXT PRIMARY KEY,
        station_id TEXT NOT NULL,
        requester_id TEXT NOT NULL,
        start_at BIGINT NOT NULL,
        end_at BIGINT NOT NULL,
        payment_amount TEXT NOT NULL,
        remarks TEXT NOT NULL DEFAULT '',
        created_at BIGINT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS reservations_station_range ON reservations (station_id, start_at, end_at)`,
	`CREATE INDEX IF NOT EXISTS reservations_requester ON reservations (requester_id)`,
	`CREATE TABLE IF NOT EXISTS queue_entries (
        id TEXT PRIMARY KEY,
        station_id TEXT NOT NULL,
        requester_id TEXT NOT NULL,
        priority INTEGER NOT NULL,
        enrolled_at BIGINT NOT NULL,
        status TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS queue_entries_station ON queue_entries (station_id)`,
	`CREATE INDEX IF NOT EXISTS queue_entries_status ON queue_entries (status)`,
}

// Store implements store.Backend on a SQL database.
type Store struct {
	db *sqlx.DB
}

// OpenSQLite opens or creates the SQLite database at path and ensures schema.
func OpenSQLite(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return newStore(db)
}

// OpenPostgres connects to PostgreSQL using dsn and ensures schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// NewWithDB wraps an existing connection and ensures schema.
func NewWithDB(db *sqlx.DB) (*Store, error) { return newStore(db) }

func newStore(db *sqlx.DB) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

type reservationRow struct {
	ID            string `db:"id"`
	StationID     string `db:"station_id"`
	RequesterID   string `db:"requester_id"`
	StartAt       int64  `db:"start_at"`
	EndAt         int64  `db:"end_at"`
	PaymentAmount string `db:"payment_amount"`
	Remarks       string `db:"remarks"`
	CreatedAt     int64  `db:"created_at"`
}

func (r reservationRow) model() (model.Reservation, error) {
	amount, err := decimal.NewFromString(r.PaymentAmount)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("reservation %s amount: %w", r.ID, err)
	}
	return model.Reservation{
		ID:            r.ID,
		StationID:     r.StationID,
		RequesterID:   r.RequesterID,
		Interval:      model.Interval{Start: time.Unix(0, r.StartAt).UTC(), End: time.Unix(0, r.EndAt).UTC()},
		PaymentAmount: amount,
		Remarks:       r.Remarks,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

type entryRow struct {
	ID          string `db:"id"`
	StationID   string `db:"station_id"`
	RequesterID string `db:"requester_id"`
	Priority    int    `db:"priority"`
	EnrolledAt  int64  `db:"enrolled_at"`
	Status      string `db:"status"`
}

func (r entryRow) model() (model.QueueEntry, error) {
	st, err := model.ParseQueueStatus(r.Status)
	if err != nil {
		return model.QueueEntry{}, err
	}
	return model.QueueEntry{
		ID:          r.ID,
		StationID:   r.StationID,
		RequesterID: r.RequesterID,
		Priority:    r.Priority,
		EnrolledAt:  time.Unix(0, r.EnrolledAt).UTC(),
		Status:      st,
	}, nil
}

const reservationColumns = `id, station_id, requester_id, start_at, end_at, payment_amount, remarks, created_at`

const entryColumns = `id, station_id, requester_id, priority, enrolled_at, status`

func (s *Store) CreateReservation(ctx context.Context, r model.Reservation) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO reservations (`+reservationColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.StationID, r.RequesterID, r.Interval.Start.UnixNano(), r.Interval.End.UnixNano(),
		r.PaymentAmount.String(), r.Remarks, r.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Reservation{}, err
	}
	return row.model()
}

func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM reservations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *Store) OverlappingReservations(ctx context.Context, stationID string, iv model.Interval) ([]model.Reservation, error) {
	return s.selectReservations(ctx, `WHERE station_id = ? AND start_at < ? AND end_at > ?`,
		stationID, iv.End.UnixNano(), iv.Start.UnixNano())
}

func (s *Store) ReservationsByStation(ctx context.Context, stationID string) ([]model.Reservation, error) {
	return s.selectReservations(ctx, `WHERE station_id = ?`, stationID)
}

func (s *Store) ReservationsByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	return s.selectReservations(ctx, `WHERE requester_id = ?`, requesterID)
}

func (s *Store) selectReservations(ctx context.Context, where string, args ...any) ([]model.Reservation, error) {
	var rows []reservationRow
	query := s.db.Rebind(`SELECT ` + reservationColumns + ` FROM reservations ` + where + ` ORDER BY start_at, id`)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	res := make([]model.Reservation, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

func (s *Store) AddEntry(ctx context.Context, e model.QueueEntry) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO queue_entries (`+entryColumns+`)
        VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.StationID, e.RequesterID, e.Priority, e.EnrolledAt.UnixNano(), e.Status.String())
	if err != nil {
		return fmt.Errorf("insert queue entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (model.QueueEntry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueueEntry{}, fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.QueueEntry{}, err
	}
	return row.model()
}

func (s *Store) UpdateEntryStatus(ctx context.Context, id string, status model.QueueStatus) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE queue_entries SET status = ? WHERE id = ?`), status.String(), id)
	if err != nil {
		return fmt.Errorf("update queue entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("queue entry %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *Store) EntriesByStation(ctx context.Context, stationID string) ([]model.QueueEntry, error) {
	return s.selectEntries(ctx, `WHERE station_id = ?`, stationID)
}

func (s *Store) EntriesByStatus(ctx context.Context, status model.QueueStatus) ([]model.QueueEntry, error) {
	return s.selectEntries(ctx, `WHERE status = ?`, status.String())
}

func (s *Store) selectEntries(ctx context.Context, where string, args ...any) ([]model.QueueEntry, error) {
	var rows []entryRow
	query := s.db.Rebind(`SELECT ` + entryColumns + ` FROM queue_entries ` + where + ` ORDER BY priority, enrolled_at, id`)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select queue entries: %w", err)
	}
	res := make([]model.QueueEntry, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

func (s *Store) DeleteCompleted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM queue_entries WHERE status = ?`), model.QueueCompleted.String())
	if err != nil {
		return 0, fmt.Errorf("delete completed entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
