package sql

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargeslot/core/factory"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/store"
	"github.com/kilianp07/chargeslot/infra/store/storetest"
)

func newSQLite(t *testing.T) store.Backend {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteBackend(t *testing.T) {
	storetest.Run(t, newSQLite)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "slots.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.AddEntry(ctx, model.QueueEntry{ID: "e1", StationID: "s1", RequesterID: "u1", Priority: 5}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	e, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "s1", e.StationID)
}

func TestSQLiteRegistered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reg.db")
	b, err := store.Open(store.Config{Backend: factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": path}}})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	_, ok := b.(*Store)
	assert.True(t, ok)

	_, err = store.Open(store.Config{Backend: factory.ModuleConfig{Type: "postgres"}})
	assert.Error(t, err)
}

// TestPostgresBackend runs against a live database when
// CHARGESLOT_POSTGRES_DSN is set.
func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("CHARGESLOT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHARGESLOT_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, err := OpenPostgres(dsn)
		require.NoError(t, err)
		_, err = s.db.Exec(`TRUNCATE reservations, queue_entries`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
