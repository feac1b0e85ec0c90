package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargeslot/core/model"
	sqlstore "github.com/kilianp07/chargeslot/infra/store/sql"
)

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "export.db")
	st, err := sqlstore.OpenSQLite(dbPath)
	require.NoError(t, err)
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateReservation(context.Background(), model.Reservation{
		ID:          "r1",
		StationID:   "st-1",
		RequesterID: "alice",
		Interval:    model.Interval{Start: start, End: start.Add(time.Hour)},
		CreatedAt:   start,
	}))
	require.NoError(t, st.Close())

	cfgFile := filepath.Join(dir, "config.yaml")
	data := fmt.Sprintf(`admission:
  base_service_time_ms: 60000
  min_service_time_ms: 1000
  decrement_per_waiter_ms: 0
  cleanup_interval_ms: 1000
store:
  backend:
    type: sqlite
    conf:
      path: %q
`, dbPath)
	require.NoError(t, os.WriteFile(cfgFile, []byte(data), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"export", "-c", cfgFile, "--station", "st-1"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "r1,st-1,alice,2025-06-02T10:00:00Z"))
}
