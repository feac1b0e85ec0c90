package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/chargeslot/config"
	"github.com/kilianp07/chargeslot/core/store"
	"github.com/kilianp07/chargeslot/pkg/export"

	_ "github.com/kilianp07/chargeslot/infra/store/memory"
	_ "github.com/kilianp07/chargeslot/infra/store/redis"
	_ "github.com/kilianp07/chargeslot/infra/store/sql"
)

var (
	exportStation   string
	exportRequester string
	exportFormat    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export reservations of a station or requester as CSV or JSON",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportStation, "station", "", "station id")
	f.StringVar(&exportRequester, "requester", "", "requester id")
	f.StringVarP(&exportFormat, "format", "f", "csv", "output format: csv or json")
	exportCmd.MarkFlagsMutuallyExclusive("station", "requester")
	exportCmd.MarkFlagsOneRequired("station", "requester")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	ctx := context.Background()
	rs, err := backend.ReservationsByStation(ctx, exportStation)
	if exportRequester != "" {
		rs, err = backend.ReservationsByRequester(ctx, exportRequester)
	}
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), exportFormat, rs)
}
