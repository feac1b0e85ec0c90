package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/chargeslot/app"
	"github.com/kilianp07/chargeslot/config"
	"github.com/kilianp07/chargeslot/core/monitoring"
	"github.com/kilianp07/chargeslot/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "chargeslot",
	Short:        "Charging station booking and walk-up queue service",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	defer func() {
		if v := recover(); v != nil {
			monitoring.CapturePanic(v, map[string]string{"component": "main"})
			monitoring.Flush(2 * time.Second)
			panic(v)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
