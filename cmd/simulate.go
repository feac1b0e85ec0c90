package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/chargeslot/qa/scenarios"
)

type simOptions struct {
	Requesters int
	Seed       int64
	BaseMS     int
	MinMS      int
	DecMS      int
	Scenario   string
}

var simOpts = simOptions{}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an in-memory walk-up queue and print the service order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, err := runSimulation(ctx, cmd.OutOrStdout(), simOpts)
		return err
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simOpts.Requesters, "requesters", "n", 5, "number of walk-up requesters")
	f.Int64Var(&simOpts.Seed, "seed", 1, "seed for the random priorities")
	f.IntVar(&simOpts.BaseMS, "base-ms", 200, "base service time in milliseconds")
	f.IntVar(&simOpts.MinMS, "min-ms", 50, "minimum service time in milliseconds")
	f.IntVar(&simOpts.DecMS, "dec-ms", 20, "service time decrement per waiting requester in milliseconds")
	f.StringVar(&simOpts.Scenario, "scenario", "", "YAML scenario file; overrides the random requesters")
	rootCmd.AddCommand(simulateCmd)
}

// runSimulation builds a scenario of o.Requesters walk-up requesters with
// random priorities, or loads o.Scenario when set, and runs it. The first
// requester finds the station idle and is served at once.
func runSimulation(ctx context.Context, w io.Writer, o simOptions) ([]string, error) {
	if o.Scenario != "" {
		sc, err := scenarios.Load(o.Scenario)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "scenario  %s\n", sc.Name)
		return scenarios.Run(ctx, w, sc)
	}
	if o.Requesters <= 0 {
		return nil, fmt.Errorf("requesters must be positive")
	}
	sc := &scenarios.Scenario{
		Name:    "random",
		Timings: scenarios.Timings{BaseMS: o.BaseMS, MinMS: o.MinMS, DecMS: o.DecMS},
	}
	rng := rand.New(rand.NewSource(o.Seed))
	for i := 0; i < o.Requesters; i++ {
		p := rng.Intn(5) + 1
		sc.Requesters = append(sc.Requesters, scenarios.RequesterDef{ID: fmt.Sprintf("r%d", i), Priority: &p})
	}
	return scenarios.Run(ctx, w, sc)
}
