package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dhoini/billing-scheduler/internal/clock"
	"github.com/Dhoini/billing-scheduler/internal/gateway"
	"github.com/Dhoini/billing-scheduler/internal/repository"
	"github.com/Dhoini/billing-scheduler/internal/scheduler"
	"github.com/Dhoini/billing-scheduler/internal/seed"
	"github.com/Dhoini/billing-scheduler/internal/tui"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

type simOptions struct {
	ticks       int
	step        time.Duration
	start       string
	successRate float64
	seed        uint64
	verbose     bool
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := simOptions{}

	cmd := &cobra.Command{
		Use:           "billing-sim",
		Short:         "Run the billing scheduler against the demo ledger on a simulated clock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return simulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.ticks, "ticks", "n", 10, "number of ticks to run")
	cmd.Flags().DurationVar(&opts.step, "step", 24*time.Hour, "simulated time between ticks")
	cmd.Flags().StringVar(&opts.start, "start", "", "simulation start (RFC3339), defaults to now")
	cmd.Flags().Float64Var(&opts.successRate, "success-rate", 0.8, "gateway success probability")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 42, "gateway random seed (0 = random)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print the ledger after every tick")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	return cmd
}

func simulate(ctx context.Context, out io.Writer, opts simOptions) error {
	if opts.ticks < 1 {
		return fmt.Errorf("ticks must be positive, got %d", opts.ticks)
	}
	if opts.step <= 0 {
		return fmt.Errorf("step must be positive, got %s", opts.step)
	}

	start := time.Now().UTC()
	if opts.start != "" {
		parsed, err := time.Parse(time.RFC3339, opts.start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		start = parsed.UTC()
	}

	log := logger.New(logger.ParseLevel(opts.logLevel))
	clk := clock.NewFake(start)
	store := repository.NewLedgerStore(log)

	subs, txns := seed.Demo(start)
	if err := store.Load(ctx, subs, txns); err != nil {
		return fmt.Errorf("load demo ledger: %w", err)
	}

	gw, err := gateway.NewStub(gateway.StubConfig{
		SuccessRate: opts.successRate,
		Seed:        opts.seed,
	}, log)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.DefaultConfig(), store, gw, clk, log)

	fmt.Fprintln(out, tui.RenderLedger(store.Snapshot(ctx)))
	for i := 1; i <= opts.ticks; i++ {
		report, err := sched.Tick(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, tui.RenderReport(i, clk.Now(), report))
		if opts.verbose {
			fmt.Fprintln(out, tui.RenderLedger(store.Snapshot(ctx)))
		}
		clk.Advance(opts.step)
	}
	fmt.Fprintln(out, tui.RenderLedger(store.Snapshot(ctx)))
	return nil
}
