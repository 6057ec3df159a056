package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
	"github.com/jamesainslie/parallax/pkg/parallax/output"
	"github.com/jamesainslie/parallax/pkg/parallax/sampler"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// planOptions holds the flags of the plan command.
type planOptions struct {
	name      string
	items     int
	itemTime  time.Duration
	jitter    float64
	ioFrac    float64
	payload   string
	seed      uint64
	stream    bool
	local     bool
	noCache   bool
	noHistory bool
	timeout   time.Duration
}

func newPlanCmd(a *app) *cobra.Command {
	var opts planOptions

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a synthetic workload",
		Long: `Build a synthetic job from the flags below and ask the optimizer how to run it.

Each item computes for (1 - io-fraction) of its item time and waits for the
rest. Jitter spreads item times to exercise adaptive chunking. Decisions for
named jobs are cached and recorded in history, so repeated runs of the same
workload on this machine are answered without sampling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "synthetic", "job name used for caching and history")
	f.IntVar(&opts.items, "items", 1000, "number of input items")
	f.DurationVar(&opts.itemTime, "item-time", 10*time.Millisecond, "mean time per item")
	f.Float64Var(&opts.jitter, "jitter", 0, "relative spread of item times (0-1)")
	f.Float64Var(&opts.ioFrac, "io-fraction", 0, "share of item time spent waiting (0-1)")
	f.StringVar(&opts.payload, "payload", "64B", "payload size per item and result")
	f.Uint64Var(&opts.seed, "seed", 1, "seed for item times and payloads")
	f.BoolVar(&opts.stream, "stream", false, "hide the input length from the optimizer")
	f.BoolVar(&opts.local, "local", false, "use an unregistered job that cannot run in worker processes")
	f.BoolVar(&opts.noCache, "no-cache", false, "bypass the decision cache")
	f.BoolVar(&opts.noHistory, "no-history", false, "neither consult nor record history")
	f.DurationVar(&opts.timeout, "timeout", 0, "give up sampling after this long (0 = no limit)")

	f.Int("sample-size", 0, "items to sample before deciding")
	f.Duration("target-chunk", 0, "target duration of one chunk")
	f.String("max-memory", "", "memory available to one worker, e.g. 512MB")
	f.String("backend", "", "force a backend: serial, thread_pool or process_pool")
	f.Float64("min-speedup", 0, "speedup a parallel plan must reach")

	return cmd
}

func runPlan(cmd *cobra.Command, a *app, opts planOptions) error {
	payload, err := types.ParseSize(opts.payload)
	if err != nil {
		return fmt.Errorf("invalid payload size %q: %w", opts.payload, err)
	}
	spec := workloadSpec{
		Items:      opts.items,
		ItemTime:   opts.itemTime,
		Jitter:     opts.jitter,
		IOFraction: opts.ioFrac,
		Payload:    int(payload),
		Seed:       opts.seed,
	}
	if err := spec.validate(); err != nil {
		return err
	}
	if opts.name == "" && !opts.local {
		return errors.New("--name must not be empty unless --local is set")
	}
	j, err := syntheticJob(opts.name, opts.local)
	if err != nil {
		return err
	}

	o, release, err := a.newOptimizer(!opts.noCache, !opts.noHistory)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	in := sampler.FromSeqN(spec.all(), spec.Items)
	if opts.stream {
		in = sampler.FromSeq(spec.all())
	}

	logger.Debug("planning", "job", j.Name(), "items", spec.Items, "item_time", spec.ItemTime)

	outcome, err := optimizer.Optimize(ctx, o, j, in)
	if outcome != nil && outcome.Items != nil {
		defer outcome.Items.Close()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("sampling interrupted: %w", err)
		}
		return fmt.Errorf("optimization failed: %w", err)
	}

	return a.render(cmd.OutOrStdout(), &output.Report{Plan: outcome.Result})
}
