package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/parallax/pkg/parallax/output"
	"github.com/jamesainslie/parallax/pkg/parallax/profiler"
)

func newProfileCmd(a *app) *cobra.Command {
	var fast bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the measured system profile",
		Long: `Detect cores and usable memory (honoring container limits) and measure the
cost of starting goroutine workers, starting worker processes and submitting
a chunk. Measurements that stay too noisy fall back to platform constants and
are marked as such.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.profile()
			if fast {
				opts := profiler.DefaultOptions()
				opts.SkipProcessProbe = true
				p = profiler.Detect(opts)
			}
			return a.render(cmd.OutOrStdout(), &output.Report{Profile: p})
		},
	}

	cmd.Flags().BoolVar(&fast, "fast", false, "skip timing worker processes and use the platform constant")
	return cmd
}
