package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
	"github.com/jamesainslie/parallax/pkg/parallax/output"
)

func newCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the decision cache",
		Long: `Commands for managing the decision cache.

The cache stores decisions per job, input size class and machine so that
repeat runs skip sampling. Entries expire after the configured TTL. Cache
data is stored in the XDG cache directory (typically ~/.cache/parallax/decisions).`,
	}

	cacheClearCmd := &cobra.Command{
		Use:   "clear [job]",
		Short: "Clear cached decisions",
		Long:  `Removes cached decisions, either all of them or only those of the named job.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			prefix := ""
			if len(args) == 1 {
				prefix = optimizer.KeyPrefix(args[0])
			}
			n, err := c.Clear(prefix)
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}

			if n == 0 {
				a.infof(cmd.OutOrStdout(), "Cache is already empty.")
				return nil
			}
			a.infof(cmd.OutOrStdout(), "Removed %d cached decisions.", n)
			return nil
		},
	}

	cacheStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Long:  `Displays the cache location and how many decisions it holds.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats()
			if err != nil {
				return fmt.Errorf("failed to read cache stats: %w", err)
			}
			return a.render(cmd.OutOrStdout(), &output.Report{Cache: &stats})
		},
	}

	cachePathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show cache location",
		Long:  `Prints the path to the cache directory.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), a.cfg.Cache.Path)
		},
	}

	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd, cachePathCmd)
	return cacheCmd
}
