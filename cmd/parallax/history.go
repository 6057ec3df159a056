package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/parallax/pkg/parallax/config"
	"github.com/jamesainslie/parallax/pkg/parallax/output"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		jobArg string
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "View past decisions",
		Long: `View the decisions parallax has made for named jobs.

Each fresh decision is recorded with the job, input size and machine it was
made for. Once enough records agree, later runs reuse their plan instead of
sampling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}

			records, err := h.List(jobArg, limit)
			if err != nil {
				return fmt.Errorf("failed to list history: %w", err)
			}
			return a.render(cmd.OutOrStdout(), &output.Report{Records: records})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.Flags().StringVar(&jobArg, "job", "", "only show records of this job")

	historyShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show details of a decision",
		Long:  `Display a recorded decision by its ID or a unique ID prefix.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}

			rec, err := h.Get(args[0])
			if err != nil {
				return fmt.Errorf("failed to get record: %w", err)
			}
			return a.render(cmd.OutOrStdout(), &output.Report{Record: rec})
		},
	}

	historyCleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove old records",
		Long:  `Remove records older than the retention period.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}

			days := a.cfg.History.RetentionDays
			if days <= 0 {
				days = config.DefaultRetentionDays
			}

			removed, err := h.Cleanup(days)
			if err != nil {
				return fmt.Errorf("failed to clean history: %w", err)
			}
			a.infof(cmd.OutOrStdout(), "Removed %d records older than %d days.", removed, days)
			return nil
		},
	}
	historyCleanCmd.Flags().Int("days", 0, "retention period in days (default from config)")

	historyCmd.AddCommand(historyShowCmd, historyCleanCmd)
	return historyCmd
}
