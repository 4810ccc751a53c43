package cmd

import (
	"github.com/spf13/cobra"
)

func newTuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "tui [job-ids...]",
		Short:         "Force TUI mode while watching jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Force TUI; if stdout is not a terminal, the program reports it.
			return watchJobs(cmd, args, nil)
		},
	}
}
