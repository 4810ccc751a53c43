package cmd

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"stemwatch/internal/rpc"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "doctor",
		Short:         "Check the separation server: health, tools and models",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFrom(cmd)
			client, err := env.newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			health, err := client.Health(ctx)
			if err != nil {
				return &ExitError{Code: ExitUnreachable, Err: err}
			}
			fmt.Fprintf(out, "Server:    %s (%s %s)\n", client.BaseURL(), health.Server, health.Version)
			fmt.Fprintf(out, "Status:    %s, %d active job(s), %d active stream(s)\n", health.Status, health.ActiveJobs, health.ActiveStreams)

			tools, err := client.ListTools(ctx)
			if err != nil {
				return rpcExit(err)
			}
			names := make([]string, 0, len(tools))
			var haveSeparate bool
			for _, t := range tools {
				names = append(names, t.Name)
				haveSeparate = haveSeparate || t.Name == rpc.ToolSeparate
			}
			fmt.Fprintf(out, "Tools:     %s\n", strings.Join(names, ", "))
			if !haveSeparate {
				return &ExitError{Code: ExitUnreachable, Err: errors.Newf("server does not offer the %s tool", rpc.ToolSeparate)}
			}

			models, err := client.Models(ctx)
			if err != nil {
				env.logger.Warnw("Could not list models", "error", err)
				return nil
			}
			for i, m := range models {
				label := ""
				if i == 0 {
					label = "Models:"
				}
				fmt.Fprintf(out, "%-10s %s  %s\n", label, m.Name, m.Description)
			}
			return nil
		},
	}
}
