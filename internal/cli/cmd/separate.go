package cmd

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"stemwatch/internal/model"
	"stemwatch/internal/rpc"
	"stemwatch/internal/stream"
)

func newSeparateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "separate <file>",
		Short:         "Submit an audio file for stem separation and watch it",
		Long:          "Submit an audio file for separation. The path is read by the server, so it must be valid on the server's filesystem.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE:          runSeparate,
	}
	cmd.Flags().String("model", model.DefaultModel, "Separation model")
	cmd.Flags().StringSlice("stems", model.DefaultStems, "Stems to extract")
	cmd.Flags().Bool("no-watch", false, "Print the job id and exit without watching")
	cmd.Flags().Bool("tui", false, "Force the terminal UI")
	return cmd
}

func runSeparate(cmd *cobra.Command, args []string) error {
	env := envFrom(cmd)
	modelName, _ := cmd.Flags().GetString("model")
	stems, _ := cmd.Flags().GetStringSlice("stems")
	noWatch, _ := cmd.Flags().GetBool("no-watch")

	client, err := env.newClient()
	if err != nil {
		return err
	}
	ticket, err := client.Separate(cmd.Context(), model.SeparateRequest{
		FilePath:       args[0],
		Model:          strings.TrimSpace(modelName),
		Stems:          stems,
		StreamProgress: !noWatch,
	})
	if err != nil {
		return rpcExit(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s, stems: %s)\n",
		ticket.JobID, ticket.Model, strings.Join(ticket.Stems, ", "))
	if noWatch {
		return nil
	}

	var endpoint stream.Endpoint
	if ticket.StreamURL != "" {
		if endpoint, err = env.settings.EndpointFor(ticket.StreamURL); err != nil {
			return &ExitError{Code: ExitCLIError, Err: errors.Wrap(err, "server sent an unusable stream URL")}
		}
	}
	return watchJobs(cmd, []string{ticket.JobID}, endpoint)
}

// rpcExit maps a side-channel error to an exit code: misuse is a CLI
// error, a server-side rejection a job failure, anything else means the
// server could not be reached.
func rpcExit(err error) error {
	var rpcErr *rpc.Error
	switch {
	case errors.Is(err, rpc.ErrNoJobID):
		return &ExitError{Code: ExitCLIError, Err: err}
	case errors.Is(err, rpc.ErrServer), errors.Is(err, rpc.ErrToolFailed), errors.As(err, &rpcErr):
		return &ExitError{Code: ExitJobFailed, Err: err}
	default:
		return &ExitError{Code: ExitUnreachable, Err: err}
	}
}
