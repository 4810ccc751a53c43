package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stemwatch/internal/model"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status <job-id>",
		Short:         "Show the last known state of a job",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := envFrom(cmd)
			client, err := env.newClient()
			if err != nil {
				return err
			}
			job, err := client.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return rpcExit(err)
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the job record as JSON")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "cleanup <job-id>",
		Short:         "Delete a job's files on the server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := envFrom(cmd)
			client, err := env.newClient()
			if err != nil {
				return err
			}
			msg, err := client.Cleanup(cmd.Context(), args[0])
			if err != nil {
				return rpcExit(err)
			}
			if msg == "" {
				msg = "Cleaned up"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func printJob(w io.Writer, job model.Job) {
	fmt.Fprintf(w, "Job:       %s\n", job.JobID)
	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	fmt.Fprintf(w, "Progress:  %.1f%%\n", job.Progress)
	if job.Model != "" {
		fmt.Fprintf(w, "Model:     %s\n", job.Model)
	}
	if len(job.Stems) > 0 {
		fmt.Fprintf(w, "Stems:     %s\n", strings.Join(job.Stems, ", "))
	}
	if job.FilePath != "" {
		fmt.Fprintf(w, "File:      %s\n", job.FilePath)
	}
	if job.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", job.Message)
	}
	if job.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", job.Error)
	}
	if t := job.Created(); !t.IsZero() {
		fmt.Fprintf(w, "Created:   %s\n", t.Local().Format(time.DateTime))
	}
	if t := job.Completed(); !t.IsZero() {
		fmt.Fprintf(w, "Completed: %s\n", t.Local().Format(time.DateTime))
	}
	for i, f := range job.OutputFiles {
		label := ""
		if i == 0 {
			label = "Outputs:"
		}
		fmt.Fprintf(w, "%-10s %s\n", label, f)
	}
}
