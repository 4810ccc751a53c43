package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"stemwatch/internal/model"
	"stemwatch/internal/pipeline"
	"stemwatch/internal/progress"
	"stemwatch/internal/rpc"
	"stemwatch/internal/stream"
	"stemwatch/internal/ui"
	"stemwatch/internal/util/format"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "watch [job-ids...]",
		Short:         "Follow the progress stream of one or more jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJobs(cmd, args, nil)
		},
	}
}

// checkJobIDs trims and validates job ids from the command line.
func checkJobIDs(env *appEnv, args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, a := range args {
		id := strings.TrimSpace(a)
		if id == "" {
			return nil, errors.WithHint(rpc.ErrNoJobID, "job ids are printed by `stemwatch separate`")
		}
		if !rpc.LooksLikeJobID(id) {
			env.logger.Debugw("Job id is not a UUID, watching anyway", "job_id", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// watchJobs streams every job to its outcome and maps the outcomes to an
// exit code. A nil endpoint streams from the configured path template.
func watchJobs(cmd *cobra.Command, args []string, endpoint stream.Endpoint) error {
	env := envFrom(cmd)
	ids, err := checkJobIDs(env, args)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	if endpoint == nil {
		if endpoint, err = env.settings.Endpoint(); err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
	}
	client, err := env.newClient()
	if err != nil {
		return err
	}

	build := func(rep progress.Reporter) (*pipeline.Service, error) {
		return pipeline.NewService(
			pipeline.WithEndpoint(endpoint),
			pipeline.WithSessionOptions(env.sessionOptions()...),
			pipeline.WithStatusFetcher(client),
			pipeline.WithReporter(rep),
			pipeline.WithLogger(env.logger),
			pipeline.WithWorkers(env.settings.Jobs),
		)
	}

	var outcomes []model.Outcome
	if env.tui {
		outcomes, err = ui.Run(cmd.Context(), ids, env.settings.Jobs, func(rep progress.Reporter) (ui.Watcher, error) {
			return build(rep)
		})
	} else {
		var svc *pipeline.Service
		if svc, err = build(newLineReporter(cmd.OutOrStdout())); err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
		outcomes, err = svc.WatchAll(cmd.Context(), ids)
		printOutcomes(cmd.OutOrStdout(), outcomes)
	}
	if err != nil && cmd.Context().Err() == nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	return exitFor(outcomes, cmd.Context().Err())
}

// exitFor returns the error for the worst outcome, or nil when every job completed.
func exitFor(outcomes []model.Outcome, interrupted error) error {
	code := ExitOK
	var problems []string
	for _, o := range outcomes {
		switch {
		case o.Succeeded():
			continue
		case o.Kind == progress.KindError:
			code = max(code, ExitJobFailed)
			problems = append(problems, fmt.Sprintf("- %s: failed: %s", o.JobID, o.Message))
		default:
			code = max(code, ExitStreamLost)
			reason := "stream ended without a result"
			if o.Err != nil {
				reason = o.Err.Error()
			} else if o.Message != "" && o.Kind != progress.KindEnd {
				reason = o.Message
			}
			problems = append(problems, fmt.Sprintf("- %s: %s", o.JobID, reason))
		}
	}
	if code == ExitOK && interrupted == nil {
		return nil
	}
	if code == ExitOK {
		code = ExitStreamLost
	}
	err := errors.Newf("%d of %d job(s) did not complete", len(problems), len(outcomes))
	if len(problems) > 0 {
		err = errors.Newf("%s:\n%s", err, strings.Join(problems, "\n"))
	}
	if interrupted != nil {
		err = errors.WithSecondaryError(errors.Wrap(err, "interrupted"), interrupted)
	}
	return &ExitError{Code: code, Err: err}
}

func printOutcomes(w io.Writer, outcomes []model.Outcome) {
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		src := ""
		if o.Resolved {
			src = " (from job status)"
		}
		fmt.Fprintf(w, "%s: %d stem(s) in %s%s\n", o.JobID, len(o.OutputFiles), o.Elapsed.Round(time.Second), src)
		if len(o.OutputFiles) > 0 {
			fmt.Fprintf(w, "  stems: %s\n", format.StemList(o.OutputFiles))
		}
		for _, f := range o.OutputFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	sum := pipeline.Summarize(outcomes)
	fmt.Fprintf(w, "Completed: %d  Failed: %d  Lost: %d\n", sum.Completed, sum.Failed, sum.Lost)
}

// lineReporter prints one line per stream event.
type lineReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineReporter(w io.Writer) *lineReporter {
	return &lineReporter{w: w}
}

func (r *lineReporter) printf(jobID, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "[%s] "+format+"\n", append([]any{jobID}, args...)...)
}

func (r *lineReporter) Connected(jobID string) {
	r.printf(jobID, "connected")
}

func (r *lineReporter) Progress(m progress.Message) {
	if p := m.Percent(); p >= 0 {
		r.printf(m.JobID, "%5.1f%% %s", p, m.Text())
		return
	}
	r.printf(m.JobID, "%s", m.Text())
}

func (r *lineReporter) Undecodable(m progress.Message) {
	r.printf(m.JobID, "skipped undecodable frame: %v", m.Err)
}

func (r *lineReporter) Completed(m progress.Message) {
	r.printf(m.JobID, "completed: %s", m.Text())
}

func (r *lineReporter) Error(m progress.Message) {
	if m.Err != nil {
		r.printf(m.JobID, "stream lost: %v", m.Err)
		return
	}
	r.printf(m.JobID, "error: %s", m.Text())
}

func (r *lineReporter) End(m progress.Message) {
	r.printf(m.JobID, "stream ended: %s", m.Text())
}

func (r *lineReporter) Reconnecting(jobID string, attempt int, delay time.Duration) {
	r.printf(jobID, "connection lost, retrying in %s (attempt %d)", delay, attempt)
}

func (r *lineReporter) Closed(string) {}
