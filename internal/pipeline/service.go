// Package pipeline orchestrates watching jobs end to end: one stream session
// per job, a bounded number at once, and a status lookup when a stream ends
// without telling how the job went.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"stemwatch/internal/model"
	"stemwatch/internal/progress"
	"stemwatch/internal/stream"
)

// DefaultWorkers is how many jobs are streamed at once when unset.
const DefaultWorkers = 4

// StatusFetcher looks up the last known state of a job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (model.Job, error)
}

// Service watches jobs and reports how each one ended.
type Service struct {
	endpoint    stream.Endpoint
	sessionOpts []stream.Option
	status      StatusFetcher
	reporter    progress.Reporter
	logger      *zap.SugaredLogger
	workers     int
}

// Option configures a Service.
type Option func(*Service)

// WithEndpoint sets how a job id maps to its stream address.
func WithEndpoint(e stream.Endpoint) Option {
	return func(s *Service) {
		s.endpoint = e
	}
}

// WithSessionOptions sets the options every session is created with.
func WithSessionOptions(opts ...stream.Option) Option {
	return func(s *Service) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// WithStatusFetcher enables the status lookup for inconclusive streams.
func WithStatusFetcher(f StatusFetcher) Option {
	return func(s *Service) {
		s.status = f
	}
}

// WithReporter attaches a reporter to every session. It is called from
// several sessions concurrently and must be safe for that.
func WithReporter(rp progress.Reporter) Option {
	return func(s *Service) {
		s.reporter = rp
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithWorkers bounds how many jobs are streamed at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		s.workers = n
	}
}

// NewService constructs a Service. An endpoint is required.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{logger: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	if s.endpoint == nil {
		return nil, errors.New("stream endpoint is required")
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	return s, nil
}

// Watch streams one job until its session closes or ctx is cancelled.
// The returned error is non-nil only when the job could not be watched at
// all or ctx ended first; job failures are reported in the outcome.
func (s *Service) Watch(ctx context.Context, jobID string) (model.Outcome, error) {
	out := model.Outcome{JobID: strings.TrimSpace(jobID), Kind: progress.KindUnknown}

	opts := append([]stream.Option{stream.WithLogger(s.logger)}, s.sessionOpts...)
	sess, err := stream.NewSession(s.endpoint, opts...)
	if err != nil {
		return out, err
	}

	var mu sync.Mutex
	record := func(ev stream.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Type {
		case stream.EventCompleted, stream.EventError:
			if out.Kind.Terminal() {
				return
			}
			out.Kind = ev.Message.Kind
			out.Message = ev.Message.Text()
			out.OutputFiles = ev.Message.Payload.OutputFiles()
			if ev.Err != nil {
				out.Err = ev.Err
				out.Kind = progress.KindUnknown
			}
		case stream.EventEnd:
			if out.Kind == progress.KindUnknown {
				out.Kind = progress.KindEnd
				out.Message = ev.Message.Text()
			}
		}
	}
	for _, t := range []stream.EventType{stream.EventCompleted, stream.EventError, stream.EventEnd} {
		sess.On(t, record)
	}
	if s.reporter != nil {
		detach := stream.Attach(sess, s.reporter)
		defer detach()
	}

	start := time.Now()
	if err := sess.Connect(out.JobID); err != nil {
		return out, err
	}

	var waitErr error
	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Disconnect()
		<-sess.Done()
		waitErr = ctx.Err()
	}

	stats := sess.Stats()
	mu.Lock()
	res := out
	mu.Unlock()
	res.Frames = stats.Frames
	res.Bytes = stats.Bytes
	res.Elapsed = time.Since(start)

	if waitErr != nil {
		return res, waitErr
	}
	return s.resolve(ctx, res), nil
}

// resolve asks the status endpoint how an inconclusive stream really ended.
func (s *Service) resolve(ctx context.Context, out model.Outcome) model.Outcome {
	if out.Kind.Terminal() || s.status == nil {
		return out
	}
	job, err := s.status.JobStatus(ctx, out.JobID)
	if err != nil {
		s.logger.Warnw("Could not fetch job status", "job_id", out.JobID, "error", err)
		return out
	}

	out.Status = job.Status
	switch strings.ToLower(job.Status) {
	case "completed":
		out.Kind = progress.KindCompleted
		out.Resolved = true
		out.OutputFiles = job.OutputFiles
		out.Message = job.Message
	case "error", "failed":
		out.Kind = progress.KindError
		out.Resolved = true
		out.Message = job.Message
		if job.Error != "" {
			out.Message = job.Error
		}
	default:
		out.Message = fmt.Sprintf("last known status %q at %.0f%%", job.Status, job.Progress)
	}
	s.logger.Infow("Resolved job status", "job_id", out.JobID, "status", job.Status, "kind", out.Kind.String())
	return out
}

// WatchAll watches every job, at most the configured number at once, and
// returns outcomes in the order of jobIDs.
func (s *Service) WatchAll(ctx context.Context, jobIDs []string) ([]model.Outcome, error) {
	outcomes := make([]model.Outcome, len(jobIDs))
	errs := make([]error, len(jobIDs))

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i, id := range jobIDs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			for j := i; j < len(jobIDs); j++ {
				outcomes[j] = model.Outcome{JobID: jobIDs[j]}
				errs[j] = ctx.Err()
			}
			wg.Wait()
			return outcomes, errors.Join(errs...)
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i], errs[i] = s.Watch(ctx, id)
			if errs[i] != nil {
				errs[i] = errors.Wrapf(errs[i], "watch %s", id)
			}
		}(i, id)
	}
	wg.Wait()
	return outcomes, errors.Join(errs...)
}

// Summary counts outcomes by how they ended.
type Summary struct {
	Completed int
	Failed    int
	Lost      int
}

// Summarize tallies outcomes.
func Summarize(outcomes []model.Outcome) Summary {
	var sum Summary
	for _, o := range outcomes {
		switch {
		case o.Succeeded():
			sum.Completed++
		case o.Kind == progress.KindError:
			sum.Failed++
		default:
			sum.Lost++
		}
	}
	return sum
}
