// Package stream keeps a progress stream for one job alive and turns its
// frames into typed callbacks.
//
// A Session owns one transport connection at a time, a liveness deadline and
// a reconnect timer. Everything it observes is funnelled through a single
// event loop goroutine, so listeners see events one at a time and in wire
// order.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stemwatch/internal/progress"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNoJobID            = errors.New("job id is required")
	ErrSessionBusy        = errors.New("session is streaming another job")
	ErrSessionClosed      = errors.New("session is closed")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrStale              = errors.New("no frames within heartbeat timeout")
	ErrStreamEnded        = errors.New("stream ended before a terminal outcome")
)

// Endpoint maps a job id to the address the transport connects to.
type Endpoint func(jobID string) string

// Stats is a snapshot of session counters.
type Stats struct {
	Frames        int
	Bytes         int64
	DecodeErrors  int
	Suppressed    int
	KeepAlives    int
	Reconnects    int
	StaleTimeouts int
	Connections   int

	StartedAt   time.Time
	ConnectedAt time.Time
	LastFrameAt time.Time

	// Outcome is the first terminal kind seen, KindUnknown if none.
	Outcome progress.Kind
	// Err is the terminal reconnection error, if the session gave up.
	Err error
}

// Session streams progress for one job.
type Session struct {
	endpoint   Endpoint
	transport  Transport
	cfg        Config
	policy     Policy
	classifier *Classifier
	logger     *zap.SugaredLogger
	metrics    *Metrics
	warnLimit  *rate.Limiter

	listeners *listenerSet
	box       *mailbox
	loopOnce  sync.Once
	done      chan struct{}

	mu       sync.Mutex
	state    State
	jobID    string
	latch    Latch
	attempts int
	gen      uint64
	cancel   context.CancelFunc
	retry    *time.Timer
	monitor  *Monitor
	stats    Stats
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets liveness, reconnection and classification settings.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithTransport sets the transport. Defaults to an SSE HTTPTransport.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMetrics records session activity into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession creates an idle session that will connect to endpoint(jobID).
func NewSession(endpoint Endpoint, opts ...Option) (*Session, error) {
	if endpoint == nil {
		return nil, errors.New("stream endpoint is required")
	}
	s := &Session{
		endpoint:  endpoint,
		cfg:       DefaultConfig(),
		logger:    zap.NewNop().Sugar(),
		listeners: newListenerSet(),
		box:       newMailbox(),
		done:      make(chan struct{}),
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid stream config")
	}
	if s.transport == nil {
		s.transport = NewHTTPTransport(WithTransportLogger(s.logger))
	}
	s.policy = s.cfg.policy()
	s.classifier = NewClassifier(s.cfg, s.logger)
	s.monitor = NewMonitor(s.cfg.HeartbeatTimeout, func() {
		s.box.post(loopEvent{kind: loopStale})
	})
	return s, nil
}

// On registers fn for events of type t and returns an id for Off.
// Listeners of one type run in registration order.
func (s *Session) On(t EventType, fn Listener) ListenerID {
	return s.listeners.add(t, fn)
}

// Off removes a registration. It reports whether the id was registered.
func (s *Session) Off(t EventType, id ListenerID) bool {
	return s.listeners.remove(t, id)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JobID returns the job this session streams, empty before Connect.
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// Latched reports whether a completed or error frame has been delivered.
func (s *Session) Latched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latch.Set()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Done is closed once the closed event has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is closed or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect starts streaming jobID. Connecting again for the same job replaces
// the current connection; a different job is refused with ErrSessionBusy.
func (s *Session) Connect(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.WithHint(ErrNoJobID, "pass the job id returned when the job was submitted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return errors.WithHint(ErrSessionClosed, "create a new session for each job")
	case StateConnecting, StateOpen, StateReconnecting:
		if jobID != s.jobID {
			s.logger.Warnw("Ignoring connect for a different job",
				"job_id", s.jobID,
				"requested", jobID,
				"state", s.state.String(),
			)
			return errors.Wrapf(ErrSessionBusy, "already streaming %s", s.jobID)
		}
		s.logger.Debugw("Replacing stream connection", "job_id", jobID)
		s.teardownLocked()
		s.attempts = 0
	default:
		s.jobID = jobID
		s.stats.StartedAt = time.Now()
	}

	s.loopOnce.Do(func() { go s.loop() })
	s.startLocked(s.notify)
	return nil
}

// Disconnect closes the session. It is idempotent, safe from any goroutine
// and from inside listeners; only the first call produces a closed event.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.loopOnce.Do(func() { go s.loop() })
	for _, ev := range s.shutdownLocked("disconnect") {
		s.notify(ev)
	}
}

// notify queues an event for delivery on the loop.
func (s *Session) notify(ev Event) {
	s.box.post(loopEvent{kind: loopNotify, event: ev})
}

func (s *Session) setStateLocked(st State) Event {
	prev := s.state
	s.state = st
	s.metrics.transition(prev, st)
	s.logger.Debugw("Stream state", "job_id", s.jobID, "from", prev.String(), "to", st.String())
	return Event{Type: EventState, JobID: s.jobID, State: st, Prev: prev}
}

// startLocked opens a new connection generation. emit receives the
// state event before the transport goroutine can report anything.
func (s *Session) startLocked(emit func(Event)) {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	url := s.endpoint(s.jobID)

	emit(s.setStateLocked(StateConnecting))
	s.monitor.Arm()

	s.logger.Debugw("Connecting stream", "job_id", s.jobID, "url", url, "attempt", s.attempts)
	go s.run(ctx, gen, url)
}

func (s *Session) run(ctx context.Context, gen uint64, url string) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("transport panic: %v", p)
		}
		s.box.post(loopEvent{kind: loopEnded, gen: gen, err: err})
	}()
	err = s.transport.Stream(ctx, url, connSink{box: s.box, gen: gen})
}

// teardownLocked releases the transport and both timers and invalidates
// anything still in flight for the current generation.
func (s *Session) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.monitor.Stop()
	s.gen++
}

func (s *Session) shutdownLocked(reason string) []Event {
	if s.state == StateClosed {
		return nil
	}
	s.teardownLocked()
	st := s.setStateLocked(StateClosed)
	s.logger.Infow("Stream session closed",
		"job_id", s.jobID,
		"reason", reason,
		"frames", s.stats.Frames,
		"reconnects", s.stats.Reconnects,
	)
	return []Event{st, {Type: EventClosed, JobID: s.jobID}}
}

// recoverLocked applies the reconnection policy after the current
// connection failed with cause.
func (s *Session) recoverLocked(cause error) []Event {
	if s.latch.Set() {
		s.logger.Debugw("Stream ended after terminal outcome", "job_id", s.jobID, "cause", cause)
		return s.shutdownLocked("terminal outcome delivered")
	}

	delay, ok := s.policy.Next(s.attempts)
	if !ok {
		var err error
		if s.policy.Enabled {
			err = errors.Wrapf(ErrReconnectExhausted, "gave up after %d attempts", s.attempts)
		} else {
			err = errors.Wrap(ErrReconnectExhausted, "reconnection disabled")
		}
		err = errors.WithSecondaryError(err, cause)
		s.stats.Err = err
		s.metrics.exhausted()
		s.logger.Warnw("Stream lost",
			"job_id", s.jobID,
			"attempts", s.attempts,
			"max_attempts", s.policy.MaxAttempts,
			"error", cause,
		)

		evs := s.shutdownLocked("reconnection exhausted")
		terminal := Event{
			Type:  EventError,
			JobID: s.jobID,
			Err:   err,
			Message: progress.Message{
				JobID:    s.jobID,
				Kind:     progress.KindError,
				Err:      err,
				Received: time.Now(),
			},
		}
		// state change, then the terminal error, then closed
		return []Event{evs[0], terminal, evs[1]}
	}

	s.attempts++
	s.stats.Reconnects++
	s.gen++
	gen := s.gen
	s.retry = time.AfterFunc(delay, func() {
		s.box.post(loopEvent{kind: loopRetry, gen: gen})
	})
	s.metrics.reconnect()
	s.logger.Warnw("Stream interrupted, reconnecting",
		"job_id", s.jobID,
		"attempt", s.attempts,
		"max_attempts", s.policy.MaxAttempts,
		"delay", delay,
		"error", cause,
	)
	return []Event{
		s.setStateLocked(StateReconnecting),
		{Type: EventReconnecting, JobID: s.jobID, Attempt: s.attempts, Delay: delay, Err: cause},
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for range s.box.wake {
		for {
			ev, ok := s.box.take()
			if !ok {
				break
			}
			if s.handle(ev) {
				return
			}
		}
	}
}

// handle processes one loop event and reports whether the session is finished.
func (s *Session) handle(ev loopEvent) bool {
	switch ev.kind {
	case loopNotify:
		s.dispatch(ev.event)
		return ev.event.Type == EventClosed
	case loopOpened:
		return s.deliver(s.onOpened(ev.gen))
	case loopFrame:
		return s.onFrame(ev.gen, ev.data)
	case loopKeepAlive:
		s.onKeepAlive(ev.gen)
	case loopEnded:
		return s.deliver(s.onEnded(ev.gen, ev.err))
	case loopStale:
		return s.deliver(s.onStale())
	case loopRetry:
		return s.deliver(s.onRetry(ev.gen))
	}
	return false
}

func (s *Session) onOpened(gen uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateConnecting {
		return nil
	}
	s.attempts = 0
	s.monitor.Arm()
	s.stats.Connections++
	s.stats.ConnectedAt = time.Now()
	s.logger.Infow("Stream connected", "job_id", s.jobID, "connections", s.stats.Connections)
	return []Event{
		s.setStateLocked(StateOpen),
		{Type: EventConnected, JobID: s.jobID},
	}
}

func (s *Session) onKeepAlive(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || (s.state != StateOpen && s.state != StateConnecting) {
		return
	}
	s.monitor.Arm()
	s.stats.KeepAlives++
	s.metrics.keepAlive()
}

func (s *Session) onFrame(gen uint64, data string) bool {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return false
	}
	s.monitor.Arm()
	now := time.Now()
	s.stats.Frames++
	s.stats.Bytes += int64(len(data))
	s.stats.LastFrameAt = now
	jobID := s.jobID
	s.mu.Unlock()

	msg := s.classifier.Parse(jobID, data, now)
	if msg.Err != nil {
		s.mu.Lock()
		s.stats.DecodeErrors++
		s.mu.Unlock()
		s.metrics.decodeError(len(data))
		if s.warnLimit.Allow() {
			s.logger.Warnw("Undecodable frame", "job_id", jobID, "error", msg.Err, "raw", truncate(data, 120))
		}
		return s.deliver([]Event{{Type: EventMessage, JobID: jobID, Message: msg, Err: msg.Err}})
	}

	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return false
	}
	wasSet := s.latch.Set()
	if !s.latch.Observe(msg.Kind) {
		s.stats.Suppressed++
		s.logger.Debugw("Suppressing end frame after terminal outcome", "job_id", jobID, "raw", truncate(data, 120))
		closing := s.shutdownLocked("terminal outcome delivered")
		s.mu.Unlock()
		s.metrics.suppressed()
		return s.deliver(closing)
	}
	if msg.Kind.Terminal() && !wasSet {
		s.stats.Outcome = msg.Kind
		s.metrics.terminal(s.stats.StartedAt)
	}
	s.mu.Unlock()
	s.metrics.frame(msg.Kind, len(data))

	evs := []Event{{Type: EventMessage, JobID: jobID, Message: msg}}
	if t, ok := eventFor(msg.Kind); ok {
		evs = append(evs, Event{Type: t, JobID: jobID, Message: msg})
	}
	if s.deliver(evs) {
		return true
	}

	if msg.Kind == progress.KindEnd || (msg.Kind.Terminal() && s.cfg.CloseOnTerminal) {
		reason := "server ended stream"
		if msg.Kind != progress.KindEnd {
			reason = "terminal outcome delivered"
		}
		s.mu.Lock()
		closing := s.shutdownLocked(reason)
		s.mu.Unlock()
		return s.deliver(closing)
	}
	return false
}

func (s *Session) onEnded(gen uint64, err error) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || (s.state != StateConnecting && s.state != StateOpen) {
		return nil
	}
	s.teardownLocked()
	if err == nil {
		err = ErrStreamEnded
	}
	return s.recoverLocked(err)
}

func (s *Session) onStale() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen && s.state != StateConnecting {
		return nil
	}
	if !s.monitor.Expired() {
		return nil
	}
	s.stats.StaleTimeouts++
	s.metrics.stale()
	timeout := s.monitor.Timeout()
	s.logger.Warnw("No frames within heartbeat timeout", "job_id", s.jobID, "timeout", timeout)
	s.teardownLocked()
	return s.recoverLocked(errors.Wrapf(ErrStale, "waited %s", timeout))
}

func (s *Session) onRetry(gen uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateReconnecting {
		return nil
	}
	s.retry = nil
	var evs []Event
	s.startLocked(func(ev Event) { evs = append(evs, ev) })
	return evs
}

// deliver dispatches evs in order and reports whether the closed event was
// among them. Events queued behind a disconnect made by a listener are dropped.
func (s *Session) deliver(evs []Event) bool {
	if len(evs) == 0 {
		return false
	}
	gen := s.generation()
	for _, ev := range evs {
		if ev.Type != EventClosed && s.generation() != gen {
			continue
		}
		s.dispatch(ev)
		if ev.Type == EventClosed {
			return true
		}
	}
	return false
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) dispatch(ev Event) {
	for _, r := range s.listeners.snapshot(ev.Type) {
		s.call(r, ev)
	}
}

func (s *Session) call(r registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Errorw("Listener panicked",
				"job_id", ev.JobID,
				"event", ev.Type.String(),
				"listener", r.id,
				"panic", p,
			)
		}
	}()
	r.fn(ev)
}
