package stream

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stemwatch/internal/progress"
)

const waitFor = 2 * time.Second

// fakeTransport hands each connection to the test, which scripts it.
type fakeTransport struct {
	conns chan *fakeConn

	mu    sync.Mutex
	dials int
}

type fakeConn struct {
	url  string
	sink Sink
	ctx  context.Context
	end  chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 16)}
}

func (f *fakeTransport) Stream(ctx context.Context, url string, sink Sink) error {
	f.mu.Lock()
	f.dials++
	f.mu.Unlock()
	c := &fakeConn{url: url, sink: sink, ctx: ctx, end: make(chan error, 1)}
	f.conns <- c
	select {
	case err := <-c.end:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a connection attempt")
		return nil
	}
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// recorder captures every event the session delivers.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(s *Session) *recorder {
	r := &recorder{}
	for _, t := range []EventType{
		EventConnected, EventProgress, EventCompleted, EventError, EventEnd,
		EventMessage, EventReconnecting, EventState, EventClosed,
	} {
		s.On(t, r.add)
	}
	return r
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(t EventType) int {
	return len(r.of(t))
}

func (r *recorder) states() []State {
	var out []State
	for _, ev := range r.of(EventState) {
		out = append(out, ev.State)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = 0
	cfg.ReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectAttempts = 2
	return cfg
}

func newTestSession(t *testing.T, cfg Config, tr Transport, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{
		WithConfig(cfg),
		WithTransport(tr),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	}, opts...)
	s, err := NewSession(func(jobID string) string { return "fake://progress/" + jobID }, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Disconnect()
		select {
		case <-s.Done():
		case <-time.After(waitFor):
			t.Error("session did not finish")
		}
	})
	return s
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, time.Millisecond,
		"state never became %s (now %s)", want, s.State())
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatalf("session not closed, state %s", s.State())
	}
}

func TestSessionDeliversFramesInOrder(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	assert.Equal(t, "fake://progress/job-1", conn.url)

	conn.sink.Opened()
	conn.sink.Frame(`{"progress":0}`)
	conn.sink.Frame(`{"progress":50,"message":"half"}`)
	conn.sink.Frame(`{"progress":100,"status":"completed"}`)

	require.Eventually(t, func() bool { return rec.count(EventCompleted) == 1 }, waitFor, time.Millisecond)

	progressEvents := rec.of(EventProgress)
	require.Len(t, progressEvents, 2)
	assert.Equal(t, float64(0), progressEvents[0].Message.Percent())
	assert.Equal(t, float64(50), progressEvents[1].Message.Percent())
	assert.Equal(t, "half", progressEvents[1].Message.Payload.Message)

	completed := rec.of(EventCompleted)[0]
	assert.Equal(t, float64(100), completed.Message.Percent())
	assert.Equal(t, "job-1", completed.JobID)

	// Every frame also goes to message listeners, in wire order.
	var kinds []progress.Kind
	for _, ev := range rec.of(EventMessage) {
		kinds = append(kinds, ev.Message.Kind)
	}
	assert.Equal(t, []progress.Kind{progress.KindProgress, progress.KindProgress, progress.KindCompleted}, kinds)

	assert.True(t, s.Latched())
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, 1, rec.count(EventConnected))
	assert.Equal(t, progress.KindCompleted, s.Stats().Outcome)
	assert.Equal(t, 3, s.Stats().Frames)
}

func TestSessionSuppressesEndAfterTerminal(t *testing.T) {
	tests := []struct {
		name     string
		terminal string
		closing  string
	}{
		{
			name:     "end after completed",
			terminal: `{"type":"completed","progress":100,"status":"completed","output_files":["a.wav"]}`,
			closing:  `{"type":"end","job_id":"job-1"}`,
		},
		{
			name:     "sentinel after completed",
			terminal: `{"progress":100,"status":"completed"}`,
			closing:  `{"message":"Stream closed"}`,
		},
		{
			name:     "end after error",
			terminal: `{"status":"error","message":"boom"}`,
			closing:  `{"type":"end"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			s := newTestSession(t, testConfig(), tr)
			rec := record(s)

			require.NoError(t, s.Connect("job-1"))
			conn := tr.next(t)
			conn.sink.Opened()
			conn.sink.Frame(tt.terminal)
			conn.sink.Frame(tt.closing)

			// The server keeps the connection alive after ending the stream.
			conn.sink.KeepAlive()
			conn.sink.KeepAlive()
			conn.sink.Frame(`{"type":"end"}`)

			waitClosed(t, s)
			select {
			case <-conn.ctx.Done():
			case <-time.After(waitFor):
				t.Fatal("transport was not released")
			}
			assert.Equal(t, StateClosed, s.State())
			assert.Equal(t, 0, rec.count(EventEnd))
			assert.Equal(t, 1, rec.count(EventCompleted)+rec.count(EventError))
			assert.Equal(t, 0, rec.count(EventReconnecting))
			assert.Equal(t, 1, rec.count(EventClosed))
			assert.Equal(t, []State{StateConnecting, StateOpen, StateClosed}, rec.states())

			stats := s.Stats()
			assert.Equal(t, 1, stats.Suppressed)
			assert.Equal(t, 2, stats.Frames)
			assert.Equal(t, 1, tr.dialCount())
			assert.NoError(t, stats.Err)
		})
	}

	t.Run("transport closing after completion", func(t *testing.T) {
		tr := newFakeTransport()
		s := newTestSession(t, testConfig(), tr)
		rec := record(s)

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		conn.sink.Frame(`{"progress":100,"status":"completed"}`)
		require.Eventually(t, func() bool { return rec.count(EventCompleted) == 1 }, waitFor, time.Millisecond)
		conn.end <- nil

		waitClosed(t, s)
		assert.Equal(t, 0, rec.count(EventReconnecting))
		assert.Equal(t, 1, rec.count(EventClosed))
		assert.Equal(t, 0, s.Stats().Suppressed)
		assert.NoError(t, s.Stats().Err)
	})
}

func TestSessionReconnectExhaustion(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr, WithMetrics(metrics))
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))

	conn := tr.next(t)
	conn.sink.Opened()
	conn.end <- errors.New("connection reset")

	// Two attempts that never open.
	tr.next(t).end <- errors.New("refused")
	tr.next(t).end <- errors.New("refused")

	waitClosed(t, s)

	assert.Equal(t, []State{
		StateConnecting,
		StateOpen,
		StateReconnecting,
		StateConnecting,
		StateReconnecting,
		StateConnecting,
		StateClosed,
	}, rec.states())

	errs := rec.of(EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrReconnectExhausted)
	assert.Equal(t, progress.KindError, errs[0].Message.Kind)
	assert.ErrorIs(t, s.Stats().Err, ErrReconnectExhausted)

	attempts := rec.of(EventReconnecting)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, 2, attempts[1].Attempt)
	assert.Equal(t, 5*time.Millisecond, attempts[0].Delay)

	assert.Equal(t, 1, rec.count(EventClosed))
	assert.False(t, s.Latched(), "exhaustion is not a job outcome")

	// No further attempts once closed.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, tr.dialCount())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Reconnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Exhausted))
}

func TestSessionReconnectCounterResetsOnOpen(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1
	tr := newFakeTransport()
	s := newTestSession(t, cfg, tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	for i := 0; i < 3; i++ {
		conn := tr.next(t)
		conn.sink.Opened()
		conn.sink.Frame(`{"progress":10}`)
		conn.end <- errors.New("dropped")
	}

	conn := tr.next(t)
	conn.sink.Opened()
	conn.sink.Frame(`{"progress":100,"status":"completed"}`)

	require.Eventually(t, func() bool { return rec.count(EventCompleted) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 0, rec.count(EventError))
	assert.Equal(t, 3, rec.count(EventReconnecting))
	assert.Equal(t, 4, rec.count(EventConnected))
	for _, ev := range rec.of(EventReconnecting) {
		assert.Equal(t, 1, ev.Attempt)
	}
}

func TestSessionMalformedFrameIsNotFatal(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()
	conn.sink.Frame(`{"progress": 5`)
	conn.sink.Frame(`not json at all`)
	conn.sink.Frame(`{"progress":6}`)

	require.Eventually(t, func() bool { return rec.count(EventProgress) == 1 }, waitFor, time.Millisecond)

	msgs := rec.of(EventMessage)
	require.Len(t, msgs, 3)
	for _, ev := range msgs[:2] {
		assert.Equal(t, progress.KindUnknown, ev.Message.Kind)
		assert.Error(t, ev.Err)
		assert.NotEmpty(t, ev.Message.Raw)
	}
	assert.Equal(t, `{"progress": 5`, msgs[0].Message.Raw)

	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, 0, rec.count(EventReconnecting))
	assert.Equal(t, 0, rec.count(EventError))
	assert.Equal(t, 2, s.Stats().DecodeErrors)
	assert.Equal(t, 1, tr.dialCount())
}

func TestSessionDisconnect(t *testing.T) {
	t.Run("from open", func(t *testing.T) {
		tr := newFakeTransport()
		s := newTestSession(t, testConfig(), tr)
		rec := record(s)

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		waitState(t, s, StateOpen)

		s.Disconnect()
		s.Disconnect()
		assert.Equal(t, StateClosed, s.State())
		waitClosed(t, s)

		select {
		case <-conn.ctx.Done():
		case <-time.After(waitFor):
			t.Fatal("transport was not released")
		}

		// Late frames from the torn-down connection are dropped.
		conn.sink.Frame(`{"progress":99}`)
		time.Sleep(10 * time.Millisecond)

		assert.Equal(t, 1, rec.count(EventClosed))
		assert.Equal(t, 0, rec.count(EventProgress))
		assert.Equal(t, 0, rec.count(EventReconnecting))
	})

	t.Run("from idle", func(t *testing.T) {
		s := newTestSession(t, testConfig(), newFakeTransport())
		rec := record(s)

		s.Disconnect()
		waitClosed(t, s)
		s.Disconnect()

		assert.Equal(t, StateClosed, s.State())
		assert.Equal(t, 1, rec.count(EventClosed))
		assert.Equal(t, []State{StateClosed}, rec.states())
	})

	t.Run("while reconnecting", func(t *testing.T) {
		cfg := testConfig()
		cfg.ReconnectDelay = 40 * time.Millisecond
		tr := newFakeTransport()
		s := newTestSession(t, cfg, tr)
		rec := record(s)

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		conn.end <- errors.New("dropped")
		waitState(t, s, StateReconnecting)

		s.Disconnect()
		waitClosed(t, s)
		time.Sleep(80 * time.Millisecond)

		assert.Equal(t, 1, tr.dialCount(), "pending reconnect must be cancelled")
		assert.Equal(t, 1, rec.count(EventClosed))
		assert.Equal(t, 0, rec.count(EventError))
	})

	t.Run("from inside a listener", func(t *testing.T) {
		tr := newFakeTransport()
		s := newTestSession(t, testConfig(), tr)
		rec := record(s)
		s.On(EventProgress, func(ev Event) {
			if ev.Message.Percent() >= 50 {
				s.Disconnect()
				s.Disconnect()
			}
		})

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		conn.sink.Frame(`{"progress":10}`)
		conn.sink.Frame(`{"progress":50}`)
		conn.sink.Frame(`{"progress":60}`)

		waitClosed(t, s)
		assert.Equal(t, 1, rec.count(EventClosed))
		assert.Equal(t, 2, rec.count(EventProgress))
	})
}

func TestSessionConnectMisuse(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr)
	rec := record(s)

	err := s.Connect("  ")
	require.ErrorIs(t, err, ErrNoJobID)
	assert.Equal(t, StateIdle, s.State())
	assert.NotEmpty(t, errors.GetAllHints(err))

	require.NoError(t, s.Connect("job-1"))
	first := tr.next(t)
	first.sink.Opened()
	waitState(t, s, StateOpen)

	err = s.Connect("job-2")
	require.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, "job-1", s.JobID())
	assert.Equal(t, StateOpen, s.State())

	// Same job replaces the connection.
	require.NoError(t, s.Connect("job-1"))
	second := tr.next(t)
	select {
	case <-first.ctx.Done():
	case <-time.After(waitFor):
		t.Fatal("previous transport not torn down")
	}
	second.sink.Opened()
	second.sink.Frame(`{"progress":1}`)
	first.sink.Frame(`{"progress":2}`)
	require.Eventually(t, func() bool { return rec.count(EventProgress) == 1 }, waitFor, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, float64(1), rec.of(EventProgress)[0].Message.Percent())

	s.Disconnect()
	waitClosed(t, s)
	require.ErrorIs(t, s.Connect("job-1"), ErrSessionClosed)
}

func TestSessionStaleConnection(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	cfg.ReconnectDelay = time.Millisecond
	tr := newFakeTransport()
	s := newTestSession(t, cfg, tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()

	// Keep-alives hold the connection open past the bound.
	for i := 0; i < 8; i++ {
		time.Sleep(10 * time.Millisecond)
		conn.sink.KeepAlive()
	}
	assert.Equal(t, 0, rec.count(EventReconnecting))
	assert.Equal(t, StateOpen, s.State())

	// Silence triggers a reconnect, exactly like a transport error.
	next := tr.next(t)
	select {
	case <-conn.ctx.Done():
	case <-time.After(waitFor):
		t.Fatal("stale transport was not closed")
	}
	require.Eventually(t, func() bool { return rec.count(EventReconnecting) == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, rec.of(EventReconnecting)[0].Err, ErrStale)
	assert.Equal(t, 1, s.Stats().StaleTimeouts)

	next.sink.Opened()
	next.sink.Frame(`{"progress":100,"status":"completed"}`)
	require.Eventually(t, func() bool { return rec.count(EventCompleted) == 1 }, waitFor, time.Millisecond)
}

func TestSessionFramesKeepConnectionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	tr := newFakeTransport()
	s := newTestSession(t, cfg, tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()

	for i := 0; i < 8; i++ {
		time.Sleep(10 * time.Millisecond)
		conn.sink.Frame(`{"progress":` + strconv.Itoa(i*10) + `}`)
	}
	conn.sink.Frame(`{"progress":100,"status":"completed"}`)

	// Frames after the outcome still count as activity.
	for i := 0; i < 8; i++ {
		time.Sleep(10 * time.Millisecond)
		conn.sink.Frame(`{"message":"Writing stems"}`)
	}
	require.Eventually(t, func() bool { return s.Stats().Frames == 17 }, waitFor, time.Millisecond)
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, 0, s.Stats().StaleTimeouts)
	assert.Equal(t, 0, rec.count(EventReconnecting))
	assert.Equal(t, 1, rec.count(EventCompleted))
}

func TestSessionStaleAfterOutcomeClosesCleanly(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 30 * time.Millisecond
	tr := newFakeTransport()
	s := newTestSession(t, cfg, tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()
	conn.sink.Frame(`{"status":"error","message":"boom"}`)

	waitClosed(t, s)
	select {
	case <-conn.ctx.Done():
	case <-time.After(waitFor):
		t.Fatal("stale transport was not closed")
	}
	assert.Equal(t, 1, rec.count(EventError))
	assert.Equal(t, 0, rec.count(EventReconnecting))
	assert.Equal(t, 1, rec.count(EventClosed))
	assert.Equal(t, 1, tr.dialCount())

	stats := s.Stats()
	assert.Equal(t, 1, stats.StaleTimeouts)
	assert.Equal(t, progress.KindError, stats.Outcome)
	assert.NoError(t, stats.Err)
}

func TestSessionStaleWhileConnecting(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 30 * time.Millisecond
	cfg.ReconnectDelay = time.Millisecond
	tr := newFakeTransport()
	s := newTestSession(t, cfg, tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	first := tr.next(t)

	// The first attempt never opens.
	next := tr.next(t)
	select {
	case <-first.ctx.Done():
	case <-time.After(waitFor):
		t.Fatal("hung connection attempt was not cancelled")
	}
	require.Eventually(t, func() bool { return rec.count(EventReconnecting) == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, rec.of(EventReconnecting)[0].Err, ErrStale)
	assert.Equal(t, 0, rec.count(EventConnected))
	assert.Equal(t, 1, s.Stats().StaleTimeouts)
	require.Eventually(t, func() bool { return len(rec.states()) >= 3 }, waitFor, time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateReconnecting, StateConnecting}, rec.states()[:3])

	next.sink.Opened()
	waitState(t, s, StateOpen)
	assert.Equal(t, 1, rec.count(EventConnected))
}

func TestSessionEndsCleanly(t *testing.T) {
	t.Run("end frame without terminal outcome", func(t *testing.T) {
		tr := newFakeTransport()
		s := newTestSession(t, testConfig(), tr)
		rec := record(s)

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		conn.sink.Frame(`{"progress":40}`)
		conn.sink.Frame(`{"message":"Stream closed"}`)

		waitClosed(t, s)
		require.Len(t, rec.of(EventEnd), 1)
		assert.Equal(t, progress.KindEnd, rec.of(EventEnd)[0].Message.Kind)
		assert.Equal(t, 0, rec.count(EventReconnecting))
		assert.Equal(t, 1, rec.count(EventClosed))
	})

	t.Run("transport error after completion", func(t *testing.T) {
		tr := newFakeTransport()
		s := newTestSession(t, testConfig(), tr)
		rec := record(s)

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		conn.sink.Frame(`{"progress":100}`)
		conn.end <- errors.New("broken pipe")

		waitClosed(t, s)
		assert.Equal(t, 0, rec.count(EventReconnecting))
		assert.Equal(t, 0, rec.count(EventError))
		assert.Equal(t, 1, rec.count(EventCompleted))
	})

	t.Run("close on terminal", func(t *testing.T) {
		cfg := testConfig()
		cfg.CloseOnTerminal = true
		tr := newFakeTransport()
		s := newTestSession(t, cfg, tr)
		rec := record(s)

		require.NoError(t, s.Connect("job-1"))
		conn := tr.next(t)
		conn.sink.Opened()
		conn.sink.Frame(`{"status":"error","message":"boom"}`)

		waitClosed(t, s)
		require.Len(t, rec.of(EventError), 1)
		assert.Equal(t, "boom", rec.of(EventError)[0].Message.Payload.Message)
		assert.NoError(t, rec.of(EventError)[0].Err)
		assert.Equal(t, 1, rec.count(EventClosed))
	})
}

func TestSessionServerCloseBeforeTerminalReconnects(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()
	conn.sink.Frame(`{"progress":30}`)
	conn.end <- nil

	next := tr.next(t)
	require.Len(t, rec.of(EventReconnecting), 1)
	assert.ErrorIs(t, rec.of(EventReconnecting)[0].Err, ErrStreamEnded)
	next.sink.Opened()
	waitState(t, s, StateOpen)
}

func TestSessionAutoReconnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	tr := newFakeTransport()
	s := newTestSession(t, cfg, tr)
	rec := record(s)

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()
	conn.end <- errors.New("dropped")

	waitClosed(t, s)
	assert.Equal(t, 0, rec.count(EventReconnecting))
	require.Len(t, rec.of(EventError), 1)
	assert.ErrorIs(t, rec.of(EventError)[0].Err, ErrReconnectExhausted)
	assert.Equal(t, 1, tr.dialCount())
}

func TestSessionListenersMutatedDuringDispatch(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr)

	var (
		mu    sync.Mutex
		calls []string
	)
	log := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, name)
	}

	var secondID ListenerID
	s.On(EventProgress, func(Event) {
		log("first")
		if s.Off(EventProgress, secondID) {
			s.On(EventProgress, func(Event) { log("late") })
		}
	})
	secondID = s.On(EventProgress, func(Event) { log("second") })
	s.On(EventProgress, func(Event) { log("third") })
	s.On(EventProgress, func(Event) { panic("listener bug") })
	s.On(EventProgress, func(Event) { log("after-panic") })

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()
	conn.sink.Frame(`{"progress":1}`)
	conn.sink.Frame(`{"progress":2}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 8
	}, waitFor, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"first", "second", "third", "after-panic",
		"first", "third", "after-panic", "late",
	}, calls)
}

type recordingReporter struct {
	mu     sync.Mutex
	calls  []string
	closed chan struct{}
}

func (r *recordingReporter) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingReporter) Connected(string)           { r.add("connected") }
func (r *recordingReporter) Progress(progress.Message)  { r.add("progress") }
func (r *recordingReporter) Completed(progress.Message) { r.add("completed") }
func (r *recordingReporter) Error(progress.Message)     { r.add("error") }
func (r *recordingReporter) End(progress.Message)       { r.add("end") }
func (r *recordingReporter) Reconnecting(string, int, time.Duration) {
	r.add("reconnecting")
}
func (r *recordingReporter) Closed(string) {
	r.add("closed")
	close(r.closed)
}

func (r *recordingReporter) Undecodable(progress.Message) {
	r.add("undecodable")
}

func TestAttachReporter(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), tr)
	rep := &recordingReporter{closed: make(chan struct{})}
	detach := Attach(s, rep)
	defer detach()

	require.NoError(t, s.Connect("job-1"))
	conn := tr.next(t)
	conn.sink.Opened()
	conn.end <- errors.New("dropped")

	conn = tr.next(t)
	conn.sink.Opened()
	conn.sink.Frame(`{"type":"progress","progress":42,"status":"processing"}`)
	conn.sink.Frame(`{"progress": 5`)
	conn.sink.Frame(`{"type":"completed","progress":100,"status":"completed"}`)
	conn.sink.Frame(`{"type":"end"}`)
	conn.end <- nil

	select {
	case <-rep.closed:
	case <-time.After(waitFor):
		t.Fatal("reporter never saw closed")
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Equal(t, []string{"connected", "reconnecting", "connected", "progress", "undecodable", "completed", "closed"}, rep.calls)
}

func TestNewSessionValidates(t *testing.T) {
	_, err := NewSession(nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxReconnectAttempts = -1
	_, err = NewSession(func(string) string { return "" }, WithConfig(cfg))
	require.Error(t, err)
}
