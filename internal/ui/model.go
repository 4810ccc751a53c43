package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"stemwatch/internal/model"
	"stemwatch/internal/progress"
	"stemwatch/internal/util/format"
)

// Watcher streams one job to its outcome.
type Watcher interface {
	Watch(ctx context.Context, jobID string) (model.Outcome, error)
}

type Model struct {
	ctx    context.Context
	cancel context.CancelFunc

	watcher Watcher

	// Jobs
	jobOrder []string
	jobs     map[string]*jobState
	workers  int
	running  int
	next     int // next index in jobOrder to start

	// UI
	width, height int
	styles        Styles

	// Internal event channel used by reporter to feed tea messages
	eventCh chan tea.Msg
}

// NewModel builds the TUI model. build is handed the reporter the model
// listens to and returns the watcher that drives each job.
func NewModel(ctx context.Context, jobIDs []string, workers int, build func(progress.Reporter) (Watcher, error)) (Model, error) {
	c, cancel := context.WithCancel(ctx)
	sty := defaultStyles()

	jobs := make(map[string]*jobState, len(jobIDs))
	order := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		if _, dup := jobs[id]; dup {
			continue
		}
		js := newJobState(id, sty)
		jobs[id] = &js
		order = append(order, id)
	}

	if workers <= 0 {
		workers = 1
	}

	m := Model{
		ctx:      c,
		cancel:   cancel,
		jobs:     jobs,
		jobOrder: order,
		workers:  workers,
		styles:   sty,
		eventCh:  make(chan tea.Msg, 256),
	}
	w, err := build(teaReporter{ctx: c, ch: m.eventCh})
	if err != nil {
		cancel()
		return Model{}, err
	}
	m.watcher = w
	return m, nil
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, id := range m.jobOrder {
		cmds = append(cmds, m.jobs[id].spinner.Tick)
	}
	cmds = append(cmds, m.listenEventsCmd())
	cmds = append(cmds, func() tea.Msg { return startMsg{} })
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case startMsg:
		return m.startJobs()

	case jobEventMsg:
		if js, ok := m.jobs[msg.JobID]; ok && !js.done {
			m.applyEvent(js, msg)
		}
		return m, m.listenEventsCmd()

	case jobResultMsg:
		js, ok := m.jobs[msg.Outcome.JobID]
		if !ok {
			return m, nil
		}
		m.applyResult(js, msg)
		m.running--
		return m.startJobs()

	case allDoneMsg:
		return m, tea.Quit
	}

	// Update per-job components (spinner)
	var cmds []tea.Cmd
	for _, id := range m.jobOrder {
		js := m.jobs[id]
		var c tea.Cmd
		js.spinner, c = js.spinner.Update(msg)
		if c != nil {
			cmds = append(cmds, c)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	summary := m.viewSummary()
	if summary != "" {
		return m.viewHeader() + "\n\n" + m.viewJobs() + "\n" + summary
	}
	return m.viewHeader() + "\n\n" + m.viewJobs()
}

// Outcomes returns one outcome per job, in the order the jobs were given.
// Jobs that never finished are reported as lost.
func (m Model) Outcomes() []model.Outcome {
	out := make([]model.Outcome, 0, len(m.jobOrder))
	for _, id := range m.jobOrder {
		js := m.jobs[id]
		o := js.outcome
		if !js.done && o.Message == "" {
			o.Message = "cancelled before the job finished"
		}
		out = append(out, o)
	}
	return out
}

func (m Model) listenEventsCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case msg := <-m.eventCh:
			return msg
		}
	}
}

func (m Model) startJobs() (tea.Model, tea.Cmd) {
	if m.ctx.Err() != nil {
		return m, tea.Quit
	}
	var cmds []tea.Cmd
	for m.running < m.workers && m.next < len(m.jobOrder) {
		id := m.jobOrder[m.next]
		m.next++
		m.running++
		js := m.jobs[id]
		js.stage = stageConnecting
		js.status = "Connecting"
		cmds = append(cmds, m.watchCmd(id))
	}
	if m.next >= len(m.jobOrder) && m.running == 0 {
		return m, tea.Quit
	}
	return m, tea.Batch(cmds...)
}

func (m Model) watchCmd(id string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.watcher.Watch(m.ctx, id)
		out.JobID = id
		return jobResultMsg{Outcome: out, Err: err}
	}
}

func (m Model) applyEvent(js *jobState, ev jobEventMsg) {
	switch ev.Stage {
	case stageStreaming:
		if js.stage == stageConnecting || js.stage == stageReconnecting {
			js.status = "Waiting for progress"
		}
		js.attempt = 0
		if ev.Message.Raw != "" {
			js.frames++
			js.bytes += int64(len(ev.Message.Raw))
			js.status = ev.Message.Text()
			if ev.Message.Err != nil {
				js.status = "Skipped undecodable frame: " + ev.Message.Err.Error()
			}
			if p := ev.Message.Percent(); p >= 0 {
				js.percent = p
			}
		}
	case stageReconnecting:
		js.attempt = ev.Attempt
		js.status = fmt.Sprintf("Reconnecting in %s (attempt %d)", ev.Delay.Round(time.Millisecond), ev.Attempt)
	case stageCompleted, stageError, stageEnded:
		js.frames++
		js.bytes += int64(len(ev.Message.Raw))
		js.status = ev.Message.Text()
		if ev.Stage == stageCompleted {
			js.percent = 100
			js.outputs = ev.Message.Payload.OutputFiles()
		}
	case stageLost:
		if !js.stage.finished() {
			js.status = "Stream closed"
		}
		return
	}
	if !js.stage.finished() {
		js.stage = ev.Stage
	}
}

func (m Model) applyResult(js *jobState, r jobResultMsg) {
	o := r.Outcome
	js.done = true
	js.outcome = o
	js.err = r.Err
	if o.Bytes > 0 {
		js.bytes = o.Bytes
	}
	if o.Frames > 0 {
		js.frames = o.Frames
	}

	switch {
	case r.Err != nil:
		js.stage = stageLost
		js.status = r.Err.Error()
	case o.Succeeded():
		js.stage = stageCompleted
		js.percent = 100
		if len(o.OutputFiles) > 0 {
			js.outputs = o.OutputFiles
		}
		js.status = fmt.Sprintf("Done: %d stem(s), %s received", len(js.outputs), format.HumanizeBytes(js.bytes))
		if o.Resolved {
			js.status += " (from job status)"
		}
	case o.Kind == progress.KindError:
		js.stage = stageError
		js.status = o.Message
		js.percent = -1
	case o.Kind == progress.KindEnd:
		js.stage = stageEnded
		js.status = "Stream ended without a result"
		if o.Status != "" {
			js.status += fmt.Sprintf("; job is %s", o.Status)
		}
	default:
		js.stage = stageLost
		js.status = o.Message
		if o.Err != nil {
			js.status = o.Err.Error()
		}
	}
}

// teaReporter feeds session events into the program. Progress updates are
// dropped when the program is behind; everything else waits.
type teaReporter struct {
	ctx context.Context
	ch  chan tea.Msg
}

func (r teaReporter) send(msg jobEventMsg, wait bool) {
	if !wait {
		select {
		case r.ch <- msg:
		default:
		}
		return
	}
	select {
	case r.ch <- msg:
	case <-r.ctx.Done():
	}
}

func (r teaReporter) Connected(jobID string) {
	r.send(jobEventMsg{JobID: jobID, Stage: stageStreaming}, true)
}

func (r teaReporter) Progress(m progress.Message) {
	r.send(jobEventMsg{JobID: m.JobID, Stage: stageStreaming, Message: m}, false)
}

func (r teaReporter) Undecodable(m progress.Message) {
	r.send(jobEventMsg{JobID: m.JobID, Stage: stageStreaming, Message: m}, false)
}

func (r teaReporter) Completed(m progress.Message) {
	r.send(jobEventMsg{JobID: m.JobID, Stage: stageCompleted, Message: m}, true)
}

func (r teaReporter) Error(m progress.Message) {
	if m.Err != nil {
		// Reconnection gave up; the result message reports it.
		return
	}
	r.send(jobEventMsg{JobID: m.JobID, Stage: stageError, Message: m}, true)
}

func (r teaReporter) End(m progress.Message) {
	r.send(jobEventMsg{JobID: m.JobID, Stage: stageEnded, Message: m}, true)
}

func (r teaReporter) Reconnecting(jobID string, attempt int, delay time.Duration) {
	r.send(jobEventMsg{JobID: jobID, Stage: stageReconnecting, Attempt: attempt, Delay: delay}, true)
}

func (r teaReporter) Closed(jobID string) {
	r.send(jobEventMsg{JobID: jobID, Stage: stageLost}, true)
}
