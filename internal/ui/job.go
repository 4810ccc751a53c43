package ui

import (
	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"

	"stemwatch/internal/model"
)

// stage is where a job's stream is, as shown in the job list.
type stage string

const (
	stageQueued       stage = "queued"
	stageConnecting   stage = "connecting"
	stageStreaming    stage = "streaming"
	stageReconnecting stage = "reconnecting"
	stageCompleted    stage = "completed"
	stageError        stage = "error"
	stageEnded        stage = "ended"
	stageLost         stage = "lost"
)

func (s stage) finished() bool {
	switch s {
	case stageCompleted, stageError, stageEnded, stageLost:
		return true
	}
	return false
}

type jobState struct {
	id     string
	stage  stage
	status string
	err    error
	done   bool

	outputs []string
	frames  int
	bytes   int64
	percent float64 // -1 means unknown
	attempt int

	outcome model.Outcome

	spinner spinner.Model
	bar     bubblesprogress.Model
}

func newJobState(id string, styles Styles) jobState {
	sp := spinner.New()
	sp.Style = styles.Spinner
	bar := bubblesprogress.New(
		bubblesprogress.WithDefaultGradient(),
		bubblesprogress.WithWidth(40),
	)
	return jobState{
		id:      id,
		stage:   stageQueued,
		status:  "Queued",
		percent: -1,
		spinner: sp,
		bar:     bar,
		outcome: model.Outcome{JobID: id},
	}
}
