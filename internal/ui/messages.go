package ui

import (
	"time"

	"stemwatch/internal/model"
	"stemwatch/internal/progress"
)

type startMsg struct{}

type jobEventMsg struct {
	JobID   string
	Stage   stage
	Message progress.Message
	Attempt int
	Delay   time.Duration
}

type jobResultMsg struct {
	Outcome model.Outcome
	Err     error
}

type allDoneMsg struct{}
