// Package ui renders the terminal progress view for one or more jobs.
package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"

	"stemwatch/internal/model"
	"stemwatch/internal/progress"
)

// Run shows the TUI until every job has finished or the user quits, and
// returns one outcome per job.
func Run(ctx context.Context, jobIDs []string, workers int, build func(progress.Reporter) (Watcher, error)) ([]model.Outcome, error) {
	m, err := NewModel(ctx, jobIDs, workers, build)
	if err != nil {
		return nil, err
	}
	defer m.cancel()

	prog := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return m.Outcomes(), ctx.Err()
		}
		return nil, errors.Wrap(err, "run terminal UI")
	}
	fm, ok := final.(Model)
	if !ok {
		return nil, errors.Newf("unexpected final model %T", final)
	}
	return fm.Outcomes(), nil
}
