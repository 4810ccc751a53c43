package ui

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	colorAccent  = lipgloss.Color("#7D56F4")
	colorMuted   = lipgloss.Color("#A3A3A3")
	colorText    = lipgloss.Color("#D1D5DB")
	colorOK      = lipgloss.Color("#22C55E")
	colorFail    = lipgloss.Color("#EF4444")
	colorWarn    = lipgloss.Color("#F59E0B")
	colorSpinner = lipgloss.Color("#22D3EE")
	colorWaiting = lipgloss.Color("#60A5FA")
	colorLive    = lipgloss.Color("#D946EF")
)

type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	JobTitle lipgloss.Style
	JobInfo  lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Faint    lipgloss.Style
	Box      lipgloss.Style
	Spinner  lipgloss.Style

	stages map[stage]lipgloss.Style
}

func defaultStyles() Styles {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	s := Styles{
		Title:    fg(colorAccent).Bold(true),
		Subtitle: lipgloss.NewStyle().Faint(true),
		JobTitle: fg(colorMuted),
		JobInfo:  fg(colorText),
		Success:  fg(colorOK),
		Error:    fg(colorFail),
		Faint:    lipgloss.NewStyle().Faint(true),
		Box:      lipgloss.NewStyle().Padding(0, 1),
		Spinner:  fg(colorSpinner),
	}
	s.stages = map[stage]lipgloss.Style{
		stageQueued:       fg(colorWaiting),
		stageConnecting:   fg(colorWaiting),
		stageStreaming:    fg(colorLive),
		stageReconnecting: fg(colorWarn),
		stageEnded:        fg(colorWarn),
		stageCompleted:    s.Success,
		stageError:        s.Error,
		stageLost:         s.Error,
	}
	return s
}

// Stage returns the style a job's stage label is drawn with.
func (s Styles) Stage(st stage) lipgloss.Style {
	if style, ok := s.stages[st]; ok {
		return style
	}
	return s.JobInfo
}
