package ui

import (
	"fmt"
	"strings"

	"stemwatch/internal/util/format"
)

func (m Model) viewHeader() string {
	done, total := 0, len(m.jobOrder)
	for _, id := range m.jobOrder {
		if m.jobs[id].done {
			done++
		}
	}
	title := m.styles.Title.Render("stemwatch · separation progress")
	sub := m.styles.Subtitle.Render(fmt.Sprintf("Jobs: %d/%d done • q: quit", done, total))
	return title + "\n" + sub
}

func (m Model) viewJobs() string {
	var b strings.Builder
	for _, id := range m.jobOrder {
		b.WriteString(m.viewJob(m.jobs[id]))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewJob(js *jobState) string {
	left := m.styles.JobTitle.Render(format.Truncate(js.id, 48))
	stage := m.styles.Stage(js.stage).Render(string(js.stage))
	if js.frames > 0 {
		stage += m.styles.Faint.Render(fmt.Sprintf("  %d frames · %s", js.frames, format.HumanizeBytes(js.bytes)))
	}

	var right string
	switch {
	case js.percent >= 0 && js.percent <= 100:
		right = fmt.Sprintf("%s %5.1f%%", js.bar.ViewAs(js.percent/100.0), js.percent)
	case js.done && js.stage == stageCompleted:
		right = m.styles.Success.Render("✓ done")
	case js.done:
		right = m.styles.Error.Render("✗ " + string(js.stage))
	default:
		right = m.styles.Spinner.Render(js.spinner.View()) + " " + m.styles.Faint.Render("waiting")
	}

	line1 := fmt.Sprintf("%s  %s", left, stage)
	line2 := m.styles.JobInfo.Render(js.status)
	return m.styles.Box.Render(line1 + "\n" + right + "\n" + line2)
}

func (m Model) viewSummary() string {
	var b strings.Builder
	for _, id := range m.jobOrder {
		js := m.jobs[id]
		if !js.done || js.stage != stageCompleted || len(js.outputs) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(m.styles.Subtitle.Render("✓ Separated stems:"))
			b.WriteString("\n")
		}
		b.WriteString(m.styles.JobTitle.Render(fmt.Sprintf("  %s: %s", format.Truncate(id, 48), format.StemList(js.outputs))))
		b.WriteString("\n")
		for _, path := range js.outputs {
			b.WriteString(m.styles.Success.Render("    • " + path))
			b.WriteString("\n")
		}
	}
	return b.String()
}
