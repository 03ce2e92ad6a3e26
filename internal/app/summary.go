package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"wireframe/internal/runner"
)

var (
	summaryHead = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	summaryOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	summaryBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	summaryDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	summaryBox  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Summary renders a run result for the terminal: one line per stage plus
// its failed sub-steps.
func Summary(run runner.RunResult) string {
	lines := []string{
		summaryHead.Render(fmt.Sprintf("mission %s  run %s", run.MissionID, run.RunID)),
	}
	for _, st := range run.Stages {
		mark := summaryOK.Render("ok    ")
		if !st.Succeeded() {
			mark = summaryBad.Render("failed")
		}
		lines = append(lines, fmt.Sprintf("%s %-12s %s", mark, st.Stage,
			summaryDim.Render(fmt.Sprintf("%d artifacts", len(st.Produced)))))
		for _, f := range st.Failures {
			detail := f.Detail
			if f.Key != "" {
				detail = f.Key + ": " + detail
			}
			lines = append(lines, summaryDim.Render(fmt.Sprintf("         %s [%s] %s", f.Step, f.Kind, detail)))
		}
	}
	status := summaryOK
	if run.Status != runner.RunSucceeded {
		status = summaryBad
	}
	lines = append(lines, status.Render(fmt.Sprintf("status %s", run.Status)))
	return summaryBox.Render(strings.Join(lines, "\n"))
}
