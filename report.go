package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"rirmix/internal/simulate"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Width(12)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffb86c"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5555"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#00ff9f")).Padding(0, 1)
)

// maxListedFailures caps the rows itemised in the summary; the log has all.
const maxListedFailures = 10

// renderReport formats the end-of-run summary.
func renderReport(r *simulate.Report, cfg simulate.Config) string {
	dest := cfg.OutDir
	if cfg.S3.Bucket != "" {
		dest = "s3://" + strings.TrimSuffix(cfg.S3.Bucket+"/"+cfg.S3.Prefix, "/")
	}

	line := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	lines := []string{
		titleStyle.Render("Simulation finished"),
		line("run", r.RunID),
		line("output", dest),
		line("rows", fmt.Sprintf("%d of %d processed", r.Processed(), r.Total)),
		line("done", fmt.Sprintf("%d (%d files)", r.Done, r.Artifacts)),
	}
	if r.Skipped > 0 {
		lines = append(lines, line("resumed", fmt.Sprintf("%d already simulated", r.Skipped)))
	}
	if r.Missing > 0 {
		lines = append(lines, line("missing", warnStyle.Render(fmt.Sprintf("%d examples with missing inputs", r.Missing))))
	}
	if r.Failed > 0 {
		lines = append(lines, line("failed", errStyle.Render(fmt.Sprintf("%d examples", r.Failed))))
	}
	lines = append(lines, line("elapsed", r.Elapsed.Round(time.Millisecond).String()))

	for i, f := range r.Failures {
		if i == maxListedFailures {
			lines = append(lines, fmt.Sprintf("  ... and %d more, see the log", len(r.Failures)-i))
			break
		}
		switch f.Status {
		case simulate.StatusMissing:
			lines = append(lines, warnStyle.Render("  missing ")+fmt.Sprintf("%s: %s", f.Row, strings.Join(f.Missing, " ")))
		case simulate.StatusFailed:
			lines = append(lines, errStyle.Render("  failed  ")+fmt.Sprintf("%s: %v", f.Row, f.Err))
		}
	}

	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}
