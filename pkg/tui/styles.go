// Package tui provides terminal styling and progress output.
// Simple, streaming, no complex TUI - just clean headings and a progress bar.
package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warn    = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles are the lipgloss styles used by the text report and the CLI.
type Styles struct {
	Title   lipgloss.Style
	Accent  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
}

// NewStyles returns colored styles, or plain ones when color is false.
func NewStyles(color bool) Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return Styles{Title: plain, Accent: plain, Muted: plain, Success: plain, Warn: plain}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(white),
		Accent:  lipgloss.NewStyle().Foreground(accent).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(muted),
		Success: lipgloss.NewStyle().Foreground(success).Bold(true),
		Warn:    lipgloss.NewStyle().Foreground(warn),
	}
}

// Heading renders a section heading.
func (s Styles) Heading(text string) string {
	return s.Accent.Render("▸ " + text)
}

// RunSummary is printed after an analysis run.
type RunSummary struct {
	Logs     int
	Records  int64
	Skipped  int64
	Bytes    int64
	Duration time.Duration
	Cached   bool

	// Unquarantined counts skipped lines the quarantine file failed to keep.
	Unquarantined int64
}

// PrintRunSummary prints a one-line completion message.
func PrintRunSummary(w io.Writer, s Styles, sum RunSummary) {
	mark := s.Success.Render("✓")
	if sum.Skipped > 0 || sum.Unquarantined > 0 {
		mark = s.Warn.Render("!")
	}
	if sum.Cached {
		fmt.Fprintf(w, "%s %s\n", mark, s.Muted.Render("report served from cache"))
		return
	}

	line := fmt.Sprintf("%s records from %d log(s), %s skipped",
		humanize.Comma(sum.Records), sum.Logs, humanize.Comma(sum.Skipped))
	if sum.Duration > 0 {
		rate := float64(sum.Records) / sum.Duration.Seconds()
		line += s.Muted.Render(fmt.Sprintf(" (%s, %s records/sec", formatDuration(sum.Duration), humanize.Comma(int64(rate))))
		if sum.Bytes > 0 {
			line += s.Muted.Render(", " + humanize.IBytes(uint64(float64(sum.Bytes)/sum.Duration.Seconds())) + "/sec")
		}
		line += s.Muted.Render(")")
	}
	if sum.Unquarantined > 0 {
		line += s.Warn.Render(fmt.Sprintf(", %s not quarantined", humanize.Comma(sum.Unquarantined)))
	}
	fmt.Fprintf(w, "%s %s\n", mark, line)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
