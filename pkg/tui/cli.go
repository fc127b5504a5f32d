// Package tui renders run progress and summaries on the terminal.
// Simple, streaming output; no full-screen interface.
package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/ingest"
	"github.com/logflow/jsonimport/pkg/telemetry"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintHeader prints the program banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  JSONIMPORT")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  JSON and log lines to timeline events"))
	fmt.Fprintln(w)
}

// PrintSummary prints per-input results followed by run totals.
func PrintSummary(w io.Writer, results []ingest.Result, snap telemetry.Snapshot, dryRun bool) {
	fmt.Fprintln(w)
	if dryRun {
		fmt.Fprintln(w, successStyle.Render("  ✓ DRY RUN COMPLETE")+mutedStyle.Render(" (nothing was sent)"))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ IMPORT COMPLETE"))
	}
	fmt.Fprintln(w)

	for _, r := range results {
		if r.Input == "" {
			continue
		}
		line := fmt.Sprintf("  %-32s %s events", filepath.Base(r.Input), titleStyle.Render(formatNumber(int64(r.Events))))
		if r.Skipped > 0 {
			line += " " + accentStyle.Render(fmt.Sprintf("%d skipped", r.Skipped))
		}
		line += " " + mutedStyle.Render(fmt.Sprintf("(%s, %s)", formatBytes(int64(r.Bytes)), formatDuration(r.Duration)))
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Events:"), titleStyle.Render(formatNumber(snap.EventsSent)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Timelines:"), titleStyle.Render(formatNumber(snap.TimelinesOpened)))
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Metadata:"),
		titleStyle.Render(formatNumber(snap.MetadataSent)),
		mutedStyle.Render(fmt.Sprintf("(%s unchanged, not resent)", formatNumber(snap.MetadataSuppressed))))
	if snap.RecordsSkipped > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Skipped:"), accentStyle.Render(formatNumber(snap.RecordsSkipped)))
	}
	if snap.Elapsed > 0 {
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(snap.Elapsed)),
			mutedStyle.Render(fmt.Sprintf("(%s events/sec, %s read)",
				formatNumber(int64(snap.EventsPerSec())), formatBytes(snap.BytesRead))))
	}
	fmt.Fprintln(w)
}

// PrintError prints err followed by each of its causes.
func PrintError(w io.Writer, err error) {
	chain := lferrors.Chain(err)
	if len(chain) == 0 {
		return
	}
	fmt.Fprintln(w, accentStyle.Render("Error: ")+chain[0])
	for _, cause := range chain[1:] {
		fmt.Fprintln(w, mutedStyle.Render("  Caused by: ")+cause)
	}
}

// Progress draws one bar per input. Update matches ingest.ProgressFunc
// and is safe to call from several workers.
type Progress struct {
	w    io.Writer
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

// NewProgress returns a progress renderer writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w, bars: make(map[string]*progressbar.ProgressBar)}
}

// Update moves the bar for input to offset of total bytes.
func (p *Progress) Update(input string, offset, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[input]
	if !ok {
		bar = newBar(p.w, int64(total), filepath.Base(input))
		p.bars[input] = bar
	}
	bar.Set64(int64(offset))
	if offset >= total {
		bar.Finish()
	}
}

// Finish completes every bar still drawing.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for input, bar := range p.bars {
		if !bar.IsFinished() {
			bar.Finish()
		}
		delete(p.bars, input)
	}
}

func newBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
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

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
