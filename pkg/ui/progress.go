package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"harvester/pkg/orchestrator"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
	barWidth      = 20
)

// Progress redraws a one-line status from orchestrator snapshots
type Progress struct {
	snapshot func() orchestrator.Snapshot
	interval time.Duration
	total    int
	now      func() time.Time
}

// NewProgress polls snapshot every interval. The bar is scaled to the
// units remaining when the first snapshot is taken.
func NewProgress(snapshot func() orchestrator.Snapshot, interval time.Duration) *Progress {
	if interval <= 0 {
		interval = time.Second
	}
	return &Progress{snapshot: snapshot, interval: interval, now: time.Now}
}

// Run redraws until ctx is done, then ends the line
func (p *Progress) Run(ctx context.Context) {
	if quiet.Load() {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return
		case <-ticker.C:
			fmt.Fprintf(out, "\r%s\r%s", strings.Repeat(" ", 120), p.Line(p.snapshot()))
		}
	}
}

// Line renders one snapshot
func (p *Progress) Line(s orchestrator.Snapshot) string {
	if p.total == 0 && s.Remaining > 0 {
		p.total = s.Remaining + len(s.InFlight)
	}
	finished := p.total - s.Remaining - len(s.InFlight)
	if finished < 0 {
		finished = 0
	}

	filled := 0
	if p.total > 0 {
		filled = finished * barWidth / p.total
	}
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)

	elapsed := time.Duration(0)
	if !s.StartedAt.IsZero() {
		elapsed = p.now().Sub(s.StartedAt)
	}

	line := fmt.Sprintf("%s [%s] %d/%d • saved %d • %s • eta %s",
		Cyan(s.Mode),
		bar,
		finished,
		p.total,
		s.Counters.Saved,
		fmt.Sprintf("%d/%d workers", s.ActiveWorkers, s.Workers),
		eta(finished, s.Remaining+len(s.InFlight), elapsed),
	)
	if s.CurrentUnit != "" {
		line += " • " + s.CurrentUnit
	}
	if s.Counters.Failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", s.Counters.Failed))
	}
	if s.State == orchestrator.StateDraining.String() {
		line += " • " + Yellow("draining")
	}
	return line
}

// PrintSummary prints the final report of a run
func PrintSummary(s *orchestrator.Summary) {
	if s == nil || quiet.Load() {
		return
	}
	status := Green("✓")
	if s.StopReason != orchestrator.StopExhausted && s.StopReason != orchestrator.StopLimit && s.StopReason != orchestrator.StopBudget {
		status = Yellow("⚠")
	}
	fmt.Fprintf(out, "\n%s %s run stopped: %s\n", status, s.Mode, s.StopReason)
	fmt.Fprintf(out, "  %s %d searches • %d found • %d saved • %d failed items\n",
		Dim("•"), s.Counters.Searched, s.Counters.Found, s.Counters.Saved, s.Counters.Failed)
	fmt.Fprintf(out, "  %s %d done • %d invalid • %d soft-failed • %d abandoned in %s\n",
		Dim("•"), s.Done, s.Invalid, s.SoftFailed, s.Abandoned, FormatDuration(s.Duration))
	if s.CheckpointPath != "" {
		fmt.Fprintf(out, "  %s checkpoint: %s\n", Dim("•"), s.CheckpointPath)
	}
}

func eta(finished, remaining int, elapsed time.Duration) string {
	if finished == 0 || elapsed <= 0 {
		return "calculating..."
	}
	rate := float64(finished) / elapsed.Seconds()
	return FormatDuration(time.Duration(float64(remaining)/rate) * time.Second)
}

// FormatDuration renders d as 42s, 3m7s or 2h5m
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
