package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/linecue/linecue/internal/prerender"
)

// StatusDisplay renders pre-render run state for status bars and panels.
type StatusDisplay struct {
	snap prerender.Snapshot
}

// NewStatusDisplay creates a new status display.
func NewStatusDisplay() *StatusDisplay {
	return &StatusDisplay{snap: prerender.Snapshot{Status: prerender.StatusIdle}}
}

// Update replaces the displayed run state.
func (s *StatusDisplay) Update(snap prerender.Snapshot) {
	s.snap = snap
}

// Snapshot returns the displayed run state.
func (s *StatusDisplay) Snapshot() prerender.Snapshot {
	return s.snap
}

// CompactStatus returns a compact status string for the status bar.
func (s *StatusDisplay) CompactStatus() string {
	if s.snap.Status == prerender.StatusIdle {
		return ""
	}

	statusStyle := lipgloss.NewStyle().Foreground(s.stateColor())
	status := statusStyle.Render(fmt.Sprintf("%s %d/%d", s.stateIcon(), s.snap.Completed, s.snap.Total))

	if s.snap.Failures > 0 {
		status += errorStyle.Render(fmt.Sprintf(" %d failed", s.snap.Failures))
	}
	return status
}

// DetailedStatus returns a multi-line status for display panels.
func (s *StatusDisplay) DetailedStatus(width int) string {
	if s.snap.Status == prerender.StatusIdle {
		return ""
	}

	var lines []string

	stateStyle := lipgloss.NewStyle().Foreground(s.stateColor())
	lines = append(lines, stateStyle.Render(fmt.Sprintf("%s %s", s.stateIcon(), s.snap.Status)))
	lines = append(lines, s.snap.Summary())

	if s.snap.Total > 0 {
		lines = append(lines, subtleStyle.Render(fmt.Sprintf(
			"%d from cache, %d generated", s.snap.CacheHits, s.snap.Generated)))
	}

	if elapsed := s.Elapsed(); elapsed > 0 {
		lines = append(lines, subtleStyle.Render("Elapsed: "+formatDuration(elapsed)))
	}

	if s.snap.LastError != "" && width > 10 {
		errorLine := truncate.StringWithTail(s.snap.LastError, uint(width-9), ellipsis)
		lines = append(lines, errorStyle.Render("Error: "+errorLine))
	}

	return strings.Join(lines, "\n")
}

// Elapsed returns the run's duration so far, or in total once finished.
func (s *StatusDisplay) Elapsed() time.Duration {
	if s.snap.StartedAt.IsZero() {
		return 0
	}
	if !s.snap.FinishedAt.IsZero() {
		return s.snap.FinishedAt.Sub(s.snap.StartedAt)
	}
	return time.Since(s.snap.StartedAt)
}

// IsActive returns true while the run is processing lines.
func (s *StatusDisplay) IsActive() bool {
	return s.snap.Status == prerender.StatusRunning
}

func (s *StatusDisplay) stateColor() lipgloss.TerminalColor {
	return statusColor(s.snap.Status)
}

func (s *StatusDisplay) stateIcon() string {
	switch s.snap.Status {
	case prerender.StatusRunning:
		return "⟳"
	case prerender.StatusCompleted:
		if s.snap.Failures > 0 {
			return "◐"
		}
		return "✓"
	case prerender.StatusCancelled:
		return "◼"
	case prerender.StatusError:
		return "✗"
	default:
		return "○"
	}
}

func statusColor(st prerender.RunStatus) lipgloss.TerminalColor {
	switch st {
	case prerender.StatusRunning:
		return lipgloss.Color("#00AAFF") // Blue
	case prerender.StatusCompleted:
		return green
	case prerender.StatusCancelled:
		return lipgloss.Color("#FF8800") // Orange
	case prerender.StatusError:
		return red
	default:
		return gray
	}
}

func itemIcon(st prerender.ItemStatus) string {
	switch st {
	case prerender.ItemPending:
		return subtleStyle.Render("·")
	case prerender.ItemGenerating:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAFF")).Render("⟳")
	case prerender.ItemReady, prerender.ItemCompleted:
		return lipgloss.NewStyle().Foreground(green).Render("✓")
	case prerender.ItemPlaying:
		return lipgloss.NewStyle().Foreground(green).Render("▶")
	case prerender.ItemError:
		return errorStyle.Render("✗")
	default:
		return " "
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
