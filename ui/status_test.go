package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/linecue/linecue/internal/prerender"
)

func TestStatusDisplay_Idle(t *testing.T) {
	s := NewStatusDisplay()
	if s.CompactStatus() != "" || s.DetailedStatus(80) != "" {
		t.Error("idle display should render nothing")
	}
	if s.IsActive() {
		t.Error("idle display reports active")
	}
}

func TestStatusDisplay_Compact(t *testing.T) {
	s := NewStatusDisplay()
	s.Update(prerender.Snapshot{Status: prerender.StatusRunning, Total: 4, Completed: 2, Failures: 1})

	got := s.CompactStatus()
	if !strings.Contains(got, "2/4") || !strings.Contains(got, "1 failed") {
		t.Errorf("CompactStatus = %q", got)
	}
	if !s.IsActive() {
		t.Error("running display should be active")
	}
}

func TestStatusDisplay_DetailedTruncatesErrors(t *testing.T) {
	start := time.Now()
	s := NewStatusDisplay()
	s.Update(prerender.Snapshot{
		Status:     prerender.StatusCompleted,
		Total:      3,
		Completed:  3,
		Generated:  1,
		CacheHits:  1,
		Failures:   1,
		LastError:  "line 4: " + strings.Repeat("provider exploded ", 20),
		StartedAt:  start,
		FinishedAt: start.Add(65 * time.Second),
	})

	got := s.DetailedStatus(40)
	if !strings.Contains(got, "2 of 3 lines ready, 1 failed") {
		t.Errorf("missing summary:\n%s", got)
	}
	if !strings.Contains(got, "1:05") {
		t.Errorf("missing elapsed time:\n%s", got)
	}
	if !strings.Contains(got, ellipsis) {
		t.Errorf("long error not truncated:\n%s", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		-time.Second:      "0:00",
		0:                 "0:00",
		59 * time.Second:  "0:59",
		125 * time.Second: "2:05",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
