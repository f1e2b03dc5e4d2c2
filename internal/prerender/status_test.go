package prerender

import (
	"encoding/json"
	"testing"
)

func TestItemStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		want     bool
	}{
		{ItemPending, ItemGenerating, true},
		{ItemGenerating, ItemReady, true},
		{ItemReady, ItemPlaying, true},
		{ItemPlaying, ItemCompleted, true},
		{ItemPlaying, ItemReady, true},
		{ItemGenerating, ItemError, true},
		{ItemCompleted, ItemError, true},
		{ItemPending, ItemReady, false},
		{ItemPending, ItemPlaying, false},
		{ItemCompleted, ItemPlaying, false},
		{ItemError, ItemReady, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestItemStatus_TextRoundTrip(t *testing.T) {
	for st := ItemPending; st <= ItemError; st++ {
		b, _ := st.MarshalText()
		var got ItemStatus
		if err := got.UnmarshalText(b); err != nil || got != st {
			t.Errorf("%v: got %v, err %v", st, got, err)
		}
	}

	var st ItemStatus
	if err := st.UnmarshalText([]byte("exploded")); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	terminal := map[RunStatus]bool{
		StatusIdle:      false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusCancelled: true,
		StatusError:     true,
	}
	for st, want := range terminal {
		if st.Terminal() != want {
			t.Errorf("%v.Terminal() = %v", st, !want)
		}
	}
}

func TestSnapshot_JSON(t *testing.T) {
	snap := Snapshot{Status: StatusRunning, Total: 4, Completed: 2, CacheHits: 1, Generated: 1}
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["status"] != "running" {
		t.Errorf("status = %v", decoded["status"])
	}
	if decoded["progress"] != float64(2) {
		t.Errorf("progress = %v", decoded["progress"])
	}
	if snap.Summary() != "2 of 4 lines ready, 0 failed" {
		t.Errorf("Summary = %q", snap.Summary())
	}
}
