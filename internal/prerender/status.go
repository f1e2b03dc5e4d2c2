package prerender

import (
	"fmt"
	"strings"
)

// RunStatus is the lifecycle state of a pre-render run.
type RunStatus int

const (
	// StatusIdle indicates no run has started since the last reset.
	StatusIdle RunStatus = iota
	// StatusRunning indicates workers are processing lines.
	StatusRunning
	// StatusCompleted indicates every line in the work set was attempted.
	StatusCompleted
	// StatusCancelled indicates the run stopped picking up lines after Cancel.
	StatusCancelled
	// StatusError indicates the run itself failed, not an individual line.
	StatusError
)

// String returns the string representation of the status.
func (s RunStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// MarshalText encodes the status by name.
func (s RunStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *RunStatus) UnmarshalText(b []byte) error {
	for st := StatusIdle; st <= StatusError; st++ {
		if strings.EqualFold(st.String(), string(b)) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown run status %q", b)
}

// ItemStatus is the state of one line's audio.
type ItemStatus int

const (
	// ItemPending indicates the line has not been picked up.
	ItemPending ItemStatus = iota
	// ItemGenerating indicates a worker is fetching or synthesizing audio.
	ItemGenerating
	// ItemReady indicates audio is available for playback.
	ItemReady
	// ItemPlaying indicates the audio is being played.
	ItemPlaying
	// ItemCompleted indicates playback finished.
	ItemCompleted
	// ItemError indicates synthesis or playback failed.
	ItemError
)

// String returns the string representation of the status.
func (s ItemStatus) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemGenerating:
		return "generating"
	case ItemReady:
		return "ready"
	case ItemPlaying:
		return "playing"
	case ItemCompleted:
		return "completed"
	case ItemError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s ItemStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *ItemStatus) UnmarshalText(b []byte) error {
	for st := ItemPending; st <= ItemError; st++ {
		if strings.EqualFold(st.String(), string(b)) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown item status %q", b)
}

// itemTransitions lists the forward moves of the item lifecycle. Any state
// may move to ItemError, and playing may fall back to ready when stopped.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:    {ItemGenerating},
	ItemGenerating: {ItemReady},
	ItemReady:      {ItemPlaying},
	ItemPlaying:    {ItemCompleted, ItemReady},
}

// CanTransition reports whether an item may move from s to next.
func (s ItemStatus) CanTransition(next ItemStatus) bool {
	if next == ItemError {
		return true
	}
	for _, allowed := range itemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
