package audio

import (
	"sync"
	"time"
)

// MockPlayer simulates playback without producing sound. Every stream
// "plays" for a fixed duration; failures can be scripted per payload.
type MockPlayer struct {
	mu sync.Mutex

	// Configuration
	duration  time.Duration
	failures  map[string]error
	startErr  error
	callbacks MockCallbacks

	// State
	state  PlayerState
	active *mockStream

	// Recorded for assertions
	played [][]byte
	events []Event
	stops  int
}

// MockCallbacks provides hooks for testing. They run without the player
// lock held.
type MockCallbacks struct {
	OnStart func(payload []byte)
	OnEnd   func(payload []byte, err error)
}

// Event records one start or end of a simulated stream.
type Event struct {
	Kind    string // "start" or "end"
	Payload string
	Err     error
}

type mockStream struct {
	payload []byte
	done    chan error
	stop    chan struct{}
	once    sync.Once
}

// NewMockPlayer creates a mock player whose streams last duration.
func NewMockPlayer(duration time.Duration) *MockPlayer {
	return &MockPlayer{
		duration: duration,
		failures: make(map[string]error),
		state:    StateStopped,
	}
}

// SetCallbacks installs test hooks.
func (mp *MockPlayer) SetCallbacks(callbacks MockCallbacks) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.callbacks = callbacks
}

// SetDuration changes how long subsequent streams last.
func (mp *MockPlayer) SetDuration(d time.Duration) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.duration = d
}

// FailPayload makes playback of payload end with err.
func (mp *MockPlayer) FailPayload(payload []byte, err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.failures[string(payload)] = err
}

// FailStart makes every Start return err until cleared with nil.
func (mp *MockPlayer) FailStart(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.startErr = err
}

// Start begins a simulated stream, interrupting any current one.
func (mp *MockPlayer) Start(payload []byte) (<-chan error, error) {
	mp.mu.Lock()
	if mp.state == StateClosed {
		mp.mu.Unlock()
		return nil, ErrClosed
	}
	if mp.startErr != nil {
		err := mp.startErr
		mp.mu.Unlock()
		return nil, err
	}
	if len(payload) == 0 {
		mp.mu.Unlock()
		return nil, ErrEmptyAudio
	}
	mp.stopLocked()

	data := make([]byte, len(payload))
	copy(data, payload)

	st := &mockStream{
		payload: data,
		done:    make(chan error, 1),
		stop:    make(chan struct{}),
	}
	mp.active = st
	mp.state = StatePlaying
	mp.played = append(mp.played, data)
	mp.events = append(mp.events, Event{Kind: "start", Payload: string(data)})
	failure := mp.failures[string(data)]
	duration := mp.duration
	onStart := mp.callbacks.OnStart
	mp.mu.Unlock()

	if onStart != nil {
		onStart(data)
	}

	go mp.simulate(st, duration, failure)
	return st.done, nil
}

func (mp *MockPlayer) simulate(st *mockStream, duration time.Duration, failure error) {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	var err error
	select {
	case <-timer.C:
		err = failure
	case <-st.stop:
		err = ErrStopped
	}

	mp.mu.Lock()
	if mp.active == st {
		mp.active = nil
		mp.state = StateStopped
	}
	mp.events = append(mp.events, Event{Kind: "end", Payload: string(st.payload), Err: err})
	onEnd := mp.callbacks.OnEnd
	mp.mu.Unlock()

	if onEnd != nil {
		onEnd(st.payload, err)
	}
	st.done <- err
}

// Stop interrupts the current stream. It is safe to call at any time.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.stopLocked()
	return nil
}

func (mp *MockPlayer) stopLocked() {
	mp.stops++
	if mp.active == nil {
		return
	}
	st := mp.active
	mp.active = nil
	mp.state = StateStopped
	st.once.Do(func() { close(st.stop) })
}

// Close stops playback and rejects further streams.
func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.stopLocked()
	mp.state = StateClosed
	return nil
}

// State returns the current player state.
func (mp *MockPlayer) State() PlayerState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// Played returns every payload started, in order.
func (mp *MockPlayer) Played() [][]byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([][]byte, len(mp.played))
	copy(out, mp.played)
	return out
}

// Events returns the start/end log.
func (mp *MockPlayer) Events() []Event {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([]Event, len(mp.events))
	copy(out, mp.events)
	return out
}

// Stops returns how many times playback was stopped, including no-op stops.
func (mp *MockPlayer) Stops() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.stops
}
