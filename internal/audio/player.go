package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep"
)

// Common player errors
var (
	// ErrStopped is delivered on a done channel when playback was interrupted.
	ErrStopped = errors.New("playback stopped")

	// ErrClosed is returned when starting playback on a closed player.
	ErrClosed = errors.New("player is closed")
)

// pollInterval is how often a playback watcher checks for the end of a stream.
const pollInterval = 10 * time.Millisecond

// PlayerState represents the current state of a player.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StateClosed
)

// String returns the string representation of the state.
func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PlayerConfig contains configuration for the audio player.
type PlayerConfig struct {
	SampleRate int           // 44100 or 48000 Hz only
	Channels   int           // 1 = mono, 2 = stereo
	BufferSize time.Duration // device buffer; 0 lets oto choose
	Volume     float64       // 0.0 to 1.0
}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 44100,
		Channels:   2,
		BufferSize: 100 * time.Millisecond,
		Volume:     1.0,
	}
}

// validateConfig validates the player configuration.
func validateConfig(config PlayerConfig) error {
	// OTO only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BufferSize < 0 {
		return errors.New("buffer size must not be negative")
	}

	if config.Volume < 0 || config.Volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", config.Volume)
	}

	return nil
}

// Player plays encoded audio through the system output device. Only one
// stream plays at a time; starting another stops the current one.
type Player struct {
	// OTO context - oto allows one per process
	context *oto.Context
	config  PlayerConfig

	mu     sync.Mutex
	state  PlayerState
	active *stream
}

// stream is one playback in progress. The decoded source stays referenced
// until the oto player is closed.
type stream struct {
	player *oto.Player
	source beep.StreamSeekCloser
	done   chan error
	stop   chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewPlayer opens the output device with the specified configuration.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   config.BufferSize,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for the device to be ready
	<-readyChan

	return &Player{
		context: ctx,
		config:  config,
		state:   StateStopped,
	}, nil
}

// Start decodes payload and begins playing it. The returned channel
// receives exactly one value: nil on natural end, ErrStopped when
// interrupted, or the playback error.
func (p *Player) Start(payload []byte) (<-chan error, error) {
	source, format, err := Decode(payload)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		source.Close()
		return nil, ErrClosed
	}
	p.stopLocked()

	var s beep.Streamer = source
	target := beep.SampleRate(p.config.SampleRate)
	if format.SampleRate != target {
		s = beep.Resample(4, format.SampleRate, target, s)
	}

	st := &stream{
		player: p.context.NewPlayer(newPCMReader(s, p.config.Channels)),
		source: source,
		done:   make(chan error, 1),
		stop:   make(chan struct{}),
	}
	st.player.SetVolume(p.config.Volume)

	p.active = st
	p.state = StatePlaying
	st.player.Play()

	go p.watch(st)
	return st.done, nil
}

// watch waits for the stream to drain or be stopped.
func (p *Player) watch(st *stream) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			st.done <- ErrStopped
			return
		case <-ticker.C:
			if st.player.IsPlaying() {
				continue
			}
			// Stop closes the stop channel before pausing the player.
			select {
			case <-st.stop:
				st.done <- ErrStopped
				return
			default:
			}

			err := st.player.Err()
			p.mu.Lock()
			if p.active == st {
				p.active = nil
				p.state = StateStopped
			}
			p.mu.Unlock()

			st.close()
			st.done <- err
			return
		}
	}
}

// Stop interrupts the current stream, if any. It is safe to call at any time.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	st := p.active
	if st == nil {
		return
	}
	p.active = nil
	if p.state == StatePlaying {
		p.state = StateStopped
	}

	st.stopOnce.Do(func() { close(st.stop) })
	st.player.Pause()
	st.close()
}

func (st *stream) close() {
	st.closeOnce.Do(func() {
		st.player.Close()
		st.source.Close()
	})
}

// IsPlaying returns whether audio is currently playing.
func (p *Player) IsPlaying() bool {
	return p.State() == StatePlaying
}

// State returns the current player state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close stops playback and rejects further streams. The oto context itself
// lives until the process exits.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.state = StateClosed
	return nil
}
