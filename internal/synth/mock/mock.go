// Package mock provides a scripted synthesis client for tests and offline runs.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/linecue/linecue/internal/synth"
)

// ProviderName identifies audio produced by the mock client.
const ProviderName = "mock"

// Client implements synth.Client without any network access. Failures can
// be scripted per line text, and every call is counted.
type Client struct {
	mu sync.Mutex

	// Configuration
	delay time.Duration
	gate  <-chan struct{}

	// Scripted failures keyed by trimmed text
	failures map[string]*failure

	// Metrics
	calls       map[string]int
	total       int
	inFlight    int
	maxInFlight int
}

type failure struct {
	remaining int // <0 fails forever
	err       error
}

var _ synth.Client = (*Client)(nil)

// New creates a mock client that answers immediately.
func New() *Client {
	return &Client{
		failures: make(map[string]*failure),
		calls:    make(map[string]int),
	}
}

// SetDelay sets a simulated processing delay per call.
func (c *Client) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetGate makes every call wait for a receive on gate (or a closed gate)
// before answering, so tests control exactly when work completes.
func (c *Client) SetGate(gate <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = gate
}

// FailTimes makes the next n calls for text fail with err.
func (c *Client) FailTimes(text string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[strings.TrimSpace(text)] = &failure{remaining: n, err: err}
}

// FailAlways makes every call for text fail with err.
func (c *Client) FailAlways(text string, err error) {
	c.FailTimes(text, -1, err)
}

// Calls returns how many calls were made for text.
func (c *Client) Calls(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[strings.TrimSpace(text)]
}

// TotalCalls returns how many calls were made overall.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (c *Client) MaxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

// Synthesize returns deterministic silent MPEG audio for req, or a scripted failure.
func (c *Client) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)

	c.mu.Lock()
	c.calls[text]++
	c.total++
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	delay, gate := c.delay, c.gate
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	f := c.failures[text]
	var err error
	if f != nil && f.remaining != 0 {
		err = f.err
		if f.remaining > 0 {
			f.remaining--
		}
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &synth.Result{
		Audio:       SilentMP3(2*len(text) + 4),
		Provider:    ProviderName,
		ContentType: "audio/mpeg",
	}, nil
}

// frameHeader is MPEG-1 Layer III, 128kbps, 44.1kHz, joint stereo.
var frameHeader = [4]byte{0xFF, 0xFB, 0x90, 0x64}

// frameSize is the byte length of one unpadded frame at that rate.
const frameSize = 417

// SilentMP3 returns n frames of MPEG audio that decode to silence, about
// 26ms each.
func SilentMP3(n int) []byte {
	if n < 1 {
		n = 1
	}
	out := make([]byte, n*frameSize)
	for i := 0; i < n; i++ {
		copy(out[i*frameSize:], frameHeader[:])
	}
	return out
}
