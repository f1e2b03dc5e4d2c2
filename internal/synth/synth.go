// Package synth adapts external speech-synthesis providers. A Client makes a
// single request per call and never retries; callers decide retry policy
// from the TransientError and FatalError classification.
package synth

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MinSpeed and MaxSpeed bound the speaking-rate multiplier.
	MinSpeed = 0.25
	MaxSpeed = 4.0

	// MaxTextLength is the largest request accepted, in characters.
	MaxTextLength = 5000
)

// Request is a single line to synthesize.
type Request struct {
	Text    string
	VoiceID string
	Speed   float64
}

// Result is synthesized audio.
type Result struct {
	Audio       []byte
	Provider    string
	ContentType string
}

// Client synthesizes one request.
type Client interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// Validate checks a request before it is sent. Failures are fatal.
func (r Request) Validate() error {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return &FatalError{Message: "invalid input", Cause: ErrEmptyText}
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return &FatalError{Message: "invalid input", Cause: fmt.Errorf("%w: %d characters (max %d)", ErrTextTooLong, n, MaxTextLength)}
	}
	if r.Speed != 0 && (r.Speed < MinSpeed || r.Speed > MaxSpeed) {
		return &FatalError{Message: "invalid input", Cause: fmt.Errorf("%w: got %.2f", ErrInvalidSpeed, r.Speed)}
	}
	return nil
}
