package prerender

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/linecue/linecue/internal/cache"
	"github.com/linecue/linecue/internal/cachekey"
	"github.com/linecue/linecue/internal/script"
	"github.com/linecue/linecue/internal/synth"
)

// AudioStore is the subset of the audio cache used by the scheduler.
type AudioStore interface {
	Get(ctx context.Context, ownerID, key string) ([]byte, *cache.Entry, error)
	Put(ctx context.Context, req cache.PutRequest) (*cache.Entry, error)
}

var _ AudioStore = (*cache.Store)(nil)

// CachingPolicy decides whether rendered lines are looked up and stored.
type CachingPolicy interface {
	// Name identifies the policy in logs.
	Name() string

	// Lookup returns cached audio for the line, or ok=false on a miss.
	// Storage read failures are treated as misses.
	Lookup(ctx context.Context, line script.DialogueLine, voiceID string, speed float64) (audio []byte, contentType string, ok bool)

	// Store writes freshly synthesized audio through to the cache.
	Store(ctx context.Context, line script.DialogueLine, voiceID string, speed float64, res *synth.Result) error
}

// NoCache synthesizes every line directly.
type NoCache struct{}

// Name implements CachingPolicy.
func (NoCache) Name() string { return "none" }

// Lookup implements CachingPolicy and always misses.
func (NoCache) Lookup(context.Context, script.DialogueLine, string, float64) ([]byte, string, bool) {
	return nil, "", false
}

// Store implements CachingPolicy and discards the audio.
func (NoCache) Store(context.Context, script.DialogueLine, string, float64, *synth.Result) error {
	return nil
}

// PersistentCache reads and writes the owner's content-addressed audio cache
// for one script.
type PersistentCache struct {
	Cache    AudioStore
	OwnerID  string
	ScriptID string
	Logger   *log.Logger
}

// Name implements CachingPolicy.
func (p *PersistentCache) Name() string { return "persistent" }

// Key returns the cache key for a line rendering.
func (p *PersistentCache) Key(line script.DialogueLine, voiceID string, speed float64) string {
	return cachekey.ComputeKey(p.OwnerID, p.ScriptID, line.LineIndex, line.Text, voiceID, speed)
}

// Lookup implements CachingPolicy.
func (p *PersistentCache) Lookup(ctx context.Context, line script.DialogueLine, voiceID string, speed float64) ([]byte, string, bool) {
	audio, entry, err := p.Cache.Get(ctx, p.OwnerID, p.Key(line, voiceID, speed))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger().Warn("Cache read failed, synthesizing instead", "line", line.LineIndex, "err", err)
		}
		return nil, "", false
	}
	return audio, entry.ContentType, true
}

// Store implements CachingPolicy.
func (p *PersistentCache) Store(ctx context.Context, line script.DialogueLine, voiceID string, speed float64, res *synth.Result) error {
	_, err := p.Cache.Put(ctx, cache.PutRequest{
		Key:         p.Key(line, voiceID, speed),
		OwnerID:     p.OwnerID,
		ScriptID:    p.ScriptID,
		LineIndex:   line.LineIndex,
		Character:   line.Character,
		VoiceID:     voiceID,
		Speed:       speed,
		Provider:    res.Provider,
		ContentType: res.ContentType,
		Payload:     res.Audio,
	})
	return err
}

func (p *PersistentCache) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}
