package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/linecue/linecue/internal/cache"
	"github.com/linecue/linecue/internal/prerender"
	"github.com/linecue/linecue/internal/script"
	"github.com/linecue/linecue/internal/synth"
	"github.com/linecue/linecue/internal/synth/mock"
)

// envKeyReplacer maps nested config keys to LINECUE_SECTION_KEY variables.
var envKeyReplacer = strings.NewReplacer(".", "_")

// ttsEnvPrefix prefixes provider settings read with caarlos0/env.
const ttsEnvPrefix = "LINECUE_TTS_"

func cacheConfig() cache.Config {
	return cache.Config{
		Backend:          viper.GetString("cache.backend"),
		Dir:              viper.GetString("cache.dir"),
		CompressionLevel: viper.GetInt("cache.compress"),
		MemoryCapacity:   viper.GetInt64("cache.memory_mb") * 1024 * 1024,
	}
}

func openStore(ctx context.Context) (*cache.Store, error) {
	store, err := cache.Open(ctx, cacheConfig(), log.Default())
	if err != nil {
		return nil, fmt.Errorf("unable to open audio cache: %w", err)
	}
	return store, nil
}

// httpConfig reads provider credentials from the environment and fills the
// rest from viper.
func httpConfig() (synth.HTTPConfig, error) {
	var cfg synth.HTTPConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: ttsEnvPrefix}); err != nil {
		return cfg, fmt.Errorf("unable to parse provider environment: %w", err)
	}
	cfg.RequestsPerMinute = viper.GetInt("tts.requests_per_minute")
	cfg.Timeout = viper.GetDuration("tts.timeout")
	return cfg, nil
}

func newSynthClient() (synth.Client, error) {
	switch provider := viper.GetString("tts.provider"); provider {
	case "mock":
		c := mock.New()
		c.SetDelay(viper.GetDuration("tts.mock_delay"))
		return c, nil
	case "http":
		cfg, err := httpConfig()
		if err != nil {
			return nil, err
		}
		c, err := synth.NewHTTPClient(cfg, log.Default())
		if err != nil {
			return nil, fmt.Errorf("unable to create speech client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", provider)
	}
}

func schedulerConfig() prerender.Config {
	return prerender.Config{
		Concurrency:       viper.GetInt("prerender.concurrency"),
		MaxAttempts:       viper.GetInt("prerender.max_attempts"),
		RetryBackoff:      viper.GetDuration("prerender.retry_backoff"),
		RetryAllTransient: viper.GetBool("prerender.retry_all_transient"),
	}
}

// scriptIDFor derives a stable script id from the file's absolute path, so
// two scripts with the same name never share cache entries.
func scriptIDFor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("unable to resolve script path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return stem + "-" + hex.EncodeToString(sum[:4]), nil
}

// voiceMap merges the configured per-character voices with flag overrides.
// Keys are upper-cased so lookups match script speaker labels.
func voiceMap(overrides map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range viper.GetStringMapString("tts.voices") {
		out[strings.ToUpper(k)] = v
	}
	for k, v := range overrides {
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// renderJob is everything needed to pre-render one script file.
type renderJob struct {
	path     string
	actor    string
	voice    string
	speed    float64
	voices   map[string]string
	scriptID string
}

// options parses the script and builds scheduler options for it.
func (j renderJob) options() (prerender.Options, error) {
	lines, err := script.ParseFile(j.path)
	if err != nil {
		return prerender.Options{}, err //nolint:wrapcheck
	}

	actor := j.actor
	if actor == "" {
		actor = script.ActorNone
	}
	actor, err = script.ResolveCharacter(lines, actor)
	if err != nil {
		return prerender.Options{}, err //nolint:wrapcheck
	}

	scriptID := j.scriptID
	if scriptID == "" {
		if scriptID, err = scriptIDFor(j.path); err != nil {
			return prerender.Options{}, err
		}
	}

	return prerender.Options{
		Dialogues:      lines,
		ActorCharacter: actor,
		VoiceID:        j.voice,
		VoiceMap:       j.voices,
		Speed:          j.speed,
		OwnerID:        viper.GetString("owner"),
		ScriptID:       scriptID,
	}, nil
}
