package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# owner id that scopes every cache entry (default $USER)
# owner: "me"

# audio cache
cache:
  # disk or memory
  backend: "disk"
  # directory for blobs and the index database
  # dir: "~/.cache/linecue/audio"
  # zstd level for stored blobs, 0 disables compression
  compress: 3
  # in-memory read tier in megabytes, 0 disables it
  memory_mb: 64

# speech provider
tts:
  # http or mock. The http provider reads LINECUE_TTS_ENDPOINT,
  # LINECUE_TTS_API_KEY and LINECUE_TTS_PROVIDER_NAME from the environment.
  provider: "mock"
  # default voice for partner lines
  voice: ""
  # speaking rate, 0.25 to 4.0
  speed: 1.0
  requests_per_minute: 120
  timeout: "30s"
  # simulated latency of the mock provider
  mock_delay: "150ms"
  # per-character voices
  # voices:
  #   hamlet: "voice-a"

# pre-render scheduling
prerender:
  concurrency: 2
  max_attempts: 2
  retry_backoff: "1500ms"
  # retry every transient error, not just rate limits
  retry_all_transient: false

# HTTP API
serve:
  addr: "127.0.0.1:7878"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the linecue config file",
	Long:    paragraph(fmt.Sprintf("\n%s the linecue config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("linecue config\nlinecue config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("linecue", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
