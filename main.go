// Package main provides the entry point for the linecue CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "linecue",
		Short: "Rehearse scenes with pre-rendered scene partners",
		Long: paragraph(
			fmt.Sprintf("\nRehearse scenes with %s: every line you don't speak is synthesized ahead of time and cached.", keyword("pre-rendered scene partners")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOptions()
		},
	}
)

// validateOptions checks config values shared by every command.
func validateOptions() error {
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("unable to read config file: %w", err)
			}
		}
	}

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if viper.GetString("owner") == "" {
		return errors.New("owner must not be empty")
	}

	switch backend := viper.GetString("cache.backend"); backend {
	case "disk", "memory":
	default:
		return fmt.Errorf("cache.backend must be disk or memory, got %q", backend)
	}

	switch provider := viper.GetString("tts.provider"); provider {
	case "http", "mock":
	default:
		return fmt.Errorf("tts.provider must be http or mock, got %q", provider)
	}

	if level := viper.GetInt("cache.compress"); level < 0 || level > 22 {
		return fmt.Errorf("cache.compress must be between 0 and 22, got %d", level)
	}

	if c := viper.GetInt("prerender.concurrency"); c < 1 || c > 16 {
		return fmt.Errorf("prerender.concurrency must be between 1 and 16, got %d", c)
	}

	if a := viper.GetInt("prerender.max_attempts"); a < 1 || a > 10 {
		return fmt.Errorf("prerender.max_attempts must be between 1 and 10, got %d", a)
	}

	return nil
}

// isTerminal reports whether stdout is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")
	rootCmd.PersistentFlags().String("owner", "", "owner id for cache entries")
	rootCmd.PersistentFlags().String("cache-dir", "", "audio cache directory")
	rootCmd.PersistentFlags().String("cache-backend", "", "audio cache backend (disk/memory)")
	rootCmd.PersistentFlags().String("provider", "", "speech provider (http/mock)")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
	_ = viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("cache.backend", rootCmd.PersistentFlags().Lookup("cache-backend"))
	_ = viper.BindPFlag("tts.provider", rootCmd.PersistentFlags().Lookup("provider"))

	setDefaults()

	rootCmd.AddCommand(prerenderCmd, playCmd, cuesCmd, scriptsCmd, cacheCmd, serveCmd, configCmd, manCmd)
}

func setDefaults() {
	viper.SetDefault("owner", defaultOwner())

	viper.SetDefault("cache.backend", "disk")
	viper.SetDefault("cache.dir", defaultCacheDir())
	viper.SetDefault("cache.compress", 3)
	viper.SetDefault("cache.memory_mb", 64)

	viper.SetDefault("tts.provider", "mock")
	viper.SetDefault("tts.voice", "")
	viper.SetDefault("tts.speed", 1.0)
	viper.SetDefault("tts.requests_per_minute", 120)
	viper.SetDefault("tts.timeout", 30*time.Second)
	viper.SetDefault("tts.mock_delay", 150*time.Millisecond)

	viper.SetDefault("prerender.concurrency", 2)
	viper.SetDefault("prerender.max_attempts", 2)
	viper.SetDefault("prerender.retry_backoff", 1500*time.Millisecond)
	viper.SetDefault("prerender.retry_all_transient", false)

	viper.SetDefault("serve.addr", "127.0.0.1:7878")
}

func defaultOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func defaultCacheDir() string {
	scope := gap.NewScope(gap.User, "linecue")
	dir, err := scope.CacheDir()
	if err != nil {
		return filepath.Join("~", ".cache", "linecue", "audio")
	}
	return filepath.Join(dir, "audio")
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "linecue")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "linecue")}, dirs...)
	}

	if c := os.Getenv("LINECUE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("linecue")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("linecue")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "linecue.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
