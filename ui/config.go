package ui

// Config contains TUI-specific configuration.
type Config struct {
	// Title is shown above the progress bar, usually the script name.
	Title string

	// MaxLines bounds the recent-lines list; 0 hides it.
	MaxLines int

	EnableMouse bool
}
