package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/linecue/linecue/internal/cache"
	"github.com/linecue/linecue/internal/prerender"
	"github.com/linecue/linecue/internal/script"
)

const cueTextWidth = 60

var (
	cuesFlags renderFlags
	cuesCopy  bool
	cuesWidth uint

	cuesCmd = &cobra.Command{
		Use:   "cues SCRIPT",
		Short: "Show a script's cue sheet and which partner lines are cached",
		Long: paragraph(fmt.Sprintf("\n%s every line of a script, marking the actor's own lines and whether each partner line already has audio in the cache.",
			keyword("List"))),
		Example: paragraph("linecue cues hamlet.md --actor HAMLET\nlinecue cues hamlet.md -a HAMLET --copy"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := cuesFlags.job(args[0])
			opts, err := job.options()
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			cached, err := cachedKeys(cmd.Context(), store, opts)
			if err != nil {
				return err
			}

			md := cueSheet(filepath.Base(job.path), opts, cached)
			if cuesCopy {
				// OSC 52 reaches terminals over SSH; the native clipboard covers the rest.
				termenv.Copy(md)
				if err := clipboard.WriteAll(md); err != nil {
					log.Debug("Native clipboard unavailable", "err", err)
				}
			}

			if !isTerminal() {
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}

			r, err := glamour.NewTermRenderer(
				glamour.WithColorProfile(lipgloss.ColorProfile()),
				glamourStyle(),
				glamour.WithWordWrap(int(cuesWidth)), //nolint:gosec
			)
			if err != nil {
				return fmt.Errorf("unable to create renderer: %w", err)
			}
			out, err := r.Render(md)
			if err != nil {
				return fmt.Errorf("unable to render cue sheet: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
)

func init() {
	addRenderFlags(cuesCmd, &cuesFlags)
	_ = cuesCmd.Flags().MarkHidden("tui")
	cuesCmd.Flags().BoolVarP(&cuesCopy, "copy", "c", false, "copy the cue sheet markdown to the clipboard")
	cuesCmd.Flags().UintVarP(&cuesWidth, "width", "W", 100, "word-wrap at width")
}

func glamourStyle() glamour.TermRendererOption {
	if !termenv.HasDarkBackground() {
		return glamour.WithStandardStyle("light")
	}
	return glamour.WithStandardStyle("dark")
}

// cachedKeys returns the cache keys stored for the script's owner and id.
func cachedKeys(ctx context.Context, store *cache.Store, opts prerender.Options) (map[string]bool, error) {
	entries, err := store.List(ctx, cache.ListFilter{OwnerID: opts.OwnerID, ScriptID: opts.ScriptID})
	if err != nil {
		return nil, fmt.Errorf("unable to list cache entries: %w", err)
	}
	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		keys[e.Key] = true
	}
	return keys, nil
}

// cueSheet renders the script as a markdown table. Partner lines are looked
// up under the same key a pre-render would use.
func cueSheet(title string, opts prerender.Options, cached map[string]bool) string {
	speed := opts.Speed
	if speed == 0 {
		speed = 1
	}
	keys := prerender.PersistentCache{OwnerID: opts.OwnerID, ScriptID: opts.ScriptID}

	var rows strings.Builder
	partner, ready := 0, 0
	for _, line := range opts.Dialogues {
		text := escapeCell(runewidth.Truncate(line.Text, cueTextWidth, "…"))
		if line.IsSpokenBy(opts.ActorCharacter) {
			fmt.Fprintf(&rows, "| %d | **%s** | **%s** | you |\n", line.LineIndex, escapeCell(line.Character), text)
			continue
		}

		partner++
		voice := opts.VoiceFor(line.Character)
		audio := "missing"
		if cached[keys.Key(line, voice, speed)] {
			audio = "cached"
			ready++
		}
		if voice == "" {
			voice = "default"
		}
		fmt.Fprintf(&rows, "| %d | %s | %s | %s (%s) |\n", line.LineIndex, escapeCell(line.Character), text, audio, escapeCell(voice))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	actor := opts.ActorCharacter
	if actor == "" || strings.EqualFold(actor, script.ActorNone) {
		fmt.Fprintf(&b, "No actor lines. %d partner cues, %d cached.\n\n", partner, ready)
	} else {
		fmt.Fprintf(&b, "Rehearsing **%s**. %d partner cues, %d cached.\n\n", actor, partner, ready)
	}
	b.WriteString("| # | Character | Line | Audio |\n|---:|---|---|---|\n")
	b.WriteString(rows.String())
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
