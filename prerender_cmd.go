package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linecue/linecue/internal/prerender"
	"github.com/linecue/linecue/internal/script"
	"github.com/linecue/linecue/ui"
)

// watchDebounce coalesces the burst of events editors emit on save.
const watchDebounce = 250 * time.Millisecond

// renderFlags are shared by every command that pre-renders a script.
type renderFlags struct {
	actor    string
	voice    string
	speed    float64
	voices   map[string]string
	scriptID string
	tui      bool
}

func addRenderFlags(cmd *cobra.Command, f *renderFlags) {
	cmd.Flags().StringVarP(&f.actor, "actor", "a", script.ActorNone, "character you are rehearsing; their lines are not rendered")
	cmd.Flags().StringVar(&f.voice, "voice", "", "voice id for partner lines (default tts.voice)")
	cmd.Flags().Float64Var(&f.speed, "speed", 0, "speaking rate 0.25-4.0 (default tts.speed)")
	cmd.Flags().StringToStringVar(&f.voices, "voice-map", nil, "per-character voices, e.g. HAMLET=voice-a,OPHELIA=voice-b")
	cmd.Flags().StringVar(&f.scriptID, "script-id", "", "cache namespace for the script (default derived from its path)")
	cmd.Flags().BoolVarP(&f.tui, "tui", "t", true, "show live progress when attached to a terminal")
}

func (f renderFlags) job(path string) renderJob {
	voice := f.voice
	if voice == "" {
		voice = viper.GetString("tts.voice")
	}
	speed := f.speed
	if speed == 0 {
		speed = viper.GetFloat64("tts.speed")
	}
	return renderJob{
		path:     path,
		actor:    f.actor,
		voice:    voice,
		speed:    speed,
		voices:   voiceMap(f.voices),
		scriptID: f.scriptID,
	}
}

var (
	prerenderFlags renderFlags
	watch          bool

	prerenderCmd = &cobra.Command{
		Use:   "prerender SCRIPT",
		Short: "Synthesize every partner line of a script",
		Long: paragraph(fmt.Sprintf("\n%s every line the actor does not speak, serving repeats from the audio cache.",
			keyword("Synthesize"))),
		Example: paragraph("linecue prerender hamlet.md --actor HAMLET\nlinecue prerender scene.md -a none --voice-map BERNARDO=deep,FRANCISCO=bright"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sched, closeAll, err := newScheduler(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			job := prerenderFlags.job(args[0])
			snap, err := renderScript(ctx, cmd.OutOrStdout(), sched, job, prerenderFlags.tui)
			if err != nil {
				return err
			}
			if !watch {
				return runError(snap)
			}
			return watchScript(ctx, cmd.OutOrStdout(), sched, job)
		},
	}
)

func init() {
	addRenderFlags(prerenderCmd, &prerenderFlags)
	prerenderCmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render whenever the script changes")
}

// newScheduler wires the configured cache and provider into a scheduler.
func newScheduler(ctx context.Context) (*prerender.Scheduler, func(), error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := newSynthClient()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	sched := prerender.New(client, store, schedulerConfig(), log.Default())
	return sched, func() {
		sched.Cancel()
		if err := store.Close(); err != nil {
			log.Warn("Could not close audio cache", "err", err)
		}
	}, nil
}

// renderScript runs one pre-render of job to completion and prints its
// summary. A finished previous run is reset first.
func renderScript(ctx context.Context, w io.Writer, sched *prerender.Scheduler, job renderJob, tui bool) (prerender.Snapshot, error) {
	opts, err := job.options()
	if err != nil {
		return prerender.Snapshot{}, err
	}

	if err := sched.Reset(); err != nil {
		return prerender.Snapshot{}, fmt.Errorf("unable to reset previous run: %w", err)
	}
	if err := sched.Start(ctx, opts); err != nil {
		return prerender.Snapshot{}, fmt.Errorf("unable to start pre-render: %w", err)
	}

	if tui && isTerminal() {
		p := ui.NewProgram(ui.Config{Title: filepath.Base(job.path), MaxLines: 8}, sched)
		if _, err := p.Run(); err != nil {
			sched.Cancel()
			return prerender.Snapshot{}, fmt.Errorf("unable to run progress view: %w", err)
		}
	}

	// In-flight lines always finish, even after an interrupt.
	snap, err := sched.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return snap, fmt.Errorf("unable to wait for pre-render: %w", err)
	}
	printSummary(w, snap, sched.Items())
	return snap, nil
}

func printSummary(w io.Writer, snap prerender.Snapshot, items []prerender.QueueItem) {
	fmt.Fprintln(w, paragraph(fmt.Sprintf("%s %s", keyword(snap.Status.String()), snap.Summary())))
	fmt.Fprintln(w, paragraph(faint(fmt.Sprintf("%d from cache, %d generated", snap.CacheHits, snap.Generated))))
	for _, item := range items {
		if item.Status != prerender.ItemError {
			continue
		}
		fmt.Fprintln(w, paragraph(failure(fmt.Sprintf("line %d (%s): %s", item.Line.LineIndex, item.Line.Character, item.Err))))
	}
}

// runError turns a run that could not produce anything useful into an error.
func runError(snap prerender.Snapshot) error {
	switch {
	case snap.Status == prerender.StatusError:
		return fmt.Errorf("pre-render failed: %s", snap.LastError)
	case snap.Total > 0 && snap.Ready() == 0 && snap.Status == prerender.StatusCompleted:
		return errors.New("pre-render produced no audio")
	}
	return nil
}

// watchScript re-renders job each time its file is written, until ctx ends.
// Unchanged lines are served from the cache, so only edits are synthesized.
func watchScript(ctx context.Context, w io.Writer, sched *prerender.Scheduler, job renderJob) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to watch script: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	abs, err := filepath.Abs(job.path)
	if err != nil {
		return fmt.Errorf("unable to resolve script path: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("unable to watch script: %w", err)
	}
	fmt.Fprintln(w, paragraph(faint("Watching "+job.path+" for changes. Press ctrl+c to stop.")))

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Script watcher error", "err", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			debounce = time.After(watchDebounce)
		case <-debounce:
			debounce = nil
			log.Info("Script changed, re-rendering", "path", job.path)
			// Watch mode logs instead of taking over the terminal each save.
			if _, err := renderScript(ctx, w, sched, job, false); err != nil {
				fmt.Fprintln(w, paragraph(failure(err.Error())))
			}
		}
	}
}
