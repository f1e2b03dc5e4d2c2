package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/linecue/linecue/internal/audio"
	"github.com/linecue/linecue/internal/playback"
)

var (
	playFlags renderFlags
	playFrom  int

	playCmd = &cobra.Command{
		Use:   "play SCRIPT",
		Short: "Pre-render a script, then play the partner lines in order",
		Long: paragraph(fmt.Sprintf("\n%s every ready partner line in script order. Lines that failed to render are skipped.",
			keyword("Play"))),
		Example: paragraph("linecue play hamlet.md --actor HAMLET\nlinecue play hamlet.md -a HAMLET --from 3"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sched, closeAll, err := newScheduler(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			snap, err := renderScript(ctx, cmd.OutOrStdout(), sched, playFlags.job(args[0]), playFlags.tui)
			if err != nil {
				return err
			}
			if err := runError(snap); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}

			player, err := audio.NewPlayer(audio.DefaultPlayerConfig())
			if err != nil {
				return fmt.Errorf("unable to open audio output: %w", err)
			}
			q := playback.FromScheduler(player, sched, log.Default())
			defer q.Close() //nolint:errcheck

			if q.Len() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), paragraph(faint("No partner lines to play.")))
				return nil
			}

			err = q.PlaySequential(ctx, playFrom)
			switch {
			case errors.Is(err, playback.ErrIndexOutOfRange):
				return fmt.Errorf("--from must be between 0 and %d", q.Len()-1)
			case errors.Is(err, ctx.Err()), errors.Is(err, playback.ErrHalted):
				return nil
			case err != nil:
				return fmt.Errorf("playback failed: %w", err)
			}
			return nil
		},
	}
)

func init() {
	addRenderFlags(playCmd, &playFlags)
	playCmd.Flags().IntVar(&playFrom, "from", 0, "partner line to start from, counting from 0")
}
