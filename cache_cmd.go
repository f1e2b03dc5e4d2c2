package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linecue/linecue/internal/cache"
)

var (
	cacheScriptID string
	cacheLimit    int
	cacheAll      bool
	sweepGrace    time.Duration

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the audio cache",
		Args:  cobra.NoArgs,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("unable to read cache stats: %w", err)
			}

			tier, tiered := store.TierStats()
			rows := statsRows(viper.GetString("cache.backend"), viper.GetString("cache.dir"), stats, tier, tiered)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	cacheListCmd = &cobra.Command{
		Use:   "list",
		Short: "List cached lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			filter := cache.ListFilter{ScriptID: cacheScriptID, Limit: cacheLimit}
			if !cacheAll {
				filter.OwnerID = viper.GetString("owner")
			}
			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("unable to list cache entries: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), paragraph(faint("No cached lines.")))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Script", "Line", "Character", "Voice", "Speed", "Size", "Created"},
				entryRows(entries, time.Now()),
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cachePurgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete the owner's cached lines",
		Long:  paragraph(fmt.Sprintf("\n%s every cached line for the configured owner, or only one script's lines with --script-id.", keyword("Delete"))),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			n, err := store.Purge(cmd.Context(), viper.GetString("owner"), cacheScriptID)
			if err != nil {
				return fmt.Errorf("unable to purge cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), paragraph(fmt.Sprintf("Removed %s cached %s.", keyword(strconv.Itoa(n)), plural(n, "line", "lines"))))
			return nil
		},
	}

	cacheSweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Remove stored audio no index entry refers to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			res, err := store.Sweep(cmd.Context(), sweepGrace)
			if err != nil {
				return fmt.Errorf("unable to sweep cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), paragraph(fmt.Sprintf("Scanned %d, removed %d, freed %s.",
				res.Scanned, res.Removed, humanize.IBytes(uint64(max(res.Freed, 0))))))
			return nil
		},
	}
)

func init() {
	cacheListCmd.Flags().StringVar(&cacheScriptID, "script-id", "", "only show one script")
	cacheListCmd.Flags().IntVarP(&cacheLimit, "limit", "n", 50, "maximum entries to show (0 for all)")
	cacheListCmd.Flags().BoolVar(&cacheAll, "all-owners", false, "show every owner's entries")
	cachePurgeCmd.Flags().StringVar(&cacheScriptID, "script-id", "", "only purge one script")
	cacheSweepCmd.Flags().DurationVar(&sweepGrace, "grace", 10*time.Minute, "keep unreferenced audio younger than this")

	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cachePurgeCmd, cacheSweepCmd)
}

// statsRows lays out index totals, this process's lookup counters and,
// for a tiered store, the memory tier counters.
func statsRows(backend, dir string, stats cache.Stats, tier cache.TierStats, tiered bool) [][]string {
	rows := [][]string{
		{"Backend", backend},
		{"Entries", humanize.Comma(stats.Entries)},
		{"Size", humanize.IBytes(uint64(max(stats.Bytes, 0)))}, //nolint:gosec
		{"Owners", humanize.Comma(stats.Owners)},
		{"Scripts", humanize.Comma(stats.Scripts)},
		{"Hits", humanize.Comma(stats.Hits)},
		{"Misses", humanize.Comma(stats.Misses)},
		{"Healed", humanize.Comma(stats.Healed)},
	}
	if tiered {
		rows = append(rows,
			[]string{"Memory hits", humanize.Comma(tier.FrontHits)},
			[]string{"Disk hits", humanize.Comma(tier.BackHits)},
			[]string{"Memory size", humanize.IBytes(uint64(max(tier.FrontSize, 0)))}, //nolint:gosec
		)
	}
	if backend == "disk" {
		rows = append(rows, []string{"Directory", dir})
	}
	return rows
}

func entryRows(entries []cache.Entry, now time.Time) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ScriptID,
			strconv.Itoa(e.LineIndex),
			e.Character,
			e.VoiceID,
			strconv.FormatFloat(e.Speed, 'f', -1, 64),
			humanize.IBytes(uint64(max(e.Size, 0))), //nolint:gosec
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
		})
	}
	return rows
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
