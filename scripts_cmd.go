package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/gitcha"
	"github.com/spf13/cobra"

	"github.com/linecue/linecue/internal/script"
)

var (
	scriptExtensions = []string{
		"*.md", "*.mdown", "*.mkdn", "*.mkd", "*.markdown", "*.txt",
	}

	showAllFiles bool

	scriptsCmd = &cobra.Command{
		Use:   "scripts [DIR]",
		Short: "Find rehearsal scripts in a directory",
		Long: paragraph(fmt.Sprintf("\n%s markdown and text files that contain dialogue. Files ignored by git are skipped unless --all is set.",
			keyword("Find"))),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			dir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("unable to resolve directory: %w", err)
			}

			var ch chan gitcha.SearchResult
			if showAllFiles {
				ch, err = gitcha.FindAllFilesExcept(dir, scriptExtensions, nil)
			} else {
				ch, err = gitcha.FindFilesExcept(dir, scriptExtensions, ignorePatterns())
			}
			if err != nil {
				return fmt.Errorf("unable to search for scripts: %w", err)
			}

			var found []scriptInfo
			for res := range ch {
				info, ok := inspectScript(dir, res.Path, res.Info.ModTime())
				if ok {
					found = append(found, info)
				}
			}
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), paragraph(faint("No scripts with dialogue found.")))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Script", "Lines", "Characters", "Modified"},
				scriptRows(found, time.Now()),
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
)

func init() {
	scriptsCmd.Flags().BoolVarP(&showAllFiles, "all", "a", false, "include files ignored by git")
}

func ignorePatterns() []string {
	return []string{"node_modules", ".git"}
}

type scriptInfo struct {
	path       string
	lines      int
	characters []string
	modified   time.Time
}

// inspectScript parses path and reports false when it holds no dialogue.
func inspectScript(root, path string, modified time.Time) (scriptInfo, bool) {
	lines, err := script.ParseFile(path)
	if err != nil {
		log.Debug("Skipping file", "path", path, "err", err)
		return scriptInfo{}, false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return scriptInfo{
		path:       rel,
		lines:      len(lines),
		characters: script.Characters(lines),
		modified:   modified,
	}, true
}

func scriptRows(found []scriptInfo, now time.Time) [][]string {
	rows := make([][]string, 0, len(found))
	for _, s := range found {
		chars := s.characters
		more := ""
		if len(chars) > 4 {
			more = fmt.Sprintf(" +%d", len(chars)-4)
			chars = chars[:4]
		}
		rows = append(rows, []string{
			filepath.ToSlash(s.path),
			strconv.Itoa(s.lines),
			strings.Join(chars, ", ") + more,
			humanize.RelTime(s.modified, now, "ago", "from now"),
		})
	}
	return rows
}

