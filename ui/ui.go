// Package ui provides the terminal progress view for pre-render runs.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"

	"github.com/linecue/linecue/internal/prerender"
)

const (
	defaultWidth = 60
	maxBarWidth  = 80

	// quitDelay keeps the final frame on screen briefly.
	quitDelay = 300 * time.Millisecond
)

// Source is the run being watched.
type Source interface {
	Subscribe() (<-chan prerender.Snapshot, func())
	Items() []prerender.QueueItem
	Cancel()
}

// NewProgram returns a Tea program that follows src until its run ends.
func NewProgram(cfg Config, src Source) *tea.Program {
	log.Debug("Starting progress view", "title", cfg.Title)

	var opts []tea.ProgramOption
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, src), opts...)
}

type (
	snapshotMsg prerender.Snapshot
	closedMsg   struct{}
	quitMsg     struct{}
)

type model struct {
	cfg Config
	src Source

	updates     <-chan prerender.Snapshot
	unsubscribe func()

	status     *StatusDisplay
	items      []prerender.QueueItem
	progress   progress.Model
	spinner    spinner.Model
	width      int
	cancelling bool
	done       bool
}

func newModel(cfg Config, src Source) model {
	updates, unsubscribe := src.Subscribe()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		cfg:         cfg,
		src:         src,
		updates:     updates,
		unsubscribe: unsubscribe,
		status:      NewStatusDisplay(),
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(defaultWidth)),
		spinner:     sp,
		width:       defaultWidth,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.done {
				return m, m.quit()
			}
			if !m.cancelling {
				log.Debug("Cancelling run from progress view")
				m.cancelling = true
				m.src.Cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-4, 10), maxBarWidth)
		return m, nil

	case snapshotMsg:
		snap := prerender.Snapshot(msg)
		m.status.Update(snap)
		m.items = m.src.Items()
		if snap.Status.Terminal() {
			m.done = true
			return m, tea.Tick(quitDelay, func(time.Time) tea.Msg { return quitMsg{} })
		}
		return m, waitForSnapshot(m.updates)

	case closedMsg:
		return m, m.quit()

	case quitMsg:
		return m, m.quit()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) quit() tea.Cmd {
	m.unsubscribe()
	return tea.Quit
}

func (m model) View() string {
	var b strings.Builder
	snap := m.status.Snapshot()

	title := m.cfg.Title
	if title == "" {
		title = "Pre-rendering"
	}
	fmt.Fprintf(&b, "\n  %s\n\n", titleStyle.Render(title))

	fmt.Fprintf(&b, "  %s\n", m.progress.ViewAs(snap.Fraction()))

	status := m.status.CompactStatus()
	if m.status.IsActive() {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "  %s\n", status)

	if lines := m.recentLines(); lines != "" {
		b.WriteString("\n" + lines)
	}

	if m.done {
		b.WriteString("\n" + indent(m.status.DetailedStatus(m.width-2), 2) + "\n")
	} else {
		help := "q: cancel"
		if m.cancelling {
			help = "cancelling, waiting for lines in flight…"
		}
		b.WriteString(helpStyle.Render("  "+help) + "\n")
	}

	return b.String()
}

// recentLines lists the most recently touched lines.
func (m model) recentLines() string {
	if m.cfg.MaxLines <= 0 || len(m.items) == 0 {
		return ""
	}

	var active []prerender.QueueItem
	for _, item := range m.items {
		if item.Status != prerender.ItemPending {
			active = append(active, item)
		}
	}
	if len(active) > m.cfg.MaxLines {
		active = active[len(active)-m.cfg.MaxLines:]
	}

	textWidth := max(m.width-24, 10)
	var b strings.Builder
	for _, item := range active {
		text := truncate.StringWithTail(item.Line.Text, uint(textWidth), ellipsis)
		source := ""
		if item.FromCache {
			source = subtleStyle.Render(" (cached)")
		}
		fmt.Fprintf(&b, "  %s %4d %s %s%s\n",
			itemIcon(item.Status),
			item.Line.LineIndex,
			characterStyle.Render(truncate.StringWithTail(item.Line.Character, 12, ellipsis)),
			text,
			source,
		)
	}
	return b.String()
}

// COMMANDS

func waitForSnapshot(updates <-chan prerender.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}
