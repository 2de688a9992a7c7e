package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/TheKidThatCodes/ccbridge/metrics"
)

// DefaultRefresh is how often a live stats view polls its source.
const DefaultRefresh = 2 * time.Second

// FetchFunc returns a fresh snapshot.
type FetchFunc func() (metrics.Snapshot, error)

type snapshotMsg struct {
	snap metrics.Snapshot
	err  error
	at   time.Time
}

type tickMsg struct{}

// StatsModel is a Bubble Tea model for a metrics snapshot.
// With a fetch function it refreshes itself periodically.
type StatsModel struct {
	snap     metrics.Snapshot
	fetch    FetchFunc
	refresh  time.Duration
	err      error
	updated  time.Time
	width    int
	quitting bool
}

// NewStatsModel creates a stats model showing snap. fetch may be nil for
// a static view.
func NewStatsModel(snap metrics.Snapshot, fetch FetchFunc, refresh time.Duration) StatsModel {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return StatsModel{snap: snap, fetch: fetch, refresh: refresh, updated: time.Now()}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	if m.fetch == nil {
		return nil
	}
	return m.tick()
}

func (m StatsModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m StatsModel) load() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		snap, err := fetch()
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		return m, m.load()

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.updated = msg.at
		}
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh) && m.fetch != nil:
			return m, m.load()
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	title := "ccbridge stats"
	if s.Listen != "" {
		title += " · " + s.Listen
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")

	m.section(&b, "Sessions",
		statBox("Opened", s.SessionsOpened, highlightColor),
		statBox("Closed", s.SessionsClosed, successColor),
		statBox("Disconnects", s.Disconnects, errorColor),
	)
	m.section(&b, "Calls",
		statBox("Started", s.CallsStarted, highlightColor),
		statBox("Completed", s.CallsCompleted, successColor),
		statBox("Canceled", s.CallsCanceled, warningColor),
		statBox("Remote errors", s.RemoteErrors+s.CommandFailures, errorColor),
	)
	m.section(&b, "Scripts",
		statBox("Started", s.ScriptsStarted, highlightColor),
		statBox("Completed", s.ScriptsCompleted, successColor),
		statBox("Failed", s.ScriptsFailed, errorColor),
		statBox("Open handles", s.HandlesAcquired-s.HandlesReleased, warningColor),
	)

	if len(s.Compiles) > 0 {
		b.WriteString(SectionStyle.Render("Compiles"))
		b.WriteString("\n")
		names := make([]string, 0, len(s.Compiles))
		for name := range s.Compiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s %d\n", OutcomeStyle(name).Render(fmt.Sprintf("%-14s", name)), s.Compiles[name])
		}
	}

	help := "q quit"
	if m.fetch != nil {
		help = fmt.Sprintf("r refresh · q quit · updated %s", m.updated.Format("15:04:05"))
	}
	if m.err != nil {
		b.WriteString("\n" + ErrorStyle.Render("refresh failed: "+m.err.Error()))
	}
	return b.String() + "\n" + HelpStyle.Render(help)
}

func (m StatsModel) section(b *strings.Builder, name string, boxes ...string) {
	b.WriteString(SectionStyle.Render(name))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")
}

func statBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return StatBoxStyle.BorderForeground(color).Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(snap metrics.Snapshot, fetch FetchFunc, refresh time.Duration) error {
	p := tea.NewProgram(NewStatsModel(snap, fetch, refresh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders a snapshot without running a program.
func RenderStatsStatic(snap metrics.Snapshot) string {
	model := NewStatsModel(snap, nil, 0)
	model.width = 80
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
