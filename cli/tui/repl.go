package tui

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/TheKidThatCodes/ccbridge/sandbox"
)

// maxScrollback bounds the lines kept by the shell view.
const maxScrollback = 1000

// Shell is the line-oriented interpreter the REPL drives.
type Shell interface {
	Feed(ctx context.Context, line string) sandbox.ShellOutput
	Prompt() string
}

// OutputMsg carries text printed by scripts.
type OutputMsg string

type fedMsg struct {
	out sandbox.ShellOutput
}

// ReplModel is a Bubble Tea model for the interactive shell.
type ReplModel struct {
	ctx    context.Context
	shell  Shell
	header string

	input     textinput.Model
	lines     []string
	partial   string
	history   []string
	histIdx   int
	busy      bool
	cancel    context.CancelFunc
	height    int
	quitting  bool
	lastError error
}

// NewReplModel creates a shell view over sh. Lines run with contexts
// derived from ctx.
func NewReplModel(ctx context.Context, sh Shell, header string) ReplModel {
	in := textinput.New()
	in.Prompt = PromptStyle.Render(sh.Prompt())
	in.Focus()
	return ReplModel{ctx: ctx, shell: sh, header: header, input: in, height: 24}
}

// Init implements tea.Model.
func (m ReplModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m ReplModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case OutputMsg:
		m.write(string(msg))
		return m, nil

	case fedMsg:
		m.busy = false
		m.cancel = nil
		m.lastError = msg.out.Err
		if msg.out.Err != nil {
			m.flush()
			for _, l := range strings.Split(msg.out.Err.Error(), "\n") {
				m.append(ErrorStyle.Render(l))
			}
		}
		m.input.Prompt = PromptStyle.Render(msg.out.Prompt)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Interrupt):
			if m.busy && m.cancel != nil {
				m.cancel()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Exit):
			if !m.busy {
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		case key.Matches(msg, keys.Submit):
			if m.busy {
				return m, nil
			}
			return m.submit()
		case key.Matches(msg, keys.Prev):
			m.recall(-1)
			return m, nil
		case key.Matches(msg, keys.Next):
			m.recall(1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ReplModel) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.flush()
	m.append(m.input.Prompt + line)
	m.input.Reset()
	if strings.TrimSpace(line) != "" {
		m.history = append(m.history, line)
	}
	m.histIdx = len(m.history)
	m.busy = true

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	sh := m.shell
	return m, func() tea.Msg {
		defer cancel()
		return fedMsg{out: sh.Feed(ctx, line)}
	}
}

func (m *ReplModel) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.histIdx = max(0, min(len(m.history), m.histIdx+delta))
	if m.histIdx == len(m.history) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.histIdx])
	m.input.CursorEnd()
}

// write appends printed text, holding an unterminated last line.
func (m *ReplModel) write(text string) {
	text = m.partial + text
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		m.append(p)
	}
}

func (m *ReplModel) flush() {
	if m.partial != "" {
		m.append(m.partial)
		m.partial = ""
	}
}

func (m *ReplModel) append(line string) {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - maxScrollback; over > 0 {
		m.lines = m.lines[over:]
	}
}

// Lines returns the scrollback, including an unterminated last line.
func (m ReplModel) Lines() []string {
	if m.partial == "" {
		return m.lines
	}
	return append(append([]string(nil), m.lines...), m.partial)
}

// LastError returns the error of the most recent line, if any.
func (m ReplModel) LastError() error {
	return m.lastError
}

// View implements tea.Model.
func (m ReplModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.header))
	b.WriteString("\n")

	lines := m.Lines()
	// Title, input and help take five rows.
	if room := m.height - 5; room > 0 && len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	if m.busy {
		b.WriteString(HelpStyle.Render("running… ctrl+c interrupts"))
	} else {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("enter run · ↑/↓ history · ctrl+d exit"))
	}
	return b.String()
}

// ProgramWriter forwards writes to a running program as OutputMsg.
// Writes before Attach are dropped.
type ProgramWriter struct {
	mu sync.Mutex
	p  *tea.Program
}

// Attach starts forwarding to p.
func (w *ProgramWriter) Attach(p *tea.Program) {
	w.mu.Lock()
	w.p = p
	w.mu.Unlock()
}

func (w *ProgramWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	p := w.p
	w.mu.Unlock()
	if p != nil {
		p.Send(OutputMsg(string(b)))
	}
	return len(b), nil
}

// RunRepl runs the shell TUI until the user exits.
func RunRepl(ctx context.Context, sh Shell, header string, out *ProgramWriter) error {
	p := tea.NewProgram(NewReplModel(ctx, sh, header), tea.WithContext(ctx))
	out.Attach(p)
	defer out.Attach(nil)
	_, err := p.Run()
	return err
}
