package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/TheKidThatCodes/ccbridge/compiler"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/sandbox"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{ViewStats, true},
		{"repl", false},
		{"call", false},
		{"version", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTUISupported(tt.viewType); got != tt.want {
			t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
		}
	}
}

func TestRun_Unsupported(t *testing.T) {
	if err := Run("call", nil); err == nil {
		t.Error("expected error")
	}
	if err := Run(ViewStats, "not a snapshot"); err == nil {
		t.Error("expected error for bad data")
	}
}

func TestRenderStatsStatic(t *testing.T) {
	snap := metrics.Snapshot{
		SessionsOpened: 3,
		ScriptsFailed:  2,
		Compiles:       map[string]int64{"complete": 5, "invalid": 1},
		Listen:         "0.0.0.0:8080",
	}
	out := RenderStatsStatic(snap)
	for _, want := range []string{"Sessions", "Opened", "Scripts", "Failed", "complete", "invalid", "0.0.0.0:8080"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestStatsModel_Refresh(t *testing.T) {
	calls := 0
	fetch := func() (metrics.Snapshot, error) {
		calls++
		if calls == 2 {
			return metrics.Snapshot{}, errors.New("connection refused")
		}
		return metrics.Snapshot{SessionsOpened: int64(calls * 10)}, nil
	}
	m := NewStatsModel(metrics.Snapshot{}, fetch, time.Millisecond)
	if m.Init() == nil {
		t.Fatal("live model should schedule a refresh")
	}

	next, cmd := m.Update(tickMsg{})
	next, _ = next.Update(cmd())
	sm := next.(StatsModel)
	if sm.snap.SessionsOpened != 10 || sm.err != nil {
		t.Errorf("after refresh: %+v, %v", sm.snap, sm.err)
	}

	next, cmd = sm.Update(tickMsg{})
	next, _ = next.Update(cmd())
	sm = next.(StatsModel)
	if sm.err == nil || sm.snap.SessionsOpened != 10 {
		t.Errorf("failed refresh should keep last snapshot: %+v, %v", sm.snap, sm.err)
	}
	if !strings.Contains(sm.View(), "connection refused") {
		t.Error("view does not show refresh error")
	}
}

func TestStatsModel_Quit(t *testing.T) {
	m := NewStatsModel(metrics.Snapshot{}, nil, 0)
	if m.Init() != nil {
		t.Error("static model should not schedule work")
	}
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || next.View() != "" {
		t.Error("q should quit")
	}
}

// fakeShell records fed lines and answers from a script.
type fakeShell struct {
	fed    []string
	prompt string
	reply  func(line string) sandbox.ShellOutput
}

func (f *fakeShell) Feed(_ context.Context, line string) sandbox.ShellOutput {
	f.fed = append(f.fed, line)
	out := f.reply(line)
	f.prompt = out.Prompt
	return out
}

func (f *fakeShell) Prompt() string {
	if f.prompt == "" {
		return sandbox.PromptPrimary
	}
	return f.prompt
}

func typeLine(t *testing.T, m tea.Model, line string) tea.Model {
	t.Helper()
	next := m
	// One rune per message, as a terminal delivers them. A multi-rune
	// message such as "end" would match a key binding.
	for _, r := range line {
		next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter on %q produced no command", line)
	}
	next, _ = next.Update(cmd())
	return next
}

func TestReplModel_FeedsLines(t *testing.T) {
	sh := &fakeShell{reply: func(line string) sandbox.ShellOutput {
		if line == "if x then" {
			return sandbox.ShellOutput{Status: compiler.AwaitingMore, Prompt: sandbox.PromptContinuation}
		}
		return sandbox.ShellOutput{Status: compiler.Complete, Prompt: sandbox.PromptPrimary}
	}}
	var m tea.Model = NewReplModel(context.Background(), sh, "test")

	m = typeLine(t, m, "if x then")
	if !strings.Contains(m.(ReplModel).input.Prompt, sandbox.PromptContinuation) {
		t.Errorf("prompt = %q", m.(ReplModel).input.Prompt)
	}
	m = typeLine(t, m, "end")

	if strings.Join(sh.fed, "|") != "if x then|end" {
		t.Errorf("fed = %q", sh.fed)
	}
	lines := m.(ReplModel).Lines()
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "if x then") || !strings.HasSuffix(lines[1], "end") {
		t.Errorf("scrollback = %q", lines)
	}
}

func TestReplModel_OutputAndErrors(t *testing.T) {
	sh := &fakeShell{reply: func(string) sandbox.ShellOutput {
		return sandbox.ShellOutput{Status: compiler.Complete, Prompt: sandbox.PromptPrimary, Err: errors.New("boom")}
	}}
	var m tea.Model = NewReplModel(context.Background(), sh, "test")

	m, _ = m.Update(OutputMsg("hello\nwor"))
	m, _ = m.Update(OutputMsg("ld\n"))
	lines := m.(ReplModel).Lines()
	if strings.Join(lines, "|") != "hello|world" {
		t.Errorf("lines = %q", lines)
	}

	m = typeLine(t, m, "error('boom')")
	rm := m.(ReplModel)
	if rm.LastError() == nil {
		t.Error("error not recorded")
	}
	last := rm.Lines()[len(rm.Lines())-1]
	if !strings.Contains(last, "boom") {
		t.Errorf("last line = %q", last)
	}
}

func TestReplModel_History(t *testing.T) {
	sh := &fakeShell{reply: func(string) sandbox.ShellOutput {
		return sandbox.ShellOutput{Status: compiler.Complete, Prompt: sandbox.PromptPrimary}
	}}
	var m tea.Model = NewReplModel(context.Background(), sh, "test")
	m = typeLine(t, m, "a = 1")
	m = typeLine(t, m, "b = 2")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := m.(ReplModel).input.Value(); got != "b = 2" {
		t.Errorf("up = %q", got)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := m.(ReplModel).input.Value(); got != "a = 1" {
		t.Errorf("up x3 = %q", got)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := m.(ReplModel).input.Value(); got != "" {
		t.Errorf("down past end = %q", got)
	}
}

func TestReplModel_Exit(t *testing.T) {
	sh := &fakeShell{}
	m := NewReplModel(context.Background(), sh, "test")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	if cmd == nil {
		t.Error("ctrl+d should quit")
	}
}
