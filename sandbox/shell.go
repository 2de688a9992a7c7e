package sandbox

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/TheKidThatCodes/ccbridge/compiler"
)

// Shell prompts.
const (
	PromptPrimary      = "> "
	PromptContinuation = ">> "
)

// ShellName is the unit name shell input is compiled under.
const ShellName = "<stdin>"

// ShellOutput is the outcome of feeding one line to a Shell.
type ShellOutput struct {
	Status compiler.Status
	// Prompt is the prompt to show for the next line.
	Prompt string
	// Echo holds the printed form of an echoed expression's values.
	Echo []string
	// Err is set when the input was invalid or failed at run time.
	Err error
}

// Shell is an interactive read-eval-print state. It owns one compiler, so
// feature directives stay in force for the rest of the session, and one
// environment shared by every statement.
type Shell struct {
	sb   *Sandbox
	comp *compiler.Compiler
	env  *lua.LTable
	buf  []string
}

// NewShell returns a shell running in s.
func (s *Sandbox) NewShell() *Shell {
	comp := compiler.New()
	comp.Metrics = s.opts.Metrics
	env := s.NewEnv()
	env.RawSetString(FileGlobal, lua.LString(ShellName))
	return &Shell{sb: s, comp: comp, env: env}
}

// Prompt returns the prompt for the next line.
func (sh *Shell) Prompt() string {
	if len(sh.buf) > 0 {
		return PromptContinuation
	}
	return PromptPrimary
}

// Pending returns the buffered source of an unfinished statement.
func (sh *Shell) Pending() string {
	return strings.Join(sh.buf, "\n")
}

// Reset discards an unfinished statement.
func (sh *Shell) Reset() {
	sh.buf = nil
}

// Feed adds one line of input. A complete statement runs immediately and
// the values of an echoed expression are printed to the sandbox output.
func (sh *Shell) Feed(ctx context.Context, line string) ShellOutput {
	sh.buf = append(sh.buf, line)
	source := sh.Pending()

	s := sh.sb
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := sh.comp.Compile(source, ShellName, compiler.ModeSingle)
	if err != nil {
		sh.buf = nil
		return ShellOutput{Status: compiler.Invalid, Prompt: sh.Prompt(), Err: err}
	}
	if res.Status == compiler.AwaitingMore {
		return ShellOutput{Status: res.Status, Prompt: sh.Prompt()}
	}
	sh.buf = nil
	if res.Status == compiler.Invalid {
		return ShellOutput{Status: res.Status, Prompt: sh.Prompt(), Err: res.Err}
	}

	out := ShellOutput{Status: compiler.Complete, Prompt: sh.Prompt()}
	vals, err := s.run(ctx, res.Unit, sh.env)
	if err != nil {
		out.Err = err
		return out
	}
	if res.Unit.Echo && len(vals) > 0 {
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = s.L.ToStringMeta(v).String()
		}
		_, _ = s.opts.Stdout.Write([]byte(strings.Join(parts, "\t") + "\n"))
		out.Echo = parts
	}
	return out
}

// Close releases remote handles opened from the shell.
func (sh *Shell) Close(ctx context.Context) error {
	sh.sb.mu.Lock()
	defer sh.sb.mu.Unlock()
	return sh.sb.releaseHandles(ctx)
}
