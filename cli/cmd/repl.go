package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/cli/tui"
	"github.com/TheKidThatCodes/ccbridge/sandbox"
)

// ReplCommand returns the repl command.
func ReplCommand() *cli.Command {
	return &cli.Command{
		Name:  "repl",
		Usage: "Interactive shell against one interpreter",
		Flags: append(InterpreterFlags(),
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Line mode without the TUI (for pipes and dumb terminals)",
			},
		),
		Action: replAction,
	}
}

func replAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	r, err := connect(ctx, c, cfg)
	stop()
	if err != nil {
		return cli.Exit(err.Error(), exitDisconnected)
	}
	defer func() { _ = r.Close() }()

	header := fmt.Sprintf("computer %d", r.hello.ComputerID)
	if r.hello.Label != "" {
		header += " (" + r.hello.Label + ")"
	}

	if c.Bool("plain") {
		sb := r.newSandbox(cfg, c.App.Writer)
		defer func() { _ = sb.Close() }()
		sh := sb.NewShell()
		defer func() { _ = sh.Close(context.Background()) }()
		fmt.Fprintln(c.App.ErrWriter, header)
		return plainRepl(c.Context, sh, c.App.Reader, c.App.ErrWriter)
	}

	out := &tui.ProgramWriter{}
	sb := r.newSandbox(cfg, out)
	defer func() { _ = sb.Close() }()
	sh := sb.NewShell()
	defer func() { _ = sh.Close(context.Background()) }()
	return tui.RunRepl(c.Context, sh, header, out)
}

// plainRepl reads lines from in until EOF. Prompts go to errOut so that
// stdout carries only script output.
func plainRepl(ctx context.Context, sh *sandbox.Shell, in io.Reader, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(errOut, sh.Prompt())
	for scanner.Scan() {
		res := feedInterruptible(ctx, sh, scanner.Text())
		if res.Err != nil {
			fmt.Fprintln(errOut, res.Err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(errOut, res.Prompt)
	}
	fmt.Fprintln(errOut)
	if sh.Pending() != "" {
		fmt.Fprintln(errOut, "incomplete input discarded")
	}
	return scanner.Err()
}

// feedInterruptible runs one line; Ctrl+C cancels the line, not the shell.
func feedInterruptible(ctx context.Context, sh *sandbox.Shell, line string) sandbox.ShellOutput {
	lineCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return sh.Feed(lineCtx, line)
}
