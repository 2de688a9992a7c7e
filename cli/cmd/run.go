package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/adapter"
	"github.com/TheKidThatCodes/ccbridge/server"
)

// Exit codes for run.
const (
	exitSuccess      = 0
	exitScriptError  = 1
	exitDisconnected = 2
	exitCompileError = 3
	exitTimeout      = 4
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a host script against one interpreter",
		ArgsUsage: "<script>",
		Flags: append(InterpreterFlags(),
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Load the script from the interpreter's file system",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the result summary",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("run requires exactly one script argument", exitScriptError)
	}
	script := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitScriptError)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	r, err := connect(ctx, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitDisconnected)
	}
	defer func() { _ = r.Close() }()

	sb := r.newSandbox(cfg, c.App.Writer)
	if c.Bool("remote") {
		_, err = sb.ImportFile(ctx, script, "")
	} else {
		_, err = sb.RunFile(ctx, script)
	}
	if cerr := sb.Close(); cerr != nil && err == nil {
		err = cerr
	}

	outcome := server.Outcome(err)
	if !c.Bool("quiet") {
		printRunResult(c.App.ErrWriter, script, outcome, r.sess.Calls(), time.Since(start))
	}
	if err != nil {
		return cli.Exit(err.Error(), outcomeToExitCode(outcome))
	}
	return nil
}

func outcomeToExitCode(outcome string) int {
	switch outcome {
	case adapter.OutcomeSuccess:
		return exitSuccess
	case adapter.OutcomeDisconnected:
		return exitDisconnected
	case adapter.OutcomeCompileError:
		return exitCompileError
	case adapter.OutcomeTimeout:
		return exitTimeout
	default:
		return exitScriptError
	}
}

func printRunResult(w io.Writer, script, outcome string, calls int64, duration time.Duration) {
	fmt.Fprintf(w, "\nscript=%s, outcome=%s, calls=%d, duration=%s\n",
		script, outcome, calls, duration.Round(time.Millisecond))
}

// withTimeout bounds ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
