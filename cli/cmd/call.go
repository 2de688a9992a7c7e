package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/cli/render"
	"github.com/TheKidThatCodes/ccbridge/codec"
	"github.com/TheKidThatCodes/ccbridge/session"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// CallResponse is the result of one remote call.
type CallResponse struct {
	Function   string  `json:"function" yaml:"function"`
	ComputerID int64   `json:"computer_id" yaml:"computer_id"`
	Values     []any   `json:"values" yaml:"values"`
	Output     *string `json:"output,omitempty" yaml:"output,omitempty"`
	Status     *int64  `json:"status,omitempty" yaml:"status,omitempty"`
}

// CallCommand returns the call command.
func CallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Call one remote function and print what it returned",
		ArgsUsage: "<function> [args...]",
		Description: "Arguments are read as nil, true, false, numbers or strings.\n" +
			"Use --string to pass every argument verbatim as a string.",
		Flags: append(append(InterpreterFlags(), OutputFlags()...),
			&cli.BoolFlag{
				Name:  "string",
				Usage: "Pass every argument as a string",
			},
			&cli.BoolFlag{
				Name:  "command",
				Usage: "Treat the function as command-style, returning (ok, output, status)",
			},
		),
		Action: callAction,
	}
}

func callAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("call requires a function name", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for call command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	fn := c.Args().First()
	var args []any
	for _, a := range c.Args().Tail() {
		if c.Bool("string") {
			args = append(args, a)
		} else {
			args = append(args, parseArg(a))
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	ctx, cancel := withTimeout(ctx, cfg.Sandbox.ScriptTimeout.Duration)
	defer cancel()

	rem, err := connect(ctx, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitDisconnected)
	}
	defer func() { _ = rem.Close() }()

	resp := CallResponse{Function: fn, ComputerID: rem.hello.ComputerID, Values: []any{}}
	if c.Bool("command") {
		res, err := rem.sess.RunCommand(ctx, fn, args...)
		if err != nil {
			return cli.Exit(err.Error(), exitScriptError)
		}
		resp.Output, resp.Status = &res.Output, &res.Status
	} else {
		req := session.Request{Func: fn, Args: args, KeepNulls: true, Class: codec.ClassEval}
		vals, err := session.Call(ctx, rem.sess, req, codec.Values)
		if err != nil {
			return cli.Exit(err.Error(), exitScriptError)
		}
		for _, v := range vals {
			resp.Values = append(resp.Values, plain(v))
		}
	}
	return r.Render(resp)
}

// parseArg reads a command line argument as a remote value.
func parseArg(s string) any {
	switch s {
	case "nil":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// plain converts a remote value into something every renderer accepts.
// Table keys become strings.
func plain(v types.Value) any {
	switch t := v.(type) {
	case []types.Value:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case types.Table:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = plain(e)
		}
		return out
	default:
		return v
	}
}
