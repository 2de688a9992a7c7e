// Package cmd provides CLI commands for the ccbridge binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/cli/config"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode (stats only).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats only)",
	}
)

// ConfigFlag points at a ccbridge.yaml. Without it ./ccbridge.yaml is used
// when present.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to config file (default ./" + config.DefaultFile + " when present)",
	EnvVars: []string{"CCBRIDGE_CONFIG"},
}

// OutputFlags returns the shared flags for commands that render results.
// Includes --tui so that unsupported commands can provide explicit error
// messages instead of generic "flag not defined" errors.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// InterpreterFlags select and tune the connection to a remote interpreter.
func InterpreterFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "interpreter",
			Usage: "Interpreter command speaking frames on stdio; {client} expands to the client program path",
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "TCP address of a listening interpreter (overrides --interpreter)",
		},
		&cli.IntFlag{
			Name:  "max-in-flight",
			Usage: "Outstanding requests per session (default 1)",
		},
		&cli.DurationFlag{
			Name:  "call-timeout",
			Usage: "Timeout for each remote call (0 disables)",
		},
		&cli.DurationFlag{
			Name:  "hello-timeout",
			Usage: "Timeout waiting for the interpreter's hello",
		},
		&cli.DurationFlag{
			Name:  "script-timeout",
			Usage: "Timeout for each script run (0 disables)",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Log session events to stderr",
		},
	}
}

// loadConfig loads the config file and applies flag overrides.
// Flags that were not set leave config values alone.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOptional(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if c.IsSet("interpreter") {
		cfg.Interpreter.Command = c.String("interpreter")
		cfg.Interpreter.Args = nil
	}
	if c.IsSet("addr") {
		cfg.Interpreter.Addr = c.String("addr")
	}
	if c.IsSet("max-in-flight") {
		cfg.Session.MaxInFlight = c.Int("max-in-flight")
	}
	overrideDuration(c, "call-timeout", &cfg.Session.CallTimeout.Duration)
	overrideDuration(c, "hello-timeout", &cfg.Session.HelloTimeout.Duration)
	overrideDuration(c, "script-timeout", &cfg.Sandbox.ScriptTimeout.Duration)
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("program") {
		cfg.Program = c.String("program")
	}
	return cfg, cfg.Validate()
}

func overrideDuration(c *cli.Context, name string, dst *time.Duration) {
	if c.IsSet(name) {
		*dst = c.Duration(name)
	}
}
