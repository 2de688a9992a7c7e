package config

import (
	"errors"
	"fmt"
	"time"
)

// Default file name looked up by the CLI when --config is not given.
const DefaultFile = "ccbridge.yaml"

// Config represents a ccbridge.yaml configuration file.
// All values are optional and act as defaults for CLI flags.
// CLI flags always override config values.
type Config struct {
	// Listen is the websocket server address for `ccbridge serve`.
	Listen string `yaml:"listen"`
	// Program is the host script run against each connected computer.
	Program     string            `yaml:"program"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Session     SessionConfig     `yaml:"session"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Adapter     AdapterConfig     `yaml:"adapter"`
}

// InterpreterConfig selects the remote interpreter for run, repl and call.
// Exactly one of Command and Addr is used; Addr wins when both are set.
type InterpreterConfig struct {
	// Command starts an interpreter process speaking frames on stdio.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	// Addr dials an interpreter listening on TCP.
	Addr string `yaml:"addr"`
}

// SessionConfig holds remote call channel defaults.
type SessionConfig struct {
	MaxInFlight  int      `yaml:"max_in_flight"`
	CallTimeout  Duration `yaml:"call_timeout"`
	HelloTimeout Duration `yaml:"hello_timeout"`
}

// SandboxConfig holds script execution defaults.
type SandboxConfig struct {
	ScriptTimeout  Duration `yaml:"script_timeout"`
	MaxImportDepth int      `yaml:"max_import_depth"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	// Redis only.
	Channel      string `yaml:"channel,omitempty"`
	PerComputer  bool   `yaml:"per_computer,omitempty"`
	StatusPrefix string `yaml:"status_prefix,omitempty"`
}

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Validate checks values that YAML decoding cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("session.max_in_flight must not be negative, got %d", c.Session.MaxInFlight))
	}
	if c.Sandbox.MaxImportDepth < 0 {
		errs = append(errs, fmt.Errorf("sandbox.max_import_depth must not be negative, got %d", c.Sandbox.MaxImportDepth))
	}
	switch c.Adapter.Type {
	case "":
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.type %q (must be webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must not be negative, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
