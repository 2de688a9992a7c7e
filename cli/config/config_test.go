package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `listen: 0.0.0.0:8080
program: ./programs/farm.lua

interpreter:
  command: craftos
  args: ["--headless", "--script", "ccbridge.lua"]
  dir: /srv/craftos
  addr: 127.0.0.1:7000

session:
  max_in_flight: 4
  call_timeout: 5s
  hello_timeout: 30s

sandbox:
  script_timeout: 2m
  max_import_depth: 8

adapter:
  type: webhook
  url: https://hooks.example.com/ccbridge
  secret: s3cret
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "listen", cfg.Listen, "0.0.0.0:8080")
	assertEqual(t, "program", cfg.Program, "./programs/farm.lua")

	assertEqual(t, "interpreter.command", cfg.Interpreter.Command, "craftos")
	assertEqual(t, "interpreter.dir", cfg.Interpreter.Dir, "/srv/craftos")
	assertEqual(t, "interpreter.addr", cfg.Interpreter.Addr, "127.0.0.1:7000")
	if got := strings.Join(cfg.Interpreter.Args, " "); got != "--headless --script ccbridge.lua" {
		t.Errorf("interpreter.args = %q", got)
	}

	if cfg.Session.MaxInFlight != 4 {
		t.Errorf("session.max_in_flight = %d", cfg.Session.MaxInFlight)
	}
	if cfg.Session.CallTimeout.Duration != 5*time.Second {
		t.Errorf("session.call_timeout = %v", cfg.Session.CallTimeout)
	}
	if cfg.Session.HelloTimeout.Duration != 30*time.Second {
		t.Errorf("session.hello_timeout = %v", cfg.Session.HelloTimeout)
	}
	if cfg.Sandbox.ScriptTimeout.Duration != 2*time.Minute {
		t.Errorf("sandbox.script_timeout = %v", cfg.Sandbox.ScriptTimeout)
	}
	if cfg.Sandbox.MaxImportDepth != 8 {
		t.Errorf("sandbox.max_import_depth = %d", cfg.Sandbox.MaxImportDepth)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, AdapterWebhook)
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/ccbridge")
	assertEqual(t, "adapter.secret", cfg.Adapter.Secret, "s3cret")
	assertEqual(t, "adapter.headers.Authorization", cfg.Adapter.Headers["Authorization"], "Bearer token123")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v", cfg.Adapter.Timeout)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	for _, content := range []string{"", "   \n\t\n", "# only a comment\n# another\n"} {
		cfg, err := Load(writeTemp(t, content))
		if err != nil {
			t.Fatalf("Load(%q): %v", content, err)
		}
		if cfg.Program != "" || cfg.Adapter.Type != "" {
			t.Errorf("Load(%q) = %+v", content, cfg)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "listen: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	if _, err := Load(writeTemp(t, "listen: :8080\nlisten_addr: :9090\n")); err == nil {
		t.Error("expected error for unknown top-level key")
	}
	if _, err := Load(writeTemp(t, "session:\n  max_inflight: 2\n")); err == nil {
		t.Error("expected error for unknown nested key")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CCB_TEST_REDIS", "redis://cache:6379/2")
	yaml := `adapter:
  type: redis
  url: ${CCB_TEST_REDIS}
  channel: ${CCB_TEST_CHANNEL_UNSET:-farm:events}
  per_computer: true
  status_prefix: "-"
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "redis://cache:6379/2")
	assertEqual(t, "adapter.channel", cfg.Adapter.Channel, "farm:events")
	assertEqual(t, "adapter.status_prefix", cfg.Adapter.StatusPrefix, "-")
	if !cfg.Adapter.PerComputer {
		t.Error("expected adapter.per_computer=true")
	}
}

func TestLoad_RequiredEnvMissing(t *testing.T) {
	_, err := Load(writeTemp(t, "adapter:\n  type: webhook\n  url: ${CCB_TEST_UNSET_HOOK:?webhook url}\n"))
	if err == nil || !strings.Contains(err.Error(), "webhook url") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: webhook\n  url: http://x\n  retries: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 0 {
		t.Errorf("retries = %v, want explicit 0", cfg.Adapter.Retries)
	}

	cfg, err = Load(writeTemp(t, "adapter:\n  type: webhook\n  url: http://x\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter.Retries != nil {
		t.Errorf("retries = %v, want nil", *cfg.Adapter.Retries)
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero value", Config{}, ""},
		{"redis", Config{Adapter: AdapterConfig{Type: AdapterRedis, URL: "redis://x"}}, ""},
		{"unknown adapter", Config{Adapter: AdapterConfig{Type: "kafka"}}, "unknown adapter.type"},
		{"adapter without url", Config{Adapter: AdapterConfig{Type: AdapterWebhook}}, "adapter.url is required"},
		{"negative retries", Config{Adapter: AdapterConfig{Type: AdapterWebhook, URL: "http://x", Retries: &neg}}, "adapter.retries"},
		{"negative in flight", Config{Session: SessionConfig{MaxInFlight: -2}}, "max_in_flight"},
		{"negative depth", Config{Sandbox: SandboxConfig{MaxImportDepth: -1}}, "max_import_depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "session:\n  call_timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("err = %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	cfg, err := Load(writeTemp(t, "session:\n  call_timeout: \"\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.CallTimeout.Duration != 0 {
		t.Errorf("call_timeout = %v", cfg.Session.CallTimeout)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadOptional("")
	if err != nil || cfg.Listen != "" {
		t.Fatalf("no file: %+v, %v", cfg, err)
	}

	if err := os.WriteFile(filepath.Join(dir, DefaultFile), []byte("listen: :9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional("")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "listen", cfg.Listen, ":9000")
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
