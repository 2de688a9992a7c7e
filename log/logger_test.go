package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return entry
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	id := int64(7)
	l := NewLoggerWithWriter(Context{SessionID: "sess-1", Remote: "10.0.0.2:5000", ComputerID: &id}, &buf)

	l.Info("request sent", map[string]any{"id": 3})

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["message"] != "request sent" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["remote"] != "10.0.0.2:5000" {
		t.Errorf("remote = %v", entry["remote"])
	}
	if entry["computer_id"] != float64(7) {
		t.Errorf("computer_id = %v", entry["computer_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["id"] != float64(3) {
		t.Errorf("fields = %v", entry["fields"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestLogger_OmitsEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(Context{}, &buf).Warn("bare", nil)

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if _, ok := entry["session_id"]; ok {
		t.Error("session_id should be omitted when empty")
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLogger_WithAndWithOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLoggerWithWriter(Context{SessionID: "s"}, &first).With(map[string]any{"module": "boot.lua"})
	l.WithOutput(&second).Error("failed", nil)

	if first.Len() != 0 {
		t.Errorf("original writer received output: %s", first.String())
	}
	entry := decodeLine(t, strings.TrimSpace(second.String()))
	if entry["module"] != "boot.lua" {
		t.Errorf("module = %v", entry["module"])
	}
	if entry["session_id"] != "s" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
}

func TestSugaredLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(Context{}, &buf).Sugar().With("k", "v").Infof("loaded %d modules", 2)

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["message"] != "loaded 2 modules" || entry["k"] != "v" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Debug("ignored", map[string]any{"a": 1})
	l.Sugar().Errorf("ignored %d", 1)
}
