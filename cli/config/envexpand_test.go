package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("CCB_TEST_SET", "hello")
	t.Setenv("CCB_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "url: ${CCB_TEST_SET}", "url: hello"},
		{"unset", "url: ${CCB_TEST_UNSET_12345}", "url: "},
		{"default when unset", "url: ${CCB_TEST_UNSET_12345:-fallback}", "url: fallback"},
		{"default when empty", "url: ${CCB_TEST_EMPTY:-fallback}", "url: fallback"},
		{"default ignored when set", "url: ${CCB_TEST_SET:-fallback}", "url: hello"},
		{"default with colon", "url: ${CCB_TEST_UNSET_12345:-redis://localhost:6379}", "url: redis://localhost:6379"},
		{"several", "${CCB_TEST_SET}-${CCB_TEST_SET}", "hello-hello"},
		{"escape", "literal: $${CCB_TEST_SET}", "literal: ${CCB_TEST_SET}"},
		{"bare dollar untouched", "price: $5 and $CCB_TEST_SET", "price: $5 and $CCB_TEST_SET"},
		{"required set", "${CCB_TEST_SET:?needed}", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("CCB_TEST_EMPTY", "")

	_, err := ExpandEnv("a: ${CCB_TEST_UNSET_12345:?set the webhook url}\nb: ${CCB_TEST_EMPTY:?}")
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "${CCB_TEST_UNSET_12345}: set the webhook url") {
		t.Errorf("missing first variable in %q", msg)
	}
	if !strings.Contains(msg, "${CCB_TEST_EMPTY}: required") {
		t.Errorf("missing second variable in %q", msg)
	}
}
