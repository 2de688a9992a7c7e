package types //nolint:revive // types is a valid package name

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIsRemoteRuntime_IncludesCommandFailure(t *testing.T) {
	err := NewCommandFailure("no such block", 1)
	if !IsRemoteRuntime(err) {
		t.Error("command failure should be a remote runtime error")
	}
	if !IsCommandFailure(err) {
		t.Error("IsCommandFailure = false, want true")
	}

	plain := NewRemoteRuntimeError("attempt to index nil")
	if IsCommandFailure(plain) {
		t.Error("plain runtime error must not be a command failure")
	}
}

func TestIsHelpers_Wrapped(t *testing.T) {
	err := fmt.Errorf("call turtle.dig: %w", NewTypeMismatch("want bool, got %s", KindString))
	if !IsTypeMismatch(err) {
		t.Error("IsTypeMismatch should see through wrapping")
	}
	if IsRemoteRuntime(err) {
		t.Error("type mismatch must not be a remote runtime error")
	}
}

func TestIsHelpers_ForeignError(t *testing.T) {
	err := errors.New("boom")
	if IsTransportDisconnected(err) || IsRemoteRuntime(err) || IsTypeMismatch(err) || IsFileNotFound(err) {
		t.Error("foreign errors must not match any kind")
	}
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{NewRemoteRuntimeError("bios:12: bad argument"), "bios:12: bad argument"},
		{NewCommandFailure("Unknown command", 0), "command failed with status 0: Unknown command"},
		{NewFileNotFound("lib/util.lua"), "file not found: lib/util.lua"},
		{NewTransportDisconnected(nil), "transport disconnected"},
		{NewTransportDisconnected(io.EOF), "transport disconnected: EOF"},
		{NewTypeMismatch("want %s", KindInt), "type mismatch: want int"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestTransportDisconnected_UnwrapsCause(t *testing.T) {
	err := NewTransportDisconnected(io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		v    Value
		want Kind
	}{
		{nil, KindNil},
		{true, KindBool},
		{int64(3), KindInt},
		{1.5, KindNumber},
		{"", KindString},
		{[]Value{}, KindSeq},
		{Table{}, KindTable},
		{struct{}{}, KindAny},
	}
	for _, tt := range tests {
		if got := KindOf(tt.v); got != tt.want {
			t.Errorf("KindOf(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestEnvelope_First(t *testing.T) {
	if Ok().First() != nil {
		t.Error("First of empty OK envelope should be nil")
	}
	if got := Ok("a", "b").First(); got != "a" {
		t.Errorf("First() = %v, want a", got)
	}
	env := ErrStatus("out", 2)
	if env.OK || env.Status == nil || *env.Status != 2 {
		t.Errorf("ErrStatus envelope = %+v", env)
	}
}
