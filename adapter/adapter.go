// Package adapter defines the notification boundary for finished scripts.
//
// Adapters publish a ScriptCompletedEvent to a downstream system each time
// a host program finishes running against a connected computer. The
// server owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// EventType is the event_type of every published event.
const EventType = "script_completed"

// Script outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeCompileError = "compile_error"
	OutcomeScriptError  = "script_error"
	OutcomeRemoteError  = "remote_error"
	OutcomeDisconnected = "disconnected"
	OutcomeTimeout      = "timeout"
)

// ScriptCompletedEvent is the payload published when a script finishes.
type ScriptCompletedEvent struct {
	ProtocolVersion string `json:"protocol_version"`
	EventType       string `json:"event_type"` // always "script_completed"
	SessionID       string `json:"session_id"`
	ComputerID      int64  `json:"computer_id"`
	Label           string `json:"label,omitempty"`
	Script          string `json:"script"`
	Outcome         string `json:"outcome"` // success, script_error, etc.
	Error           string `json:"error,omitempty"`
	Timestamp       string `json:"timestamp"` // ISO 8601
	Calls           int64  `json:"calls"`
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes script completion events to a downstream system.
type Adapter interface {
	// Publish sends a script completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ScriptCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
