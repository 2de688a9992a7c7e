// Package metrics provides process-wide bridge counters.
//
// The Collector accumulates counters across sessions. It is a leaf package
// with no internal dependencies; callers pass outcome labels as strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sessions
	SessionsOpened int64 `json:"sessions_opened" yaml:"sessions_opened"`
	SessionsClosed int64 `json:"sessions_closed" yaml:"sessions_closed"`
	Disconnects    int64 `json:"disconnects" yaml:"disconnects"`

	// Remote calls
	CallsStarted    int64 `json:"calls_started" yaml:"calls_started"`
	CallsCompleted  int64 `json:"calls_completed" yaml:"calls_completed"`
	CallsCanceled   int64 `json:"calls_canceled" yaml:"calls_canceled"`
	LateReplies     int64 `json:"late_replies" yaml:"late_replies"`
	RemoteErrors    int64 `json:"remote_errors" yaml:"remote_errors"`
	CommandFailures int64 `json:"command_failures" yaml:"command_failures"`
	TypeMismatches  int64 `json:"type_mismatches" yaml:"type_mismatches"`
	DecodeErrors    int64 `json:"decode_errors" yaml:"decode_errors"`

	// Handles
	HandlesAcquired int64 `json:"handles_acquired" yaml:"handles_acquired"`
	HandlesReleased int64 `json:"handles_released" yaml:"handles_released"`

	// Compiler outcomes keyed by status (complete, awaiting_more, invalid).
	Compiles map[string]int64 `json:"compiles" yaml:"compiles"`

	// Scripts
	ScriptsStarted   int64 `json:"scripts_started" yaml:"scripts_started"`
	ScriptsCompleted int64 `json:"scripts_completed" yaml:"scripts_completed"`
	ScriptsFailed    int64 `json:"scripts_failed" yaml:"scripts_failed"`

	// Dimensions (informational, set at construction)
	Transport string `json:"transport" yaml:"transport"`
	Listen    string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// Collector accumulates bridge counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsOpened int64
	sessionsClosed int64
	disconnects    int64

	callsStarted    int64
	callsCompleted  int64
	callsCanceled   int64
	lateReplies     int64
	remoteErrors    int64
	commandFailures int64
	typeMismatches  int64
	decodeErrors    int64

	handlesAcquired int64
	handlesReleased int64

	compiles map[string]int64

	scriptsStarted   int64
	scriptsCompleted int64
	scriptsFailed    int64

	transport string
	listen    string
}

// NewCollector creates a Collector with dimension labels.
// listen is optional and only set for the websocket server.
func NewCollector(transport, listen string) *Collector {
	return &Collector{
		compiles:  make(map[string]int64),
		transport: transport,
		listen:    listen,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionOpened records a new session.
func (c *Collector) IncSessionOpened() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsOpened)
}

// IncSessionClosed records a session shutdown.
func (c *Collector) IncSessionClosed() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsClosed)
}

// IncDisconnect records a transport loss that failed pending calls.
func (c *Collector) IncDisconnect() {
	if c == nil {
		return
	}
	c.inc(&c.disconnects)
}

// --- Remote calls ---

// IncCallStarted records a request sent to the remote interpreter.
func (c *Collector) IncCallStarted() {
	if c == nil {
		return
	}
	c.inc(&c.callsStarted)
}

// IncCallCompleted records a reply delivered to its waiter.
func (c *Collector) IncCallCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.callsCompleted)
}

// IncCallCanceled records a caller that stopped waiting.
func (c *Collector) IncCallCanceled() {
	if c == nil {
		return
	}
	c.inc(&c.callsCanceled)
}

// IncLateReply records a reply discarded because its waiter was abandoned.
func (c *Collector) IncLateReply() {
	if c == nil {
		return
	}
	c.inc(&c.lateReplies)
}

// IncRemoteError records a remote runtime error reply.
func (c *Collector) IncRemoteError() {
	if c == nil {
		return
	}
	c.inc(&c.remoteErrors)
}

// IncCommandFailure records a command-class failure reply.
func (c *Collector) IncCommandFailure() {
	if c == nil {
		return
	}
	c.inc(&c.commandFailures)
}

// IncTypeMismatch records a reply that did not match its declared shape.
func (c *Collector) IncTypeMismatch() {
	if c == nil {
		return
	}
	c.inc(&c.typeMismatches)
}

// IncDecodeError records an undecodable message from the remote side.
func (c *Collector) IncDecodeError() {
	if c == nil {
		return
	}
	c.inc(&c.decodeErrors)
}

// --- Handles ---

// IncHandleAcquired records a remote file handle opened.
func (c *Collector) IncHandleAcquired() {
	if c == nil {
		return
	}
	c.inc(&c.handlesAcquired)
}

// IncHandleReleased records a remote file handle released.
func (c *Collector) IncHandleReleased() {
	if c == nil {
		return
	}
	c.inc(&c.handlesReleased)
}

// --- Compiler ---

// RecordCompile records one compile outcome by status name.
func (c *Collector) RecordCompile(status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.compiles[status]++
	c.mu.Unlock()
}

// --- Scripts ---

// IncScriptStarted records a host script execution start.
func (c *Collector) IncScriptStarted() {
	if c == nil {
		return
	}
	c.inc(&c.scriptsStarted)
}

// IncScriptCompleted records a host script that ran to completion.
func (c *Collector) IncScriptCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.scriptsCompleted)
}

// IncScriptFailed records a host script that failed.
func (c *Collector) IncScriptFailed() {
	if c == nil {
		return
	}
	c.inc(&c.scriptsFailed)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Compiles: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	compiles := make(map[string]int64, len(c.compiles))
	for k, v := range c.compiles {
		compiles[k] = v
	}

	return Snapshot{
		SessionsOpened: c.sessionsOpened,
		SessionsClosed: c.sessionsClosed,
		Disconnects:    c.disconnects,

		CallsStarted:    c.callsStarted,
		CallsCompleted:  c.callsCompleted,
		CallsCanceled:   c.callsCanceled,
		LateReplies:     c.lateReplies,
		RemoteErrors:    c.remoteErrors,
		CommandFailures: c.commandFailures,
		TypeMismatches:  c.typeMismatches,
		DecodeErrors:    c.decodeErrors,

		HandlesAcquired: c.handlesAcquired,
		HandlesReleased: c.handlesReleased,

		Compiles: compiles,

		ScriptsStarted:   c.scriptsStarted,
		ScriptsCompleted: c.scriptsCompleted,
		ScriptsFailed:    c.scriptsFailed,

		Transport: c.transport,
		Listen:    c.listen,
	}
}
