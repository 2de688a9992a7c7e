package types

// Version is the canonical project version.
// The CLI, the wire protocol and the embedded client program share it.
const Version = "0.3.0"

// ProtocolVersion is the request/response wire protocol version.
// The embedded client program announces it in its hello frame.
const ProtocolVersion = "1"
