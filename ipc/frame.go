// Package ipc implements the bridge wire messages and the length-prefixed
// framing used on stream transports.
//
// Every message is a msgpack map carrying a "type" discriminator. Stream
// transports (pipes, TCP) prefix each payload with a 4-byte big-endian
// length. Message transports (websockets) carry one payload per message
// and skip the prefix.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/TheKidThatCodes/ccbridge/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Message type discriminants.
const (
	// TypeEval is a host-to-device request carrying one Lua chunk.
	TypeEval = "eval"
	// TypeResult is a device-to-host reply to one eval request.
	TypeResult = "result"
	// TypeHello is the first device-to-host message on a connection.
	TypeHello = "hello"
)

// Request asks the remote interpreter to run one chunk.
type Request struct {
	Type   string `msgpack:"type"`
	ID     uint64 `msgpack:"id"`
	Source string `msgpack:"src"`
}

// Response carries the reply body for the request with the same ID.
// Body is decoded by codec.DecodeEnvelope.
type Response struct {
	Type string             `msgpack:"type"`
	ID   uint64             `msgpack:"id"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Hello identifies the remote computer.
type Hello struct {
	Type       string `msgpack:"type"`
	Protocol   string `msgpack:"protocol"`
	ComputerID int64  `msgpack:"computer_id"`
	Label      string `msgpack:"label,omitempty"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream can no longer be read.
// Partial and oversized frames desynchronize the stream.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// FrameEncoder writes length-prefixed frames to a stream.
// Safe for concurrent use; each frame is written atomically.
type FrameEncoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WriteFrame writes payload with its length prefix.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.writer.Write(buf)
	return err
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// EncodeRequest encodes an eval request payload.
func EncodeRequest(id uint64, src string) ([]byte, error) {
	return msgpack.Marshal(&Request{Type: TypeEval, ID: id, Source: src})
}

// DecodeMessage decodes a payload and returns *Request, *Response or *Hello,
// discriminating on the type field.
func DecodeMessage(payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message type",
			Err:  err,
		}
	}

	switch probe.Type {
	case TypeResult:
		return DecodeResponse(payload)
	case TypeEval:
		return DecodeRequest(payload)
	case TypeHello:
		var hello Hello
		if err := msgpack.Unmarshal(payload, &hello); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode hello", Err: err}
		}
		return &hello, nil
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("unknown message type %q", probe.Type),
		}
	}
}

// DecodeResponse decodes a payload as a Response.
func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode response",
			Err:  err,
		}
	}
	return &resp, nil
}

// DecodeRequest decodes a payload as a Request.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode request",
			Err:  err,
		}
	}
	return &req, nil
}

// EncodeResponse encodes a reply payload for request id with the given body.
// Used by in-process interpreters and tests; devices build replies in Lua.
func EncodeResponse(id uint64, body any) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode response body: %w", err)
	}
	return msgpack.Marshal(&Response{Type: TypeResult, ID: id, Body: raw})
}

// EncodeHello encodes a hello payload.
func EncodeHello(computerID int64, label string) ([]byte, error) {
	return msgpack.Marshal(&Hello{
		Type:       TypeHello,
		Protocol:   types.ProtocolVersion,
		ComputerID: computerID,
		Label:      label,
	})
}
