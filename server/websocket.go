package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheKidThatCodes/ccbridge/transport"
)

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// WebSocket carries one payload per binary websocket message.
type WebSocket struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps conn. The transport owns conn and closes it on Close.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Send writes payload as one binary message.
func (w *WebSocket) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return transport.ErrClosed
		}
		return err
	}
	return nil
}

// Recv returns the next binary or text message.
// A normal close from the peer is reported as io.EOF.
func (w *WebSocket) Recv() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and closes the connection. Safe to call
// multiple times and concurrently with Send; a Send stalled on a peer
// that stopped reading fails once the connection is closed.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		// WriteControl may run alongside WriteMessage and gives up after
		// closeGrace when a stalled write holds the connection.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Verify WebSocket implements Transport.
var _ transport.Transport = (*WebSocket)(nil)
