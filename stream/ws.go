package stream

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketSink adapts a *websocket.Conn to the Sink interface. Writes are
// serialized with a mutex because websocket connections do not support
// concurrent writers.
type WebSocketSink struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewWebSocketSink wraps an accepted websocket connection.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Write sends one frame as a single text message.
func (w *WebSocketSink) Write(ctx context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return websocket.CloseError{Code: websocket.StatusNormalClosure}
	}
	return w.conn.Write(ctx, websocket.MessageText, frame)
}

// Close closes the underlying connection once; later calls are no-ops.
func (w *WebSocketSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}
