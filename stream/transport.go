// Package stream implements the per-conversation push channel delivering
// incremental run output to a subscribed client. Exactly one sink is active
// per conversation; a later subscription replaces the former. Heartbeat
// frames keep intermediary proxies from dropping idle connections.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/loomlab/loom/internal/metrics"
	"github.com/loomlab/loom/logging"
)

// EventType discriminates the wire frames sent over a conversation channel.
type EventType string

const (
	// EventHeartbeat is the periodic keep-alive frame.
	EventHeartbeat EventType = "heartbeat"
	// EventDelta carries incremental run output.
	EventDelta EventType = "completion_delta"
	// EventDone terminates a run's stream successfully.
	EventDone EventType = "completion_done"
	// EventError terminates a run's stream with a fatal error.
	EventError EventType = "completion_error"
)

// Event is the JSON payload written to a sink, one frame per event.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Delta builds an incremental content event.
func Delta(content string) Event { return Event{Type: EventDelta, Content: content} }

// Done builds the successful terminal event.
func Done() Event { return Event{Type: EventDone} }

// Errored builds the failure terminal event.
func Errored(message string) Event { return Event{Type: EventError, Error: message} }

// Sink is one client connection. Write receives a complete frame; partial
// frames are never interleaved across events. Implementations must tolerate
// Close being called more than once.
type Sink interface {
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// DefaultHeartbeatInterval is the keep-alive cadence when no override is set.
const DefaultHeartbeatInterval = 10 * time.Second

type connection struct {
	sink Sink
	stop chan struct{}
}

// Transport fans run events out to per-conversation sinks.
//
// Contract:
//   - InitConnection registers the sole sink for an id, replacing a prior one
//   - Send is a no-op when no sink is registered and never returns an error
//   - CloseConnection is idempotent; CloseConnectionIf ignores a stale sink
//   - sink write failures close the connection; they are not surfaced to senders
type Transport struct {
	mu       sync.Mutex
	conns    map[string]*connection
	interval time.Duration
	logger   logging.Logger
}

// Options configure a Transport.
type Options struct {
	// HeartbeatInterval overrides the keep-alive cadence. Zero keeps the default.
	HeartbeatInterval time.Duration
	// Logger receives connection lifecycle diagnostics.
	Logger logging.Logger
}

// NewTransport constructs a Transport with optional overrides.
func NewTransport(optFns ...func(o *Options)) *Transport {
	opts := Options{
		HeartbeatInterval: DefaultHeartbeatInterval,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Transport{
		conns:    make(map[string]*connection),
		interval: opts.HeartbeatInterval,
		logger:   opts.Logger,
	}
}

// InitConnection registers sink as the sole active channel for the
// conversation, emits an immediate heartbeat, and starts the periodic
// heartbeat. A previously registered sink for the same id is deregistered
// immediately and closed in the background.
func (t *Transport) InitConnection(conversationID string, sink Sink) {
	t.mu.Lock()
	old := t.detachLocked(conversationID)
	conn := &connection{sink: sink, stop: make(chan struct{})}
	t.conns[conversationID] = conn
	metrics.ConnectionOpened()
	t.mu.Unlock()

	// The replaced peer may be gone and its close handshake slow; never make
	// the new subscriber wait on it.
	if old != nil {
		go t.closeSink(conversationID, old)
	}

	t.logger.Debug("stream.connection.open", "conversation_id", conversationID)
	t.Send(conversationID, Event{Type: EventHeartbeat})

	go t.heartbeat(conversationID, conn)
}

func (t *Transport) heartbeat(conversationID string, conn *connection) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.stop:
			return
		case <-ticker.C:
			t.Send(conversationID, Event{Type: EventHeartbeat})
		}
	}
}

// Send writes the framed event to the registered sink if one exists. It is a
// no-op when there is none. A failing sink is treated as a disconnect cue:
// the connection is closed and the error is logged, never propagated.
func (t *Transport) Send(conversationID string, ev Event) {
	t.mu.Lock()
	conn, ok := t.conns[conversationID]
	t.mu.Unlock()
	if !ok {
		return
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		t.logger.Error("stream.send.marshal", "conversation_id", conversationID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.sink.Write(ctx, frame); err != nil {
		t.logger.Warn("stream.send.write_failed", "conversation_id", conversationID, "error", err)
		t.CloseConnectionIf(conversationID, conn.sink)
	}
}

// CloseConnection clears the heartbeat, closes the sink if not already
// closed, and deregisters it. Safe to call on an already-closed or
// never-opened id.
func (t *Transport) CloseConnection(conversationID string) {
	t.mu.Lock()
	conn := t.detachLocked(conversationID)
	t.mu.Unlock()
	if conn != nil {
		t.closeSink(conversationID, conn)
	}
}

// CloseConnectionIf closes the conversation's connection only while sink is
// still the registered one. A handler tearing down after its socket was
// replaced must use this so it cannot deregister its successor.
func (t *Transport) CloseConnectionIf(conversationID string, sink Sink) {
	t.mu.Lock()
	conn, ok := t.conns[conversationID]
	if !ok || conn.sink != sink {
		t.mu.Unlock()
		return
	}
	t.detachLocked(conversationID)
	t.mu.Unlock()
	t.closeSink(conversationID, conn)
}

// detachLocked deregisters the connection and stops its heartbeat, returning
// it for the caller to close. The sink close happens outside the mutex; a
// blocking close handshake must not stall Send for other conversations.
func (t *Transport) detachLocked(conversationID string) *connection {
	conn, ok := t.conns[conversationID]
	if !ok {
		return nil
	}
	close(conn.stop)
	delete(t.conns, conversationID)
	metrics.ConnectionClosed()
	return conn
}

func (t *Transport) closeSink(conversationID string, conn *connection) {
	if err := conn.sink.Close(); err != nil {
		t.logger.Debug("stream.connection.close", "conversation_id", conversationID, "error", err)
	}
}

// HasConnection reports whether a sink is currently registered for the id.
func (t *Transport) HasConnection(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[conversationID]
	return ok
}
