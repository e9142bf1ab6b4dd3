// Package server hosts the HTTP surface: conversation CRUD, run start,
// branch rewind and the websocket push channel the stream transport writes
// to. It is the colocated host for a conversation's run and sink; rendering
// and auth live elsewhere.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomlab/loom/conversation"
	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/logging"
	"github.com/loomlab/loom/runner"
	"github.com/loomlab/loom/stream"
)

// Options configure a Server.
type Options struct {
	// Logger receives request diagnostics.
	Logger *logging.LoomLogger
	// ShutdownTimeout bounds graceful shutdown. Zero keeps the default.
	ShutdownTimeout time.Duration
}

// Server wires the HTTP mux over the core collaborators.
type Server struct {
	store     core.ConversationStore
	states    *conversation.Manager
	runner    *runner.Runner
	transport *stream.Transport
	logger    *logging.LoomLogger

	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New builds a Server listening on addr.
func New(addr string, store core.ConversationStore, states *conversation.Manager, r *runner.Runner, transport *stream.Transport, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:          logging.NewLogger(logging.DefaultLoggerConfig()),
		ShutdownTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(logging.DefaultLoggerConfig())
	}

	s := &Server{
		store:           store,
		states:          states,
		runner:          r,
		transport:       transport,
		logger:          opts.Logger.WithComponent("server"),
		shutdownTimeout: opts.ShutdownTimeout,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route mux, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /conversations/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("POST /conversations/{id}/rewind", s.handleRewind)
	mux.HandleFunc("POST /conversations/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /conversations/{id}/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe blocks serving requests until the context is cancelled,
// then drains with the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("server.listening", "addr", s.httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

type createConversationRequest struct {
	Agent  string `json:"agent"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Agent == "" {
		s.writeError(w, http.StatusBadRequest, "agent is required")
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), core.Conversation{
		Agent:  req.Agent,
		UserID: req.UserID,
		Title:  req.Title,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// A resident state serves the active branch; otherwise the full
	// persisted log is returned.
	if state, ok := s.states.Get(id); ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"messages": state.ChainMessages()})
		return
	}
	msgs, err := s.store.Messages(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	placeholder, err := s.runner.Start(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, placeholder)
}

type rewindRequest struct {
	// Index rewinds to a message position; MessageID rewinds to a message by
	// id. Exactly one must be set.
	Index     *int   `json:"index,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req rewindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.Index == nil) == (req.MessageID == "") {
		s.writeError(w, http.StatusBadRequest, "exactly one of index or message_id is required")
		return
	}

	state, err := s.states.GetOrLoad(id, func() (*conversation.State, error) {
		msgs, err := s.store.Messages(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return conversation.New(id, msgs), nil
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.runner.Cancel(id)

	ok := false
	if req.Index != nil {
		ok = state.TimeTravel(*req.Index)
	} else {
		ok = state.TimeTravelToMessageID(req.MessageID)
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "rewind target out of range")
		return
	}

	if err := s.store.TruncateMessages(r.Context(), id, state.Len()-1); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": state.ChainMessages()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.runner.Cancel(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

// handleStream upgrades to a websocket and registers it as the
// conversation's sink. The read loop only watches for disconnect; clients
// are not expected to send data.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("server.stream.accept_failed", "conversation_id", id, "error", err.Error())
		return
	}

	sink := stream.NewWebSocketSink(conn)
	s.transport.InitConnection(id, sink)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	// A reconnect may already have replaced this sink; tear down only if it
	// is still the registered one.
	s.transport.CloseConnectionIf(id, sink)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrConversationNotFound), errors.Is(err, core.ErrMessageNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("server.write_response", "error", err.Error())
	}
}
