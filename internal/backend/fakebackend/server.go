// Package fakebackend is a scripted, in-process stand-in for the chat
// backend. It serves the same routes over HTTP, pushes events over SSE or
// WebSocket, and rotates envelope layouts so clients see every shape.
package fakebackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Route names used by FailNext and Count.
const (
	RouteCreateSession = "create_session"
	RouteEvents        = "events"
	RouteMessages      = "messages"
	RouteResolve       = "resolve"
)

type pendingDecision struct {
	sessionID string
	intent    *intent
}

// Server holds all fake backend state behind one mutex.
type Server struct {
	mu        sync.Mutex
	sessions  map[string]*session
	decisions map[string]pendingDecision
	shapes    []Shape
	nextShape int
	counts    map[string]int
	failures  map[string]int

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	server   *http.Server
}

type Option func(*Server)

// WithShapes fixes the envelope layouts the server cycles through.
func WithShapes(shapes ...Shape) Option {
	return func(s *Server) {
		if len(shapes) > 0 {
			s.shapes = shapes
		}
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		sessions:  make(map[string]*session),
		decisions: make(map[string]pendingDecision),
		shapes:    AllShapes,
		counts:    make(map[string]int),
		failures:  make(map[string]int),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("POST /sessions/{id}/messages", s.handleMessages)
	s.mux.HandleFunc("POST /decisions/{id}/resolve", s.handleResolve)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on port in a goroutine.
func (s *Server) Start(port int) {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux,
	}
	go func() {
		slog.Info("Starting fake backend", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Fake backend failed", "error", err)
		}
	}()
}

// Stop disconnects every stream and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.DropStreams()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// FailNext makes the next n requests to route answer with 503.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] += n
}

// Count reports how many requests route has received, failed ones included.
func (s *Server) Count(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[route]
}

// Connects reports how many stream connections a session has accepted.
func (s *Server) Connects(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.connects
	}
	return 0
}

// Connected reports how many streams are live for a session.
func (s *Server) Connected(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return len(sess.subscribers)
	}
	return 0
}

// DropStreams disconnects every live stream, as a backend restart would.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		for sub := range sess.subscribers {
			sess.unsubscribe(sub)
		}
	}
}

// Push publishes a raw frame to a session exactly as given.
func (s *Server) Push(sessionID string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	sess.publish(frame)
	return nil
}

// DecisionIDs lists decisions that are still awaiting resolution.
func (s *Server) DecisionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.decisions))
	for id := range s.decisions {
		ids = append(ids, id)
	}
	return ids
}

// begin counts a request and reports whether it should be failed.
func (s *Server) begin(route string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[route]++
	if s.failures[route] > 0 {
		s.failures[route]--
		return false
	}
	return true
}

// emit publishes one scripted event. Callers hold s.mu.
func (s *Server) emit(sess *session, ev event) {
	shape := s.shapes[s.nextShape%len(s.shapes)]
	s.nextShape++

	frame, err := encode(shape, ev)
	if err != nil {
		slog.Error("Dropping scripted event", "type", ev.Type, "error", err)
		return
	}
	sess.publish(frame)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.begin(RouteCreateSession) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{id: id, subscribers: make(map[*subscriber]struct{})}
	s.mu.Unlock()

	slog.Debug("Session created", "session_id", id)
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.begin(RouteEvents) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	var sub *subscriber
	if ok {
		sub = sess.subscribe()
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	defer func() {
		s.mu.Lock()
		sess.unsubscribe(sub)
		s.mu.Unlock()
	}()

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, sub)
		return
	}
	serveSSE(w, r, sub)
}

func serveSSE(w http.ResponseWriter, r *http.Request, sub *subscriber) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case frame := <-sub.frames:
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		case <-sub.drop:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, sub *subscriber) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-sub.frames:
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-sub.drop:
			return
		case <-gone:
			return
		}
	}
}

type messageRequest struct {
	Content        string         `json:"content"`
	Mode           string         `json:"mode"`
	IntentID       string         `json:"intent_id"`
	ParamOverrides map[string]any `json:"param_overrides"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !s.begin(RouteMessages) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if req.Mode == "param_update" {
		if sess.intent == nil || sess.intent.ID != req.IntentID {
			http.Error(w, "Unknown intent", http.StatusBadRequest)
			return
		}
		for k, v := range req.ParamOverrides {
			sess.intent.Params[k] = v
		}
		s.proposeLocked(sess, sess.intent)
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Missing required field: content", http.StatusBadRequest)
		return
	}

	in := parseIntent(req.Content)
	sess.intent = in

	s.emit(sess, logEvent("user", req.Content))
	s.emit(sess, operationEvent("running", "intent_parse", ""))
	for _, word := range strings.SplitAfter(replyText(in), " ") {
		s.emit(sess, tokenEvent(word))
	}
	s.emit(sess, operationEvent("succeeded", "intent_parse", ""))
	s.proposeLocked(sess, in)

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// proposeLocked pushes an intent review and a decision asking to run it.
func (s *Server) proposeLocked(sess *session, in *intent) {
	decisionID := uuid.NewString()
	s.decisions[decisionID] = pendingDecision{sessionID: sess.id, intent: in}

	s.emit(sess, intentEvent("intent", in))
	s.emit(sess, decisionEvent(decisionID, in))
}

type resolveRequest struct {
	OptionID string `json:"option_id"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !s.begin(RouteResolve) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	decisionID := r.PathValue("id")
	pending, ok := s.decisions[decisionID]
	if !ok {
		http.Error(w, "Decision not found", http.StatusNotFound)
		return
	}
	sess, ok := s.sessions[pending.sessionID]
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	switch req.OptionID {
	case OptionRun:
		s.emit(sess, operationEvent("running", "infra_execute", ""))
		s.emit(sess, infraResult(pending.intent))
		s.emit(sess, operationEvent("succeeded", "infra_execute", ""))
	case OptionCancel:
		s.emit(sess, logEvent("system", "decision cancelled"))
	case OptionEdit:
		s.emit(sess, intentEvent("intent_for_edit", pending.intent))
	default:
		http.Error(w, "Unknown option", http.StatusBadRequest)
		return
	}

	delete(s.decisions, decisionID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved", "decision_id": decisionID, "option_id": req.OptionID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
