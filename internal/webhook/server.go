// Package webhook receives VCS push notifications over HTTP and turns them
// into trigger events. The payload is one fixed JSON shape; translating
// provider-specific formats is a job for whatever sits in front of us.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/legwork-ci/legwork/internal/trigger"
)

const maxPayloadBytes = 64 << 10

// Dispatcher handles a translated event. It is called on the request
// goroutine; long work belongs behind a queue on the implementer's side.
type Dispatcher func(evt trigger.Event) error

// Logger is the minimal logging surface the server needs.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server wraps the HTTP listener and handlers.
type Server struct {
	addr       string
	dispatcher Dispatcher
	logger     Logger

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer prepares a webhook server bound to addr.
func NewServer(addr string, dispatcher Dispatcher, opts ...Option) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("webhook: dispatcher is required")
	}
	s := &Server{addr: addr, dispatcher: dispatcher, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("webhook: server already started")
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webhook: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events/push", s.handlePush)
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("webhook: serve error: %v", err)
		}
	}()
	s.logger.Printf("webhook: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// pushPayload is the fixed wire shape: a git-style ref plus the commit SHA
// after the push.
type pushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// ParsePush translates a payload into a trigger event. refs/heads/* become
// push events, refs/tags/* become tag events.
func ParsePush(payload pushPayload) (trigger.Event, error) {
	switch {
	case strings.HasPrefix(payload.Ref, "refs/heads/"):
		return trigger.NewPush(strings.TrimPrefix(payload.Ref, "refs/heads/"), payload.After)
	case strings.HasPrefix(payload.Ref, "refs/tags/"):
		return trigger.NewTag(strings.TrimPrefix(payload.Ref, "refs/tags/"), payload.After)
	default:
		return trigger.Event{}, fmt.Errorf("webhook: unsupported ref %q", payload.Ref)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	evt, err := ParsePush(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.dispatcher(evt); err != nil {
		s.logger.Printf("webhook: dispatch %s: %v", evt.Describe(), err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "dispatch failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
