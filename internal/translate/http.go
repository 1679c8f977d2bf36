package translate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default endpoint paths for the HTTP front.
const (
	DefaultSSEEndpoint     = "/sse"
	DefaultMessageEndpoint = "/message"
	DefaultHTTPEndpoint    = "/mcp"
)

// defaultKeepalive is the SSE comment interval that holds idle
// connections open across proxies.
const defaultKeepalive = 15 * time.Second

// ServerConfig configures the HTTP front of a bridge.
type ServerConfig struct {
	SSEEndpoint     string
	MessageEndpoint string
	HTTPEndpoint    string
	Keepalive       time.Duration
}

func (c *ServerConfig) fillDefaults() {
	if c.SSEEndpoint == "" {
		c.SSEEndpoint = DefaultSSEEndpoint
	}
	if c.MessageEndpoint == "" {
		c.MessageEndpoint = DefaultMessageEndpoint
	}
	if c.HTTPEndpoint == "" {
		c.HTTPEndpoint = DefaultHTTPEndpoint
	}
	if c.Keepalive <= 0 {
		c.Keepalive = defaultKeepalive
	}
}

// sseSession is one connected SSE client: its push channel and the
// lifetime of its stream request.
type sseSession struct {
	ctx context.Context
	ch  chan []byte
}

// Server exposes a Bridge over SSE and Streamable HTTP. The SSE pair
// follows the MCP HTTP+SSE transport: the stream announces a message
// endpoint carrying the session id, and responses ride back on the
// stream. The Streamable HTTP endpoint answers each POST in place.
type Server struct {
	cfg    ServerConfig
	bridge *Bridge
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sseSession
}

// NewServer builds the HTTP front for the given bridge.
func NewServer(b *Bridge, cfg ServerConfig, logger *slog.Logger) *Server {
	cfg.fillDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		bridge:   b,
		logger:   logger,
		sessions: make(map[string]*sseSession),
	}
}

// Handler returns the combined mux for all three endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.SSEEndpoint, s.handleSSE)
	mux.HandleFunc(s.cfg.MessageEndpoint, s.handleMessage)
	mux.HandleFunc(s.cfg.HTTPEndpoint, s.handleStreamable)
	return mux
}

// handleStreamable answers one frame per POST. Notifications return 202
// with no body.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	resp, err := s.bridge.Forward(r.Context(), frame)
	if err != nil {
		s.logger.Error("forward failed", "error", err)
		http.Error(w, "upstream failure", http.StatusBadGateway)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

// handleSSE opens the event stream: first an endpoint event naming the
// message URL for this session, then message events for responses and
// child-initiated frames, with keepalive comments in between.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	session := &sseSession{ctx: r.Context(), ch: make(chan []byte, 32)}

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	subID, broadcasts := s.bridge.Subscribe()
	defer func() {
		s.bridge.Unsubscribe(subID)
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", s.cfg.MessageEndpoint, sessionID)
	flusher.Flush()

	keepalive := time.NewTicker(s.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case frame := <-session.ch:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		case frame, ok := <-broadcasts:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.bridge.Done():
			return
		}
	}
}

// handleMessage accepts a frame for an SSE session. The response is
// delivered on the session's event stream, so the POST answers 202 as
// soon as the frame is on its way.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	// Forward rides the stream's lifetime, not the POST's.
	go func() {
		resp, err := s.bridge.Forward(session.ctx, frame)
		if err != nil {
			s.logger.Error("forward failed", "session", sessionID, "error", err)
			return
		}
		if resp == nil {
			return
		}
		select {
		case session.ch <- resp:
		case <-session.ctx.Done():
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
