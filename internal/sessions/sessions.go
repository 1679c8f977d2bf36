// Package sessions tracks per-client MCP session state the transports do
// not carry for us: the authenticated user, the virtual-server binding,
// the negotiated log level, resource subscriptions, and the cancel
// functions of in-flight requests. The registry is per process; multi
// worker deployments either pin sessions to a worker or plug in a
// SharedStore.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/logging"
)

// ErrSessionClosed is returned when a notification is enqueued on a
// session that has already been closed.
var ErrSessionClosed = errors.New("session is closed")

// Sender delivers one notification to the transport session. Implemented
// by the protocol engine against the MCP server's per-session send.
type Sender func(ctx context.Context, method string, params map[string]any) error

// SharedStore coordinates session visibility across workers. The default
// deployment runs without one and relies on sticky load balancing; the
// registry then never leaves process memory.
type SharedStore interface {
	// Get returns the stored state for a session, or nil when unknown.
	Get(ctx context.Context, id string) (map[string]any, error)

	// Set stores the state under the session ID with a TTL.
	Set(ctx context.Context, id string, state map[string]any, ttl time.Duration) error

	// Invalidate removes the session from the shared view.
	Invalidate(ctx context.Context, id string) error
}

// Session is the gateway-side state of one connected client.
type Session struct {
	id        string
	serverID  string
	createdAt time.Time

	mu            sync.Mutex
	user          string
	logLevel      string
	lastSeen      time.Time
	subscriptions map[string]struct{}
	inflight      map[string]context.CancelFunc

	notifier *notifier
}

// ID returns the transport-assigned session identifier.
func (s *Session) ID() string { return s.id }

// ServerID returns the virtual server the session is bound to, or the
// empty string for the full-catalog endpoint.
func (s *Session) ServerID() string { return s.serverID }

// CreatedAt returns when the session was registered.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Touch records activity, deferring idle eviction.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SetUser binds the authenticated user. Sessions start anonymous; the
// first authenticated request on the session fills this in.
func (s *Session) SetUser(email string) {
	s.mu.Lock()
	s.user = email
	s.mu.Unlock()
}

// User returns the bound user, or the empty string for anonymous.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetLogLevel records the level requested via logging/setLevel.
func (s *Session) SetLogLevel(level string) {
	s.mu.Lock()
	s.logLevel = level
	s.mu.Unlock()
}

// LogLevel returns the requested log level, or the empty string when the
// client never set one.
func (s *Session) LogLevel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logLevel
}

// Subscribe records interest in a resource URI.
func (s *Session) Subscribe(uri string) {
	s.mu.Lock()
	if s.subscriptions == nil {
		s.subscriptions = make(map[string]struct{})
	}
	s.subscriptions[uri] = struct{}{}
	s.mu.Unlock()
}

// Unsubscribe drops interest in a resource URI.
func (s *Session) Unsubscribe(uri string) {
	s.mu.Lock()
	delete(s.subscriptions, uri)
	s.mu.Unlock()
}

// SubscribedTo reports whether the session subscribed to the URI.
func (s *Session) SubscribedTo(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[uri]
	return ok
}

// TrackRequest registers the cancel function of an in-flight request so
// a later cancellation notification can reach it. The request ID is the
// client's JSON-RPC id rendered as a string.
func (s *Session) TrackRequest(requestID string, cancel context.CancelFunc) {
	s.mu.Lock()
	if s.inflight == nil {
		s.inflight = make(map[string]context.CancelFunc)
	}
	s.inflight[requestID] = cancel
	s.mu.Unlock()
}

// FinishRequest drops the tracking entry once the request completed.
func (s *Session) FinishRequest(requestID string) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	s.mu.Unlock()
}

// CancelRequest cancels one in-flight request. It reports whether a
// request with that ID was actually being tracked.
func (s *Session) CancelRequest(requestID string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[requestID]
	delete(s.inflight, requestID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// cancelAll cancels every in-flight request. Called on session close so
// upstream calls do not outlive their client.
func (s *Session) cancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for _, cancel := range s.inflight {
		cancels = append(cancels, cancel)
	}
	s.inflight = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Notify enqueues a notification for ordered delivery to this session.
// Notifications are delivered in enqueue order; a full queue drops the
// notification rather than blocking the caller.
func (s *Session) Notify(method string, params map[string]any) error {
	return s.notifier.enqueue(method, params)
}

// Registry holds the live sessions of this process and evicts the idle
// ones.
type Registry struct {
	idleTimeout time.Duration
	queueSize   int
	logger      *slog.Logger
	now         func() time.Time
	shared      SharedStore
	onEvict     func(*Session)
	gauge       func(delta int)

	mu       sync.RWMutex
	sessions map[string]*Session

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// Option configures the registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithQueueSize bounds each session's notification queue.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithSharedStore mirrors session liveness into a shared store for
// multi-worker deployments.
func WithSharedStore(s SharedStore) Option {
	return func(r *Registry) { r.shared = s }
}

// WithEvictFunc is called for every session removed by the idle janitor,
// after its in-flight requests were cancelled.
func WithEvictFunc(fn func(*Session)) Option {
	return func(r *Registry) { r.onEvict = fn }
}

// WithGauge registers a live-count callback: +1 when a session is added,
// -1 when one is removed. Replacing an existing ID leaves the count
// unchanged. Used by the instrumentation layer.
func WithGauge(fn func(delta int)) Option {
	return func(r *Registry) { r.gauge = fn }
}

// NewRegistry returns a registry evicting sessions idle longer than
// idleTimeout. A zero timeout disables eviction.
func NewRegistry(idleTimeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		idleTimeout: idleTimeout,
		queueSize:   64,
		logger:      slog.Default(),
		now:         time.Now,
		sessions:    make(map[string]*Session),
		janitorStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if idleTimeout > 0 {
		go r.janitor()
	}
	return r
}

// Put registers a session. The sender is invoked by the session's single
// delivery goroutine, so per-session notification order is the enqueue
// order. Registering an existing ID replaces (and closes) the old entry.
func (r *Registry) Put(id, serverID string, send Sender) *Session {
	now := r.now()
	s := &Session{
		id:        id,
		serverID:  serverID,
		createdAt: now,
		lastSeen:  now,
	}
	s.notifier = newNotifier(s, send, r.queueSize, r.logger)

	r.mu.Lock()
	old := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()

	if old != nil {
		r.shutdown(old)
	} else if r.gauge != nil {
		r.gauge(1)
	}
	r.mirror(s)
	return s
}

// Get returns the session for the ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Delete removes and closes a session. Safe to call for unknown IDs.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if s == nil {
		return
	}
	r.shutdown(s)
	if r.gauge != nil {
		r.gauge(-1)
	}
	if r.shared != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.shared.Invalidate(ctx, id); err != nil {
			r.logger.Debug("shared session invalidate failed", logging.Session(id), logging.Err(err))
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for every live session. The callback must not mutate the
// registry.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}

// Close evicts every session and stops the janitor.
func (r *Registry) Close() {
	r.janitorOnce.Do(func() { close(r.janitorStop) })

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.shutdown(s)
		if r.gauge != nil {
			r.gauge(-1)
		}
	}
}

func (r *Registry) shutdown(s *Session) {
	s.cancelAll()
	s.notifier.close()
}

// mirror writes session liveness to the shared store, best effort.
func (r *Registry) mirror(s *Session) {
	if r.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state := map[string]any{
		"server_id": s.ServerID(),
		"user":      s.User(),
		"last_seen": s.LastSeen().UTC().Format(time.RFC3339),
	}
	if err := r.shared.Set(ctx, s.ID(), state, r.idleTimeout); err != nil {
		r.logger.Debug("shared session write failed", logging.Session(s.ID()), logging.Err(err))
	}
}

func (r *Registry) janitor() {
	interval := r.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.janitorStop:
			return
		case <-ticker.C:
			r.sweep(r.now())
		}
	}
}

// sweep evicts sessions idle past the timeout.
func (r *Registry) sweep(now time.Time) {
	cutoff := now.Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.logger.Info("session evicted after idle timeout",
			logging.Session(s.ID()),
			slog.Duration("idle", now.Sub(s.LastSeen())))
		r.shutdown(s)
		if r.gauge != nil {
			r.gauge(-1)
		}
		if r.onEvict != nil {
			r.onEvict(s)
		}
		if r.shared != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := r.shared.Invalidate(ctx, s.ID()); err != nil {
				r.logger.Debug("shared session invalidate failed", logging.Session(s.ID()), logging.Err(err))
			}
			cancel()
		}
	}
}
