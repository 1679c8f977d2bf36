// Package gatewaysrv projects the catalog onto MCP server instances and
// serves them over stdio, SSE, and streamable HTTP. Each projection (a
// surface) pairs one virtual-server scope with one audience, so a
// session only ever sees the tools, resources, and prompts its identity
// is allowed to see. Surfaces are built lazily on first use, kept in
// step with the catalog by a generation watch, and evicted once no
// session has touched them for a while.
package gatewaysrv

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/dispatch"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
	"github.com/giantswarm/mcp-gateway/internal/sessions"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const (
	defaultSyncInterval = 15 * time.Second

	audiencePublic = "public"
	audienceAdmin  = "admin"
)

// PeerReader reaches entities that live on a peer gateway. The
// federation manager implements it; without one, federated resources
// and prompts fail with an upstream error.
type PeerReader interface {
	ReadPeerResource(ctx context.Context, gatewayID, uri string) (*mcp.ReadResourceResult, error)
	GetPeerPrompt(ctx context.Context, gatewayID, name string, args map[string]string) (*mcp.GetPromptResult, error)
}

// Engine owns the MCP serving surfaces.
type Engine struct {
	cfg        config.GatewayConfig
	catalog    *catalog.Service
	dispatcher *dispatch.Dispatcher
	plugins    *plugins.Manager
	sessions   *sessions.Registry
	peers      PeerReader
	logger     *slog.Logger

	version      string
	instructions string
	local        *auth.Identity
	announceKey  string
	announce     func() any
	syncEvery    time.Duration
	surfaceIdle  time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	surfaces map[string]*surface

	refreshCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithVersion sets the version advertised in serverInfo.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// WithInstructions sets the instructions block returned from initialize.
func WithInstructions(s string) Option {
	return func(e *Engine) { e.instructions = s }
}

// WithPeerReader wires the federation client used for federated
// resources and prompts.
func WithPeerReader(p PeerReader) Option {
	return func(e *Engine) { e.peers = p }
}

// WithAnnouncer publishes fn's value under key in the experimental
// capabilities of every initialize result. Federation advertises the
// gateway identity this way so peers can detect registration loops.
func WithAnnouncer(key string, fn func() any) Option {
	return func(e *Engine) {
		e.announceKey = key
		e.announce = fn
	}
}

// WithLocalIdentity sets the identity assumed for transports that carry
// no credentials, which in practice means stdio.
func WithLocalIdentity(id *auth.Identity) Option {
	return func(e *Engine) { e.local = id }
}

// WithSyncInterval sets how often surfaces are checked against the
// catalog generation counters.
func WithSyncInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.syncEvery = d
		}
	}
}

// WithSurfaceIdle sets how long an unused surface with no live sessions
// is kept before eviction.
func WithSurfaceIdle(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.surfaceIdle = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds the engine. Start must be called before the engine tracks
// catalog changes; surfaces still build and serve without it.
func New(cfg config.GatewayConfig, cat *catalog.Service, disp *dispatch.Dispatcher, pm *plugins.Manager, reg *sessions.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		catalog:    cat,
		dispatcher: disp,
		plugins:    pm,
		sessions:   reg,
		logger:     slog.Default(),
		version:    "dev",
		syncEvery:  defaultSyncInterval,
		now:        time.Now,
		surfaces:   make(map[string]*surface),
		refreshCh:  make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.surfaceIdle <= 0 {
		e.surfaceIdle = 2 * cfg.SessionTimeout
		if e.surfaceIdle < time.Minute {
			e.surfaceIdle = time.Minute
		}
	}
	if e.local == nil {
		// Stdio sessions run on the operator's own machine; they get the
		// full catalog, like the admin CLI would.
		e.local = &auth.Identity{Email: "local@gateway", PlatformAdmin: true}
	}
	return e
}

// Start launches the background watch that keeps surfaces in step with
// the catalog and evicts idle ones. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.run(ctx)
	})
}

// Close stops the watch loop. Live surfaces keep serving until their
// transports shut down.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	if !e.started.Load() {
		return
	}
	select {
	case <-e.done:
	case <-time.After(time.Second):
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-e.refreshCh:
			e.syncAll(ctx, true)
		case <-ticker.C:
			e.syncAll(ctx, false)
			e.evictIdle()
		}
	}
}

// Hooks returns the catalog observer that keeps surfaces fresh and fans
// resource-update notifications out to subscribers. Compose it with the
// plugin hook adapter via catalog.MultiHooks.
func (e *Engine) Hooks() catalog.AdminHooks {
	return catalogObserver{engine: e}
}

type catalogObserver struct {
	engine *Engine
}

func (catalogObserver) Pre(context.Context, catalog.AdminEvent) error { return nil }

func (o catalogObserver) Post(ctx context.Context, ev catalog.AdminEvent) {
	e := o.engine
	if ev.Kind == store.KindResource && ev.Action == catalog.ActionUpdate {
		if res, ok := ev.Entity.(*store.Resource); ok {
			e.NotifyResourceUpdated(ctx, res.URI)
		}
	}
	e.nudge()
}

// nudge schedules a forced resync without blocking the mutation path.
func (e *Engine) nudge() {
	select {
	case e.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh resyncs every live surface against the catalog immediately.
func (e *Engine) Refresh(ctx context.Context) {
	e.syncAll(ctx, true)
}

// NotifyResourceUpdated pushes notifications/resources/updated to every
// session subscribed to the URI. Delivery order per session follows
// emission order.
func (e *Engine) NotifyResourceUpdated(ctx context.Context, uri string) {
	e.sessions.Each(func(s *sessions.Session) {
		if !s.SubscribedTo(uri) {
			return
		}
		if err := s.Notify("notifications/resources/updated", map[string]any{"uri": uri}); err != nil {
			e.logger.Debug("resource update notification failed",
				logging.Session(s.ID()), logging.Err(err))
		}
	})
}

// StdioServer returns the MCP server backing the stdio transport. It
// serves the full catalog under the local identity and is pinned
// against eviction for the life of the process.
func (e *Engine) StdioServer(ctx context.Context) (*mcpserver.MCPServer, error) {
	sf, err := e.surfaceFor(ctx, "", e.local)
	if err != nil {
		return nil, err
	}
	sf.pin()
	sf.localTrust.Store(true)
	return sf.srv, nil
}

// surfaceFor returns the surface serving (serverID, identity), building
// it on first use.
func (e *Engine) surfaceFor(ctx context.Context, serverID string, id *auth.Identity) (*surface, error) {
	key := surfaceKey(serverID, id)

	e.mu.RLock()
	sf := e.surfaces[key]
	e.mu.RUnlock()
	if sf != nil {
		sf.touch(e.now())
		return sf, nil
	}

	built, err := e.buildSurface(ctx, serverID, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if existing := e.surfaces[key]; existing != nil {
		// Lost the build race; the winner is already serving sessions.
		e.mu.Unlock()
		existing.touch(e.now())
		return existing, nil
	}
	e.surfaces[key] = built
	e.mu.Unlock()

	built.touch(e.now())
	e.logger.Debug("surface built", slog.String("surface", key))
	return built, nil
}

// snapshotSurfaces returns the current surfaces without holding the lock
// during sync work.
func (e *Engine) snapshotSurfaces() []*surface {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*surface, 0, len(e.surfaces))
	for _, sf := range e.surfaces {
		out = append(out, sf)
	}
	return out
}

func (e *Engine) syncAll(ctx context.Context, force bool) {
	for _, sf := range e.snapshotSurfaces() {
		if err := e.syncSurface(ctx, sf, force); err != nil {
			e.logger.Warn("surface sync failed",
				slog.String("surface", sf.key), logging.Err(err))
		}
	}
}

// evictIdle drops surfaces that have no live sessions and have not been
// touched within the idle window.
func (e *Engine) evictIdle() {
	cutoff := e.now().Add(-e.surfaceIdle)
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, sf := range e.surfaces {
		if sf.pinned() || sf.liveSessions() > 0 {
			continue
		}
		if sf.lastUsed().After(cutoff) {
			continue
		}
		delete(e.surfaces, key)
		e.logger.Debug("surface evicted", slog.String("surface", key))
	}
}

// surfaceKey derives the cache key for one (scope, audience) pair.
// Admins share one view per scope; everyone else gets a view keyed by
// their email and team memberships, which is exactly the input to the
// visibility predicate.
func surfaceKey(serverID string, id *auth.Identity) string {
	return serverID + "\x00" + audienceKey(id)
}

func audienceKey(id *auth.Identity) string {
	if id == nil {
		return audiencePublic
	}
	if id.PlatformAdmin {
		return audienceAdmin
	}
	teams := append([]string(nil), id.TeamIDs...)
	sort.Strings(teams)
	return id.Email + "|" + strings.Join(teams, ",")
}

// actorFor converts a transport identity into a catalog actor. A nil
// identity is the anonymous actor, which sees public entities only.
func actorFor(id *auth.Identity) catalog.Actor {
	if id == nil {
		return catalog.Actor{}
	}
	return catalog.Actor{
		Email:         id.Email,
		PlatformAdmin: id.PlatformAdmin,
		TeamIDs:       id.TeamIDs,
		OwnedTeamIDs:  id.OwnedTeamIDs,
	}
}

// sessionFrom resolves the transport session for the current request,
// if the request arrived through one.
func (e *Engine) sessionFrom(ctx context.Context) *sessions.Session {
	cs := mcpserver.ClientSessionFromContext(ctx)
	if cs == nil {
		return nil
	}
	return e.sessions.Get(cs.SessionID())
}

// hookContext builds the plugin context for one inbound request.
func (e *Engine) hookContext(ctx context.Context, id *auth.Identity, requestID, tenant string) *plugins.HookContext {
	hctx := plugins.NewHookContext(requestID)
	hctx.Tenant = tenant
	if id != nil {
		hctx.User = id.Email
		hctx.Team = id.TeamCtx
	}
	if cs := mcpserver.ClientSessionFromContext(ctx); cs != nil {
		hctx.SessionID = cs.SessionID()
	}
	return hctx
}

// identityFrom returns the request identity, falling back to the
// engine's local identity on surfaces serving a credential-less
// transport.
func (e *Engine) identityFrom(ctx context.Context, sf *surface) *auth.Identity {
	if id := auth.IdentityFrom(ctx); id != nil {
		return id
	}
	if sf != nil && sf.localTrust.Load() {
		return e.local
	}
	return nil
}

// notFoundError reports an entity the caller cannot use, either because
// it does not exist, is disabled, or sits outside the caller's view.
func notFoundError(noun, name string) error {
	return mcperr.Newf(mcperr.KindMethodNotFound, "%s %s is not available", noun, name)
}
