package gatewaysrv

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/sessions"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// surface is one projection of the catalog: an MCP server plus its
// transports for a single (virtual server, audience) pair. The tables
// it registers are already filtered to what the audience may see, so
// list results need no per-request filtering.
type surface struct {
	key      string
	serverID string
	actor    catalog.Actor

	srv  *mcpserver.MCPServer
	http *mcpserver.StreamableHTTPServer
	sse  *mcpserver.SSEServer

	// localTrust marks the surface backing stdio, whose requests carry
	// no transport identity.
	localTrust atomic.Bool

	mu        sync.Mutex
	gens      map[store.EntityKind]int64
	tools     map[string]entityStamp
	resources map[string]entityStamp
	prompts   map[string]entityStamp

	live atomic.Int64
	used atomic.Int64
	keep atomic.Bool
}

// entityStamp identifies one synced row; a changed stamp re-registers
// the entity under its wire name.
type entityStamp struct {
	id      string
	updated time.Time
}

func (s *surface) touch(now time.Time) { s.used.Store(now.UnixNano()) }
func (s *surface) lastUsed() time.Time { return time.Unix(0, s.used.Load()) }
func (s *surface) liveSessions() int64 { return s.live.Load() }
func (s *surface) pin()         { s.keep.Store(true) }
func (s *surface) pinned() bool { return s.keep.Load() }

func (s *surface) hasTool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tools[name]
	return ok
}

func (s *surface) hasResource(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.resources[uri]
	return ok
}

func (s *surface) hasPrompt(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.prompts[name]
	return ok
}

// resourceURIs snapshots the registered resource URIs, sorted so
// completion results are stable.
func (s *surface) resourceURIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uris := make([]string, 0, len(s.resources))
	for uri := range s.resources {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// buildSurface constructs the MCP server for one (scope, audience)
// pair and fills its tables from the catalog.
func (e *Engine) buildSurface(ctx context.Context, serverID string, id *auth.Identity) (*surface, error) {
	actor := actorFor(id)
	sf := &surface{
		key:       surfaceKey(serverID, id),
		serverID:  serverID,
		actor:     actor,
		gens:      make(map[store.EntityKind]int64),
		tools:     make(map[string]entityStamp),
		resources: make(map[string]entityStamp),
		prompts:   make(map[string]entityStamp),
	}

	name := e.cfg.Name
	instructions := e.instructions
	if serverID != "" {
		vs, err := e.catalog.GetServer(ctx, actor, serverID)
		if err != nil {
			return nil, err
		}
		if !vs.Enabled {
			return nil, notFoundError("server", serverID)
		}
		name = vs.Name
		if vs.Description != "" {
			instructions = vs.Description
		}
	}

	opts := []mcpserver.ServerOption{
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(e.sessionHooks(sf)),
	}
	if instructions != "" {
		opts = append(opts, mcpserver.WithInstructions(instructions))
	}
	sf.srv = mcpserver.NewMCPServer(name, e.version, opts...)
	sf.srv.AddNotificationHandler("notifications/cancelled", e.handleCancelled)
	sf.srv.AddNotificationHandler("$/cancelRequest", e.handleCancelled)

	e.buildTransports(sf)

	if err := e.syncSurface(ctx, sf, true); err != nil {
		return nil, err
	}
	return sf, nil
}

// sessionHooks ties transport session lifecycle to the gateway session
// registry and keeps per-session state current.
func (e *Engine) sessionHooks(sf *surface) *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		sf.live.Add(1)
		sf.touch(e.now())
		e.sessions.Put(session.SessionID(), sf.serverID, notifySender(sf.srv, session.SessionID()))
		e.logger.Debug("mcp session registered",
			logging.Session(session.SessionID()), slog.String("surface", sf.key))
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		sf.live.Add(-1)
		sf.touch(e.now())
		e.sessions.Delete(session.SessionID())
		e.logger.Debug("mcp session closed", logging.Session(session.SessionID()))
	})

	hooks.AddAfterInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest, result *mcp.InitializeResult) {
		if e.announce != nil {
			if result.Capabilities.Experimental == nil {
				result.Capabilities.Experimental = make(map[string]any, 1)
			}
			result.Capabilities.Experimental[e.announceKey] = e.announce()
		}
		e.logger.Info("mcp session initialized",
			slog.String("client", message.Params.ClientInfo.Name),
			slog.String("client_version", message.Params.ClientInfo.Version),
			slog.String("protocol", message.Params.ProtocolVersion))
	})

	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		sf.touch(e.now())
		sess := e.sessionFrom(ctx)
		if sess == nil {
			return
		}
		sess.Touch(e.now())
		if ident := e.identityFrom(ctx, sf); ident != nil {
			sess.SetUser(ident.Email)
		}
		if string(method) == "logging/setLevel" {
			if req, ok := message.(*mcp.SetLevelRequest); ok {
				sess.SetLogLevel(string(req.Params.Level))
			}
		}
	})

	return hooks
}

// handleCancelled serves both notifications/cancelled and the
// $/cancelRequest alias some clients send. Matching relies on the
// request having been tracked under the announced identifier, which for
// tool calls is the progress token: notification handlers never see the
// raw JSON-RPC id of the in-flight request, so a cancellation naming
// the bare id only matches when the client used it as the progress
// token too. Untracked requests are covered by the transport's own
// context cancellation and by session teardown.
func (e *Engine) handleCancelled(ctx context.Context, notification mcp.JSONRPCNotification) {
	sess := e.sessionFrom(ctx)
	if sess == nil {
		return
	}
	fields := notification.Params.AdditionalFields
	rid, ok := fields["requestId"]
	if !ok {
		rid, ok = fields["id"]
	}
	if !ok {
		return
	}
	if sess.CancelRequest(requestKey(rid)) {
		e.logger.Debug("request cancelled by client",
			logging.Session(sess.ID()), slog.Any("request_id", rid))
	}
}

// requestKey normalizes a JSON-decoded request identifier. Numbers
// arrive as float64; integral values print without a fraction so they
// match the form tracked at call time.
func requestKey(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// notifySender adapts the MCP server's per-session notification send to
// the session registry's Sender contract.
func notifySender(srv *mcpserver.MCPServer, sessionID string) sessions.Sender {
	return func(ctx context.Context, method string, params map[string]any) error {
		return srv.SendNotificationToSpecificClient(sessionID, method, params)
	}
}
