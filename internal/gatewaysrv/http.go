package gatewaysrv

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
)

// maxRPCBody bounds how much of a POST body the subscription
// interceptor will buffer before handing it to mcp-go.
const maxRPCBody = 10 << 20

type inboundKey struct{}

// withInboundHeaders stashes the client's HTTP headers so dispatch can
// forward the passthrough-listed ones upstream.
func withInboundHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, inboundKey{}, h)
}

// inboundHeaders returns the client's HTTP headers. Nil for stdio
// sessions.
func inboundHeaders(ctx context.Context) http.Header {
	h, _ := ctx.Value(inboundKey{}).(http.Header)
	return h
}

// transportContext carries the authenticated identity and the request
// headers from the HTTP layer into the per-call handler context.
func transportContext(ctx context.Context, r *http.Request) context.Context {
	if id := auth.IdentityFrom(r.Context()); id != nil {
		ctx = auth.WithIdentity(ctx, id)
	}
	return withInboundHeaders(ctx, r.Header.Clone())
}

// buildTransports attaches the streamable HTTP and SSE front ends to a
// freshly built surface. Endpoint paths are absolute so the SSE
// endpoint event advertises the same URL the router serves.
func (e *Engine) buildTransports(sf *surface) {
	sf.http = mcpserver.NewStreamableHTTPServer(sf.srv,
		mcpserver.WithEndpointPath(e.publicPath(sf.serverID, "mcp")),
		mcpserver.WithHTTPContextFunc(transportContext),
	)
	sseOpts := []mcpserver.SSEOption{
		mcpserver.WithSSEEndpoint(e.publicPath(sf.serverID, "sse")),
		mcpserver.WithMessageEndpoint(e.publicPath(sf.serverID, "message")),
		mcpserver.WithSSEContextFunc(transportContext),
	}
	if e.cfg.SSEKeepalive > 0 {
		sseOpts = append(sseOpts, mcpserver.WithKeepAliveInterval(e.cfg.SSEKeepalive))
	}
	sf.sse = mcpserver.NewSSEServer(sf.srv, sseOpts...)
}

// publicPath joins the configured base path, the optional virtual
// server scope, and the endpoint leaf into an absolute path.
func (e *Engine) publicPath(serverID, leaf string) string {
	parts := []string{"/", e.cfg.BasePath}
	if serverID != "" {
		parts = append(parts, "servers", serverID)
	}
	parts = append(parts, leaf)
	return path.Join(parts...)
}

// Mount registers the MCP transport endpoints relative to r. The admin
// router calls it twice: once at the base path for the root surface and
// once inside its /servers/{serverID} subtree for the scoped ones; the
// surface is picked from the route's serverID param. Auth middleware
// runs before these handlers so the request context carries the
// caller's identity.
func (e *Engine) Mount(r chi.Router) {
	r.HandleFunc("/mcp", e.serveStreamable)
	r.Get("/sse", e.serveSSE)
	r.Post("/message", e.serveSSEMessage)
}

func (e *Engine) serveStreamable(w http.ResponseWriter, r *http.Request) {
	sf, ok := e.surfaceForRequest(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodPost && e.interceptRPC(w, r, sf) {
		return
	}
	sf.http.ServeHTTP(w, r)
}

func (e *Engine) serveSSE(w http.ResponseWriter, r *http.Request) {
	sf, ok := e.surfaceForRequest(w, r)
	if !ok {
		return
	}
	sf.sse.SSEHandler().ServeHTTP(w, r)
}

func (e *Engine) serveSSEMessage(w http.ResponseWriter, r *http.Request) {
	sf, ok := e.surfaceForRequest(w, r)
	if !ok {
		return
	}
	sf.sse.MessageHandler().ServeHTTP(w, r)
}

// surfaceForRequest picks the surface matching the request's virtual
// server scope and the caller's identity, building it on first use.
func (e *Engine) surfaceForRequest(w http.ResponseWriter, r *http.Request) (*surface, bool) {
	serverID := chi.URLParam(r, "serverID")
	sf, err := e.surfaceFor(r.Context(), serverID, auth.IdentityFrom(r.Context()))
	if err != nil {
		writeRPCError(w, nil, err)
		return nil, false
	}
	return sf, true
}

// rpcFrame is the slice of a JSON-RPC request the interceptor needs.
type rpcFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		URI string `json:"uri"`

		// Completion fields.
		Ref struct {
			Type string `json:"type"`
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"ref"`
		Argument struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"argument"`
	} `json:"params"`
}

// interceptRPC handles the methods mcp-go's server has no route for:
// resources/subscribe, resources/unsubscribe, and completion/complete.
// The streamable transport permits a direct JSON response, so results
// are written inline. Returns false with the body restored for any
// other frame.
func (e *Engine) interceptRPC(w http.ResponseWriter, r *http.Request, sf *surface) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		writeRPCError(w, nil, mcperr.Wrap(mcperr.KindInvalidRequest, "read request body", err))
		return true
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var frame rpcFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return false
	}
	switch frame.Method {
	case "resources/subscribe", "resources/unsubscribe":
		e.serveSubscription(w, r, sf, frame)
		return true
	case "completion/complete":
		e.serveCompletion(w, r, sf, frame)
		return true
	default:
		return false
	}
}

func (e *Engine) serveSubscription(w http.ResponseWriter, r *http.Request, sf *surface, frame rpcFrame) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		writeRPCError(w, frame.ID, mcperr.New(mcperr.KindInvalidRequest, "subscriptions require an established session"))
		return
	}
	sess := e.sessions.Get(sessionID)
	if sess == nil || sess.ServerID() != sf.serverID {
		writeRPCError(w, frame.ID, mcperr.Newf(mcperr.KindNotFound, "unknown session %s", sessionID))
		return
	}
	uri := frame.Params.URI
	if uri == "" {
		writeRPCError(w, frame.ID, mcperr.New(mcperr.KindInvalidRequest, "uri is required"))
		return
	}

	if frame.Method == "resources/subscribe" {
		if !sf.hasResource(uri) {
			writeRPCError(w, frame.ID, notFoundError("resource", uri))
			return
		}
		sess.Subscribe(uri)
	} else {
		sess.Unsubscribe(uri)
	}
	writeRPCResult(w, frame.ID, struct{}{})
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

// writeRPCError maps the error kind onto both the HTTP status and the
// JSON-RPC error code.
func writeRPCError(w http.ResponseWriter, id json.RawMessage, err error) {
	kind := mcperr.KindOf(err)
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    kind.JSONRPCCode(),
			"message": publicMessage(err),
		},
	})
}
