package gatewaysrv

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/dispatch"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
)

// toolHandler serves every tool registered on the surface. Failures are
// reported inside the tool result, the way MCP clients expect, with the
// gateway's error envelope as the payload.
func (e *Engine) toolHandler(sf *surface) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := e.callTool(ctx, sf, req)
		if err != nil {
			return errorResult(err), nil
		}
		return res, nil
	}
}

func (e *Engine) callTool(ctx context.Context, sf *surface, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.Params.Name
	if !sf.hasTool(name) {
		return nil, notFoundError("tool", name)
	}

	identity := e.identityFrom(ctx, sf)
	tool, err := e.catalog.ResolveTool(ctx, actorFor(identity), name)
	if err != nil {
		if mcperr.IsKind(err, mcperr.KindNotFound) {
			return nil, notFoundError("tool", name)
		}
		return nil, err
	}

	// The request context is made cancellable and tracked on the session
	// so $/cancelRequest by progress token and session teardown both
	// reach the in-flight upstream call. The transport hands handlers
	// only the request payload, never its JSON-RPC id, so the progress
	// token is the sole client-visible key that can be tracked here;
	// cancelling by bare id works only when the client also sent that id
	// as the progress token.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := e.sessionFrom(ctx)
	if sess != nil {
		key := uuid.NewString()
		sess.TrackRequest(key, cancel)
		defer sess.FinishRequest(key)
		if req.Params.Meta != nil && req.Params.Meta.ProgressToken != nil {
			tok := requestKey(req.Params.Meta.ProgressToken)
			sess.TrackRequest(tok, cancel)
			defer sess.FinishRequest(tok)
		}
	}

	hctx := e.hookContext(ctx, identity, uuid.NewString(), tool.TeamID)

	payload := plugins.ToolPayload{
		Name:      name,
		ServerID:  sf.serverID,
		Arguments: req.GetArguments(),
	}
	pre, err := e.plugins.Invoke(ctx, plugins.ToolPreInvoke, payload, hctx)
	if err != nil {
		return nil, err
	}
	if tp, ok := pre.(plugins.ToolPayload); ok {
		payload = tp
	}

	dres, err := e.dispatcher.Invoke(ctx, dispatch.Request{
		Tool:    tool,
		Args:    payload.Arguments,
		User:    hctx.User,
		Inbound: inboundHeaders(ctx),
	})
	if err != nil {
		return nil, err
	}

	payload.Result = dres.Payload
	post, err := e.plugins.Invoke(ctx, plugins.ToolPostInvoke, payload, hctx)
	if err != nil {
		// A post-hook violation withholds the upstream response.
		return nil, err
	}
	if tp, ok := post.(plugins.ToolPayload); ok {
		payload = tp
	}

	return toolResult(payload.Result, dres.Meta), nil
}

// toolResult wraps the upstream payload verbatim; dispatch metadata
// such as via_gateway_id rides in the result's _meta block.
func toolResult(payload any, meta map[string]any) *mcp.CallToolResult {
	res := &mcp.CallToolResult{StructuredContent: payload}
	if len(meta) > 0 {
		res.Result = mcp.Result{Meta: &mcp.Meta{AdditionalFields: meta}}
	}
	if text, err := json.Marshal(payload); err == nil {
		res.Content = []mcp.Content{mcp.NewTextContent(string(text))}
	}
	return res
}

// errorResult reports a failed invocation inside the tool result. The
// envelope keeps the taxonomy machine-readable: kind, the matching
// JSON-RPC code, a client-safe message, and the stable reason code when
// one was attached.
func errorResult(err error) *mcp.CallToolResult {
	kind := mcperr.KindOf(err)
	env := map[string]any{
		"kind":    kind.String(),
		"code":    kind.JSONRPCCode(),
		"message": publicMessage(err),
	}
	if rc := mcperr.ReasonCode(err); rc != "" {
		env["reason"] = rc
	}
	var ge *mcperr.Error
	if errors.As(err, &ge) && ge.RetryAfter > 0 {
		env["retry_after_ms"] = ge.RetryAfter.Milliseconds()
	}
	wrapped := map[string]any{"error": env}
	res := &mcp.CallToolResult{
		IsError:           true,
		StructuredContent: wrapped,
	}
	if text, merr := json.Marshal(wrapped); merr == nil {
		res.Content = []mcp.Content{mcp.NewTextContent(string(text))}
	}
	return res
}

// publicMessage is the client-facing message for err; internals are
// collapsed so upstream addresses and stack details never leak.
func publicMessage(err error) string {
	var ge *mcperr.Error
	if errors.As(err, &ge) {
		return ge.UserFacingError()
	}
	return "internal error"
}
