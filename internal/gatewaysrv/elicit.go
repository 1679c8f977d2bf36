package gatewaysrv

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
)

// ElicitationRelay returns the bridge the plugin manager uses to put a
// question to the end client over the live MCP session. It only works
// inside a request handler, where the session rides the context.
func (e *Engine) ElicitationRelay() plugins.ElicitationRelay {
	return func(ctx context.Context, _ *plugins.HookContext, req plugins.ElicitationRequest) (plugins.ElicitationResponse, error) {
		srv := mcpserver.ServerFromContext(ctx)
		if srv == nil || mcpserver.ClientSessionFromContext(ctx) == nil {
			return plugins.ElicitationResponse{}, mcperr.New(mcperr.KindInternal, "no client session to elicit from")
		}
		res, err := srv.RequestElicitation(ctx, mcp.ElicitationRequest{
			Params: mcp.ElicitationParams{
				Message:         req.Message,
				RequestedSchema: req.Schema,
			},
		})
		if err != nil {
			return plugins.ElicitationResponse{}, err
		}
		content, _ := res.Content.(map[string]any)
		out := plugins.ElicitationResponse{Content: content}
		switch res.Action {
		case mcp.ElicitationResponseActionAccept:
			out.Action = plugins.ElicitationAccept
		case mcp.ElicitationResponseActionDecline:
			out.Action = plugins.ElicitationDecline
		default:
			out.Action = plugins.ElicitationCancel
		}
		return out, nil
	}
}
