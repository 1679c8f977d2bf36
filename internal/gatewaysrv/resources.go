package gatewaysrv

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// resourceHandler serves resources/read for every resource registered
// on the surface.
func (e *Engine) resourceHandler(sf *surface) mcpserver.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return e.readResource(ctx, sf, req)
	}
}

func (e *Engine) readResource(ctx context.Context, sf *surface, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	if !sf.hasResource(uri) {
		return nil, notFoundError("resource", uri)
	}

	identity := e.identityFrom(ctx, sf)
	row, err := e.resolveResource(ctx, sf, uri)
	if err != nil {
		return nil, err
	}

	hctx := e.hookContext(ctx, identity, uuid.NewString(), row.TeamID)
	payload := plugins.ResourcePayload{URI: uri, ServerID: sf.serverID}
	pre, err := e.plugins.Invoke(ctx, plugins.ResourcePreFetch, payload, hctx)
	if err != nil {
		return nil, err
	}
	if rp, ok := pre.(plugins.ResourcePayload); ok {
		payload = rp
	}
	if payload.URI != "" && payload.URI != uri {
		// A pre-hook rewrote the target. The replacement goes through
		// the same resolution so visibility still holds.
		row, err = e.resolveResource(ctx, sf, payload.URI)
		if err != nil {
			return nil, err
		}
	}

	contents, err := e.resourceContents(ctx, row)
	if err != nil {
		return nil, err
	}

	payload.Contents = contents
	post, err := e.plugins.Invoke(ctx, plugins.ResourcePostFetch, payload, hctx)
	if err != nil {
		return nil, err
	}
	if rp, ok := post.(plugins.ResourcePayload); ok {
		if mutated, ok := rp.Contents.([]mcp.ResourceContents); ok {
			contents = mutated
		}
	}
	return contents, nil
}

func (e *Engine) resolveResource(ctx context.Context, sf *surface, uri string) (*store.Resource, error) {
	identity := e.identityFrom(ctx, sf)
	row, err := e.catalog.ResolveResource(ctx, actorFor(identity), uri)
	if err != nil {
		if mcperr.IsKind(err, mcperr.KindNotFound) {
			return nil, notFoundError("resource", uri)
		}
		return nil, err
	}
	if !row.Enabled {
		return nil, notFoundError("resource", uri)
	}
	return row, nil
}

// resourceContents materializes the row. Local rows serve their stored
// text or blob; federated rows read through the origin gateway.
func (e *Engine) resourceContents(ctx context.Context, row *store.Resource) ([]mcp.ResourceContents, error) {
	if row.Federated() {
		if e.peers == nil {
			return nil, mcperr.Newf(mcperr.KindUpstream, "no federation client configured for resource %s", row.URI)
		}
		res, err := e.peers.ReadPeerResource(ctx, *row.GatewayID, row.URI)
		if err != nil {
			return nil, err
		}
		return res.Contents, nil
	}
	if len(row.Blob) > 0 {
		return []mcp.ResourceContents{mcp.BlobResourceContents{
			URI:      row.URI,
			MIMEType: row.MimeType,
			Blob:     base64.StdEncoding.EncodeToString(row.Blob),
		}}, nil
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      row.URI,
		MIMEType: row.MimeType,
		Text:     row.Text,
	}}, nil
}
