package federation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// sessionTTL bounds how long a peer session is reused before the next
// access re-dials. The periodic re-handshake refreshes the peer's
// announcement and capabilities.
const sessionTTL = 10 * time.Minute

// peerSession is the slice of the MCP client surface the manager uses.
// *client.Client satisfies it; tests substitute scripted sessions.
type peerSession interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	Ping(ctx context.Context) error
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Close() error
}

var _ peerSession = (*client.Client)(nil)

// dialer constructs an unstarted-handshake session for a peer gateway.
type dialer func(gw *store.Gateway, headers map[string]string) (peerSession, error)

// dialPeer builds the transport matching the gateway registration and
// starts it. The initialize handshake is the caller's job.
func dialPeer(gw *store.Gateway, headers map[string]string) (peerSession, error) {
	var (
		cli *client.Client
		err error
	)
	switch gw.Transport {
	case store.TransportSSE:
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHeaders(headers))
		}
		cli, err = client.NewSSEMCPClient(gw.URL, opts...)
	case store.TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		cli, err = client.NewStreamableHttpClient(gw.URL, opts...)
	default:
		return nil, mcperr.Newf(mcperr.KindInvalidRequest, "unsupported gateway transport %q", gw.Transport)
	}
	if err != nil {
		return nil, err
	}
	// The transport stream must outlive the dial deadline; Close tears
	// it down.
	if err := cli.Start(context.Background()); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

// authHeaders converts a gateway's decrypted credential into the HTTP
// headers attached to every request of the peer session.
func authHeaders(authType store.AuthType, credential string) (map[string]string, error) {
	if credential == "" {
		return nil, nil
	}
	switch authType {
	case store.AuthTypeBearer, store.AuthTypeOAuth:
		return map[string]string{"Authorization": "Bearer " + credential}, nil
	case store.AuthTypeBasic:
		encoded := base64.StdEncoding.EncodeToString([]byte(credential))
		return map[string]string{"Authorization": "Basic " + encoded}, nil
	case store.AuthTypeHeaders:
		var headers map[string]string
		if err := json.Unmarshal([]byte(credential), &headers); err != nil {
			return nil, mcperr.Wrap(mcperr.KindInternal, "stored gateway headers are not a JSON object", err)
		}
		return headers, nil
	case "":
		return nil, nil
	default:
		return nil, mcperr.Newf(mcperr.KindInternal, "unknown gateway auth type %q", authType)
	}
}

// clientCache holds one live session per peer gateway. Entries expire
// after a TTL so capabilities are re-captured on a fresh handshake;
// singleflight collapses concurrent dials to the same peer.
type clientCache struct {
	ttl  time.Duration
	now  func() time.Time
	load func(ctx context.Context, gw *store.Gateway) (peerSession, error)

	flight  singleflight.Group
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	session peerSession
	expiry  time.Time
}

func newClientCache(ttl time.Duration, now func() time.Time, load func(ctx context.Context, gw *store.Gateway) (peerSession, error)) *clientCache {
	return &clientCache{
		ttl:     ttl,
		now:     now,
		load:    load,
		entries: make(map[string]*cacheEntry),
	}
}

// get returns the cached session for the gateway, loading one if none is
// live. Concurrent callers share a single load.
func (c *clientCache) get(ctx context.Context, gw *store.Gateway) (peerSession, error) {
	if sess, ok := c.lookup(gw.ID); ok {
		return sess, nil
	}
	v, err, _ := c.flight.Do(gw.ID, func() (any, error) {
		// Re-check: a concurrent flight may have populated the entry
		// between the miss and this call.
		if sess, ok := c.lookup(gw.ID); ok {
			return sess, nil
		}
		sess, err := c.load(ctx, gw)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		stale := c.entries[gw.ID]
		c.entries[gw.ID] = &cacheEntry{session: sess, expiry: c.now().Add(c.ttl)}
		c.mu.Unlock()
		if stale != nil {
			_ = stale.session.Close()
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(peerSession), nil
}

func (c *clientCache) lookup(id string) (peerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || c.now().After(e.expiry) {
		return nil, false
	}
	return e.session, true
}

// drop closes and removes the cached session, forcing the next access to
// re-dial and re-handshake.
func (c *clientCache) drop(id string) {
	c.mu.Lock()
	e, ok := c.entries[id]
	delete(c.entries, id)
	c.mu.Unlock()
	if ok {
		_ = e.session.Close()
	}
}

func (c *clientCache) closeAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
	for _, e := range entries {
		_ = e.session.Close()
	}
}
