package gatewaysrv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/dispatch"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
	"github.com/giantswarm/mcp-gateway/internal/sessions"
	"github.com/giantswarm/mcp-gateway/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
)

var (
	adminID = &auth.Identity{Email: "root@example.com", PlatformAdmin: true}
	aliceID = &auth.Identity{Email: "alice@example.com", TeamIDs: []string{"team-1"}, OwnedTeamIDs: []string{"team-1"}}
	bobID   = &auth.Identity{Email: "bob@example.com", TeamIDs: []string{"team-1"}}
)

type testEnv struct {
	engine   *Engine
	catalog  *catalog.Service
	dispatch *dispatch.Dispatcher
	sessions *sessions.Registry
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Options{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	mem := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })

	cat := catalog.NewService(st, catalog.WithCache(mem))

	cfg := config.GatewayConfig{
		Name:           "gw",
		BasePath:       "/",
		NameSeparator:  "__",
		SessionTimeout: time.Minute,
		ToolTimeout:    5 * time.Second,
	}
	disp := dispatch.New(cfg, config.RateLimitConfig{})
	pm := plugins.NewManager(config.PluginsConfig{})
	reg := sessions.NewRegistry(time.Minute)
	t.Cleanup(reg.Close)

	e := New(cfg, cat, disp, pm, reg, opts...)
	t.Cleanup(e.Close)

	return &testEnv{engine: e, catalog: cat, dispatch: disp, sessions: reg}
}

func (env *testEnv) createTool(t *testing.T, actor catalog.Actor, name string, vis store.Visibility) *store.Tool {
	t.Helper()
	tool := &store.Tool{IntegrationType: store.IntegrationLocal}
	tool.Name = name
	tool.Visibility = vis
	if vis == store.VisibilityTeam {
		tool.TeamID = "team-1"
	}
	created, err := env.catalog.CreateTool(context.Background(), actor, tool)
	require.NoError(t, err)
	return created
}

func TestAudienceKey(t *testing.T) {
	tests := []struct {
		name string
		id   *auth.Identity
		want string
	}{
		{name: "anonymous", id: nil, want: "public"},
		{name: "platform admin", id: adminID, want: "admin"},
		{
			name: "user with teams sorted",
			id:   &auth.Identity{Email: "u@example.com", TeamIDs: []string{"t2", "t1"}},
			want: "u@example.com|t1,t2",
		},
		{
			name: "user without teams",
			id:   &auth.Identity{Email: "u@example.com"},
			want: "u@example.com|",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, audienceKey(tc.id))
		})
	}
}

func TestSurfaceVisibilityPerAudience(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createTool(t, actorFor(aliceID), "pub", store.VisibilityPublic)
	env.createTool(t, actorFor(aliceID), "mine", store.VisibilityPrivate)
	env.createTool(t, actorFor(aliceID), "shared", store.VisibilityTeam)

	public, err := env.engine.surfaceFor(ctx, "", nil)
	require.NoError(t, err)
	assert.True(t, public.hasTool("pub"))
	assert.False(t, public.hasTool("mine"))
	assert.False(t, public.hasTool("shared"))

	owner, err := env.engine.surfaceFor(ctx, "", aliceID)
	require.NoError(t, err)
	assert.True(t, owner.hasTool("pub"))
	assert.True(t, owner.hasTool("mine"))
	assert.True(t, owner.hasTool("shared"))

	teammate, err := env.engine.surfaceFor(ctx, "", bobID)
	require.NoError(t, err)
	assert.True(t, teammate.hasTool("pub"))
	assert.False(t, teammate.hasTool("mine"))
	assert.True(t, teammate.hasTool("shared"))

	admin, err := env.engine.surfaceFor(ctx, "", adminID)
	require.NoError(t, err)
	assert.True(t, admin.hasTool("mine"))
}

func TestSurfaceIsSharedPerAudience(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.surfaceFor(ctx, "", aliceID)
	require.NoError(t, err)
	second, err := env.engine.surfaceFor(ctx, "", aliceID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := env.engine.surfaceFor(ctx, "", bobID)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestScopedSurfaceFiltersToAssociations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	actor := actorFor(adminID)

	in := env.createTool(t, actor, "listed", store.VisibilityPublic)
	env.createTool(t, actor, "unlisted", store.VisibilityPublic)

	vs := &store.VirtualServer{AssociatedTools: []string{in.ID}}
	vs.Name = "bundle"
	vs.Visibility = store.VisibilityPublic
	created, err := env.catalog.CreateServer(ctx, actor, vs)
	require.NoError(t, err)

	sf, err := env.engine.surfaceFor(ctx, created.ID, adminID)
	require.NoError(t, err)
	assert.True(t, sf.hasTool("listed"))
	assert.False(t, sf.hasTool("unlisted"))
}

func TestScopedSurfaceUnknownServer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.surfaceFor(context.Background(), "no-such-server", adminID)
	require.Error(t, err)
}

func TestScopedSurfaceDisabledServerDrains(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	actor := actorFor(adminID)

	tool := env.createTool(t, actor, "echo", store.VisibilityPublic)
	vs := &store.VirtualServer{AssociatedTools: []string{tool.ID}}
	vs.Name = "bundle"
	vs.Visibility = store.VisibilityPublic
	created, err := env.catalog.CreateServer(ctx, actor, vs)
	require.NoError(t, err)

	sf, err := env.engine.surfaceFor(ctx, created.ID, adminID)
	require.NoError(t, err)
	assert.True(t, sf.hasTool("echo"))

	require.NoError(t, env.catalog.SetServerStatus(ctx, actor, created.ID, false))
	require.NoError(t, env.engine.syncSurface(ctx, sf, true))
	assert.False(t, sf.hasTool("echo"))
}

func TestCallToolLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createTool(t, actorFor(adminID), "echo", store.VisibilityPublic)
	env.dispatch.RegisterLocal("echo", func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"echoed": args["msg"]}, nil
	})

	sf, err := env.engine.surfaceFor(ctx, "", adminID)
	require.NoError(t, err)

	req := mcp.CallToolRequest{}
	req.Params.Name = "echo"
	req.Params.Arguments = map[string]any{"msg": "hi"}

	handler := env.engine.toolHandler(sf)
	res, err := handler(auth.WithIdentity(ctx, adminID), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsError)

	structured, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", structured["echoed"])
}

func TestCallToolUnknownReturnsErrorResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sf, err := env.engine.surfaceFor(ctx, "", adminID)
	require.NoError(t, err)

	req := mcp.CallToolRequest{}
	req.Params.Name = "missing"

	handler := env.engine.toolHandler(sf)
	res, err := handler(auth.WithIdentity(ctx, adminID), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)

	wrapped, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok)
	env2, ok := wrapped["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "method_not_found", env2["kind"])
	assert.Equal(t, -32601, env2["code"])
}

func TestCallToolOutsideAudienceIsHidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createTool(t, actorFor(aliceID), "mine", store.VisibilityPrivate)
	env.dispatch.RegisterLocal("mine", func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	})

	sf, err := env.engine.surfaceFor(ctx, "", bobID)
	require.NoError(t, err)

	req := mcp.CallToolRequest{}
	req.Params.Name = "mine"

	res, err := env.engine.toolHandler(sf)(auth.WithIdentity(ctx, bobID), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNotifyResourceUpdated(t *testing.T) {
	env := newTestEnv(t)

	got := make(chan map[string]any, 1)
	env.sessions.Put("sess-1", "", func(_ context.Context, method string, params map[string]any) error {
		if method == "notifications/resources/updated" {
			got <- params
		}
		return nil
	})
	sess := env.sessions.Get("sess-1")
	require.NotNil(t, sess)
	sess.Subscribe("doc://a")

	env.engine.NotifyResourceUpdated(context.Background(), "doc://a")

	select {
	case params := <-got:
		assert.Equal(t, "doc://a", params["uri"])
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}

	// Sessions not subscribed to the URI stay quiet.
	env.engine.NotifyResourceUpdated(context.Background(), "doc://other")
	select {
	case <-got:
		t.Fatal("unexpected notification for unrelated URI")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStdioServerPinsSurface(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	srv, err := env.engine.StdioServer(ctx)
	require.NoError(t, err)
	require.NotNil(t, srv)

	key := surfaceKey("", env.engine.local)
	env.engine.mu.RLock()
	sf := env.engine.surfaces[key]
	env.engine.mu.RUnlock()
	require.NotNil(t, sf)
	assert.True(t, sf.pinned())
	assert.True(t, sf.localTrust.Load())

	// Pinned surfaces survive eviction sweeps regardless of idle time.
	env.engine.evictIdle()
	env.engine.mu.RLock()
	still := env.engine.surfaces[key]
	env.engine.mu.RUnlock()
	assert.Same(t, sf, still)
}

func TestRequestKey(t *testing.T) {
	assert.Equal(t, "42", requestKey(float64(42)))
	assert.Equal(t, "42", requestKey(42))
	assert.Equal(t, "abc", requestKey("abc"))
	assert.Equal(t, "1.5", requestKey(1.5))
}
