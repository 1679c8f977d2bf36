package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

var (
	admin = Actor{Email: "root@example.com", PlatformAdmin: true}
	alice = Actor{Email: "alice@example.com", TeamIDs: []string{"team-1"}, OwnedTeamIDs: []string{"team-1"}}
	bob   = Actor{Email: "bob@example.com", TeamIDs: []string{"team-1"}}
	carol = Actor{Email: "carol@example.com"}
)

// stepClock hands out strictly increasing timestamps so list ordering is
// deterministic.
func stepClock() func() time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.SQLStore) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Options{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	mem := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })

	vault, err := secrets.NewAESVault(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	base := []Option{WithCache(mem), WithVault(vault), WithClock(stepClock())}
	return NewService(st, append(base, opts...)...), st
}

type recordingHooks struct {
	mu     sync.Mutex
	preErr error
	pres   []AdminEvent
	posts  []AdminEvent
}

func (h *recordingHooks) Pre(_ context.Context, ev AdminEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pres = append(h.pres, ev)
	return h.preErr
}

func (h *recordingHooks) Post(_ context.Context, ev AdminEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posts = append(h.posts, ev)
}

func localTool(name string) *store.Tool {
	tool := &store.Tool{IntegrationType: store.IntegrationLocal}
	tool.Name = name
	return tool
}

func publicTool(name string) *store.Tool {
	tool := localTool(name)
	tool.Visibility = store.VisibilityPublic
	return tool
}

func toolNames(tools []store.Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return names
}

func TestCreateToolDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, localTool("echo"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice@example.com", created.OwnerEmail)
	assert.Equal(t, "alice@example.com", created.CreatedBy)
	assert.Equal(t, store.VisibilityPrivate, created.Visibility)
	assert.Equal(t, store.CreatedViaAPI, created.CreatedVia)
	assert.True(t, created.Enabled)
	assert.True(t, created.Reachable)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, created.UpdatedAt.Equal(created.CreatedAt))
}

func TestCreateToolValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		tool *store.Tool
	}{
		{"empty name", localTool("")},
		{"bad character", localTool("bad name")},
		{"separator reserved", localTool("peer__echo")},
		{"missing integration", func() *store.Tool {
			tool := localTool("echo")
			tool.IntegrationType = ""
			return tool
		}()},
		{"rest without base url", func() *store.Tool {
			tool := localTool("fetch")
			tool.IntegrationType = store.IntegrationREST
			tool.RequestType = store.RequestGET
			return tool
		}()},
		{"team visibility without team", func() *store.Tool {
			tool := localTool("echo")
			tool.Visibility = store.VisibilityTeam
			return tool
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTool(ctx, alice, tc.tool)
			assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest), "got %v", err)
		})
	}
}

func TestCreateToolTeamRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	outsider := localTool("echo")
	outsider.TeamID = "team-1"
	_, err := svc.CreateTool(ctx, carol, outsider)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))

	member := localTool("echo")
	member.TeamID = "team-1"
	member.Visibility = store.VisibilityTeam
	_, err = svc.CreateTool(ctx, alice, member)
	require.NoError(t, err)

	// Platform admins register into any team.
	byAdmin := localTool("echo-admin")
	byAdmin.TeamID = "team-1"
	byAdmin.Visibility = store.VisibilityTeam
	_, err = svc.CreateTool(ctx, admin, byAdmin)
	require.NoError(t, err)
}

func TestCreateToolFederatedReserved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gw := "gw-1"
	tool := publicTool("remote")
	tool.GatewayID = &gw
	tool.IntegrationType = store.IntegrationFederated

	_, err := svc.CreateTool(ctx, alice, tool)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))

	tool.OwnerEmail = "root@example.com"
	_, err = svc.CreateTool(ctx, System(), tool)
	require.NoError(t, err)
}

func TestToolVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	private, err := svc.CreateTool(ctx, alice, localTool("private-echo"))
	require.NoError(t, err)

	team := localTool("team-echo")
	team.TeamID = "team-1"
	team.Visibility = store.VisibilityTeam
	teamTool, err := svc.CreateTool(ctx, alice, team)
	require.NoError(t, err)

	public, err := svc.CreateTool(ctx, alice, publicTool("public-echo"))
	require.NoError(t, err)

	_, err = svc.GetTool(ctx, carol, private.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
	_, err = svc.GetTool(ctx, bob, private.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
	_, err = svc.GetTool(ctx, alice, private.ID)
	assert.NoError(t, err)

	_, err = svc.GetTool(ctx, bob, teamTool.ID)
	assert.NoError(t, err)
	_, err = svc.GetTool(ctx, carol, teamTool.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))

	_, err = svc.GetTool(ctx, carol, public.ID)
	assert.NoError(t, err)

	listed, err := svc.ListTools(ctx, carol, store.Filter{}, PageRequest{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"public-echo"}, toolNames(listed.Data))
}

func TestGetToolCached(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, publicTool("cached"))
	require.NoError(t, err)

	// First read fills the cache.
	_, err = svc.GetTool(ctx, alice, created.ID)
	require.NoError(t, err)

	// A direct store delete leaves the cached row behind; reads keep
	// succeeding until invalidation or TTL.
	require.NoError(t, st.DeleteTool(ctx, created.ID))
	got, err := svc.GetTool(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Name)

	// The predicate still applies on cache hits.
	private, err := svc.CreateTool(ctx, alice, localTool("cached-private"))
	require.NoError(t, err)
	_, err = svc.GetTool(ctx, alice, private.ID)
	require.NoError(t, err)
	_, err = svc.GetTool(ctx, carol, private.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
}

func TestUpdateTool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, localTool("original"))
	require.NoError(t, err)

	upd := *created
	upd.Name = "renamed"
	upd.Description = "patched"
	upd.CreatedVia = store.CreatedViaUI
	upd.CreatedAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)

	out, err := svc.UpdateTool(ctx, alice, created.ID, &upd)
	require.NoError(t, err)
	assert.Equal(t, "renamed", out.Name)
	assert.Equal(t, "patched", out.Description)
	assert.Equal(t, created.ID, out.ID)
	assert.Equal(t, store.CreatedViaAPI, out.CreatedVia)
	assert.True(t, out.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, out.UpdatedAt.After(out.CreatedAt))
}

func TestUpdateToolOwnershipTransfer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, localTool("owned"))
	require.NoError(t, err)

	upd := *created
	upd.OwnerEmail = "mallory@example.com"
	_, err = svc.UpdateTool(ctx, alice, created.ID, &upd)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))

	_, err = svc.UpdateTool(ctx, admin, created.ID, &upd)
	require.NoError(t, err)
	got, err := svc.GetTool(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "mallory@example.com", got.OwnerEmail)
}

func TestUpdateToolPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	team := localTool("team-tool")
	team.TeamID = "team-1"
	team.Visibility = store.VisibilityTeam
	created, err := svc.CreateTool(ctx, bob, team)
	require.NoError(t, err)

	// Invisible to outsiders: the update reports not found, not
	// forbidden.
	upd := *created
	upd.Description = "patched"
	_, err = svc.UpdateTool(ctx, carol, created.ID, &upd)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))

	// Team owners may mutate entities scoped to their team.
	_, err = svc.UpdateTool(ctx, alice, created.ID, &upd)
	require.NoError(t, err)

	// Plain members may see but not mutate what they do not own.
	other := localTool("team-tool-2")
	other.TeamID = "team-1"
	other.Visibility = store.VisibilityTeam
	mine, err := svc.CreateTool(ctx, alice, other)
	require.NoError(t, err)
	upd2 := *mine
	upd2.Description = "nope"
	_, err = svc.UpdateTool(ctx, bob, mine.ID, &upd2)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))
}

func TestUpdateToolStatusPreserved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, localTool("stays-enabled"))
	require.NoError(t, err)

	upd := *created
	upd.Enabled = false
	upd.Reachable = false
	out, err := svc.UpdateTool(ctx, alice, created.ID, &upd)
	require.NoError(t, err)
	assert.True(t, out.Enabled)
	assert.True(t, out.Reachable)
}

func TestSetToolStatusAndHooks(t *testing.T) {
	hooks := &recordingHooks{}
	svc, _ := newTestService(t, WithHooks(hooks))
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, publicTool("switchable"))
	require.NoError(t, err)
	require.NoError(t, svc.SetToolStatus(ctx, alice, created.ID, false))

	got, err := svc.GetTool(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.Len(t, hooks.pres, 2)
	require.Len(t, hooks.posts, 2)
	assert.Equal(t, ActionRegister, hooks.pres[0].Action)
	assert.Equal(t, ActionStatusChange, hooks.pres[1].Action)
	require.NotNil(t, hooks.pres[1].Enabled)
	assert.False(t, *hooks.pres[1].Enabled)
	assert.Equal(t, store.KindTool, hooks.pres[1].Kind)
	assert.Equal(t, created.ID, hooks.pres[1].ID)
}

func TestPreHookVeto(t *testing.T) {
	hooks := &recordingHooks{
		preErr: mcperr.New(mcperr.KindPolicyDenied, "registration needs approval").
			WithCode("PRODUCTION_REGISTRATION_DECLINED"),
	}
	svc, st := newTestService(t, WithHooks(hooks))
	ctx := context.Background()

	_, err := svc.CreateTool(ctx, alice, publicTool("prod-thing"))
	assert.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
	assert.Equal(t, "PRODUCTION_REGISTRATION_DECLINED", mcperr.ReasonCode(err))

	// Nothing was persisted and no post hook ran.
	_, total, err := st.ListTools(ctx, store.Unrestricted(), store.Filter{}, store.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, hooks.posts)
}

func TestDeleteTool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTool(ctx, alice, localTool("doomed"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTool(ctx, alice, created.ID))
	_, err = svc.GetTool(ctx, alice, created.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
	err = svc.DeleteTool(ctx, alice, created.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
}

func TestFederatedToolReadOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gw := "gw-1"
	tool := publicTool("remote-search")
	tool.GatewayID = &gw
	tool.IntegrationType = store.IntegrationFederated
	tool.OwnerEmail = "alice@example.com"
	created, err := svc.CreateTool(ctx, System(), tool)
	require.NoError(t, err)

	// Even the owner cannot edit federated rows; sync authority stays
	// with the origin gateway.
	upd := *created
	upd.Description = "patched"
	_, err = svc.UpdateTool(ctx, alice, created.ID, &upd)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))
	err = svc.DeleteTool(ctx, alice, created.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))
	err = svc.SetToolStatus(ctx, alice, created.ID, false)
	assert.True(t, mcperr.IsKind(err, mcperr.KindForbidden))

	require.NoError(t, svc.SetToolStatus(ctx, admin, created.ID, false))
}

func TestListToolsOffsetEnvelope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := svc.CreateTool(ctx, admin, publicTool(fmt.Sprintf("tool-%d", i)))
		require.NoError(t, err)
	}

	page1, err := svc.ListTools(ctx, admin, store.Filter{}, PageRequest{Size: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool-5", "tool-4"}, toolNames(page1.Data))
	assert.Equal(t, PageInfo{Page: 1, Size: 2, Total: 5, TotalPages: 3}, page1.Pagination)
	assert.Equal(t, "?page=1&size=2", page1.Links.First)
	assert.Equal(t, "?page=2&size=2", page1.Links.Next)
	assert.Equal(t, "?page=3&size=2", page1.Links.Last)
	assert.Empty(t, page1.Links.Prev)

	page3, err := svc.ListTools(ctx, admin, store.Filter{}, PageRequest{Page: 3, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool-1"}, toolNames(page3.Data))
	assert.Equal(t, "?page=2&size=2", page3.Links.Prev)
	assert.Empty(t, page3.Links.Next)
}

func TestListToolsCursor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := svc.CreateTool(ctx, admin, publicTool(fmt.Sprintf("tool-%d", i)))
		require.NoError(t, err)
	}

	follow := func(link string) PageRequest {
		t.Helper()
		values, err := url.ParseQuery(strings.TrimPrefix(link, "?"))
		require.NoError(t, err)
		return PageRequest{Size: 2, Cursor: values.Get("cursor")}
	}

	first, err := svc.ListTools(ctx, admin, store.Filter{}, PageRequest{Size: 2, Strategy: StrategyCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool-5", "tool-4"}, toolNames(first.Data))
	assert.Zero(t, first.Pagination.Page)
	assert.Equal(t, 5, first.Pagination.Total)
	require.NotEmpty(t, first.Links.Next)
	assert.Empty(t, first.Links.Prev)
	assert.Empty(t, first.Links.Last)

	second, err := svc.ListTools(ctx, admin, store.Filter{}, follow(first.Links.Next))
	require.NoError(t, err)
	assert.Equal(t, []string{"tool-3", "tool-2"}, toolNames(second.Data))
	require.NotEmpty(t, second.Links.Next)

	third, err := svc.ListTools(ctx, admin, store.Filter{}, follow(second.Links.Next))
	require.NoError(t, err)
	assert.Equal(t, []string{"tool-1"}, toolNames(third.Data))
	assert.Empty(t, third.Links.Next)
}

func TestOffsetDepthRejected(t *testing.T) {
	svc, _ := newTestService(t, WithPageDefaults(PageDefaults{Size: 2, MaxSize: 10, CursorThreshold: 4}))
	ctx := context.Background()

	_, err := svc.ListTools(ctx, admin, store.Filter{}, PageRequest{Page: 2, Size: 2})
	require.NoError(t, err)

	_, err = svc.ListTools(ctx, admin, store.Filter{}, PageRequest{Page: 3, Size: 2})
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
	assert.Equal(t, "CURSOR_REQUIRED", mcperr.ReasonCode(err))
}

func TestResolveTool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gateway := &store.Gateway{URL: "http://peer.example.com"}
	gateway.Name = "corp"
	gateway.Visibility = store.VisibilityPublic
	gw, err := svc.CreateGateway(ctx, admin, gateway)
	require.NoError(t, err)

	federated := publicTool("search")
	federated.GatewayID = &gw.ID
	federated.IntegrationType = store.IntegrationFederated
	federated.OwnerEmail = "root@example.com"
	_, err = svc.CreateTool(ctx, System(), federated)
	require.NoError(t, err)

	local, err := svc.CreateTool(ctx, admin, publicTool("search"))
	require.NoError(t, err)

	got, err := svc.ResolveTool(ctx, alice, "search")
	require.NoError(t, err)
	assert.Equal(t, local.ID, got.ID)
	assert.Nil(t, got.GatewayID)

	qualified, err := svc.ResolveTool(ctx, alice, svc.QualifiedName("corp", "search"))
	require.NoError(t, err)
	require.NotNil(t, qualified.GatewayID)
	assert.Equal(t, gw.ID, *qualified.GatewayID)

	_, err = svc.ResolveTool(ctx, alice, "ghost__search")
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
	_, err = svc.ResolveTool(ctx, alice, "absent")
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))
}

func TestImportTools(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	batch := []*store.Tool{
		publicTool("imported"),
		publicTool("bad name"),
		publicTool("imported"),
	}
	report, err := svc.ImportTools(ctx, alice, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "bad name", report.Failed[0].Name)
	assert.Equal(t, "imported", report.Failed[1].Name)
	assert.NotEmpty(t, report.Failed[1].Reason)

	got, err := svc.ResolveTool(ctx, alice, "imported")
	require.NoError(t, err)
	assert.Equal(t, store.CreatedViaBulkImport, got.CreatedVia)

	_, err = svc.ImportTools(ctx, alice, nil)
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
}

func TestServerAssociations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tool, err := svc.CreateTool(ctx, alice, localTool("assoc-target"))
	require.NoError(t, err)

	// Carol cannot bundle what she cannot see.
	server := &store.VirtualServer{AssociatedTools: []string{tool.ID}}
	server.Name = "bundle"
	_, err = svc.CreateServer(ctx, carol, server)
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))

	mine := &store.VirtualServer{AssociatedTools: []string{tool.ID}}
	mine.Name = "bundle"
	created, err := svc.CreateServer(ctx, alice, mine)
	require.NoError(t, err)

	upd := *created
	upd.AssociatedTools = []string{"no-such-id"}
	_, err = svc.UpdateServer(ctx, alice, created.ID, &upd)
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
}

func TestDeleteGatewayDependents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gateway := &store.Gateway{URL: "http://peer.example.com"}
	gateway.Name = "corp"
	gateway.Visibility = store.VisibilityPublic
	gw, err := svc.CreateGateway(ctx, admin, gateway)
	require.NoError(t, err)

	mirrored := publicTool("remote-search")
	mirrored.GatewayID = &gw.ID
	mirrored.IntegrationType = store.IntegrationFederated
	mirrored.OwnerEmail = "root@example.com"
	_, err = svc.CreateTool(ctx, System(), mirrored)
	require.NoError(t, err)

	// An unconfirmed delete leaves the registration and its mirrored
	// entities in place.
	err = svc.DeleteGateway(ctx, admin, gw.ID, false)
	assert.True(t, mcperr.IsKind(err, mcperr.KindConflict))
	assert.Equal(t, "GATEWAY_HAS_DEPENDENTS", mcperr.ReasonCode(err))
	_, err = svc.GetGateway(ctx, admin, gw.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGateway(ctx, admin, gw.ID, true))
	_, err = svc.GetGateway(ctx, admin, gw.ID)
	assert.True(t, mcperr.IsKind(err, mcperr.KindNotFound))

	// A gateway with nothing mirrored needs no confirmation.
	idle := &store.Gateway{URL: "http://idle.example.com"}
	idle.Name = "idle"
	idle.Visibility = store.VisibilityPublic
	created, err := svc.CreateGateway(ctx, admin, idle)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteGateway(ctx, admin, created.ID, false))
}

func TestGatewayCredentialSealing(t *testing.T) {
	hooks := &recordingHooks{}
	svc, st := newTestService(t, WithHooks(hooks))
	ctx := context.Background()

	gateway := &store.Gateway{URL: "http://peer.example.com", AuthType: store.AuthTypeBearer, AuthValue: "tok-123"}
	gateway.Name = "peer"
	created, err := svc.CreateGateway(ctx, admin, gateway)
	require.NoError(t, err)
	assert.NotEqual(t, "tok-123", created.AuthValue)

	row, err := st.GetGateway(ctx, store.Unrestricted(), created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "tok-123", row.AuthValue)

	plain, err := svc.GatewayCredential(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", plain)

	// An empty credential on update keeps the stored one.
	upd := *row
	upd.AuthValue = ""
	upd.Description = "still the same secret"
	_, err = svc.UpdateGateway(ctx, admin, created.ID, &upd)
	require.NoError(t, err)
	plain, err = svc.GatewayCredential(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", plain)

	// A new credential is re-encrypted and reported as changed.
	upd2 := *row
	upd2.AuthValue = "tok-456"
	upd2.URL = "http://peer2.example.com"
	_, err = svc.UpdateGateway(ctx, admin, created.ID, &upd2)
	require.NoError(t, err)
	plain, err = svc.GatewayCredential(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-456", plain)

	last := hooks.pres[len(hooks.pres)-1]
	assert.Equal(t, ActionUpdate, last.Action)
	assert.ElementsMatch(t, []string{"url", "auth_value"}, last.Changed)
}

func TestGatewayCredentialWithoutKey(t *testing.T) {
	svc, _ := newTestService(t, WithVault(secrets.Disabled()))
	ctx := context.Background()

	gateway := &store.Gateway{URL: "http://peer.example.com", AuthValue: "tok-123"}
	gateway.Name = "peer"
	_, err := svc.CreateGateway(ctx, admin, gateway)
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
}

func TestAgentSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	agent := &store.A2AAgent{Endpoint: "https://agents.example.com/assistant"}
	agent.Name = "My.Agent"
	created, err := svc.CreateAgent(ctx, alice, agent)
	require.NoError(t, err)
	assert.Equal(t, "my-agent", created.Slug)

	got, err := svc.ResolveAgent(ctx, alice, "my-agent")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	dup := &store.A2AAgent{Endpoint: "https://agents.example.com/other"}
	dup.Name = "my_agent"
	dup.Slug = "my-agent"
	_, err = svc.CreateAgent(ctx, alice, dup)
	assert.True(t, mcperr.IsKind(err, mcperr.KindConflict))
}

func TestSetGatewayReachableCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gateway := &store.Gateway{URL: "http://peer.example.com"}
	gateway.Name = "peer"
	gateway.Visibility = store.VisibilityPublic
	gw, err := svc.CreateGateway(ctx, admin, gateway)
	require.NoError(t, err)

	tool := publicTool("remote-echo")
	tool.GatewayID = &gw.ID
	tool.IntegrationType = store.IntegrationFederated
	tool.OwnerEmail = "root@example.com"
	created, err := svc.CreateTool(ctx, System(), tool)
	require.NoError(t, err)

	before := svc.Generation(ctx, store.KindTool)
	require.NoError(t, svc.SetGatewayReachable(ctx, gw.ID, false))

	gotGW, err := svc.GetGateway(ctx, admin, gw.ID)
	require.NoError(t, err)
	assert.False(t, gotGW.Reachable)

	gotTool, err := svc.GetTool(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.False(t, gotTool.Reachable)

	assert.Greater(t, svc.Generation(ctx, store.KindTool), before)
}

func TestGenerationLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Zero(t, svc.Generation(ctx, store.KindTool))

	created, err := svc.CreateTool(ctx, alice, localTool("gen"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, svc.Generation(ctx, store.KindTool))

	upd := *created
	upd.Description = "patched"
	_, err = svc.UpdateTool(ctx, alice, created.ID, &upd)
	require.NoError(t, err)
	assert.EqualValues(t, 2, svc.Generation(ctx, store.KindTool))

	require.NoError(t, svc.DeleteTool(ctx, alice, created.ID))
	assert.EqualValues(t, 3, svc.Generation(ctx, store.KindTool))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Agent":      "my-agent",
		"--Weird name!": "weird-name",
		"ALLCAPS":       "allcaps",
		"a  b":          "a-b",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestSplitQualifiedName(t *testing.T) {
	svc := NewService(nil)

	gw, tool, ok := svc.SplitQualifiedName("corp__search")
	assert.True(t, ok)
	assert.Equal(t, "corp", gw)
	assert.Equal(t, "search", tool)

	_, _, ok = svc.SplitQualifiedName("plain")
	assert.False(t, ok)
	_, _, ok = svc.SplitQualifiedName("__lead")
	assert.False(t, ok)
	_, _, ok = svc.SplitQualifiedName("trail__")
	assert.False(t, ok)

	assert.Equal(t, "corp__search", svc.QualifiedName("corp", "search"))
}
