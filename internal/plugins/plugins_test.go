package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

func testManager(mutate func(*config.PluginsConfig), opts ...ManagerOption) *Manager {
	cfg := config.PluginsConfig{
		Enabled:            true,
		Timeout:            5 * time.Second,
		ExternalTimeout:    5 * time.Second,
		ElicitationTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewManager(cfg, opts...)
}

type callLog struct {
	mu    sync.Mutex
	names []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// record returns a plugin that logs its name and answers res at the
// given hook.
func record(log *callLog, name string, priority int, mode Mode, res Result, hook Hook) Plugin {
	return Func(Spec{Name: name, Priority: priority, Mode: mode}, map[Hook]Handler{
		hook: func(context.Context, any, *HookContext) (Result, error) {
			log.add(name)
			return res, nil
		},
	})
}

func TestInvokeOrdersByPriority(t *testing.T) {
	m := testManager(nil)
	log := &callLog{}
	require.NoError(t, m.Register(record(log, "second", 20, ModeEnforce, Ok(), ToolPreInvoke)))
	require.NoError(t, m.Register(record(log, "first", 10, ModeEnforce, Ok(), ToolPreInvoke)))
	require.NoError(t, m.Register(record(log, "third", 20, ModeEnforce, Ok(), ToolPreInvoke)))

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, NewHookContext("r1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, log.snapshot())
	assert.Equal(t, []string{"first", "second", "third"}, m.Plugins())
}

func TestRegisterValidation(t *testing.T) {
	m := testManager(nil)
	table := map[Hook]Handler{ToolPreInvoke: func(context.Context, any, *HookContext) (Result, error) { return Ok(), nil }}

	err := m.Register(Func(Spec{Name: ""}, table))
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
	err = m.Register(Func(Spec{Name: "no-hooks"}, nil))
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
	err = m.Register(Func(Spec{Name: "bad-mode", Mode: "strict"}, table))
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))

	require.NoError(t, m.Register(Func(Spec{Name: "once"}, table)))
	err = m.Register(Func(Spec{Name: "once"}, table))
	assert.True(t, mcperr.IsKind(err, mcperr.KindConflict))
}

func TestDisabledManagerPassesThrough(t *testing.T) {
	log := &callLog{}
	m := testManager(func(cfg *config.PluginsConfig) { cfg.Enabled = false })
	require.NoError(t, m.Register(record(log, "p", 1, ModeEnforce, Deny("X", "x", ""), ToolPreInvoke)))

	payload := ToolPayload{Name: "echo"}
	out, err := m.Invoke(context.Background(), ToolPreInvoke, payload, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Empty(t, log.snapshot())

	var nilManager *Manager
	out, err = nilManager.Invoke(context.Background(), ToolPreInvoke, payload, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestViolationEnforceShortCircuits(t *testing.T) {
	m := testManager(nil)
	log := &callLog{}
	require.NoError(t, m.Register(record(log, "guard", 10, ModeEnforce,
		Deny("PII_DETECTED", "payload contains PII", "ssn in arguments"), ToolPreInvoke)))
	require.NoError(t, m.Register(record(log, "after", 20, ModeEnforce, Ok(), ToolPreInvoke)))

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, NewHookContext("r1"))
	require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
	assert.Equal(t, "PII_DETECTED", mcperr.ReasonCode(err))
	assert.Equal(t, []string{"guard"}, log.snapshot())
}

func TestViolationPermissiveContinues(t *testing.T) {
	m := testManager(nil)
	log := &callLog{}
	require.NoError(t, m.Register(record(log, "guard", 10, ModePermissive,
		Deny("PII_DETECTED", "payload contains PII", ""), ToolPreInvoke)))
	require.NoError(t, m.Register(record(log, "after", 20, ModeEnforce, Ok(), ToolPreInvoke)))

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, NewHookContext("r1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"guard", "after"}, log.snapshot())
}

func failing(log *callLog, name string, priority int, mode Mode, hook Hook) Plugin {
	return Func(Spec{Name: name, Priority: priority, Mode: mode}, map[Hook]Handler{
		hook: func(context.Context, any, *HookContext) (Result, error) {
			log.add(name)
			return Result{}, fmt.Errorf("backend exploded")
		},
	})
}

func TestPluginErrorHandling(t *testing.T) {
	t.Run("enforce fails closed", func(t *testing.T) {
		m := testManager(nil)
		log := &callLog{}
		require.NoError(t, m.Register(failing(log, "guard", 10, ModeEnforce, ToolPreInvoke)))

		_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, nil)
		assert.True(t, mcperr.IsKind(err, mcperr.KindPluginError))
	})

	t.Run("enforce_ignore_error continues but violations block", func(t *testing.T) {
		m := testManager(nil)
		log := &callLog{}
		require.NoError(t, m.Register(failing(log, "flaky", 10, ModeEnforceIgnoreError, ToolPreInvoke)))
		require.NoError(t, m.Register(record(log, "guard", 20, ModeEnforceIgnoreError,
			Deny("BLOCKED", "declared violation", ""), ToolPreInvoke)))

		_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, nil)
		require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
		assert.Equal(t, []string{"flaky", "guard"}, log.snapshot())
	})

	t.Run("fail_on_error overrides permissive", func(t *testing.T) {
		m := testManager(func(cfg *config.PluginsConfig) { cfg.FailOnError = true })
		log := &callLog{}
		require.NoError(t, m.Register(failing(log, "flaky", 10, ModePermissive, ToolPreInvoke)))

		_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, nil)
		assert.True(t, mcperr.IsKind(err, mcperr.KindPluginError))
	})

	t.Run("panic is recovered", func(t *testing.T) {
		m := testManager(nil)
		log := &callLog{}
		require.NoError(t, m.Register(Func(Spec{Name: "boom", Priority: 10, Mode: ModePermissive}, map[Hook]Handler{
			ToolPreInvoke: func(context.Context, any, *HookContext) (Result, error) {
				panic("unexpected state")
			},
		})))
		require.NoError(t, m.Register(record(log, "after", 20, ModeEnforce, Ok(), ToolPreInvoke)))

		_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"after"}, log.snapshot())
	})
}

func TestHookObserver(t *testing.T) {
	type observed struct {
		plugin  string
		hook    Hook
		outcome string
	}
	var got []observed
	m := testManager(nil, WithHookObserver(
		func(plugin string, hook Hook, outcome string, elapsed time.Duration) {
			assert.GreaterOrEqual(t, elapsed, time.Duration(0))
			got = append(got, observed{plugin, hook, outcome})
		}))

	log := &callLog{}
	require.NoError(t, m.Register(record(log, "pass", 10, ModeEnforce, Ok(), ToolPreInvoke)))
	require.NoError(t, m.Register(record(log, "rewrite", 20, ModeEnforce,
		Mutate(ToolPayload{Name: "echo"}), ToolPreInvoke)))
	require.NoError(t, m.Register(record(log, "guard", 30, ModePermissive,
		Deny("BLOCKED", "declared violation", ""), ToolPreInvoke)))
	require.NoError(t, m.Register(failing(log, "flaky", 40, ModePermissive, ToolPreInvoke)))

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, NewHookContext("r1"))
	require.NoError(t, err)
	assert.Equal(t, []observed{
		{"pass", ToolPreInvoke, "allowed"},
		{"rewrite", ToolPreInvoke, "modified"},
		{"guard", ToolPreInvoke, "blocked"},
		{"flaky", ToolPreInvoke, "failed"},
	}, got)
}

func TestPayloadMutationFlowsThroughChain(t *testing.T) {
	m := testManager(nil)
	masker := Func(Spec{Name: "pii-masker", Priority: 10, Mode: ModeEnforce}, map[Hook]Handler{
		PromptPreFetch: func(_ context.Context, payload any, _ *HookContext) (Result, error) {
			p := payload.(PromptPayload)
			p.Arguments = map[string]string{
				"text": strings.ReplaceAll(p.Arguments["text"], "123-45-6789", "XXX-XX-6789"),
			}
			res := Mutate(p)
			res.Metadata = map[string]any{"pii_masked": true}
			return res, nil
		},
	})
	var seen string
	witness := Func(Spec{Name: "witness", Priority: 20, Mode: ModeEnforce}, map[Hook]Handler{
		PromptPreFetch: func(_ context.Context, payload any, _ *HookContext) (Result, error) {
			seen = payload.(PromptPayload).Arguments["text"]
			return Ok(), nil
		},
	})
	require.NoError(t, m.Register(masker))
	require.NoError(t, m.Register(witness))

	hctx := NewHookContext("r1")
	out, err := m.Invoke(context.Background(), PromptPreFetch,
		PromptPayload{Name: "report", Arguments: map[string]string{"text": "SSN: 123-45-6789"}}, hctx)
	require.NoError(t, err)
	assert.Equal(t, "SSN: XXX-XX-6789", out.(PromptPayload).Arguments["text"])
	assert.Equal(t, "SSN: XXX-XX-6789", seen)
	assert.Equal(t, true, hctx.Metadata()["pii_masked"])
}

func TestConditionsFilter(t *testing.T) {
	m := testManager(nil)
	log := &callLog{}
	scoped := Func(Spec{
		Name:       "scoped",
		Priority:   10,
		Mode:       ModeEnforce,
		Conditions: Conditions{ToolNames: []string{"admitted"}, TenantIDs: []string{"team-1"}},
	}, map[Hook]Handler{
		ToolPreInvoke: func(context.Context, any, *HookContext) (Result, error) {
			log.add("scoped")
			return Ok(), nil
		},
	})
	require.NoError(t, m.Register(scoped))

	hctx := NewHookContext("r1")
	hctx.Tenant = "team-1"

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "other"}, hctx)
	require.NoError(t, err)
	assert.Empty(t, log.snapshot())

	_, err = m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "admitted"}, hctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scoped"}, log.snapshot())

	// Same tool, wrong tenant.
	other := NewHookContext("r2")
	other.Tenant = "team-2"
	_, err = m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "admitted"}, other)
	require.NoError(t, err)
	assert.Equal(t, []string{"scoped"}, log.snapshot())
}

func TestDisabledModeSkipped(t *testing.T) {
	m := testManager(nil)
	log := &callLog{}
	require.NoError(t, m.Register(record(log, "off", 10, ModeDisabled, Deny("X", "x", ""), ToolPreInvoke)))

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, nil)
	require.NoError(t, err)
	assert.Empty(t, log.snapshot())
}

func TestParallelBand(t *testing.T) {
	m := testManager(func(cfg *config.PluginsConfig) { cfg.ParallelBands = true })
	log := &callLog{}
	free := func(name string, res Result) Plugin {
		return Func(Spec{Name: name, Priority: 10, Mode: ModeEnforce, SideEffectFree: true}, map[Hook]Handler{
			ToolPostInvoke: func(context.Context, any, *HookContext) (Result, error) {
				log.add(name)
				return res, nil
			},
		})
	}
	require.NoError(t, m.Register(free("scan-a", Ok())))
	require.NoError(t, m.Register(free("scan-b", Deny("OUTPUT_BLOCKED", "response rejected", ""))))

	_, err := m.Invoke(context.Background(), ToolPostInvoke, ToolPayload{Name: "echo"}, NewHookContext("r1"))
	require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
	assert.Equal(t, "OUTPUT_BLOCKED", mcperr.ReasonCode(err))
	assert.ElementsMatch(t, []string{"scan-a", "scan-b"}, log.snapshot())
}

func TestElicitationRoundTrip(t *testing.T) {
	confirm := func(calls *int) Plugin {
		return Func(Spec{Name: "confirm", Priority: 10, Mode: ModeEnforce}, map[Hook]Handler{
			AdminHook(store.KindServer, catalog.ActionRegister, false): func(_ context.Context, _ any, hctx *HookContext) (Result, error) {
				*calls++
				resp, ok := hctx.Elicitation("confirm")
				if !ok {
					return Elicit(ElicitationRequest{Message: "register production server?"}), nil
				}
				if resp.Action != ElicitationAccept {
					return Deny("PRODUCTION_REGISTRATION_DECLINED", "registration declined", ""), nil
				}
				return Ok(), nil
			},
		})
	}
	hook := AdminHook(store.KindServer, catalog.ActionRegister, false)

	t.Run("accept", func(t *testing.T) {
		var relayed int
		relay := func(_ context.Context, _ *HookContext, _ ElicitationRequest) (ElicitationResponse, error) {
			relayed++
			return ElicitationResponse{Action: ElicitationAccept, Content: map[string]any{"approve": true}}, nil
		}
		m := testManager(nil, WithElicitationRelay(relay))
		var calls int
		require.NoError(t, m.Register(confirm(&calls)))

		_, err := m.Invoke(context.Background(), hook, AdminPayload{Kind: "server", Action: "register"}, NewHookContext("r1"))
		require.NoError(t, err)
		assert.Equal(t, 1, relayed)
		assert.Equal(t, 2, calls)
	})

	t.Run("decline", func(t *testing.T) {
		relay := func(_ context.Context, _ *HookContext, _ ElicitationRequest) (ElicitationResponse, error) {
			return ElicitationResponse{Action: ElicitationDecline}, nil
		}
		m := testManager(nil, WithElicitationRelay(relay))
		var calls int
		require.NoError(t, m.Register(confirm(&calls)))

		_, err := m.Invoke(context.Background(), hook, AdminPayload{Kind: "server", Action: "register"}, NewHookContext("r1"))
		require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
		assert.Equal(t, "PRODUCTION_REGISTRATION_DECLINED", mcperr.ReasonCode(err))
	})

	t.Run("timeout fails closed", func(t *testing.T) {
		relay := func(ctx context.Context, _ *HookContext, _ ElicitationRequest) (ElicitationResponse, error) {
			<-ctx.Done()
			return ElicitationResponse{}, ctx.Err()
		}
		m := testManager(func(cfg *config.PluginsConfig) { cfg.ElicitationTimeout = 20 * time.Millisecond },
			WithElicitationRelay(relay))
		var calls int
		require.NoError(t, m.Register(confirm(&calls)))

		_, err := m.Invoke(context.Background(), hook, AdminPayload{Kind: "server", Action: "register"}, NewHookContext("r1"))
		require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
		assert.Equal(t, "ELICITATION_TIMEOUT", mcperr.ReasonCode(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("timeout with accept_unresolved", func(t *testing.T) {
		relay := func(ctx context.Context, _ *HookContext, _ ElicitationRequest) (ElicitationResponse, error) {
			<-ctx.Done()
			return ElicitationResponse{}, ctx.Err()
		}
		m := testManager(nil, WithElicitationRelay(relay))
		var calls int
		lenient := Func(Spec{Name: "lenient", Priority: 10, Mode: ModeEnforce}, map[Hook]Handler{
			hook: func(_ context.Context, _ any, hctx *HookContext) (Result, error) {
				calls++
				resp, ok := hctx.Elicitation("lenient")
				if !ok {
					return Elicit(ElicitationRequest{
						Message:          "confirm?",
						Timeout:          20 * time.Millisecond,
						AcceptUnresolved: true,
					}), nil
				}
				assert.Equal(t, ElicitationTimeout, resp.Action)
				return Ok(), nil
			},
		})
		require.NoError(t, m.Register(lenient))

		_, err := m.Invoke(context.Background(), hook, AdminPayload{Kind: "server", Action: "register"}, NewHookContext("r1"))
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestAdminHookNames(t *testing.T) {
	assert.Equal(t, Hook("server_pre_register"), AdminHook(store.KindServer, catalog.ActionRegister, false))
	assert.Equal(t, Hook("gateway_post_update"), AdminHook(store.KindGateway, catalog.ActionUpdate, true))
	assert.Equal(t, Hook("a2a_agent_pre_status_change"), AdminHook(store.KindAgent, catalog.ActionStatusChange, false))

	assert.True(t, Hook("tool_pre_invoke").Pre())
	assert.True(t, HTTPResolveUser.Pre())
	assert.False(t, Hook("gateway_post_delete").Pre())
}

func TestCatalogHooksAdapter(t *testing.T) {
	m := testManager(nil)
	var got AdminPayload
	guard := Func(Spec{Name: "guard", Priority: 10, Mode: ModeEnforce}, map[Hook]Handler{
		AdminHook(store.KindServer, catalog.ActionRegister, false): func(_ context.Context, payload any, _ *HookContext) (Result, error) {
			got = payload.(AdminPayload)
			return Deny("NO_NEW_SERVERS", "registrations are frozen", ""), nil
		},
	})
	require.NoError(t, m.Register(guard))

	hooks := NewCatalogHooks(m)
	ev := catalog.AdminEvent{
		Kind:   store.KindServer,
		Action: catalog.ActionRegister,
		ID:     "srv-1",
		Actor:  catalog.Actor{Email: "root@example.com"},
	}
	err := hooks.Pre(context.Background(), ev)
	require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
	assert.Equal(t, "srv-1", got.EntityID)
	assert.Equal(t, "root@example.com", got.Actor)

	// Post outcomes are logged, never surfaced.
	hooks.Post(context.Background(), ev)
}

func TestLoadSpecs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plugins:
  - name: pii-masker
    priority: 10
    mode: enforce
    side_effect_free: true
    conditions:
      tool_names: [echo]
  - name: clam-scan
    kind: external
    transport: streamable_http
    url: https://plugins.internal/clam
    headers:
      Authorization: Bearer tok
    priority: 20
    mode: permissive
    hooks: [tool_post_invoke, resource_post_fetch]
    timeout_ms: 15000
`), 0o600))

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, specKindBuiltin, specs[0].Kind)
	assert.Equal(t, []string{"echo"}, specs[0].Conditions.ToolNames)
	assert.True(t, specs[0].SideEffectFree)

	assert.Equal(t, specKindExternal, specs[1].Kind)
	assert.Equal(t, []Hook{ToolPostInvoke, ResourcePostFetch}, specs[1].Hooks)
	assert.Equal(t, 15000, specs[1].TimeoutMs)
	assert.Equal(t, "Bearer tok", specs[1].Headers["Authorization"])
}

func TestLoadSpecsRejections(t *testing.T) {
	cases := map[string]string{
		"missing name":      "plugins:\n  - priority: 1\n",
		"duplicate name":    "plugins:\n  - name: a\n  - name: a\n",
		"unknown kind":      "plugins:\n  - name: a\n    kind: remote\n",
		"unknown mode":      "plugins:\n  - name: a\n    mode: strict\n",
		"external no hooks": "plugins:\n  - name: a\n    kind: external\n    transport: stdio\n    command: [run]\n",
		"stdio no command":  "plugins:\n  - name: a\n    kind: external\n    transport: stdio\n    hooks: [tool_pre_invoke]\n",
		"http no url":       "plugins:\n  - name: a\n    kind: external\n    transport: streamable_http\n    hooks: [tool_pre_invoke]\n",
	}
	dir := t.TempDir()
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadSpecs(path)
			assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
		})
	}
}

func TestLoadFileWithBuiltinFactory(t *testing.T) {
	m := testManager(nil)
	log := &callLog{}
	m.RegisterFactory("recorder", func(spec Spec) (Plugin, error) {
		return Func(spec, map[Hook]Handler{
			ToolPreInvoke: func(context.Context, any, *HookContext) (Result, error) {
				log.add(spec.Name)
				return Ok(), nil
			},
		}), nil
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plugins:
  - name: audit-taps
    uses: recorder
    priority: 5
`), 0o600))
	require.NoError(t, m.LoadFile(path))
	assert.Equal(t, []string{"audit-taps"}, m.Plugins())

	_, err := m.Invoke(context.Background(), ToolPreInvoke, ToolPayload{Name: "echo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit-taps"}, log.snapshot())

	// Unknown factory names fail loudly.
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("plugins:\n  - name: ghost\n    uses: nothing\n"), 0o600))
	err = m.LoadFile(bad)
	assert.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
}

// TestExternalPluginInvoke runs a real plugin server over Streamable
// HTTP and drives it through the External wrapper.
func TestExternalPluginInvoke(t *testing.T) {
	srv := mcpserver.NewMCPServer("masker-plugin", "1.0.0", mcpserver.WithToolCapabilities(false))
	tool := mcp.NewTool(invokeHookTool,
		mcp.WithDescription("Run one hook"),
		mcp.WithString("hook", mcp.Required()),
	)
	srv.AddTool(tool, func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		hook, _ := args["hook"].(string)
		payload, _ := args["payload"].(map[string]any)

		if hook != string(ToolPreInvoke) {
			reply, _ := json.Marshal(wireResult{Continue: true})
			return mcp.NewToolResultText(string(reply)), nil
		}
		arguments, _ := payload["arguments"].(map[string]any)
		text, _ := arguments["text"].(string)
		if strings.Contains(text, "forbidden") {
			reply, _ := json.Marshal(wireResult{
				Violation: &Violation{Code: "CONTENT_BLOCKED", Reason: "forbidden content"},
			})
			return mcp.NewToolResultText(string(reply)), nil
		}
		payload["arguments"] = map[string]any{
			"text": strings.ReplaceAll(text, "123-45-6789", "XXX-XX-6789"),
		}
		modified, _ := json.Marshal(payload)
		reply, _ := json.Marshal(wireResult{
			Continue:        true,
			ModifiedPayload: modified,
			Metadata:        map[string]any{"pii_masked": true},
		})
		return mcp.NewToolResultText(string(reply)), nil
	})

	httpHandler := mcpserver.NewStreamableHTTPServer(srv, mcpserver.WithEndpointPath("/mcp"))
	ts := httptest.NewServer(httpHandler)
	defer ts.Close()

	ext := NewExternal(Spec{
		Name:      "masker",
		Kind:      specKindExternal,
		Transport: transportStreamableHTTP,
		URL:       ts.URL + "/mcp",
		Mode:      ModeEnforce,
		Hooks:     []Hook{ToolPreInvoke, ToolPostInvoke},
	}, 5*time.Second, nil)
	defer ext.Close()

	handler := ext.Hooks()[ToolPreInvoke]
	require.NotNil(t, handler)

	hctx := NewHookContext("req-1")
	hctx.User = "alice@example.com"

	res, err := handler(context.Background(), ToolPayload{
		Name:      "echo",
		Arguments: map[string]any{"text": "SSN: 123-45-6789"},
	}, hctx)
	require.NoError(t, err)
	assert.True(t, res.Continue)
	require.NotNil(t, res.Payload)
	masked := res.Payload.(ToolPayload)
	assert.Equal(t, "SSN: XXX-XX-6789", masked.Arguments["text"])
	assert.Equal(t, true, res.Metadata["pii_masked"])

	res, err = handler(context.Background(), ToolPayload{
		Name:      "echo",
		Arguments: map[string]any{"text": "forbidden"},
	}, hctx)
	require.NoError(t, err)
	require.NotNil(t, res.Violation)
	assert.Equal(t, "CONTENT_BLOCKED", res.Violation.Code)
}

func TestRemarshalKeepsConcreteType(t *testing.T) {
	raw := json.RawMessage(`{"name":"echo","arguments":{"text":"hi"}}`)

	out, err := remarshal(ToolPayload{Name: "old"}, raw)
	require.NoError(t, err)
	assert.Equal(t, "echo", out.(ToolPayload).Name)

	ptr, err := remarshal(&ToolPayload{Name: "old"}, raw)
	require.NoError(t, err)
	assert.Equal(t, "echo", ptr.(*ToolPayload).Name)
}
