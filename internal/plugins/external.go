package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-gateway/internal/logging"
)

// invokeHookTool is the tool every external plugin server must expose.
const invokeHookTool = "invoke_hook"

const (
	externalBackoffBase = time.Second
	externalBackoffMax  = 30 * time.Second
)

// External adapts an out-of-process plugin into the Plugin interface.
// The plugin runs as an MCP server reached over stdio or Streamable
// HTTP; the framework marshals payloads through its invoke_hook tool.
// The connection is opened lazily and reopened with backoff after
// transport failures.
type External struct {
	spec    Spec
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	client   *client.Client
	failures int
	retryAt  time.Time
}

// NewExternal wraps the spec. defaultTimeout bounds invoke_hook calls
// when the spec does not set its own.
func NewExternal(spec Spec, defaultTimeout time.Duration, logger *slog.Logger) *External {
	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &External{spec: spec, timeout: timeout, logger: logger}
}

func (e *External) Name() string           { return e.spec.Name }
func (e *External) Priority() int          { return e.spec.Priority }
func (e *External) Mode() Mode             { return e.spec.Mode }
func (e *External) Conditions() Conditions { return e.spec.Conditions }
func (e *External) SideEffectFree() bool   { return e.spec.SideEffectFree }

// Hooks maps every declared hook onto the invoke_hook round trip.
func (e *External) Hooks() map[Hook]Handler {
	table := make(map[Hook]Handler, len(e.spec.Hooks))
	for _, hook := range e.spec.Hooks {
		hook := hook
		table[hook] = func(ctx context.Context, payload any, hctx *HookContext) (Result, error) {
			return e.invoke(ctx, hook, payload, hctx)
		}
	}
	return table
}

// Close shuts the plugin connection down.
func (e *External) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// wireContext is the context subset shipped to the plugin process.
type wireContext struct {
	RequestID   string               `json:"request_id,omitempty"`
	SessionID   string               `json:"session_id,omitempty"`
	User        string               `json:"user,omitempty"`
	Team        string               `json:"team,omitempty"`
	Tenant      string               `json:"tenant,omitempty"`
	Elicitation *ElicitationResponse `json:"elicitation_response,omitempty"`
}

// wireResult is the invoke_hook response shape.
type wireResult struct {
	Continue        bool             `json:"continue_processing"`
	ModifiedPayload json.RawMessage  `json:"modified_payload,omitempty"`
	Violation       *Violation       `json:"violation,omitempty"`
	Elicitation     *wireElicitation `json:"elicitation_request,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

type wireElicitation struct {
	Message          string         `json:"message"`
	Schema           map[string]any `json:"schema,omitempty"`
	TimeoutMs        int            `json:"timeout_ms,omitempty"`
	AcceptUnresolved bool           `json:"accept_unresolved,omitempty"`
}

func (e *External) invoke(ctx context.Context, hook Hook, payload any, hctx *HookContext) (Result, error) {
	cli, err := e.ensureClient(ctx)
	if err != nil {
		return Result{}, err
	}

	wctx := wireContext{
		RequestID: hctx.RequestID,
		SessionID: hctx.SessionID,
		User:      hctx.User,
		Team:      hctx.Team,
		Tenant:    hctx.Tenant,
	}
	if resp, ok := hctx.Elicitation(e.spec.Name); ok {
		wctx.Elicitation = &resp
	}
	body, err := toJSONMap(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal payload for %s: %w", e.spec.Name, err)
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	result, err := cli.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: invokeHookTool,
			Arguments: map[string]any{
				"hook":    string(hook),
				"payload": body,
				"context": wctx,
			},
		},
	})
	if err != nil {
		e.markBroken()
		return Result{}, fmt.Errorf("invoke_hook on %s: %w", e.spec.Name, err)
	}

	text, err := resultText(result)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %s: %w", e.spec.Name, err)
	}
	if result.IsError {
		return Result{}, fmt.Errorf("plugin %s reported: %s", e.spec.Name, text)
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return Result{}, fmt.Errorf("plugin %s returned malformed result: %w", e.spec.Name, err)
	}
	return e.fromWire(wire, payload)
}

func (e *External) fromWire(wire wireResult, payload any) (Result, error) {
	res := Result{
		Continue:  wire.Continue,
		Violation: wire.Violation,
		Metadata:  wire.Metadata,
	}
	if len(wire.ModifiedPayload) > 0 {
		modified, err := remarshal(payload, wire.ModifiedPayload)
		if err != nil {
			return Result{}, fmt.Errorf("plugin %s returned malformed payload: %w", e.spec.Name, err)
		}
		res.Payload = modified
	}
	if wire.Elicitation != nil {
		res.Elicitation = &ElicitationRequest{
			Message:          wire.Elicitation.Message,
			Schema:           wire.Elicitation.Schema,
			Timeout:          time.Duration(wire.Elicitation.TimeoutMs) * time.Millisecond,
			AcceptUnresolved: wire.Elicitation.AcceptUnresolved,
		}
	}
	return res, nil
}

func (e *External) ensureClient(ctx context.Context) (*client.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	if now := time.Now(); now.Before(e.retryAt) {
		return nil, fmt.Errorf("plugin %s backend unavailable, retrying at %s", e.spec.Name, e.retryAt.Format(time.RFC3339))
	}

	cli, err := e.connect(ctx)
	if err != nil {
		e.failures++
		e.retryAt = time.Now().Add(backoffFor(e.failures))
		return nil, fmt.Errorf("connect plugin %s: %w", e.spec.Name, err)
	}
	e.failures = 0
	e.retryAt = time.Time{}
	e.client = cli
	return cli, nil
}

func (e *External) connect(ctx context.Context) (*client.Client, error) {
	var (
		cli *client.Client
		err error
	)
	switch e.spec.Transport {
	case transportStdio:
		cli, err = client.NewStdioMCPClient(e.spec.Command[0], nil, e.spec.Command[1:]...)
	case transportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(e.spec.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(e.spec.Headers))
		}
		cli, err = client.NewStreamableHttpClient(e.spec.URL, opts...)
		if err == nil {
			err = cli.Start(ctx)
		}
	default:
		return nil, fmt.Errorf("unsupported plugin transport %q", e.spec.Transport)
	}
	if err != nil {
		return nil, err
	}

	_, err = cli.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "mcp-gateway",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return cli, nil
}

// markBroken drops the connection so the next invocation reconnects
// after backoff.
func (e *External) markBroken() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		_ = e.client.Close()
		e.client = nil
	}
	e.failures++
	e.retryAt = time.Now().Add(backoffFor(e.failures))
	e.logger.Warn("plugin connection lost",
		logging.Plugin(e.spec.Name),
		slog.Int("failures", e.failures),
		slog.Time("retry_at", e.retryAt))
}

func backoffFor(failures int) time.Duration {
	d := externalBackoffBase << (failures - 1)
	if d > externalBackoffMax || d <= 0 {
		return externalBackoffMax
	}
	return d
}

func resultText(result *mcp.CallToolResult) (string, error) {
	if result == nil || len(result.Content) == 0 {
		return "", fmt.Errorf("empty invoke_hook result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "", fmt.Errorf("invoke_hook result is not text")
	}
	return text.Text, nil
}

func toJSONMap(payload any) (map[string]any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// remarshal decodes raw into a fresh value of payload's concrete type so
// the rest of the chain keeps seeing typed payloads.
func remarshal(payload any, raw json.RawMessage) (any, error) {
	if payload == nil {
		var out any
		err := json.Unmarshal(raw, &out)
		return out, err
	}
	t := reflect.TypeOf(payload)
	pointer := t.Kind() == reflect.Pointer
	if pointer {
		t = t.Elem()
	}
	fresh := reflect.New(t)
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return nil, err
	}
	if pointer {
		return fresh.Interface(), nil
	}
	return fresh.Elem().Interface(), nil
}
