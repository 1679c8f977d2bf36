// Package dispatch routes tool invocations to their upstream
// implementations: in-process handlers for local tools, HTTP adapters for
// REST tools, peer gateways for federated tools, and JSON-RPC endpoints
// for A2A agents.
//
// The dispatcher owns the invocation budget. It enforces per-user and
// per-tool token-bucket rate limits at entry, validates arguments against
// the tool's input schema, bounds each call with the tool's timeout, and
// retries transient upstream failures with exponential backoff when the
// call is safe to repeat. Cancellation of the inbound context cancels the
// outstanding upstream call.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// LocalHandler implements a tool in-process. Arguments arrive already
// validated against the tool's input schema.
type LocalHandler func(ctx context.Context, args map[string]any) (any, error)

// PeerCaller forwards a tool call to a peer gateway. Implemented by the
// federation manager; the dispatcher stays ignorant of client pooling and
// handshakes.
type PeerCaller interface {
	// CallPeerTool invokes the named tool on the given peer. The name is
	// the peer's own (un-qualified) tool name.
	CallPeerTool(ctx context.Context, gatewayID, name string, args map[string]any) (any, error)
}

// Observer receives one record per completed invocation. Used by the
// instrumentation layer; the dispatcher does not retain the values.
type Observer func(tool string, integration store.IntegrationType, outcome string, elapsed time.Duration)

// RetryObserver receives one record per retried upstream attempt, before
// the backoff sleep. The completion Observer fires once per invocation
// and carries no attempt count, so retries get their own callback.
type RetryObserver func(tool string, integration store.IntegrationType)

// Request describes one tool invocation.
type Request struct {
	Tool *store.Tool

	// Args is the decoded arguments object from the MCP call.
	Args map[string]any

	// User keys the per-user rate bucket. Empty shares the anonymous
	// bucket.
	User string

	// Inbound carries the client's HTTP headers. Only headers the tool
	// explicitly names for passthrough are ever forwarded.
	Inbound http.Header
}

// Result is the upstream outcome of an invocation.
type Result struct {
	// Payload is the decoded upstream response: a JSON value for REST
	// and A2A calls, whatever the handler returned for local tools, and
	// the peer's result for federated tools.
	Payload any

	// Meta carries gateway annotations such as via_gateway_id.
	Meta map[string]any
}

// Dispatcher routes invocations. Safe for concurrent use.
type Dispatcher struct {
	cfg    config.GatewayConfig
	logger *slog.Logger
	client *http.Client
	vault  secrets.Vault
	peers  PeerCaller
	agents AgentSource

	users    *limiterPool
	tools    *limiterPool
	inflight *hostGate
	schemas  *schemaCache

	observe      Observer
	observeRetry RetryObserver

	// sleep and jitter are swapped out in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration

	mu     sync.RWMutex
	locals map[string]LocalHandler
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHTTPClient replaces the outbound HTTP client. The client's own
// timeout is left untouched; per-call deadlines come from tool config.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithVault supplies the credential vault used to unseal gateway and
// agent auth material.
func WithVault(v secrets.Vault) Option {
	return func(d *Dispatcher) {
		if v != nil {
			d.vault = v
		}
	}
}

// WithPeerCaller wires the federation client used for federated tools.
func WithPeerCaller(p PeerCaller) Option {
	return func(d *Dispatcher) { d.peers = p }
}

// WithObserver registers a metrics callback.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observe = o }
}

// WithRetryObserver registers a metrics callback for upstream retries.
func WithRetryObserver(o RetryObserver) Option {
	return func(d *Dispatcher) { d.observeRetry = o }
}

// New builds a Dispatcher from the gateway and rate-limit configuration.
func New(cfg config.GatewayConfig, limits config.RateLimitConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		logger:   slog.Default(),
		client:   &http.Client{CheckRedirect: redirectPolicy},
		vault:    secrets.Disabled(),
		users:    newLimiterPool(limits.UserRPS, limits.UserBurst),
		tools:    newLimiterPool(limits.ToolRPS, limits.ToolBurst),
		inflight: newHostGate(limits.MaxInFlightPerHost),
		schemas:  newSchemaCache(),
		sleep:    sleepContext,
		jitter:   randomJitter,
		locals:   make(map[string]LocalHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterLocal binds an in-process handler to a local tool name.
// Re-registering a name replaces the previous handler.
func (d *Dispatcher) RegisterLocal(name string, h LocalHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locals[name] = h
}

// Invoke executes one tool call and returns the upstream result.
//
// The call is bounded by the tool's timeout_ms, falling back to the
// gateway default. Rate limits apply before any upstream work; a denied
// call carries a retry hint. Disabled tools are not invokable; an
// unreachable tool is still invoked, on the grounds that reachability is
// a health observation and not an administrative decision.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (*Result, error) {
	tool := req.Tool
	if tool == nil {
		return nil, mcperr.New(mcperr.KindInternal, "dispatch: nil tool")
	}
	if !tool.Enabled {
		return nil, mcperr.Newf(mcperr.KindMethodNotFound, "tool %s is disabled", tool.Name)
	}
	if !tool.Reachable {
		d.logger.Warn("invoking unreachable tool",
			logging.Tool(tool.Name),
			logging.EntityID(tool.ID))
	}
	if err := d.admit(tool, req.User); err != nil {
		return nil, err
	}
	if err := d.schemas.validate(tool, req.Args); err != nil {
		return nil, err
	}

	timeout := d.cfg.ToolTimeout
	if tool.TimeoutMS > 0 {
		timeout = time.Duration(tool.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		res *Result
		err error
	)
	switch tool.IntegrationType {
	case store.IntegrationLocal:
		res, err = d.invokeLocal(ctx, tool, req.Args)
	case store.IntegrationREST:
		res, err = d.invokeREST(ctx, tool, req.Args, req.Inbound)
	case store.IntegrationFederated:
		res, err = d.invokeFederated(ctx, tool, req.Args)
	case store.IntegrationA2A:
		res, err = d.invokeAgentTool(ctx, tool, req.Args)
	default:
		err = mcperr.Newf(mcperr.KindInvalidRequest,
			"tool %s has non-invokable integration type %s", tool.Name, tool.IntegrationType)
	}
	err = classifyContextErr(ctx, err, tool.Name, timeout)

	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(mcperr.KindOf(err))
		d.logger.Warn("tool invocation failed",
			logging.Tool(tool.Name),
			slog.String("integration", string(tool.IntegrationType)),
			slog.Duration("elapsed", elapsed),
			logging.Err(err))
	} else {
		d.logger.Debug("tool invocation completed",
			logging.Tool(tool.Name),
			slog.String("integration", string(tool.IntegrationType)),
			slog.Duration("elapsed", elapsed))
	}
	if d.observe != nil {
		d.observe(tool.Name, tool.IntegrationType, outcome, elapsed)
	}
	return res, err
}

// admit applies the per-user and per-tool token buckets.
func (d *Dispatcher) admit(tool *store.Tool, user string) error {
	if wait, ok := d.users.take(user); !ok {
		return mcperr.Newf(mcperr.KindRateLimited, "rate limit exceeded for user").
			WithRetryAfter(wait)
	}
	if wait, ok := d.tools.take(tool.ID); !ok {
		return mcperr.Newf(mcperr.KindRateLimited, "rate limit exceeded for tool %s", tool.Name).
			WithRetryAfter(wait)
	}
	return nil
}

func (d *Dispatcher) invokeLocal(ctx context.Context, tool *store.Tool, args map[string]any) (*Result, error) {
	d.mu.RLock()
	h, ok := d.locals[tool.Name]
	d.mu.RUnlock()
	if !ok {
		return nil, mcperr.Newf(mcperr.KindMethodNotFound, "local tool %s has no registered handler", tool.Name)
	}
	payload, err := h(ctx, args)
	if err != nil {
		if mcperr.KindOf(err) == mcperr.KindInternal {
			err = mcperr.Wrap(mcperr.KindUpstream, "local tool "+tool.Name+" failed", err)
		}
		return nil, err
	}
	return &Result{Payload: payload}, nil
}

func (d *Dispatcher) invokeFederated(ctx context.Context, tool *store.Tool, args map[string]any) (*Result, error) {
	if d.peers == nil {
		return nil, mcperr.New(mcperr.KindInternal, "dispatch: no peer caller configured")
	}
	if !tool.Federated() {
		return nil, mcperr.Newf(mcperr.KindInternal, "tool %s is marked federated but has no gateway", tool.Name)
	}
	gatewayID := *tool.GatewayID
	payload, err := d.peers.CallPeerTool(ctx, gatewayID, tool.Name, args)
	if err != nil {
		return nil, err
	}
	return &Result{
		Payload: payload,
		Meta:    map[string]any{"via_gateway_id": gatewayID},
	}, nil
}

// classifyContextErr rewrites an invoker failure caused by the call
// deadline or by client cancellation into the corresponding kind, so the
// protocol layer reports Timeout and Cancelled instead of a transport
// error.
func classifyContextErr(ctx context.Context, err error, tool string, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	var ge *mcperr.Error
	if errors.As(err, &ge) && ge.Kind != mcperr.KindUpstream && ge.Kind != mcperr.KindInternal {
		return err
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return mcperr.Wrap(mcperr.KindTimeout, "tool "+tool+" timed out after "+timeout.String(), err)
	case context.Canceled:
		return mcperr.Wrap(mcperr.KindCancelled, "tool "+tool+" invocation cancelled", err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
