package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
)

// ElicitationRelay forwards an elicitation request to the end client and
// waits for the answer. The gateway server supplies one backed by the
// session's elicitation/create channel; without a relay every
// elicitation is unresolved.
type ElicitationRelay func(ctx context.Context, hctx *HookContext, req ElicitationRequest) (ElicitationResponse, error)

// Factory builds an in-process plugin from its file spec. Factories are
// registered by name and referenced from plugins.yaml entries of kind
// builtin.
type Factory func(spec Spec) (Plugin, error)

// HookObserver receives one record per executed handler. Used by the
// instrumentation layer; outcome is one of allowed, blocked, modified,
// or failed.
type HookObserver func(plugin string, hook Hook, outcome string, elapsed time.Duration)

// Manager owns the plugin registry and runs hook chains.
type Manager struct {
	cfg     config.PluginsConfig
	logger  *slog.Logger
	relay   ElicitationRelay
	observe HookObserver

	mu        sync.RWMutex
	plugins   []*registered
	factories map[string]Factory
}

type registered struct {
	plugin   Plugin
	handlers map[Hook]Handler
	order    int
}

func (r *registered) name() string { return r.plugin.Name() }

// mode normalizes an unset plugin mode to enforce.
func (r *registered) mode() Mode {
	if m := r.plugin.Mode(); m != "" {
		return m
	}
	return ModeEnforce
}

func (r *registered) sideEffectFree() bool {
	sef, ok := r.plugin.(SideEffectFree)
	return ok && sef.SideEffectFree()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithElicitationRelay sets the channel used to reach the end client.
func WithElicitationRelay(relay ElicitationRelay) ManagerOption {
	return func(m *Manager) { m.relay = relay }
}

// WithHookObserver registers a metrics callback.
func WithHookObserver(o HookObserver) ManagerOption {
	return func(m *Manager) { m.observe = o }
}

// NewManager returns a manager with no plugins registered.
func NewManager(cfg config.PluginsConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    slog.Default(),
		factories: make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetElicitationRelay installs the relay after construction. The gateway
// server calls this once its session layer exists.
func (m *Manager) SetElicitationRelay(relay ElicitationRelay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relay = relay
}

// RegisterFactory makes a builtin plugin constructor addressable from
// the plugin config file.
func (m *Manager) RegisterFactory(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
}

// Register adds a plugin to the registry. Plugins run in ascending
// priority order; plugins sharing a priority keep registration order.
func (m *Manager) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return mcperr.New(mcperr.KindInvalidRequest, "plugin name is required")
	}
	if mode := p.Mode(); mode != "" && !mode.valid() {
		return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %s has unknown mode %q", p.Name(), mode)
	}
	handlers := p.Hooks()
	if len(handlers) == 0 {
		return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %s declares no hooks", p.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.plugins {
		if reg.name() == p.Name() {
			return mcperr.Newf(mcperr.KindConflict, "plugin %s is already registered", p.Name())
		}
	}
	m.plugins = append(m.plugins, &registered{
		plugin:   p,
		handlers: handlers,
		order:    len(m.plugins),
	})
	sort.SliceStable(m.plugins, func(i, j int) bool {
		if m.plugins[i].plugin.Priority() != m.plugins[j].plugin.Priority() {
			return m.plugins[i].plugin.Priority() < m.plugins[j].plugin.Priority()
		}
		return m.plugins[i].order < m.plugins[j].order
	})
	return nil
}

// Plugins returns the registered plugin names in execution order.
func (m *Manager) Plugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for _, reg := range m.plugins {
		names = append(names, reg.name())
	}
	return names
}

// Invoke runs every applicable plugin at the hook, in priority order,
// and returns the payload as the chain left it. A nil or disabled
// manager passes the payload through untouched.
func (m *Manager) Invoke(ctx context.Context, hook Hook, payload any, hctx *HookContext) (any, error) {
	if m == nil || !m.cfg.Enabled {
		return payload, nil
	}
	if hctx == nil {
		hctx = NewHookContext("")
	}

	target := hctx.target()
	if t, ok := payload.(Targeted); ok {
		pt := t.Target()
		pt.Tenant = target.Tenant
		target = pt
	}

	m.mu.RLock()
	relay := m.relay
	applicable := make([]*registered, 0, len(m.plugins))
	for _, reg := range m.plugins {
		if reg.mode() == ModeDisabled {
			continue
		}
		if _, ok := reg.handlers[hook]; !ok {
			continue
		}
		if !reg.plugin.Conditions().Applies(target) {
			continue
		}
		applicable = append(applicable, reg)
	}
	m.mu.RUnlock()

	for i := 0; i < len(applicable); {
		j := i + 1
		for j < len(applicable) && applicable[j].plugin.Priority() == applicable[i].plugin.Priority() {
			j++
		}
		band := applicable[i:j]

		if m.cfg.ParallelBands && len(band) > 1 && allSideEffectFree(band) {
			if err := m.runParallel(ctx, hook, payload, hctx, band); err != nil {
				return payload, err
			}
		} else {
			var err error
			payload, err = m.runSequential(ctx, hook, payload, hctx, relay, band)
			if err != nil {
				return payload, err
			}
		}
		i = j
	}
	return payload, nil
}

func allSideEffectFree(band []*registered) bool {
	for _, reg := range band {
		if !reg.sideEffectFree() {
			return false
		}
	}
	return true
}

func (m *Manager) runSequential(ctx context.Context, hook Hook, payload any, hctx *HookContext, relay ElicitationRelay, band []*registered) (any, error) {
	for _, reg := range band {
		res, err := m.call(ctx, hook, reg, payload, hctx)
		if err != nil {
			if herr := m.pluginFailure(reg, hook, err); herr != nil {
				return payload, herr
			}
			continue
		}

		if res.Elicitation != nil {
			if !hook.Pre() {
				m.logger.Warn("post hook requested elicitation, ignoring",
					logging.Plugin(reg.name()), logging.Hook(string(hook)))
			} else {
				res, err = m.elicit(ctx, hook, reg, payload, hctx, relay, *res.Elicitation)
				if err != nil {
					return payload, err
				}
			}
		}

		if res.Violation != nil {
			if herr := m.violation(reg, hook, *res.Violation); herr != nil {
				return payload, herr
			}
			continue
		}
		if !res.Continue {
			if herr := m.halt(reg, hook); herr != nil {
				return payload, herr
			}
			continue
		}
		if res.Payload != nil {
			payload = res.Payload
		}
		hctx.mergeMetadata(res.Metadata)
	}
	return payload, nil
}

// runParallel executes a side-effect-free band concurrently. Results are
// settled in band order afterwards so violation precedence stays
// deterministic; payload mutations from parallel plugins are dropped.
func (m *Manager) runParallel(ctx context.Context, hook Hook, payload any, hctx *HookContext, band []*registered) error {
	type outcome struct {
		res Result
		err error
	}
	outs := make([]outcome, len(band))

	var wg sync.WaitGroup
	for i, reg := range band {
		wg.Add(1)
		go func(i int, reg *registered) {
			defer wg.Done()
			res, err := m.call(ctx, hook, reg, payload, hctx)
			outs[i] = outcome{res: res, err: err}
		}(i, reg)
	}
	wg.Wait()

	for i, reg := range band {
		out := outs[i]
		if out.err != nil {
			if herr := m.pluginFailure(reg, hook, out.err); herr != nil {
				return herr
			}
			continue
		}
		res := out.res
		if res.Elicitation != nil {
			m.logger.Warn("parallel plugin requested elicitation, ignoring",
				logging.Plugin(reg.name()), logging.Hook(string(hook)))
		}
		if res.Payload != nil {
			m.logger.Warn("parallel plugin attempted payload mutation, ignoring",
				logging.Plugin(reg.name()), logging.Hook(string(hook)))
		}
		if res.Violation != nil {
			if herr := m.violation(reg, hook, *res.Violation); herr != nil {
				return herr
			}
			continue
		}
		if !res.Continue {
			if herr := m.halt(reg, hook); herr != nil {
				return herr
			}
			continue
		}
		hctx.mergeMetadata(res.Metadata)
	}
	return nil
}

// call runs one handler with the per-hook timeout and panic isolation.
func (m *Manager) call(ctx context.Context, hook Hook, reg *registered, payload any, hctx *HookContext) (res Result, err error) {
	handler := reg.handlers[hook]
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
		if m.observe != nil {
			m.observe(reg.name(), hook, hookOutcome(res, err), time.Since(start))
		}
	}()
	return handler(ctx, payload, hctx)
}

// hookOutcome classifies one handler result for the metrics callback. An
// unresolved elicitation is not a verdict yet; the re-invocation after
// the round trip carries the final outcome.
func hookOutcome(res Result, err error) string {
	switch {
	case err != nil:
		return "failed"
	case res.Elicitation != nil:
		return "allowed"
	case res.Violation != nil, !res.Continue:
		return "blocked"
	case res.Payload != nil:
		return "modified"
	default:
		return "allowed"
	}
}

// elicit relays the request to the client and re-invokes the hook once
// with the answer in place.
func (m *Manager) elicit(ctx context.Context, hook Hook, reg *registered, payload any, hctx *HookContext, relay ElicitationRelay, req ElicitationRequest) (Result, error) {
	resp, relayErr := m.relayElicitation(ctx, hctx, relay, req)
	if relayErr != nil {
		if !req.AcceptUnresolved {
			return Result{}, mcperr.Wrap(mcperr.KindPolicyDenied, fmt.Sprintf("plugin %s elicitation unresolved", reg.name()), relayErr).
				WithCode("ELICITATION_TIMEOUT")
		}
		m.logger.Warn("elicitation unresolved, plugin accepts",
			logging.Plugin(reg.name()), logging.Hook(string(hook)), logging.Err(relayErr))
		resp = ElicitationResponse{Action: ElicitationTimeout}
	}
	hctx.setElicitation(reg.name(), resp)

	res, err := m.call(ctx, hook, reg, payload, hctx)
	if err != nil {
		if herr := m.pluginFailure(reg, hook, err); herr != nil {
			return Result{}, herr
		}
		return Ok(), nil
	}
	if res.Elicitation != nil {
		// One round trip per hook invocation.
		return Result{}, mcperr.Newf(mcperr.KindPolicyDenied, "plugin %s left elicitation unresolved", reg.name()).
			WithCode("ELICITATION_UNRESOLVED")
	}
	return res, nil
}

func (m *Manager) relayElicitation(ctx context.Context, hctx *HookContext, relay ElicitationRelay, req ElicitationRequest) (ElicitationResponse, error) {
	if relay == nil {
		return ElicitationResponse{}, fmt.Errorf("no elicitation channel")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.cfg.ElicitationTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return relay(ctx, hctx, req)
}

func (m *Manager) pluginFailure(reg *registered, hook Hook, err error) error {
	m.logger.Error("plugin failed",
		logging.Plugin(reg.name()), logging.Hook(string(hook)), logging.Err(err))
	if m.cfg.FailOnError || reg.mode() == ModeEnforce {
		return mcperr.Wrap(mcperr.KindPluginError, fmt.Sprintf("plugin %s failed during %s", reg.name(), hook), err)
	}
	return nil
}

func (m *Manager) violation(reg *registered, hook Hook, v Violation) error {
	switch reg.mode() {
	case ModePermissive:
		m.logger.Warn("policy violation (permissive)",
			logging.Plugin(reg.name()), logging.Hook(string(hook)),
			slog.String("code", v.Code), slog.String("reason", v.Reason))
		return nil
	default:
		msg := v.Reason
		if v.Description != "" {
			msg = v.Reason + ": " + v.Description
		}
		return mcperr.New(mcperr.KindPolicyDenied, msg).WithCode(v.Code)
	}
}

func (m *Manager) halt(reg *registered, hook Hook) error {
	switch reg.mode() {
	case ModePermissive:
		m.logger.Warn("plugin halted processing (permissive)",
			logging.Plugin(reg.name()), logging.Hook(string(hook)))
		return nil
	default:
		return mcperr.Newf(mcperr.KindPolicyDenied, "processing halted by plugin %s", reg.name()).
			WithCode("PROCESSING_HALTED")
	}
}
