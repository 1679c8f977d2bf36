// Package plugins implements the hook framework. Plugins register
// explicitly with the Manager and publish a table of hook handlers; the
// manager orders them by priority, filters them by conditions, and runs
// them around catalog mutations, HTTP requests, and tool, prompt,
// resource, and agent traffic. A plugin can rewrite the payload, declare
// a violation, or ask the client a question over the elicitation channel
// before the gateway proceeds.
package plugins

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Hook names one interception point in the request lifecycle.
type Hook string

const (
	PromptPreFetch    Hook = "prompt_pre_fetch"
	PromptPostFetch   Hook = "prompt_post_fetch"
	ToolPreInvoke     Hook = "tool_pre_invoke"
	ToolPostInvoke    Hook = "tool_post_invoke"
	ResourcePreFetch  Hook = "resource_pre_fetch"
	ResourcePostFetch Hook = "resource_post_fetch"
	AgentPreInvoke    Hook = "agent_pre_invoke"
	AgentPostInvoke   Hook = "agent_post_invoke"

	HTTPPreRequest      Hook = "http_pre_request"
	HTTPResolveUser     Hook = "http_auth_resolve_user"
	HTTPCheckPermission Hook = "http_auth_check_permission"
	HTTPPostRequest     Hook = "http_post_request"
)

// AdminHook composes the hook name for a catalog mutation, for example
// server_pre_register or gateway_post_status_change.
func AdminHook(kind store.EntityKind, action catalog.AdminAction, post bool) Hook {
	phase := "pre"
	if post {
		phase = "post"
	}
	return Hook(fmt.Sprintf("%s_%s_%s", kind, phase, action))
}

// Pre reports whether the hook runs before the guarded operation. Post
// hooks observe outcomes; their violations can still withhold a response
// but never undo the operation, and they cannot elicit.
func (h Hook) Pre() bool {
	return !strings.Contains(string(h), "_post_")
}

// Mode controls how a plugin's violations and failures are treated.
type Mode string

const (
	// ModeEnforce blocks on violations and fails closed on plugin errors.
	ModeEnforce Mode = "enforce"

	// ModeEnforceIgnoreError blocks on violations but logs and continues
	// past unexpected plugin errors.
	ModeEnforceIgnoreError Mode = "enforce_ignore_error"

	// ModePermissive logs violations and errors without blocking.
	ModePermissive Mode = "permissive"

	// ModeDisabled skips the plugin entirely.
	ModeDisabled Mode = "disabled"
)

func (m Mode) valid() bool {
	switch m {
	case ModeEnforce, ModeEnforceIgnoreError, ModePermissive, ModeDisabled:
		return true
	}
	return false
}

// Violation is a declared policy breach. Code is a stable identifier
// clients can branch on; Reason is the short human answer; Description
// may carry detail for operators.
type Violation struct {
	Code        string `json:"code"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
}

// ElicitationAction classifies a client's answer to an elicitation.
type ElicitationAction string

const (
	ElicitationAccept  ElicitationAction = "accept"
	ElicitationDecline ElicitationAction = "decline"
	ElicitationCancel  ElicitationAction = "cancel"

	// ElicitationTimeout is injected by the framework when the client
	// never answered and the plugin accepts unresolved elicitations.
	ElicitationTimeout ElicitationAction = "timeout"
)

// ElicitationRequest asks the end client a question before the hook
// decides. Schema is a JSON schema describing the expected answer.
type ElicitationRequest struct {
	Message string         `json:"message"`
	Schema  map[string]any `json:"schema,omitempty"`

	// Timeout bounds the wait for the client; zero uses the configured
	// elicitation timeout.
	Timeout time.Duration `json:"-"`

	// AcceptUnresolved lets the hook run with a timeout marker instead
	// of failing closed when the client never answers.
	AcceptUnresolved bool `json:"-"`
}

// ElicitationResponse is the client's answer, re-injected into the hook
// context before the hook is re-invoked.
type ElicitationResponse struct {
	Action  ElicitationAction `json:"action"`
	Content map[string]any    `json:"content,omitempty"`
}

// Result is a hook handler's verdict.
type Result struct {
	// Continue permits the next plugin (and ultimately the operation)
	// to run. False without a violation is treated as an unnamed block.
	Continue bool

	// Payload, when non-nil, replaces the payload for the remaining
	// plugins and the operation itself.
	Payload any

	Violation   *Violation
	Elicitation *ElicitationRequest

	// Metadata is merged into the hook context's shared metadata and
	// surfaces in audit entries.
	Metadata map[string]any
}

// Ok continues processing with the payload unchanged.
func Ok() Result {
	return Result{Continue: true}
}

// Mutate continues processing with a replacement payload.
func Mutate(payload any) Result {
	return Result{Continue: true, Payload: payload}
}

// Deny declares a violation.
func Deny(code, reason, description string) Result {
	return Result{Violation: &Violation{Code: code, Reason: reason, Description: description}}
}

// Elicit suspends the hook until the client answers req.
func Elicit(req ElicitationRequest) Result {
	return Result{Elicitation: &req}
}

// Handler runs one plugin at one hook.
type Handler func(ctx context.Context, payload any, hctx *HookContext) (Result, error)

// Plugin is the explicit registration contract. Hooks returns the table
// the manager enumerates; a plugin only runs at hooks it lists.
type Plugin interface {
	Name() string
	Priority() int
	Mode() Mode
	Conditions() Conditions
	Hooks() map[Hook]Handler
}

// SideEffectFree marks a plugin safe to run concurrently with its
// priority band. Side-effect-free plugins must not mutate payloads or
// per-plugin state.
type SideEffectFree interface {
	SideEffectFree() bool
}

// Target identifies what a hook invocation is about, for condition
// filtering.
type Target struct {
	Tool     string
	Prompt   string
	ServerID string
	Tenant   string
}

// Targeted payloads tell the manager what they are about. Payloads
// without the interface match every condition list except tenants.
type Targeted interface {
	Target() Target
}

// Conditions restrict a plugin to a subset of traffic. An empty list
// matches everything.
type Conditions struct {
	ToolNames []string `yaml:"tool_names,omitempty" json:"tool_names,omitempty"`
	Prompts   []string `yaml:"prompts,omitempty" json:"prompts,omitempty"`
	ServerIDs []string `yaml:"server_ids,omitempty" json:"server_ids,omitempty"`
	TenantIDs []string `yaml:"tenant_ids,omitempty" json:"tenant_ids,omitempty"`
}

// Applies reports whether the target falls inside every non-empty list.
func (c Conditions) Applies(t Target) bool {
	return matchOne(c.ToolNames, t.Tool) &&
		matchOne(c.Prompts, t.Prompt) &&
		matchOne(c.ServerIDs, t.ServerID) &&
		matchOne(c.TenantIDs, t.Tenant)
}

func matchOne(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	return slices.Contains(allowed, v)
}

// ToolPayload crosses tool_pre_invoke and tool_post_invoke. Result is
// only set on the post hook.
type ToolPayload struct {
	Name      string         `json:"name"`
	ServerID  string         `json:"server_id,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
}

func (p ToolPayload) Target() Target {
	return Target{Tool: p.Name, ServerID: p.ServerID}
}

// PromptPayload crosses prompt_pre_fetch and prompt_post_fetch.
// Messages is only set on the post hook.
type PromptPayload struct {
	Name      string            `json:"name"`
	ServerID  string            `json:"server_id,omitempty"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Messages  any               `json:"messages,omitempty"`
}

func (p PromptPayload) Target() Target {
	return Target{Prompt: p.Name, ServerID: p.ServerID}
}

// ResourcePayload crosses resource_pre_fetch and resource_post_fetch.
// Contents is only set on the post hook.
type ResourcePayload struct {
	URI      string `json:"uri"`
	ServerID string `json:"server_id,omitempty"`
	Contents any    `json:"contents,omitempty"`
}

func (p ResourcePayload) Target() Target {
	return Target{ServerID: p.ServerID}
}

// AgentPayload crosses agent_pre_invoke and agent_post_invoke. Output
// is only set on the post hook.
type AgentPayload struct {
	Slug   string `json:"slug"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
}

// HTTPPayload crosses the http_* hooks. Status is only set on
// http_post_request.
type HTTPPayload struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers,omitempty"`
	User       string            `json:"user,omitempty"`
	Permission string            `json:"permission,omitempty"`
	Status     int               `json:"status,omitempty"`
}

// AdminPayload crosses the per-entity register, update, delete, and
// status_change hooks.
type AdminPayload struct {
	Kind     string   `json:"kind"`
	Action   string   `json:"action"`
	EntityID string   `json:"entity_id,omitempty"`
	Entity   any      `json:"entity,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Changed  []string `json:"changed,omitempty"`
	Actor    string   `json:"actor,omitempty"`
}

func (p AdminPayload) Target() Target {
	if p.Kind == string(store.KindServer) {
		return Target{ServerID: p.EntityID}
	}
	return Target{}
}

// HookContext carries request-scoped state across all hooks of one
// request: identity, a shared key-value space, per-plugin scratch state,
// collected metadata for the audit trail, and any elicitation answers.
type HookContext struct {
	RequestID string
	SessionID string
	User      string
	Team      string
	Tenant    string

	mu           sync.Mutex
	global       map[string]any
	state        map[string]map[string]any
	metadata     map[string]any
	elicitations map[string]ElicitationResponse
}

// NewHookContext returns a context for one request.
func NewHookContext(requestID string) *HookContext {
	return &HookContext{RequestID: requestID}
}

// SetGlobal stores a value visible to every plugin of this request.
func (c *HookContext) SetGlobal(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.global == nil {
		c.global = make(map[string]any)
	}
	c.global[key] = v
}

// GlobalValue reads a value stored with SetGlobal.
func (c *HookContext) GlobalValue(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.global[key]
	return v, ok
}

// State returns the named plugin's scratch map, creating it on first
// use. The map is only safe to mutate from sequential execution.
func (c *HookContext) State(plugin string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		c.state = make(map[string]map[string]any)
	}
	s, ok := c.state[plugin]
	if !ok {
		s = make(map[string]any)
		c.state[plugin] = s
	}
	return s
}

// Metadata returns a copy of the metadata every hook result contributed
// so far.
func (c *HookContext) Metadata() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

func (c *HookContext) mergeMetadata(m map[string]any) {
	if len(m) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	for k, v := range m {
		c.metadata[k] = v
	}
}

// Elicitation returns the client's answer for the named plugin, if the
// framework has relayed one during this request.
func (c *HookContext) Elicitation(plugin string) (ElicitationResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.elicitations[plugin]
	return resp, ok
}

func (c *HookContext) setElicitation(plugin string, resp ElicitationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.elicitations == nil {
		c.elicitations = make(map[string]ElicitationResponse)
	}
	c.elicitations[plugin] = resp
}

func (c *HookContext) target() Target {
	return Target{Tenant: c.Tenant}
}

type hookContextKey struct{}

// WithHookContext attaches the hook context to ctx so downstream layers
// (the catalog hook adapter in particular) invoke plugins under the
// request's context rather than a fresh one.
func WithHookContext(ctx context.Context, hc *HookContext) context.Context {
	return context.WithValue(ctx, hookContextKey{}, hc)
}

// HookContextFrom extracts the hook context attached by WithHookContext.
func HookContextFrom(ctx context.Context) (*HookContext, bool) {
	hc, ok := ctx.Value(hookContextKey{}).(*HookContext)
	return hc, ok
}
