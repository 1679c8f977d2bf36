package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// AgentSource looks up the A2A agent backing a tool. The tool's name is
// the agent slug. Lookups are unrestricted: visibility was already
// decided when the caller resolved the tool.
type AgentSource interface {
	AgentBySlug(ctx context.Context, slug string) (*store.A2AAgent, error)
}

// WithAgentSource wires the catalog lookup used for A2A tools.
func WithAgentSource(s AgentSource) Option {
	return func(d *Dispatcher) { d.agents = s }
}

// invokeAgentTool sends one JSON-RPC message to the agent endpoint and
// returns the result member of the response. The agent record is read at
// call time so endpoint, credential and enabled state are always current.
func (d *Dispatcher) invokeAgentTool(ctx context.Context, tool *store.Tool, args map[string]any) (*Result, error) {
	if d.agents == nil {
		return nil, mcperr.New(mcperr.KindInternal, "dispatch: no agent source configured")
	}
	agent, err := d.agents.AgentBySlug(ctx, tool.Name)
	if err != nil {
		return nil, err
	}
	if !agent.Enabled {
		return nil, mcperr.Newf(mcperr.KindMethodNotFound, "agent %s is disabled", agent.Slug)
	}

	plan, err := d.agentPlan(tool, agent, args)
	if err != nil {
		return nil, err
	}
	release, err := d.inflight.acquire(plan.url.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	body, _, err := d.execute(ctx, tool, plan, d.retryBudget(tool))
	if err != nil {
		return nil, err
	}
	payload, err := decodeAgentResponse(agent.Slug, body)
	if err != nil {
		return nil, err
	}
	return &Result{
		Payload: payload,
		Meta:    map[string]any{"a2a_agent_id": agent.ID},
	}, nil
}

// agentPlan builds the JSON-RPC POST for one agent message.
func (d *Dispatcher) agentPlan(tool *store.Tool, agent *store.A2AAgent, args map[string]any) (*httpPlan, error) {
	if agent.Endpoint == "" {
		return nil, mcperr.Newf(mcperr.KindInvalidRequest, "agent %s has no endpoint", agent.Slug)
	}
	u, err := url.Parse(agent.Endpoint)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInvalidRequest, "agent "+agent.Slug+" has an invalid endpoint", err)
	}
	if err := checkAllowlist(u, tool.Allowlist); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  agentMethod(agent.ProtocolVersion),
		"params": map[string]any{
			"message": map[string]any{
				"role":      "user",
				"messageId": uuid.NewString(),
				"parts":     agentParts(args),
			},
		},
	})
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInvalidRequest, "encode agent message", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	if err := d.agentAuth(header, agent); err != nil {
		return nil, err
	}
	return &httpPlan{
		method: http.MethodPost,
		url:    u,
		header: header,
		body:   body,
		allow:  tool.Allowlist,
	}, nil
}

// agentMethod picks the send method for the agent's protocol version.
// 0.1.x endpoints predate the message API and still speak tasks/send.
func agentMethod(version string) string {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if strings.HasPrefix(v, "0.1") {
		return "tasks/send"
	}
	return "message/send"
}

// agentParts converts tool-call arguments into A2A message parts. A
// message, query or text argument becomes the text part; everything else
// travels as one data part.
func agentParts(args map[string]any) []map[string]any {
	data := make(map[string]any, len(args))
	for k, v := range args {
		data[k] = v
	}
	var parts []map[string]any
	for _, key := range []string{"message", "query", "text"} {
		if s, ok := data[key].(string); ok {
			parts = append(parts, map[string]any{"kind": "text", "text": s})
			delete(data, key)
			break
		}
	}
	if len(data) > 0 {
		parts = append(parts, map[string]any{"kind": "data", "data": data})
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"kind": "text", "text": ""})
	}
	return parts
}

// agentAuth unseals the agent credential and attaches it to the request.
func (d *Dispatcher) agentAuth(header http.Header, agent *store.A2AAgent) error {
	if agent.AuthValue == "" {
		return nil
	}
	cred, err := d.vault.Decrypt(agent.AuthValue)
	if err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "unseal credential for agent "+agent.Slug, err)
	}
	switch agent.AuthType {
	case store.AuthTypeBearer, store.AuthTypeOAuth:
		header.Set("Authorization", "Bearer "+cred)
	case store.AuthTypeBasic:
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred)))
	case store.AuthTypeHeaders:
		var extra map[string]string
		if err := json.Unmarshal([]byte(cred), &extra); err != nil {
			return mcperr.Wrap(mcperr.KindInternal, "agent "+agent.Slug+" has malformed header credentials", err)
		}
		for name, value := range extra {
			if forwardableHeader(name) {
				header.Set(name, value)
			}
		}
	}
	return nil
}

// agentEnvelope is the JSON-RPC response envelope from an A2A endpoint.
type agentEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *agentError     `json:"error"`
}

type agentError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// decodeAgentResponse unwraps the JSON-RPC envelope. Endpoints that reply
// with a bare JSON document pass through unchanged.
func decodeAgentResponse(slug string, body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var env agentEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return decodeBody(body, "")
	}
	if env.Error != nil {
		return nil, mcperr.Newf(mcperr.KindUpstream,
			"agent %s returned error %d: %s", slug, env.Error.Code, env.Error.Message)
	}
	if env.JSONRPC == "" || len(env.Result) == 0 {
		return decodeBody(body, "application/json")
	}
	var payload any
	if err := json.Unmarshal(env.Result, &payload); err != nil {
		return nil, mcperr.Wrap(mcperr.KindUpstream, "agent "+slug+" returned an invalid result", err)
	}
	return payload, nil
}
