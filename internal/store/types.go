package store

import (
	"encoding/json"
	"time"
)

// Visibility controls who can see a catalog entity or team.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityPublic:
		return true
	}
	return false
}

// CreatedVia records how an entity entered the catalog.
type CreatedVia string

const (
	CreatedViaAPI        CreatedVia = "api"
	CreatedViaUI         CreatedVia = "ui"
	CreatedViaBulkImport CreatedVia = "bulk_import"
	CreatedViaFederation CreatedVia = "federation"
)

// GatewayTransport selects the MCP transport used to reach a peer gateway.
type GatewayTransport string

const (
	TransportSSE            GatewayTransport = "SSE"
	TransportStreamableHTTP GatewayTransport = "STREAMABLEHTTP"
)

// AuthType describes how credentials attach to upstream requests.
type AuthType string

const (
	AuthTypeBasic   AuthType = "basic"
	AuthTypeBearer  AuthType = "bearer"
	AuthTypeHeaders AuthType = "headers"
	AuthTypeOAuth   AuthType = "oauth"
)

// IntegrationType describes how a tool call reaches its implementation.
type IntegrationType string

const (
	IntegrationLocal     IntegrationType = "LOCAL"
	IntegrationREST      IntegrationType = "REST"
	IntegrationGRPC      IntegrationType = "GRPC"
	IntegrationA2A       IntegrationType = "A2A"
	IntegrationFederated IntegrationType = "FEDERATED"
)

// RequestType is the HTTP verb for REST tools.
type RequestType string

const (
	RequestGET    RequestType = "GET"
	RequestPOST   RequestType = "POST"
	RequestPATCH  RequestType = "PATCH"
	RequestPUT    RequestType = "PUT"
	RequestDELETE RequestType = "DELETE"
)

// EntityKind names a catalog entity type. Used in filters, audit records,
// and plugin conditions.
type EntityKind string

const (
	KindTool     EntityKind = "tool"
	KindResource EntityKind = "resource"
	KindPrompt   EntityKind = "prompt"
	KindServer   EntityKind = "server"
	KindGateway  EntityKind = "gateway"
	KindAgent    EntityKind = "a2a_agent"
)

// Common is the block shared by every catalog entity. Enabled reflects
// operator intent; Reachable reflects the most recent health probe.
type Common struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	TeamID      string     `json:"team_id,omitempty"`
	OwnerEmail  string     `json:"owner_email"`
	Visibility  Visibility `json:"visibility"`
	Enabled     bool       `json:"enabled"`
	Reachable   bool       `json:"reachable"`
	CreatedVia  CreatedVia `json:"created_via"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Gateway is a registered peer gateway. Uniqueness: (team_id, url).
type Gateway struct {
	Common

	URL       string           `json:"url"`
	Transport GatewayTransport `json:"transport"`
	AuthType  AuthType         `json:"auth_type,omitempty"`

	// AuthValue is stored encrypted; the store never sees plaintext.
	AuthValue string `json:"-"`

	// Capabilities is the raw capabilities object captured during the
	// federation handshake, including the peer's advertised gateway IDs
	// used for loop detection.
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
}

// Tool is an invocable capability. Uniqueness: (gateway_id, name); a null
// gateway_id groups all non-federated tools. Exactly one of GatewayID
// set/unset determines federated vs local provenance.
type Tool struct {
	Common

	GatewayID       *string         `json:"gateway_id,omitempty"`
	IntegrationType IntegrationType `json:"integration_type"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
	Annotations     json.RawMessage `json:"annotations,omitempty"`

	// REST adapter fields.
	RequestType   RequestType       `json:"request_type,omitempty"`
	BaseURL       string            `json:"base_url,omitempty"`
	PathTemplate  string            `json:"path_template,omitempty"`
	QueryMapping  map[string]string `json:"query_mapping,omitempty"`
	HeaderMapping map[string]string `json:"header_mapping,omitempty"`

	// Allowlist restricts the final URL's host (and optionally scheme)
	// after template substitution. Empty means no restriction.
	Allowlist []string `json:"allowlist,omitempty"`

	// TimeoutMS bounds one invocation; zero uses the gateway default.
	TimeoutMS int `json:"timeout_ms,omitempty"`

	// MaxRetries overrides the global retry budget; nil uses the global
	// default, zero disables retries for this tool.
	MaxRetries *int `json:"max_retries,omitempty"`

	// Idempotent marks non-GET tools as safe to retry.
	Idempotent bool `json:"idempotent,omitempty"`

	// ExposePassthrough enables forwarding of the inbound headers named
	// in PassthroughHeaders.
	ExposePassthrough  bool     `json:"expose_passthrough,omitempty"`
	PassthroughHeaders []string `json:"passthrough_headers,omitempty"`

	// Per-tool plugin chains, by plugin name.
	PluginChainPre  []string `json:"plugin_chain_pre,omitempty"`
	PluginChainPost []string `json:"plugin_chain_post,omitempty"`
}

// Federated reports whether the tool came from a peer gateway.
func (t *Tool) Federated() bool {
	return t.GatewayID != nil && *t.GatewayID != ""
}

// Resource is a readable document. Uniqueness: (gateway_id, uri) for
// federated rows, (team_id, owner_email, uri) for local ones.
type Resource struct {
	Common

	GatewayID *string `json:"gateway_id,omitempty"`
	URI       string  `json:"uri"`
	MimeType  string  `json:"mime_type,omitempty"`
	Text      string  `json:"text,omitempty"`
	Blob      []byte  `json:"blob,omitempty"`
}

// Federated reports whether the resource came from a peer gateway.
func (r *Resource) Federated() bool {
	return r.GatewayID != nil && *r.GatewayID != ""
}

// Prompt is a parameterized template. Uniqueness: (gateway_id, name) for
// federated rows, (team_id, owner_email, name) for local ones.
type Prompt struct {
	Common

	GatewayID       *string         `json:"gateway_id,omitempty"`
	Template        string          `json:"template"`
	ArgumentsSchema json.RawMessage `json:"arguments_schema,omitempty"`
}

// Federated reports whether the prompt came from a peer gateway.
func (p *Prompt) Federated() bool {
	return p.GatewayID != nil && *p.GatewayID != ""
}

// VirtualServer is a named bundle of catalog entities presented as one MCP
// server. Uniqueness: (team_id, owner_email, name).
type VirtualServer struct {
	Common

	Icon                string   `json:"icon,omitempty"`
	AssociatedTools     []string `json:"associated_tools,omitempty"`
	AssociatedResources []string `json:"associated_resources,omitempty"`
	AssociatedPrompts   []string `json:"associated_prompts,omitempty"`
	AssociatedAgents    []string `json:"associated_a2a_agents,omitempty"`
}

// A2AAgent is an agent-to-agent endpoint. Uniqueness: (team_id,
// owner_email, slug).
type A2AAgent struct {
	Common

	Endpoint        string   `json:"endpoint"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	AuthType        AuthType `json:"auth_type,omitempty"`
	AuthValue       string   `json:"-"`
	Slug            string   `json:"slug"`
}

// User is an authenticated principal.
type User struct {
	Email           string     `json:"email"`
	FullName        string     `json:"full_name,omitempty"`
	PasswordHash    string     `json:"-"`
	IsPlatformAdmin bool       `json:"is_platform_admin"`
	IsEmailVerified bool       `json:"is_email_verified"`
	FailedLogins    int        `json:"-"`
	LockedUntil     *time.Time `json:"-"`

	// TokenEpoch is embedded in issued JWTs; bumping it invalidates all
	// outstanding sessions (password change, explicit revoke-all).
	TokenEpoch int       `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Locked reports whether the account is locked at the given instant.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// TeamRole is a member's role within a team.
type TeamRole string

const (
	RoleOwner  TeamRole = "owner"
	RoleMember TeamRole = "member"
)

// Team groups users and scopes entity visibility.
type Team struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	OwnerEmail string     `json:"owner_email"`
	Visibility Visibility `json:"visibility"`

	// Personal marks the team auto-created for a user at registration.
	Personal  bool      `json:"personal"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamMember is a user's membership in a team. Uniqueness: (team_id,
// user_email).
type TeamMember struct {
	TeamID    string    `json:"team_id"`
	UserEmail string    `json:"user_email"`
	Role      TeamRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamInvitation is a single-use, TTL-limited invite.
type TeamInvitation struct {
	ID           string     `json:"id"`
	TeamID       string     `json:"team_id"`
	InviteeEmail string     `json:"invitee_email"`
	Token        string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

// TokenScope bounds what an API token may reach.
type TokenScope string

const (
	TokenScopeAll    TokenScope = "all"
	TokenScopeTeam   TokenScope = "team"
	TokenScopeServer TokenScope = "server"
)

// APIToken is a long-lived credential. Its JTI is checked against
// revocation on every request.
type APIToken struct {
	ID        string     `json:"id"`
	UserEmail string     `json:"user_email"`
	Name      string     `json:"name"`
	JTI       string     `json:"-"`
	Scope     TokenScope `json:"scope"`
	ScopeRef  string     `json:"scope_ref,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Revoked reports whether the token is unusable at the given instant.
func (t *APIToken) Revoked(now time.Time) bool {
	if t.RevokedAt != nil {
		return true
	}
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// AuthEventType classifies auth log entries.
type AuthEventType string

const (
	AuthEventLogin   AuthEventType = "login"
	AuthEventLogout  AuthEventType = "logout"
	AuthEventRefresh AuthEventType = "refresh"
	AuthEventFail    AuthEventType = "fail"
	AuthEventLockout AuthEventType = "lockout"
)

// AuthEvent is one entry in the authentication log.
type AuthEvent struct {
	ID        string        `json:"id"`
	UserEmail string        `json:"user_email"`
	Event     AuthEventType `json:"event"`
	Timestamp time.Time     `json:"ts"`
	IP        string        `json:"ip,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
}
