// Package store provides the persistence layer for the gateway: catalog
// entities, users and teams, API tokens, and the auth event log. All
// handler and service code depends on the Store interface, keeping the
// SQL implementation swappable between SQLite (default) and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by all implementations.
var (
	// ErrNotFound indicates the row does not exist. Callers that applied
	// a visibility scope cannot distinguish "absent" from "hidden".
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness-key violation.
	ErrDuplicate = errors.New("duplicate key")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrBadCursor indicates a pagination cursor that was not produced
	// by this store.
	ErrBadCursor = errors.New("invalid pagination cursor")
)

// Scope restricts reads to what a principal may see, implementing the
// visibility predicate: platform admins see everything; otherwise an
// entity is visible when it is public, team-scoped to one of the
// principal's teams, or privately owned by the principal.
type Scope struct {
	PlatformAdmin bool
	Email         string
	TeamIDs       []string
}

// Unrestricted returns a scope that bypasses visibility filtering. For
// internal subsystems (federation sync, dispatch by resolved ID) only.
func Unrestricted() Scope {
	return Scope{PlatformAdmin: true}
}

// Filter narrows list queries. Zero fields don't filter.
type Filter struct {
	// TeamID restricts to entities registered under one team.
	TeamID string

	// GatewayID restricts tools to one peer gateway's catalog. The
	// literal value "local" selects tools with no gateway.
	GatewayID string

	// Enabled filters on operator intent when non-nil.
	Enabled *bool

	// CreatedVia filters on provenance.
	CreatedVia CreatedVia

	// Tag requires the tag to be present on the entity.
	Tag string

	// Search matches a substring of the name.
	Search string
}

// GatewayLocal is the Filter.GatewayID value selecting non-federated tools.
const GatewayLocal = "local"

// Page selects a window of a list query. When Cursor is set it takes
// precedence over the offset; results are always ordered by
// (created_at DESC, id DESC) so cursors are stable under inserts.
type Page struct {
	// Number is 1-based.
	Number int
	Size   int

	// Cursor is an opaque token produced by a previous page.
	Cursor string
}

// Offset returns the row offset for offset-based pagination.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// ToolStore persists tools.
type ToolStore interface {
	CreateTool(ctx context.Context, tool *Tool) error
	GetTool(ctx context.Context, scope Scope, id string) (*Tool, error)
	GetToolByName(ctx context.Context, scope Scope, gatewayID *string, name string) (*Tool, error)
	ListTools(ctx context.Context, scope Scope, filter Filter, page Page) ([]Tool, int, error)
	UpdateTool(ctx context.Context, tool *Tool) error
	DeleteTool(ctx context.Context, id string) error
	SetToolStatus(ctx context.Context, id string, enabled bool) error
	SetToolsReachableByGateway(ctx context.Context, gatewayID string, reachable bool) error
	DisableToolsMissingFromGateway(ctx context.Context, gatewayID string, keepNames []string) (int, error)
	PurgeDisabledFederatedTools(ctx context.Context, before time.Time) (int, error)
	DeleteToolsByGateway(ctx context.Context, gatewayID string) (int, error)
}

// ResourceStore persists resources.
type ResourceStore interface {
	CreateResource(ctx context.Context, resource *Resource) error
	GetResource(ctx context.Context, scope Scope, id string) (*Resource, error)
	GetResourceByURI(ctx context.Context, scope Scope, uri string) (*Resource, error)
	ListResources(ctx context.Context, scope Scope, filter Filter, page Page) ([]Resource, int, error)
	UpdateResource(ctx context.Context, resource *Resource) error
	DeleteResource(ctx context.Context, id string) error
	SetResourceStatus(ctx context.Context, id string, enabled bool) error
	SetResourcesReachableByGateway(ctx context.Context, gatewayID string, reachable bool) error
	DisableResourcesMissingFromGateway(ctx context.Context, gatewayID string, keepURIs []string) (int, error)
	PurgeDisabledFederatedResources(ctx context.Context, before time.Time) (int, error)
	DeleteResourcesByGateway(ctx context.Context, gatewayID string) (int, error)
}

// PromptStore persists prompts.
type PromptStore interface {
	CreatePrompt(ctx context.Context, prompt *Prompt) error
	GetPrompt(ctx context.Context, scope Scope, id string) (*Prompt, error)
	GetPromptByName(ctx context.Context, scope Scope, name string) (*Prompt, error)
	ListPrompts(ctx context.Context, scope Scope, filter Filter, page Page) ([]Prompt, int, error)
	UpdatePrompt(ctx context.Context, prompt *Prompt) error
	DeletePrompt(ctx context.Context, id string) error
	SetPromptStatus(ctx context.Context, id string, enabled bool) error
	SetPromptsReachableByGateway(ctx context.Context, gatewayID string, reachable bool) error
	DisablePromptsMissingFromGateway(ctx context.Context, gatewayID string, keepNames []string) (int, error)
	PurgeDisabledFederatedPrompts(ctx context.Context, before time.Time) (int, error)
	DeletePromptsByGateway(ctx context.Context, gatewayID string) (int, error)
}

// ServerStore persists virtual servers.
type ServerStore interface {
	CreateServer(ctx context.Context, server *VirtualServer) error
	GetServer(ctx context.Context, scope Scope, id string) (*VirtualServer, error)
	ListServers(ctx context.Context, scope Scope, filter Filter, page Page) ([]VirtualServer, int, error)
	UpdateServer(ctx context.Context, server *VirtualServer) error
	DeleteServer(ctx context.Context, id string) error
	SetServerStatus(ctx context.Context, id string, enabled bool) error
}

// GatewayStore persists peer gateways.
type GatewayStore interface {
	CreateGateway(ctx context.Context, gateway *Gateway) error
	GetGateway(ctx context.Context, scope Scope, id string) (*Gateway, error)
	ListGateways(ctx context.Context, scope Scope, filter Filter, page Page) ([]Gateway, int, error)
	UpdateGateway(ctx context.Context, gateway *Gateway) error
	DeleteGateway(ctx context.Context, id string) error
	SetGatewayStatus(ctx context.Context, id string, enabled bool) error
	SetGatewayReachable(ctx context.Context, id string, reachable bool) error
}

// AgentStore persists A2A agents.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *A2AAgent) error
	GetAgent(ctx context.Context, scope Scope, id string) (*A2AAgent, error)
	GetAgentBySlug(ctx context.Context, scope Scope, slug string) (*A2AAgent, error)
	ListAgents(ctx context.Context, scope Scope, filter Filter, page Page) ([]A2AAgent, int, error)
	UpdateAgent(ctx context.Context, agent *A2AAgent) error
	DeleteAgent(ctx context.Context, id string) error
	SetAgentStatus(ctx context.Context, id string, enabled bool) error
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context, page Page) ([]User, int, error)
}

// TeamStore persists teams, memberships, and invitations.
type TeamStore interface {
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeamsForUser(ctx context.Context, email string) ([]Team, error)
	ListTeamIDsForUser(ctx context.Context, email string) ([]string, error)
	UpdateTeam(ctx context.Context, team *Team) error
	DeleteTeam(ctx context.Context, id string) error

	AddTeamMember(ctx context.Context, member *TeamMember) error
	RemoveTeamMember(ctx context.Context, teamID, email string) error
	GetTeamMember(ctx context.Context, teamID, email string) (*TeamMember, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error)
	ListMembershipsForUser(ctx context.Context, email string) ([]TeamMember, error)

	CreateInvitation(ctx context.Context, invitation *TeamInvitation) error
	GetInvitationByToken(ctx context.Context, token string) (*TeamInvitation, error)
	MarkInvitationUsed(ctx context.Context, id string, at time.Time) error
}

// TokenStore persists API tokens.
type TokenStore interface {
	CreateAPIToken(ctx context.Context, token *APIToken) error
	GetAPIToken(ctx context.Context, id string) (*APIToken, error)
	GetAPITokenByJTI(ctx context.Context, jti string) (*APIToken, error)
	ListAPITokens(ctx context.Context, email string) ([]APIToken, error)
	RevokeAPIToken(ctx context.Context, id string, at time.Time) error
	DeleteAPIToken(ctx context.Context, id string) error
}

// AuthEventStore persists the authentication log.
type AuthEventStore interface {
	RecordAuthEvent(ctx context.Context, event *AuthEvent) error
	ListAuthEvents(ctx context.Context, email string, page Page) ([]AuthEvent, int, error)
}

// Store is the composed persistence interface.
type Store interface {
	ToolStore
	ResourceStore
	PromptStore
	ServerStore
	GatewayStore
	AgentStore
	UserStore
	TeamStore
	TokenStore
	AuthEventStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}
