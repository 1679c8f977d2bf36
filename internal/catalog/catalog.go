// Package catalog implements the registry service on top of the store.
// Every read goes through the visibility predicate, every mutation through
// the ownership rules and the admin hook chain, and committed changes
// invalidate the catalog cache. Handlers and internal subsystems
// (federation, dispatch, the MCP server) all mutate catalog state through
// this package rather than the store directly.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Actor identifies the principal performing a catalog operation together
// with the team context needed for visibility and mutation checks. The
// auth middleware builds one per request; internal subsystems use System.
type Actor struct {
	Email         string
	PlatformAdmin bool

	// TeamIDs are the teams the actor belongs to; OwnedTeamIDs is the
	// subset the actor owns.
	TeamIDs      []string
	OwnedTeamIDs []string
}

// System returns the actor used by internal subsystems such as the
// federation manager. It bypasses visibility and mutation checks.
func System() Actor {
	return Actor{PlatformAdmin: true}
}

// Scope converts the actor into the store's visibility scope.
func (a Actor) Scope() store.Scope {
	return store.Scope{PlatformAdmin: a.PlatformAdmin, Email: a.Email, TeamIDs: a.TeamIDs}
}

// Allowed reports whether the actor may see the entity. It is the
// in-process twin of the predicate the store compiles into queries, so
// cache hits and database reads answer identically.
func (a Actor) Allowed(c *store.Common) bool {
	if a.PlatformAdmin {
		return true
	}
	switch c.Visibility {
	case store.VisibilityPublic:
		return true
	case store.VisibilityTeam:
		return c.TeamID != "" && a.memberOf(c.TeamID)
	case store.VisibilityPrivate:
		return a.Email != "" && c.OwnerEmail == a.Email
	}
	return false
}

// CanMutate reports whether the actor may change or remove the entity:
// the owner, an owner of the entity's team, or a platform admin.
func (a Actor) CanMutate(c *store.Common) bool {
	if a.PlatformAdmin {
		return true
	}
	if a.Email != "" && c.OwnerEmail == a.Email {
		return true
	}
	return c.TeamID != "" && a.ownsTeam(c.TeamID)
}

func (a Actor) memberOf(teamID string) bool {
	for _, id := range a.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

func (a Actor) ownsTeam(teamID string) bool {
	for _, id := range a.OwnedTeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// AdminAction names a catalog lifecycle transition observed by admin
// hooks.
type AdminAction string

const (
	ActionRegister     AdminAction = "register"
	ActionUpdate       AdminAction = "update"
	ActionDelete       AdminAction = "delete"
	ActionStatusChange AdminAction = "status_change"
)

// AdminEvent describes one catalog mutation for the hook chain.
type AdminEvent struct {
	Kind   store.EntityKind
	Action AdminAction
	ID     string

	// Entity is the post-mutation state for register and update events,
	// nil for delete and status changes.
	Entity any

	// Enabled carries the new status for ActionStatusChange.
	Enabled *bool

	// Changed names the fields an update touched; populated for gateway
	// updates so federation can decide whether to re-handshake.
	Changed []string

	Actor Actor
}

// AdminHooks observes catalog mutations. An error from Pre aborts the
// mutation before anything is written; Post runs after commit and cannot
// block. The plugin engine adapts these events onto the per-entity
// register/update/delete/status_change hook set.
type AdminHooks interface {
	Pre(ctx context.Context, ev AdminEvent) error
	Post(ctx context.Context, ev AdminEvent)
}

// NopHooks is the AdminHooks used when no plugin engine is attached.
type NopHooks struct{}

func (NopHooks) Pre(context.Context, AdminEvent) error { return nil }
func (NopHooks) Post(context.Context, AdminEvent)      {}

// MultiHooks fans each admin event out to several hook chains. Pre runs
// in order and the first error aborts the mutation; Post always reaches
// every chain.
type MultiHooks []AdminHooks

func (m MultiHooks) Pre(ctx context.Context, ev AdminEvent) error {
	for _, h := range m {
		if h == nil {
			continue
		}
		if err := h.Pre(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiHooks) Post(ctx context.Context, ev AdminEvent) {
	for _, h := range m {
		if h == nil {
			continue
		}
		h.Post(ctx, ev)
	}
}

// PageDefaults bounds list windows.
type PageDefaults struct {
	// Size is applied when the request names none.
	Size int

	// MaxSize caps the requested size.
	MaxSize int

	// CursorThreshold is the deepest row offset served by offset
	// pagination; windows starting at or beyond it must use cursors.
	CursorThreshold int
}

// Service is the catalog registry.
type Service struct {
	store  store.Store
	cache  cache.Cache
	vault  secrets.Vault
	hooks  AdminHooks
	logger *slog.Logger

	separator string
	pages     PageDefaults
	cacheTTL  time.Duration

	now   func() time.Time
	newID func() string
}

// Option configures the Service.
type Option func(*Service)

// WithCache attaches a cache for entity reads and the per-kind
// generation counters.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithVault sets the vault that encrypts gateway and agent credentials
// at rest.
func WithVault(v secrets.Vault) Option {
	return func(s *Service) { s.vault = v }
}

// WithHooks attaches the admin hook chain.
func WithHooks(h AdminHooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSeparator sets the string joining a peer gateway name and a tool
// name into the qualified form shown to clients.
func WithSeparator(sep string) Option {
	return func(s *Service) { s.separator = sep }
}

// WithPageDefaults sets the pagination bounds.
func WithPageDefaults(p PageDefaults) Option {
	return func(s *Service) { s.pages = p }
}

// WithCacheTTL bounds how long a cached entity may be served.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) { s.cacheTTL = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides ID generation, for tests.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// NewService returns a catalog registry over the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		vault:     secrets.Disabled(),
		hooks:     NopHooks{},
		logger:    slog.Default(),
		separator: "__",
		pages:     PageDefaults{Size: 50, MaxSize: 500, CursorThreshold: 10000},
		cacheTTL:  5 * time.Minute,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeError maps store sentinels onto the gateway error taxonomy. The
// noun names the entity in user-facing messages.
func storeError(noun string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return mcperr.New(mcperr.KindNotFound, noun+" not found")
	case errors.Is(err, store.ErrDuplicate):
		return mcperr.Newf(mcperr.KindConflict, "a %s with the same uniqueness key already exists", noun)
	case errors.Is(err, store.ErrBadCursor):
		return mcperr.New(mcperr.KindInvalidRequest, "invalid pagination cursor")
	default:
		return mcperr.Wrap(mcperr.KindInternal, noun+" storage failure", err)
	}
}

// hookError passes plugin verdicts through unchanged and wraps anything
// else as a plugin failure.
func hookError(err error) error {
	var me *mcperr.Error
	if errors.As(err, &me) {
		return err
	}
	return mcperr.Wrap(mcperr.KindPluginError, "admin hook rejected the operation", err)
}

func notFound(noun string) error {
	return mcperr.New(mcperr.KindNotFound, noun+" not found")
}

func forbidden(message string) error {
	return mcperr.New(mcperr.KindForbidden, message)
}

// pre runs the admin pre-hook chain for the event.
func (s *Service) pre(ctx context.Context, ev AdminEvent) error {
	if err := s.hooks.Pre(ctx, ev); err != nil {
		return hookError(err)
	}
	return nil
}

// post runs the admin post-hook chain and bumps the cache.
func (s *Service) post(ctx context.Context, ev AdminEvent) {
	s.invalidate(ctx, ev.Kind, ev.ID)
	s.hooks.Post(ctx, ev)
}

func entityCacheKey(kind store.EntityKind, id string) string {
	return "catalog:" + string(kind) + ":" + id
}

func generationKey(kind store.EntityKind) string {
	return "catalog:gen:" + string(kind)
}

// invalidate drops the entity from the cache and bumps the kind's
// generation counter so derived caches (tool listings, virtual server
// snapshots) go stale with it. Failures are logged, not returned: the
// database commit already happened and cached rows expire by TTL.
func (s *Service) invalidate(ctx context.Context, kind store.EntityKind, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, entityCacheKey(kind, id)); err != nil {
		s.logger.Warn("catalog cache invalidation failed",
			logging.Entity(string(kind)), logging.EntityID(id), logging.Err(err))
	}
	if _, err := s.cache.Incr(ctx, generationKey(kind), -1); err != nil {
		s.logger.Warn("catalog generation bump failed",
			logging.Entity(string(kind)), logging.Err(err))
	}
}

// Generation returns a counter that changes whenever any entity of the
// kind is mutated. Callers embed it in keys of caches derived from
// catalog state. Without a cache it returns zero, disabling such caches.
func (s *Service) Generation(ctx context.Context, kind store.EntityKind) int64 {
	if s.cache == nil {
		return 0
	}
	raw, err := s.cache.Get(ctx, generationKey(kind))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// fromCache returns the cached entity, or nil on miss, decode failure, or
// when no cache is attached.
func fromCache[T any](ctx context.Context, s *Service, kind store.EntityKind, id string) *T {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, entityCacheKey(kind, id))
	if err != nil {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// toCache stores the entity under its cache key. Gateways and agents are
// never passed here: their credential fields do not survive the JSON
// round-trip.
func toCache[T any](ctx context.Context, s *Service, kind store.EntityKind, id string, v *T) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, entityCacheKey(kind, id), raw, s.cacheTTL); err != nil {
		s.logger.Debug("catalog cache write failed",
			logging.Entity(string(kind)), logging.EntityID(id), logging.Err(err))
	}
}

// fillCommon applies the server-side fields of a new entity: identity,
// ownership, provenance, and timestamps. Non-admin actors always own what
// they create; platform admins may register on behalf of another owner.
func (s *Service) fillCommon(c *store.Common, actor Actor) {
	now := s.now().UTC()
	c.ID = s.newID()
	if c.OwnerEmail == "" || !actor.PlatformAdmin {
		c.OwnerEmail = actor.Email
	}
	if c.Visibility == "" {
		c.Visibility = store.VisibilityPrivate
	}
	if c.CreatedVia == "" {
		c.CreatedVia = store.CreatedViaAPI
	}
	if c.CreatedBy == "" {
		c.CreatedBy = actor.Email
	}
	c.Enabled = true
	c.Reachable = true
	c.CreatedAt = now
	c.UpdatedAt = now
}

// checkTeam verifies that a non-admin actor belongs to the team it is
// scoping an entity to.
func (s *Service) checkTeam(actor Actor, teamID string) error {
	if teamID == "" || actor.PlatformAdmin {
		return nil
	}
	if !actor.memberOf(teamID) {
		return forbidden("not a member of team " + teamID)
	}
	return nil
}

// mergeCommon carries the immutable fields of the stored entity into an
// update and enforces who may change ownership. Enabled and Reachable are
// never touched by updates: status changes go through the explicit status
// operation and reachability belongs to the health prober.
func (s *Service) mergeCommon(existing, in *store.Common, actor Actor) error {
	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.CreatedVia = existing.CreatedVia
	in.CreatedBy = existing.CreatedBy
	in.Enabled = existing.Enabled
	in.Reachable = existing.Reachable

	if in.OwnerEmail == "" {
		in.OwnerEmail = existing.OwnerEmail
	}
	if in.OwnerEmail != existing.OwnerEmail && !actor.PlatformAdmin {
		return forbidden("only platform admins may transfer ownership")
	}
	if in.Visibility == "" {
		in.Visibility = existing.Visibility
	}
	if in.TeamID != existing.TeamID {
		if err := s.checkTeam(actor, in.TeamID); err != nil {
			return err
		}
	}
	in.UpdatedAt = s.now().UTC()
	return nil
}
