package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const minPasswordLength = 8

// Identity is an authenticated principal with its current memberships.
// Role and team data are read fresh on validation, not trusted from
// claims, so demotions and removals take effect on the next request.
type Identity struct {
	Email         string
	PlatformAdmin bool
	TeamIDs       []string
	OwnedTeamIDs  []string
	Scopes        []string
	TeamCtx       string

	// TokenID is the JTI of the presented credential; APIToken marks it
	// as a stored long-lived token rather than a session.
	TokenID  string
	APIToken bool
}

// RequestMeta carries client attribution for the auth event log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service implements identity: registration, password and SSO login,
// lockout, session and API token issuance, revocation, and team
// membership.
type Service struct {
	store     store.Store
	tokens    *TokenManager
	cfg       config.AuthConfig
	cache     cache.Cache
	logger    *slog.Logger
	providers map[string]IdentityProvider
	now       func() time.Time
	newID     func() string
}

// Option configures the service.
type Option func(*Service)

// WithCache replaces the default in-process cache used for revocation
// marks and SSO state. Multi-replica deployments point this at Redis.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithProvider registers an SSO identity provider.
func WithProvider(p IdentityProvider) Option {
	return func(s *Service) { s.providers[p.Name()] = p }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.tokens.now = now
	}
}

// WithIDGenerator overrides ID generation for tests.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// NewService builds the auth service.
func NewService(st store.Store, tokens *TokenManager, cfg config.AuthConfig, opts ...Option) *Service {
	s := &Service{
		store:     st,
		tokens:    tokens,
		cfg:       cfg,
		cache:     cache.NewMemory(10 * time.Minute),
		logger:    slog.Default(),
		providers: make(map[string]IdentityProvider),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// normalizeEmail case-folds the address so differently cased spellings
// resolve to one account. Folding covers the full Unicode range, not
// just ASCII.
func normalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func invalidCredentials() error {
	return mcperr.New(mcperr.KindAuthRequired, "invalid credentials")
}

// Register creates a user with a personal team. The first registered user
// becomes the platform admin, bootstrapping a fresh installation.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*store.User, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, mcperr.New(mcperr.KindInvalidRequest, "invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, mcperr.Newf(mcperr.KindInvalidRequest,
			"password must be at least %d characters", minPasswordLength)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "hashing password", err)
	}

	_, existing, err := s.store.ListUsers(ctx, store.Page{Size: 1})
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "counting users", err)
	}

	user := &store.User{
		Email:           email,
		FullName:        fullName,
		PasswordHash:    hash,
		IsPlatformAdmin: existing == 0,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, mcperr.New(mcperr.KindConflict, "a user with this email already exists")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "creating user", err)
	}
	if err := s.ensurePersonalTeam(ctx, email); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", logging.UserHash(email),
		slog.Bool("platform_admin", user.IsPlatformAdmin))
	return user, nil
}

// ensurePersonalTeam creates the user's personal team on first login or
// registration. Idempotent: an existing personal team is left alone.
func (s *Service) ensurePersonalTeam(ctx context.Context, email string) error {
	teams, err := s.store.ListTeamsForUser(ctx, email)
	if err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "listing teams", err)
	}
	for _, team := range teams {
		if team.Personal {
			return nil
		}
	}

	now := s.now().UTC()
	team := &store.Team{
		ID:         s.newID(),
		Name:       email,
		OwnerEmail: email,
		Visibility: store.VisibilityPrivate,
		Personal:   true,
		CreatedAt:  now,
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "creating personal team", err)
	}
	member := &store.TeamMember{TeamID: team.ID, UserEmail: email, Role: store.RoleOwner, CreatedAt: now}
	if err := s.store.AddTeamMember(ctx, member); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "creating personal team membership", err)
	}
	return nil
}

// Login verifies a password and returns a session token. Failures count
// toward lockout; a locked account rejects even the correct password
// until the lock expires.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (string, *Identity, error) {
	email = normalizeEmail(email)
	now := s.now().UTC()

	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recordEvent(ctx, email, store.AuthEventFail, meta)
			return "", nil, invalidCredentials()
		}
		return "", nil, mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	if user.Locked(now) {
		s.recordEvent(ctx, email, store.AuthEventFail, meta)
		return "", nil, mcperr.New(mcperr.KindForbidden, "account temporarily locked")
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return "", nil, s.registerFailure(ctx, user, meta)
	}

	if user.FailedLogins != 0 || user.LockedUntil != nil {
		user.FailedLogins = 0
		user.LockedUntil = nil
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return "", nil, mcperr.Wrap(mcperr.KindInternal, "updating user", err)
		}
	}

	token, jti, err := s.tokens.Issue(TokenSpec{
		Subject:       email,
		PlatformAdmin: user.IsPlatformAdmin,
		Epoch:         user.TokenEpoch,
		TTL:           s.cfg.TokenTTL,
	})
	if err != nil {
		return "", nil, mcperr.Wrap(mcperr.KindInternal, "issuing token", err)
	}

	s.recordEvent(ctx, email, store.AuthEventLogin, meta)
	ident, err := s.identityFor(ctx, user, jti, false, nil, "")
	if err != nil {
		return "", nil, err
	}
	return token, ident, nil
}

// registerFailure counts a failed attempt and locks the account when the
// threshold is reached. Locking resets the counter, so an expired lock
// grants a fresh set of attempts.
func (s *Service) registerFailure(ctx context.Context, user *store.User, meta RequestMeta) error {
	event := store.AuthEventFail
	user.FailedLogins++
	if s.cfg.FailedLoginThreshold > 0 && user.FailedLogins >= s.cfg.FailedLoginThreshold {
		until := s.now().UTC().Add(s.cfg.LockoutDuration)
		user.LockedUntil = &until
		user.FailedLogins = 0
		event = store.AuthEventLockout
		s.logger.Warn("account locked after repeated failures",
			logging.UserHash(user.Email), slog.Time("until", until))
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "updating user", err)
	}
	s.recordEvent(ctx, user.Email, event, meta)
	return invalidCredentials()
}

// ChangePassword verifies the current password, stores a new hash, and
// bumps the token epoch so all outstanding sessions are revoked.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	email = normalizeEmail(email)
	if len(next) < minPasswordLength {
		return mcperr.Newf(mcperr.KindInvalidRequest,
			"password must be at least %d characters", minPasswordLength)
	}

	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	ok, err := VerifyPassword(current, user.PasswordHash)
	if err != nil || !ok {
		return mcperr.New(mcperr.KindAuthRequired, "current password is incorrect")
	}

	hash, err := HashPassword(next)
	if err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "hashing password", err)
	}
	user.PasswordHash = hash
	user.TokenEpoch++
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "updating user", err)
	}
	s.logger.Info("password changed", logging.UserHash(email))
	return nil
}

// RevokeSessions bumps the user's token epoch, invalidating every
// outstanding session token. API tokens survive.
func (s *Service) RevokeSessions(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	user.TokenEpoch++
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "updating user", err)
	}
	s.recordEvent(ctx, email, store.AuthEventLogout, meta)
	return nil
}

// ValidateToken authenticates a bearer token: signature, audience, and
// issuer through the token manager, then revocation. API tokens must
// still resolve to a live ApiToken row; session tokens must carry the
// user's current epoch.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*Identity, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if s.revoked(ctx, claims.ID) {
		return nil, mcperr.New(mcperr.KindAuthRequired, "token revoked")
	}

	apiToken := claims.TokenUse == TokenUseAPI
	if apiToken {
		row, err := s.store.GetAPITokenByJTI(ctx, claims.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, mcperr.New(mcperr.KindAuthRequired, "token revoked")
			}
			return nil, mcperr.Wrap(mcperr.KindInternal, "checking token revocation", err)
		}
		if row.Revoked(now) {
			s.markRevoked(ctx, claims.ID)
			return nil, mcperr.New(mcperr.KindAuthRequired, "token revoked")
		}
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mcperr.New(mcperr.KindAuthRequired, "unknown token subject")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	if user.Locked(now) {
		return nil, mcperr.New(mcperr.KindForbidden, "account temporarily locked")
	}
	if !apiToken && claims.Epoch != user.TokenEpoch {
		return nil, mcperr.New(mcperr.KindAuthRequired, "session superseded")
	}

	return s.identityFor(ctx, user, claims.ID, apiToken, claims.Scopes, claims.TeamCtx)
}

// IdentityForEmail assembles the principal for an externally
// authenticated subject. The HTTP auth hooks use this when a plugin
// resolves the user before the built-in token check runs; the caller
// vouches for the subject, the gateway still supplies role and team
// state from its own records.
func (s *Service) IdentityForEmail(ctx context.Context, email string) (*Identity, error) {
	user, err := s.store.GetUser(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mcperr.New(mcperr.KindAuthRequired, "unknown user")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	if user.Locked(s.now().UTC()) {
		return nil, mcperr.New(mcperr.KindForbidden, "account temporarily locked")
	}
	return s.identityFor(ctx, user, "", false, nil, "")
}

// identityFor assembles the principal with memberships read from the
// store.
func (s *Service) identityFor(ctx context.Context, user *store.User, jti string, apiToken bool, scopes []string, teamCtx string) (*Identity, error) {
	memberships, err := s.store.ListMembershipsForUser(ctx, user.Email)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "listing memberships", err)
	}
	ident := &Identity{
		Email:         user.Email,
		PlatformAdmin: user.IsPlatformAdmin,
		Scopes:        scopes,
		TeamCtx:       teamCtx,
		TokenID:       jti,
		APIToken:      apiToken,
	}
	for _, m := range memberships {
		ident.TeamIDs = append(ident.TeamIDs, m.TeamID)
		if m.Role == store.RoleOwner {
			ident.OwnedTeamIDs = append(ident.OwnedTeamIDs, m.TeamID)
		}
	}
	return ident, nil
}

// ListAuthEvents returns a user's authentication log, newest first.
func (s *Service) ListAuthEvents(ctx context.Context, email string, page store.Page) ([]store.AuthEvent, int, error) {
	events, total, err := s.store.ListAuthEvents(ctx, normalizeEmail(email), page)
	if err != nil {
		return nil, 0, mcperr.Wrap(mcperr.KindInternal, "listing auth events", err)
	}
	return events, total, nil
}

// recordEvent appends to the auth log. Best effort: a write failure is
// logged and never blocks the login path.
func (s *Service) recordEvent(ctx context.Context, email string, typ store.AuthEventType, meta RequestMeta) {
	event := &store.AuthEvent{
		ID:        s.newID(),
		UserEmail: email,
		Event:     typ,
		Timestamp: s.now().UTC(),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.store.RecordAuthEvent(ctx, event); err != nil {
		s.logger.Warn("recording auth event failed",
			logging.UserHash(email), logging.Status(string(typ)), logging.Err(err))
	}
}

func revocationKey(jti string) string {
	return "auth:revoked:" + jti
}

func (s *Service) markRevoked(ctx context.Context, jti string) {
	if err := s.cache.Set(ctx, revocationKey(jti), []byte("1"), -1); err != nil {
		s.logger.Warn("recording token revocation failed", logging.Err(err))
	}
}

func (s *Service) revoked(ctx context.Context, jti string) bool {
	_, err := s.cache.Get(ctx, revocationKey(jti))
	return err == nil
}
