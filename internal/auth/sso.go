package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const ssoStateTTL = 10 * time.Minute

// Profile is what an identity provider asserts about a user after a
// successful code exchange.
type Profile struct {
	Email    string
	FullName string
}

// IdentityProvider abstracts an SSO backend. Implementations redirect the
// user to AuthorizeURL and turn the returned code into a profile.
type IdentityProvider interface {
	Name() string
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Profile, error)
}

// OAuth2Provider implements IdentityProvider over a standard OAuth2
// authorization-code flow with a JSON userinfo endpoint. It covers
// GitHub, Google, and generic OIDC providers given their endpoints.
type OAuth2Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
}

// NewOAuth2Provider builds a provider. The userinfo endpoint must return
// JSON with at least an "email" field; "name" is used when present.
func NewOAuth2Provider(name string, config *oauth2.Config, userInfoURL string) *OAuth2Provider {
	return &OAuth2Provider{name: name, config: config, userInfoURL: userInfoURL}
}

func (p *OAuth2Provider) Name() string { return p.name }

func (p *OAuth2Provider) AuthorizeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string) (*Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info endpoint returned %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}
	if info.Email == "" {
		return nil, errors.New("identity provider returned no email")
	}
	return &Profile{Email: info.Email, FullName: info.Name}, nil
}

// SSOStart begins a provider login and returns the authorization URL.
// The state parameter is single-use and expires after ten minutes.
func (s *Service) SSOStart(ctx context.Context, providerName string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", mcperr.Newf(mcperr.KindNotFound, "unknown identity provider %q", providerName)
	}
	state, err := newOpaqueToken()
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindInternal, "generating state", err)
	}
	if err := s.cache.Set(ctx, ssoStateKey(state), []byte(providerName), ssoStateTTL); err != nil {
		return "", mcperr.Wrap(mcperr.KindInternal, "storing SSO state", err)
	}
	return provider.AuthorizeURL(state), nil
}

// SSOCallback completes a provider login: the state is consumed, the code
// exchanged, and the user provisioned on first sight. The domain
// allow-list gates registration and the admin domain list grants platform
// admin.
func (s *Service) SSOCallback(ctx context.Context, providerName, state, code string, meta RequestMeta) (string, *Identity, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", nil, mcperr.Newf(mcperr.KindNotFound, "unknown identity provider %q", providerName)
	}
	if err := s.consumeState(ctx, state, providerName); err != nil {
		return "", nil, err
	}

	profile, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return "", nil, mcperr.Wrap(mcperr.KindAuthRequired, "identity provider rejected the login", err)
	}
	email := normalizeEmail(profile.Email)
	if !validEmail(email) {
		return "", nil, mcperr.New(mcperr.KindAuthRequired, "identity provider returned an invalid email")
	}
	if !domainAllowed(email, s.cfg.SSOAllowedDomains) {
		return "", nil, mcperr.New(mcperr.KindForbidden, "email domain is not allowed")
	}

	user, err := s.provisionSSOUser(ctx, email, profile.FullName)
	if err != nil {
		return "", nil, err
	}
	if user.Locked(s.now().UTC()) {
		return "", nil, mcperr.New(mcperr.KindForbidden, "account temporarily locked")
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
	s.logger.Info("sso login", logging.UserHash(email), logging.Status(providerName))
	ident, err := s.identityFor(ctx, user, jti, false, nil, "")
	if err != nil {
		return "", nil, err
	}
	return token, ident, nil
}

// consumeState validates and burns an SSO state token.
func (s *Service) consumeState(ctx context.Context, state, providerName string) error {
	if state == "" {
		return mcperr.New(mcperr.KindAuthRequired, "missing SSO state")
	}
	stored, err := s.cache.Get(ctx, ssoStateKey(state))
	if err != nil || string(stored) != providerName {
		return mcperr.New(mcperr.KindAuthRequired, "invalid or expired SSO state")
	}
	if err := s.cache.Delete(ctx, ssoStateKey(state)); err != nil && !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("deleting SSO state failed", logging.Err(err))
	}
	return nil
}

// provisionSSOUser creates the user on first SSO login and keeps the
// admin-domain grant current for existing users.
func (s *Service) provisionSSOUser(ctx context.Context, email, fullName string) (*store.User, error) {
	admin := domainIn(email, s.cfg.SSOAdminDomains)

	user, err := s.store.GetUser(ctx, email)
	switch {
	case err == nil:
		if admin && !user.IsPlatformAdmin {
			user.IsPlatformAdmin = true
			if err := s.store.UpdateUser(ctx, user); err != nil {
				return nil, mcperr.Wrap(mcperr.KindInternal, "updating user", err)
			}
		}
	case errors.Is(err, store.ErrNotFound):
		user = &store.User{
			Email:           email,
			FullName:        fullName,
			IsPlatformAdmin: admin,
			IsEmailVerified: true,
			CreatedAt:       s.now().UTC(),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, mcperr.Wrap(mcperr.KindInternal, "creating user", err)
		}
		s.logger.Info("sso user provisioned", logging.UserHash(email),
			logging.Domain(email))
	default:
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}

	if err := s.ensurePersonalTeam(ctx, email); err != nil {
		return nil, err
	}
	return user, nil
}

func ssoStateKey(state string) string {
	return "auth:sso:state:" + state
}

// domainAllowed applies an allow-list; an empty list allows everything.
func domainAllowed(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	return domainIn(email, domains)
}

func domainIn(email string, domains []string) bool {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return false
	}
	for _, d := range domains {
		if strings.EqualFold(domain, d) {
			return true
		}
	}
	return false
}
