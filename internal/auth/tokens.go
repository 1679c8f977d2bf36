package auth

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CreateAPIToken mints a long-lived token for the user and stores its
// catalog entry. The signed token is returned once and cannot be
// recovered later.
func (s *Service) CreateAPIToken(ctx context.Context, email, name string, scope store.TokenScope, scopeRef string, ttl time.Duration) (string, *store.APIToken, error) {
	email = normalizeEmail(email)
	if name == "" {
		return "", nil, mcperr.New(mcperr.KindInvalidRequest, "token name is required")
	}
	switch scope {
	case "":
		scope = store.TokenScopeAll
	case store.TokenScopeAll, store.TokenScopeTeam, store.TokenScopeServer:
	default:
		return "", nil, mcperr.Newf(mcperr.KindInvalidRequest, "unknown token scope %q", scope)
	}
	if scope != store.TokenScopeAll && scopeRef == "" {
		return "", nil, mcperr.Newf(mcperr.KindInvalidRequest, "scope %q requires a scope_ref", scope)
	}

	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return "", nil, mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	if ttl <= 0 {
		ttl = s.cfg.APITokenTTL
	}

	jti := s.newID()
	raw, _, err := s.tokens.Issue(TokenSpec{
		Subject:       email,
		PlatformAdmin: user.IsPlatformAdmin,
		TokenUse:      TokenUseAPI,
		TTL:           ttl,
		JTI:           jti,
	})
	if err != nil {
		return "", nil, mcperr.Wrap(mcperr.KindInternal, "issuing token", err)
	}

	now := s.now().UTC()
	token := &store.APIToken{
		ID:        s.newID(),
		UserEmail: email,
		Name:      name,
		JTI:       jti,
		Scope:     scope,
		ScopeRef:  scopeRef,
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		token.ExpiresAt = &expires
	}
	if err := s.store.CreateAPIToken(ctx, token); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", nil, mcperr.New(mcperr.KindConflict, "a token with this name already exists")
		}
		return "", nil, mcperr.Wrap(mcperr.KindInternal, "storing token", err)
	}

	s.logger.Info("api token created", logging.UserHash(email), logging.EntityID(token.ID))
	return raw, token, nil
}

// ListAPITokens returns the user's token catalog. Signed material is not
// stored, only metadata.
func (s *Service) ListAPITokens(ctx context.Context, email string) ([]store.APIToken, error) {
	tokens, err := s.store.ListAPITokens(ctx, normalizeEmail(email))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "listing tokens", err)
	}
	return tokens, nil
}

// RevokeAPIToken revokes one of the user's tokens. The revocation is
// effective immediately: the JTI is marked in the cache and the catalog
// row keeps its revocation timestamp.
func (s *Service) RevokeAPIToken(ctx context.Context, email, id string) error {
	token, err := s.ownedToken(ctx, email, id)
	if err != nil {
		return err
	}
	if err := s.store.RevokeAPIToken(ctx, token.ID, s.now().UTC()); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "revoking token", err)
	}
	s.markRevoked(ctx, token.JTI)
	s.logger.Info("api token revoked", logging.UserHash(email), logging.EntityID(id))
	return nil
}

// DeleteAPIToken removes a token from the catalog. The JTI is marked
// revoked first: without a catalog row an API token no longer validates,
// the cache mark just makes rejection cheap.
func (s *Service) DeleteAPIToken(ctx context.Context, email, id string) error {
	token, err := s.ownedToken(ctx, email, id)
	if err != nil {
		return err
	}
	s.markRevoked(ctx, token.JTI)
	if err := s.store.DeleteAPIToken(ctx, token.ID); err != nil {
		return mcperr.Wrap(mcperr.KindInternal, "deleting token", err)
	}
	return nil
}

// ownedToken loads a token and hides other users' tokens behind not
// found.
func (s *Service) ownedToken(ctx context.Context, email, id string) (*store.APIToken, error) {
	token, err := s.store.GetAPIToken(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mcperr.New(mcperr.KindNotFound, "token not found")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading token", err)
	}
	if token.UserEmail != normalizeEmail(email) {
		return nil, mcperr.New(mcperr.KindNotFound, "token not found")
	}
	return token, nil
}
