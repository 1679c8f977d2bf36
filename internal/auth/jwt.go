package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
)

// Token use markers. API tokens must resolve to a stored ApiToken row;
// session tokens are validated against the user's token epoch instead.
const (
	TokenUseSession = ""
	TokenUseAPI     = "api"
)

// Claims carried by every gateway-issued token.
type Claims struct {
	jwt.RegisteredClaims

	TeamCtx         string   `json:"team_ctx,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
	IsPlatformAdmin bool     `json:"is_platform_admin,omitempty"`
	TokenUse        string   `json:"token_use,omitempty"`

	// Epoch snapshots the user's token epoch at issuance. Session tokens
	// with a stale epoch are rejected.
	Epoch int `json:"epoch,omitempty"`
}

// TokenSpec describes a token to issue.
type TokenSpec struct {
	Subject       string
	TeamCtx       string
	Scopes        []string
	PlatformAdmin bool
	TokenUse      string
	Epoch         int

	// TTL bounds the token lifetime; zero issues a non-expiring token
	// (API tokens only).
	TTL time.Duration

	// JTI overrides the generated token ID.
	JTI string
}

// TokenManager signs and verifies gateway JWTs with a single configured
// algorithm. Audience and issuer are enforced on every parse.
type TokenManager struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	audience  string
	issuer    string
	now       func() time.Time
}

// NewTokenManager builds a manager from the auth configuration, loading
// PEM key material for RS* and ES* algorithms.
func NewTokenManager(cfg config.AuthConfig) (*TokenManager, error) {
	method := jwt.GetSigningMethod(cfg.JWTAlgorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported JWT algorithm %q", cfg.JWTAlgorithm)
	}

	m := &TokenManager{
		method:   method,
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
		now:      time.Now,
	}

	switch {
	case strings.HasPrefix(cfg.JWTAlgorithm, "HS"):
		secret := []byte(cfg.JWTSecret)
		if len(secret) == 0 {
			return nil, fmt.Errorf("algorithm %s requires a secret", cfg.JWTAlgorithm)
		}
		m.signKey = secret
		m.verifyKey = secret

	case strings.HasPrefix(cfg.JWTAlgorithm, "RS"):
		pem, err := os.ReadFile(cfg.JWTPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading JWT private key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing JWT private key: %w", err)
		}
		m.signKey = key
		m.verifyKey = &key.PublicKey
		if cfg.JWTPublicKeyFile != "" {
			pub, err := readRSAPublicKey(cfg.JWTPublicKeyFile)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}

	case strings.HasPrefix(cfg.JWTAlgorithm, "ES"):
		pem, err := os.ReadFile(cfg.JWTPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading JWT private key: %w", err)
		}
		key, err := jwt.ParseECPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing JWT private key: %w", err)
		}
		m.signKey = key
		m.verifyKey = &key.PublicKey
		if cfg.JWTPublicKeyFile != "" {
			pub, err := readECPublicKey(cfg.JWTPublicKeyFile)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}

	default:
		return nil, fmt.Errorf("unsupported JWT algorithm %q", cfg.JWTAlgorithm)
	}
	return m, nil
}

func readRSAPublicKey(path string) (any, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading JWT public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing JWT public key: %w", err)
	}
	return key, nil
}

func readECPublicKey(path string) (any, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading JWT public key: %w", err)
	}
	key, err := jwt.ParseECPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing JWT public key: %w", err)
	}
	return key, nil
}

// Issue signs a token for the spec and returns it with its JTI.
func (m *TokenManager) Issue(spec TokenSpec) (string, string, error) {
	jti := spec.JTI
	if jti == "" {
		jti = uuid.NewString()
	}
	now := m.now().UTC()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			Subject:  spec.Subject,
			Audience: jwt.ClaimStrings{m.audience},
			Issuer:   m.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		TeamCtx:         spec.TeamCtx,
		Scopes:          spec.Scopes,
		IsPlatformAdmin: spec.PlatformAdmin,
		TokenUse:        spec.TokenUse,
		Epoch:           spec.Epoch,
	}
	if spec.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(spec.TTL))
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", "", fmt.Errorf("signing token: %w", err)
	}
	return signed, jti, nil
}

// Parse verifies a token against the configured algorithm, audience, and
// issuer, and returns its claims.
func (m *TokenManager) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.verifyKey, nil },
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithAudience(m.audience),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, mcperr.New(mcperr.KindAuthRequired, "token expired")
		}
		return nil, mcperr.New(mcperr.KindAuthRequired, "invalid token")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, mcperr.New(mcperr.KindAuthRequired, "token is missing required claims")
	}
	return claims, nil
}
