package secrets

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoSigningKey indicates signed-certificate mode was requested without
// a signing key.
var ErrNoSigningKey = errors.New("no signing key configured")

// CertSigner signs issued certificates with Ed25519 and verifies
// signatures against the current key with fallback to one previous key,
// so verification keeps working mid-rotation.
type CertSigner struct {
	current  ed25519.PrivateKey
	previous ed25519.PublicKey
}

// NewCertSigner builds a signer from a private key and an optional
// previous public key.
func NewCertSigner(current ed25519.PrivateKey, previous ed25519.PublicKey) (*CertSigner, error) {
	if len(current) != ed25519.PrivateKeySize {
		return nil, ErrNoSigningKey
	}
	return &CertSigner{current: current, previous: previous}, nil
}

// NewCertSignerFromFiles loads PEM-encoded PKCS#8 Ed25519 keys. The
// previous-key path may be empty; the previous key file may contain either
// a private key (its public half is used) or a public key.
func NewCertSignerFromFiles(currentPath, previousPath string) (*CertSigner, error) {
	current, err := loadPrivateKey(currentPath)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	var previous ed25519.PublicKey
	if previousPath != "" {
		previous, err = loadPublicKey(previousPath)
		if err != nil {
			return nil, fmt.Errorf("loading previous signing key: %w", err)
		}
	}

	return NewCertSigner(current, previous)
}

// GenerateSigningKey creates a fresh Ed25519 key pair for bootstrap and
// tests.
func GenerateSigningKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return priv, nil
}

// Sign returns the base64 signature over data.
func (s *CertSigner) Sign(data []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.current, data))
}

// Verify reports whether signature matches data under the current key, or
// the previous key when one is configured.
func (s *CertSigner) Verify(data []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	if ed25519.Verify(s.current.Public().(ed25519.PublicKey), data, sig) {
		return true
	}
	if s.previous != nil {
		return ed25519.Verify(s.previous, data, sig)
	}
	return false
}

// PublicKey returns the current verification key.
func (s *CertSigner) PublicKey() ed25519.PublicKey {
	return s.current.Public().(ed25519.PublicKey)
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want ed25519", parsed)
	}
	return key, nil
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(ed25519.PublicKey); ok {
			return key, nil
		}
		return nil, errors.New("public key is not ed25519")
	}

	// Fall back to a private key file and take its public half.
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want ed25519", parsed)
	}
	return priv.Public().(ed25519.PublicKey), nil
}
