// Package secrets handles credential material: encryption of stored auth
// values, a string wrapper that keeps tokens out of logs, and the Ed25519
// signer used for signed-certificate mode.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrNoEncryptionKey indicates credential material was supplied while the
// gateway has no encryption key configured. Credentials are never stored
// in the clear.
var ErrNoEncryptionKey = errors.New("no encryption key configured")

// Vault encrypts and decrypts credential strings for storage. The empty
// string round-trips as itself so optional credential columns stay NULL-ish.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AESVault implements Vault with AES-256-GCM. Ciphertexts are
// base64(nonce || sealed) so a single column stores everything needed for
// decryption.
type AESVault struct {
	key []byte
}

// Interface compliance check.
var _ Vault = (*AESVault)(nil)

// NewAESVault creates a vault from a 32-byte key.
func NewAESVault(key []byte) (*AESVault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &AESVault{key: append([]byte(nil), key...)}, nil
}

// ParseKey decodes a key given as hex (64 chars) or standard base64. This
// lets deployments pass the key through an environment variable without
// caring which encoding their secret manager produces.
func ParseKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrNoEncryptionKey
	}
	if decoded, err := hex.DecodeString(encoded); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	return nil, fmt.Errorf("encryption key must decode to 32 bytes (hex or base64)")
}

// Encrypt encrypts plaintext using AES-256-GCM.
func (v *AESVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM.
func (v *AESVault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, cipherBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// disabledVault rejects any credential material. It is installed when no
// encryption key is configured so misconfiguration fails loudly instead of
// silently storing plaintext.
type disabledVault struct{}

// Interface compliance check.
var _ Vault = disabledVault{}

// Disabled returns a Vault that refuses to store credentials.
func Disabled() Vault {
	return disabledVault{}
}

func (disabledVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return "", ErrNoEncryptionKey
}

func (disabledVault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	return "", ErrNoEncryptionKey
}
