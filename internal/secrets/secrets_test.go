package secrets

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte(strings.Repeat("k", 32))
}

func TestAESVaultRoundTrip(t *testing.T) {
	vault, err := NewAESVault(testKey())
	require.NoError(t, err)

	ciphertext, err := vault.Encrypt("Bearer super-secret-token")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "super-secret")

	plaintext, err := vault.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "Bearer super-secret-token", plaintext)
}

func TestAESVaultEmptyString(t *testing.T) {
	vault, err := NewAESVault(testKey())
	require.NoError(t, err)

	ciphertext, err := vault.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ciphertext)

	plaintext, err := vault.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", plaintext)
}

func TestAESVaultNonDeterministic(t *testing.T) {
	vault, err := NewAESVault(testKey())
	require.NoError(t, err)

	first, err := vault.Encrypt("value")
	require.NoError(t, err)
	second, err := vault.Encrypt("value")
	require.NoError(t, err)

	// Fresh nonce per encryption.
	assert.NotEqual(t, first, second)
}

func TestAESVaultRejectsBadKey(t *testing.T) {
	_, err := NewAESVault([]byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestAESVaultRejectsTamperedCiphertext(t *testing.T) {
	vault, err := NewAESVault(testKey())
	require.NoError(t, err)

	ciphertext, err := vault.Encrypt("value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = vault.Decrypt(tampered)
	require.Error(t, err)

	_, err = vault.Decrypt("not-base64!!!")
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key := testKey()

	tests := []struct {
		name          string
		encoded       string
		expectedError string
	}{
		{name: "hex", encoded: hex.EncodeToString(key)},
		{name: "base64", encoded: base64.StdEncoding.EncodeToString(key)},
		{name: "empty", encoded: "", expectedError: "no encryption key"},
		{name: "wrong length", encoded: hex.EncodeToString(key[:16]), expectedError: "32 bytes"},
		{name: "garbage", encoded: "!!definitely-not-a-key!!", expectedError: "32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := ParseKey(tt.encoded)
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, key, decoded)
		})
	}
}

func TestDisabledVault(t *testing.T) {
	vault := Disabled()

	_, err := vault.Encrypt("credential")
	assert.ErrorIs(t, err, ErrNoEncryptionKey)

	// Empty strings still pass so entities without credentials work.
	out, err := vault.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestSecretStringRedaction(t *testing.T) {
	s := NewSecretString("hunter2")

	assert.Equal(t, "[redacted]", s.String())
	assert.Equal(t, "[redacted]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[redacted]", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Reveal())
	assert.False(t, s.IsZero())
	assert.True(t, NewSecretString("").IsZero())
}

func TestSecretStringJSON(t *testing.T) {
	payload := struct {
		Token SecretString `json:"token"`
	}{Token: NewSecretString("hunter2")}

	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "hunter2")
	assert.Contains(t, string(encoded), "[redacted]")

	var decoded struct {
		Token SecretString `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"token":"plain-value"}`), &decoded))
	assert.Equal(t, "plain-value", decoded.Token.Reveal())
}

func TestCertSignerRoundTrip(t *testing.T) {
	priv, err := GenerateSigningKey()
	require.NoError(t, err)

	signer, err := NewCertSigner(priv, nil)
	require.NoError(t, err)

	data := []byte("issued-certificate-body")
	sig := signer.Sign(data)

	assert.True(t, signer.Verify(data, sig))
	assert.False(t, signer.Verify([]byte("different"), sig))
	assert.False(t, signer.Verify(data, "not-base64!!!"))
}

func TestCertSignerPreviousKeyFallback(t *testing.T) {
	oldKey, err := GenerateSigningKey()
	require.NoError(t, err)
	newKey, err := GenerateSigningKey()
	require.NoError(t, err)

	oldSigner, err := NewCertSigner(oldKey, nil)
	require.NoError(t, err)
	data := []byte("certificate-signed-before-rotation")
	oldSig := oldSigner.Sign(data)

	// After rotation the new signer still verifies old signatures.
	rotated, err := NewCertSigner(newKey, oldKey.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.True(t, rotated.Verify(data, oldSig))

	// Without the previous key it does not.
	bare, err := NewCertSigner(newKey, nil)
	require.NoError(t, err)
	assert.False(t, bare.Verify(data, oldSig))
}
