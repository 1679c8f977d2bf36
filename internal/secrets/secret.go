package secrets

import "encoding/json"

// redactedPlaceholder is what a SecretString renders as anywhere outside
// an explicit Reveal call.
const redactedPlaceholder = "[redacted]"

// SecretString wraps a sensitive value so that accidental formatting,
// logging, or JSON encoding cannot leak it. The value is only reachable
// through Reveal.
type SecretString struct {
	value string
}

// NewSecretString wraps a sensitive value.
func NewSecretString(value string) SecretString {
	return SecretString{value: value}
}

// Reveal returns the wrapped value. Call sites are easy to audit by
// grepping for Reveal.
func (s SecretString) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s SecretString) IsZero() bool {
	return s.value == ""
}

// String implements fmt.Stringer and always redacts.
func (s SecretString) String() string {
	if s.value == "" {
		return ""
	}
	return redactedPlaceholder
}

// GoString redacts %#v formatting as well.
func (s SecretString) GoString() string {
	return s.String()
}

// MarshalJSON redacts the value in any JSON encoding.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s.value == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// UnmarshalJSON accepts a plain JSON string as the secret value.
func (s *SecretString) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	s.value = value
	return nil
}
