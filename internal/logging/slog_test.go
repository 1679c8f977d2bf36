package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttrHelpers(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want string
	}{
		{"operation", Operation("catalog.create"), KeyOperation, "catalog.create"},
		{"entity", Entity("tool"), KeyEntity, "tool"},
		{"entity id", EntityID("t-123"), KeyEntityID, "t-123"},
		{"gateway", Gateway("eu-west"), KeyGateway, "eu-west"},
		{"team", Team("team-9"), KeyTeam, "team-9"},
		{"tool", Tool("eu-west__search"), KeyTool, "eu-west__search"},
		{"method", Method("tools/call"), KeyMethod, "tools/call"},
		{"session", Session("s-abc"), KeySession, "s-abc"},
		{"request id", RequestID("req-1"), KeyRequestID, "req-1"},
		{"plugin", Plugin("pii-filter"), KeyPlugin, "pii-filter"},
		{"hook", Hook("tool_pre_invoke"), KeyHook, "tool_pre_invoke"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.String())
		})
	}
}

func TestErr(t *testing.T) {
	assert.Equal(t, "", Err(nil).Value.String())
	attr := Err(assert.AnError)
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, assert.AnError.Error(), attr.Value.String())
}

func TestSanitizedErrRedactsUpstreamAddresses(t *testing.T) {
	err := &mockErr{"dial tcp 10.0.12.7:8443: connection refused"}
	attr := SanitizedErr(err)
	assert.Equal(t, KeyError, attr.Key)
	assert.NotContains(t, attr.Value.String(), "10.0.12.7")
	assert.Contains(t, attr.Value.String(), "<redacted-ip>")

	assert.Equal(t, "", SanitizedErr(nil).Value.String())
}

type mockErr struct{ msg string }

func (e *mockErr) Error() string { return e.msg }

func TestSanitizeHost(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "<empty>"},
		{"bare ipv4", "192.168.1.100", "<redacted-ip>"},
		{"bare ipv6", "2001:db8::1", "<redacted-ip>"},
		{"hostname untouched", "upstream.example.com", "upstream.example.com"},
		{"url with ipv4", "https://192.168.1.100:8080", "https://<redacted-ip>:8080"},
		{"url with bracketed ipv6", "https://[2001:db8::1]:8080", "https://<redacted-ip>:8080"},
		{"url with hostname untouched", "https://api.example.com:8080", "https://api.example.com:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeHost(tt.in))
		})
	}
}

func TestAnonymizeEmail(t *testing.T) {
	hashed := AnonymizeEmail("alice@example.com")
	assert.True(t, len(hashed) > 5 && hashed[:5] == "user:")
	assert.NotContains(t, hashed, "alice")

	// Deterministic, so log lines correlate across requests.
	assert.Equal(t, hashed, AnonymizeEmail("alice@example.com"))
	assert.NotEqual(t, hashed, AnonymizeEmail("bob@example.com"))
	assert.Equal(t, "", AnonymizeEmail(""))
}

func TestUserHashNeverLogsPlaintext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("login", UserHash("alice@example.com"))

	out := buf.String()
	assert.NotContains(t, out, "alice@example.com")
	assert.Contains(t, out, KeyUserHash)
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	token := "eyJhbGciOiJFUzI1NiJ9.payload.sig"
	masked := SanitizeToken(token)
	assert.Equal(t, "[token:32 chars]", masked)
	assert.NotContains(t, masked, "eyJ")
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("alice@example.com"))
	assert.Equal(t, "", ExtractDomain("not-an-email"))
	assert.Equal(t, "", ExtractDomain(""))
	assert.Equal(t, "", ExtractDomain("a@b@c"))
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	WithOperation(logger, "dispatch").Info("done")
	WithTool(logger, "search").Info("done")
	WithGateway(logger, "eu-west").Info("done")

	out := buf.String()
	assert.Contains(t, out, "operation=dispatch")
	assert.Contains(t, out, "tool=search")
	assert.Contains(t, out, "gateway=eu-west")
}
