package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applySecurity(t *testing.T, cfg SecurityHeadersConfig) http.Header {
	t.Helper()
	handler := SecurityHeaders(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec.Header()
}

func TestSecurityHeadersBaseline(t *testing.T) {
	h := applySecurity(t, SecurityHeadersConfig{})

	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", h.Get("Referrer-Policy"))
	assert.Contains(t, h.Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.Contains(t, h.Get("Permissions-Policy"), "geolocation=()")

	// No TLS and HSTS not forced.
	assert.Empty(t, h.Get("Strict-Transport-Security"))

	// Isolation headers stay off so SSO popups keep window.opener.
	assert.Empty(t, h.Get("Cross-Origin-Opener-Policy"))
	assert.Empty(t, h.Get("Cross-Origin-Embedder-Policy"))
}

func TestSecurityHeadersHSTSForced(t *testing.T) {
	h := applySecurity(t, SecurityHeadersConfig{EnableHSTS: true})
	assert.Contains(t, h.Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestSecurityHeadersCrossOriginIsolation(t *testing.T) {
	h := applySecurity(t, SecurityHeadersConfig{EnableCrossOriginIsolation: true})
	assert.Equal(t, "same-origin", h.Get("Cross-Origin-Opener-Policy"))
	assert.Equal(t, "require-corp", h.Get("Cross-Origin-Embedder-Policy"))
	assert.Equal(t, "same-origin", h.Get("Cross-Origin-Resource-Policy"))
}

func TestValidateAllowedOrigins(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr string
	}{
		{name: "empty means allow-all", raw: "", want: nil},
		{name: "single origin", raw: "https://app.example.com", want: []string{"https://app.example.com"}},
		{
			name: "list with whitespace and empties",
			raw:  " https://app.example.com , http://localhost:3000 ,, ",
			want: []string{"https://app.example.com", "http://localhost:3000"},
		},
		{
			name: "trailing slash normalized away",
			raw:  "https://app.example.com/",
			want: []string{"https://app.example.com"},
		},
		{name: "missing scheme", raw: "app.example.com", wantErr: "http or https"},
		{name: "non-http scheme", raw: "ftp://app.example.com", wantErr: "http or https"},
		{name: "path rejected", raw: "https://app.example.com/admin", wantErr: "must not include a path"},
		{name: "query rejected", raw: "https://app.example.com?x=1", wantErr: "must not include a path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAllowedOrigins(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaxRequestSize(t *testing.T) {
	handler := MaxRequestSize(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		_, err := r.Body.Read(buf)
		if err != nil && !strings.Contains(err.Error(), "EOF") {
			var maxErr *http.MaxBytesError
			require.ErrorAs(t, err, &maxErr)
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("small body passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/tools", strings.NewReader("tiny"))
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("oversized body rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/tools", strings.NewReader(strings.Repeat("x", 64)))
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("zero cap disables the check", func(t *testing.T) {
		open := MaxRequestSize(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/tools", strings.NewReader(strings.Repeat("x", 1024)))
		open.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
