package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

func restTool(baseURL string) *store.Tool {
	return &store.Tool{
		Common:          store.Common{ID: "tool-rest", Name: "lookup", Enabled: true, Reachable: true},
		IntegrationType: store.IntegrationREST,
		RequestType:     store.RequestGET,
		BaseURL:         baseURL,
	}
}

type recorded struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
}

// recordingServer replies with the given status and body and reports each
// request over the returned channel.
func recordingServer(status int, respBody string) (*httptest.Server, <-chan recorded) {
	ch := make(chan recorded, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   body,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	return srv, ch
}

func TestInvokeRESTGet(t *testing.T) {
	srv, seen := recordingServer(http.StatusOK, `{"status":"found","count":3}`)
	defer srv.Close()

	tool := restTool(srv.URL)
	tool.PathTemplate = "/orders/{order_id}"
	tool.QueryMapping = map[string]string{"expand": "expand"}

	d := testDispatcher(t, config.RateLimitConfig{})
	res, err := d.Invoke(context.Background(), Request{
		Tool: tool,
		Args: map[string]any{"order_id": float64(42), "expand": "items", "verbose": true},
	})
	require.NoError(t, err)

	payload, ok := res.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "found", payload["status"])
	assert.Equal(t, float64(3), payload["count"])

	got := <-seen
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/orders/42", got.path)
	assert.Equal(t, "items", got.query.Get("expand"))
	// Unmapped arguments ride along as query parameters on GET.
	assert.Equal(t, "true", got.query.Get("verbose"))
}

func TestInvokeRESTPostBody(t *testing.T) {
	srv, seen := recordingServer(http.StatusOK, `{"id":"n1"}`)
	defer srv.Close()

	tool := restTool(srv.URL)
	tool.RequestType = store.RequestPOST
	tool.PathTemplate = "/notes"
	tool.HeaderMapping = map[string]string{"X-Trace": "trace_id"}

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{
		Tool: tool,
		Args: map[string]any{"title": "hello", "trace_id": "t-9"},
	})
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "t-9", got.header.Get("X-Trace"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, map[string]any{"title": "hello"}, body)
}

func TestInvokeRESTMissingPathArg(t *testing.T) {
	tool := restTool("http://upstream.invalid")
	tool.PathTemplate = "/orders/{order_id}"

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
	require.True(t, mcperr.IsKind(err, mcperr.KindInvalidRequest))
	assert.Contains(t, err.Error(), "order_id")
}

func TestInvokeRESTPassthroughHeaders(t *testing.T) {
	srv, seen := recordingServer(http.StatusOK, `{}`)
	defer srv.Close()

	tool := restTool(srv.URL)
	tool.ExposePassthrough = true
	tool.PassthroughHeaders = []string{"Authorization", "X-Tenant", "Cookie", "X-Gateway-Internal"}

	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer abc")
	inbound.Set("X-Tenant", "team-1")
	inbound.Set("Cookie", "session=1")
	inbound.Set("X-Gateway-Internal", "1")
	inbound.Set("X-Unlisted", "nope")

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}, Inbound: inbound})
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, "Bearer abc", got.header.Get("Authorization"))
	assert.Equal(t, "team-1", got.header.Get("X-Tenant"))
	assert.Empty(t, got.header.Get("Cookie"))
	assert.Empty(t, got.header.Get("X-Gateway-Internal"))
	assert.Empty(t, got.header.Get("X-Unlisted"))
}

func TestInvokeRESTPassthroughDisabled(t *testing.T) {
	srv, seen := recordingServer(http.StatusOK, `{}`)
	defer srv.Close()

	tool := restTool(srv.URL)
	tool.PassthroughHeaders = []string{"Authorization"}

	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer abc")

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}, Inbound: inbound})
	require.NoError(t, err)

	got := <-seen
	assert.Empty(t, got.header.Get("Authorization"))
}

func TestInvokeRESTAllowlist(t *testing.T) {
	tool := restTool("http://evil.example.com")
	tool.Allowlist = []string{"api.example.com", "https://backup.example.com"}

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
	require.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
	assert.Equal(t, "URL_NOT_ALLOWED", mcperr.ReasonCode(err))
}

func TestCheckAllowlist(t *testing.T) {
	mustURL := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}
	tests := []struct {
		name  string
		url   string
		allow []string
		ok    bool
	}{
		{"empty list allows anything", "http://anywhere.test", nil, true},
		{"host match", "https://api.example.com/v1", []string{"api.example.com"}, true},
		{"host with port", "https://api.example.com:8443/v1", []string{"api.example.com:8443"}, true},
		{"hostname matches despite port", "https://api.example.com:8443/v1", []string{"api.example.com"}, true},
		{"scheme mismatch", "http://api.example.com/v1", []string{"https://api.example.com"}, false},
		{"scheme match", "https://api.example.com/v1", []string{"https://api.example.com"}, true},
		{"case insensitive", "https://API.Example.COM/v1", []string{"api.example.com"}, true},
		{"other host denied", "https://attacker.test/v1", []string{"api.example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAllowlist(mustURL(tt.url), tt.allow)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
			}
		})
	}
}

func TestInvokeRESTRedirectReChecked(t *testing.T) {
	outside := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"leaked":true}`))
	}))
	defer outside.Close()

	inside := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, outside.URL, http.StatusFound)
	}))
	defer inside.Close()

	insideHost := strings.TrimPrefix(inside.URL, "http://")
	tool := restTool(inside.URL)
	tool.Allowlist = []string{insideHost}

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
	require.Error(t, err)
	assert.True(t, mcperr.IsKind(err, mcperr.KindPolicyDenied))
}

func TestInvokeRESTRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := testDispatcher(t, config.RateLimitConfig{})
	res, err := d.Invoke(context.Background(), Request{Tool: restTool(srv.URL), Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, res.Payload)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeRESTRetryObserver(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var (
		invocations int
		retries     []store.IntegrationType
	)
	d := testDispatcher(t, config.RateLimitConfig{},
		WithObserver(func(string, store.IntegrationType, string, time.Duration) {
			invocations++
		}),
		WithRetryObserver(func(tool string, integration store.IntegrationType) {
			assert.Equal(t, "lookup", tool)
			retries = append(retries, integration)
		}))

	_, err := d.Invoke(context.Background(), Request{Tool: restTool(srv.URL), Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	// One completion record, one retry record per extra attempt.
	assert.Equal(t, 1, invocations)
	require.Len(t, retries, 2)
	assert.Equal(t, store.IntegrationREST, retries[0])
}

func TestInvokeRESTNoRetryForNonIdempotent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := restTool(srv.URL)
	tool.RequestType = store.RequestPOST

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
	require.True(t, mcperr.IsKind(err, mcperr.KindUpstream))
	assert.Equal(t, int32(1), calls.Load())

	// Marking the tool idempotent restores the retry budget.
	calls.Store(0)
	tool.Idempotent = true
	_, err = d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestInvokeRESTHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var waited time.Duration
	d := testDispatcher(t, config.RateLimitConfig{})
	d.sleep = func(_ context.Context, wait time.Duration) error {
		waited = wait
		return nil
	}

	_, err := d.Invoke(context.Background(), Request{Tool: restTool(srv.URL), Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, waited)
}

func TestInvokeRESTClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`missing`))
	}))
	defer srv.Close()

	d := testDispatcher(t, config.RateLimitConfig{})
	_, err := d.Invoke(context.Background(), Request{Tool: restTool(srv.URL), Args: map[string]any{}})
	require.True(t, mcperr.IsKind(err, mcperr.KindUpstream))
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeRESTResponseCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	cfg := testGatewayConfig()
	cfg.MaxResponseBytes = 1024
	d := New(cfg, config.RateLimitConfig{})
	d.jitter = func(time.Duration) time.Duration { return 0 }
	d.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := d.Invoke(context.Background(), Request{Tool: restTool(srv.URL), Args: map[string]any{}})
	require.True(t, mcperr.IsKind(err, mcperr.KindUpstream))
	assert.Contains(t, err.Error(), "exceeded")
}

func TestInvokeRESTHostGate(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	defer close(release)

	d := testDispatcher(t, config.RateLimitConfig{MaxInFlightPerHost: 1})
	tool := restTool(srv.URL)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
		errCh <- err
	}()

	// The first call holds the only slot once its request reaches the
	// server; a second call must be refused immediately.
	<-started
	_, err := d.Invoke(context.Background(), Request{Tool: tool, Args: map[string]any{}})
	assert.True(t, mcperr.IsKind(err, mcperr.KindRateLimited))

	release <- struct{}{}
	require.NoError(t, <-errCh)
}

func TestStringifyArg(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{true, "true"},
		{float64(42), "42"},
		{float64(4.5), "4.5"},
		{nil, ""},
		{[]any{"a", "b"}, `["a","b"]`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stringifyArg(tt.in))
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	wait := parseRetryAfter(future)
	assert.Greater(t, wait, 20*time.Second)
	assert.LessOrEqual(t, wait, 30*time.Second)
}

func TestDecodeBody(t *testing.T) {
	v, err := decodeBody([]byte(`{"a":1}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	v, err = decodeBody([]byte("plain text"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain text", v)

	// Undeclared JSON is still decoded when it parses.
	v, err = decodeBody([]byte(`[1,2]`), "")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, v)

	_, err = decodeBody([]byte(`{broken`), "application/json")
	assert.True(t, mcperr.IsKind(err, mcperr.KindUpstream))

	v, err = decodeBody(nil, "")
	require.NoError(t, err)
	assert.Nil(t, v)
}
