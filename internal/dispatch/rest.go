package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const (
	retryBackoffBase = 250 * time.Millisecond
	retryBackoffMax  = 5 * time.Second

	// fallbackResponseLimit guards against a zero MaxResponseBytes.
	fallbackResponseLimit = 10 << 20
)

// pathParamPattern matches {name} placeholders in a path template.
var pathParamPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

func (d *Dispatcher) invokeREST(ctx context.Context, tool *store.Tool, args map[string]any, inbound http.Header) (*Result, error) {
	plan, err := d.restPlan(tool, args, inbound)
	if err != nil {
		return nil, err
	}
	release, err := d.inflight.acquire(plan.url.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	body, contentType, err := d.execute(ctx, tool, plan, d.retryBudget(tool))
	if err != nil {
		return nil, err
	}
	payload, err := decodeBody(body, contentType)
	if err != nil {
		return nil, err
	}
	return &Result{Payload: payload}, nil
}

// retryBudget returns the number of retries permitted after the first
// attempt. The per-tool override wins when set; non-GET tools get no
// retries unless explicitly marked idempotent.
func (d *Dispatcher) retryBudget(tool *store.Tool) int {
	retries := d.cfg.MaxRetries
	if tool.MaxRetries != nil {
		retries = *tool.MaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	if tool.RequestType != store.RequestGET && !tool.Idempotent {
		return 0
	}
	return retries
}

// httpPlan is one fully-built upstream request, replayable across
// retries.
type httpPlan struct {
	method string
	url    *url.URL
	header http.Header
	body   []byte
	allow  []string
}

// request materializes the plan. The tool allowlist rides along in the
// context so the redirect policy can re-check every hop.
func (p *httpPlan) request(ctx context.Context) (*http.Request, error) {
	if len(p.allow) > 0 {
		ctx = context.WithValue(ctx, allowlistKey{}, p.allow)
	}
	var rd io.Reader
	if len(p.body) > 0 {
		rd = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url.String(), rd)
	if err != nil {
		return nil, err
	}
	for name, values := range p.header {
		req.Header[name] = values
	}
	return req, nil
}

// restPlan builds the upstream request from the tool's REST adapter
// config. Arguments are consumed by path placeholders, then query and
// header mappings; leftovers become query parameters for GET and DELETE
// and a JSON body otherwise.
func (d *Dispatcher) restPlan(tool *store.Tool, args map[string]any, inbound http.Header) (*httpPlan, error) {
	if tool.BaseURL == "" {
		return nil, mcperr.Newf(mcperr.KindInvalidRequest, "tool %s has no base_url", tool.Name)
	}
	method := string(tool.RequestType)
	if method == "" {
		method = http.MethodPost
	}

	consumed := make(map[string]bool)
	path, err := substitutePath(tool.PathTemplate, args, consumed)
	if err != nil {
		return nil, err
	}
	full := strings.TrimRight(tool.BaseURL, "/")
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		full += path
	}
	u, err := url.Parse(full)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInvalidRequest, "tool "+tool.Name+" builds an invalid url", err)
	}

	q := u.Query()
	for param, argName := range tool.QueryMapping {
		if v, ok := args[argName]; ok {
			q.Set(param, stringifyArg(v))
			consumed[argName] = true
		}
	}

	header := make(http.Header)
	header.Set("Accept", "application/json")
	d.applyPassthrough(header, tool, inbound)
	for name, argName := range tool.HeaderMapping {
		if v, ok := args[argName]; ok {
			header.Set(name, stringifyArg(v))
			consumed[argName] = true
		}
	}

	leftovers := make(map[string]any)
	for name, v := range args {
		if !consumed[name] {
			leftovers[name] = v
		}
	}
	var body []byte
	switch method {
	case http.MethodGet, http.MethodDelete:
		for name, v := range leftovers {
			q.Set(name, stringifyArg(v))
		}
	default:
		if len(leftovers) > 0 {
			body, err = json.Marshal(leftovers)
			if err != nil {
				return nil, mcperr.Wrap(mcperr.KindInvalidRequest, "encode request body", err)
			}
			header.Set("Content-Type", "application/json")
		}
	}
	u.RawQuery = q.Encode()

	if err := checkAllowlist(u, tool.Allowlist); err != nil {
		return nil, err
	}
	return &httpPlan{
		method: method,
		url:    u,
		header: header,
		body:   body,
		allow:  tool.Allowlist,
	}, nil
}

// substitutePath replaces {name} placeholders with path-escaped argument
// values. All placeholders must resolve.
func substitutePath(template string, args map[string]any, consumed map[string]bool) (string, error) {
	if template == "" {
		return "", nil
	}
	var missing []string
	path := pathParamPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		consumed[name] = true
		return url.PathEscape(stringifyArg(v))
	})
	if len(missing) > 0 {
		return "", mcperr.Newf(mcperr.KindInvalidRequest,
			"missing arguments for path template: %s", strings.Join(missing, ", "))
	}
	return path, nil
}

// stringifyArg renders a decoded JSON value for use in a URL or header.
// Integral floats print without a fraction so {id} substitution does not
// produce "42.000000".
func stringifyArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// applyPassthrough copies the inbound headers the tool names onto the
// upstream request. Cookies and gateway-internal headers are refused even
// when listed; Authorization is forwarded only because listing it is the
// explicit whitelist the tool config requires.
func (d *Dispatcher) applyPassthrough(header http.Header, tool *store.Tool, inbound http.Header) {
	if !tool.ExposePassthrough || inbound == nil {
		return
	}
	for _, name := range tool.PassthroughHeaders {
		if !forwardableHeader(name) {
			d.logger.Debug("refusing passthrough of blocked header",
				logging.Tool(tool.Name),
				slog.String("header", name))
			continue
		}
		if v := inbound.Get(name); v != "" {
			header.Set(name, v)
		}
	}
}

func forwardableHeader(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch lower {
	case "cookie", "set-cookie", "host", "content-length", "transfer-encoding":
		return false
	}
	return !strings.HasPrefix(lower, "x-gateway-")
}

// checkAllowlist enforces the tool's host/scheme restriction against a
// final URL. Entries are either "host", "host:port", or
// "scheme://host[:port]"; comparison is case-insensitive and exact.
func checkAllowlist(u *url.URL, allow []string) error {
	if len(allow) == 0 {
		return nil
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	hostname := strings.ToLower(u.Hostname())
	for _, entry := range allow {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		wantScheme, rest, hasScheme := strings.Cut(e, "://")
		if !hasScheme {
			rest = e
		} else if wantScheme != scheme {
			continue
		}
		if rest == host || rest == hostname {
			return nil
		}
	}
	return mcperr.Newf(mcperr.KindPolicyDenied,
		"url host %s is not in the tool allowlist", u.Host).
		WithCode("URL_NOT_ALLOWED")
}

type allowlistKey struct{}

// redirectPolicy re-checks the allowlist on every redirect hop, so a
// permitted host cannot bounce the gateway to a forbidden one.
func redirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	allow, _ := req.Context().Value(allowlistKey{}).([]string)
	return checkAllowlist(req.URL, allow)
}

// execute runs the plan with up to retries additional attempts. Retries
// cover connection errors, 5xx and 429; a Retry-After on 429 stretches
// the backoff. Any other status, and a bad body on 2xx, fail without
// retry.
func (d *Dispatcher) execute(ctx context.Context, tool *store.Tool, plan *httpPlan, retries int) ([]byte, string, error) {
	var (
		lastErr    error
		retryAfter time.Duration
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if d.observeRetry != nil {
				d.observeRetry(tool.Name, tool.IntegrationType)
			}
			wait := d.backoff(attempt)
			if retryAfter > wait {
				wait = retryAfter
			}
			retryAfter = 0
			d.logger.Debug("retrying tool call",
				logging.Tool(tool.Name),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait))
			if err := d.sleep(ctx, wait); err != nil {
				return nil, "", lastErr
			}
		}

		req, err := plan.request(ctx)
		if err != nil {
			return nil, "", mcperr.Wrap(mcperr.KindInternal, "build upstream request", err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			// A policy error from the redirect check arrives wrapped in
			// *url.Error and must not be retried or reclassified.
			var ge *mcperr.Error
			if errors.As(err, &ge) {
				return nil, "", ge
			}
			lastErr = mcperr.Wrap(mcperr.KindUpstream, "upstream connection failed", err)
			if ctx.Err() != nil || attempt >= retries {
				return nil, "", lastErr
			}
			continue
		}

		body, readErr := readBody(resp, d.cfg.MaxResponseBytes)
		status := resp.StatusCode
		switch {
		case status >= 200 && status < 300:
			if readErr != nil {
				return nil, "", readErr
			}
			return body, resp.Header.Get("Content-Type"), nil
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = upstreamStatusErr(status, body)
			if status == http.StatusTooManyRequests {
				retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			}
			if attempt >= retries {
				return nil, "", lastErr
			}
		default:
			return nil, "", upstreamStatusErr(status, body)
		}
	}
}

// backoff computes the exponential delay before the given retry attempt
// (attempt >= 1), with jitter of up to half the base delay.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := retryBackoffBase << (attempt - 1)
	if wait <= 0 || wait > retryBackoffMax {
		wait = retryBackoffMax
	}
	return wait + d.jitter(wait/2)
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if wait := time.Until(t); wait > 0 {
			return wait
		}
	}
	return 0
}

// readBody drains and closes the response body, bounded by the configured
// response cap.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	if limit <= 0 {
		limit = fallbackResponseLimit
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindUpstream, "read upstream response", err)
	}
	if int64(len(body)) > limit {
		return nil, mcperr.Newf(mcperr.KindUpstream, "upstream response exceeded %d bytes", limit)
	}
	return body, nil
}

// decodeBody turns the raw response into a result payload. Declared JSON
// must parse; anything else passes through as text.
func decodeBody(body []byte, contentType string) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	isJSON := strings.Contains(strings.ToLower(contentType), "json")
	if isJSON || looksLikeJSON(body) {
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			if isJSON {
				return nil, mcperr.Wrap(mcperr.KindUpstream, "upstream returned invalid JSON", err)
			}
			return string(body), nil
		}
		return v, nil
	}
	return string(body), nil
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func upstreamStatusErr(status int, body []byte) *mcperr.Error {
	if status == http.StatusTooManyRequests {
		return mcperr.New(mcperr.KindRateLimited, "upstream rate limited the call")
	}
	msg := fmt.Sprintf("upstream returned status %d", status)
	if snippet := bodySnippet(body); snippet != "" {
		msg += ": " + snippet
	}
	return mcperr.New(mcperr.KindUpstream, msg)
}

// bodySnippet extracts a short printable excerpt for error messages.
func bodySnippet(body []byte) string {
	const max = 200
	s := strings.ToValidUTF8(string(body), "")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		s = s[:max]
	}
	return s
}
