package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/instrumentation"
)

// statusRecorder captures the response status for metrics. The first
// WriteHeader or Write wins; later calls cannot change the recorded
// code, mirroring net/http behavior.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func record(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wrote {
		sr.status = code
		sr.wrote = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wrote = true
	return sr.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer so http.ResponseController can
// reach Flusher and Hijacker on it.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Flush forwards to the wrapped writer; SSE streams depend on it.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetrics records a duration histogram and request counter per
// method, route, and status. Dynamic path segments are collapsed before
// labeling so per-entity and per-session URLs cannot explode metric
// cardinality. A nil or disabled provider makes the middleware a
// pass-through.
func HTTPMetrics(provider *instrumentation.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provider == nil || !provider.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sr := record(w)
			next.ServeHTTP(sr, r)

			provider.Metrics().RecordHTTPRequest(
				r.Context(),
				r.Method,
				routeLabel(r.URL.Path),
				sr.status,
				time.Since(start),
			)
		})
	}
}

var (
	uuidSegment    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericSegment = regexp.MustCompile(`/\d+(/|$)`)
)

// routeLabel maps a request path to a bounded label. Scoped MCP
// endpoints keep their trailing surface name (/servers/:id/mcp), entity
// routes lose their UUID, and any bare MCP session path collapses to
// one label.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/servers/"); ok {
		if id, tail, found := strings.Cut(rest, "/"); found && id != "" {
			surface, _, _ := strings.Cut(tail, "/")
			return "/servers/:id/" + surface
		}
		return "/servers/:id"
	}
	if rest, ok := strings.CutPrefix(path, "/mcp/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/mcp/:session"
	}
	path = uuidSegment.ReplaceAllString(path, ":uuid")
	return numericSegment.ReplaceAllString(path, "/:id$1")
}
