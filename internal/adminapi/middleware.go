package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
)

// permissionGranted is the HTTPPayload.Permission value a
// check-permission plugin sets to waive the built-in authentication
// requirement for the request.
const permissionGranted = "granted"

type grantKey struct{}

func withGrant(ctx context.Context) context.Context {
	return context.WithValue(ctx, grantKey{}, true)
}

func grantedBy(ctx context.Context) bool {
	g, _ := ctx.Value(grantKey{}).(bool)
	return g
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("http_method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_status", ww.Status()),
			slog.Duration(logging.KeyDuration, time.Since(start)),
			logging.RequestID(chimw.GetReqID(r.Context())),
		)
	})
}

// hookPipeline wraps every request in the HTTP hook chain: pre_request,
// then user resolution (resolve-user plugins first, the bearer token
// second), then check_permission, then the handler, then post_request.
// A hook violation ends the request before the handler runs; post hooks
// observe the final status and cannot change the response.
func (s *Server) hookPipeline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		hctx := plugins.NewHookContext(chimw.GetReqID(ctx))
		hctx.SessionID = r.Header.Get("Mcp-Session-Id")

		payload := plugins.HTTPPayload{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: headerMap(r.Header),
		}
		out, err := s.plugins.Invoke(ctx, plugins.HTTPPreRequest, payload, hctx)
		if err != nil {
			writeError(w, err)
			return
		}
		payload = asHTTPPayload(out, payload)

		out, err = s.plugins.Invoke(ctx, plugins.HTTPResolveUser, payload, hctx)
		if err != nil {
			writeError(w, err)
			return
		}
		payload = asHTTPPayload(out, payload)

		ident, err := s.resolveIdentity(ctx, r, payload.User)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-gateway"`)
			writeError(w, err)
			return
		}
		if ident != nil {
			ctx = auth.WithIdentity(ctx, ident)
			payload.User = ident.Email
			hctx.User = ident.Email
			hctx.Team = ident.TeamCtx
			hctx.Tenant = ident.TeamCtx
		}

		out, err = s.plugins.Invoke(ctx, plugins.HTTPCheckPermission, payload, hctx)
		if err != nil {
			writeError(w, err)
			return
		}
		payload = asHTTPPayload(out, payload)
		if payload.Permission == permissionGranted {
			ctx = withGrant(ctx)
		}

		// Downstream catalog mutations run their admin hooks under this
		// request's hook context.
		ctx = plugins.WithHookContext(ctx, hctx)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		payload.Status = ww.Status()
		if _, err := s.plugins.Invoke(r.Context(), plugins.HTTPPostRequest, payload, hctx); err != nil {
			s.logger.Warn("http post hook failed",
				logging.RequestID(hctx.RequestID), logging.Err(err))
		}
	})
}

// resolveIdentity turns the resolve-user hook's verdict or the bearer
// token into a principal. Requests with neither pass through anonymous;
// invalid credentials fail closed.
func (s *Server) resolveIdentity(ctx context.Context, r *http.Request, pluginUser string) (*auth.Identity, error) {
	if pluginUser != "" {
		return s.authsvc.IdentityForEmail(ctx, pluginUser)
	}
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	return s.authsvc.ValidateToken(ctx, token)
}

// requireUser guards the management routes. The MCP transports stay
// outside it: an anonymous MCP session is legal and sees the public
// surface.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.IdentityFrom(r.Context()) == nil && !grantedBy(r.Context()) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-gateway"`)
			writeError(w, mcperr.New(mcperr.KindAuthRequired, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// headerMap flattens the request headers to first values for the hook
// payload.
func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// asHTTPPayload normalizes the chain's payload back to the typed form.
// A plugin that substituted something unrecognizable is ignored.
func asHTTPPayload(v any, prev plugins.HTTPPayload) plugins.HTTPPayload {
	switch p := v.(type) {
	case plugins.HTTPPayload:
		return p
	case *plugins.HTTPPayload:
		return *p
	default:
		return prev
	}
}
