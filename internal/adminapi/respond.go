package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// maxBodyBytes bounds admin request bodies. Bulk imports are the
// largest legitimate payload and fit comfortably.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the failure taxonomy onto an HTTP response. The body
// mirrors the MCP-side error envelope minus the JSON-RPC code, which
// the HTTP status already carries.
func writeError(w http.ResponseWriter, err error) {
	kind := mcperr.KindOf(err)
	env := map[string]any{
		"kind":    kind.String(),
		"message": userMessage(err),
	}
	if rc := mcperr.ReasonCode(err); rc != "" {
		env["reason"] = rc
	}
	var ge *mcperr.Error
	if errors.As(err, &ge) && ge.RetryAfter > 0 {
		env["retry_after_ms"] = ge.RetryAfter.Milliseconds()
		secs := int64((ge.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, kind.HTTPStatus(), map[string]any{"error": env})
}

// userMessage is the client-facing message for err; internals collapse
// to a generic string so backend detail never leaks.
func userMessage(err error) string {
	var ge *mcperr.Error
	if errors.As(err, &ge) {
		return ge.UserFacingError()
	}
	return "internal error"
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return mcperr.Wrap(mcperr.KindInvalidRequest, "invalid request body", err)
	}
	return nil
}

// toggleTarget reads the desired enabled state from the request body.
// An empty body flips the current state.
func toggleTarget(w http.ResponseWriter, r *http.Request, current bool) (bool, error) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return false, mcperr.Wrap(mcperr.KindInvalidRequest, "invalid request body", err)
	}
	if body.Enabled != nil {
		return *body.Enabled, nil
	}
	return !current, nil
}

// toggleResponse is the body returned by the toggle endpoints.
type toggleResponse struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// pageRequest reads the pagination selection from the query string.
func pageRequest(r *http.Request) catalog.PageRequest {
	q := r.URL.Query()
	req := catalog.PageRequest{
		Cursor:   q.Get("cursor"),
		Strategy: q.Get("strategy"),
	}
	if v := q.Get("page"); v != "" {
		req.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("size"); v != "" {
		req.Size, _ = strconv.Atoi(v)
	}
	return req
}

// listFilter reads the entity filters shared by the list endpoints.
func listFilter(r *http.Request) store.Filter {
	q := r.URL.Query()
	f := store.Filter{
		TeamID:     q.Get("team_id"),
		GatewayID:  q.Get("gateway_id"),
		CreatedVia: store.CreatedVia(q.Get("created_via")),
		Tag:        q.Get("tag"),
		Search:     q.Get("q"),
	}
	if v := q.Get("enabled"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Enabled = &b
		}
	}
	return f
}

// actorFrom converts the request's authenticated identity into a
// catalog actor. Anonymous requests yield the zero actor, which sees
// only public entities.
func actorFrom(r *http.Request) catalog.Actor {
	id := auth.IdentityFrom(r.Context())
	if id == nil {
		return catalog.Actor{}
	}
	return catalog.Actor{
		Email:         id.Email,
		PlatformAdmin: id.PlatformAdmin,
		TeamIDs:       id.TeamIDs,
		OwnedTeamIDs:  id.OwnedTeamIDs,
	}
}

// identityEmail returns the authenticated email, or "".
func identityEmail(r *http.Request) string {
	if id := auth.IdentityFrom(r.Context()); id != nil {
		return id.Email
	}
	return ""
}

// requestMeta captures client attribution for the auth event log.
func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}
