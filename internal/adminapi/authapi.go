package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/mcp-gateway/internal/audit"
	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// sessionResponse is what a successful login or SSO callback returns.
type sessionResponse struct {
	Token         string   `json:"token"`
	Email         string   `json:"email"`
	PlatformAdmin bool     `json:"is_platform_admin"`
	TeamIDs       []string `json:"team_ids,omitempty"`
}

func sessionFor(token string, id *auth.Identity) sessionResponse {
	return sessionResponse{
		Token:         token,
		Email:         id.Email,
		PlatformAdmin: id.PlatformAdmin,
		TeamIDs:       id.TeamIDs,
	}
}

// record notes one auth-side action in the audit trail.
func (s *Server) record(r *http.Request, actor, action, entityID string) {
	if s.trail == nil {
		return
	}
	s.trail.Append(audit.Record{
		RequestID: chimw.GetReqID(r.Context()),
		Actor:     actor,
		Kind:      "user",
		Action:    action,
		EntityID:  entityID,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.authsvc.Register(r.Context(), in.Email, in.Password, in.FullName)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, user.Email, "register", user.Email)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	token, ident, err := s.authsvc.Login(r.Context(), in.Email, in.Password, requestMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, ident.Email, "login", ident.Email)
	writeJSON(w, http.StatusOK, sessionFor(token, ident))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	email := identityEmail(r)
	if err := s.authsvc.ChangePassword(r.Context(), email, in.Current, in.New); err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "change_password", email)
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed, sessions revoked"})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r)
	if err := s.authsvc.RevokeSessions(r.Context(), email, requestMeta(r)); err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "revoke_sessions", email)
	writeJSON(w, http.StatusOK, map[string]string{"status": "sessions revoked"})
}

func (s *Server) handleSSOStart(w http.ResponseWriter, r *http.Request) {
	url, err := s.authsvc.SSOStart(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token, ident, err := s.authsvc.SSOCallback(r.Context(),
		chi.URLParam(r, "provider"), q.Get("state"), q.Get("code"), requestMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, ident.Email, "sso_login", ident.Email)
	writeJSON(w, http.StatusOK, sessionFor(token, ident))
}

func (s *Server) listAPITokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.authsvc.ListAPITokens(r.Context(), identityEmail(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": tokens})
}

func (s *Server) createAPIToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name       string           `json:"name"`
		Scope      store.TokenScope `json:"scope"`
		ScopeRef   string           `json:"scope_ref"`
		TTLSeconds int64            `json:"ttl_seconds"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	email := identityEmail(r)
	raw, meta, err := s.authsvc.CreateAPIToken(r.Context(), email, in.Name, in.Scope, in.ScopeRef,
		time.Duration(in.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "token_create", meta.ID)
	// The raw token appears exactly once, in this response.
	writeJSON(w, http.StatusCreated, map[string]any{"token": raw, "api_token": meta})
}

func (s *Server) revokeAPIToken(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r)
	id := chi.URLParam(r, "tokenID")
	if err := s.authsvc.RevokeAPIToken(r.Context(), email, id); err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "token_revoke", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "token revoked"})
}

func (s *Server) deleteAPIToken(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r)
	id := chi.URLParam(r, "tokenID")
	if err := s.authsvc.DeleteAPIToken(r.Context(), email, id); err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "token_delete", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthEvents(w http.ResponseWriter, r *http.Request) {
	req := pageRequest(r)
	page := store.Page{Number: req.Page, Size: req.Size}
	if page.Size <= 0 {
		page.Size = 50
	}
	events, total, err := s.authsvc.ListAuthEvents(r.Context(), identityEmail(r), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events, "total": total})
}
