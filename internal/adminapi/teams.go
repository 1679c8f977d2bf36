package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/store"
)

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.authsvc.ListTeams(r.Context(), identityEmail(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": teams})
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name       string           `json:"name"`
		Visibility store.Visibility `json:"visibility"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	email := identityEmail(r)
	team, err := s.authsvc.CreateTeam(r.Context(), email, in.Name, in.Visibility)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "team_create", team.ID)
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) listTeamMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.authsvc.ListTeamMembers(r.Context(), identityEmail(r), chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": members})
}

func (s *Server) removeTeamMember(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r)
	teamID := chi.URLParam(r, "teamID")
	member := chi.URLParam(r, "email")
	if err := s.authsvc.RemoveTeamMember(r.Context(), email, teamID, member); err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "team_member_remove", teamID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email      string `json:"email"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	email := identityEmail(r)
	teamID := chi.URLParam(r, "teamID")
	invitation, token, err := s.authsvc.InviteMember(r.Context(), email, teamID, in.Email,
		time.Duration(in.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "team_invite", teamID)
	// The raw token appears exactly once, in this response.
	writeJSON(w, http.StatusCreated, map[string]any{"invitation": invitation, "token": token})
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	email := identityEmail(r)
	team, err := s.authsvc.AcceptInvitation(r.Context(), email, in.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, email, "team_join", team.ID)
	writeJSON(w, http.StatusOK, team)
}
