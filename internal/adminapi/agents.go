package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/store"
)

// agentBody restores the credential field that the entity's JSON
// representation drops on output.
type agentBody struct {
	store.A2AAgent
	AuthValue string `json:"auth_value,omitempty"`
}

func (b *agentBody) entity() *store.A2AAgent {
	agent := b.A2AAgent
	agent.AuthValue = b.AuthValue
	return &agent
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListAgents(r.Context(), actorFrom(r), listFilter(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var body agentBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.CreateAgent(r.Context(), actorFrom(r), body.entity())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.GetAgent(r.Context(), actorFrom(r), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	var body agentBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.UpdateAgent(r.Context(), actorFrom(r), chi.URLParam(r, "agentID"), body.entity())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteAgent(r.Context(), actorFrom(r), chi.URLParam(r, "agentID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "agentID")
	current, err := s.catalog.GetAgent(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := toggleTarget(w, r, current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetAgentStatus(ctx, actor, id, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: to})
}
