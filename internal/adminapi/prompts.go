package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/store"
)

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListPrompts(r.Context(), actorFrom(r), listFilter(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createPrompt(w http.ResponseWriter, r *http.Request) {
	var in store.Prompt
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.CreatePrompt(r.Context(), actorFrom(r), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.GetPrompt(r.Context(), actorFrom(r), chi.URLParam(r, "promptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var in store.Prompt
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.UpdatePrompt(r.Context(), actorFrom(r), chi.URLParam(r, "promptID"), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeletePrompt(r.Context(), actorFrom(r), chi.URLParam(r, "promptID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) togglePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "promptID")
	current, err := s.catalog.GetPrompt(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := toggleTarget(w, r, current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetPromptStatus(ctx, actor, id, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: to})
}
