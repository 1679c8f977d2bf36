package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/store"
)

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListResources(r.Context(), actorFrom(r), listFilter(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	var in store.Resource
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.CreateResource(r.Context(), actorFrom(r), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.GetResource(r.Context(), actorFrom(r), chi.URLParam(r, "resourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateResource(w http.ResponseWriter, r *http.Request) {
	var in store.Resource
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.UpdateResource(r.Context(), actorFrom(r), chi.URLParam(r, "resourceID"), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteResource(r.Context(), actorFrom(r), chi.URLParam(r, "resourceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "resourceID")
	current, err := s.catalog.GetResource(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := toggleTarget(w, r, current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetResourceStatus(ctx, actor, id, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: to})
}
