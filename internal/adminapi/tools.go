package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/store"
)

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListTools(r.Context(), actorFrom(r), listFilter(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createTool(w http.ResponseWriter, r *http.Request) {
	var in store.Tool
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.CreateTool(r.Context(), actorFrom(r), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) importTools(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tools []*store.Tool `json:"tools"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	report, err := s.catalog.ImportTools(r.Context(), actorFrom(r), in.Tools)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.GetTool(r.Context(), actorFrom(r), chi.URLParam(r, "toolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateTool(w http.ResponseWriter, r *http.Request) {
	var in store.Tool
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.UpdateTool(r.Context(), actorFrom(r), chi.URLParam(r, "toolID"), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteTool(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteTool(r.Context(), actorFrom(r), chi.URLParam(r, "toolID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "toolID")
	current, err := s.catalog.GetTool(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := toggleTarget(w, r, current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetToolStatus(ctx, actor, id, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: to})
}
