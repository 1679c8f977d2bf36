package adminapi

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/store"
)

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListServers(r.Context(), actorFrom(r), listFilter(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createServer(w http.ResponseWriter, r *http.Request) {
	var in store.VirtualServer
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.CreateServer(r.Context(), actorFrom(r), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.GetServer(r.Context(), actorFrom(r), chi.URLParam(r, "serverID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateServer(w http.ResponseWriter, r *http.Request) {
	var in store.VirtualServer
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.UpdateServer(r.Context(), actorFrom(r), chi.URLParam(r, "serverID"), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteServer(r.Context(), actorFrom(r), chi.URLParam(r, "serverID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "serverID")
	current, err := s.catalog.GetServer(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := toggleTarget(w, r, current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetServerStatus(ctx, actor, id, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: to})
}

// connectServer returns a connection document for one virtual server:
// the transport URLs a client needs, ready to paste into an MCP client
// configuration.
func (s *Server) connectServer(w http.ResponseWriter, r *http.Request) {
	vs, err := s.catalog.GetServer(r.Context(), actorFrom(r), chi.URLParam(r, "serverID"))
	if err != nil {
		writeError(w, err)
		return
	}

	root := requestOrigin(r) + path.Join("/", cleanBasePath(s.cfg.BasePath), "servers", vs.ID)
	doc := map[string]any{
		"server": map[string]any{
			"id":   vs.ID,
			"name": vs.Name,
		},
		"endpoints": map[string]string{
			"streamable_http": root + "/mcp",
			"sse":             root + "/sse",
			"sse_message":     root + "/message",
		},
		"headers": map[string]string{
			"Authorization": "Bearer <token>",
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

// requestOrigin reconstructs the external scheme and host, trusting the
// forwarded-proto header when a proxy terminates TLS.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fw := r.Header.Get("X-Forwarded-Proto"); fw != "" {
		scheme = fw
	}
	return scheme + "://" + r.Host
}
