package adminapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// gatewayBody restores the credential field that the entity's JSON
// representation deliberately drops on output.
type gatewayBody struct {
	store.Gateway
	AuthValue string `json:"auth_value,omitempty"`
}

func (b *gatewayBody) entity() *store.Gateway {
	gw := b.Gateway
	gw.AuthValue = b.AuthValue
	return &gw
}

func (s *Server) listGateways(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListGateways(r.Context(), actorFrom(r), listFilter(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// createGateway stores the registration and immediately runs the
// federation handshake. An unreachable peer stays registered and is
// picked up by the health loop; a registration that would create a
// federation loop is rolled back.
func (s *Server) createGateway(w http.ResponseWriter, r *http.Request) {
	var body gatewayBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	out, err := s.catalog.CreateGateway(ctx, actorFrom(r), body.entity())
	if err != nil {
		writeError(w, err)
		return
	}
	if s.fed != nil {
		if err := s.fed.Register(ctx, out.ID); err != nil {
			// The handshake failed before anything was mirrored, so the
			// rollback has no dependents to confirm.
			if derr := s.catalog.DeleteGateway(ctx, catalog.System(), out.ID, true); derr != nil {
				s.logger.Error("rolling back rejected gateway registration failed",
					logging.EntityID(out.ID), logging.Err(derr))
			}
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getGateway(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.GetGateway(r.Context(), actorFrom(r), chi.URLParam(r, "gatewayID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateGateway(w http.ResponseWriter, r *http.Request) {
	var body gatewayBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "gatewayID")
	before, err := s.catalog.GetGateway(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.catalog.UpdateGateway(ctx, actor, id, body.entity())
	if err != nil {
		writeError(w, err)
		return
	}
	if s.fed != nil && connectionChanged(before, out, body.AuthValue) {
		if err := s.fed.Refresh(ctx, id); err != nil {
			s.logger.Warn("peer session refresh failed",
				logging.EntityID(id), logging.Gateway(out.Name), logging.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// connectionChanged reports whether an update touched the fields a live
// peer session depends on.
func connectionChanged(before, after *store.Gateway, newCredential string) bool {
	return before.URL != after.URL ||
		before.Transport != after.Transport ||
		before.AuthType != after.AuthType ||
		newCredential != ""
}

// deleteGateway removes a registration. ?confirm=true acknowledges
// that the gateway's mirrored entities are deleted along with it.
func (s *Server) deleteGateway(w http.ResponseWriter, r *http.Request) {
	confirmed := false
	if v := r.URL.Query().Get("confirm"); v != "" {
		confirmed, _ = strconv.ParseBool(v)
	}
	if err := s.catalog.DeleteGateway(r.Context(), actorFrom(r), chi.URLParam(r, "gatewayID"), confirmed); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleGateway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	id := chi.URLParam(r, "gatewayID")
	current, err := s.catalog.GetGateway(ctx, actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := toggleTarget(w, r, current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetGatewayStatus(ctx, actor, id, to); err != nil {
		writeError(w, err)
		return
	}
	if s.fed != nil && to {
		if err := s.fed.Register(ctx, id); err != nil {
			s.logger.Warn("re-enabled gateway handshake failed",
				logging.EntityID(id), logging.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: to})
}
