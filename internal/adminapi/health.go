package adminapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/audit"
	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
)

const readyProbeTimeout = 5 * time.Second

// healthResponse is the body of the health and readiness endpoints.
type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// handleHealth is the liveness probe: answering at all means alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

// handleReady reports whether the gateway's dependencies answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	ready := true
	for _, c := range s.checks {
		if err := c.Probe(ctx); err != nil {
			checks[c.Name] = err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}

	resp := healthResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    s.cfg.Name,
		"version": s.version,
	})
}

// handleAudit returns the most recent administrative activity, newest
// first. Platform admins only.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if id == nil || !id.PlatformAdmin {
		writeError(w, mcperr.New(mcperr.KindForbidden, "platform admin required"))
		return
	}
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		n, _ = strconv.Atoi(v)
	}
	records := []audit.Record{}
	if s.trail != nil {
		records = s.trail.Recent(n)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}
