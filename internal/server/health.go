package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// healthProbeTimeout bounds each dependency probe behind the readiness
// endpoint.
const healthProbeTimeout = 2 * time.Second

// HealthChecker serves the probe endpoints. Liveness only proves the
// process answers; readiness also requires the store to respond and no
// shutdown in progress.
type HealthChecker struct {
	ready   atomic.Bool
	sc      *ServerContext
	started time.Time
	version string
}

// NewHealthChecker builds a checker that starts out ready.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{sc: sc, started: time.Now()}
	h.ready.Store(true)
	return h
}

// SetVersion sets the version string reported in health responses.
func (h *HealthChecker) SetVersion(v string) { h.version = v }

// SetReady flips the readiness state; the serve loop turns it off
// before draining connections so load balancers stop routing here.
func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the current readiness state.
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// HealthResponse is the JSON body for /healthz and /readyz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// DetailedHealthResponse is the JSON body for /healthz/detailed.
type DetailedHealthResponse struct {
	Status          string                      `json:"status"`
	Version         string                      `json:"version,omitempty"`
	Uptime          string                      `json:"uptime"`
	ActiveSessions  int                         `json:"active_sessions"`
	Federation      *FederationHealthStatus     `json:"federation,omitempty"`
	Instrumentation *InstrumentationHealthCheck `json:"instrumentation,omitempty"`
}

// FederationHealthStatus reports whether peer gateways are configured.
type FederationHealthStatus struct {
	Enabled bool `json:"enabled"`
}

// InstrumentationHealthCheck reports whether telemetry export is on.
type InstrumentationHealthCheck struct {
	Enabled bool `json:"enabled"`
}

// RegisterHealthEndpoints mounts the probe handlers on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

// LivenessHandler answers /healthz. It never consults dependencies: a
// gateway with an unreachable database should be held out of rotation,
// not restarted.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
	})
}

// ReadinessHandler answers /readyz with one line per check.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"ready": "ok", "shutdown": "ok"}
		ok := true

		if !h.ready.Load() {
			checks["ready"] = "not ready"
			ok = false
		}
		if h.sc != nil && h.sc.IsShutdown() {
			checks["shutdown"] = "shutting down"
			ok = false
		}

		// The store is the one hard dependency: without it the gateway
		// can resolve neither tools nor identities.
		if h.sc != nil && h.sc.Store() != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			if err := h.sc.Store().Ping(ctx); err != nil {
				checks["database"] = err.Error()
				ok = false
			} else {
				checks["database"] = "ok"
			}
			cancel()
		}

		if h.sc != nil {
			if p := h.sc.InstrumentationProvider(); p != nil {
				if p.Enabled() {
					checks["instrumentation"] = "ok"
				} else {
					checks["instrumentation"] = "disabled"
				}
			}
		}

		resp := HealthResponse{Status: "ok", Checks: checks}
		status := http.StatusOK
		if !ok {
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, status, resp)
	})
}

// DetailedHealthHandler answers /healthz/detailed with uptime, session,
// and subsystem state for operators.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := DetailedHealthResponse{
			Status:  "ok",
			Version: h.version,
			Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		}
		if h.sc != nil {
			resp.ActiveSessions = h.sc.ActiveSessionCount()
			resp.Federation = &FederationHealthStatus{Enabled: h.sc.FederationEnabled()}
			enabled := false
			if p := h.sc.InstrumentationProvider(); p != nil {
				enabled = p.Enabled()
			}
			resp.Instrumentation = &InstrumentationHealthCheck{Enabled: enabled}
		}

		status := http.StatusOK
		switch {
		case !h.ready.Load():
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		case h.sc != nil && h.sc.IsShutdown():
			resp.Status = "shutting down"
			status = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, status, resp)
	})
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
