// Package adminapi serves the management HTTP surface: catalog CRUD,
// authentication, teams, health, and metrics, with the MCP transports
// mounted on the same router so one listener carries everything. Every
// request runs through the HTTP hook chain before its handler.
package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/mcp-gateway/internal/audit"
	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
)

// MCPMount registers MCP transport endpoints on a router subtree. The
// serving engine implements it; the admin router mounts it at the base
// path and once more inside every virtual server's scope.
type MCPMount interface {
	Mount(r chi.Router)
}

// FederationControl is the slice of the federation manager the gateway
// handlers drive: the registration handshake, whose loop-detection
// verdict must reach the caller, and the re-handshake after connection
// changes. Teardown on delete and disable rides the catalog hooks
// instead.
type FederationControl interface {
	Register(ctx context.Context, gatewayID string) error
	Refresh(ctx context.Context, gatewayID string) error
}

// ReadyCheck is one dependency probe behind the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	cfg     config.GatewayConfig
	catalog *catalog.Service
	authsvc *auth.Service
	plugins *plugins.Manager
	trail   *audit.Log
	fed     FederationControl
	mcp     MCPMount
	metrics http.Handler
	logger  *slog.Logger
	version string
	origins []string
	checks  []ReadyCheck
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the version reported by the version endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithFederation wires the federation manager into the gateway
// handlers. Without it, registrations are stored but no peer session is
// established.
func WithFederation(f FederationControl) Option {
	return func(s *Server) { s.fed = f }
}

// WithMCP mounts the MCP transports onto the router.
func WithMCP(m MCPMount) Option {
	return func(s *Server) { s.mcp = m }
}

// WithAudit records administrative activity in the given trail and
// exposes it on the audit endpoint.
func WithAudit(t *audit.Log) Option {
	return func(s *Server) { s.trail = t }
}

// WithMetricsHandler replaces the default Prometheus handler behind
// /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAllowedOrigins restricts CORS to the given origins. Empty keeps
// the allow-all default.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithReadyCheck adds a dependency probe to the readiness endpoint.
// Probes run in registration order; the first failure marks the gateway
// not ready.
func WithReadyCheck(name string, probe func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, ReadyCheck{Name: name, Probe: probe})
	}
}

// New builds the admin API server.
func New(cfg config.GatewayConfig, cat *catalog.Service, authsvc *auth.Service, pm *plugins.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		catalog: cat,
		authsvc: authsvc,
		plugins: pm,
		metrics: promhttp.Handler(),
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the HTTP surface under the configured base path.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(s.requestLogger)
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id", "Last-Event-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"Mcp-Session-Id", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if base := cleanBasePath(s.cfg.BasePath); base != "" {
		r.Route(base, func(r chi.Router) { s.routes(r) })
	} else {
		s.routes(r)
	}
	return r
}

func (s *Server) routes(r chi.Router) {
	r.Use(s.hookPipeline)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/email/register", s.handleRegister)
		r.Post("/email/login", s.handleLogin)
		r.Route("/sso/{provider}", func(r chi.Router) {
			r.Get("/start", s.handleSSOStart)
			r.Get("/callback", s.handleSSOCallback)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/email/change-password", s.handleChangePassword)
			r.Post("/revoke", s.handleRevoke)
			r.Get("/events", s.handleAuthEvents)
			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", s.listAPITokens)
				r.Post("/", s.createAPIToken)
				r.Post("/{tokenID}/revoke", s.revokeAPIToken)
				r.Delete("/{tokenID}", s.deleteAPIToken)
			})
		})
	})

	// Root MCP transports. They stay outside requireUser: anonymous
	// sessions are legal and see the public surface.
	if s.mcp != nil {
		s.mcp.Mount(r)
	}

	r.Route("/tools", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.listTools)
		r.Post("/", s.createTool)
		r.Post("/import", s.importTools)
		r.Route("/{toolID}", func(r chi.Router) {
			r.Get("/", s.getTool)
			r.Put("/", s.updateTool)
			r.Delete("/", s.deleteTool)
			r.Post("/toggle", s.toggleTool)
		})
	})

	r.Route("/resources", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.listResources)
		r.Post("/", s.createResource)
		r.Route("/{resourceID}", func(r chi.Router) {
			r.Get("/", s.getResource)
			r.Put("/", s.updateResource)
			r.Delete("/", s.deleteResource)
			r.Post("/toggle", s.toggleResource)
		})
	})

	r.Route("/prompts", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.listPrompts)
		r.Post("/", s.createPrompt)
		r.Route("/{promptID}", func(r chi.Router) {
			r.Get("/", s.getPrompt)
			r.Put("/", s.updatePrompt)
			r.Delete("/", s.deletePrompt)
			r.Post("/toggle", s.togglePrompt)
		})
	})

	// The /servers subtree carries both the management endpoints and the
	// per-server MCP transports, so the scoped transport paths share the
	// {serverID} parameter with the CRUD routes.
	r.Route("/servers", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/", s.listServers)
			r.Post("/", s.createServer)
		})
		r.Route("/{serverID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Get("/", s.getServer)
				r.Put("/", s.updateServer)
				r.Delete("/", s.deleteServer)
				r.Post("/toggle", s.toggleServer)
				r.Get("/connect", s.connectServer)
			})
			if s.mcp != nil {
				s.mcp.Mount(r)
			}
		})
	})

	r.Route("/gateways", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.listGateways)
		r.Post("/", s.createGateway)
		r.Route("/{gatewayID}", func(r chi.Router) {
			r.Get("/", s.getGateway)
			r.Put("/", s.updateGateway)
			r.Delete("/", s.deleteGateway)
			r.Post("/toggle", s.toggleGateway)
		})
	})

	r.Route("/a2a_agents", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.listAgents)
		r.Post("/", s.createAgent)
		r.Route("/{agentID}", func(r chi.Router) {
			r.Get("/", s.getAgent)
			r.Put("/", s.updateAgent)
			r.Delete("/", s.deleteAgent)
			r.Post("/toggle", s.toggleAgent)
		})
	})

	r.Route("/teams", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.listTeams)
		r.Post("/", s.createTeam)
		r.Route("/{teamID}", func(r chi.Router) {
			r.Get("/members", s.listTeamMembers)
			r.Delete("/members/{email}", s.removeTeamMember)
			r.Post("/invitations", s.createInvitation)
		})
		r.Post("/invitations/accept", s.acceptInvitation)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/audit", s.handleAudit)
	})
}

// cleanBasePath normalizes the configured prefix to a chi-mountable
// pattern, or "" for a root deployment.
func cleanBasePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return ""
	}
	return cleaned
}
