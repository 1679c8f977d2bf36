package catalog

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const maxNameLength = 255

func invalid(message string) error {
	return mcperr.New(mcperr.KindInvalidRequest, message)
}

func invalidf(format string, args ...any) error {
	return mcperr.Newf(mcperr.KindInvalidRequest, format, args...)
}

// validName enforces the catalog naming rules: letters, digits, dot,
// underscore, and hyphen, with the qualified-name separator reserved for
// federated display names.
func (s *Service) validName(name string) error {
	if name == "" {
		return invalid("name is required")
	}
	if len(name) > maxNameLength {
		return invalidf("name exceeds %d characters", maxNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return invalidf("name contains invalid character %q", r)
		}
	}
	if s.separator != "" && strings.Contains(name, s.separator) {
		return invalidf("name must not contain the separator %q", s.separator)
	}
	return nil
}

func (s *Service) validateCommon(c *store.Common) error {
	if err := s.validName(c.Name); err != nil {
		return err
	}
	if !c.Visibility.Valid() {
		return invalidf("unknown visibility %q", c.Visibility)
	}
	if c.Visibility == store.VisibilityTeam && c.TeamID == "" {
		return invalid("team visibility requires a team_id")
	}
	if c.OwnerEmail == "" {
		return invalid("owner_email is required")
	}
	return nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || json.Valid(raw)
}

func (s *Service) validateTool(t *store.Tool) error {
	if err := s.validateCommon(&t.Common); err != nil {
		return err
	}
	switch t.IntegrationType {
	case store.IntegrationLocal, store.IntegrationREST, store.IntegrationGRPC,
		store.IntegrationA2A, store.IntegrationFederated:
	case "":
		return invalid("integration_type is required")
	default:
		return invalidf("unknown integration_type %q", t.IntegrationType)
	}
	if !validJSON(t.InputSchema) || !validJSON(t.OutputSchema) || !validJSON(t.Annotations) {
		return invalid("tool schemas must be valid JSON")
	}
	if t.TimeoutMS < 0 {
		return invalid("timeout_ms must not be negative")
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		return invalid("max_retries must not be negative")
	}

	if t.IntegrationType == store.IntegrationREST {
		switch t.RequestType {
		case store.RequestGET, store.RequestPOST, store.RequestPATCH,
			store.RequestPUT, store.RequestDELETE:
		case "":
			return invalid("REST tools require a request_type")
		default:
			return invalidf("unknown request_type %q", t.RequestType)
		}
		if !validHTTPURL(t.BaseURL) {
			return invalid("REST tools require an http(s) base_url")
		}
		if t.PathTemplate != "" && !strings.HasPrefix(t.PathTemplate, "/") {
			return invalid("path_template must start with /")
		}
		for _, host := range t.Allowlist {
			if strings.TrimSpace(host) == "" {
				return invalid("allowlist entries must not be empty")
			}
		}
	}
	return nil
}

func (s *Service) validateResource(r *store.Resource) error {
	if err := s.validateCommon(&r.Common); err != nil {
		return err
	}
	u, err := url.Parse(r.URI)
	if err != nil || u.Scheme == "" {
		return invalid("resource uri must include a scheme")
	}
	if r.Text != "" && len(r.Blob) > 0 {
		return invalid("a resource carries either text or blob content, not both")
	}
	return nil
}

func (s *Service) validatePrompt(p *store.Prompt) error {
	if err := s.validateCommon(&p.Common); err != nil {
		return err
	}
	if p.Template == "" {
		return invalid("prompt template is required")
	}
	if !validJSON(p.ArgumentsSchema) {
		return invalid("arguments_schema must be valid JSON")
	}
	return nil
}

func (s *Service) validateServer(v *store.VirtualServer) error {
	return s.validateCommon(&v.Common)
}

func (s *Service) validateGateway(g *store.Gateway) error {
	if err := s.validateCommon(&g.Common); err != nil {
		return err
	}
	if !validHTTPURL(g.URL) {
		return invalid("gateway url must be http(s)")
	}
	switch g.Transport {
	case store.TransportSSE, store.TransportStreamableHTTP:
	default:
		return invalidf("unknown transport %q", g.Transport)
	}
	return validAuthType(g.AuthType)
}

func (s *Service) validateAgent(a *store.A2AAgent) error {
	if err := s.validateCommon(&a.Common); err != nil {
		return err
	}
	if !validHTTPURL(a.Endpoint) {
		return invalid("agent endpoint must be http(s)")
	}
	if a.Slug == "" {
		return invalid("agent slug is required")
	}
	for _, r := range a.Slug {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum && r != '-' {
			return invalidf("slug contains invalid character %q", r)
		}
	}
	return validAuthType(a.AuthType)
}

func validAuthType(t store.AuthType) error {
	switch t {
	case "", store.AuthTypeBasic, store.AuthTypeBearer, store.AuthTypeHeaders, store.AuthTypeOAuth:
		return nil
	default:
		return invalidf("unknown auth_type %q", t)
	}
}
