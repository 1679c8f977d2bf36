package catalog

import (
	"context"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CreateAgent registers an A2A agent. The slug defaults to a slugified
// form of the name; the credential is encrypted before storage.
func (s *Service) CreateAgent(ctx context.Context, actor Actor, agent *store.A2AAgent) (*store.A2AAgent, error) {
	s.fillCommon(&agent.Common, actor)
	if err := s.checkTeam(actor, agent.TeamID); err != nil {
		return nil, err
	}
	if agent.Slug == "" {
		agent.Slug = Slugify(agent.Name)
	}
	if err := s.validateAgent(agent); err != nil {
		return nil, err
	}
	if err := s.sealCredential(&agent.AuthValue); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindAgent, Action: ActionRegister, ID: agent.ID, Entity: agent, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, storeError("agent", err)
	}
	s.logger.Info("a2a agent registered",
		logging.EntityID(agent.ID), logging.Status(agent.Slug))
	s.post(ctx, ev)
	return agent, nil
}

// GetAgent returns the agent by ID if the actor may see it.
func (s *Service) GetAgent(ctx context.Context, actor Actor, id string) (*store.A2AAgent, error) {
	agent, err := s.store.GetAgent(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("agent", err)
	}
	return agent, nil
}

// ResolveAgent resolves a slug within the actor's visibility.
func (s *Service) ResolveAgent(ctx context.Context, actor Actor, slug string) (*store.A2AAgent, error) {
	agent, err := s.store.GetAgentBySlug(ctx, actor.Scope(), slug)
	if err != nil {
		return nil, storeError("agent", err)
	}
	return agent, nil
}

// ListAgents returns one window of the agents visible to the actor.
func (s *Service) ListAgents(ctx context.Context, actor Actor, filter store.Filter, req PageRequest) (*PageOf[store.A2AAgent], error) {
	page, cursorMode, err := s.normalizePage(req)
	if err != nil {
		return nil, err
	}
	agents, total, err := s.store.ListAgents(ctx, actor.Scope(), filter, page)
	if err != nil {
		return nil, storeError("agent", err)
	}
	next := ""
	if cursorMode && len(agents) == page.Size && page.Size > 0 {
		last := agents[len(agents)-1]
		next = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return buildPage(agents, total, page, cursorMode, next), nil
}

// UpdateAgent replaces the mutable fields of an agent. An empty
// credential keeps the stored one.
func (s *Service) UpdateAgent(ctx context.Context, actor Actor, id string, in *store.A2AAgent) (*store.A2AAgent, error) {
	existing, err := s.store.GetAgent(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("agent", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return nil, forbidden("not allowed to modify this agent")
	}
	if err := s.mergeCommon(&existing.Common, &in.Common, actor); err != nil {
		return nil, err
	}
	if in.Slug == "" {
		in.Slug = existing.Slug
	}
	if in.Endpoint == "" {
		in.Endpoint = existing.Endpoint
	}
	switch in.AuthValue {
	case "", existing.AuthValue:
		in.AuthValue = existing.AuthValue
	default:
		if err := s.sealCredential(&in.AuthValue); err != nil {
			return nil, err
		}
	}
	if err := s.validateAgent(in); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindAgent, Action: ActionUpdate, ID: id, Entity: in, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAgent(ctx, in); err != nil {
		return nil, storeError("agent", err)
	}
	s.post(ctx, ev)
	return in, nil
}

// DeleteAgent removes an agent.
func (s *Service) DeleteAgent(ctx context.Context, actor Actor, id string) error {
	existing, err := s.store.GetAgent(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("agent", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to delete this agent")
	}

	ev := AdminEvent{Kind: store.KindAgent, Action: ActionDelete, ID: id, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.DeleteAgent(ctx, id); err != nil {
		return storeError("agent", err)
	}
	s.logger.Info("a2a agent deleted", logging.EntityID(id))
	s.post(ctx, ev)
	return nil
}

// SetAgentStatus flips operator intent for an agent.
func (s *Service) SetAgentStatus(ctx context.Context, actor Actor, id string, enabled bool) error {
	existing, err := s.store.GetAgent(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("agent", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to change this agent's status")
	}

	ev := AdminEvent{Kind: store.KindAgent, Action: ActionStatusChange, ID: id, Enabled: &enabled, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.SetAgentStatus(ctx, id, enabled); err != nil {
		return storeError("agent", err)
	}
	s.post(ctx, ev)
	return nil
}

// AgentCredential returns the decrypted credential of an agent. For
// internal subsystems only.
func (s *Service) AgentCredential(ctx context.Context, id string) (string, error) {
	agent, err := s.store.GetAgent(ctx, store.Unrestricted(), id)
	if err != nil {
		return "", storeError("agent", err)
	}
	return s.openCredential(agent.AuthValue)
}
