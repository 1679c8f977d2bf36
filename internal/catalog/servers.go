package catalog

import (
	"context"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CreateServer registers a virtual server. Every associated entity must
// exist and be visible to the actor at registration time.
func (s *Service) CreateServer(ctx context.Context, actor Actor, server *store.VirtualServer) (*store.VirtualServer, error) {
	s.fillCommon(&server.Common, actor)
	if err := s.checkTeam(actor, server.TeamID); err != nil {
		return nil, err
	}
	if err := s.validateServer(server); err != nil {
		return nil, err
	}
	if err := s.checkAssociations(ctx, actor, server); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindServer, Action: ActionRegister, ID: server.ID, Entity: server, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.CreateServer(ctx, server); err != nil {
		return nil, storeError("server", err)
	}
	s.logger.Info("virtual server registered", logging.EntityID(server.ID))
	s.post(ctx, ev)
	return server, nil
}

// GetServer returns the virtual server by ID if the actor may see it.
func (s *Service) GetServer(ctx context.Context, actor Actor, id string) (*store.VirtualServer, error) {
	if cached := fromCache[store.VirtualServer](ctx, s, store.KindServer, id); cached != nil {
		if !actor.Allowed(&cached.Common) {
			return nil, notFound("server")
		}
		return cached, nil
	}

	server, err := s.store.GetServer(ctx, store.Unrestricted(), id)
	if err != nil {
		return nil, storeError("server", err)
	}
	toCache(ctx, s, store.KindServer, id, server)
	if !actor.Allowed(&server.Common) {
		return nil, notFound("server")
	}
	return server, nil
}

// ListServers returns one window of the virtual servers visible to the
// actor.
func (s *Service) ListServers(ctx context.Context, actor Actor, filter store.Filter, req PageRequest) (*PageOf[store.VirtualServer], error) {
	page, cursorMode, err := s.normalizePage(req)
	if err != nil {
		return nil, err
	}
	servers, total, err := s.store.ListServers(ctx, actor.Scope(), filter, page)
	if err != nil {
		return nil, storeError("server", err)
	}
	next := ""
	if cursorMode && len(servers) == page.Size && page.Size > 0 {
		last := servers[len(servers)-1]
		next = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return buildPage(servers, total, page, cursorMode, next), nil
}

// UpdateServer replaces the mutable fields of a virtual server,
// re-validating its associations.
func (s *Service) UpdateServer(ctx context.Context, actor Actor, id string, in *store.VirtualServer) (*store.VirtualServer, error) {
	existing, err := s.store.GetServer(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("server", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return nil, forbidden("not allowed to modify this server")
	}
	if err := s.mergeCommon(&existing.Common, &in.Common, actor); err != nil {
		return nil, err
	}
	if err := s.validateServer(in); err != nil {
		return nil, err
	}
	if err := s.checkAssociations(ctx, actor, in); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindServer, Action: ActionUpdate, ID: id, Entity: in, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdateServer(ctx, in); err != nil {
		return nil, storeError("server", err)
	}
	s.post(ctx, ev)
	return in, nil
}

// DeleteServer removes a virtual server. Associated entities are not
// touched; they merely stop being exposed through this server.
func (s *Service) DeleteServer(ctx context.Context, actor Actor, id string) error {
	existing, err := s.store.GetServer(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("server", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to delete this server")
	}

	ev := AdminEvent{Kind: store.KindServer, Action: ActionDelete, ID: id, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.DeleteServer(ctx, id); err != nil {
		return storeError("server", err)
	}
	s.logger.Info("virtual server deleted", logging.EntityID(id))
	s.post(ctx, ev)
	return nil
}

// SetServerStatus flips operator intent for a virtual server.
func (s *Service) SetServerStatus(ctx context.Context, actor Actor, id string, enabled bool) error {
	existing, err := s.store.GetServer(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("server", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to change this server's status")
	}

	ev := AdminEvent{Kind: store.KindServer, Action: ActionStatusChange, ID: id, Enabled: &enabled, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.SetServerStatus(ctx, id, enabled); err != nil {
		return storeError("server", err)
	}
	s.post(ctx, ev)
	return nil
}

// checkAssociations verifies that every referenced entity exists and is
// visible to the actor. A reference the actor cannot see is reported the
// same as a missing one.
func (s *Service) checkAssociations(ctx context.Context, actor Actor, v *store.VirtualServer) error {
	for _, id := range v.AssociatedTools {
		if _, err := s.GetTool(ctx, actor, id); err != nil {
			return invalidf("associated tool %s: %s", id, userReason(err))
		}
	}
	for _, id := range v.AssociatedResources {
		if _, err := s.GetResource(ctx, actor, id); err != nil {
			return invalidf("associated resource %s: %s", id, userReason(err))
		}
	}
	for _, id := range v.AssociatedPrompts {
		if _, err := s.GetPrompt(ctx, actor, id); err != nil {
			return invalidf("associated prompt %s: %s", id, userReason(err))
		}
	}
	for _, id := range v.AssociatedAgents {
		if _, err := s.GetAgent(ctx, actor, id); err != nil {
			return invalidf("associated agent %s: %s", id, userReason(err))
		}
	}
	return nil
}
