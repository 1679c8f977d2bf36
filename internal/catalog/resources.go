package catalog

import (
	"context"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CreateResource registers a resource.
func (s *Service) CreateResource(ctx context.Context, actor Actor, resource *store.Resource) (*store.Resource, error) {
	if resource.GatewayID != nil && !actor.PlatformAdmin {
		return nil, forbidden("federated provenance is reserved for the federation manager")
	}
	s.fillCommon(&resource.Common, actor)
	if err := s.checkTeam(actor, resource.TeamID); err != nil {
		return nil, err
	}
	if err := s.validateResource(resource); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindResource, Action: ActionRegister, ID: resource.ID, Entity: resource, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.CreateResource(ctx, resource); err != nil {
		return nil, storeError("resource", err)
	}
	s.logger.Info("resource registered", logging.EntityID(resource.ID))
	s.post(ctx, ev)
	return resource, nil
}

// GetResource returns the resource by ID if the actor may see it.
func (s *Service) GetResource(ctx context.Context, actor Actor, id string) (*store.Resource, error) {
	if cached := fromCache[store.Resource](ctx, s, store.KindResource, id); cached != nil {
		if !actor.Allowed(&cached.Common) {
			return nil, notFound("resource")
		}
		return cached, nil
	}

	resource, err := s.store.GetResource(ctx, store.Unrestricted(), id)
	if err != nil {
		return nil, storeError("resource", err)
	}
	toCache(ctx, s, store.KindResource, id, resource)
	if !actor.Allowed(&resource.Common) {
		return nil, notFound("resource")
	}
	return resource, nil
}

// ResolveResource resolves a URI within the actor's visibility.
func (s *Service) ResolveResource(ctx context.Context, actor Actor, uri string) (*store.Resource, error) {
	resource, err := s.store.GetResourceByURI(ctx, actor.Scope(), uri)
	if err != nil {
		return nil, storeError("resource", err)
	}
	return resource, nil
}

// ListResources returns one window of the resources visible to the actor.
func (s *Service) ListResources(ctx context.Context, actor Actor, filter store.Filter, req PageRequest) (*PageOf[store.Resource], error) {
	page, cursorMode, err := s.normalizePage(req)
	if err != nil {
		return nil, err
	}
	resources, total, err := s.store.ListResources(ctx, actor.Scope(), filter, page)
	if err != nil {
		return nil, storeError("resource", err)
	}
	next := ""
	if cursorMode && len(resources) == page.Size && page.Size > 0 {
		last := resources[len(resources)-1]
		next = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return buildPage(resources, total, page, cursorMode, next), nil
}

// UpdateResource replaces the mutable fields of a resource.
func (s *Service) UpdateResource(ctx context.Context, actor Actor, id string, in *store.Resource) (*store.Resource, error) {
	existing, err := s.store.GetResource(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("resource", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return nil, forbidden("not allowed to modify this resource")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return nil, forbidden("federated resources are managed by their origin gateway")
	}
	if err := s.mergeCommon(&existing.Common, &in.Common, actor); err != nil {
		return nil, err
	}
	in.GatewayID = existing.GatewayID
	if err := s.validateResource(in); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindResource, Action: ActionUpdate, ID: id, Entity: in, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdateResource(ctx, in); err != nil {
		return nil, storeError("resource", err)
	}
	s.post(ctx, ev)
	return in, nil
}

// DeleteResource removes a resource.
func (s *Service) DeleteResource(ctx context.Context, actor Actor, id string) error {
	existing, err := s.store.GetResource(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("resource", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to delete this resource")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return forbidden("federated resources are managed by their origin gateway")
	}

	ev := AdminEvent{Kind: store.KindResource, Action: ActionDelete, ID: id, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.DeleteResource(ctx, id); err != nil {
		return storeError("resource", err)
	}
	s.post(ctx, ev)
	return nil
}

// SetResourceStatus flips operator intent for a resource.
func (s *Service) SetResourceStatus(ctx context.Context, actor Actor, id string, enabled bool) error {
	existing, err := s.store.GetResource(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("resource", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to change this resource's status")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return forbidden("federated resources are managed by their origin gateway")
	}

	ev := AdminEvent{Kind: store.KindResource, Action: ActionStatusChange, ID: id, Enabled: &enabled, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.SetResourceStatus(ctx, id, enabled); err != nil {
		return storeError("resource", err)
	}
	s.post(ctx, ev)
	return nil
}
