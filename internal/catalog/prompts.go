package catalog

import (
	"context"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CreatePrompt registers a prompt template.
func (s *Service) CreatePrompt(ctx context.Context, actor Actor, prompt *store.Prompt) (*store.Prompt, error) {
	if prompt.GatewayID != nil && !actor.PlatformAdmin {
		return nil, forbidden("federated provenance is reserved for the federation manager")
	}
	s.fillCommon(&prompt.Common, actor)
	if err := s.checkTeam(actor, prompt.TeamID); err != nil {
		return nil, err
	}
	if err := s.validatePrompt(prompt); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindPrompt, Action: ActionRegister, ID: prompt.ID, Entity: prompt, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.CreatePrompt(ctx, prompt); err != nil {
		return nil, storeError("prompt", err)
	}
	s.logger.Info("prompt registered", logging.EntityID(prompt.ID))
	s.post(ctx, ev)
	return prompt, nil
}

// GetPrompt returns the prompt by ID if the actor may see it.
func (s *Service) GetPrompt(ctx context.Context, actor Actor, id string) (*store.Prompt, error) {
	if cached := fromCache[store.Prompt](ctx, s, store.KindPrompt, id); cached != nil {
		if !actor.Allowed(&cached.Common) {
			return nil, notFound("prompt")
		}
		return cached, nil
	}

	prompt, err := s.store.GetPrompt(ctx, store.Unrestricted(), id)
	if err != nil {
		return nil, storeError("prompt", err)
	}
	toCache(ctx, s, store.KindPrompt, id, prompt)
	if !actor.Allowed(&prompt.Common) {
		return nil, notFound("prompt")
	}
	return prompt, nil
}

// ResolvePrompt resolves a prompt name within the actor's visibility.
func (s *Service) ResolvePrompt(ctx context.Context, actor Actor, name string) (*store.Prompt, error) {
	prompt, err := s.store.GetPromptByName(ctx, actor.Scope(), name)
	if err != nil {
		return nil, storeError("prompt", err)
	}
	return prompt, nil
}

// ListPrompts returns one window of the prompts visible to the actor.
func (s *Service) ListPrompts(ctx context.Context, actor Actor, filter store.Filter, req PageRequest) (*PageOf[store.Prompt], error) {
	page, cursorMode, err := s.normalizePage(req)
	if err != nil {
		return nil, err
	}
	prompts, total, err := s.store.ListPrompts(ctx, actor.Scope(), filter, page)
	if err != nil {
		return nil, storeError("prompt", err)
	}
	next := ""
	if cursorMode && len(prompts) == page.Size && page.Size > 0 {
		last := prompts[len(prompts)-1]
		next = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return buildPage(prompts, total, page, cursorMode, next), nil
}

// UpdatePrompt replaces the mutable fields of a prompt.
func (s *Service) UpdatePrompt(ctx context.Context, actor Actor, id string, in *store.Prompt) (*store.Prompt, error) {
	existing, err := s.store.GetPrompt(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("prompt", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return nil, forbidden("not allowed to modify this prompt")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return nil, forbidden("federated prompts are managed by their origin gateway")
	}
	if err := s.mergeCommon(&existing.Common, &in.Common, actor); err != nil {
		return nil, err
	}
	in.GatewayID = existing.GatewayID
	if err := s.validatePrompt(in); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindPrompt, Action: ActionUpdate, ID: id, Entity: in, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePrompt(ctx, in); err != nil {
		return nil, storeError("prompt", err)
	}
	s.post(ctx, ev)
	return in, nil
}

// DeletePrompt removes a prompt.
func (s *Service) DeletePrompt(ctx context.Context, actor Actor, id string) error {
	existing, err := s.store.GetPrompt(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("prompt", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to delete this prompt")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return forbidden("federated prompts are managed by their origin gateway")
	}

	ev := AdminEvent{Kind: store.KindPrompt, Action: ActionDelete, ID: id, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.DeletePrompt(ctx, id); err != nil {
		return storeError("prompt", err)
	}
	s.post(ctx, ev)
	return nil
}

// SetPromptStatus flips operator intent for a prompt.
func (s *Service) SetPromptStatus(ctx context.Context, actor Actor, id string, enabled bool) error {
	existing, err := s.store.GetPrompt(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("prompt", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to change this prompt's status")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return forbidden("federated prompts are managed by their origin gateway")
	}

	ev := AdminEvent{Kind: store.KindPrompt, Action: ActionStatusChange, ID: id, Enabled: &enabled, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.SetPromptStatus(ctx, id, enabled); err != nil {
		return storeError("prompt", err)
	}
	s.post(ctx, ev)
	return nil
}
