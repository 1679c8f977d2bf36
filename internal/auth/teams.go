package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const defaultInvitationTTL = 72 * time.Hour

// CreateTeam creates a team owned by the caller.
func (s *Service) CreateTeam(ctx context.Context, email, name string, visibility store.Visibility) (*store.Team, error) {
	email = normalizeEmail(email)
	if name == "" {
		return nil, mcperr.New(mcperr.KindInvalidRequest, "team name is required")
	}
	if visibility == "" {
		visibility = store.VisibilityPrivate
	}
	if !visibility.Valid() {
		return nil, mcperr.Newf(mcperr.KindInvalidRequest, "unknown visibility %q", visibility)
	}

	now := s.now().UTC()
	team := &store.Team{
		ID:         s.newID(),
		Name:       name,
		OwnerEmail: email,
		Visibility: visibility,
		CreatedAt:  now,
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "creating team", err)
	}
	member := &store.TeamMember{TeamID: team.ID, UserEmail: email, Role: store.RoleOwner, CreatedAt: now}
	if err := s.store.AddTeamMember(ctx, member); err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "creating team membership", err)
	}
	s.logger.Info("team created", logging.Team(team.ID), logging.UserHash(email))
	return team, nil
}

// ListTeams returns the teams the user belongs to.
func (s *Service) ListTeams(ctx context.Context, email string) ([]store.Team, error) {
	teams, err := s.store.ListTeamsForUser(ctx, normalizeEmail(email))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "listing teams", err)
	}
	return teams, nil
}

// ListTeamMembers returns a team's membership; visible to members only.
func (s *Service) ListTeamMembers(ctx context.Context, email, teamID string) ([]store.TeamMember, error) {
	if _, err := s.requireMembership(ctx, email, teamID); err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "listing members", err)
	}
	return members, nil
}

// RemoveTeamMember removes a member; team owners and platform admins
// only. The team's owning user cannot be removed.
func (s *Service) RemoveTeamMember(ctx context.Context, actorEmail, teamID, memberEmail string) error {
	team, err := s.requireTeamOwner(ctx, actorEmail, teamID)
	if err != nil {
		return err
	}
	memberEmail = normalizeEmail(memberEmail)
	if memberEmail == team.OwnerEmail {
		return mcperr.New(mcperr.KindInvalidRequest, "the team owner cannot be removed")
	}
	if err := s.store.RemoveTeamMember(ctx, teamID, memberEmail); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcperr.New(mcperr.KindNotFound, "membership not found")
		}
		return mcperr.Wrap(mcperr.KindInternal, "removing member", err)
	}
	return nil
}

// InviteMember creates a single-use, TTL-bounded invitation to a team.
// The raw token is returned once, for delivery out of band.
func (s *Service) InviteMember(ctx context.Context, actorEmail, teamID, inviteeEmail string, ttl time.Duration) (*store.TeamInvitation, string, error) {
	if _, err := s.requireTeamOwner(ctx, actorEmail, teamID); err != nil {
		return nil, "", err
	}
	inviteeEmail = normalizeEmail(inviteeEmail)
	if inviteeEmail != "" && !validEmail(inviteeEmail) {
		return nil, "", mcperr.New(mcperr.KindInvalidRequest, "invalid invitee email")
	}
	if ttl <= 0 {
		ttl = defaultInvitationTTL
	}

	token, err := newOpaqueToken()
	if err != nil {
		return nil, "", mcperr.Wrap(mcperr.KindInternal, "generating invitation token", err)
	}
	invitation := &store.TeamInvitation{
		ID:           s.newID(),
		TeamID:       teamID,
		InviteeEmail: inviteeEmail,
		Token:        token,
		ExpiresAt:    s.now().UTC().Add(ttl),
	}
	if err := s.store.CreateInvitation(ctx, invitation); err != nil {
		return nil, "", mcperr.Wrap(mcperr.KindInternal, "storing invitation", err)
	}
	s.logger.Info("team invitation created", logging.Team(teamID), logging.UserHash(actorEmail))
	return invitation, token, nil
}

// AcceptInvitation consumes an invitation token and joins the caller to
// its team. Invalid, expired, used, and mismatched invitations are
// indistinguishable to the caller.
func (s *Service) AcceptInvitation(ctx context.Context, email, token string) (*store.Team, error) {
	email = normalizeEmail(email)
	badInvitation := mcperr.New(mcperr.KindInvalidRequest, "invitation is invalid, expired, or already used")

	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, badInvitation
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading invitation", err)
	}
	if invitation.UsedAt != nil || s.now().UTC().After(invitation.ExpiresAt) {
		return nil, badInvitation
	}
	if invitation.InviteeEmail != "" && invitation.InviteeEmail != email {
		return nil, badInvitation
	}

	// Consuming first makes the invitation single-use even under
	// concurrent accepts; the update refuses a second pass.
	if err := s.store.MarkInvitationUsed(ctx, invitation.ID, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, badInvitation
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "consuming invitation", err)
	}

	member := &store.TeamMember{
		TeamID:    invitation.TeamID,
		UserEmail: email,
		Role:      store.RoleMember,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddTeamMember(ctx, member); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, mcperr.New(mcperr.KindConflict, "already a member of this team")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "adding member", err)
	}

	team, err := s.store.GetTeam(ctx, invitation.TeamID)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading team", err)
	}
	s.logger.Info("team invitation accepted", logging.Team(team.ID), logging.UserHash(email))
	return team, nil
}

// requireMembership loads the team and checks the caller belongs to it.
// Platform admins pass.
func (s *Service) requireMembership(ctx context.Context, email, teamID string) (*store.Team, error) {
	email = normalizeEmail(email)
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mcperr.New(mcperr.KindNotFound, "team not found")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading team", err)
	}
	if admin, err := s.isPlatformAdmin(ctx, email); err != nil {
		return nil, err
	} else if admin {
		return team, nil
	}
	if _, err := s.store.GetTeamMember(ctx, teamID, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mcperr.New(mcperr.KindNotFound, "team not found")
		}
		return nil, mcperr.Wrap(mcperr.KindInternal, "loading membership", err)
	}
	return team, nil
}

// requireTeamOwner loads the team and checks the caller owns it, by team
// ownership or an owner-role membership. Platform admins pass.
func (s *Service) requireTeamOwner(ctx context.Context, email, teamID string) (*store.Team, error) {
	email = normalizeEmail(email)
	team, err := s.requireMembership(ctx, email, teamID)
	if err != nil {
		return nil, err
	}
	if team.OwnerEmail == email {
		return team, nil
	}
	if admin, err := s.isPlatformAdmin(ctx, email); err != nil {
		return nil, err
	} else if admin {
		return team, nil
	}
	member, err := s.store.GetTeamMember(ctx, teamID, email)
	if err == nil && member.Role == store.RoleOwner {
		return team, nil
	}
	return nil, mcperr.New(mcperr.KindForbidden, "team owner role required")
}

func (s *Service) isPlatformAdmin(ctx context.Context, email string) (bool, error) {
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, mcperr.Wrap(mcperr.KindInternal, "loading user", err)
	}
	return user.IsPlatformAdmin, nil
}

// newOpaqueToken returns 32 bytes of entropy, URL-safe encoded.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
