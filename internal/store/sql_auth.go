package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// ---- users ----

var userColumns = []string{
	"email", "full_name", "password_hash", "is_platform_admin", "is_email_verified",
	"failed_logins", "locked_until", "token_epoch", "created_at",
}

func scanUser(row scanner) (*User, error) {
	var u User
	var lockedUntil sql.NullTime
	err := row.Scan(
		&u.Email, &u.FullName, &u.PasswordHash, &u.IsPlatformAdmin, &u.IsEmailVerified,
		&u.FailedLogins, &lockedUntil, &u.TokenEpoch, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.LockedUntil = timePtr(lockedUntil)
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("users", userColumns)),
		user.Email, user.FullName, user.PasswordHash, user.IsPlatformAdmin, user.IsEmailVerified,
		user.FailedLogins, nullTime(user.LockedUntil), user.TokenEpoch, user.CreatedAt.UTC(),
	)
	return translate(err)
}

func (s *SQLStore) GetUser(ctx context.Context, email string) (*User, error) {
	query := "SELECT " + strings.Join(userColumns, ", ") + " FROM users WHERE email = ?"
	user, err := scanUser(s.db.QueryRowContext(ctx, s.rebind(query), email))
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func (s *SQLStore) UpdateUser(ctx context.Context, user *User) error {
	query := `UPDATE users SET
	full_name = ?, password_hash = ?, is_platform_admin = ?, is_email_verified = ?,
	failed_logins = ?, locked_until = ?, token_epoch = ?
	WHERE email = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		user.FullName, user.PasswordHash, user.IsPlatformAdmin, user.IsEmailVerified,
		user.FailedLogins, nullTime(user.LockedUntil), user.TokenEpoch, user.Email,
	)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) ListUsers(ctx context.Context, page Page) ([]User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, translate(err)
	}

	query := "SELECT " + strings.Join(userColumns, ", ") + " FROM users ORDER BY created_at DESC, email DESC"
	args := []any{}
	if page.Size > 0 {
		query += " LIMIT ?"
		args = append(args, page.Size)
		if offset := page.Offset(); offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, translate(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	return users, total, translate(rows.Err())
}

// ---- teams ----

var teamColumns = []string{"id", "name", "owner_email", "visibility", "personal", "created_at"}

func scanTeam(row scanner) (*Team, error) {
	var t Team
	err := row.Scan(&t.ID, &t.Name, &t.OwnerEmail, &t.Visibility, &t.Personal, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) CreateTeam(ctx context.Context, team *Team) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("teams", teamColumns)),
		team.ID, team.Name, team.OwnerEmail, string(team.Visibility), team.Personal, team.CreatedAt.UTC(),
	)
	return translate(err)
}

func (s *SQLStore) GetTeam(ctx context.Context, id string) (*Team, error) {
	query := "SELECT " + strings.Join(teamColumns, ", ") + " FROM teams WHERE id = ?"
	team, err := scanTeam(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		return nil, translate(err)
	}
	return team, nil
}

func (s *SQLStore) ListTeamsForUser(ctx context.Context, email string) ([]Team, error) {
	query := "SELECT " + columnList("t", teamColumns) + ` FROM teams t
	JOIN team_members m ON m.team_id = t.id
	WHERE m.user_email = ?
	ORDER BY t.created_at, t.id`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), email)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *team)
	}
	return teams, translate(rows.Err())
}

func (s *SQLStore) ListTeamIDsForUser(ctx context.Context, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT team_id FROM team_members WHERE user_email = ? ORDER BY team_id"), email)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, translate(rows.Err())
}

func (s *SQLStore) UpdateTeam(ctx context.Context, team *Team) error {
	query := "UPDATE teams SET name = ?, owner_email = ?, visibility = ? WHERE id = ?"
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		team.Name, team.OwnerEmail, string(team.Visibility), team.ID)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

// DeleteTeam removes the team together with its memberships and pending
// invitations in one transaction.
func (s *SQLStore) DeleteTeam(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM team_members WHERE team_id = ?"), id); err != nil {
		return translate(err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM team_invitations WHERE team_id = ?"), id); err != nil {
		return translate(err)
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM teams WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	if err := affected(res); err != nil {
		return err
	}
	return translate(tx.Commit())
}

// ---- team members ----

func (s *SQLStore) AddTeamMember(ctx context.Context, member *TeamMember) error {
	query := "INSERT INTO team_members (team_id, user_email, role, created_at) VALUES (?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		member.TeamID, member.UserEmail, string(member.Role), member.CreatedAt.UTC())
	return translate(err)
}

func (s *SQLStore) RemoveTeamMember(ctx context.Context, teamID, email string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM team_members WHERE team_id = ? AND user_email = ?"), teamID, email)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) GetTeamMember(ctx context.Context, teamID, email string) (*TeamMember, error) {
	var m TeamMember
	query := "SELECT team_id, user_email, role, created_at FROM team_members WHERE team_id = ? AND user_email = ?"
	err := s.db.QueryRowContext(ctx, s.rebind(query), teamID, email).
		Scan(&m.TeamID, &m.UserEmail, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *SQLStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	query := "SELECT team_id, user_email, role, created_at FROM team_members WHERE team_id = ? ORDER BY created_at, user_email"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), teamID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var members []TeamMember
	for rows.Next() {
		var m TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserEmail, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, translate(rows.Err())
}

func (s *SQLStore) ListMembershipsForUser(ctx context.Context, email string) ([]TeamMember, error) {
	query := "SELECT team_id, user_email, role, created_at FROM team_members WHERE user_email = ? ORDER BY created_at, team_id"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), email)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var members []TeamMember
	for rows.Next() {
		var m TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserEmail, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, translate(rows.Err())
}

// ---- team invitations ----

func (s *SQLStore) CreateInvitation(ctx context.Context, invitation *TeamInvitation) error {
	query := `INSERT INTO team_invitations (id, team_id, invitee_email, token, expires_at, used_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		invitation.ID, invitation.TeamID, invitation.InviteeEmail, invitation.Token,
		invitation.ExpiresAt.UTC(), nullTime(invitation.UsedAt),
	)
	return translate(err)
}

func (s *SQLStore) GetInvitationByToken(ctx context.Context, token string) (*TeamInvitation, error) {
	var inv TeamInvitation
	var usedAt sql.NullTime
	query := "SELECT id, team_id, invitee_email, token, expires_at, used_at FROM team_invitations WHERE token = ?"
	err := s.db.QueryRowContext(ctx, s.rebind(query), token).
		Scan(&inv.ID, &inv.TeamID, &inv.InviteeEmail, &inv.Token, &inv.ExpiresAt, &usedAt)
	if err != nil {
		return nil, translate(err)
	}
	inv.UsedAt = timePtr(usedAt)
	return &inv, nil
}

// MarkInvitationUsed consumes a single-use invitation. A second call for
// the same invitation returns ErrNotFound.
func (s *SQLStore) MarkInvitationUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE team_invitations SET used_at = ? WHERE id = ? AND used_at IS NULL"),
		at.UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

// ---- api tokens ----

var tokenColumns = []string{
	"id", "user_email", "name", "jti", "scope", "scope_ref", "expires_at", "revoked_at", "created_at",
}

func scanAPIToken(row scanner) (*APIToken, error) {
	var t APIToken
	var expiresAt, revokedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.UserEmail, &t.Name, &t.JTI, &t.Scope, &t.ScopeRef,
		&expiresAt, &revokedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = timePtr(expiresAt)
	t.RevokedAt = timePtr(revokedAt)
	return &t, nil
}

func (s *SQLStore) CreateAPIToken(ctx context.Context, token *APIToken) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("api_tokens", tokenColumns)),
		token.ID, token.UserEmail, token.Name, token.JTI, string(token.Scope), token.ScopeRef,
		nullTime(token.ExpiresAt), nullTime(token.RevokedAt), token.CreatedAt.UTC(),
	)
	return translate(err)
}

func (s *SQLStore) GetAPIToken(ctx context.Context, id string) (*APIToken, error) {
	query := "SELECT " + strings.Join(tokenColumns, ", ") + " FROM api_tokens WHERE id = ?"
	token, err := scanAPIToken(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		return nil, translate(err)
	}
	return token, nil
}

func (s *SQLStore) GetAPITokenByJTI(ctx context.Context, jti string) (*APIToken, error) {
	query := "SELECT " + strings.Join(tokenColumns, ", ") + " FROM api_tokens WHERE jti = ?"
	token, err := scanAPIToken(s.db.QueryRowContext(ctx, s.rebind(query), jti))
	if err != nil {
		return nil, translate(err)
	}
	return token, nil
}

func (s *SQLStore) ListAPITokens(ctx context.Context, email string) ([]APIToken, error) {
	query := "SELECT " + strings.Join(tokenColumns, ", ") +
		" FROM api_tokens WHERE user_email = ? ORDER BY created_at DESC, id DESC"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), email)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var tokens []APIToken
	for rows.Next() {
		token, err := scanAPIToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}
	return tokens, translate(rows.Err())
}

// RevokeAPIToken marks the token revoked. Revoking an already revoked
// token returns ErrNotFound.
func (s *SQLStore) RevokeAPIToken(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL"),
		at.UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeleteAPIToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM api_tokens WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

// ---- auth events ----

func (s *SQLStore) RecordAuthEvent(ctx context.Context, event *AuthEvent) error {
	query := "INSERT INTO auth_events (id, user_email, event, ts, ip, user_agent) VALUES (?, ?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		event.ID, event.UserEmail, string(event.Event), event.Timestamp.UTC(), event.IP, event.UserAgent)
	return translate(err)
}

func (s *SQLStore) ListAuthEvents(ctx context.Context, email string, page Page) ([]AuthEvent, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM auth_events WHERE user_email = ?"), email).Scan(&total); err != nil {
		return nil, 0, translate(err)
	}

	query := "SELECT id, user_email, event, ts, ip, user_agent FROM auth_events WHERE user_email = ? ORDER BY ts DESC, id DESC"
	args := []any{email}
	if page.Size > 0 {
		query += " LIMIT ?"
		args = append(args, page.Size)
		if offset := page.Offset(); offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, translate(err)
	}
	defer rows.Close()

	var events []AuthEvent
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.UserEmail, &e.Event, &e.Timestamp, &e.IP, &e.UserAgent); err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, translate(rows.Err())
}
