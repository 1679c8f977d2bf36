package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore wires a SQLStore to a mocked connection with the postgres
// driver selected, so queries go through placeholder rewriting. The
// round-trip tests run on SQLite and never reach this path.
func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{db: db, driver: "postgres"}, mock
}

func TestPostgresPlaceholderRewrite(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(userColumns).
		AddRow("ada@example.com", "Ada", "hash", false, true, 0, nil, 1, created)
	mock.ExpectQuery("SELECT email, full_name, password_hash, is_platform_admin, is_email_verified, failed_logins, locked_until, token_epoch, created_at FROM users WHERE email = $1").
		WithArgs("ada@example.com").
		WillReturnRows(rows)

	user, err := s.GetUser(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FullName)
	assert.Equal(t, created, user.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUniqueViolationMapsToDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(insertStatementRebound(t, s, "users", userColumns)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateUser(context.Background(), &User{Email: "ada@example.com", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNoRowsMapsToNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT email, full_name, password_hash, is_platform_admin, is_email_verified, failed_logins, locked_until, token_epoch, created_at FROM users WHERE email = $1").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := s.GetUser(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryErrorPassesThrough(t *testing.T) {
	s, mock := newMockStore(t)

	boom := errors.New("connection reset by peer")
	mock.ExpectQuery("SELECT COUNT(*) FROM users").WillReturnError(boom)

	_, _, err := s.ListUsers(context.Background(), Page{Size: 10})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := &SQLStore{db: db, driver: "postgres"}

	mock.ExpectPing().WillReturnError(errors.New("no route to host"))

	err = s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging database")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func insertStatementRebound(t *testing.T, s *SQLStore, table string, columns []string) string {
	t.Helper()
	return s.rebind(insertStatement(table, columns))
}
