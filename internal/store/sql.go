package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Options configures the SQL store connection.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// URL is the driver DSN: a file path or ":memory:" for sqlite, a
	// connection string for postgres.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements Store on database/sql, backed by either the pure-Go
// SQLite driver or lib/pq.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ Store = (*SQLStore)(nil)

// Open connects to the configured database and verifies connectivity. The
// schema is not touched; call Migrate before first use.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	// An in-memory SQLite database exists per connection, so the pool
	// must collapse to one connection for every query to see it.
	if driver == "sqlite" && strings.Contains(opts.URL, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks if the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate applies the schema. Every statement is idempotent, so Migrate is
// safe to run on every start.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for PostgreSQL. Queries are
// authored with ? so dynamically assembled WHERE clauses stay readable;
// SQLite accepts ? natively.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// translate maps driver errors to the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// isUniqueViolation recognizes uniqueness-key violations from both
// drivers: lib/pq exposes SQLSTATE 23505, the SQLite driver only a
// message.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// affected converts a zero-row UPDATE or DELETE into ErrNotFound.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// whereBuilder accumulates WHERE clauses and their bind arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) and(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) where() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// scope appends the visibility predicate: platform admins see everything;
// otherwise an entity is visible when it is public, team-scoped to one of
// the principal's teams, or privately owned by the principal.
func (w *whereBuilder) scope(scope Scope) {
	if scope.PlatformAdmin {
		return
	}
	or := []string{"visibility = ?"}
	args := []any{string(VisibilityPublic)}
	if scope.Email != "" {
		or = append(or, "(visibility = ? AND owner_email = ?)")
		args = append(args, string(VisibilityPrivate), scope.Email)
	}
	if len(scope.TeamIDs) > 0 {
		or = append(or, "(visibility = ? AND team_id IN ("+placeholders(len(scope.TeamIDs))+"))")
		args = append(args, string(VisibilityTeam))
		for _, id := range scope.TeamIDs {
			args = append(args, id)
		}
	}
	w.and("("+strings.Join(or, " OR ")+")", args...)
}

// filter appends the list-narrowing clauses. The gateway clause only
// applies to federatable entities; servers, gateways, and agents have no
// gateway column.
func (w *whereBuilder) filter(filter Filter, kind EntityKind) {
	if filter.TeamID != "" {
		w.and("team_id = ?", filter.TeamID)
	}
	federatable := kind == KindTool || kind == KindResource || kind == KindPrompt
	if federatable && filter.GatewayID != "" {
		if filter.GatewayID == GatewayLocal {
			w.and("gateway_id IS NULL")
		} else {
			w.and("gateway_id = ?", filter.GatewayID)
		}
	}
	if filter.Enabled != nil {
		w.and("enabled = ?", *filter.Enabled)
	}
	if filter.CreatedVia != "" {
		w.and("created_via = ?", string(filter.CreatedVia))
	}
	if filter.Tag != "" {
		// Tags are stored as a JSON array; a quoted match avoids
		// hitting substrings of longer tags.
		w.and("tags LIKE ?", `%"`+filter.Tag+`"%`)
	}
	if filter.Search != "" {
		w.and("name LIKE ?", "%"+filter.Search+"%")
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func insertStatement(table string, columns []string) string {
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" + placeholders(len(columns)) + ")"
}

// EncodeCursor produces the opaque continuation token for the row
// identified by (createdAt, id). List results are ordered by
// (created_at DESC, id DESC), so the token marks an exclusive lower bound.
func EncodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. Malformed tokens return
// ErrBadCursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	createdAtRaw, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", ErrBadCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	return createdAt, id, nil
}

// listQuery runs the count and the windowed select for one catalog table,
// invoking scan once per returned row. The count ignores the cursor so it
// always reflects the full filtered set. A zero page size disables the
// window and returns every matching row.
func (s *SQLStore) listQuery(ctx context.Context, table, columns string, wb *whereBuilder, page Page, scan func(*sql.Rows) error) (int, error) {
	var total int
	countQuery := "SELECT COUNT(*) FROM " + table + wb.where()
	if err := s.db.QueryRowContext(ctx, s.rebind(countQuery), wb.args...).Scan(&total); err != nil {
		return 0, translate(err)
	}

	if page.Cursor != "" {
		createdAt, id, err := DecodeCursor(page.Cursor)
		if err != nil {
			return 0, err
		}
		wb.and("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	}

	query := "SELECT " + columns + " FROM " + table + wb.where() + " ORDER BY created_at DESC, id DESC"
	if page.Size > 0 {
		query += " LIMIT ?"
		wb.args = append(wb.args, page.Size)
		if page.Cursor == "" {
			if offset := page.Offset(); offset > 0 {
				query += " OFFSET ?"
				wb.args = append(wb.args, offset)
			}
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), wb.args...)
	if err != nil {
		return 0, translate(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return 0, err
		}
	}
	return total, translate(rows.Err())
}

// encodeJSON serializes slice and map columns; nil values collapse to the
// given empty literal so round-trips stay stable.
func encodeJSON(v any, empty string) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	if out := string(raw); out != "null" {
		return out
	}
	return empty
}

func decodeStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func decodeStringMap(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func rawColumn(r json.RawMessage) string {
	return string(r)
}

func rawValue(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
