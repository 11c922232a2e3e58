package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// OIDCState represents a login CSRF state token
type OIDCState struct {
	bun.BaseModel `bun:"table:oidc_states"`

	State       string    `bun:"state,pk"`
	RedirectURL string    `bun:"redirect_url,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
}

// Session is a server-side identity provider session. The browser only ever
// holds its ID.
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID           string    `bun:"id,pk"`
	Subject      string    `bun:"subject,notnull"`
	Email        string    `bun:"email,notnull"`
	Name         string    `bun:"name,notnull"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull"`
	TokenType    string    `bun:"token_type,notnull"`
	TokenExpiry  time.Time `bun:"token_expiry,nullzero"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
}

// Todo is a todo record owned by the resource server.
type Todo struct {
	bun.BaseModel `bun:"table:todos"`

	ID        int64  `json:"id" bun:"id,pk,autoincrement"`
	Title     string `json:"title" bun:"title,notnull"`
	Completed bool   `json:"completed" bun:"completed,notnull"`
}

// DB wraps the bun.DB connection
type DB struct {
	bun    *bun.DB
	dbType string
}

// DBType returns the database type ("sqlite" or "postgres").
func (db *DB) DBType() string {
	return db.dbType
}

// Open opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	return OpenDB("sqlite", dbPath)
}

// OpenDB opens a database connection for the given type and DSN,
// runs any pending migrations, and returns the DB handle.
func OpenDB(dbType, dsn string) (*DB, error) {
	var driverName string
	switch dbType {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	// For SQLite in-memory databases, use shared cache so that the migration
	// connection (opened separately by golang-migrate) sees the same database.
	if dbType == "sqlite" && dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// busy_timeout waits up to 5 seconds for locks to clear
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}

		// WAL mode allows concurrent reads while writing
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Keep at least one connection open to prevent in-memory databases
		// from being destroyed when all connections close.
		conn.SetMaxIdleConns(1)
	}

	// Uses its own connection to avoid m.Close() side effects
	if err := runMigrations(dbType, dsn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	}

	return &DB{bun: bunDB, dbType: dbType}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.bun.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.bun.PingContext(ctx)
}

// ExecRaw runs a raw statement. Intended for test helpers.
func (db *DB) ExecRaw(query string, args ...any) (sql.Result, error) {
	return db.bun.ExecContext(context.Background(), query, args...)
}

// --- Login state ---

// SaveOIDCState stores a CSRF state token with its redirect URL and expiry.
func (db *DB) SaveOIDCState(ctx context.Context, state, redirectURL string, expiresAt time.Time) error {
	entry := OIDCState{
		State:       state,
		RedirectURL: redirectURL,
		ExpiresAt:   expiresAt.UTC(),
	}
	_, err := db.bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// ConsumeOIDCState atomically loads and deletes a state token.
// Returns sql.ErrNoRows if the state is unknown.
func (db *DB) ConsumeOIDCState(ctx context.Context, state string) (redirectURL string, expiresAt time.Time, err error) {
	err = db.bun.RunInTx(ctx, nil, func(txCtx context.Context, tx bun.Tx) error {
		var entry OIDCState
		if err := tx.NewSelect().Model(&entry).Where("state = ?", state).Scan(txCtx); err != nil {
			return err
		}
		redirectURL = entry.RedirectURL
		expiresAt = entry.ExpiresAt

		res, err := tx.NewDelete().Model((*OIDCState)(nil)).Where("state = ?", state).Exec(txCtx)
		if err != nil {
			return err
		}
		// A concurrent callback already consumed it.
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return redirectURL, expiresAt, nil
}

// CleanupExpiredOIDCStates removes expired state tokens.
func (db *DB) CleanupExpiredOIDCStates(ctx context.Context) error {
	_, err := db.bun.NewDelete().Model((*OIDCState)(nil)).
		Where("expires_at < ?", time.Now().UTC()).
		Exec(ctx)
	return err
}

// --- Sessions ---

// CreateSession inserts a new session.
func (db *DB) CreateSession(ctx context.Context, s Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.TokenExpiry = s.TokenExpiry.UTC()
	_, err := db.bun.NewInsert().Model(&s).Exec(ctx)
	return err
}

// GetSession returns the session with the given ID, or nil if it does not
// exist or has expired.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := db.bun.NewSelect().Model(&s).
		Where("id = ?", id).
		Where("expires_at > ?", time.Now().UTC()).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSessionToken stores a refreshed token set for a session.
func (db *DB) UpdateSessionToken(ctx context.Context, id, accessToken, refreshToken, tokenType string, expiry time.Time) error {
	_, err := db.bun.NewUpdate().Model((*Session)(nil)).
		Set("access_token = ?", accessToken).
		Set("refresh_token = ?", refreshToken).
		Set("token_type = ?", tokenType).
		Set("token_expiry = ?", nullTime(expiry)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// DeleteSession removes a session.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	_, err := db.bun.NewDelete().Model((*Session)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// CleanupExpiredSessions removes sessions past their expiry.
func (db *DB) CleanupExpiredSessions(ctx context.Context) error {
	_, err := db.bun.NewDelete().Model((*Session)(nil)).
		Where("expires_at < ?", time.Now().UTC()).
		Exec(ctx)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// --- Todos ---

// ListTodos returns all todos ordered by ID.
func (db *DB) ListTodos(ctx context.Context) ([]Todo, error) {
	todos := make([]Todo, 0)
	if err := db.bun.NewSelect().Model(&todos).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return todos, nil
}

// GetTodo returns the todo with the given ID, or nil if it does not exist.
func (db *DB) GetTodo(ctx context.Context, id int64) (*Todo, error) {
	var t Todo
	err := db.bun.NewSelect().Model(&t).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTodo inserts a todo and fills in its generated ID.
func (db *DB) CreateTodo(ctx context.Context, t *Todo) error {
	t.ID = 0
	_, err := db.bun.NewInsert().Model(t).Returning("id").Exec(ctx)
	return err
}

// UpdateTodo replaces the title and completion of an existing todo.
// Returns false if no todo has the given ID.
func (db *DB) UpdateTodo(ctx context.Context, t Todo) (bool, error) {
	res, err := db.bun.NewUpdate().Model(&t).
		Column("title", "completed").
		WherePK().
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteTodo removes a todo. Returns false if no todo has the given ID.
func (db *DB) DeleteTodo(ctx context.Context, id int64) (bool, error) {
	res, err := db.bun.NewDelete().Model((*Todo)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeedTodos inserts the given todos if the table is empty.
func (db *DB) SeedTodos(ctx context.Context, todos []Todo) error {
	count, err := db.bun.NewSelect().Model((*Todo)(nil)).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count todos: %w", err)
	}
	if count > 0 {
		return nil // Already seeded
	}

	return db.bun.RunInTx(ctx, nil, func(txCtx context.Context, tx bun.Tx) error {
		for i := range todos {
			todos[i].ID = 0
			if _, err := tx.NewInsert().Model(&todos[i]).Returning("id").Exec(txCtx); err != nil {
				return fmt.Errorf("failed to insert todo %q: %w", todos[i].Title, err)
			}
		}
		return nil
	})
}
