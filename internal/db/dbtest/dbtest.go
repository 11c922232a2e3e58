// Package dbtest provides shared test helpers for creating test databases.
// All test packages that need a database should use NewTestDB instead of
// writing their own setup functions. The backend is controlled by the
// DOLIST_TEST_DB_TYPE environment variable ("sqlite" or "postgres").
package dbtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rjsadow/dolist/internal/db"
)

// testDBType returns the configured test database type (default: "sqlite").
func testDBType() string {
	if v := os.Getenv("DOLIST_TEST_DB_TYPE"); v != "" {
		return v
	}
	return "sqlite"
}

// NewTestDB creates a test database appropriate for the current backend.
//
// For SQLite (default): creates a temp-file database in t.TempDir().
// For Postgres: connects using DOLIST_TEST_POSTGRES_DSN and truncates all
// tables. Skips the test if no DSN is set.
//
// Cleanup (Close) is registered via t.Cleanup automatically.
func NewTestDB(t testing.TB) *db.DB {
	t.Helper()

	switch dbType := testDBType(); dbType {
	case "sqlite":
		return newSQLiteTestDB(t)
	case "postgres":
		return newPostgresTestDB(t)
	default:
		t.Fatalf("unsupported DOLIST_TEST_DB_TYPE: %s", dbType)
		return nil
	}
}

func newSQLiteTestDB(t testing.TB) *db.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.OpenDB("sqlite", dbPath)
	if err != nil {
		t.Fatalf("dbtest: failed to open SQLite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newPostgresTestDB(t testing.TB) *db.DB {
	t.Helper()

	dsn := os.Getenv("DOLIST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOLIST_TEST_POSTGRES_DSN not set; skipping Postgres test")
	}

	database, err := db.OpenDB("postgres", dsn)
	if err != nil {
		t.Fatalf("dbtest: failed to open Postgres database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	for _, table := range []string{"sessions", "oidc_states", "todos"} {
		if _, err := database.ExecRaw("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("dbtest: failed to truncate %s: %v", table, err)
		}
	}
	return database
}
