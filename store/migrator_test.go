package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var testDialect = MigrationDialect{
	CreateTable:   `CREATE TABLE IF NOT EXISTS schema_migration (version TEXT NOT NULL PRIMARY KEY)`,
	SelectVersion: `SELECT version FROM schema_migration`,
	InsertVersion: `INSERT INTO schema_migration (version) VALUES (?)`,
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsOrdersBySemver(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	migrations := []Migration{
		{Version: "0.10.0", Statements: []string{`ALTER TABLE t ADD COLUMN c TEXT`}},
		{Version: "0.2.0", Statements: []string{`ALTER TABLE t ADD COLUMN b TEXT`}},
		{Version: "0.1.0", Statements: []string{`CREATE TABLE t (a TEXT)`}},
	}
	require.NoError(t, ApplyMigrations(ctx, db, testDialect, migrations))
	require.NoError(t, ApplyMigrations(ctx, db, testDialect, migrations))

	_, err := db.ExecContext(ctx, `INSERT INTO t (a, b, c) VALUES ('1', '2', '3')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migration`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestApplyMigrationsRollsBackFailedStep(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	err := ApplyMigrations(ctx, db, testDialect, []Migration{
		{Version: "0.1.0", Statements: []string{`CREATE TABLE t (a TEXT)`, `NOT SQL`}},
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migration`).Scan(&count))
	assert.Zero(t, count)
}

func TestApplyMigrationsRejectsBadVersions(t *testing.T) {
	tests := []struct {
		name       string
		migrations []Migration
	}{
		{name: "invalid", migrations: []Migration{{Version: "latest"}}},
		{name: "duplicate", migrations: []Migration{{Version: "0.1.0"}, {Version: "0.1.0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ApplyMigrations(context.Background(), openTestDB(t), testDialect, tt.migrations)
			require.Error(t, err)
		})
	}
}
