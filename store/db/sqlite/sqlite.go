package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/store"
)

// ============================================================================
// SQLITE SUPPORT POLICY
// ============================================================================
// SQLite is the default driver for development, the CLI and tests. It keeps a
// single connection; concurrent writers queue behind the busy timeout.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// - No foreign key constraints: rows reference callers by id only.
	// - WAL journal mode prevents reader/writer locking issues.
	// - With `modernc.org/sqlite`, each pragma must be prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	return store.ApplyMigrations(ctx, d.db, store.MigrationDialect{
		CreateTable:   `CREATE TABLE IF NOT EXISTS schema_migration (version TEXT NOT NULL PRIMARY KEY, applied_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')))`,
		SelectVersion: `SELECT version FROM schema_migration`,
		InsertVersion: `INSERT INTO schema_migration (version) VALUES (?)`,
	}, migrations)
}

var migrations = []store.Migration{
	{
		Version: "0.1.0",
		Statements: []string{
			`CREATE TABLE caller (
				id TEXT NOT NULL PRIMARY KEY,
				age INTEGER NOT NULL DEFAULT 0,
				gender TEXT NOT NULL DEFAULT '',
				blood_type TEXT NOT NULL DEFAULT '',
				health_goals TEXT NOT NULL DEFAULT '[]',
				created_ts BIGINT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE health_record (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				caller_id TEXT NOT NULL,
				category TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				payload TEXT NOT NULL DEFAULT '{}',
				conversation_id TEXT NOT NULL DEFAULT '',
				recorded_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_health_record_caller_category ON health_record (caller_id, category, recorded_ts)`,
			`CREATE TABLE report (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				caller_id TEXT NOT NULL,
				type TEXT NOT NULL DEFAULT '',
				file_name TEXT NOT NULL DEFAULT '',
				extracted_text TEXT NOT NULL DEFAULT '',
				structured_data TEXT NOT NULL DEFAULT '{}',
				report_date TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_report_caller ON report (caller_id, created_ts)`,
			`CREATE TABLE conversation (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uid TEXT NOT NULL UNIQUE,
				caller_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE message (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_message_conversation ON message (conversation_id, id)`,
		},
	},
	{
		Version: "0.2.0",
		Statements: []string{
			`ALTER TABLE caller ADD COLUMN memory TEXT NOT NULL DEFAULT '[]'`,
		},
	},
}
