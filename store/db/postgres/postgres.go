package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the PostgreSQL database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, fmt.Errorf("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	return store.ApplyMigrations(ctx, d.db, store.MigrationDialect{
		CreateTable:   `CREATE TABLE IF NOT EXISTS schema_migration (version TEXT NOT NULL PRIMARY KEY, applied_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT)`,
		SelectVersion: `SELECT version FROM schema_migration`,
		InsertVersion: `INSERT INTO schema_migration (version) VALUES ($1)`,
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
				health_goals JSONB NOT NULL DEFAULT '[]',
				created_ts BIGINT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE health_record (
				id BIGSERIAL PRIMARY KEY,
				caller_id TEXT NOT NULL,
				category TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				payload JSONB NOT NULL DEFAULT '{}',
				conversation_id TEXT NOT NULL DEFAULT '',
				recorded_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_health_record_caller_category ON health_record (caller_id, category, recorded_ts)`,
			`CREATE TABLE report (
				id BIGSERIAL PRIMARY KEY,
				caller_id TEXT NOT NULL,
				type TEXT NOT NULL DEFAULT '',
				file_name TEXT NOT NULL DEFAULT '',
				extracted_text TEXT NOT NULL DEFAULT '',
				structured_data JSONB NOT NULL DEFAULT '{}',
				report_date TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_report_caller ON report (caller_id, created_ts)`,
			`CREATE TABLE conversation (
				id SERIAL PRIMARY KEY,
				uid TEXT NOT NULL UNIQUE,
				caller_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE message (
				id BIGSERIAL PRIMARY KEY,
				conversation_id INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_message_conversation ON message (conversation_id, id)`,
		},
	},
	{
		Version: "0.2.0",
		Statements: []string{
			`ALTER TABLE caller ADD COLUMN memory JSONB NOT NULL DEFAULT '[]'`,
		},
	},
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
