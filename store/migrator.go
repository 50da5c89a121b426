package store

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"

	"github.com/pkg/errors"

	"github.com/hrygo/medisense/internal/version"
)

// Migration is one versioned schema step. Statements run in order inside a single
// transaction.
type Migration struct {
	Version    string
	Statements []string
}

// MigrationDialect carries the driver-specific SQL the migrator needs.
type MigrationDialect struct {
	CreateTable   string // creates schema_migration if absent
	SelectVersion string // returns every applied version
	InsertVersion string // one placeholder: the version
}

// ApplyMigrations runs every migration newer than the latest applied version, in
// semantic version order.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect MigrationDialect, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, dialect.CreateTable); err != nil {
		return errors.Wrap(err, "failed to create schema_migration table")
	}

	applied, err := appliedVersions(ctx, db, dialect.SelectVersion)
	if err != nil {
		return err
	}
	current := version.Latest(applied)

	byVersion := make(map[string]Migration, len(migrations))
	versions := make([]string, 0, len(migrations))
	for _, m := range migrations {
		if !version.IsValid(m.Version) {
			return errors.Errorf("invalid migration version %q", m.Version)
		}
		if _, dup := byVersion[m.Version]; dup {
			return errors.Errorf("duplicate migration version %q", m.Version)
		}
		byVersion[m.Version] = m
		versions = append(versions, m.Version)
	}
	version.Sort(versions)

	for _, v := range versions {
		if current != "" && !version.IsNewer(v, current) {
			continue
		}
		if err := applyOne(ctx, db, dialect.InsertVersion, byVersion[v]); err != nil {
			return err
		}
		slog.Info("store: migration applied", "version", v)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list applied migrations")
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	version.Sort(versions)
	return slices.Compact(versions), nil
}

func applyOne(ctx context.Context, db *sql.DB, insertVersion string, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration")
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration %s failed", m.Version)
		}
	}
	if _, err := tx.ExecContext(ctx, insertVersion, m.Version); err != nil {
		return errors.Wrapf(err, "failed to record migration %s", m.Version)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit migration %s", m.Version)
}
