// Package migration applies embedded, versioned SQL files
// (000001_description.up.sql) and records them in schema_migrations.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type migrationFile struct {
	version int
	name    string
	path    string
}

// RunSQL 在 database/sql 连接上（SQLite）执行未应用的迁移
func RunSQL(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, logger *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read applied versions: %w", err)
	}
	applied, err := scanVersions(rows.Next, rows.Scan, rows.Err)
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("failed to read applied versions: %w", err)
	}

	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to collect migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		content, err := fs.ReadFile(fsys, m.path)
		if err != nil {
			return fmt.Errorf("failed to read migration %06d: %w", m.version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %06d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %06d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %06d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %06d: %w", m.version, err)
		}
		logger.Info("Migration applied", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

// RunPostgres 在 pgx 连接池上执行未应用的迁移
func RunPostgres(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string, logger *zap.Logger) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read applied versions: %w", err)
	}
	applied, err := scanVersions(rows.Next, func(dest ...any) error { return rows.Scan(dest...) }, rows.Err)
	rows.Close()
	if err != nil {
		return fmt.Errorf("failed to read applied versions: %w", err)
	}

	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to collect migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		content, err := fs.ReadFile(fsys, m.path)
		if err != nil {
			return fmt.Errorf("failed to read migration %06d: %w", m.version, err)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %06d: %w", m.version, err)
		}
		logger.Info("Migration applied", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

func scanVersions(next func() bool, scan func(dest ...any) error, errFn func() error) (map[int]bool, error) {
	applied := make(map[int]bool)
	for next() {
		var v int
		if err := scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, errFn()
}

func collectMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var migrations []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		migrations = append(migrations, migrationFile{
			version: version,
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
			path:    dir + "/" + entry.Name(),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}
