// Package migrate applies the goose SQL migrations. The migration files are
// embedded so workers and the CLI migrate without a source checkout.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the on-disk location used by the create command.
const DefaultDir = "pkg/migrate/migrations"

// EmbeddedDir marks the compiled-in migrations.
const EmbeddedDir = "embedded"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the compiled-in migrations rooted at the migrations dir.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// source picks the filesystem goose reads from. EmbeddedDir or an empty dir
// use the embedded set; any other value is read from disk.
func source(dir string) (fs.FS, string) {
	if dir == "" || dir == EmbeddedDir {
		return Embedded(), "."
	}
	return nil, dir
}

func prepare(dir string) (string, error) {
	fsys, path := source(dir)
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	return path, nil
}

// Run executes a goose command (up, down, status, ...).
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return errors.New("db is required")
	}
	path, err := prepare(dir)
	if err != nil {
		return err
	}
	if command == "up" {
		if err := RequireVectorExtension(ctx, db); err != nil {
			return err
		}
	}
	if err := goose.RunContext(ctx, command, db, path, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down to targetVersion
// (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	if db == nil {
		return errors.New("db is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil || len(targetVersion) != 14 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", targetVersion)
	}
	path, err := prepare(dir)
	if err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current == target:
		return nil
	case current < target:
		if err := RequireVectorExtension(ctx, db); err != nil {
			return err
		}
		if err := goose.UpToContext(ctx, db, path, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, path, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}

// RequireVectorExtension fails early when the server cannot provide
// pgvector, instead of halfway through the media migration.
func RequireVectorExtension(ctx context.Context, db *sql.DB) error {
	var available bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'vector')`).Scan(&available)
	if err != nil {
		return fmt.Errorf("check pgvector availability: %w", err)
	}
	if !available {
		return errors.New("postgres server does not provide the pgvector extension")
	}
	return nil
}
