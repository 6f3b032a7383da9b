// Package dbtest opens throwaway sqlite databases carrying the media and
// pipeline schema for repository tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// schema mirrors the goose migrations with sqlite column types. Vectors, tags
// and JSON documents are stored as text.
var schema = []string{
	`CREATE TABLE organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE media (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		storage_url_path TEXT NOT NULL DEFAULT '',
		source_folder TEXT,
		tags TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding TEXT,
		embedding_text TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (organization_id, source_folder)
	)`,
	`CREATE TABLE video_pipeline_runs (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		project_id TEXT,
		source_folder TEXT NOT NULL,
		status TEXT NOT NULL,
		tracked BOOLEAN NOT NULL DEFAULT 1,
		total_steps INTEGER NOT NULL,
		current_step_index INTEGER NOT NULL DEFAULT 0,
		progress_percentage REAL NOT NULL DEFAULT 0,
		input_payload TEXT,
		input_config TEXT,
		error_logs TEXT NOT NULL DEFAULT '[]',
		result_media_id TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE video_pipeline_steps (
		id TEXT PRIMARY KEY,
		pipeline_run_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		step_name TEXT NOT NULL,
		status TEXT NOT NULL,
		input_data TEXT,
		output_data TEXT,
		error_message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		completed_at DATETIME,
		duration_seconds REAL,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (pipeline_run_id, step_index)
	)`,
}

// Open returns an isolated in-memory database named after the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// a single connection keeps the shared in-memory database alive and
	// serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}
