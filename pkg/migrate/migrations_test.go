package migrate_test

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/studioflow-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir failed: %v", err)
	}
}

func TestMediaMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_media")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS media",
		"embedding vector(1536)",
		"CREATE UNIQUE INDEX IF NOT EXISTS media_org_source_folder_key",
		"ON media (organization_id, source_folder)",
		"vector_cosine_ops",
		"DROP TABLE IF EXISTS media",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPipelineMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_video_pipeline")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS video_pipeline_runs",
		"CREATE TABLE IF NOT EXISTS video_pipeline_steps",
		"ON video_pipeline_steps (pipeline_run_id, step_index)",
		"CHECK (progress_percentage BETWEEN 0 AND 100)",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	if err := migrate.ValidateDir(migrate.EmbeddedDir); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(onDisk) != len(embedded) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}

func TestValidateFSRejectsLateExtension(t *testing.T) {
	up := "-- +goose Up\n%s\n-- +goose Down\nSELECT 1;\n"
	fsys := fstest.MapFS{
		"20260101000000_first.sql":  {Data: []byte(fmt.Sprintf(up, "CREATE EXTENSION IF NOT EXISTS vector;"))},
		"20260102000000_second.sql": {Data: []byte(fmt.Sprintf(up, "CREATE EXTENSION IF NOT EXISTS pg_trgm;"))},
	}
	err := migrate.ValidateFS(fsys)
	if err == nil || !strings.Contains(err.Error(), "extensions belong in") {
		t.Fatalf("expected late extension to be rejected, got %v", err)
	}
}

func TestValidateFSRejectsUnbalancedBlocks(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101000000_first.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
	}
	if err := migrate.ValidateFS(fsys); err == nil {
		t.Fatal("expected unbalanced statement blocks to fail")
	}
}

func TestCreateSQLMigrationRejectsEmbeddedDir(t *testing.T) {
	if _, err := migrate.CreateSQLMigration(migrate.EmbeddedDir, "x"); err == nil {
		t.Fatal("expected create into the embedded set to fail")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Media Index!")
	if err != nil {
		t.Fatalf("CreateSQLMigration failed: %v", err)
	}
	if !strings.HasSuffix(path, "_add_media_index.sql") {
		t.Fatalf("unexpected migration path %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
