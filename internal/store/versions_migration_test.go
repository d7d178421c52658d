package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPagesMigrationGuardsVersionsAgainstUpdate(t *testing.T) {
	migrationPath := filepath.Join(migrationsDir, "0002_pages.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"page_versions_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_page_versions_block_update",
		"DEFERRABLE INITIALLY DEFERRED",
		"REFERENCES page_rows(id, page_id)",
		"REFERENCES page_columns(id, page_id)",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail immutability guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestTodosMigrationTiesStatusRowsToSourcePage(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, "0003_todos.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)
	for _, snippet := range []string{
		"REFERENCES todos(id, source_page_id)",
		"REFERENCES page_rows(id, page_id)",
		"UNIQUE (todo_id, row_id)",
		"UNIQUE (source_page_id, slug)",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
