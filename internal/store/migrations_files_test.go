package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pressly/goose/v3/sqlparser"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationFilesParseInBothDirections(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.sql$`)
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected file %q in migrations dir", name)
		}
		if other, ok := seen[match[1]]; ok {
			t.Fatalf("version %s used by both %s and %s", match[1], other, name)
		}
		seen[match[1]] = name

		for _, direction := range []sqlparser.Direction{sqlparser.DirectionUp, sqlparser.DirectionDown} {
			f, err := os.Open(filepath.Join(migrationsDir, name))
			if err != nil {
				t.Fatalf("open %s: %v", name, err)
			}
			stmts, _, err := sqlparser.ParseSQLMigration(f, direction, false)
			f.Close()
			if err != nil {
				t.Fatalf("parse %s (%s): %v", name, direction, err)
			}
			if len(stmts) == 0 {
				t.Fatalf("%s has no %s statements", name, direction)
			}
		}
	}
	if len(seen) == 0 {
		t.Fatal("no migrations discovered")
	}
}

func TestPageVersionGuardIsOneStatement(t *testing.T) {
	f, err := os.Open(filepath.Join(migrationsDir, "0002_pages.sql"))
	if err != nil {
		t.Fatalf("open migration: %v", err)
	}
	defer f.Close()
	stmts, _, err := sqlparser.ParseSQLMigration(f, sqlparser.DirectionUp, false)
	if err != nil {
		t.Fatalf("parse migration: %v", err)
	}
	guard := regexp.MustCompile(`(?s)^\s*CREATE OR REPLACE FUNCTION page_versions_immutable_guard\(\).*\$\$ LANGUAGE plpgsql;\s*$`)
	for _, stmt := range stmts {
		if guard.MatchString(stmt) {
			return
		}
	}
	t.Fatal("expected the plpgsql guard to survive as a single statement")
}
