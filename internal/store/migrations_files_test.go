package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestUpMigrationsSortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_tags.up.sql":         {Data: []byte("SELECT 2")},
		"0001_narratives.up.sql":   {Data: []byte("SELECT 1")},
		"0001_narratives.down.sql": {Data: []byte("SELECT 0")},
		"README.md":                {Data: []byte("notes")},
	}
	files, err := upMigrations(fsys)
	if err != nil {
		t.Fatalf("upMigrations() error = %v", err)
	}
	if len(files) != 2 || files[0] != "0001_narratives.up.sql" || files[1] != "0002_tags.up.sql" {
		t.Fatalf("unexpected migration order: %v", files)
	}
}

func TestUpMigrationsMissingDir(t *testing.T) {
	if _, err := upMigrations(os.DirFS(filepath.Join(t.TempDir(), "missing"))); err == nil {
		t.Fatal("expected an error for a missing migrations dir")
	}
}
