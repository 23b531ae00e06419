package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/mnemo/internal/document"
	"github.com/kalambet/mnemo/internal/storage"
)

func writeMemoryFile(t *testing.T, root, filename string, fm document.Frontmatter, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(document.Compose(fm, body)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestSync_IngestsMemoryRoot(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	p := New(store, &fakeCategorizer{}, root)

	writeMemoryFile(t, root, "core/persona.md", document.Frontmatter{
		Title:      "Persona",
		Date:       "2026-05-01",
		Categories: []string{"core"},
		CreatedAt:  "2026-05-01T10:00:00Z",
		UpdatedAt:  "2026-05-02T10:00:00Z",
	}, "## Identity\n\nQuiet optimist.")
	writeMemoryFile(t, root, "projects/mnemo.md", document.Frontmatter{
		Title:      "Mnemo",
		Date:       "2026-05-20",
		Categories: []string{"projects"},
		CreatedAt:  "2026-05-20T08:00:00Z",
		UpdatedAt:  "2026-05-20T08:00:00Z",
	}, "## Build Log\n\nStorage layer done.")

	// Neither of these may be ingested.
	if err := os.WriteFile(filepath.Join(root, "index.md"), []byte("# Memory Index\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	writeMemoryFile(t, root, ".backups/old.md", document.Frontmatter{
		Title: "Old", Date: "2020-01-01", Categories: []string{"core"},
	}, "stale")

	// Broken file counts as failed, not fatal.
	if err := os.WriteFile(filepath.Join(root, "broken.md"), []byte("no frontmatter here"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := p.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Inserted != 2 || result.Updated != 0 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2 inserted, 0 updated, 1 failed", result)
	}

	persona, err := store.GetMemory("core/persona.md")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if persona.CreatedAt.Format("2006-01-02") != "2026-05-01" {
		t.Errorf("created_at = %v", persona.CreatedAt)
	}

	sections, err := store.ListSections("")
	if err != nil {
		t.Fatalf("ListSections: %v", err)
	}
	if len(sections) != 2 {
		t.Errorf("sections = %+v", sections)
	}

	// Second run updates rather than inserts.
	again, err := p.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if again.Inserted != 0 || again.Updated != 2 {
		t.Errorf("second run = %+v, want 0 inserted, 2 updated", again)
	}
}

func TestSync_BacksUpDatabase(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	p := New(store, &fakeCategorizer{}, root)

	if _, err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	backups, err := os.ReadDir(filepath.Join(root, ".backups"))
	if err != nil {
		t.Fatalf("reading backup dir: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("expected one backup, got %d", len(backups))
	}
}
