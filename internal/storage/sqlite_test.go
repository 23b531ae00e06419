package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(filename string) Memory {
	return Memory{
		Filename:   filename,
		Title:      "Michael",
		Date:       "2025-10-24",
		Categories: `["relationships"]`,
		Tags:       `["coffee"]`,
		Summary:    "Coffee preference",
		Content:    "---\ntitle: \"Michael\"\n---\n\n## Personal Details\n\nPrefers filtered coffee.\n",
		CreatedAt:  time.Date(2025, 10, 24, 18, 48, 40, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 10, 24, 18, 48, 40, 0, time.UTC),
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestUpsertGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	m := testMemory("relationships/michael.md")

	if err := s.UpsertMemory(m); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}

	got, err := s.GetMemory(m.Filename)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Title != m.Title || got.Content != m.Content || got.Tags != m.Tags {
		t.Errorf("GetMemory = %+v, want fields of %+v", got, m)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, m.CreatedAt)
	}
}

func TestGetMemory_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetMemory("nope.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestUpsert_PreservesCreatedAt verifies that later upserts never move a
// row's created_at, no matter what value the caller passes.
func TestUpsert_PreservesCreatedAt(t *testing.T) {
	s := openTestStore(t)
	m := testMemory("relationships/michael.md")
	if err := s.UpsertMemory(m); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}

	update := m
	update.Title = "Michael, updated"
	update.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	update.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.UpsertMemory(update); err != nil {
		t.Fatalf("second UpsertMemory: %v", err)
	}

	got, err := s.GetMemory(m.Filename)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created_at moved: %v, want %v", got.CreatedAt, m.CreatedAt)
	}
	if !got.UpdatedAt.Equal(update.UpdatedAt) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, update.UpdatedAt)
	}
	if got.Title != "Michael, updated" {
		t.Errorf("title not overwritten: %q", got.Title)
	}
}

func TestSnapshotToChanges_RecordsPriorState(t *testing.T) {
	s := openTestStore(t)
	m := testMemory("relationships/michael.md")
	if err := s.UpsertMemory(m); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}

	stored, err := s.GetMemory(m.Filename)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if err := s.SnapshotToChanges(stored); err != nil {
		t.Fatalf("SnapshotToChanges: %v", err)
	}

	update := m
	update.Content = "new content"
	if err := s.UpsertMemory(update); err != nil {
		t.Fatalf("UpsertMemory update: %v", err)
	}

	changes, err := s.ListChanges(m.Filename, 10)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly 1 change, got %d", len(changes))
	}
	if changes[0].Content != m.Content {
		t.Errorf("snapshot content = %q, want pre-update content %q", changes[0].Content, m.Content)
	}
}

func TestListByCategory_QuotedTokenMatch(t *testing.T) {
	s := openTestStore(t)

	art := testMemory("insights/art.md")
	art.Categories = `["insights"]`
	art.Tags = `["art"]`
	smart := testMemory("insights/smart.md")
	smart.Categories = `["insights"]`
	smart.Tags = `["smart"]`
	for _, m := range []Memory{art, smart} {
		if err := s.UpsertMemory(m); err != nil {
			t.Fatalf("UpsertMemory: %v", err)
		}
	}

	// "art" must not match inside ["smart"].
	got, err := s.ListByTag("art")
	if err != nil {
		t.Fatalf("ListByTag: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "insights/art.md" {
		t.Errorf("ListByTag(art) = %+v, want only insights/art.md", got)
	}

	byCat, err := s.ListByCategory("insights")
	if err != nil {
		t.Fatalf("ListByCategory: %v", err)
	}
	if len(byCat) != 2 {
		t.Errorf("ListByCategory(insights) returned %d rows, want 2", len(byCat))
	}
}

func TestListRecent_OrdersByUpdatedAt(t *testing.T) {
	s := openTestStore(t)

	old := testMemory("core/persona.md")
	old.UpdatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := testMemory("relationships/michael.md")
	fresh.UpdatedAt = time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)
	for _, m := range []Memory{old, fresh} {
		if err := s.UpsertMemory(m); err != nil {
			t.Fatalf("UpsertMemory: %v", err)
		}
	}

	got, err := s.ListRecent(10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 || got[0].Filename != "relationships/michael.md" {
		t.Errorf("ListRecent order wrong: %+v", got)
	}

	limited, err := s.ListRecent(1)
	if err != nil {
		t.Fatalf("ListRecent(1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListRecent(1) returned %d rows", len(limited))
	}
}

func TestUpsertSection_IdempotentOnFileAndTitle(t *testing.T) {
	s := openTestStore(t)

	sec := Section{FilePath: "relationships/michael.md", Title: "Personal Details", Summary: "prefs"}
	if err := s.UpsertSection(sec); err != nil {
		t.Fatalf("UpsertSection: %v", err)
	}
	sec.Summary = "updated prefs"
	if err := s.UpsertSection(sec); err != nil {
		t.Fatalf("second UpsertSection: %v", err)
	}

	got, err := s.ListSections("")
	if err != nil {
		t.Fatalf("ListSections: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d", len(got))
	}
	if got[0].Summary != "updated prefs" {
		t.Errorf("summary not refreshed: %q", got[0].Summary)
	}
}

func TestListSections_ScopeFilter(t *testing.T) {
	s := openTestStore(t)

	global := Section{FilePath: "core/persona.md", Title: "Identity"}
	projA := Section{FilePath: "projects/alpha.md", Title: "Decisions", Scope: "/home/me/alpha"}
	projB := Section{FilePath: "projects/beta.md", Title: "Decisions", Scope: "/home/me/beta"}
	for _, sec := range []Section{global, projA, projB} {
		if err := s.UpsertSection(sec); err != nil {
			t.Fatalf("UpsertSection: %v", err)
		}
	}

	scoped, err := s.ListSections("/home/me/alpha")
	if err != nil {
		t.Fatalf("ListSections(scope): %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("scoped list = %+v, want global + alpha", scoped)
	}
	for _, sec := range scoped {
		if sec.Scope == "/home/me/beta" {
			t.Errorf("beta-scoped section leaked into alpha listing")
		}
	}

	all, err := s.ListSections("")
	if err != nil {
		t.Fatalf("ListSections(\"\"): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered list returned %d rows, want 3", len(all))
	}
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)

	a := testMemory("relationships/michael.md")
	b := testMemory("insights/thesis.md")
	b.Categories = `["insights"]`
	for _, m := range []Memory{a, b} {
		if err := s.UpsertMemory(m); err != nil {
			t.Fatalf("UpsertMemory: %v", err)
		}
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if len(stats.ByCategory) != 2 {
		t.Errorf("byCategory = %+v, want 2 groups", stats.ByCategory)
	}
}

func TestDeleteMemory(t *testing.T) {
	s := openTestStore(t)
	m := testMemory("relationships/michael.md")
	if err := s.UpsertMemory(m); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}

	if err := s.DeleteMemory(m.Filename); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if _, err := s.GetMemory(m.Filename); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteMemory(m.Filename); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestRequestLog_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	r := RequestLog{
		ID:        "req-1",
		CreatedAt: time.Now(),
		Input:     "Michael prefers filtered coffee",
		Result:    `{"filename":"relationships/michael.md"}`,
		Success:   true,
	}
	if err := s.LogRequest(r); err != nil {
		t.Fatalf("LogRequest: %v", err)
	}

	got, err := s.ListRequests(5)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(got) != 1 || got[0].ID != "req-1" || !got[0].Success {
		t.Errorf("ListRequests = %+v", got)
	}
}
