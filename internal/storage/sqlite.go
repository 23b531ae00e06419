package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFileName is the SQLite database file kept alongside the memory files.
const DBFileName = "mnemo.db"

// Store wraps a SQLite database holding memories, change snapshots, the
// section index, and the classification request log.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFileName)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, path: dsn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path, or ":memory:" for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Memories ---

const memoryColumns = "id, filename, title, date, categories, tags, author, summary, content, created_at, updated_at"

// UpsertMemory inserts the memory or overwrites all mutable fields of an
// existing row with the same filename. created_at is only written on insert;
// the first value persisted for a filename wins for the row's lifetime.
func (s *Store) UpsertMemory(m Memory) error {
	_, err := s.db.Exec(`
		INSERT INTO memories (filename, title, date, categories, tags, author, summary, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			title = excluded.title,
			date = excluded.date,
			categories = excluded.categories,
			tags = excluded.tags,
			author = excluded.author,
			summary = excluded.summary,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		m.Filename, m.Title, m.Date, m.Categories, m.Tags, m.Author, m.Summary, m.Content,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting memory %s: %w", m.Filename, err)
	}
	return nil
}

// GetMemory returns the memory stored under filename, or ErrNotFound.
func (s *Store) GetMemory(filename string) (Memory, error) {
	row := s.db.QueryRow("SELECT "+memoryColumns+" FROM memories WHERE filename = ?", filename)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	return m, err
}

// DeleteMemory removes the memory row. Change snapshots are kept.
func (s *Store) DeleteMemory(filename string) error {
	res, err := s.db.Exec("DELETE FROM memories WHERE filename = ?", filename)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently updated memories, newest first.
func (s *Store) ListRecent(limit int) ([]Memory, error) {
	return s.listMemories("SELECT "+memoryColumns+" FROM memories ORDER BY updated_at DESC LIMIT ?", limit)
}

// ListByCategory returns memories whose categories list contains category,
// ordered by date descending. Matching is against the quoted JSON token so a
// category cannot match inside a longer name.
func (s *Store) ListByCategory(category string) ([]Memory, error) {
	return s.listMemories(
		"SELECT "+memoryColumns+" FROM memories WHERE categories LIKE ? ORDER BY date DESC",
		jsonToken(category),
	)
}

// ListByTag returns memories carrying the tag, ordered by date descending.
func (s *Store) ListByTag(tag string) ([]Memory, error) {
	return s.listMemories(
		"SELECT "+memoryColumns+" FROM memories WHERE tags LIKE ? ORDER BY date DESC",
		jsonToken(tag),
	)
}

// jsonToken builds a LIKE pattern matching a quoted element of a JSON
// string array, so "art" cannot match inside ["smart"].
func jsonToken(value string) string {
	return `%"` + value + `"%`
}

func (s *Store) listMemories(query string, args ...any) ([]Memory, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var tags, author, summary sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.Filename, &m.Title, &m.Date, &m.Categories,
		&tags, &author, &summary, &m.Content, &createdAt, &updatedAt)
	if err != nil {
		return Memory{}, err
	}
	m.Tags = tags.String
	m.Author = author.String
	m.Summary = summary.String
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Memory{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Memory{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return m, nil
}

// GetStats returns the total memory count and a per-category breakdown.
// The primary (first) category of each memory is what gets counted.
func (s *Store) GetStats() (Stats, error) {
	var stats Stats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&stats.Total); err != nil {
		return Stats{}, fmt.Errorf("counting memories: %w", err)
	}

	rows, err := s.db.Query("SELECT categories, COUNT(*) FROM memories GROUP BY categories ORDER BY categories")
	if err != nil {
		return Stats{}, fmt.Errorf("grouping by category: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return Stats{}, err
		}
		stats.ByCategory = append(stats.ByCategory, CategoryCount{
			Category: firstCategory(raw),
			Count:    count,
		})
	}
	return stats, rows.Err()
}

func firstCategory(raw string) string {
	var cats []string
	if err := json.Unmarshal([]byte(raw), &cats); err != nil || len(cats) == 0 {
		return raw
	}
	return cats[0]
}

// --- Changes ---

// SnapshotToChanges copies the memory's current stored state into the change
// log. Callers must invoke this before the upsert that overwrites the row;
// the ordering is a caller contract, not enforced here.
func (s *Store) SnapshotToChanges(m Memory) error {
	_, err := s.db.Exec(`
		INSERT INTO changes (memory_id, filename, title, date, categories, tags, author, summary, content, created_at, updated_at, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Filename, m.Title, m.Date, m.Categories, m.Tags, m.Author, m.Summary, m.Content,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("snapshotting %s to changes: %w", m.Filename, err)
	}
	return nil
}

// ListChanges returns snapshots for the given filename, newest first.
func (s *Store) ListChanges(filename string, limit int) ([]Change, error) {
	rows, err := s.db.Query(`
		SELECT change_id, memory_id, filename, title, date, categories, tags, author, summary, content, created_at, updated_at, changed_at
		FROM changes WHERE filename = ? ORDER BY changed_at DESC, change_id DESC LIMIT ?`,
		filename, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Change
	for rows.Next() {
		var c Change
		var tags, author, summary sql.NullString
		var createdAt, updatedAt, changedAt string
		if err := rows.Scan(&c.ID, &c.MemoryID, &c.Filename, &c.Title, &c.Date, &c.Categories,
			&tags, &author, &summary, &c.Content, &createdAt, &updatedAt, &changedAt); err != nil {
			return nil, err
		}
		c.Tags = tags.String
		c.Author = author.String
		c.Summary = summary.String
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		if c.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, fmt.Errorf("parsing changed_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Sections ---

// UpsertSection inserts or refreshes a section index entry, unique on
// (file_path, section_title).
func (s *Store) UpsertSection(sec Section) error {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO sections (file_path, section_title, summary, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path, section_title) DO UPDATE SET
			summary = excluded.summary,
			scope = excluded.scope,
			updated_at = excluded.updated_at`,
		sec.FilePath, sec.Title, sec.Summary, sec.Scope, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting section %s/%s: %w", sec.FilePath, sec.Title, err)
	}
	return nil
}

// ListSections returns section index entries. With an empty scope every
// entry is returned; otherwise unscoped entries plus entries whose scope
// matches.
func (s *Store) ListSections(scope string) ([]Section, error) {
	query := "SELECT id, file_path, section_title, summary, scope, created_at, updated_at FROM sections"
	var args []any
	if scope != "" {
		query += " WHERE scope = '' OR scope = ?"
		args = append(args, scope)
	}
	query += " ORDER BY file_path, section_title"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Section
	for rows.Next() {
		var sec Section
		var summary sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&sec.ID, &sec.FilePath, &sec.Title, &summary, &sec.Scope, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		sec.Summary = summary.String
		if sec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, sec)
	}
	return results, rows.Err()
}

// --- Request log ---

// LogRequest appends one classification request record.
func (s *Store) LogRequest(r RequestLog) error {
	_, err := s.db.Exec(`
		INSERT INTO request_log (id, created_at, input, result, success, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.CreatedAt), r.Input, r.Result, r.Success, r.Error,
	)
	return err
}

// ListRequests returns the most recent classification requests, newest first.
func (s *Store) ListRequests(limit int) ([]RequestLog, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, input, result, success, error
		FROM request_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RequestLog
	for rows.Next() {
		var r RequestLog
		var result, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &createdAt, &r.Input, &result, &r.Success, &errText); err != nil {
			return nil, err
		}
		r.Result = result.String
		r.Error = errText.String
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
