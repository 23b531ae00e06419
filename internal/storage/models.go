package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Memory is one stored Markdown document. Filename is the relative path
// from the memory root and is unique. Categories and Tags are JSON arrays
// stored as text. Content holds the full serialized document including
// frontmatter. CreatedAt is written once and carried forward by the
// pipeline on every later upsert; UpdatedAt moves forward on each write.
type Memory struct {
	ID         int64
	Filename   string
	Title      string
	Date       string // YYYY-MM-DD
	Categories string // JSON array stored as text
	Tags       string // JSON array stored as text, "" when absent
	Author     string
	Summary    string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Change is an immutable snapshot of a memory's full prior state, taken
// before an update overwrites it. Rows are append-only.
type Change struct {
	ID         int64
	MemoryID   int64
	Filename   string
	Title      string
	Date       string
	Categories string
	Tags       string
	Author     string
	Summary    string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ChangedAt  time.Time
}

// Section is a denormalized index entry over a heading that appears in a
// section-organized memory, unique per (FilePath, Title). Scope optionally
// limits visibility to an originating context such as a working directory;
// entries with an empty scope are globally visible.
type Section struct {
	ID        int64
	FilePath  string
	Title     string
	Summary   string
	Scope     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequestLog records one classification request for diagnostics.
type RequestLog struct {
	ID        string
	CreatedAt time.Time
	Input     string
	Result    string // JSON of the classification result, "" on failure
	Success   bool
	Error     string
}

// CategoryCount is one row of Stats' per-category breakdown.
type CategoryCount struct {
	Category string
	Count    int
}

// Stats summarizes the store contents.
type Stats struct {
	Total      int
	ByCategory []CategoryCount
}
