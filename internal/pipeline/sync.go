package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/mnemo/internal/document"
	"github.com/kalambet/mnemo/internal/index"
	"github.com/kalambet/mnemo/internal/storage"
)

const syncWorkers = 4

// SyncResult reports a bulk re-ingest run.
type SyncResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

type parsedDoc struct {
	filename string
	fm       document.Frontmatter
	body     string
	content  string
	modTime  time.Time
}

// Sync re-ingests every document under the memory root into the store. The
// store's database file is backed up first so a bad sync can be rolled back.
// Files that fail to parse are counted and skipped, never fatal.
func (p *Pipeline) Sync(ctx context.Context) (SyncResult, error) {
	if err := p.backupStore(); err != nil {
		return SyncResult{}, err
	}

	files, err := p.listDocumentFiles()
	if err != nil {
		return SyncResult{}, fmt.Errorf("walking memory root: %w", err)
	}

	var (
		mu     sync.Mutex
		parsed []parsedDoc
		result SyncResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncWorkers)
	for _, filename := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := p.parseDocumentFile(filename)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("sync: skipping file", "file", filename, "error", err)
				result.Failed++
				return nil
			}
			parsed = append(parsed, doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SyncResult{}, err
	}

	for _, doc := range parsed {
		inserted, err := p.ingest(doc)
		if err != nil {
			slog.Warn("sync: ingest failed", "file", doc.filename, "error", err)
			result.Failed++
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := p.Reindex(); err != nil {
		slog.Warn("sync: reindex failed", "error", err)
	}
	return result, nil
}

// listDocumentFiles collects relative paths of every markdown document under
// the root, skipping dot-directories and the generated index.
func (p *Pipeline) listDocumentFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == index.FileName {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (p *Pipeline) parseDocumentFile(filename string) (parsedDoc, error) {
	content, exists, err := p.readDocument(filename)
	if err != nil {
		return parsedDoc{}, err
	}
	if !exists {
		return parsedDoc{}, fs.ErrNotExist
	}

	fm, body, ok := document.Split(content)
	if !ok {
		return parsedDoc{}, fmt.Errorf("no frontmatter in %s", filename)
	}
	if fm.Title == "" || len(fm.Categories) == 0 {
		return parsedDoc{}, fmt.Errorf("incomplete frontmatter in %s", filename)
	}

	info, err := os.Stat(p.docPath(filename))
	if err != nil {
		return parsedDoc{}, err
	}
	return parsedDoc{
		filename: filename,
		fm:       fm,
		body:     body,
		content:  content,
		modTime:  info.ModTime().UTC(),
	}, nil
}

// ingest upserts one parsed document. Frontmatter timestamps win; the file
// mtime fills updated_at when the frontmatter has none, and a stored record's
// created_at is carried forward over a missing frontmatter value.
func (p *Pipeline) ingest(doc parsedDoc) (inserted bool, err error) {
	createdAt := parseTimestamp(doc.fm.CreatedAt, doc.modTime)
	updatedAt := parseTimestamp(doc.fm.UpdatedAt, doc.modTime)

	stored, err := p.store.GetMemory(doc.filename)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if exists && doc.fm.CreatedAt == "" {
		createdAt = stored.CreatedAt
	}

	memory := storage.Memory{
		Filename:   doc.filename,
		Title:      doc.fm.Title,
		Date:       doc.fm.Date,
		Categories: marshalList(doc.fm.Categories),
		Tags:       marshalList(doc.fm.Tags),
		Author:     doc.fm.Author,
		Summary:    doc.fm.Summary,
		Content:    doc.content,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if err := p.store.UpsertMemory(memory); err != nil {
		return false, err
	}

	if sectionOrganized[doc.fm.Category()] {
		p.refreshSections(doc.filename, doc.content, "", "", "", updatedAt)
	}
	return !exists, nil
}

// backupStore copies the database file into .backups/ under the memory root.
// In-memory stores have nothing to back up.
func (p *Pipeline) backupStore() error {
	src := p.store.Path()
	if src == "" || src == ":memory:" {
		return nil
	}
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("inspecting database file: %w", err)
	}

	backupDir := filepath.Join(p.root, ".backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	dst := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", filepath.Base(src), stamp))
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	slog.Info("sync: database backed up", "path", dst)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
