package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// docPath maps a relative document identifier to its location under the
// memory root.
func (p *Pipeline) docPath(filename string) string {
	return filepath.Join(p.root, filepath.FromSlash(filename))
}

// readDocument returns a document's current on-disk content. A missing file
// is not an error; exists reports whether it was found.
func (p *Pipeline) readDocument(filename string) (content string, exists bool, err error) {
	raw, err := os.ReadFile(p.docPath(filename))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// writeDocument writes content atomically and sets the file mtime to match
// the record's updated_at. The mtime touch is best-effort.
func (p *Pipeline) writeDocument(filename, content string, modTime time.Time) error {
	path := p.docPath(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filename, err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		slog.Warn("pipeline: mtime touch failed", "file", filename, "error", err)
	}
	return nil
}
