package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-slug"
	"github.com/google/uuid"

	"github.com/kalambet/mnemo/internal/classifier"
	"github.com/kalambet/mnemo/internal/document"
	"github.com/kalambet/mnemo/internal/index"
	"github.com/kalambet/mnemo/internal/storage"
)

// ErrClassification marks failures of the categorization step. Nothing is
// written when classification fails.
var ErrClassification = errors.New("classification failed")

// ValidationError rejects a request before any write happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// sectionOrganized lists the categories whose documents are organized by
// section and therefore feed the section index.
var sectionOrganized = map[string]bool{
	"core":          true,
	"relationships": true,
	"projects":      true,
}

// Categorizer decides where a piece of free text belongs.
type Categorizer interface {
	Classify(ctx context.Context, text, sectionsContext string) (classifier.Classification, error)
}

// Pipeline orchestrates the full write path: classify, locate, merge via the
// section editor, persist with a version snapshot, refresh the section index,
// regenerate index.md.
type Pipeline struct {
	store      *storage.Store
	categorize Categorizer
	root       string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Pipeline writing documents under root.
func New(store *storage.Store, categorize Categorizer, root string) *Pipeline {
	return &Pipeline{
		store:      store,
		categorize: categorize,
		root:       root,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lock serializes read-modify-write cycles per document identifier. Two
// concurrent writers on the same filename would otherwise silently lose one
// writer's section insert.
func (p *Pipeline) lock(filename string) func() {
	p.mu.Lock()
	m, ok := p.locks[filename]
	if !ok {
		m = &sync.Mutex{}
		p.locks[filename] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// RememberResult reports what the pipeline did with a piece of free text.
type RememberResult struct {
	Filename       string `json:"filename"`
	Category       string `json:"category"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	Section        string `json:"section"`
	Created        bool   `json:"created"`
	SectionCreated bool   `json:"section_created"`
}

// Remember runs the full assembly pipeline on free text: classify, then
// either append into an existing section of the target document, split off a
// sibling document when the section is new to an existing file, or create the
// document from scratch. scope limits which section-index entries are offered
// to the classifier and tags new entries.
func (p *Pipeline) Remember(ctx context.Context, text, scope string) (RememberResult, error) {
	if strings.TrimSpace(text) == "" {
		return RememberResult{}, &ValidationError{Reason: "empty text"}
	}

	sections, err := p.store.ListSections(scope)
	if err != nil {
		slog.Warn("pipeline: section context unavailable", "error", err)
	}

	decision, err := p.categorize.Classify(ctx, text, classifier.FormatSections(sections))
	p.logClassification(text, decision, err)
	if err != nil {
		return RememberResult{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	unlock := p.lock(decision.Filename)
	defer unlock()

	now := time.Now().UTC()
	result := RememberResult{
		Filename: decision.Filename,
		Category: decision.Category,
		Title:    decision.Title,
		Summary:  decision.Summary,
		Section:  decision.Section,
	}

	prior, exists, err := p.readDocument(decision.Filename)
	if err != nil {
		return RememberResult{}, fmt.Errorf("reading %s: %w", decision.Filename, err)
	}

	var (
		tree      *document.Tree
		fm        document.Frontmatter
		createdAt = now
	)
	switch {
	case !exists:
		// Fresh one-section document.
		tree = &document.Tree{}
		tree.InsertIntoSection(decision.Section, text)
		result.Created = true
		result.SectionCreated = true

	default:
		priorFM, body, _ := document.Split(prior)
		tree = document.Parse(body)
		createdAt = parseTimestamp(priorFM.CreatedAt, now)

		if tree.SectionExists(decision.Section) {
			ins := tree.InsertIntoSection(decision.Section, text)
			result.SectionCreated = ins.Created
		} else {
			// Splitting keeps any one file's section count bounded: the
			// new section lands in a topically narrow sibling document.
			sibling, err := siblingFilename(decision.Filename, decision.Section)
			if err != nil {
				return RememberResult{}, &ValidationError{Reason: err.Error()}
			}
			unlockSibling := p.lock(sibling)
			defer unlockSibling()

			result.Filename = sibling
			result.Created = true
			result.SectionCreated = true
			createdAt = now
			tree = &document.Tree{}
			tree.InsertIntoSection(decision.Section, text)

			siblingPrior, siblingExists, err := p.readDocument(sibling)
			if err != nil {
				return RememberResult{}, fmt.Errorf("reading %s: %w", sibling, err)
			}
			if siblingExists {
				siblingFM, siblingBody, _ := document.Split(siblingPrior)
				tree = document.Parse(siblingBody)
				tree.InsertIntoSection(decision.Section, text)
				createdAt = parseTimestamp(siblingFM.CreatedAt, now)
				result.Created = false
			}
		}
	}

	fm = document.Frontmatter{
		Title:      decision.Title,
		Date:       createdAt.Format("2006-01-02"),
		Categories: []string{decision.Category},
		Tags:       decision.Tags,
		Summary:    decision.Summary,
		CreatedAt:  createdAt.Format(time.RFC3339),
		UpdatedAt:  now.Format(time.RFC3339),
	}

	content := document.Compose(fm, tree.Render())
	if err := p.commit(result.Filename, fm, content, createdAt, now, scope, decision.Summary, decision.Section); err != nil {
		return RememberResult{}, err
	}
	p.reindex()
	return result, nil
}

// WriteResult reports a direct document write.
type WriteResult struct {
	Filename string `json:"filename"`
	Created  bool   `json:"created"`
	Diff     string `json:"diff,omitempty"`
}

// Write is the direct-write variant: the caller supplies the full frontmatter
// and body. The prior version is snapshotted and a unified diff against it is
// returned when the document already existed.
func (p *Pipeline) Write(ctx context.Context, filename string, fm document.Frontmatter, body string) (WriteResult, error) {
	if err := validFilename(filename); err != nil {
		return WriteResult{}, &ValidationError{Reason: err.Error()}
	}

	unlock := p.lock(filename)
	defer unlock()

	now := time.Now().UTC()
	createdAt := now
	var priorContent string

	stored, err := p.store.GetMemory(filename)
	switch {
	case err == nil:
		createdAt = stored.CreatedAt
		priorContent = stored.Content
	case errors.Is(err, storage.ErrNotFound):
	default:
		return WriteResult{}, fmt.Errorf("loading record %s: %w", filename, err)
	}

	fm.CreatedAt = createdAt.Format(time.RFC3339)
	fm.UpdatedAt = now.Format(time.RFC3339)
	if err := fm.Validate(); err != nil {
		return WriteResult{}, &ValidationError{Reason: err.Error()}
	}

	content := document.Compose(fm, body)
	result := WriteResult{Filename: filename, Created: priorContent == ""}
	if priorContent != "" {
		result.Diff = unifiedDiff(filename, priorContent, content)
	}

	if err := p.commit(filename, fm, content, createdAt, now, "", fm.Summary, ""); err != nil {
		return WriteResult{}, err
	}
	p.reindex()
	return result, nil
}

// commit persists one document: snapshot the prior record, write the file,
// upsert the record, refresh the section index for section-organized
// categories. The snapshot must land before the upsert overwrites the row.
func (p *Pipeline) commit(filename string, fm document.Frontmatter, content string, createdAt, now time.Time, scope, summary, targetSection string) error {
	stored, err := p.store.GetMemory(filename)
	switch {
	case err == nil:
		if err := p.store.SnapshotToChanges(stored); err != nil {
			return fmt.Errorf("snapshotting %s: %w", filename, err)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("loading record %s: %w", filename, err)
	}

	if err := p.writeDocument(filename, content, now); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}

	memory := storage.Memory{
		Filename:   filename,
		Title:      fm.Title,
		Date:       fm.Date,
		Categories: marshalList(fm.Categories),
		Tags:       marshalList(fm.Tags),
		Author:     fm.Author,
		Summary:    fm.Summary,
		Content:    content,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
	if err := p.store.UpsertMemory(memory); err != nil {
		return fmt.Errorf("upserting %s: %w", filename, err)
	}

	if sectionOrganized[fm.Category()] {
		p.refreshSections(filename, content, scope, summary, targetSection, now)
	}
	return nil
}

// refreshSections recomputes the section index from the final document
// content. Only the section this write targeted gets the classifier summary.
func (p *Pipeline) refreshSections(filename, content, scope, summary, targetSection string, now time.Time) {
	_, body, _ := document.Split(content)
	for _, heading := range document.Parse(body).Headings() {
		sec := storage.Section{
			FilePath:  filename,
			Title:     heading,
			Scope:     scope,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if targetSection != "" && strings.EqualFold(heading, targetSection) {
			sec.Summary = summary
		}
		if err := p.store.UpsertSection(sec); err != nil {
			slog.Warn("pipeline: section index update failed", "file", filename, "section", heading, "error", err)
		}
	}
}

// Reindex regenerates index.md from current store contents.
func (p *Pipeline) Reindex() error {
	data, err := index.Collect(p.store)
	if err != nil {
		return fmt.Errorf("collecting index data: %w", err)
	}
	if err := p.writeDocument(index.FileName, index.Generate(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("writing %s: %w", index.FileName, err)
	}
	return nil
}

// reindex is the non-fatal variant used after a successful primary write.
func (p *Pipeline) reindex() {
	if err := p.Reindex(); err != nil {
		slog.Warn("pipeline: reindex failed", "error", err)
	}
}

func (p *Pipeline) logClassification(input string, decision classifier.Classification, classifyErr error) {
	entry := storage.RequestLog{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Input:     input,
		Success:   classifyErr == nil,
	}
	if classifyErr != nil {
		entry.Error = classifyErr.Error()
	} else if raw, err := json.Marshal(decision); err == nil {
		entry.Result = string(raw)
	}
	if err := p.store.LogRequest(entry); err != nil {
		slog.Warn("pipeline: request log write failed", "error", err)
	}
}

// siblingFilename derives the split target for a new section of an existing
// document: base filename plus the slugified section name.
func siblingFilename(filename, section string) (string, error) {
	normalized, err := slug.Normalize(section)
	if err != nil || normalized == "" {
		return "", fmt.Errorf("section %q has no usable slug", section)
	}
	return strings.TrimSuffix(filename, ".md") + "-" + normalized + ".md", nil
}

func validFilename(filename string) error {
	if filename == "" {
		return errors.New("missing filename")
	}
	if strings.HasPrefix(filename, "/") || strings.Contains(filename, "..") {
		return fmt.Errorf("filename %q must be a clean relative path", filename)
	}
	if !strings.HasSuffix(filename, ".md") {
		return fmt.Errorf("filename %q must end in .md", filename)
	}
	return nil
}

func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func parseTimestamp(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fallback
	}
	return t.UTC()
}
