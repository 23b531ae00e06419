package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/mnemo/internal/engine"
)

const classificationTimeout = 30 * time.Second

// Categories is the closed set of memory categories. The engine's answer is
// validated against it before anything is written.
var Categories = []string{"core", "relationships", "milestones", "projects", "insights"}

// Chatter is the interface for structured chat completion against the
// categorization engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Classification is the engine's decision for a piece of free text.
type Classification struct {
	Filename string   `json:"filename"`
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Tags     []string `json:"tags"`
	Section  string   `json:"section"`
}

// UnavailableError wraps engine transport failures so callers can tell
// "classifier down" apart from "classifier answered garbage".
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("classifier unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// InvalidResultError reports an engine answer that failed validation.
type InvalidResultError struct {
	Reason string
	Raw    string
}

func (e *InvalidResultError) Error() string {
	return fmt.Sprintf("invalid classification: %s", e.Reason)
}

// Classifier turns free text into a storage decision via the engine.
type Classifier struct {
	client Chatter
	model  string
}

// New creates a Classifier using the given engine client and model name.
func New(client Chatter, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify submits text (plus optional existing-sections context) and
// returns the validated classification. Unlike best-effort extraction, a
// failure here aborts the caller's whole request: nothing may be written
// without a category and filename.
func (c *Classifier) Classify(ctx context.Context, text, sectionsContext string) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(text, sectionsContext), classificationSchema())
	if err != nil {
		return Classification{}, &UnavailableError{Err: err}
	}

	var result Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Classification{}, &InvalidResultError{Reason: fmt.Sprintf("unparseable output: %v", err), Raw: raw}
	}

	if err := result.validate(); err != nil {
		return Classification{}, &InvalidResultError{Reason: err.Error(), Raw: raw}
	}
	return result, nil
}

func (cl Classification) validate() error {
	if cl.Filename == "" {
		return fmt.Errorf("missing filename")
	}
	if strings.HasPrefix(cl.Filename, "/") || strings.Contains(cl.Filename, "..") {
		return fmt.Errorf("filename %q must be a clean relative path", cl.Filename)
	}
	if !strings.HasSuffix(cl.Filename, ".md") {
		return fmt.Errorf("filename %q must end in .md", cl.Filename)
	}
	if cl.Section == "" {
		return fmt.Errorf("missing section")
	}
	if cl.Title == "" {
		return fmt.Errorf("missing title")
	}
	for _, known := range Categories {
		if cl.Category == known {
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", cl.Category)
}

// classificationSchema returns the JSON schema for structured categorization output.
func classificationSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"filename": {Type: "string", Description: "Relative .md path for the memory file"},
			"category": {Type: "string", Description: "One of: core, relationships, milestones, projects, insights"},
			"title":    {Type: "string", Description: "Human-readable title"},
			"summary":  {Type: "string", Description: "One-line summary"},
			"tags":     {Type: "array", Description: "Lowercase tags", Items: &engine.SchemaProperty{Type: "string"}},
			"section":  {Type: "string", Description: "Heading the text belongs under"},
		},
		Required: []string{"filename", "category", "title", "summary", "tags", "section"},
	}
}
