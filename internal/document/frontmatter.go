package document

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/adrg/frontmatter"
)

// Frontmatter is the structured metadata block at the top of a memory file.
// Timestamps are kept as strings in the wire format (created_at/updated_at
// ISO-8601 UTC, date YYYY-MM-DD) so parsing and rendering never reinterpret
// them.
type Frontmatter struct {
	Title      string   `yaml:"title"`
	Date       string   `yaml:"date"`
	Categories []string `yaml:"categories"`
	Tags       []string `yaml:"tags"`
	Author     string   `yaml:"author"`
	Summary    string   `yaml:"summary"`
	CreatedAt  string   `yaml:"created_at"`
	UpdatedAt  string   `yaml:"updated_at"`
}

// Category returns the primary category, or "" when none is set. Categories
// are modeled as a list but hold a single value in practice.
func (f Frontmatter) Category() string {
	if len(f.Categories) == 0 {
		return ""
	}
	return f.Categories[0]
}

// Validate checks the fields every stored memory must carry.
func (f Frontmatter) Validate() error {
	var missing []string
	if f.Title == "" {
		missing = append(missing, "title")
	}
	if f.Date == "" {
		missing = append(missing, "date")
	}
	if len(f.Categories) == 0 {
		missing = append(missing, "categories")
	}
	if f.CreatedAt == "" {
		missing = append(missing, "created_at")
	}
	if f.UpdatedAt == "" {
		missing = append(missing, "updated_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("frontmatter missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render emits the YAML block body (without the --- delimiters) in the
// canonical field order.
func (f Frontmatter) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "title: %q\n", f.Title)
	fmt.Fprintf(&sb, "date: %s\n", f.Date)
	fmt.Fprintf(&sb, "categories: [%s]\n", strings.Join(f.Categories, ", "))
	if len(f.Tags) > 0 {
		fmt.Fprintf(&sb, "tags: [%s]\n", strings.Join(f.Tags, ", "))
	}
	if f.Author != "" {
		fmt.Fprintf(&sb, "author: %s\n", f.Author)
	}
	if f.Summary != "" {
		fmt.Fprintf(&sb, "summary: %q\n", f.Summary)
	}
	fmt.Fprintf(&sb, "created_at: %s\n", f.CreatedAt)
	fmt.Fprintf(&sb, "updated_at: %s\n", f.UpdatedAt)
	return sb.String()
}

// Compose assembles the full on-disk representation: frontmatter block,
// blank line, body with a guaranteed trailing newline.
func Compose(fm Frontmatter, body string) string {
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return "---\n" + fm.Render() + "---\n\n" + body
}

// Split extracts the frontmatter and body from full file content. Malformed
// frontmatter (for example an unterminated delimiter) degrades to treating
// the whole content as body: ok is false, a warning is logged, and the
// caller proceeds with zero-value metadata rather than failing the parse.
// A file with no frontmatter block at all is not an error; it yields zero
// metadata with ok false.
func Split(content string) (fm Frontmatter, body string, ok bool) {
	rest, err := frontmatter.Parse(strings.NewReader(content), &fm)
	if err != nil {
		slog.Warn("malformed frontmatter, treating content as body", "error", err)
		return Frontmatter{}, content, false
	}
	if fm.CreatedAt == "" && fm.Title == "" && len(fm.Categories) == 0 {
		return Frontmatter{}, string(rest), false
	}
	return fm, string(rest), true
}
