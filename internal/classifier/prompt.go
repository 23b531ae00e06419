package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/mnemo/internal/engine"
	"github.com/kalambet/mnemo/internal/storage"
)

const systemPromptTemplate = `You are a memory categorization engine for a personal Markdown knowledge base. Analyze the text to remember and decide where it belongs. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Fields:
- "filename": relative path for the memory file, e.g. "relationships/michael.md". Reuse an existing file when the text clearly belongs to it.
- "category": exactly one of core, relationships, milestones, projects, insights.
- "title": short human-readable title for the file.
- "summary": one-line summary of the text.
- "tags": a few lowercase tags for flexible lookup.
- "section": the heading the text should live under, e.g. "Personal Details". Reuse an existing section when one fits.`

// BuildPrompt constructs the chat messages for a categorization request.
// sectionsContext, when non-empty, is appended so the engine can reuse
// existing files and section headings instead of inventing new ones.
func BuildPrompt(text, sectionsContext string) []engine.Message {
	var sb strings.Builder
	sb.WriteString(systemPromptTemplate)

	if sectionsContext != "" {
		fmt.Fprintf(&sb, "\n\n[Existing Sections]\n%s", sectionsContext)
	}

	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: text},
	}
}

// FormatSections renders section index entries as a bullet list grouped by
// file, the shape the categorization prompt expects:
//
//	- relationships/michael.md
//	  - Personal Details
//	  - Career History
func FormatSections(sections []storage.Section) string {
	if len(sections) == 0 {
		return ""
	}

	byFile := make(map[string][]string)
	var files []string
	for _, sec := range sections {
		if _, seen := byFile[sec.FilePath]; !seen {
			files = append(files, sec.FilePath)
		}
		byFile[sec.FilePath] = append(byFile[sec.FilePath], sec.Title)
	}
	sort.Strings(files)

	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "- %s\n", f)
		for _, title := range byFile[f] {
			fmt.Fprintf(&sb, "  - %s\n", title)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
