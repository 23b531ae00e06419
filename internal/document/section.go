package document

import "strings"

// NewSectionLevel is the heading level used when a section is created at
// the end of a document. Memory files use a single H1 title with H2
// sections beneath it.
const NewSectionLevel = 2

// InsertResult describes what InsertIntoSection did to the tree.
type InsertResult struct {
	Found   bool // an existing section received the content
	Created bool // a new heading + paragraph was appended
}

// SectionExists reports whether any heading's flattened text equals name,
// compared case-insensitively.
func (t *Tree) SectionExists(name string) bool {
	return t.findSection(name) >= 0
}

// InsertIntoSection places text inside the named section as its last block.
//
// The target is the first heading whose flattened text matches name
// case-insensitively. The section's span ends at the next heading with a
// level less than or equal to the target's, so content nested under deeper
// sub-headings stays inside the section and the new paragraph lands after
// it. When no heading matches, a new section (heading + paragraph) is
// appended at the end of the document.
func (t *Tree) InsertIntoSection(name, text string) InsertResult {
	idx := t.findSection(name)
	if idx < 0 {
		t.Blocks = append(t.Blocks,
			Block{Kind: KindHeading, Level: NewSectionLevel, Text: name},
			Block{Kind: KindParagraph, Text: text},
		)
		return InsertResult{Created: true}
	}

	level := t.Blocks[idx].Level
	end := len(t.Blocks)
	for i := idx + 1; i < len(t.Blocks); i++ {
		if t.Blocks[i].Kind == KindHeading && t.Blocks[i].Level <= level {
			end = i
			break
		}
	}

	para := Block{Kind: KindParagraph, Text: text}
	t.Blocks = append(t.Blocks[:end], append([]Block{para}, t.Blocks[end:]...)...)
	return InsertResult{Found: true}
}

// findSection returns the index of the first heading matching name
// case-insensitively, or -1. Duplicate headings are a documented ambiguity:
// only the first occurrence is ever targeted.
func (t *Tree) findSection(name string) int {
	for i, b := range t.Blocks {
		if b.Kind == KindHeading && strings.EqualFold(b.Text, name) {
			return i
		}
	}
	return -1
}
