package document

import "strings"

// BlockKind discriminates the node types in a parsed document tree.
type BlockKind int

const (
	KindHeading BlockKind = iota
	KindParagraph
	KindRaw
)

// Block is one top-level node of a Markdown document: a heading with its
// level and flattened inline text, a paragraph, or a verbatim span of any
// other block content (lists, code fences, quotes) preserved as written.
type Block struct {
	Kind  BlockKind
	Level int    // heading level 1-6; zero for non-headings
	Text  string // flattened text for headings, raw source otherwise
}

// Tree is an ordered sequence of top-level blocks. The zero value is an
// empty document.
type Tree struct {
	Blocks []Block
}

// Headings returns the flattened text of every heading in document order.
func (t *Tree) Headings() []string {
	var out []string
	for _, b := range t.Blocks {
		if b.Kind == KindHeading {
			out = append(out, b.Text)
		}
	}
	return out
}

// Render serializes the tree back to Markdown. Headings are emitted in ATX
// form; blocks are separated by a single blank line and the output always
// ends with a newline. Rendering an empty tree yields the empty string.
func (t *Tree) Render() string {
	if len(t.Blocks) == 0 {
		return ""
	}

	parts := make([]string, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		switch b.Kind {
		case KindHeading:
			parts = append(parts, strings.Repeat("#", b.Level)+" "+b.Text)
		default:
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n") + "\n"
}
