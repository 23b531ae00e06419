package document

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Parse builds a block tree from a Markdown body (no frontmatter). Parsing
// never fails: goldmark accepts arbitrary input and anything that is not a
// heading or paragraph is kept as a verbatim raw block.
func Parse(body string) *Tree {
	src := []byte(body)
	if len(strings.TrimSpace(body)) == 0 {
		return &Tree{}
	}

	doc := parser.NewParser(
		parser.WithBlockParsers(parser.DefaultBlockParsers()...),
		parser.WithInlineParsers(parser.DefaultInlineParsers()...),
		parser.WithParagraphTransformers(parser.DefaultParagraphTransformers()...),
	).Parse(text.NewReader(src))

	// Collect top-level nodes with the byte offset of the line each one
	// starts on. Nodes without source segments (thematic breaks) have no
	// offset and are synthesized during assembly below.
	var entries []parseEntry
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		start := nodeStart(n, src)
		if start >= 0 {
			start = lineStart(src, start)
		}
		entries = append(entries, parseEntry{node: n, start: start})
	}

	tree := &Tree{}
	for i, e := range entries {
		switch n := e.node.(type) {
		case *ast.Heading:
			tree.Blocks = append(tree.Blocks, Block{
				Kind:  KindHeading,
				Level: n.Level,
				Text:  flattenText(n, src),
			})
		case *ast.Paragraph:
			tree.Blocks = append(tree.Blocks, Block{
				Kind: KindParagraph,
				Text: paragraphText(n, src),
			})
		default:
			if e.start < 0 {
				// No source span to slice; a thematic break is the only
				// default-parser block without segments.
				if _, ok := e.node.(*ast.ThematicBreak); ok && !previousIsRawSpan(tree) {
					tree.Blocks = append(tree.Blocks, Block{Kind: KindRaw, Text: "---"})
				}
				continue
			}
			end := len(src)
			if next := nextKnownStart(entries, i); next >= 0 {
				end = next
			}
			raw := strings.TrimRight(string(src[e.start:end]), " \t\n")
			if raw != "" {
				tree.Blocks = append(tree.Blocks, Block{Kind: KindRaw, Text: raw})
			}
		}
	}
	return tree
}

// nodeStart returns the smallest segment start among the node and its
// descendants, or -1 when no segment exists. Lines() is only defined for
// block nodes; inline nodes carry their offsets in text segments.
func nodeStart(n ast.Node, src []byte) int {
	start := -1
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			if s := t.Segment.Start; start < 0 || s < start {
				start = s
			}
			return ast.WalkContinue, nil
		}
		if node.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			if s := lines.At(i).Start; start < 0 || s < start {
				start = s
			}
		}
		return ast.WalkContinue, nil
	})
	return start
}

// lineStart walks back from off to the beginning of its line so block
// prefixes such as "- ", "> " and code fences are included in raw spans.
func lineStart(src []byte, off int) int {
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off
}

// parseEntry pairs a top-level AST node with the offset of the line it
// starts on; start is -1 when the node carries no source segments.
type parseEntry struct {
	node  ast.Node
	start int
}

func nextKnownStart(entries []parseEntry, i int) int {
	for j := i + 1; j < len(entries); j++ {
		if entries[j].start >= 0 {
			return entries[j].start
		}
	}
	return -1
}

// previousIsRawSpan reports whether the last emitted block is a raw span.
// Raw spans extend to the next located block, so a segment-less thematic
// break that follows one is already part of that span.
func previousIsRawSpan(t *Tree) bool {
	if len(t.Blocks) == 0 {
		return false
	}
	return t.Blocks[len(t.Blocks)-1].Kind == KindRaw
}

// paragraphText joins the paragraph's source lines verbatim, preserving
// inline markup exactly as written.
func paragraphText(n *ast.Paragraph, src []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// flattenText concatenates the inline text content of a node, dropping
// emphasis and link markers. Used for heading comparison and storage.
func flattenText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
