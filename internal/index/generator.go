package index

import (
	"fmt"
	"path"
	"strings"

	"github.com/kalambet/mnemo/internal/storage"
)

// FileName is the auto-generated index document at the memory root.
const FileName = "index.md"

const recentLimit = 10

// Entry is one line of the rendered index.
type Entry struct {
	Title    string
	Filename string
	Summary  string
	Date     string
	Author   string
}

// Group is a category block of the index.
type Group struct {
	Heading string
	Entries []Entry
	// Chronological groups render date and author per entry; reference
	// groups render the file stem and summary.
	Chronological bool
}

// Data is everything Generate needs. It is collected from the store up
// front so rendering stays a pure function.
type Data struct {
	Total       int
	LastUpdated string // YYYY-MM-DD of the newest record, "" when empty
	Recent      []Entry
	Groups      []Group
}

// categoryGroups fixes the order and presentation of the per-category
// blocks. Regeneration must be byte-stable, so the order never depends on
// store iteration.
var categoryGroups = []struct {
	category      string
	heading       string
	chronological bool
}{
	{"core", "Core Identity", false},
	{"relationships", "Relationships", false},
	{"milestones", "Milestones", true},
	{"projects", "Projects", false},
	{"insights", "Insights", false},
}

// Collect gathers index data from the store: the most recent updates plus
// every category group in fixed order.
func Collect(store *storage.Store) (Data, error) {
	stats, err := store.GetStats()
	if err != nil {
		return Data{}, fmt.Errorf("collecting stats: %w", err)
	}

	recent, err := store.ListRecent(recentLimit)
	if err != nil {
		return Data{}, fmt.Errorf("listing recent memories: %w", err)
	}

	data := Data{Total: stats.Total, Recent: toEntries(recent)}
	if len(recent) > 0 {
		data.LastUpdated = recent[0].UpdatedAt.UTC().Format("2006-01-02")
	}

	for _, g := range categoryGroups {
		memories, err := store.ListByCategory(g.category)
		if err != nil {
			return Data{}, fmt.Errorf("listing category %s: %w", g.category, err)
		}
		data.Groups = append(data.Groups, Group{
			Heading:       g.heading,
			Entries:       toEntries(memories),
			Chronological: g.chronological,
		})
	}
	return data, nil
}

func toEntries(memories []storage.Memory) []Entry {
	entries := make([]Entry, 0, len(memories))
	for _, m := range memories {
		entries = append(entries, Entry{
			Title:    m.Title,
			Filename: m.Filename,
			Summary:  m.Summary,
			Date:     m.Date,
			Author:   m.Author,
		})
	}
	return entries
}

// Generate renders the index document. It is deterministic: the same Data
// always yields byte-identical output, so regenerating with an unchanged
// store is idempotent.
func Generate(data Data) string {
	var sb strings.Builder

	sb.WriteString("# Memory Index\n\n")
	if data.LastUpdated != "" {
		fmt.Fprintf(&sb, "**Last Updated:** %s\n", data.LastUpdated)
	}
	fmt.Fprintf(&sb, "**Total Memories:** %d\n\n---\n\n", data.Total)

	fmt.Fprintf(&sb, "## Recent Updates (Last %d)\n\n", recentLimit)
	for _, e := range data.Recent {
		writeChronologicalEntry(&sb, e)
	}

	for _, g := range data.Groups {
		fmt.Fprintf(&sb, "\n## %s\n\n", g.Heading)
		for _, e := range g.Entries {
			if g.Chronological {
				writeChronologicalEntry(&sb, e)
			} else {
				writeReferenceEntry(&sb, e)
			}
		}
	}

	sb.WriteString("\n---\n\nThis file is generated from the memory store. Do not edit by hand; run `mnemo index` to refresh it.\n")
	return sb.String()
}

func writeChronologicalEntry(sb *strings.Builder, e Entry) {
	fmt.Fprintf(sb, "- **[%s](%s)** - %s", e.Title, e.Filename, e.Date)
	if e.Author != "" {
		fmt.Fprintf(sb, " (%s)", e.Author)
	}
	sb.WriteString("\n")
	if e.Summary != "" {
		fmt.Fprintf(sb, "  %s\n", e.Summary)
	}
}

func writeReferenceEntry(sb *strings.Builder, e Entry) {
	label := e.Summary
	if label == "" {
		label = e.Title
	}
	stem := strings.TrimSuffix(path.Base(e.Filename), ".md")
	fmt.Fprintf(sb, "- **[`%s`](%s)** - %s\n", stem, e.Filename, label)
}
