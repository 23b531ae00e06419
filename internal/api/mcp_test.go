package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/mnemo/internal/classifier"
	"github.com/kalambet/mnemo/internal/pipeline"
	"github.com/kalambet/mnemo/internal/storage"
)

func newTestMCPDeps(t *testing.T, stub *stubCategorizer) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:    store,
		Pipeline: pipeline.New(store, stub, t.TempDir()),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Remember(t *testing.T) {
	stub := &stubCategorizer{result: classifier.Classification{
		Filename: "relationships/michael.md",
		Category: "relationships",
		Title:    "Michael",
		Summary:  "Coffee preference",
		Tags:     []string{"coffee"},
		Section:  "Personal Details",
	}}
	deps, store := newTestMCPDeps(t, stub)
	handler := mcpRemember(deps)

	req := makeCallToolRequest("remember", map[string]interface{}{
		"text": "Michael prefers filtered coffee",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var remembered pipeline.RememberResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &remembered); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if remembered.Filename != "relationships/michael.md" || !remembered.Created {
		t.Errorf("result = %+v", remembered)
	}

	if _, err := store.GetMemory("relationships/michael.md"); err != nil {
		t.Errorf("memory not stored: %v", err)
	}
}

func TestMCPTool_Remember_MissingText(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &stubCategorizer{})
	handler := mcpRemember(deps)

	result, err := handler(context.Background(), makeCallToolRequest("remember", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing text")
	}
}

func TestMCPTool_WriteMemory(t *testing.T) {
	deps, store := newTestMCPDeps(t, &stubCategorizer{})
	handler := mcpWriteMemory(deps)

	req := makeCallToolRequest("write_memory", map[string]interface{}{
		"filename": "core/persona.md",
		"title":    "Persona",
		"date":     "2026-05-20",
		"category": "core",
		"content":  "## Identity\n\nQuiet optimist.",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	memory, err := store.GetMemory("core/persona.md")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if !strings.Contains(memory.Content, "Quiet optimist.") {
		t.Errorf("content = %q", memory.Content)
	}
}

func TestMCPResource_Sections(t *testing.T) {
	deps, store := newTestMCPDeps(t, &stubCategorizer{})

	err := store.UpsertSection(storage.Section{
		FilePath: "relationships/michael.md",
		Title:    "Personal Details",
		Summary:  "Coffee preference",
	})
	if err != nil {
		t.Fatalf("UpsertSection: %v", err)
	}

	handler := mcpResourceSections(deps)
	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "memory://sections"},
	})
	if err != nil {
		t.Fatalf("resource handler: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(text.Text, "Personal Details") {
		t.Errorf("resource text = %s", text.Text)
	}
}
