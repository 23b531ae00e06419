package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mnemo/internal/document"
	"github.com/kalambet/mnemo/internal/pipeline"
	"github.com/kalambet/mnemo/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Pipeline *pipeline.Pipeline
}

// NewMCPServer creates an MCP server exposing the memory tools and the
// section inventory resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mnemo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mnemo — personal Markdown memory: remember free text or write memory files directly."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a piece of free text in the memory base. It is categorized automatically and appended to the right section of the right file."),
			mcp.WithString("text", mcp.Description("The text to remember"), mcp.Required()),
			mcp.WithString("scope", mcp.Description("Optional working-directory scope for project-local sections")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("write_memory",
			mcp.WithDescription("Write a memory file directly with explicit frontmatter and content. Returns a unified diff when overwriting an existing file."),
			mcp.WithString("filename", mcp.Description("Relative .md path, e.g. relationships/michael.md"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Document title"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Calendar date, YYYY-MM-DD"), mcp.Required()),
			mcp.WithString("category", mcp.Description("One of: core, relationships, milestones, projects, insights"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional lowercase tags")),
			mcp.WithString("summary", mcp.Description("Optional one-line summary")),
			mcp.WithString("content", mcp.Description("Markdown body without frontmatter"), mcp.Required()),
		),
		mcpWriteMemory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://sections",
			"Memory Sections",
			mcp.WithResourceDescription("Inventory of section headings per memory file"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSections(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		scope := req.GetString("scope", "")

		result, err := deps.Pipeline.Remember(ctx, text, scope)
		if err != nil {
			return mcpError(fmt.Sprintf("remember failed: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWriteMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		date, err := req.RequireString("date")
		if err != nil {
			return mcpError("date is required"), nil
		}
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		fm := document.Frontmatter{
			Title:      title,
			Date:       date,
			Categories: []string{category},
			Tags:       req.GetStringSlice("tags", nil),
			Summary:    req.GetString("summary", ""),
		}

		result, err := deps.Pipeline.Write(ctx, filename, fm, content)
		if err != nil {
			return mcpError(fmt.Sprintf("write failed: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSections(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sections, err := deps.Store.ListSections("")
		if err != nil {
			return nil, fmt.Errorf("failed to list sections: %w", err)
		}

		type sectionEntry struct {
			File    string `json:"file"`
			Section string `json:"section"`
			Summary string `json:"summary,omitempty"`
			Scope   string `json:"scope,omitempty"`
		}
		entries := make([]sectionEntry, len(sections))
		for i, sec := range sections {
			entries[i] = sectionEntry{
				File:    sec.FilePath,
				Section: sec.Title,
				Summary: sec.Summary,
				Scope:   sec.Scope,
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sections: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
