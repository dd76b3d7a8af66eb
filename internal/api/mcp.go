package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const catalogURI = "catalog://pumps"

// NewMCPServer creates an MCP server exposing the recommender as tools and
// the pump catalog as a resource.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	if deps.DefaultWindow <= 0 {
		deps.DefaultWindow = 24 * time.Hour
	}

	s := server.NewMCPServer(
		"pumpdrive",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pumpdrive recommends an insulin pump from a patient's answers about cost, lifestyle, algorithm, ease of start, complexity and support."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_pump",
			mcp.WithDescription("Score the pump catalog against a preference profile and return per-category winners with reasoning."),
			mcp.WithString("profile",
				mcp.Description(`JSON object keyed by category (cost, lifestyle, algorithm, easeToStart, complexity, support); each value has free_text, follow_up_text and selected_topics`),
				mcp.Required(),
			),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("cache_stats",
			mcp.WithDescription("Report cache hit rate, estimated cost and savings over a time window."),
			mcp.WithString("window", mcp.Description("Go duration such as 1h or 168h (default 24h)")),
		),
		mcpCacheStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			catalogURI,
			"Pump Catalog",
			mcp.WithResourceDescription("Candidate pumps and their comparison dimensions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpRecommend(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("profile")
		if err != nil {
			return mcpError("profile is required"), nil
		}

		var in recommendRequest
		if err := json.Unmarshal([]byte(raw), &in.Profile); err != nil {
			return mcpError(fmt.Sprintf("invalid profile JSON: %v", err)), nil
		}
		p, err := in.toProfile()
		if err != nil {
			return mcpError(err.Error()), nil
		}

		out, err := deps.Recommender.Recommend(ctx, p)
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal recommendation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCacheStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		window := deps.DefaultWindow
		if v := req.GetString("window", ""); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return mcpError(fmt.Sprintf("invalid window %q", v)), nil
			}
			window = d
		}

		resp, err := collectStats(ctx, deps, window)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCatalog(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Recommender.Catalog().Candidates())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
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
