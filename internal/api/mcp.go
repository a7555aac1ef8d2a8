package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"

	"github.com/kalambet/codebuddy/internal/pipeline"
	"github.com/kalambet/codebuddy/internal/provider"
	"github.com/kalambet/codebuddy/internal/siteprompt"
	"github.com/kalambet/codebuddy/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Assistant *pipeline.Assistant
	Sites     *siteprompt.Manager
}

// NewMCPServer creates an MCP server with all codebuddy tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"codebuddy",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("codebuddy fixes and hardens shell commands and scripts using the configured AI provider."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("analyze_output",
			mcp.WithDescription("Given the output of a failed command or script, return a fixed script. Previous attempts in the same session steer the model toward a different approach."),
			mcp.WithString("output", mcp.Description("Observed terminal output or error"), mcp.Required()),
			mcp.WithString("script", mcp.Description("The script that produced the output")),
			mcp.WithString("url", mcp.Description("Page URL, used to pick site-specific instructions")),
			mcp.WithString("session_id", mcp.Description("Session to continue; a new one is started when empty")),
		),
		mcpAnalyzeOutput(deps),
	)

	s.AddTool(
		mcp.NewTool("improve_script",
			mcp.WithDescription("Return a version of a script with better error handling, efficiency and reliability."),
			mcp.WithString("script", mcp.Description("Script to improve"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Page URL, used to pick site-specific instructions")),
		),
		mcpImproveScript(deps),
	)

	s.AddTool(
		mcp.NewTool("resolve_site_prompt",
			mcp.WithDescription("Show which site instruction applies to a URL."),
			mcp.WithString("url", mcp.Description("Page URL"), mcp.Required()),
		),
		mcpResolveSitePrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("add_site_prompt",
			mcp.WithDescription("Add a site instruction for a hostname pattern such as *.example.com."),
			mcp.WithString("pattern", mcp.Description("Hostname or wildcard pattern"), mcp.Required()),
			mcp.WithString("prompt", mcp.Description("Instruction prepended to prompts for matching sites"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Display name")),
		),
		mcpAddSitePrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("list_providers",
			mcp.WithDescription("List the supported AI providers and their models."),
		),
		mcpListProviders(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"codebuddy://site-prompts",
			"Site Prompts",
			mcp.WithResourceDescription("Configured site instructions in match order"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSitePrompts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"codebuddy://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 provider calls (prompts truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

// responseText renders a pipeline response as tool output: the script on
// success, the provider error otherwise.
func responseText(resp pipeline.Response) *mcp.CallToolResult {
	if !resp.Success {
		return mcpError(resp.Error)
	}
	return mcpText(resp.ImprovedScript)
}

func mcpAnalyzeOutput(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := req.RequireString("output")
		if err != nil || strings.TrimSpace(output) == "" {
			return mcpError("output is required"), nil
		}

		resp, err := deps.Assistant.Analyze(ctx, pipeline.AnalyzeRequest{
			Output:    output,
			Script:    req.GetString("script", ""),
			URL:       req.GetString("url", ""),
			SessionID: req.GetString("session_id", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("analyze failed: %v", err)), nil
		}
		result := responseText(resp)
		if resp.Success {
			result.Content = append(result.Content, mcp.TextContent{
				Type: "text",
				Text: fmt.Sprintf("session_id: %s (previous attempts: %d)", resp.SessionID, resp.Attempts),
			})
		}
		return result, nil
	}
}

func mcpImproveScript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		script, err := req.RequireString("script")
		if err != nil || strings.TrimSpace(script) == "" {
			return mcpError("script is required"), nil
		}

		resp, err := deps.Assistant.Improve(ctx, pipeline.ImproveRequest{
			Script: script,
			URL:    req.GetString("url", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("improve failed: %v", err)), nil
		}
		return responseText(resp), nil
	}
}

func mcpResolveSitePrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawURL, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}

		var fallback string
		if deps.Assistant != nil {
			fallback = deps.Assistant.Settings().CustomPrompt
		}
		prompt, entry, err := deps.Sites.Resolve(rawURL, fallback)
		if err != nil {
			return mcpError(fmt.Sprintf("resolve failed: %v", err)), nil
		}

		res := ResolveResult{URL: rawURL, Hostname: siteprompt.Hostname(rawURL), Prompt: prompt}
		if entry != nil {
			res.Pattern = entry.Pattern
			res.Matched = true
		}
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddSitePrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return mcpError("pattern is required"), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		e, err := deps.Sites.Add(siteprompt.Entry{
			Pattern: pattern,
			Name:    req.GetString("name", ""),
			Prompt:  prompt,
			Enabled: true,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add site prompt: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Added site prompt for %s", e.Pattern)), nil
	}
}

func mcpListProviders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var active provider.ID
		if deps.Assistant != nil {
			active = deps.Assistant.Settings().ProviderID
		}
		infos := lo.Map(provider.All(), func(d provider.Descriptor, _ int) ProviderInfo {
			return describeProvider(d, active)
		})
		b, err := json.Marshal(infos)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal providers: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSitePrompts(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Sites.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list site prompts: %w", err)
		}
		if entries == nil {
			entries = []siteprompt.Entry{}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal site prompts: %w", err)
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

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.GetRecentInteractions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Kind      string `json:"kind"`
			Provider  string `json:"provider"`
			Status    string `json:"status"`
			Prompt    string `json:"prompt"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			prompt := ix.Prompt
			if utf8.RuneCountInString(prompt) > 200 {
				runes := []rune(prompt)
				prompt = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Kind:      ix.Kind,
				Provider:  ix.Provider,
				Status:    ix.Status,
				Prompt:    prompt,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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
