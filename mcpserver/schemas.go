package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func markdownProperties() map[string]interface{} {
	return map[string]interface{}{
		"content": map[string]interface{}{
			"type":        "string",
			"description": "Markdown document, optionally with YAML frontmatter",
		},
		"id": map[string]interface{}{
			"type":        "string",
			"description": "Document id used for sessions and progress (derived from content when omitted)",
		},
	}
}

func contextualizeMarkdownTool() mcp.Tool {
	return mcp.Tool{
		Name:        "contextualize_markdown",
		Description: "Insert [[...]] context into the paragraphs of a markdown document without changing its wording",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: markdownProperties(),
			Required:   []string{"content"},
		},
	}
}

func validateEnhancementTool() mcp.Tool {
	return mcp.Tool{
		Name:        "validate_enhancement",
		Description: "Check that an enhanced block differs from the original only by [[...]] insertions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"original": map[string]interface{}{
					"type":        "string",
					"description": "Original block text",
				},
				"enhanced": map[string]interface{}{
					"type":        "string",
					"description": "Enhanced block text",
				},
			},
			Required: []string{"original", "enhanced"},
		},
	}
}

func previewWindowsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "preview_windows",
		Description: "Show the windows a markdown document would be enhanced in, without calling a model",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: markdownProperties(),
			Required:   []string{"content"},
		},
	}
}

func extractEntitiesTool() mcp.Tool {
	props := markdownProperties()
	props["format"] = map[string]interface{}{
		"type":        "string",
		"description": "Also serialize the graph as RDF",
		"enum":        []string{"turtle", "ntriples", "jsonld"},
	}
	props["profile"] = map[string]interface{}{
		"type":        "string",
		"description": "RDF type profile (default minimal)",
		"enum":        []string{"minimal", "bfo", "cco"},
	}
	return mcp.Tool{
		Name:        "extract_entities",
		Description: "Extract people, organizations, places, dates and relationships from a markdown document",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"content"},
		},
	}
}

func progressStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "progress_stats",
		Description: "Report expected and completed window requests since the server started",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
