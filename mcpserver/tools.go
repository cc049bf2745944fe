package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/c360studio/semcontext/enhance"
	"github.com/c360studio/semcontext/export"
	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/source"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeModelConfig   = -32001 // Model registry or credentials are unusable
	ErrorCodeTimeout       = -32002 // Document did not finish in time
)

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// driverError maps an enrichment error to an MCP error.
func driverError(err error) error {
	switch {
	case llm.IsConfigError(err):
		return newMCPError(ErrorCodeModelConfig, "model configuration error", map[string]interface{}{"reason": err.Error()})
	case errors.Is(err, pipeline.ErrDocumentTimeout):
		return newMCPError(ErrorCodeTimeout, "document timed out", nil)
	default:
		return newMCPError(ErrorCodeInternalError, err.Error(), nil)
	}
}

func (s *Server) handleContextualizeMarkdown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := documentArg(request)
	if err != nil {
		return nil, err
	}
	if p := s.driver.Progress(); p != nil {
		p.AddDocuments([]progress.Document{s.driver.ProgressDocument(doc)})
	}

	res, err := s.driver.EnhanceDocument(ctx, doc)
	if err != nil {
		s.logger.Warn("contextualize_markdown failed", "doc_id", doc.ID, "error", err)
		return nil, driverError(err)
	}

	response := map[string]interface{}{
		"id":       doc.ID,
		"markdown": source.Render(res.Document),
		"changed":  res.Changed(),
		"report":   res.Report,
	}
	if res.Report.FailedWindows > 0 {
		response["failed_windows"] = res.Report.FailedWindows
		response["rate_limited_windows"] = res.RateLimitedWindows
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) handleValidateEnhancement(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	original, ok := args["original"].(string)
	if !ok {
		return nil, requiredParam("original")
	}
	enhanced, ok := args["enhanced"].(string)
	if !ok {
		return nil, requiredParam("enhanced")
	}

	result := enhance.Validate(original, enhanced)
	response := map[string]interface{}{
		"valid":      result.Valid,
		"insertions": enhance.Insertions(enhanced),
	}
	if result.Reason != "" {
		response["reason"] = result.Reason
	}
	if result.Lenient {
		response["lenient"] = true
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) handlePreviewWindows(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := documentArg(request)
	if err != nil {
		return nil, err
	}

	builder := s.driver.Builder()
	windows := builder.Build(doc.Blocks)
	response := map[string]interface{}{
		"id":              doc.ID,
		"blocks":          len(doc.Blocks),
		"eligible_blocks": builder.Filter().CountEligible(doc.Blocks),
		"windows":         windows,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) handleExtractEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := documentArg(request)
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	formatArg, _ := args["format"].(string)
	profileArg, _ := args["profile"].(string)

	var format export.Format
	if formatArg != "" {
		if format, err = export.ParseFormat(formatArg); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{"param": "format"})
		}
	}
	profile, err := export.ParseProfile(profileArg)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{"param": "profile"})
	}

	g, report, err := s.driver.ExtractEntities(ctx, doc)
	if err != nil {
		s.logger.Warn("extract_entities failed", "doc_id", doc.ID, "error", err)
		return nil, driverError(err)
	}
	response := map[string]interface{}{
		"id":     doc.ID,
		"graph":  g,
		"report": report,
	}
	if format != "" {
		ex := export.NewExporter(profile)
		ex.AddGraph(doc, g, time.Now())
		rdf, err := ex.Export(format)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, err.Error(), nil)
		}
		response["format"] = string(format)
		response["rdf"] = rdf
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) handleProgressStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := s.driver.Progress()
	if p == nil {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{"enabled": false})), nil
	}
	stats := p.Stats()
	response := map[string]interface{}{
		"enabled":         true,
		"total_expected":  stats.TotalExpected,
		"total_completed": stats.TotalCompleted,
		"remaining":       stats.Remaining(),
		"percent":         stats.Percent(),
		"documents":       stats.Documents,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// documentArg parses the content and optional id arguments.
func documentArg(request mcp.CallToolRequest) (*source.Document, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return nil, requiredParam("content")
	}
	id, _ := args["id"].(string)
	if id == "" {
		id = source.GenerateID("document.md", []byte(content))
	}
	return source.ParseMarkdown(id, content), nil
}

func requiredParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
