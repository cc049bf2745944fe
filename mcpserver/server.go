package mcpserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/c360studio/semcontext/pipeline"
)

const (
	// ServerName is the MCP server name
	ServerName = "semcontext"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Server wraps the MCP server with the enrichment driver.
type Server struct {
	mcp    *server.MCPServer
	driver *pipeline.Driver
	logger *slog.Logger
}

// NewServer creates a server whose tools run on driver.
func NewServer(driver *pipeline.Driver, logger *slog.Logger) (*Server, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		driver: driver,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the server on stdio and blocks until the client disconnects.
func (s *Server) Serve(_ context.Context) error {
	s.logger.Info("MCP server listening on stdio", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(contextualizeMarkdownTool(), s.handleContextualizeMarkdown)
	s.mcp.AddTool(validateEnhancementTool(), s.handleValidateEnhancement)
	s.mcp.AddTool(previewWindowsTool(), s.handlePreviewWindows)
	s.mcp.AddTool(extractEntitiesTool(), s.handleExtractEntities)
	s.mcp.AddTool(progressStatsTool(), s.handleProgressStats)
}
