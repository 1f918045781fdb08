// Package mcp exposes an organisation's tool catalog over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
	"github.com/ekaya-inc/ekaya-connect/pkg/toolid"
)

// Server serves MCP over streamable HTTP. The tool set depends on the caller, so
// every request gets a stateless MCPServer holding that caller's catalog.
type Server struct {
	name       string
	version    string
	provider   services.ToolProvider
	dispatcher services.ToolDispatcher
	logger     *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string, provider services.ToolProvider, dispatcher services.ToolDispatcher, logger *zap.Logger) *Server {
	return &Server{
		name:       name,
		version:    version,
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger.Named("mcp"),
	}
}

// callScope is what a tool call inherits from the HTTP request.
type callScope struct {
	principal      *models.AccessPrincipal
	workflowUserID string
	executionID    string
}

// ServeHTTP lists the caller's tools and hands the request to mcp-go.
// It must run after the access token and tenant middleware.
// Query parameters tool_type, workflow_user_id and execution_id narrow the catalog
// and are attached to every call, as on GET /api/v1/tools.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "access token required", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	scope := callScope{
		principal:      principal,
		workflowUserID: query.Get("workflow_user_id"),
		executionID:    query.Get("execution_id"),
	}

	entries, err := s.provider.ListTools(r.Context(), principal.OrganisationID, services.CatalogFilter{
		WorkflowUserID: scope.workflowUserID,
		ToolTypes:      services.ParseToolTypes(query.Get("tool_type")),
	})
	if err != nil {
		s.logger.Error("Failed to build MCP tool catalog",
			zap.Int64("organisation_id", principal.OrganisationID),
			zap.Error(err))
		http.Error(w, "failed to list tools", http.StatusInternalServerError)
		return
	}

	s.newStreamableHTTPServer(s.build(entries, scope)).ServeHTTP(w, r)
}

// build creates an MCPServer exposing entries.
func (s *Server) build(entries []services.CatalogEntry, scope callScope) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		s.name,
		s.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	mcpServer.AddTools(s.serverTools(entries, scope)...)
	return mcpServer
}

// newStreamableHTTPServer wraps mcpServer in a stateless HTTP transport.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) newStreamableHTTPServer(mcpServer *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		mcpServer,
		server.WithStateLess(true),
	)
}

func (s *Server) serverTools(entries []services.CatalogEntry, scope callScope) []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(entries))
	for _, entry := range entries {
		schema, err := json.Marshal(entry.Definition.InputSchema())
		if err != nil {
			s.logger.Warn("Skipping tool with unencodable schema",
				zap.String("tool_id", entry.ID),
				zap.Error(err))
			continue
		}
		tools = append(tools, server.ServerTool{
			Tool:    mcplib.NewToolWithRawSchema(entry.ID, describe(entry), schema),
			Handler: s.toolHandler(entry, scope),
		})
	}
	return tools
}

// describe folds the instance name and personalized prompt into the tool description,
// since MCP has no other place to carry them.
func describe(entry services.CatalogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Description)
	if entry.ConfigID > 0 && entry.InstanceName != "" {
		fmt.Fprintf(&b, " (instance: %s)", entry.InstanceName)
	}
	if entry.SystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(entry.SystemPrompt)
	}
	return b.String()
}

func (s *Server) toolHandler(entry services.CatalogEntry, scope callScope) server.ToolHandlerFunc {
	ref := toolid.Ref{Name: entry.Name, ConfigID: entry.ConfigID}

	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		result, err := s.dispatcher.Execute(ctx, scope.principal, &services.ExecuteRequest{
			ToolID:         entry.ID,
			Tool:           &ref,
			Parameters:     req.GetArguments(),
			ExecutionID:    scope.executionID,
			WorkflowUserID: scope.workflowUserID,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(result.Result)
	}
}

// errorResult reports a failed call as a tool result so the model can read the hint.
func errorResult(err error) *mcplib.CallToolResult {
	de, ok := services.AsDispatchError(err)
	if !ok {
		return mcplib.NewToolResultError("Tool execution failed")
	}
	msg := de.Message
	if de.Hint != "" {
		msg += "\n" + de.Hint
	}
	return mcplib.NewToolResultError(msg)
}

func textResult(v any) (*mcplib.CallToolResult, error) {
	if s, ok := v.(string); ok {
		return mcplib.NewToolResultText(s), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcplib.NewToolResultText(string(raw)), nil
}
