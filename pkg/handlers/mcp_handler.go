package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/mcp"
	"github.com/ekaya-inc/ekaya-connect/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	server *mcp.Server
	logger *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		server: mcpServer,
		logger: logger,
	}
}

// RegisterRoutes registers the MCP endpoint. Callers authenticate with their access token.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, accessMiddleware *auth.AccessTokenMiddleware, limiter *middleware.RateLimiter, tenantMiddleware TenantMiddleware) {
	// Layers, outermost first: method check, access token, rate limit,
	// tenant scope, then JSON-RPC logging around the MCP server.
	logged := middleware.MCPRequestLogger(h.logger)(h.server)
	scoped := tenantMiddleware(logged.ServeHTTP)
	authed := accessMiddleware.RequireAccessToken(limiter.Limit(scoped))
	mux.Handle("/mcp", h.requirePOST(authed))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// The server is stateless, so there is no SSE stream to GET and no session to DELETE.
func (h *MCPHandler) requirePOST(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	})
}
