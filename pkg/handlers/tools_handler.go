package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/middleware"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
	"github.com/ekaya-inc/ekaya-connect/pkg/toolid"
)

// maxExecuteBodyBytes leaves room for a base64-encoded share_file payload.
const maxExecuteBodyBytes = 16 << 20

// TenantMiddleware opens the tenant-scoped database connection for a request.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ToolListResponse for GET /api/v1/tools
type ToolListResponse struct {
	Tools []services.CatalogEntry `json:"tools"`
}

// ExecuteToolRequest for POST /api/v1/execute
type ExecuteToolRequest struct {
	ToolID         string         `json:"tool_id"`
	Tool           *toolid.Ref    `json:"tool,omitempty"`
	Parameters     map[string]any `json:"parameters"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	WorkflowUserID string         `json:"workflow_user_id,omitempty"`
	ResultFilter   string         `json:"result_filter,omitempty"`
}

// ExecuteToolResponse is the success envelope of POST /api/v1/execute.
type ExecuteToolResponse struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// ToolsHandler serves the dispatch API used by workflow engines.
type ToolsHandler struct {
	provider   services.ToolProvider
	dispatcher services.ToolDispatcher
	logger     *zap.Logger
}

// NewToolsHandler creates a new tools handler.
func NewToolsHandler(provider services.ToolProvider, dispatcher services.ToolDispatcher, logger *zap.Logger) *ToolsHandler {
	return &ToolsHandler{
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger.Named("tools-handler"),
	}
}

// RegisterRoutes registers the dispatch routes. Requests are authenticated by access token,
// then rate limited per member, then given a tenant-scoped connection.
func (h *ToolsHandler) RegisterRoutes(mux *http.ServeMux, accessMiddleware *auth.AccessTokenMiddleware, limiter *middleware.RateLimiter, tenantMiddleware TenantMiddleware) {
	chain := func(next http.HandlerFunc) http.HandlerFunc {
		return accessMiddleware.RequireAccessToken(limiter.Limit(tenantMiddleware(next)))
	}

	mux.HandleFunc("GET /api/v1/tools", chain(h.List))
	mux.HandleFunc("POST /api/v1/execute", chain(h.Execute))
}

// List handles GET /api/v1/tools
func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.GetPrincipal(r.Context())
	if !ok {
		h.writeDispatchError(w, &services.DispatchError{
			Kind:    services.DispatchAuthentication,
			Status:  http.StatusUnauthorized,
			Message: "Access token required",
		})
		return
	}

	query := r.URL.Query()
	filter := services.CatalogFilter{
		WorkflowUserID: query.Get("workflow_user_id"),
		ToolTypes:      services.ParseToolTypes(query.Get("tool_type")),
	}

	tools, err := h.provider.ListTools(r.Context(), principal.OrganisationID, filter)
	if err != nil {
		h.logger.Error("Failed to list tools",
			zap.Int64("organisation_id", principal.OrganisationID),
			zap.String("execution_id", query.Get("execution_id")),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_tools_failed", "Failed to list tools"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Debug("Listed tools",
		zap.Int64("organisation_id", principal.OrganisationID),
		zap.String("execution_id", query.Get("execution_id")),
		zap.Int("count", len(tools)))

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ToolListResponse{Tools: tools}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Execute handles POST /api/v1/execute
func (h *ToolsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.GetPrincipal(r.Context())
	if !ok {
		h.writeDispatchError(w, &services.DispatchError{
			Kind:    services.DispatchAuthentication,
			Status:  http.StatusUnauthorized,
			Message: "Access token required",
		})
		return
	}

	var req ExecuteToolRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBodyBytes)).Decode(&req); err != nil {
		message := "Invalid request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = "Request body too large"
		} else if errors.Is(err, io.EOF) {
			message = "Request body is empty"
		}
		h.writeDispatchError(w, &services.DispatchError{
			Kind:    services.DispatchInvalidRequest,
			Status:  http.StatusBadRequest,
			Message: message,
			Hint:    "Send a JSON object with tool_id or tool, and parameters as an object.",
		})
		return
	}

	result, err := h.dispatcher.Execute(r.Context(), principal, &services.ExecuteRequest{
		ToolID:         req.ToolID,
		Tool:           req.Tool,
		Parameters:     req.Parameters,
		ExecutionID:    req.ExecutionID,
		WorkflowUserID: req.WorkflowUserID,
		ResultFilter:   req.ResultFilter,
	})
	if err != nil {
		de, ok := services.AsDispatchError(err)
		if !ok {
			h.logger.Error("Dispatcher returned an unclassified error", zap.Error(err))
			de = &services.DispatchError{
				Kind:    services.DispatchInternal,
				Status:  http.StatusInternalServerError,
				Message: "Tool execution failed",
				ToolID:  req.ToolID,
			}
		}
		h.writeDispatchError(w, de)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ExecuteToolResponse{Success: true, Result: result.Result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ToolsHandler) writeDispatchError(w http.ResponseWriter, de *services.DispatchError) {
	if err := WriteDispatchError(w, de); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
