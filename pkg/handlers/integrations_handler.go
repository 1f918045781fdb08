package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// ConnectorListResponse for GET /connectors
type ConnectorListResponse struct {
	Connectors []services.ConnectorInfo `json:"connectors"`
}

// IntegrationListResponse for GET /integrations
type IntegrationListResponse struct {
	Integrations []*models.IntegrationConfiguration `json:"integrations"`
	Total        int                                `json:"total"`
}

// CredentialsRequest for PUT /integrations/{id}/credentials and POST /integrations/{id}/test
type CredentialsRequest struct {
	Credentials map[string]string `json:"credentials"`
}

// ============================================================================
// Handler
// ============================================================================

// IntegrationsHandler handles integration configuration management requests.
type IntegrationsHandler struct {
	service services.IntegrationConfigService
	logger  *zap.Logger
}

// NewIntegrationsHandler creates a new integrations handler.
func NewIntegrationsHandler(service services.IntegrationConfigService, logger *zap.Logger) *IntegrationsHandler {
	return &IntegrationsHandler{
		service: service,
		logger:  logger.Named("integrations-handler"),
	}
}

// RegisterRoutes registers the integration management routes on the given mux.
func (h *IntegrationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/organisations/{oid}"
	protect := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(next))
	}

	mux.HandleFunc("GET "+base+"/connectors", protect(h.ListConnectors))
	mux.HandleFunc("POST "+base+"/connectors/{type}/default", protect(h.EnsureSystemInstance))

	mux.HandleFunc("GET "+base+"/integrations", protect(h.List))
	mux.HandleFunc("POST "+base+"/integrations", protect(h.Create))
	mux.HandleFunc("GET "+base+"/integrations/{id}", protect(h.Get))
	mux.HandleFunc("PATCH "+base+"/integrations/{id}", protect(h.Update))
	mux.HandleFunc("DELETE "+base+"/integrations/{id}", protect(h.Delete))
	mux.HandleFunc("PUT "+base+"/integrations/{id}/credentials", protect(h.RotateCredentials))
	mux.HandleFunc("POST "+base+"/integrations/{id}/tools/{tool}/{action}", protect(h.ToggleTool))
	mux.HandleFunc("POST "+base+"/integrations/{id}/test", protect(h.TestConnection))
	mux.HandleFunc("POST "+base+"/integrations/{id}/activate", protect(h.Activate))
	mux.HandleFunc("POST "+base+"/integrations/{id}/deactivate", protect(h.Deactivate))
}

// ListConnectors handles GET /api/organisations/{oid}/connectors
func (h *IntegrationsHandler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w, ConnectorListResponse{Connectors: h.service.ListConnectors()})
}

// EnsureSystemInstance handles POST /api/organisations/{oid}/connectors/{type}/default
func (h *IntegrationsHandler) EnsureSystemInstance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organisationID(w, r, h.logger)
	if !ok {
		return
	}

	integrationType := r.PathValue("type")
	cfg, err := h.service.EnsureSystemInstance(r.Context(), orgID, integrationType)
	if err != nil {
		writeServiceError(w, h.logger, err, "ensure_system_instance_failed", "Failed to ensure system instance",
			zap.Int64("organisation_id", orgID),
			zap.String("integration_type", integrationType))
		return
	}
	h.writeOK(w, cfg)
}

// List handles GET /api/organisations/{oid}/integrations
func (h *IntegrationsHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organisationID(w, r, h.logger)
	if !ok {
		return
	}

	configs, err := h.service.List(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_integrations_failed", "Failed to list integrations",
			zap.Int64("organisation_id", orgID))
		return
	}
	if configs == nil {
		configs = []*models.IntegrationConfiguration{}
	}
	h.writeOK(w, IntegrationListResponse{Integrations: configs, Total: len(configs)})
}

// Create handles POST /api/organisations/{oid}/integrations
func (h *IntegrationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organisationID(w, r, h.logger)
	if !ok {
		return
	}
	_, userID, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req services.CreateIntegrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.service.Create(r.Context(), orgID, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create_integration_failed", "Failed to create integration",
			zap.Int64("organisation_id", orgID),
			zap.String("integration_type", req.IntegrationType))
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: cfg}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/organisations/{oid}/integrations/{id}
func (h *IntegrationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	cfg, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_integration_failed", "Failed to get integration",
			zap.Int64("config_id", id))
		return
	}
	h.writeOK(w, cfg)
}

// Update handles PATCH /api/organisations/{oid}/integrations/{id}
func (h *IntegrationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var req services.UpdateIntegrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.service.Update(r.Context(), orgID, id, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update_integration_failed", "Failed to update integration",
			zap.Int64("config_id", id))
		return
	}
	h.writeOK(w, cfg)
}

// Delete handles DELETE /api/organisations/{oid}/integrations/{id}
func (h *IntegrationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), orgID, id); err != nil {
		writeServiceError(w, h.logger, err, "delete_integration_failed", "Failed to delete integration",
			zap.Int64("config_id", id))
		return
	}
	h.writeOK(w, map[string]string{"status": "deleted"})
}

// RotateCredentials handles PUT /api/organisations/{oid}/integrations/{id}/credentials
func (h *IntegrationsHandler) RotateCredentials(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.service.RotateCredentials(r.Context(), orgID, id, req.Credentials)
	if err != nil {
		writeServiceError(w, h.logger, err, "rotate_credentials_failed", "Failed to rotate credentials",
			zap.Int64("config_id", id))
		return
	}
	h.writeOK(w, cfg)
}

// ToggleTool handles POST /api/organisations/{oid}/integrations/{id}/tools/{tool}/{action}
// where action is enable or disable.
func (h *IntegrationsHandler) ToggleTool(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	tool := r.PathValue("tool")
	var (
		cfg *models.IntegrationConfiguration
		err error
	)
	switch r.PathValue("action") {
	case "enable":
		cfg, err = h.service.EnableTool(r.Context(), orgID, id, tool)
	case "disable":
		cfg, err = h.service.DisableTool(r.Context(), orgID, id, tool)
	default:
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_action", "Action must be enable or disable"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "toggle_tool_failed", "Failed to toggle tool",
			zap.Int64("config_id", id),
			zap.String("tool", tool))
		return
	}
	h.writeOK(w, cfg)
}

// TestConnection handles POST /api/organisations/{oid}/integrations/{id}/test
// An empty body tests the stored credentials. A failed check is still a 200 with success=false.
func (h *IntegrationsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var req CredentialsRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	result, err := h.service.TestConnection(r.Context(), orgID, id, req.Credentials)
	if err != nil {
		writeServiceError(w, h.logger, err, "test_connection_failed", "Failed to test connection",
			zap.Int64("config_id", id))
		return
	}
	h.writeOK(w, result)
}

// Activate handles POST /api/organisations/{oid}/integrations/{id}/activate
func (h *IntegrationsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate handles POST /api/organisations/{oid}/integrations/{id}/deactivate
func (h *IntegrationsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *IntegrationsHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	orgID, id, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	cfg, err := h.service.SetActive(r.Context(), orgID, id, active)
	if err != nil {
		writeServiceError(w, h.logger, err, "set_active_failed", "Failed to change integration state",
			zap.Int64("config_id", id),
			zap.Bool("active", active))
		return
	}
	h.writeOK(w, cfg)
}

func (h *IntegrationsHandler) parseIDs(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	orgID, ok := organisationID(w, r, h.logger)
	if !ok {
		return 0, 0, false
	}
	id, ok := ParseIntegrationID(w, r, h.logger)
	if !ok {
		return 0, 0, false
	}
	return orgID, id, true
}

func (h *IntegrationsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

func (h *IntegrationsHandler) writeOK(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
