package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditListResponse for GET /audit
type AuditListResponse struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Total   int                     `json:"total"`
}

// AuditHandler exposes an organisation's audit log.
type AuditHandler struct {
	service services.AuditService
	logger  *zap.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(service services.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger.Named("audit-handler"),
	}
}

// RegisterRoutes registers the audit routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/organisations/{oid}/audit",
		authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(h.List)))
}

// List handles GET /api/organisations/{oid}/audit?execution_id=&limit=
// With execution_id the entries of that execution are returned oldest first;
// otherwise the newest entries of the organisation.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organisationID(w, r, h.logger)
	if !ok {
		return
	}

	query := r.URL.Query()
	var (
		entries []*models.AuditLogEntry
		err     error
	)
	if executionID := query.Get("execution_id"); executionID != "" {
		entries, err = h.service.ListByExecution(r.Context(), orgID, executionID)
	} else {
		limit := defaultAuditLimit
		if raw := query.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer"); err != nil {
					h.logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			limit = min(n, maxAuditLimit)
		}
		entries, err = h.service.ListByOrganisation(r.Context(), orgID, limit)
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "list_audit_failed", "Failed to list audit entries",
			zap.Int64("organisation_id", orgID))
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    AuditListResponse{Entries: entries, Total: len(entries)},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
