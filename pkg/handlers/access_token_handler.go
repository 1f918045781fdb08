package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// AccessTokenResponse carries the caller's personal access token.
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	Header      string `json:"header"`
}

// AccessTokenHandler lets a member read and rotate their dispatch access token.
type AccessTokenHandler struct {
	service services.AccessTokenService
	logger  *zap.Logger
}

// NewAccessTokenHandler creates a new access token handler.
func NewAccessTokenHandler(service services.AccessTokenService, logger *zap.Logger) *AccessTokenHandler {
	return &AccessTokenHandler{
		service: service,
		logger:  logger.Named("access-token-handler"),
	}
}

// RegisterRoutes registers the access token routes on the given mux.
func (h *AccessTokenHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/organisations/{oid}/access-token"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST "+base+"/regenerate",
		authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(h.Regenerate)))
}

// Get handles GET /api/organisations/{oid}/access-token
func (h *AccessTokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false)
}

// Regenerate handles POST /api/organisations/{oid}/access-token/regenerate
func (h *AccessTokenHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, true)
}

func (h *AccessTokenHandler) respond(w http.ResponseWriter, r *http.Request, regenerate bool) {
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

	var token string
	if regenerate {
		token, err = h.service.Regenerate(r.Context(), orgID, userID)
	} else {
		token, err = h.service.Get(r.Context(), orgID, userID)
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "access_token_failed", "Failed to load access token",
			zap.Int64("organisation_id", orgID),
			zap.String("user_id", userID.String()),
			zap.Bool("regenerate", regenerate))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    AccessTokenResponse{AccessToken: token, Header: auth.AccessTokenHeader},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
