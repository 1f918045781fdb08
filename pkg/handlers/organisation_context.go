package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// MemberOrganisationResolver resolves the organisation of a JWT-authenticated member,
// provisioning the organisation and the member on first sight.
func MemberOrganisationResolver(orgService services.OrganisationService) database.OrganisationResolver {
	return func(r *http.Request) (int64, bool, error) {
		claims, ok := auth.GetClaims(r.Context())
		if !ok {
			return 0, false, nil
		}
		orgUUID, userID, err := auth.ExtractClaimsFromContext(r.Context())
		if err != nil {
			return 0, false, err
		}
		id, err := orgService.Provision(r.Context(), orgUUID, claims.OrganisationName, userID)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}
}

// PrincipalOrganisationResolver resolves the organisation of an access-token caller.
func PrincipalOrganisationResolver(r *http.Request) (int64, bool, error) {
	p, ok := auth.GetPrincipal(r.Context())
	if !ok {
		return 0, false, nil
	}
	return p.OrganisationID, true, nil
}

// organisationID returns the organisation the tenant middleware scoped the request to.
func organisationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	scope, ok := database.GetTenantScope(r.Context())
	if !ok || scope.OrganisationID == 0 {
		logger.Error("Missing tenant scope", zap.String("path", r.URL.Path))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Missing organisation context"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return scope.OrganisationID, true
}

// writeServiceError maps service sentinels to HTTP statuses.
// Unmapped errors are logged and reported as 500 with fallbackCode.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallbackCode, logMessage string, fields ...zap.Field) {
	status, code, message := http.StatusInternalServerError, fallbackCode, "Internal server error"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "Integration not found"
	case errors.Is(err, apperrors.ErrUnknownIntegrationType):
		status, code, message = http.StatusBadRequest, "unknown_integration_type", err.Error()
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		status, code, message = http.StatusConflict, "conflict", "Integration already exists"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code, message = http.StatusForbidden, "forbidden", "Access denied"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		status, code, message = http.StatusConflict, "credentials_key_mismatch",
			"Stored secrets were encrypted with a different key; regenerate them"
	}

	if status >= http.StatusInternalServerError {
		logger.Error(logMessage, append(fields, zap.Error(err))...)
	} else {
		logger.Info(logMessage, append(fields, zap.Error(err))...)
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
