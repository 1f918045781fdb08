package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// OrganisationResolver returns the organisation an authenticated request acts for.
// ok=false means authentication middleware did not run or did not establish one.
type OrganisationResolver func(r *http.Request) (organisationID int64, ok bool, err error)

// WithTenantContext creates middleware that sets up a tenant-scoped DB connection.
// It runs AFTER the auth middleware; resolve reads what auth stored in the context.
// The connection is released after the handler returns.
func WithTenantContext(db *DB, resolve OrganisationResolver, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			organisationID, ok, err := resolve(r)
			if err != nil {
				logger.Error("Failed to resolve organisation",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal_error", "Failed to resolve organisation")
				return
			}
			if !ok {
				logger.Error("Missing organisation context", zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal_error", "Missing organisation context")
				return
			}

			scope, err := db.WithTenant(r.Context(), organisationID)
			if err != nil {
				logger.Error("Failed to acquire tenant connection",
					zap.Int64("organisation_id", organisationID),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errorCode,
		"message": message,
	})
}
