package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// AccessTokenHeader carries a personal access token. Authorization: Bearer is accepted as a fallback.
const AccessTokenHeader = "X-Access-Token"

const regenerateHint = "Send your personal access token in the X-Access-Token header. " +
	"Regenerate it in the integration settings if it was lost."

// PrincipalResolver maps an access token to the member it belongs to.
// It returns ErrInvalidOrExpiredToken when no member holds the token.
type PrincipalResolver interface {
	ResolveAccessToken(ctx context.Context, token string) (*models.AccessPrincipal, error)
}

// AuthFailureRecorder is notified of every rejected access token.
type AuthFailureRecorder interface {
	RecordAuthFailure(r *http.Request, reason string)
}

// AccessTokenMiddleware authenticates dispatch requests.
type AccessTokenMiddleware struct {
	resolver PrincipalResolver
	recorder AuthFailureRecorder
	logger   *zap.Logger
}

// NewAccessTokenMiddleware creates the dispatch authentication middleware.
// recorder may be nil.
func NewAccessTokenMiddleware(resolver PrincipalResolver, recorder AuthFailureRecorder, logger *zap.Logger) *AccessTokenMiddleware {
	return &AccessTokenMiddleware{resolver: resolver, recorder: recorder, logger: logger.Named("access-token")}
}

// ExtractAccessToken returns the token from X-Access-Token, else from a Bearer header.
func ExtractAccessToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(AccessTokenHeader)); t != "" {
		return t
	}
	if t, err := bearerToken(r); err == nil {
		return t
	}
	return ""
}

// RequireAccessToken resolves the caller and stores the principal in the request context.
func (m *AccessTokenMiddleware) RequireAccessToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ExtractAccessToken(r)
		if token == "" {
			writeDispatchAuthError(w, "missing_token", "Access token required", regenerateHint)
			return
		}

		principal, err := m.resolver.ResolveAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidOrExpiredToken) {
				m.logger.Error("Failed to resolve access token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success":    false,
					"error":      "internal_error",
					"message":    "Failed to authenticate request",
					"error_code": http.StatusInternalServerError,
				})
				return
			}
			if m.recorder != nil {
				m.recorder.RecordAuthFailure(r, "invalid_token")
			}
			writeDispatchAuthError(w, "invalid_token", ErrInvalidOrExpiredToken.Error(), regenerateHint)
			return
		}

		next(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	}
}

// writeDispatchAuthError writes a 401 in the dispatch error envelope.
func writeDispatchAuthError(w http.ResponseWriter, code, message, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    false,
		"error":      code,
		"message":    message,
		"error_code": http.StatusUnauthorized,
		"hint":       hint,
	})
}
