// Package auth authenticates the two kinds of callers: organisation members
// managing integrations (JWTs validated against JWKS endpoints) and workflow
// engines dispatching tools (personal access tokens).
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for the raw JWT.
	TokenKey contextKey = "token"
	// PrincipalKey is the context key for the access-token principal.
	PrincipalKey contextKey = "principal"
)

// Claims is the JWT payload issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	OrganisationID   string   `json:"oid,omitempty"`   // Organisation UUID
	OrganisationName string   `json:"oname,omitempty"` // Display name, used when provisioning
	Email            string   `json:"email,omitempty"`
	Roles            []string `json:"roles,omitempty"`
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// ExtractClaimsFromContext returns the organisation and user UUIDs of the authenticated member.
func ExtractClaimsFromContext(ctx context.Context) (organisationID uuid.UUID, userID uuid.UUID, err error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("authentication required: no claims in context")
	}

	if claims.OrganisationID == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing organisation ID in JWT claims")
	}
	organisationID, err = uuid.Parse(claims.OrganisationID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid organisation ID format: %w", err)
	}

	if claims.Subject == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing user ID in JWT claims")
	}
	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid user ID format: %w", err)
	}

	return organisationID, userID, nil
}
