package auth

import (
	"context"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// WithPrincipal stores the access-token principal in ctx.
func WithPrincipal(ctx context.Context, p *models.AccessPrincipal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal returns the principal set by the access token middleware.
func GetPrincipal(ctx context.Context) (*models.AccessPrincipal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*models.AccessPrincipal)
	return p, ok && p != nil
}
