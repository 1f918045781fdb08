package database

import (
	"context"
)

type contextKey string

// TenantScopeKey is the context key for the tenant-scoped connection.
const TenantScopeKey contextKey = "tenantScope"

// GetTenantScope retrieves the tenant-scoped connection from context.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok
}

// SetTenantScope stores the tenant-scoped connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// TenantScopeProvider opens tenant scopes for work that runs outside a request,
// such as detached audit writes.
type TenantScopeProvider interface {
	WithTenantScope(ctx context.Context, organisationID int64) (context.Context, func(), error)
	WithoutTenantScope(ctx context.Context) (context.Context, func(), error)
}

type poolScopeProvider struct {
	db *DB
}

// NewTenantScopeProvider creates a TenantScopeProvider backed by the pool.
func NewTenantScopeProvider(db *DB) TenantScopeProvider {
	return &poolScopeProvider{db: db}
}

// WithTenantScope returns a context carrying a scope for organisationID.
// The cleanup function must be called when the scope is no longer needed.
func (p *poolScopeProvider) WithTenantScope(ctx context.Context, organisationID int64) (context.Context, func(), error) {
	scope, err := p.db.WithTenant(ctx, organisationID)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}

// WithoutTenantScope returns a context carrying a service-level scope that sees every organisation.
func (p *poolScopeProvider) WithoutTenantScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}
