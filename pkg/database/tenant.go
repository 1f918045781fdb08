package database

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// tenantSetting is the session variable the RLS policies compare organisation_id against.
const tenantSetting = "app.current_organisation_id"

// TenantScope wraps a connection with tenant context and ensures cleanup.
type TenantScope struct {
	Conn           *pgxpool.Conn
	OrganisationID int64
}

// Close resets tenant context and releases the connection to the pool.
// It MUST be called, or the tenant setting leaks to the next user of the connection.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET "+tenantSetting)
	s.Conn.Release()
}

// WithTenant acquires a connection and sets the organisation for RLS.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, organisationID int64) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('"+tenantSetting+"', $1, false)", strconv.FormatInt(organisationID, 10))
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn, OrganisationID: organisationID}, nil
}

// WithoutTenant acquires a connection without tenant context.
// Used before an organisation is known, e.g. to resolve an access token.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn}, nil
}
