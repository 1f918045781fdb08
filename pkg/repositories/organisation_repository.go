package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// OrganisationRepository provides data access for organisations.
// Organisations are not tenant-scoped; callers use a scope without tenant.
type OrganisationRepository interface {
	// Upsert creates the organisation on first sight of its UUID and fills in ID and timestamps.
	// A non-empty name replaces the stored one.
	Upsert(ctx context.Context, org *models.Organisation) error
	GetByUUID(ctx context.Context, id uuid.UUID) (*models.Organisation, error)
	GetByID(ctx context.Context, id int64) (*models.Organisation, error)
}

type organisationRepository struct{}

// NewOrganisationRepository creates a new organisation repository.
func NewOrganisationRepository() OrganisationRepository {
	return &organisationRepository{}
}

var _ OrganisationRepository = (*organisationRepository)(nil)

func (r *organisationRepository) Upsert(ctx context.Context, org *models.Organisation) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO connect_organisations (uuid, name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (uuid) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name = '' THEN connect_organisations.name ELSE EXCLUDED.name END,
		    updated_at = CASE WHEN EXCLUDED.name = '' OR EXCLUDED.name = connect_organisations.name
		                      THEN connect_organisations.updated_at ELSE EXCLUDED.updated_at END
		RETURNING id, name, created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query, org.UUID, org.Name, time.Now()).
		Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert organisation: %w", err)
	}
	return nil
}

func (r *organisationRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*models.Organisation, error) {
	return r.get(ctx, "uuid = $1", id)
}

func (r *organisationRepository) GetByID(ctx context.Context, id int64) (*models.Organisation, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *organisationRepository) get(ctx context.Context, where string, arg any) (*models.Organisation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	var org models.Organisation
	err := scope.Conn.QueryRow(ctx,
		`SELECT id, uuid, name, created_at, updated_at FROM connect_organisations WHERE `+where, arg).
		Scan(&org.ID, &org.UUID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}
	return &org, nil
}
