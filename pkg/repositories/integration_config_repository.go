package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// IntegrationConfigRepository provides data access for integration configurations.
type IntegrationConfigRepository interface {
	// Upsert inserts a configuration, or updates the row with the same
	// (organisation, type, instance name). An existing row is re-activated only when
	// new credentials arrive, and keeps its disabled tools when cfg.DisabledTools is nil.
	Upsert(ctx context.Context, cfg *models.IntegrationConfiguration) error
	GetByID(ctx context.Context, id int64) (*models.IntegrationConfiguration, error)
	GetByInstance(ctx context.Context, organisationID int64, integrationType, instanceName string) (*models.IntegrationConfiguration, error)
	ListByOrganisation(ctx context.Context, organisationID int64) ([]*models.IntegrationConfiguration, error)
	// ListActiveByType returns active configurations ordered by id.
	ListActiveByType(ctx context.Context, organisationID int64, integrationType string) ([]*models.IntegrationConfiguration, error)
	// Update saves instance name, workflow user, owner and disabled tools.
	Update(ctx context.Context, cfg *models.IntegrationConfiguration) error
	// UpdateCredentials replaces the stored ciphertext without touching status.
	UpdateCredentials(ctx context.Context, id int64, encrypted string) error
	// RotateCredentials replaces the ciphertext, re-activates and clears the disconnect reason.
	RotateCredentials(ctx context.Context, id int64, encrypted string) error
	SetDisabledTools(ctx context.Context, id int64, tools []string) error
	SetActive(ctx context.Context, id int64, active bool) error
	TouchLastAccessed(ctx context.Context, id int64, at time.Time) error
	// MarkDisconnected deactivates an active configuration and reports whether it changed anything.
	MarkDisconnected(ctx context.Context, id int64, reason string, at time.Time) (bool, error)
	Delete(ctx context.Context, id int64) error
}

type integrationConfigRepository struct{}

// NewIntegrationConfigRepository creates a new integration configuration repository.
func NewIntegrationConfigRepository() IntegrationConfigRepository {
	return &integrationConfigRepository{}
}

var _ IntegrationConfigRepository = (*integrationConfigRepository)(nil)

const integrationConfigColumns = `
	id, organisation_id, owner_user_id, integration_type, instance_name, workflow_user_id,
	encrypted_credentials, disabled_tools, active, last_accessed_at, disconnect_reason,
	disconnected_at, created_at, updated_at`

func scanIntegrationConfig(row pgx.Row) (*models.IntegrationConfiguration, error) {
	var c models.IntegrationConfiguration
	err := row.Scan(
		&c.ID,
		&c.OrganisationID,
		&c.OwnerUserID,
		&c.IntegrationType,
		&c.InstanceName,
		&c.WorkflowUserID,
		&c.EncryptedCredentials,
		&c.DisabledTools,
		&c.Active,
		&c.LastAccessedAt,
		&c.DisconnectReason,
		&c.DisconnectedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.DisabledTools == nil {
		c.DisabledTools = []string{}
	}
	return &c, nil
}

func (r *integrationConfigRepository) Upsert(ctx context.Context, cfg *models.IntegrationConfiguration) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if cfg.InstanceName == "" {
		cfg.InstanceName = models.DefaultInstanceName
	}

	// A disconnected row stays off until the organisation supplies fresh credentials.
	query := `
		INSERT INTO connect_integration_configurations (
			organisation_id, owner_user_id, integration_type, instance_name, workflow_user_id,
			encrypted_credentials, disabled_tools, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::text[], '{}'), true, $8, $8)
		ON CONFLICT (organisation_id, integration_type, instance_name) DO UPDATE
		SET owner_user_id = COALESCE(EXCLUDED.owner_user_id, connect_integration_configurations.owner_user_id),
		    workflow_user_id = EXCLUDED.workflow_user_id,
		    encrypted_credentials = COALESCE(EXCLUDED.encrypted_credentials, connect_integration_configurations.encrypted_credentials),
		    disabled_tools = COALESCE($7::text[], connect_integration_configurations.disabled_tools),
		    active = CASE WHEN EXCLUDED.encrypted_credentials IS NOT NULL
		                  THEN true ELSE connect_integration_configurations.active END,
		    disconnect_reason = CASE WHEN EXCLUDED.encrypted_credentials IS NOT NULL
		                  THEN NULL ELSE connect_integration_configurations.disconnect_reason END,
		    disconnected_at = CASE WHEN EXCLUDED.encrypted_credentials IS NOT NULL
		                  THEN NULL ELSE connect_integration_configurations.disconnected_at END,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + integrationConfigColumns

	saved, err := scanIntegrationConfig(scope.Conn.QueryRow(ctx, query,
		cfg.OrganisationID,
		cfg.OwnerUserID,
		cfg.IntegrationType,
		cfg.InstanceName,
		cfg.WorkflowUserID,
		cfg.EncryptedCredentials,
		cfg.DisabledTools,
		time.Now(),
	))
	if err != nil {
		return fmt.Errorf("failed to save integration configuration: %w", err)
	}
	*cfg = *saved
	return nil
}

func (r *integrationConfigRepository) GetByID(ctx context.Context, id int64) (*models.IntegrationConfiguration, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	cfg, err := scanIntegrationConfig(scope.Conn.QueryRow(ctx,
		`SELECT `+integrationConfigColumns+` FROM connect_integration_configurations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get integration configuration: %w", err)
	}
	return cfg, nil
}

func (r *integrationConfigRepository) GetByInstance(ctx context.Context, organisationID int64, integrationType, instanceName string) (*models.IntegrationConfiguration, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + integrationConfigColumns + `
		FROM connect_integration_configurations
		WHERE organisation_id = $1 AND integration_type = $2 AND instance_name = $3`

	cfg, err := scanIntegrationConfig(scope.Conn.QueryRow(ctx, query, organisationID, integrationType, instanceName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get integration configuration: %w", err)
	}
	return cfg, nil
}

func (r *integrationConfigRepository) ListByOrganisation(ctx context.Context, organisationID int64) ([]*models.IntegrationConfiguration, error) {
	return r.list(ctx, `WHERE organisation_id = $1 ORDER BY integration_type, id`, organisationID)
}

func (r *integrationConfigRepository) ListActiveByType(ctx context.Context, organisationID int64, integrationType string) ([]*models.IntegrationConfiguration, error) {
	return r.list(ctx, `WHERE organisation_id = $1 AND integration_type = $2 AND active ORDER BY id`, organisationID, integrationType)
}

func (r *integrationConfigRepository) list(ctx context.Context, where string, args ...any) ([]*models.IntegrationConfiguration, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+integrationConfigColumns+` FROM connect_integration_configurations `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration configurations: %w", err)
	}
	defer rows.Close()

	configs := make([]*models.IntegrationConfiguration, 0)
	for rows.Next() {
		cfg, err := scanIntegrationConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integration configurations: %w", err)
	}
	return configs, nil
}

func (r *integrationConfigRepository) Update(ctx context.Context, cfg *models.IntegrationConfiguration) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if cfg.DisabledTools == nil {
		cfg.DisabledTools = []string{}
	}

	cfg.UpdatedAt = time.Now()
	query := `
		UPDATE connect_integration_configurations
		SET instance_name = $2, workflow_user_id = $3, owner_user_id = $4, disabled_tools = $5, updated_at = $6
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query,
		cfg.ID,
		cfg.InstanceName,
		cfg.WorkflowUserID,
		cfg.OwnerUserID,
		cfg.DisabledTools,
		cfg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update integration configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *integrationConfigRepository) UpdateCredentials(ctx context.Context, id int64, encrypted string) error {
	return r.exec(ctx, "update credentials",
		`UPDATE connect_integration_configurations SET encrypted_credentials = $2, updated_at = now() WHERE id = $1`,
		id, encrypted)
}

func (r *integrationConfigRepository) RotateCredentials(ctx context.Context, id int64, encrypted string) error {
	return r.exec(ctx, "rotate credentials", `
		UPDATE connect_integration_configurations
		SET encrypted_credentials = $2, active = true, disconnect_reason = NULL, disconnected_at = NULL, updated_at = now()
		WHERE id = $1`,
		id, encrypted)
}

func (r *integrationConfigRepository) SetDisabledTools(ctx context.Context, id int64, tools []string) error {
	if tools == nil {
		tools = []string{}
	}
	return r.exec(ctx, "set disabled tools",
		`UPDATE connect_integration_configurations SET disabled_tools = $2, updated_at = now() WHERE id = $1`,
		id, tools)
}

func (r *integrationConfigRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, "set active", `
		UPDATE connect_integration_configurations
		SET active = $2,
		    disconnect_reason = CASE WHEN $2 THEN NULL ELSE disconnect_reason END,
		    disconnected_at = CASE WHEN $2 THEN NULL ELSE disconnected_at END,
		    updated_at = now()
		WHERE id = $1`,
		id, active)
}

func (r *integrationConfigRepository) TouchLastAccessed(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, "touch last accessed",
		`UPDATE connect_integration_configurations SET last_accessed_at = $2 WHERE id = $1`,
		id, at)
}

func (r *integrationConfigRepository) MarkDisconnected(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE connect_integration_configurations
		SET active = false, disconnect_reason = $2, disconnected_at = $3, updated_at = $3
		WHERE id = $1 AND active`

	tag, err := scope.Conn.Exec(ctx, query, id, reason, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark integration configuration disconnected: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *integrationConfigRepository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, "delete", `DELETE FROM connect_integration_configurations WHERE id = $1`, id)
}

func (r *integrationConfigRepository) exec(ctx context.Context, op, query string, args ...any) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s integration configuration: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
