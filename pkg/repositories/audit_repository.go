package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// AuditRepository provides data access for the audit log.
type AuditRepository interface {
	// Create inserts a new audit log entry.
	Create(ctx context.Context, entry *models.AuditLogEntry) error

	// ListByOrganisation returns entries for an organisation, newest first.
	ListByOrganisation(ctx context.Context, organisationID int64, limit int) ([]*models.AuditLogEntry, error)

	// ListByExecution returns every entry recorded for one workflow execution, oldest first.
	ListByExecution(ctx context.Context, organisationID int64, executionID string) ([]*models.AuditLogEntry, error)
}

type auditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() AuditRepository {
	return &auditRepository{}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO connect_audit_log (
			id, organisation_id, user_id, action, execution_id, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = scope.Conn.Exec(ctx, query,
		entry.ID,
		entry.OrganisationID,
		entry.UserID,
		entry.Action,
		entry.ExecutionID,
		payloadJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}

	return nil
}

func (r *auditRepository) ListByOrganisation(ctx context.Context, organisationID int64, limit int) ([]*models.AuditLogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, organisation_id, user_id, action, execution_id, payload, created_at
		FROM connect_audit_log
		WHERE organisation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, organisationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func (r *auditRepository) ListByExecution(ctx context.Context, organisationID int64, executionID string) ([]*models.AuditLogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, organisation_id, user_id, action, execution_id, payload, created_at
		FROM connect_audit_log
		WHERE organisation_id = $1 AND execution_id = $2
		ORDER BY created_at ASC`

	rows, err := scope.Conn.Query(ctx, query, organisationID, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log by execution: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]*models.AuditLogEntry, error) {
	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		var e models.AuditLogEntry
		var payloadJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.OrganisationID,
			&e.UserID,
			&e.Action,
			&e.ExecutionID,
			&payloadJSON,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return entries, nil
}
