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

// SharedFileRepository stores files published by the share_file tool.
type SharedFileRepository interface {
	Create(ctx context.Context, file *models.SharedFile) error
	// GetByToken looks a file up by its download token. Requires a scope without tenant,
	// since downloads are unauthenticated.
	GetByToken(ctx context.Context, token string) (*models.SharedFile, error)
	// DeleteExpired removes files that expired before now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sharedFileRepository struct{}

// NewSharedFileRepository creates a new shared file repository.
func NewSharedFileRepository() SharedFileRepository {
	return &sharedFileRepository{}
}

var _ SharedFileRepository = (*sharedFileRepository)(nil)

func (r *sharedFileRepository) Create(ctx context.Context, file *models.SharedFile) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	file.CreatedAt = time.Now()
	query := `
		INSERT INTO connect_shared_files (token, organisation_id, file_name, content_type, content, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := scope.Conn.Exec(ctx, query,
		file.Token,
		file.OrganisationID,
		file.FileName,
		file.ContentType,
		file.Content,
		file.ExpiresAt,
		file.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to store shared file: %w", err)
	}
	return nil
}

func (r *sharedFileRepository) GetByToken(ctx context.Context, token string) (*models.SharedFile, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT token, organisation_id, file_name, content_type, content, expires_at, created_at
		FROM connect_shared_files
		WHERE token = $1`

	var f models.SharedFile
	err := scope.Conn.QueryRow(ctx, query, token).Scan(
		&f.Token,
		&f.OrganisationID,
		&f.FileName,
		&f.ContentType,
		&f.Content,
		&f.ExpiresAt,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shared file: %w", err)
	}
	return &f, nil
}

func (r *sharedFileRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `DELETE FROM connect_shared_files WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired shared files: %w", err)
	}
	return tag.RowsAffected(), nil
}
