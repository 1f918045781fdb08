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

// MemberRepository provides data access for organisation members and their access tokens.
type MemberRepository interface {
	// Ensure adds the member if missing. An existing member keeps its role and token.
	Ensure(ctx context.Context, member *models.OrganisationMember) error
	Get(ctx context.Context, organisationID int64, userID uuid.UUID) (*models.OrganisationMember, error)
	// ReplaceAccessToken stores a new token hash and encrypted copy in one statement and
	// returns the previous hash ("" when there was none).
	ReplaceAccessToken(ctx context.Context, organisationID int64, userID uuid.UUID, hash, encrypted string) (string, error)
	// FindByAccessTokenHash resolves a token hash to its principal. Requires a scope without tenant.
	FindByAccessTokenHash(ctx context.Context, hash string) (*models.AccessPrincipal, error)
}

type memberRepository struct{}

// NewMemberRepository creates a new member repository.
func NewMemberRepository() MemberRepository {
	return &memberRepository{}
}

var _ MemberRepository = (*memberRepository)(nil)

func (r *memberRepository) Ensure(ctx context.Context, member *models.OrganisationMember) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}
	if member.Role == "" {
		member.Role = models.RoleMember
	}

	now := time.Now()
	query := `
		INSERT INTO connect_organisation_members (organisation_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (organisation_id, user_id) DO NOTHING`

	if _, err := scope.Conn.Exec(ctx, query, member.OrganisationID, member.UserID, member.Role, now); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (r *memberRepository) Get(ctx context.Context, organisationID int64, userID uuid.UUID) (*models.OrganisationMember, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT organisation_id, user_id, role, COALESCE(access_token_hash, ''),
		       COALESCE(access_token_encrypted, ''), access_token_updated_at, created_at, updated_at
		FROM connect_organisation_members
		WHERE organisation_id = $1 AND user_id = $2`

	var m models.OrganisationMember
	err := scope.Conn.QueryRow(ctx, query, organisationID, userID).Scan(
		&m.OrganisationID,
		&m.UserID,
		&m.Role,
		&m.AccessTokenHash,
		&m.AccessTokenEncrypted,
		&m.AccessTokenUpdatedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (r *memberRepository) ReplaceAccessToken(ctx context.Context, organisationID int64, userID uuid.UUID, hash, encrypted string) (string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return "", fmt.Errorf("no tenant scope in context")
	}

	// The FROM subquery reads the row as it was before this UPDATE.
	query := `
		UPDATE connect_organisation_members m
		SET access_token_hash = $3,
		    access_token_encrypted = $4,
		    access_token_updated_at = $5,
		    updated_at = $5
		FROM (
			SELECT access_token_hash
			FROM connect_organisation_members
			WHERE organisation_id = $1 AND user_id = $2
			FOR UPDATE
		) AS old
		WHERE m.organisation_id = $1 AND m.user_id = $2
		RETURNING COALESCE(old.access_token_hash, '')`

	var previous string
	err := scope.Conn.QueryRow(ctx, query, organisationID, userID, hash, encrypted, time.Now()).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return "", apperrors.ErrConflict
		}
		return "", fmt.Errorf("failed to replace access token: %w", err)
	}
	return previous, nil
}

func (r *memberRepository) FindByAccessTokenHash(ctx context.Context, hash string) (*models.AccessPrincipal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT m.user_id, m.organisation_id, o.uuid
		FROM connect_organisation_members m
		JOIN connect_organisations o ON o.id = m.organisation_id
		WHERE m.access_token_hash = $1`

	var p models.AccessPrincipal
	err := scope.Conn.QueryRow(ctx, query, hash).Scan(&p.UserID, &p.OrganisationID, &p.OrganisationUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve access token: %w", err)
	}
	return &p, nil
}
