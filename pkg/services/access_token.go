package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/cache"
	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// accessTokenBytes is the entropy of a generated access token before hex encoding.
const accessTokenBytes = 32

// AccessTokenService issues personal access tokens and resolves them back to members.
type AccessTokenService interface {
	auth.PrincipalResolver

	// Get returns the member's current token, issuing the first one when none exists.
	Get(ctx context.Context, organisationID int64, userID uuid.UUID) (string, error)

	// Regenerate replaces the member's token. The previous token stops working immediately.
	Regenerate(ctx context.Context, organisationID int64, userID uuid.UUID) (string, error)
}

type accessTokenService struct {
	memberRepo repositories.MemberRepository
	scopes     database.TenantScopeProvider
	encryptor  crypto.Encryptor
	cache      cache.PrincipalCache
	audit      AuditService
	logger     *zap.Logger
}

// NewAccessTokenService creates an AccessTokenService.
func NewAccessTokenService(
	memberRepo repositories.MemberRepository,
	scopes database.TenantScopeProvider,
	encryptor crypto.Encryptor,
	principalCache cache.PrincipalCache,
	audit AuditService,
	logger *zap.Logger,
) AccessTokenService {
	if principalCache == nil {
		principalCache = cache.NoopPrincipalCache{}
	}
	return &accessTokenService{
		memberRepo: memberRepo,
		scopes:     scopes,
		encryptor:  encryptor,
		cache:      principalCache,
		audit:      audit,
		logger:     logger.Named("access-token-service"),
	}
}

var _ AccessTokenService = (*accessTokenService)(nil)

func (s *accessTokenService) ResolveAccessToken(ctx context.Context, token string) (*models.AccessPrincipal, error) {
	hash := crypto.HashToken(token)

	if p, ok := s.cache.Get(ctx, hash); ok {
		return p, nil
	}

	// The organisation is what we are trying to find, so the lookup runs without tenant.
	scopedCtx, cleanup, err := s.scopes.WithoutTenantScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	principal, err := s.memberRepo.FindByAccessTokenHash(scopedCtx, hash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, auth.ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	s.cache.Set(ctx, hash, principal)
	return principal, nil
}

func (s *accessTokenService) Get(ctx context.Context, organisationID int64, userID uuid.UUID) (string, error) {
	member, err := s.memberRepo.Get(ctx, organisationID, userID)
	if err != nil {
		return "", err
	}
	if member.AccessTokenEncrypted == "" {
		return s.Regenerate(ctx, organisationID, userID)
	}

	token, err := s.encryptor.Decrypt(member.AccessTokenEncrypted)
	if err != nil {
		s.logger.Error("Failed to decrypt access token",
			zap.Int64("organisation_id", organisationID),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return "", apperrors.ErrCredentialsKeyMismatch
	}
	return token, nil
}

func (s *accessTokenService) Regenerate(ctx context.Context, organisationID int64, userID uuid.UUID) (string, error) {
	token, err := generateAccessToken()
	if err != nil {
		return "", err
	}
	encrypted, err := s.encryptor.Encrypt(token)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	hash := crypto.HashToken(token)
	previous, err := s.memberRepo.ReplaceAccessToken(ctx, organisationID, userID, hash, encrypted)
	if err != nil {
		s.logger.Error("Failed to replace access token",
			zap.Int64("organisation_id", organisationID),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return "", err
	}
	// The old token may still sit in the principal cache; without the rotation
	// record it would keep authenticating until the entry expired.
	if err := s.cache.Rotate(ctx, organisationID, userID, previous, hash); err != nil {
		s.logger.Error("Failed to invalidate cached access token",
			zap.Int64("organisation_id", organisationID),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return "", fmt.Errorf("access token replaced but the previous one could not be invalidated: %w", err)
	}

	s.logger.Info("Access token regenerated",
		zap.Int64("organisation_id", organisationID),
		zap.String("user_id", userID.String()))

	uid := userID
	s.audit.Record(ctx, &models.AuditLogEntry{
		OrganisationID: organisationID,
		UserID:         &uid,
		Action:         models.AuditActionAccessTokenRegenerated,
		Payload: map[string]any{
			"first_issue": previous == "",
		},
	})
	return token, nil
}

func generateAccessToken() (string, error) {
	b := make([]byte, accessTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
