package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// OrganisationService maps identity-provider organisations onto local tenants.
type OrganisationService interface {
	// Provision returns the local id of the organisation with orgUUID, creating the
	// organisation and the member on first sight.
	Provision(ctx context.Context, orgUUID uuid.UUID, name string, userID uuid.UUID) (int64, error)
}

type organisationService struct {
	orgRepo    repositories.OrganisationRepository
	memberRepo repositories.MemberRepository
	scopes     database.TenantScopeProvider
	logger     *zap.Logger
}

// NewOrganisationService creates an OrganisationService.
func NewOrganisationService(
	orgRepo repositories.OrganisationRepository,
	memberRepo repositories.MemberRepository,
	scopes database.TenantScopeProvider,
	logger *zap.Logger,
) OrganisationService {
	return &organisationService{
		orgRepo:    orgRepo,
		memberRepo: memberRepo,
		scopes:     scopes,
		logger:     logger.Named("organisation-service"),
	}
}

var _ OrganisationService = (*organisationService)(nil)

func (s *organisationService) Provision(ctx context.Context, orgUUID uuid.UUID, name string, userID uuid.UUID) (int64, error) {
	scopedCtx, cleanup, err := s.scopes.WithoutTenantScope(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	org := &models.Organisation{UUID: orgUUID, Name: name}
	if err := s.orgRepo.Upsert(scopedCtx, org); err != nil {
		s.logger.Error("Failed to provision organisation",
			zap.String("organisation_uuid", orgUUID.String()),
			zap.Error(err))
		return 0, err
	}

	member := &models.OrganisationMember{OrganisationID: org.ID, UserID: userID}
	if err := s.memberRepo.Ensure(scopedCtx, member); err != nil {
		s.logger.Error("Failed to provision organisation member",
			zap.Int64("organisation_id", org.ID),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return 0, err
	}

	return org.ID, nil
}
