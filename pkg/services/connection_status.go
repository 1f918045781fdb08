package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/metrics"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// credentialFailureSignatures are lower-case fragments that identify a rejected
// credential when no status code survived classification.
var credentialFailureSignatures = []string{
	"401 unauthorized",
	"invalid_grant",
	"invalid token",
	"token expired",
	"authentication failed",
	"invalid credentials",
}

// oauthRefreshConnectors answer an expired refresh token with 400 instead of 401.
var oauthRefreshConnectors = map[string]bool{
	"hubspot":    true,
	"wrike":      true,
	"sharepoint": true,
}

// ConnectionStatusService detects broken credentials and switches the affected configuration off.
type ConnectionStatusService interface {
	// IsCredentialFailure reports whether err means the stored credentials no longer work.
	IsCredentialFailure(err error, integrationType string) bool

	// MarkDisconnected deactivates cfg with reason. It is idempotent and reports
	// whether this call changed the configuration.
	MarkDisconnected(ctx context.Context, cfg *models.IntegrationConfiguration, reason string) (bool, error)
}

type connectionStatusService struct {
	configRepo repositories.IntegrationConfigRepository
	audit      AuditService
	now        func() time.Time
	logger     *zap.Logger
}

// NewConnectionStatusService creates a ConnectionStatusService.
func NewConnectionStatusService(configRepo repositories.IntegrationConfigRepository, audit AuditService, logger *zap.Logger) ConnectionStatusService {
	return &connectionStatusService{
		configRepo: configRepo,
		audit:      audit,
		now:        time.Now,
		logger:     logger.Named("connection-status"),
	}
}

var _ ConnectionStatusService = (*connectionStatusService)(nil)

func (s *connectionStatusService) IsCredentialFailure(err error, integrationType string) bool {
	if err == nil {
		return false
	}
	execErr := connectors.Classify(err)
	if execErr.Kind == connectors.KindValidation {
		return false
	}

	msg := strings.ToLower(err.Error())

	switch execErr.StatusCode {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		// SAP rejects a stale CSRF token with 403; the next call fetches a fresh one.
		if integrationType == "sap_s4" && strings.Contains(msg, "csrf") {
			return false
		}
		return true
	case http.StatusBadRequest:
		if oauthRefreshConnectors[integrationType] &&
			(strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "expired")) {
			return true
		}
	}

	if execErr.StatusCode != 0 {
		return false
	}
	for _, sig := range credentialFailureSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func (s *connectionStatusService) MarkDisconnected(ctx context.Context, cfg *models.IntegrationConfiguration, reason string) (bool, error) {
	at := s.now()
	changed, err := s.configRepo.MarkDisconnected(ctx, cfg.ID, reason, at)
	if err != nil {
		s.logger.Error("Failed to mark integration disconnected",
			zap.Int64("config_id", cfg.ID),
			zap.String("integration_type", cfg.IntegrationType),
			zap.Error(err))
		return false, err
	}
	if !changed {
		return false, nil
	}

	cfg.Active = false
	cfg.DisconnectReason = &reason
	cfg.DisconnectedAt = &at

	metrics.IntegrationsDisconnectedTotal.WithLabelValues(cfg.IntegrationType).Inc()
	s.logger.Warn("Integration disconnected after credential failure",
		zap.Int64("config_id", cfg.ID),
		zap.Int64("organisation_id", cfg.OrganisationID),
		zap.String("integration_type", cfg.IntegrationType),
		zap.String("reason", reason))

	s.audit.Record(ctx, &models.AuditLogEntry{
		OrganisationID: cfg.OrganisationID,
		Action:         models.AuditActionIntegrationDisconnected,
		Payload: map[string]any{
			"config_id":        cfg.ID,
			"integration_type": cfg.IntegrationType,
			"instance_name":    cfg.InstanceName,
			"reason":           reason,
		},
	})
	return true, nil
}

