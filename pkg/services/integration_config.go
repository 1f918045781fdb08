package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// ConnectorInfo describes a registered connector for the management UI.
type ConnectorInfo struct {
	Type                string                       `json:"type"`
	Name                string                       `json:"name"`
	RequiresCredentials bool                         `json:"requires_credentials"`
	CredentialFields    []connectors.CredentialField `json:"credential_fields"`
	Tools               []connectors.ToolDefinition  `json:"tools"`
}

// CreateIntegrationRequest creates a configuration, or updates the one with the same type and instance name.
type CreateIntegrationRequest struct {
	IntegrationType string            `json:"integration_type"`
	InstanceName    string            `json:"instance_name"`
	WorkflowUserID  *string           `json:"workflow_user_id,omitempty"`
	Credentials     map[string]string `json:"credentials,omitempty"`
	DisabledTools   []string          `json:"disabled_tools,omitempty"`
}

// UpdateIntegrationRequest changes the non-secret settings of a configuration. Nil fields are kept.
// An empty WorkflowUserID unbinds the configuration.
type UpdateIntegrationRequest struct {
	InstanceName   *string `json:"instance_name,omitempty"`
	WorkflowUserID *string `json:"workflow_user_id,omitempty"`
}

// ConnectionTestResult is the outcome of a credential check.
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// IntegrationConfigService manages an organisation's integration configurations.
// Every operation taking an id fails with apperrors.ErrNotFound when the
// configuration belongs to another organisation.
type IntegrationConfigService interface {
	ListConnectors() []ConnectorInfo
	List(ctx context.Context, organisationID int64) ([]*models.IntegrationConfiguration, error)
	Get(ctx context.Context, organisationID, id int64) (*models.IntegrationConfiguration, error)
	Create(ctx context.Context, organisationID int64, ownerUserID uuid.UUID, req *CreateIntegrationRequest) (*models.IntegrationConfiguration, error)
	Update(ctx context.Context, organisationID, id int64, req *UpdateIntegrationRequest) (*models.IntegrationConfiguration, error)
	Delete(ctx context.Context, organisationID, id int64) error

	// RotateCredentials replaces the credentials and re-activates a disconnected configuration.
	RotateCredentials(ctx context.Context, organisationID, id int64, creds map[string]string) (*models.IntegrationConfiguration, error)

	DisableTool(ctx context.Context, organisationID, id int64, toolName string) (*models.IntegrationConfiguration, error)
	EnableTool(ctx context.Context, organisationID, id int64, toolName string) (*models.IntegrationConfiguration, error)
	SetActive(ctx context.Context, organisationID, id int64, active bool) (*models.IntegrationConfiguration, error)

	// TestConnection validates creds, or the stored credentials when creds is empty.
	// It reports the outcome but never changes the configuration.
	TestConnection(ctx context.Context, organisationID, id int64, creds map[string]string) (*ConnectionTestResult, error)

	// EnsureSystemInstance returns the default configuration of a system connector, creating it when missing.
	EnsureSystemInstance(ctx context.Context, organisationID int64, integrationType string) (*models.IntegrationConfiguration, error)
}

type integrationConfigService struct {
	registry   *connectors.Registry
	configRepo repositories.IntegrationConfigRepository
	broker     CredentialBroker
	audit      AuditService
	logger     *zap.Logger
}

// NewIntegrationConfigService creates an IntegrationConfigService.
func NewIntegrationConfigService(
	registry *connectors.Registry,
	configRepo repositories.IntegrationConfigRepository,
	broker CredentialBroker,
	audit AuditService,
	logger *zap.Logger,
) IntegrationConfigService {
	return &integrationConfigService{
		registry:   registry,
		configRepo: configRepo,
		broker:     broker,
		audit:      audit,
		logger:     logger.Named("integration-config-service"),
	}
}

var _ IntegrationConfigService = (*integrationConfigService)(nil)

func (s *integrationConfigService) ListConnectors() []ConnectorInfo {
	all := s.registry.All()
	out := make([]ConnectorInfo, 0, len(all))
	for _, c := range all {
		fields := c.CredentialFields()
		if fields == nil {
			fields = []connectors.CredentialField{}
		}
		out = append(out, ConnectorInfo{
			Type:                c.Type(),
			Name:                c.Name(),
			RequiresCredentials: c.RequiresCredentials(),
			CredentialFields:    fields,
			Tools:               c.Tools(),
		})
	}
	return out
}

func (s *integrationConfigService) List(ctx context.Context, organisationID int64) ([]*models.IntegrationConfiguration, error) {
	return s.configRepo.ListByOrganisation(ctx, organisationID)
}

func (s *integrationConfigService) Get(ctx context.Context, organisationID, id int64) (*models.IntegrationConfiguration, error) {
	cfg, err := s.configRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.OrganisationID != organisationID {
		return nil, apperrors.ErrNotFound
	}
	return cfg, nil
}

func (s *integrationConfigService) Create(ctx context.Context, organisationID int64, ownerUserID uuid.UUID, req *CreateIntegrationRequest) (*models.IntegrationConfiguration, error) {
	c, ok := s.registry.Get(strings.TrimSpace(req.IntegrationType))
	if !ok {
		return nil, apperrors.ErrUnknownIntegrationType
	}
	if err := validateDisabledTools(c, req.DisabledTools); err != nil {
		return nil, err
	}

	owner := ownerUserID
	cfg := &models.IntegrationConfiguration{
		OrganisationID:  organisationID,
		OwnerUserID:     &owner,
		IntegrationType: c.Type(),
		InstanceName:    strings.TrimSpace(req.InstanceName),
		WorkflowUserID:  normaliseWorkflowUser(req.WorkflowUserID),
		DisabledTools:   req.DisabledTools,
	}

	if len(req.Credentials) > 0 {
		if !c.RequiresCredentials() {
			return nil, fmt.Errorf("%w: %s takes no credentials", apperrors.ErrInvalidInput, c.Type())
		}
		if err := checkRequiredFields(c, req.Credentials); err != nil {
			return nil, err
		}
		enc, err := s.broker.StoreCredentials(cfg, req.Credentials)
		if err != nil {
			return nil, err
		}
		cfg.EncryptedCredentials = &enc
	}

	if err := s.configRepo.Upsert(ctx, cfg); err != nil {
		s.logger.Error("Failed to save integration configuration",
			zap.Int64("organisation_id", organisationID),
			zap.String("integration_type", cfg.IntegrationType),
			zap.String("instance_name", cfg.InstanceName),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Integration configuration saved",
		zap.Int64("organisation_id", organisationID),
		zap.Int64("config_id", cfg.ID),
		zap.String("integration_type", cfg.IntegrationType))

	s.recordChange(ctx, models.AuditActionIntegrationCreated, cfg, nil)
	return cfg, nil
}

func (s *integrationConfigService) Update(ctx context.Context, organisationID, id int64, req *UpdateIntegrationRequest) (*models.IntegrationConfiguration, error) {
	cfg, err := s.Get(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if req.InstanceName != nil {
		name := strings.TrimSpace(*req.InstanceName)
		if name == "" {
			return nil, fmt.Errorf("%w: instance_name must not be empty", apperrors.ErrInvalidInput)
		}
		cfg.InstanceName = name
		changes["instance_name"] = name
	}
	if req.WorkflowUserID != nil {
		cfg.WorkflowUserID = normaliseWorkflowUser(req.WorkflowUserID)
		changes["workflow_user_id"] = strings.TrimSpace(*req.WorkflowUserID)
	}

	if err := s.configRepo.Update(ctx, cfg); err != nil {
		return nil, err
	}
	s.recordChange(ctx, models.AuditActionIntegrationUpdated, cfg, changes)
	return cfg, nil
}

func (s *integrationConfigService) Delete(ctx context.Context, organisationID, id int64) error {
	cfg, err := s.Get(ctx, organisationID, id)
	if err != nil {
		return err
	}
	if err := s.configRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordChange(ctx, models.AuditActionIntegrationDeleted, cfg, nil)
	return nil
}

func (s *integrationConfigService) RotateCredentials(ctx context.Context, organisationID, id int64, creds map[string]string) (*models.IntegrationConfiguration, error) {
	cfg, err := s.Get(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	c, ok := s.registry.Get(cfg.IntegrationType)
	if !ok {
		return nil, apperrors.ErrUnknownIntegrationType
	}
	if !c.RequiresCredentials() {
		return nil, fmt.Errorf("%w: %s takes no credentials", apperrors.ErrInvalidInput, c.Type())
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: credentials are required", apperrors.ErrInvalidInput)
	}
	if err := checkRequiredFields(c, creds); err != nil {
		return nil, err
	}

	enc, err := s.broker.StoreCredentials(cfg, creds)
	if err != nil {
		return nil, err
	}
	if err := s.configRepo.RotateCredentials(ctx, id, enc); err != nil {
		return nil, err
	}

	cfg.EncryptedCredentials = &enc
	cfg.Active = true
	cfg.DisconnectReason = nil
	cfg.DisconnectedAt = nil

	s.recordChange(ctx, models.AuditActionIntegrationUpdated, cfg, map[string]any{"credentials": "rotated"})
	return cfg, nil
}

func (s *integrationConfigService) DisableTool(ctx context.Context, organisationID, id int64, toolName string) (*models.IntegrationConfiguration, error) {
	return s.toggleTool(ctx, organisationID, id, toolName, false)
}

func (s *integrationConfigService) EnableTool(ctx context.Context, organisationID, id int64, toolName string) (*models.IntegrationConfiguration, error) {
	return s.toggleTool(ctx, organisationID, id, toolName, true)
}

func (s *integrationConfigService) toggleTool(ctx context.Context, organisationID, id int64, toolName string, enabled bool) (*models.IntegrationConfiguration, error) {
	cfg, err := s.Get(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	c, ok := s.registry.Get(cfg.IntegrationType)
	if !ok {
		return nil, apperrors.ErrUnknownIntegrationType
	}
	if err := validateDisabledTools(c, []string{toolName}); err != nil {
		return nil, err
	}

	disabled := slices.DeleteFunc(slices.Clone(cfg.DisabledTools), func(t string) bool { return t == toolName })
	if !enabled {
		disabled = append(disabled, toolName)
	}
	if err := s.configRepo.SetDisabledTools(ctx, id, disabled); err != nil {
		return nil, err
	}
	cfg.DisabledTools = disabled

	s.recordChange(ctx, models.AuditActionIntegrationUpdated, cfg, map[string]any{
		"tool":    toolName,
		"enabled": enabled,
	})
	return cfg, nil
}

func (s *integrationConfigService) SetActive(ctx context.Context, organisationID, id int64, active bool) (*models.IntegrationConfiguration, error) {
	cfg, err := s.Get(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	if err := s.configRepo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	cfg.Active = active
	if active {
		cfg.DisconnectReason = nil
		cfg.DisconnectedAt = nil
	}

	s.recordChange(ctx, models.AuditActionIntegrationUpdated, cfg, map[string]any{"active": active})
	return cfg, nil
}

func (s *integrationConfigService) TestConnection(ctx context.Context, organisationID, id int64, creds map[string]string) (*ConnectionTestResult, error) {
	cfg, err := s.Get(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	c, ok := s.registry.Get(cfg.IntegrationType)
	if !ok {
		return nil, apperrors.ErrUnknownIntegrationType
	}
	if !c.RequiresCredentials() {
		return &ConnectionTestResult{Success: true, Message: "No credentials required"}, nil
	}

	bag := connectors.Credentials(creds)
	if len(bag) == 0 {
		bag, err = s.broker.LoadCredentials(ctx, cfg)
		if err != nil {
			var decErr *CredentialDecryptionError
			if errors.As(err, &decErr) {
				return &ConnectionTestResult{
					Message: "Stored credentials could not be decrypted",
					Hint:    "Enter the credentials again.",
				}, nil
			}
			return nil, err
		}
		if len(bag) == 0 {
			return &ConnectionTestResult{
				Message: "No credentials stored",
				Hint:    "Enter the credentials first.",
			}, nil
		}
	}

	if err := c.ValidateCredentials(ctx, bag); err != nil {
		execErr := connectors.Classify(err)
		s.logger.Info("Connection test failed",
			zap.Int64("config_id", cfg.ID),
			zap.String("integration_type", cfg.IntegrationType),
			zap.String("error_kind", string(execErr.Kind)),
			zap.String("error", logging.SanitizeError(err)))
		return &ConnectionTestResult{
			Message: logging.SanitizeText(execErr.Message),
			Hint:    execErr.Hint(),
		}, nil
	}
	return &ConnectionTestResult{Success: true, Message: "Connection successful"}, nil
}

func (s *integrationConfigService) EnsureSystemInstance(ctx context.Context, organisationID int64, integrationType string) (*models.IntegrationConfiguration, error) {
	c, ok := s.registry.Get(integrationType)
	if !ok {
		return nil, apperrors.ErrUnknownIntegrationType
	}
	if c.RequiresCredentials() {
		return nil, fmt.Errorf("%w: %s is not a system connector", apperrors.ErrInvalidInput, integrationType)
	}

	cfg, err := s.configRepo.GetByInstance(ctx, organisationID, integrationType, models.DefaultInstanceName)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	cfg = &models.IntegrationConfiguration{
		OrganisationID:  organisationID,
		IntegrationType: integrationType,
		InstanceName:    models.DefaultInstanceName,
	}
	if err := s.configRepo.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	s.recordChange(ctx, models.AuditActionIntegrationCreated, cfg, nil)
	return cfg, nil
}

func (s *integrationConfigService) recordChange(ctx context.Context, action string, cfg *models.IntegrationConfiguration, changes map[string]any) {
	payload := map[string]any{
		"config_id":        cfg.ID,
		"integration_type": cfg.IntegrationType,
		"instance_name":    cfg.InstanceName,
	}
	if len(changes) > 0 {
		payload["changes"] = changes
	}
	s.audit.Record(ctx, &models.AuditLogEntry{
		OrganisationID: cfg.OrganisationID,
		Action:         action,
		Payload:        payload,
	})
}

// checkRequiredFields rejects a bag missing a required form field.
// OAuth fields are filled by the consent flow, not the form.
func checkRequiredFields(c connectors.Connector, creds map[string]string) error {
	var missing []string
	for _, f := range c.CredentialFields() {
		if !f.Required || f.InputType == connectors.InputOAuth {
			continue
		}
		if strings.TrimSpace(creds[f.Key]) == "" {
			missing = append(missing, f.Key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required credential fields: %s", apperrors.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func validateDisabledTools(c connectors.Connector, tools []string) error {
	for _, name := range tools {
		if !slices.ContainsFunc(c.Tools(), func(t connectors.ToolDefinition) bool { return t.Name == name }) {
			return fmt.Errorf("%w: %s does not provide tool %q", apperrors.ErrInvalidInput, c.Type(), name)
		}
	}
	return nil
}

func normaliseWorkflowUser(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}
