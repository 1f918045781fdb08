package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/metrics"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/toolid"
)

// DefaultAuditMaxResponseChars caps the response stored with a completed execution.
const DefaultAuditMaxResponseChars = 5000

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var tracer = otel.Tracer("github.com/ekaya-inc/ekaya-connect/pkg/services")

// ExecuteRequest is one tool invocation. Tool takes precedence over the legacy ToolID string.
type ExecuteRequest struct {
	ToolID         string
	Tool           *toolid.Ref
	Parameters     map[string]any
	ExecutionID    string
	WorkflowUserID string
	// ResultFilter is an optional jq expression applied to the connector result.
	ResultFilter string
}

// ExecuteResult is a successful invocation.
type ExecuteResult struct {
	Result          any
	ToolID          string
	ToolName        string
	IntegrationType string
	ConfigID        int64
}

// ToolDispatcher resolves a tool for an authenticated member and runs it.
// Every error it returns is a *DispatchError.
type ToolDispatcher interface {
	Execute(ctx context.Context, principal *models.AccessPrincipal, req *ExecuteRequest) (*ExecuteResult, error)
}

// ToolDispatcherConfig tunes the dispatcher.
type ToolDispatcherConfig struct {
	AuditMaxResponseChars int
}

type toolDispatcher struct {
	registry   *connectors.Registry
	configRepo repositories.IntegrationConfigRepository
	broker     CredentialBroker
	status     ConnectionStatusService
	audit      AuditService
	security   *audit.SecurityAuditor
	cfg        ToolDispatcherConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewToolDispatcher creates a ToolDispatcher.
func NewToolDispatcher(
	registry *connectors.Registry,
	configRepo repositories.IntegrationConfigRepository,
	broker CredentialBroker,
	status ConnectionStatusService,
	auditService AuditService,
	security *audit.SecurityAuditor,
	cfg ToolDispatcherConfig,
	logger *zap.Logger,
) ToolDispatcher {
	if cfg.AuditMaxResponseChars <= 0 {
		cfg.AuditMaxResponseChars = DefaultAuditMaxResponseChars
	}
	return &toolDispatcher{
		registry:   registry,
		configRepo: configRepo,
		broker:     broker,
		status:     status,
		audit:      auditService,
		security:   security,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("tool-dispatcher"),
	}
}

var _ ToolDispatcher = (*toolDispatcher)(nil)

// dispatch carries the state of one invocation as it moves through resolution and execution.
type dispatch struct {
	principal *models.AccessPrincipal
	req       *ExecuteRequest
	ref       toolid.Ref
	connector connectors.Connector
	tool      connectors.ToolDefinition
	config    *models.IntegrationConfiguration
	started   time.Time
}

func (d *dispatch) integrationType() string {
	if d.connector == nil {
		return ""
	}
	return d.connector.Type()
}

func (d *dispatch) toolID() string {
	if d.ref.Name != "" {
		return d.ref.Format()
	}
	return d.req.ToolID
}

func (s *toolDispatcher) Execute(ctx context.Context, principal *models.AccessPrincipal, req *ExecuteRequest) (*ExecuteResult, error) {
	d := &dispatch{principal: principal, req: req, started: s.now()}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	ctx, span := tracer.Start(ctx, "dispatch.execute", trace.WithAttributes(
		attribute.Int64("organisation_id", principal.OrganisationID),
		attribute.String("execution_id", req.ExecutionID),
	))
	defer span.End()

	if derr := s.resolveTool(d); derr != nil {
		return nil, s.fail(ctx, span, d, derr)
	}
	span.SetAttributes(
		attribute.String("tool_name", d.ref.Name),
		attribute.String("integration_type", d.integrationType()),
	)

	filter, err := CompileResultFilter(req.ResultFilter)
	if err != nil {
		return nil, s.fail(ctx, span, d, errInvalidRequest(err.Error()))
	}

	creds, derr := s.loadConfiguration(ctx, d)
	if derr != nil {
		return nil, s.fail(ctx, span, d, derr)
	}
	if d.config != nil {
		span.SetAttributes(attribute.Int64("config_id", d.config.ID))
	}

	if err := connectors.ValidateParams(d.tool, req.Parameters); err != nil {
		return nil, s.fail(ctx, span, d, errFromExecution(connectors.Classify(err)))
	}

	result, err := s.execute(ctx, d, creds)
	if result != nil && len(result.UpdatedCredentials) > 0 {
		s.persistCredentials(ctx, d.config, result.UpdatedCredentials)
	}
	if err != nil {
		return nil, s.handleExecutionError(ctx, span, d, err)
	}

	var data any
	if result != nil {
		data = result.Data
	}
	s.complete(ctx, d, data)
	span.SetStatus(codes.Ok, "")

	filtered, err := filter.Apply(ctx, data)
	if err != nil {
		derr := errInvalidRequest(err.Error())
		s.fillContext(d, derr)
		return nil, derr
	}

	out := &ExecuteResult{
		Result:          filtered,
		ToolID:          d.toolID(),
		ToolName:        d.ref.Name,
		IntegrationType: d.integrationType(),
	}
	if d.config != nil && d.ref.HasConfig() {
		out.ConfigID = d.config.ID
	}
	return out, nil
}

// resolveTool maps the request onto a registered tool. A structured reference wins over the string id.
func (s *toolDispatcher) resolveTool(d *dispatch) *DispatchError {
	switch {
	case d.req.Tool != nil && d.req.Tool.Name != "":
		d.ref = *d.req.Tool
	case d.req.ToolID != "":
		ref, err := toolid.Parse(d.req.ToolID, s.registry.HasTool)
		if err != nil {
			if errors.Is(err, toolid.ErrEmpty) {
				return errInvalidRequest("tool_id is required")
			}
			return errToolNotFound(d.req.ToolID)
		}
		d.ref = ref
	default:
		return errInvalidRequest("tool_id is required")
	}

	c, tool, ok := s.registry.FindTool(d.ref.Name)
	if !ok {
		return errToolNotFound(d.toolID())
	}
	d.connector = c
	d.tool = tool
	return nil
}

// loadConfiguration applies the configuration checks and returns the decrypted credentials.
func (s *toolDispatcher) loadConfiguration(ctx context.Context, d *dispatch) (connectors.Credentials, *DispatchError) {
	if !d.connector.RequiresCredentials() {
		return nil, s.checkSystemGate(ctx, d)
	}

	if !d.ref.HasConfig() {
		return nil, errConfiguration(http.StatusBadRequest,
			"Configuration id required",
			"Use the tool id from GET /api/v1/tools, which ends in the configuration id.")
	}

	cfg, err := s.configRepo.GetByID(ctx, d.ref.ConfigID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, configurationNotFound()
		}
		return nil, errInternal("Failed to load configuration", err)
	}

	if cfg.OrganisationID != d.principal.OrganisationID {
		if s.security != nil {
			s.security.LogCrossTenantAccess(ctx, audit.CrossTenantDetails{
				ToolID:   d.toolID(),
				ConfigID: cfg.ID,
			})
		}
		return nil, configurationNotFound()
	}
	d.config = cfg

	if cfg.IntegrationType != d.connector.Type() {
		return nil, errConfiguration(http.StatusForbidden,
			"Configuration does not belong to this tool",
			"Use a tool id listed for this configuration in GET /api/v1/tools.")
	}
	if !cfg.VisibleTo(d.req.WorkflowUserID) {
		return nil, errConfiguration(http.StatusForbidden,
			"Configuration is bound to another workflow user",
			"Use a configuration bound to your workflow user or an organisation-wide one.")
	}
	if !cfg.Active {
		return nil, integrationInactive(cfg)
	}
	if cfg.IsToolDisabled(d.ref.Name) {
		return nil, toolDisabled()
	}

	creds, err := s.broker.LoadCredentials(ctx, cfg)
	if err != nil {
		var decErr *CredentialDecryptionError
		if errors.As(err, &decErr) {
			return nil, errCredentialsUnavailable("Stored credentials could not be decrypted", err)
		}
		return nil, errInternal("Failed to load credentials", err)
	}
	if len(creds) == 0 {
		return nil, errCredentialsUnavailable("Credentials not available", nil)
	}
	return creds, nil
}

// checkSystemGate lets an organisation switch system tools off through the default configuration.
// Without that configuration every system tool is available.
func (s *toolDispatcher) checkSystemGate(ctx context.Context, d *dispatch) *DispatchError {
	gate, err := s.configRepo.GetByInstance(ctx, d.principal.OrganisationID, d.connector.Type(), models.DefaultInstanceName)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return errInternal("Failed to load configuration", err)
	}
	d.config = gate

	if !gate.Active {
		return integrationInactive(gate)
	}
	if gate.IsToolDisabled(d.ref.Name) {
		return toolDisabled()
	}
	return nil
}

func (s *toolDispatcher) execute(ctx context.Context, d *dispatch, creds connectors.Credentials) (*connectors.Result, error) {
	params := make(map[string]any, len(d.req.Parameters)+3)
	for k, v := range d.req.Parameters {
		params[k] = v
	}
	params[connectors.ParamOrganisationID] = d.principal.OrganisationID
	params[connectors.ParamOrganisationUUID] = d.principal.OrganisationUUID.String()
	params[connectors.ParamWorkflowUserID] = d.req.WorkflowUserID

	ctx, span := tracer.Start(ctx, "connector.execute_tool", trace.WithAttributes(
		attribute.String("integration_type", d.integrationType()),
		attribute.String("tool_name", d.ref.Name),
	))
	defer span.End()

	start := s.now()
	result, err := d.connector.ExecuteTool(ctx, d.ref.Name, params, creds)
	metrics.ToolExecutionDuration.WithLabelValues(d.integrationType()).Observe(s.now().Sub(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool execution failed")
	}
	return result, err
}

func (s *toolDispatcher) handleExecutionError(ctx context.Context, span trace.Span, d *dispatch, err error) error {
	execErr := connectors.Classify(err)
	derr := errFromExecution(execErr)
	derr.Message = logging.SanitizeText(execErr.Message)

	if d.config != nil && d.connector.RequiresCredentials() && s.status.IsCredentialFailure(err, d.integrationType()) {
		reason := logging.TruncateString(logging.SanitizeError(err), 500)
		if _, markErr := s.status.MarkDisconnected(ctx, d.config, reason); markErr != nil {
			s.logger.Error("Failed to disable integration after credential failure",
				zap.Int64("config_id", d.config.ID),
				zap.Error(markErr))
		} else {
			derr.Hint = "The integration was disabled because its credentials were rejected. Update the credentials to re-enable it."
		}
	}

	return s.fail(ctx, span, d, derr)
}

// fail finishes a failed dispatch: context is attached to the error, then it is logged, counted and audited.
func (s *toolDispatcher) fail(ctx context.Context, span trace.Span, d *dispatch, derr *DispatchError) error {
	s.fillContext(d, derr)

	span.SetStatus(codes.Error, string(derr.Kind))
	if derr.Cause != nil {
		span.RecordError(derr.Cause)
	}

	metrics.DispatchErrorsTotal.WithLabelValues(string(derr.Kind)).Inc()
	if d.connector != nil {
		metrics.ToolExecutionsTotal.WithLabelValues(d.integrationType(), d.ref.Name, outcomeFailure).Inc()
	}

	fields := []zap.Field{
		zap.Int64("organisation_id", d.principal.OrganisationID),
		zap.String("tool_id", derr.ToolID),
		zap.String("error_kind", string(derr.Kind)),
		zap.Int("status", derr.Status),
		zap.String("execution_id", d.req.ExecutionID),
	}
	if derr.Cause != nil {
		fields = append(fields, zap.String("cause", logging.SanitizeError(derr.Cause)))
	}
	if derr.Status >= http.StatusInternalServerError {
		s.logger.Error("Tool dispatch failed", fields...)
	} else {
		s.logger.Info("Tool dispatch rejected", fields...)
	}

	payload := s.basePayload(d)
	payload["outcome"] = outcomeFailure
	payload["error_kind"] = string(derr.Kind)
	payload["status"] = derr.Status
	payload["error"] = derr.Message
	if derr.ConnectorKind != "" {
		payload["connector_error_kind"] = string(derr.ConnectorKind)
	}
	if derr.Cause != nil {
		payload["cause"] = logging.SanitizeError(derr.Cause)
	}
	s.record(ctx, d, models.AuditActionToolExecutionFailed, payload)

	return derr
}

func (s *toolDispatcher) complete(ctx context.Context, d *dispatch, data any) {
	if d.config != nil {
		if err := s.configRepo.TouchLastAccessed(ctx, d.config.ID, s.now()); err != nil {
			s.logger.Warn("Failed to update last accessed time",
				zap.Int64("config_id", d.config.ID),
				zap.Error(err))
		}
	}

	metrics.ToolExecutionsTotal.WithLabelValues(d.integrationType(), d.ref.Name, outcomeSuccess).Inc()
	s.logger.Info("Tool executed",
		zap.Int64("organisation_id", d.principal.OrganisationID),
		zap.String("tool_id", d.toolID()),
		zap.String("integration_type", d.integrationType()),
		zap.String("execution_id", d.req.ExecutionID),
		zap.Duration("duration", s.now().Sub(d.started)))

	payload := s.basePayload(d)
	payload["outcome"] = outcomeSuccess
	payload["response"] = truncateResponse(data, s.cfg.AuditMaxResponseChars)
	s.record(ctx, d, models.AuditActionToolExecutionCompleted, payload)
}

// persistCredentials saves a bag refreshed by the connector. The call result stands even when this fails.
func (s *toolDispatcher) persistCredentials(ctx context.Context, cfg *models.IntegrationConfiguration, creds connectors.Credentials) {
	if cfg == nil {
		return
	}
	enc, err := s.broker.StoreCredentials(cfg, creds)
	if err == nil {
		err = s.configRepo.UpdateCredentials(ctx, cfg.ID, enc)
	}
	if err != nil {
		s.logger.Error("Failed to persist refreshed credentials",
			zap.Int64("config_id", cfg.ID),
			zap.String("integration_type", cfg.IntegrationType),
			zap.Error(err))
		return
	}
	cfg.EncryptedCredentials = &enc
	s.logger.Debug("Persisted refreshed credentials", zap.Int64("config_id", cfg.ID))
}

func (s *toolDispatcher) basePayload(d *dispatch) map[string]any {
	payload := map[string]any{
		"tool_id":          d.toolID(),
		"tool_name":        d.ref.Name,
		"integration_type": d.integrationType(),
		"parameters":       logging.SanitizeArguments(d.req.Parameters),
		"duration_ms":      s.now().Sub(d.started).Milliseconds(),
	}
	if d.config != nil {
		payload["config_id"] = d.config.ID
		payload["instance_name"] = d.config.InstanceName
	}
	if d.req.WorkflowUserID != "" {
		payload["workflow_user_id"] = d.req.WorkflowUserID
	}
	return payload
}

func (s *toolDispatcher) record(ctx context.Context, d *dispatch, action string, payload map[string]any) {
	userID := d.principal.UserID
	entry := &models.AuditLogEntry{
		OrganisationID: d.principal.OrganisationID,
		UserID:         &userID,
		Action:         action,
		Payload:        payload,
	}
	if d.req.ExecutionID != "" {
		executionID := d.req.ExecutionID
		entry.ExecutionID = &executionID
	}
	s.audit.Record(ctx, entry)
}

func (s *toolDispatcher) fillContext(d *dispatch, derr *DispatchError) {
	if derr.ToolID == "" {
		derr.ToolID = d.toolID()
	}
	derr.ToolName = d.ref.Name
	derr.IntegrationType = d.integrationType()
}

// truncateResponse renders data as JSON text capped at maxChars characters.
func truncateResponse(data any, maxChars int) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("<unencodable result: %v>", err)
	}
	return logging.TruncateString(string(raw), maxChars)
}

func configurationNotFound() *DispatchError {
	return errConfiguration(http.StatusForbidden,
		"Configuration not found",
		"The configuration does not exist in your organisation. List the available tools with GET /api/v1/tools.")
}

func integrationInactive(cfg *models.IntegrationConfiguration) *DispatchError {
	hint := "Re-activate the integration in the integration settings."
	if cfg.DisconnectReason != nil && *cfg.DisconnectReason != "" {
		hint = "The integration was disabled after a credential failure. Update its credentials to re-enable it."
	}
	return errConfiguration(http.StatusForbidden, "Integration inactive", hint)
}

func toolDisabled() *DispatchError {
	return errConfiguration(http.StatusForbidden,
		"Tool disabled",
		"Enable the tool in the integration settings.")
}
