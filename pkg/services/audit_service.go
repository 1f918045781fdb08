package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/metrics"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// auditWriteTimeout bounds one detached audit write.
const auditWriteTimeout = 5 * time.Second

// AuditService records structured events without blocking the caller.
type AuditService interface {
	// Record stores the entry in the background. Failures are logged and counted, never returned.
	Record(ctx context.Context, entry *models.AuditLogEntry)

	// ListByOrganisation returns the newest entries of an organisation.
	ListByOrganisation(ctx context.Context, organisationID int64, limit int) ([]*models.AuditLogEntry, error)

	// ListByExecution returns the entries of one workflow execution in order.
	ListByExecution(ctx context.Context, organisationID int64, executionID string) ([]*models.AuditLogEntry, error)

	// Wait blocks until pending writes finish or ctx is done.
	Wait(ctx context.Context) error
}

type auditService struct {
	repo   repositories.AuditRepository
	scopes database.TenantScopeProvider
	sink   audit.Sink
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewAuditService creates an AuditService. sink may be nil when no event stream is configured.
func NewAuditService(repo repositories.AuditRepository, scopes database.TenantScopeProvider, sink audit.Sink, logger *zap.Logger) AuditService {
	return &auditService{
		repo:   repo,
		scopes: scopes,
		sink:   sink,
		logger: logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) Record(ctx context.Context, entry *models.AuditLogEntry) {
	if entry.UserID == nil {
		if p, ok := auth.GetPrincipal(ctx); ok {
			userID := p.UserID
			entry.UserID = &userID
		}
	}

	// The request may finish before the write does; keep its values, drop its cancellation.
	detached := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		writeCtx, cancel := context.WithTimeout(detached, auditWriteTimeout)
		defer cancel()
		s.write(writeCtx, entry)
	}()
}

func (s *auditService) write(ctx context.Context, entry *models.AuditLogEntry) {
	scopedCtx, cleanup, err := s.scopes.WithTenantScope(ctx, entry.OrganisationID)
	if err != nil {
		metrics.AuditEventsDropped.WithLabelValues("postgres").Inc()
		s.logger.Error("Failed to acquire tenant scope for audit entry",
			zap.Int64("organisation_id", entry.OrganisationID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return
	}
	defer cleanup()

	if err := s.repo.Create(scopedCtx, entry); err != nil {
		metrics.AuditEventsDropped.WithLabelValues("postgres").Inc()
		s.logger.Error("Failed to create audit log entry",
			zap.Int64("organisation_id", entry.OrganisationID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return
	}

	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, entry); err != nil {
		metrics.AuditEventsDropped.WithLabelValues("kafka").Inc()
		s.logger.Warn("Failed to publish audit event",
			zap.Int64("organisation_id", entry.OrganisationID),
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

func (s *auditService) ListByOrganisation(ctx context.Context, organisationID int64, limit int) ([]*models.AuditLogEntry, error) {
	entries, err := s.repo.ListByOrganisation(ctx, organisationID, limit)
	if err != nil {
		s.logger.Error("Failed to list audit entries",
			zap.Int64("organisation_id", organisationID),
			zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (s *auditService) ListByExecution(ctx context.Context, organisationID int64, executionID string) ([]*models.AuditLogEntry, error) {
	entries, err := s.repo.ListByExecution(ctx, organisationID, executionID)
	if err != nil {
		s.logger.Error("Failed to list audit entries for execution",
			zap.Int64("organisation_id", organisationID),
			zap.String("execution_id", executionID),
			zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (s *auditService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
