// Package audit records security events for SIEM consumption and streams
// audit log entries to Kafka.
//
// Security events are structured JSON log lines, separate from the per-organisation
// audit log in Postgres, so operators can alert on them without database access.
package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInvalidAccessToken is logged when a dispatch request presents an unknown token.
	EventInvalidAccessToken SecurityEventType = "invalid_access_token"
	// EventCrossTenantAccess is logged when a caller addresses a configuration of another organisation.
	EventCrossTenantAccess SecurityEventType = "cross_tenant_access"
	// EventRateLimited is logged when a caller exceeds the dispatch rate limit.
	EventRateLimited SecurityEventType = "rate_limited"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp      time.Time         `json:"timestamp"`
	EventType      SecurityEventType `json:"event_type"`
	OrganisationID int64             `json:"organisation_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	ClientIP       string            `json:"client_ip,omitempty"`
	Path           string            `json:"path,omitempty"`
	Details        any               `json:"details,omitempty"`
	Severity       string            `json:"severity"` // info, warning, critical
}

// CrossTenantDetails describes an attempt to use a configuration outside the caller's organisation.
type CrossTenantDetails struct {
	ToolID   string `json:"tool_id"`
	ConfigID int64  `json:"config_id"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// RecordAuthFailure logs a rejected access token. It satisfies auth.AuthFailureRecorder.
func (a *SecurityAuditor) RecordAuthFailure(r *http.Request, reason string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInvalidAccessToken,
		ClientIP:  r.RemoteAddr,
		Path:      r.URL.Path,
		Details:   map[string]string{"reason": reason},
		Severity:  "warning",
	}
	a.emit(zap.WarnLevel, "Access token rejected", event)
}

// LogCrossTenantAccess records a dispatch that addressed a configuration the caller's
// organisation does not own. Logged at ERROR with critical severity: tool ids are not
// guessable by accident.
func (a *SecurityAuditor) LogCrossTenantAccess(ctx context.Context, details CrossTenantDetails) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventCrossTenantAccess,
		Details:   details,
		Severity:  "critical",
	}
	withPrincipal(ctx, &event)
	a.emit(zap.ErrorLevel, "Cross-tenant configuration access attempt", event)
}

// LogRateLimited records a request rejected by the dispatch rate limiter.
func (a *SecurityAuditor) LogRateLimited(r *http.Request) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventRateLimited,
		ClientIP:  r.RemoteAddr,
		Path:      r.URL.Path,
		Severity:  "info",
	}
	withPrincipal(r.Context(), &event)
	a.emit(zap.InfoLevel, "Dispatch rate limit exceeded", event)
}

func withPrincipal(ctx context.Context, event *SecurityEvent) {
	if p, ok := auth.GetPrincipal(ctx); ok {
		event.OrganisationID = p.OrganisationID
		event.UserID = p.UserID.String()
	}
}

func (a *SecurityAuditor) emit(level zapcore.Level, msg string, event SecurityEvent) {
	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	if ce := a.logger.Check(level, msg); ce != nil {
		ce.Write(
			zap.String("event_json", string(eventJSON)),
			zap.String("event_type", string(event.EventType)),
			zap.Int64("organisation_id", event.OrganisationID),
			zap.String("user_id", event.UserID),
			zap.String("client_ip", event.ClientIP),
			zap.String("severity", event.Severity),
		)
	}
}
