package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by ekaya-connect.
const (
	AuditActionToolExecutionCompleted  = "tool_execution.completed"
	AuditActionToolExecutionFailed     = "tool_execution.failed"
	AuditActionIntegrationCreated      = "integration.created"
	AuditActionIntegrationUpdated      = "integration.updated"
	AuditActionIntegrationDeleted      = "integration.deleted"
	AuditActionIntegrationDisconnected = "integration.disconnected"
	AuditActionAccessTokenRegenerated  = "access_token.regenerated"
)

// AuditLogEntry is one structured event in connect_audit_log.
type AuditLogEntry struct {
	ID             uuid.UUID      `json:"id"`
	OrganisationID int64          `json:"organisation_id"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	Action         string         `json:"action"`
	ExecutionID    *string        `json:"execution_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}
