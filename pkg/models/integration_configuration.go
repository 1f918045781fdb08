package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultInstanceName is used for system connectors and for configurations created without a name.
const DefaultInstanceName = "default"

// IntegrationConfiguration is a named, per-organisation instance of a connector.
// EncryptedCredentials is opaque ciphertext; the credential broker decrypts it per dispatch.
type IntegrationConfiguration struct {
	ID                   int64      `json:"id"`
	OrganisationID       int64      `json:"organisation_id"`
	OwnerUserID          *uuid.UUID `json:"owner_user_id,omitempty"`
	IntegrationType      string     `json:"integration_type"`
	InstanceName         string     `json:"instance_name"`
	WorkflowUserID       *string    `json:"workflow_user_id,omitempty"`
	EncryptedCredentials *string    `json:"-"`
	DisabledTools        []string   `json:"disabled_tools"`
	Active               bool       `json:"active"`
	LastAccessedAt       *time.Time `json:"last_accessed_at,omitempty"`
	DisconnectReason     *string    `json:"disconnect_reason,omitempty"`
	DisconnectedAt       *time.Time `json:"disconnected_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasCredentials reports whether a credential blob has been stored.
func (c *IntegrationConfiguration) HasCredentials() bool {
	return c.EncryptedCredentials != nil && *c.EncryptedCredentials != ""
}

// IsToolDisabled reports whether the named tool is switched off for this instance.
func (c *IntegrationConfiguration) IsToolDisabled(toolName string) bool {
	return slices.Contains(c.DisabledTools, toolName)
}

// VisibleTo reports whether a caller acting as workflowUserID may use this instance.
// Unbound instances are organisation-wide; an empty workflow user sees everything.
func (c *IntegrationConfiguration) VisibleTo(workflowUserID string) bool {
	if workflowUserID == "" || c.WorkflowUserID == nil || *c.WorkflowUserID == "" {
		return true
	}
	return *c.WorkflowUserID == workflowUserID
}
