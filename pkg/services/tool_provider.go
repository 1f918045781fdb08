package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/toolid"
)

// systemToolTag selects every system connector in a tool type filter.
const systemToolTag = "system"

// CatalogFilter narrows the catalog. Zero values mean no restriction.
type CatalogFilter struct {
	// WorkflowUserID keeps configurations bound to this workflow user plus unbound ones.
	WorkflowUserID string
	// ToolTypes restricts the catalog to these integration types. See ParseToolTypes.
	ToolTypes []string
}

// CatalogEntry is one callable tool as presented to a workflow engine.
type CatalogEntry struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	Description     string                     `json:"description"`
	Parameters      []connectors.ToolParameter `json:"parameters"`
	IntegrationType string                     `json:"integration_type"`
	ConfigID        int64                      `json:"config_id,omitempty"`
	InstanceName    string                     `json:"instance_name,omitempty"`
	SystemPrompt    string                     `json:"system_prompt,omitempty"`

	Definition connectors.ToolDefinition `json:"-"`
}

// ParseToolTypes splits a comma-separated tool_type query value.
// Values are trimmed, lower-cased and de-duplicated; blank input yields nil.
func ParseToolTypes(csv string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(csv, ",") {
		t := strings.ToLower(strings.TrimSpace(part))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ToolProvider builds the tool catalog an organisation can call.
type ToolProvider interface {
	ListTools(ctx context.Context, organisationID int64, filter CatalogFilter) ([]CatalogEntry, error)
}

type toolProvider struct {
	registry   *connectors.Registry
	configRepo repositories.IntegrationConfigRepository
	logger     *zap.Logger
}

// NewToolProvider creates a ToolProvider.
func NewToolProvider(registry *connectors.Registry, configRepo repositories.IntegrationConfigRepository, logger *zap.Logger) ToolProvider {
	return &toolProvider{
		registry:   registry,
		configRepo: configRepo,
		logger:     logger.Named("tool-provider"),
	}
}

var _ ToolProvider = (*toolProvider)(nil)

func (p *toolProvider) ListTools(ctx context.Context, organisationID int64, filter CatalogFilter) ([]CatalogEntry, error) {
	entries := make([]CatalogEntry, 0)

	for _, c := range p.registry.UserConnectors() {
		if !matchesUserType(filter.ToolTypes, c.Type()) {
			continue
		}

		configs, err := p.configRepo.ListActiveByType(ctx, organisationID, c.Type())
		if err != nil {
			p.logger.Error("Failed to list integration configurations",
				zap.Int64("organisation_id", organisationID),
				zap.String("integration_type", c.Type()),
				zap.Error(err))
			return nil, err
		}

		for _, cfg := range configs {
			if !cfg.VisibleTo(filter.WorkflowUserID) {
				continue
			}
			entries = append(entries, instanceEntries(c, cfg)...)
		}
	}

	for _, c := range p.registry.SystemConnectors() {
		if !matchesSystemType(filter.ToolTypes, c.Type()) {
			continue
		}

		gate, err := p.configRepo.GetByInstance(ctx, organisationID, c.Type(), models.DefaultInstanceName)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			p.logger.Error("Failed to load system configuration",
				zap.Int64("organisation_id", organisationID),
				zap.String("integration_type", c.Type()),
				zap.Error(err))
			return nil, err
		}
		if gate != nil && !gate.Active {
			continue
		}

		for _, tool := range c.Tools() {
			if gate != nil && gate.IsToolDisabled(tool.Name) {
				continue
			}
			entries = append(entries, newCatalogEntry(c, tool, tool.Name))
		}
	}

	return entries, nil
}

// instanceEntries emits the enabled tools of one configuration.
// Personalized connectors render their prompt from non-secret data only.
func instanceEntries(c connectors.Connector, cfg *models.IntegrationConfiguration) []CatalogEntry {
	var out []CatalogEntry
	var ids []string
	for _, tool := range c.Tools() {
		if cfg.IsToolDisabled(tool.Name) {
			continue
		}
		entry := newCatalogEntry(c, tool, toolid.Format(tool.Name, cfg.ID))
		entry.ConfigID = cfg.ID
		entry.InstanceName = cfg.InstanceName
		out = append(out, entry)
		ids = append(ids, entry.ID)
	}

	if skill, ok := connectors.AsPersonalized(c); ok && len(out) > 0 {
		prompt := skill.SystemPrompt(connectors.PromptContext{
			ConfigID:     cfg.ID,
			InstanceName: cfg.InstanceName,
			ToolIDs:      ids,
		})
		for i := range out {
			out[i].SystemPrompt = prompt
		}
	}
	return out
}

func newCatalogEntry(c connectors.Connector, tool connectors.ToolDefinition, id string) CatalogEntry {
	return CatalogEntry{
		ID:              id,
		Name:            tool.Name,
		Description:     tool.Description,
		Parameters:      tool.Parameters,
		IntegrationType: c.Type(),
		Definition:      tool,
	}
}

func matchesUserType(types []string, integrationType string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == integrationType {
			return true
		}
	}
	return false
}

func matchesSystemType(types []string, integrationType string) bool {
	if len(types) == 0 {
		return true
	}
	short := strings.TrimPrefix(integrationType, systemToolTag+".")
	for _, t := range types {
		if t == integrationType || t == systemToolTag || t == short {
			return true
		}
	}
	return false
}
