package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// ============================================================================
// Audit
// ============================================================================

type mockAuditRepository struct {
	mu        sync.Mutex
	entries   []*models.AuditLogEntry
	createErr error
}

func (m *mockAuditRepository) Create(_ context.Context, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) ListByOrganisation(_ context.Context, organisationID int64, limit int) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range m.entries {
		if e.OrganisationID == organisationID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockAuditRepository) ListByExecution(_ context.Context, organisationID int64, executionID string) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range m.entries {
		if e.OrganisationID == organisationID && e.ExecutionID != nil && *e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepository) snapshot() []*models.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

type mockSink struct {
	mu        sync.Mutex
	published []*models.AuditLogEntry
	err       error
}

func (m *mockSink) Publish(_ context.Context, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, entry)
	return nil
}

func (m *mockSink) Close() error { return nil }

// recordingAuditService captures entries synchronously for assertions in other services' tests.
type recordingAuditService struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (m *recordingAuditService) Record(_ context.Context, entry *models.AuditLogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *recordingAuditService) ListByOrganisation(context.Context, int64, int) ([]*models.AuditLogEntry, error) {
	return nil, nil
}

func (m *recordingAuditService) ListByExecution(context.Context, int64, string) ([]*models.AuditLogEntry, error) {
	return nil, nil
}

func (m *recordingAuditService) Wait(context.Context) error { return nil }

func (m *recordingAuditService) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

func (m *recordingAuditService) last() *models.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

// ============================================================================
// Tenant scopes
// ============================================================================

type mockScopeProvider struct {
	mu            sync.Mutex
	err           error
	tenantCalls   []int64
	withoutCalls  int
	cleanupCalled int
}

func (m *mockScopeProvider) WithTenantScope(ctx context.Context, organisationID int64) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	m.tenantCalls = append(m.tenantCalls, organisationID)
	return ctx, m.cleanup, nil
}

func (m *mockScopeProvider) WithoutTenantScope(ctx context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	m.withoutCalls++
	return ctx, m.cleanup, nil
}

func (m *mockScopeProvider) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalled++
}

// ============================================================================
// Integration configurations
// ============================================================================

type mockIntegrationConfigRepository struct {
	mu      sync.Mutex
	configs map[int64]*models.IntegrationConfiguration
	nextID  int64

	getErr    error
	listErr   error
	updateErr error

	touched         []int64
	updatedCreds    map[int64]string
	disconnectCalls int
}

func newMockIntegrationConfigRepository(configs ...*models.IntegrationConfiguration) *mockIntegrationConfigRepository {
	m := &mockIntegrationConfigRepository{
		configs:      make(map[int64]*models.IntegrationConfiguration),
		nextID:       100,
		updatedCreds: make(map[int64]string),
	}
	for _, c := range configs {
		m.configs[c.ID] = c
	}
	return m
}

func (m *mockIntegrationConfigRepository) Upsert(_ context.Context, cfg *models.IntegrationConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.InstanceName == "" {
		cfg.InstanceName = models.DefaultInstanceName
	}
	var existing *models.IntegrationConfiguration
	for _, c := range m.configs {
		if c.OrganisationID == cfg.OrganisationID &&
			c.IntegrationType == cfg.IntegrationType &&
			c.InstanceName == cfg.InstanceName {
			existing = c
			break
		}
	}
	switch {
	case existing == nil:
		m.nextID++
		cfg.ID = m.nextID
		cfg.Active = true
		cfg.DisconnectReason = nil
		cfg.DisconnectedAt = nil
	case cfg.EncryptedCredentials != nil:
		cfg.ID = existing.ID
		cfg.Active = true
		cfg.DisconnectReason = nil
		cfg.DisconnectedAt = nil
	default:
		cfg.ID = existing.ID
		cfg.EncryptedCredentials = existing.EncryptedCredentials
		cfg.Active = existing.Active
		cfg.DisconnectReason = existing.DisconnectReason
		cfg.DisconnectedAt = existing.DisconnectedAt
	}
	if cfg.DisabledTools == nil {
		if existing != nil {
			cfg.DisabledTools = existing.DisabledTools
		} else {
			cfg.DisabledTools = []string{}
		}
	}
	saved := *cfg
	m.configs[cfg.ID] = &saved
	return nil
}

func (m *mockIntegrationConfigRepository) GetByID(_ context.Context, id int64) (*models.IntegrationConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.configs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockIntegrationConfigRepository) GetByInstance(_ context.Context, organisationID int64, integrationType, instanceName string) (*models.IntegrationConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, c := range m.configs {
		if c.OrganisationID == organisationID && c.IntegrationType == integrationType && c.InstanceName == instanceName {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockIntegrationConfigRepository) ListByOrganisation(_ context.Context, organisationID int64) ([]*models.IntegrationConfiguration, error) {
	return m.list(func(c *models.IntegrationConfiguration) bool { return c.OrganisationID == organisationID })
}

func (m *mockIntegrationConfigRepository) ListActiveByType(_ context.Context, organisationID int64, integrationType string) ([]*models.IntegrationConfiguration, error) {
	return m.list(func(c *models.IntegrationConfiguration) bool {
		return c.OrganisationID == organisationID && c.IntegrationType == integrationType && c.Active
	})
}

func (m *mockIntegrationConfigRepository) list(keep func(*models.IntegrationConfiguration) bool) ([]*models.IntegrationConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.IntegrationConfiguration
	for _, c := range m.configs {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.IntegrationConfiguration) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *mockIntegrationConfigRepository) Update(_ context.Context, cfg *models.IntegrationConfiguration) error {
	return m.mutate(cfg.ID, func(c *models.IntegrationConfiguration) {
		c.InstanceName = cfg.InstanceName
		c.WorkflowUserID = cfg.WorkflowUserID
		c.OwnerUserID = cfg.OwnerUserID
		c.DisabledTools = cfg.DisabledTools
	})
}

func (m *mockIntegrationConfigRepository) UpdateCredentials(_ context.Context, id int64, encrypted string) error {
	return m.mutate(id, func(c *models.IntegrationConfiguration) {
		c.EncryptedCredentials = &encrypted
		m.updatedCreds[id] = encrypted
	})
}

func (m *mockIntegrationConfigRepository) RotateCredentials(_ context.Context, id int64, encrypted string) error {
	return m.mutate(id, func(c *models.IntegrationConfiguration) {
		c.EncryptedCredentials = &encrypted
		c.Active = true
		c.DisconnectReason = nil
		c.DisconnectedAt = nil
	})
}

func (m *mockIntegrationConfigRepository) SetDisabledTools(_ context.Context, id int64, tools []string) error {
	return m.mutate(id, func(c *models.IntegrationConfiguration) { c.DisabledTools = tools })
}

func (m *mockIntegrationConfigRepository) SetActive(_ context.Context, id int64, active bool) error {
	return m.mutate(id, func(c *models.IntegrationConfiguration) {
		c.Active = active
		if active {
			c.DisconnectReason = nil
			c.DisconnectedAt = nil
		}
	})
}

func (m *mockIntegrationConfigRepository) TouchLastAccessed(_ context.Context, id int64, at time.Time) error {
	return m.mutate(id, func(c *models.IntegrationConfiguration) {
		c.LastAccessedAt = &at
		m.touched = append(m.touched, id)
	})
}

func (m *mockIntegrationConfigRepository) MarkDisconnected(_ context.Context, id int64, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	c, ok := m.configs[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	if !c.Active {
		return false, nil
	}
	c.Active = false
	c.DisconnectReason = &reason
	c.DisconnectedAt = &at
	return true, nil
}

func (m *mockIntegrationConfigRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.configs, id)
	return nil
}

func (m *mockIntegrationConfigRepository) mutate(id int64, fn func(*models.IntegrationConfiguration)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	c, ok := m.configs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	fn(c)
	return nil
}

func (m *mockIntegrationConfigRepository) stored(id int64) *models.IntegrationConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[id]
}

// ============================================================================
// Members and organisations
// ============================================================================

type mockMemberRepository struct {
	members    map[uuid.UUID]*models.OrganisationMember
	principals map[string]*models.AccessPrincipal
	ensured    []*models.OrganisationMember
	findCalls  int
	findErr    error
	// afterFind runs once the row has been read, before the caller sees it.
	afterFind func()
}

func newMockMemberRepository() *mockMemberRepository {
	return &mockMemberRepository{
		members:    make(map[uuid.UUID]*models.OrganisationMember),
		principals: make(map[string]*models.AccessPrincipal),
	}
}

func (m *mockMemberRepository) Ensure(_ context.Context, member *models.OrganisationMember) error {
	m.ensured = append(m.ensured, member)
	if _, ok := m.members[member.UserID]; !ok {
		cp := *member
		m.members[member.UserID] = &cp
	}
	return nil
}

func (m *mockMemberRepository) Get(_ context.Context, organisationID int64, userID uuid.UUID) (*models.OrganisationMember, error) {
	mem, ok := m.members[userID]
	if !ok || mem.OrganisationID != organisationID {
		return nil, apperrors.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *mockMemberRepository) ReplaceAccessToken(_ context.Context, organisationID int64, userID uuid.UUID, hash, encrypted string) (string, error) {
	mem, ok := m.members[userID]
	if !ok || mem.OrganisationID != organisationID {
		return "", apperrors.ErrNotFound
	}
	previous := mem.AccessTokenHash
	delete(m.principals, previous)
	mem.AccessTokenHash = hash
	mem.AccessTokenEncrypted = encrypted
	m.principals[hash] = &models.AccessPrincipal{UserID: userID, OrganisationID: organisationID}
	return previous, nil
}

func (m *mockMemberRepository) FindByAccessTokenHash(_ context.Context, hash string) (*models.AccessPrincipal, error) {
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	p, ok := m.principals[hash]
	if m.afterFind != nil {
		m.afterFind()
	}
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

type mockOrganisationRepository struct {
	byUUID    map[uuid.UUID]*models.Organisation
	nextID    int64
	upsertErr error
}

func (m *mockOrganisationRepository) Upsert(_ context.Context, org *models.Organisation) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.byUUID == nil {
		m.byUUID = make(map[uuid.UUID]*models.Organisation)
	}
	if existing, ok := m.byUUID[org.UUID]; ok {
		if org.Name != "" {
			existing.Name = org.Name
		}
		*org = *existing
		return nil
	}
	m.nextID++
	org.ID = m.nextID
	cp := *org
	m.byUUID[org.UUID] = &cp
	return nil
}

func (m *mockOrganisationRepository) GetByUUID(_ context.Context, id uuid.UUID) (*models.Organisation, error) {
	if org, ok := m.byUUID[id]; ok {
		return org, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockOrganisationRepository) GetByID(_ context.Context, id int64) (*models.Organisation, error) {
	for _, org := range m.byUUID {
		if org.ID == id {
			return org, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// ============================================================================
// Principal cache
// ============================================================================

type mockPrincipalCache struct {
	entries   map[string]*models.AccessPrincipal
	current   map[string]string
	rotated   []string
	rotateErr error
}

func newMockPrincipalCache() *mockPrincipalCache {
	return &mockPrincipalCache{
		entries: make(map[string]*models.AccessPrincipal),
		current: make(map[string]string),
	}
}

func memberCacheKey(organisationID int64, userID uuid.UUID) string {
	return fmt.Sprintf("%d:%s", organisationID, userID)
}

// put stores an entry as the member's current token.
func (m *mockPrincipalCache) put(hash string, p *models.AccessPrincipal) {
	m.entries[hash] = p
	m.current[memberCacheKey(p.OrganisationID, p.UserID)] = hash
}

func (m *mockPrincipalCache) Get(_ context.Context, hash string) (*models.AccessPrincipal, bool) {
	p, ok := m.entries[hash]
	if !ok || m.current[memberCacheKey(p.OrganisationID, p.UserID)] != hash {
		return nil, false
	}
	return p, true
}

func (m *mockPrincipalCache) Set(_ context.Context, hash string, p *models.AccessPrincipal) {
	key := memberCacheKey(p.OrganisationID, p.UserID)
	if _, ok := m.current[key]; !ok {
		m.current[key] = hash
	}
	m.entries[hash] = p
}

func (m *mockPrincipalCache) Rotate(_ context.Context, organisationID int64, userID uuid.UUID, oldHash, newHash string) error {
	if m.rotateErr != nil {
		return m.rotateErr
	}
	m.current[memberCacheKey(organisationID, userID)] = newHash
	delete(m.entries, oldHash)
	m.rotated = append(m.rotated, oldHash)
	return nil
}

// ============================================================================
// Connectors
// ============================================================================

type executeCall struct {
	tool   string
	params map[string]any
	creds  connectors.Credentials
}

// fakeConnector is a scriptable connector. execute defaults to echoing the tool name.
type fakeConnector struct {
	connectors.Descriptor
	execute     func(tool string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error)
	validateErr error

	mu    sync.Mutex
	calls []executeCall
}

func newFakeConnector(typeID string, tools ...string) *fakeConnector {
	defs := make([]connectors.ToolDefinition, len(tools))
	for i, name := range tools {
		defs[i] = connectors.ToolDefinition{
			Name:        name,
			Description: "Fake tool " + name,
			Parameters: []connectors.ToolParameter{
				{Name: "query", Type: connectors.ParamString, Description: "Free text"},
			},
		}
	}
	return &fakeConnector{
		Descriptor: connectors.Descriptor{
			TypeID:      typeID,
			DisplayName: typeID,
			ToolDefs:    defs,
			Fields: []connectors.CredentialField{
				{Key: "url", InputType: connectors.InputURL, Label: "URL", Required: true},
				{Key: "api_token", InputType: connectors.InputPassword, Label: "Token", Required: true},
			},
		},
	}
}

func newFakeSystemConnector(typeID string, tools ...string) *fakeConnector {
	c := newFakeConnector(typeID, tools...)
	c.Fields = nil
	return c
}

func (c *fakeConnector) ValidateCredentials(context.Context, connectors.Credentials) error {
	return c.validateErr
}

func (c *fakeConnector) ExecuteTool(_ context.Context, tool string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, executeCall{tool: tool, params: params, creds: creds})
	c.mu.Unlock()
	if c.execute != nil {
		return c.execute(tool, params, creds)
	}
	return &connectors.Result{Data: map[string]any{"tool": tool}}, nil
}

func (c *fakeConnector) lastCall() (executeCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return executeCall{}, false
	}
	return c.calls[len(c.calls)-1], true
}

// personalizedConnector adds a system prompt to fakeConnector.
type personalizedConnector struct {
	*fakeConnector
	prompts []connectors.PromptContext
}

func (c *personalizedConnector) SystemPrompt(pc connectors.PromptContext) string {
	c.prompts = append(c.prompts, pc)
	return "Use " + pc.InstanceName + " for tickets."
}

var errBoom = errors.New("boom")

func ptr[T any](v T) *T {
	return &v
}
