package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type mockToolProvider struct {
	entries []services.CatalogEntry
	err     error
	orgID   int64
	filter  services.CatalogFilter
}

func (m *mockToolProvider) ListTools(_ context.Context, organisationID int64, filter services.CatalogFilter) ([]services.CatalogEntry, error) {
	m.orgID = organisationID
	m.filter = filter
	return m.entries, m.err
}

type mockToolDispatcher struct {
	result    *services.ExecuteResult
	err       error
	principal *models.AccessPrincipal
	req       *services.ExecuteRequest
}

func (m *mockToolDispatcher) Execute(_ context.Context, principal *models.AccessPrincipal, req *services.ExecuteRequest) (*services.ExecuteResult, error) {
	m.principal = principal
	m.req = req
	return m.result, m.err
}

type mockIntegrationConfigService struct {
	connectors []services.ConnectorInfo
	configs    []*models.IntegrationConfiguration
	config     *models.IntegrationConfiguration
	testResult *services.ConnectionTestResult
	err        error

	lastOrgID   int64
	lastID      int64
	lastOwner   uuid.UUID
	lastCreate  *services.CreateIntegrationRequest
	lastUpdate  *services.UpdateIntegrationRequest
	lastCreds   map[string]string
	lastTool    string
	lastEnabled *bool
	lastActive  *bool
	deleted     bool
}

func (m *mockIntegrationConfigService) ListConnectors() []services.ConnectorInfo { return m.connectors }

func (m *mockIntegrationConfigService) List(_ context.Context, organisationID int64) ([]*models.IntegrationConfiguration, error) {
	m.lastOrgID = organisationID
	return m.configs, m.err
}

func (m *mockIntegrationConfigService) Get(_ context.Context, organisationID, id int64) (*models.IntegrationConfiguration, error) {
	m.lastOrgID, m.lastID = organisationID, id
	return m.config, m.err
}

func (m *mockIntegrationConfigService) Create(_ context.Context, organisationID int64, ownerUserID uuid.UUID, req *services.CreateIntegrationRequest) (*models.IntegrationConfiguration, error) {
	m.lastOrgID, m.lastOwner, m.lastCreate = organisationID, ownerUserID, req
	return m.config, m.err
}

func (m *mockIntegrationConfigService) Update(_ context.Context, organisationID, id int64, req *services.UpdateIntegrationRequest) (*models.IntegrationConfiguration, error) {
	m.lastOrgID, m.lastID, m.lastUpdate = organisationID, id, req
	return m.config, m.err
}

func (m *mockIntegrationConfigService) Delete(_ context.Context, organisationID, id int64) error {
	m.lastOrgID, m.lastID = organisationID, id
	m.deleted = m.err == nil
	return m.err
}

func (m *mockIntegrationConfigService) RotateCredentials(_ context.Context, organisationID, id int64, creds map[string]string) (*models.IntegrationConfiguration, error) {
	m.lastOrgID, m.lastID, m.lastCreds = organisationID, id, creds
	return m.config, m.err
}

func (m *mockIntegrationConfigService) DisableTool(_ context.Context, organisationID, id int64, toolName string) (*models.IntegrationConfiguration, error) {
	enabled := false
	m.lastOrgID, m.lastID, m.lastTool, m.lastEnabled = organisationID, id, toolName, &enabled
	return m.config, m.err
}

func (m *mockIntegrationConfigService) EnableTool(_ context.Context, organisationID, id int64, toolName string) (*models.IntegrationConfiguration, error) {
	enabled := true
	m.lastOrgID, m.lastID, m.lastTool, m.lastEnabled = organisationID, id, toolName, &enabled
	return m.config, m.err
}

func (m *mockIntegrationConfigService) SetActive(_ context.Context, organisationID, id int64, active bool) (*models.IntegrationConfiguration, error) {
	m.lastOrgID, m.lastID, m.lastActive = organisationID, id, &active
	return m.config, m.err
}

func (m *mockIntegrationConfigService) TestConnection(_ context.Context, organisationID, id int64, creds map[string]string) (*services.ConnectionTestResult, error) {
	m.lastOrgID, m.lastID, m.lastCreds = organisationID, id, creds
	return m.testResult, m.err
}

func (m *mockIntegrationConfigService) EnsureSystemInstance(_ context.Context, organisationID int64, integrationType string) (*models.IntegrationConfiguration, error) {
	m.lastOrgID = organisationID
	return m.config, m.err
}

type mockAccessTokenService struct {
	token        string
	err          error
	regenerated  bool
	lastOrgID    int64
	lastUserID   uuid.UUID
	resolveCalls int
}

func (m *mockAccessTokenService) ResolveAccessToken(context.Context, string) (*models.AccessPrincipal, error) {
	m.resolveCalls++
	return nil, auth.ErrInvalidOrExpiredToken
}

func (m *mockAccessTokenService) Get(_ context.Context, organisationID int64, userID uuid.UUID) (string, error) {
	m.lastOrgID, m.lastUserID = organisationID, userID
	return m.token, m.err
}

func (m *mockAccessTokenService) Regenerate(_ context.Context, organisationID int64, userID uuid.UUID) (string, error) {
	m.lastOrgID, m.lastUserID = organisationID, userID
	m.regenerated = true
	return m.token, m.err
}

type mockAuditService struct {
	entries       []*models.AuditLogEntry
	err           error
	lastLimit     int
	lastExecution string
}

func (m *mockAuditService) Record(context.Context, *models.AuditLogEntry) {}

func (m *mockAuditService) ListByOrganisation(_ context.Context, _ int64, limit int) ([]*models.AuditLogEntry, error) {
	m.lastLimit = limit
	return m.entries, m.err
}

func (m *mockAuditService) ListByExecution(_ context.Context, _ int64, executionID string) ([]*models.AuditLogEntry, error) {
	m.lastExecution = executionID
	return m.entries, m.err
}

func (m *mockAuditService) Wait(context.Context) error { return nil }

type mockOrganisationService struct {
	id       int64
	err      error
	orgUUID  uuid.UUID
	name     string
	userID   uuid.UUID
	provided bool
}

func (m *mockOrganisationService) Provision(_ context.Context, orgUUID uuid.UUID, name string, userID uuid.UUID) (int64, error) {
	m.orgUUID, m.name, m.userID, m.provided = orgUUID, name, userID, true
	return m.id, m.err
}

type mockSharedFileRepository struct {
	files map[string]*models.SharedFile
	err   error
}

func (m *mockSharedFileRepository) Create(_ context.Context, file *models.SharedFile) error {
	m.files[file.Token] = file
	return m.err
}

func (m *mockSharedFileRepository) GetByToken(ctx context.Context, token string) (*models.SharedFile, error) {
	if _, ok := database.GetTenantScope(ctx); !ok {
		panic("GetByToken called without a scope")
	}
	if m.err != nil {
		return nil, m.err
	}
	f, ok := m.files[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return f, nil
}

func (m *mockSharedFileRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type mockScopeProvider struct {
	err          error
	cleanupCalls int
}

func (m *mockScopeProvider) WithTenantScope(ctx context.Context, organisationID int64) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return database.SetTenantScope(ctx, &database.TenantScope{OrganisationID: organisationID}), func() { m.cleanupCalls++ }, nil
}

func (m *mockScopeProvider) WithoutTenantScope(ctx context.Context) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return database.SetTenantScope(ctx, &database.TenantScope{}), func() { m.cleanupCalls++ }, nil
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

// ============================================================================
// Request helpers
// ============================================================================

var (
	testPrincipal = &models.AccessPrincipal{UserID: uuid.New(), OrganisationID: 21, OrganisationUUID: uuid.New()}
	testUserID    = uuid.New()
	testOrgUUID   = uuid.New()
)

// asPrincipal simulates the access token middleware.
func asPrincipal(r *http.Request) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), testPrincipal))
}

// asMember simulates the JWT and tenant middleware for organisation orgID.
func asMember(r *http.Request, orgID int64) *http.Request {
	ctx := context.WithValue(r.Context(), auth.ClaimsKey, &auth.Claims{
		OrganisationID: testOrgUUID.String(),
	})
	claims, _ := auth.GetClaims(ctx)
	claims.Subject = testUserID.String()
	ctx = database.SetTenantScope(ctx, &database.TenantScope{OrganisationID: orgID})
	return r.WithContext(ctx)
}

// passthroughTenant stands in for database.WithTenantContext in route tests.
func passthroughTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, asMember(r, 21))
	}
}
