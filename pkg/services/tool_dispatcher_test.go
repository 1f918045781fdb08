package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/toolid"
)

const dispatchOrgID int64 = 1

type dispatchFixture struct {
	dispatcher ToolDispatcher
	repo       *mockIntegrationConfigRepository
	broker     CredentialBroker
	recorder   *recordingAuditService
	security   *observer.ObservedLogs
	jira       *fakeConnector
	hubspot    *fakeConnector
	share      *fakeConnector
	principal  *models.AccessPrincipal
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	jira := newFakeConnector("jira", "jira_search", "jira_get_issue")
	jira.ToolDefs[1].Parameters = []connectors.ToolParameter{
		{Name: "issue_key", Type: connectors.ParamString, Required: true, Description: "Issue key"},
	}
	hubspot := newFakeConnector("hubspot", "hubspot_search_contacts")
	share := newFakeSystemConnector("system.share_file", "share_file")

	registry, err := connectors.NewRegistry(jira, hubspot, share)
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	repo := newMockIntegrationConfigRepository()
	recorder := &recordingAuditService{}
	broker := NewCredentialBroker(newTestEncryptor(t), zap.NewNop())
	status := NewConnectionStatusService(repo, recorder, zap.NewNop())

	f := &dispatchFixture{
		repo:     repo,
		broker:   broker,
		recorder: recorder,
		security: logs,
		jira:     jira,
		hubspot:  hubspot,
		share:    share,
		principal: &models.AccessPrincipal{
			UserID:           uuid.New(),
			OrganisationID:   dispatchOrgID,
			OrganisationUUID: uuid.New(),
		},
	}
	f.dispatcher = NewToolDispatcher(registry, repo, broker, status, recorder,
		audit.NewSecurityAuditor(zap.New(core)), ToolDispatcherConfig{AuditMaxResponseChars: 40}, zap.NewNop())
	return f
}

// addConfig stores a configuration with encrypted credentials.
func (f *dispatchFixture) addConfig(t *testing.T, cfg *models.IntegrationConfiguration, creds connectors.Credentials) *models.IntegrationConfiguration {
	t.Helper()
	if cfg.OrganisationID == 0 {
		cfg.OrganisationID = dispatchOrgID
	}
	if creds != nil {
		enc, err := f.broker.StoreCredentials(cfg, creds)
		require.NoError(t, err)
		cfg.EncryptedCredentials = &enc
	}
	f.repo.configs[cfg.ID] = cfg
	return cfg
}

func (f *dispatchFixture) execute(req *ExecuteRequest) (*ExecuteResult, *DispatchError) {
	res, err := f.dispatcher.Execute(context.Background(), f.principal, req)
	if err != nil {
		derr, ok := AsDispatchError(err)
		if !ok {
			panic("dispatcher returned a non-dispatch error: " + err.Error())
		}
		return nil, derr
	}
	return res, nil
}

func jiraCreds() connectors.Credentials {
	return connectors.Credentials{"url": "https://acme.atlassian.net", "api_token": "tok"}
}

func TestDispatcher_ExecuteSuccess(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 12, IntegrationType: "jira", InstanceName: "prod", Active: true}, jiraCreds())

	res, derr := f.execute(&ExecuteRequest{
		ToolID:         "jira_search_12",
		Parameters:     map[string]any{"query": "bug", "organisationId": int64(999)},
		ExecutionID:    "run-1",
		WorkflowUserID: "wf-1",
	})
	require.Nil(t, derr)
	assert.Equal(t, map[string]any{"tool": "jira_search"}, res.Result)
	assert.Equal(t, "jira_search_12", res.ToolID)
	assert.Equal(t, int64(12), res.ConfigID)
	assert.Equal(t, "jira", res.IntegrationType)

	call, ok := f.jira.lastCall()
	require.True(t, ok)
	assert.Equal(t, "jira_search", call.tool)
	assert.Equal(t, "tok", call.creds.Get("api_token"))
	assert.Equal(t, dispatchOrgID, call.params[connectors.ParamOrganisationID], "injected context overrides caller values")
	assert.Equal(t, f.principal.OrganisationUUID.String(), call.params[connectors.ParamOrganisationUUID])
	assert.Equal(t, "wf-1", call.params[connectors.ParamWorkflowUserID])
	assert.Equal(t, "bug", call.params["query"])

	assert.Equal(t, []int64{12}, f.repo.touched)

	entry := f.recorder.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditActionToolExecutionCompleted, entry.Action)
	require.NotNil(t, entry.ExecutionID)
	assert.Equal(t, "run-1", *entry.ExecutionID)
	assert.Equal(t, f.principal.UserID, *entry.UserID)
	assert.Equal(t, int64(12), entry.Payload["config_id"])
}

func TestDispatcher_StructuredReference(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 3, IntegrationType: "jira", Active: true}, jiraCreds())

	res, derr := f.execute(&ExecuteRequest{
		ToolID: "ignored_99",
		Tool:   &toolid.Ref{Name: "jira_search", ConfigID: 3},
	})
	require.Nil(t, derr)
	assert.Equal(t, "jira_search_3", res.ToolID)
}

func TestDispatcher_SystemTool(t *testing.T) {
	f := newDispatchFixture(t)

	res, derr := f.execute(&ExecuteRequest{ToolID: "share_file"})
	require.Nil(t, derr)
	assert.Zero(t, res.ConfigID)

	call, _ := f.share.lastCall()
	assert.Nil(t, call.creds)
	assert.Empty(t, f.repo.touched)
}

func TestDispatcher_SystemToolGate(t *testing.T) {
	t.Run("inactive", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.addConfig(t, &models.IntegrationConfiguration{ID: 1, IntegrationType: "system.share_file",
			InstanceName: models.DefaultInstanceName, Active: false}, nil)

		_, derr := f.execute(&ExecuteRequest{ToolID: "share_file"})
		require.NotNil(t, derr)
		assert.Equal(t, http.StatusForbidden, derr.Status)
		assert.Equal(t, "Integration inactive", derr.Message)
	})

	t.Run("disabled tool", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.addConfig(t, &models.IntegrationConfiguration{ID: 1, IntegrationType: "system.share_file",
			InstanceName: models.DefaultInstanceName, Active: true, DisabledTools: []string{"share_file"}}, nil)

		_, derr := f.execute(&ExecuteRequest{ToolID: "share_file"})
		require.NotNil(t, derr)
		assert.Equal(t, "Tool disabled", derr.Message)
	})

	t.Run("active gate is touched", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.addConfig(t, &models.IntegrationConfiguration{ID: 1, IntegrationType: "system.share_file",
			InstanceName: models.DefaultInstanceName, Active: true}, nil)

		_, derr := f.execute(&ExecuteRequest{ToolID: "share_file"})
		require.Nil(t, derr)
		assert.Equal(t, []int64{1}, f.repo.touched)
	})
}

func TestDispatcher_ResolutionErrors(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 5, IntegrationType: "jira", Active: true}, jiraCreds())

	tests := []struct {
		name    string
		req     *ExecuteRequest
		kind    DispatchErrorKind
		status  int
		message string
	}{
		{"missing id", &ExecuteRequest{}, DispatchInvalidRequest, http.StatusBadRequest, "tool_id is required"},
		{"unknown tool", &ExecuteRequest{ToolID: "nope_5"}, DispatchToolNotFound, http.StatusNotFound, "Tool not found"},
		{"unknown structured tool", &ExecuteRequest{Tool: &toolid.Ref{Name: "nope", ConfigID: 5}}, DispatchToolNotFound, http.StatusNotFound, "Tool not found"},
		{"missing config id", &ExecuteRequest{ToolID: "jira_search"}, DispatchConfiguration, http.StatusBadRequest, "Configuration id required"},
		{"unknown config", &ExecuteRequest{ToolID: "jira_search_404"}, DispatchConfiguration, http.StatusForbidden, "Configuration not found"},
		{"bad filter", &ExecuteRequest{ToolID: "jira_search_5", ResultFilter: ".["}, DispatchInvalidRequest, http.StatusBadRequest, "invalid result_filter"},
		{"missing parameter", &ExecuteRequest{ToolID: "jira_get_issue_5"}, DispatchInvalidParameters, http.StatusBadRequest, "issue_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, derr := f.execute(tt.req)
			require.NotNil(t, derr)
			assert.Equal(t, tt.kind, derr.Kind)
			assert.Equal(t, tt.status, derr.Status)
			assert.Contains(t, derr.Message, tt.message)
			assert.NotEmpty(t, derr.Hint)
			assert.Equal(t, models.AuditActionToolExecutionFailed, f.recorder.last().Action)
		})
	}
	_, called := f.jira.lastCall()
	assert.False(t, called, "no rejected request may reach the connector")
}

func TestDispatcher_ConfigurationChecks(t *testing.T) {
	reason := "401 Unauthorized"
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 1, IntegrationType: "hubspot", Active: true}, jiraCreds())
	f.addConfig(t, &models.IntegrationConfiguration{ID: 2, IntegrationType: "jira", Active: true, WorkflowUserID: ptr("wf-bob")}, jiraCreds())
	f.addConfig(t, &models.IntegrationConfiguration{ID: 3, IntegrationType: "jira", Active: false, DisconnectReason: &reason}, jiraCreds())
	f.addConfig(t, &models.IntegrationConfiguration{ID: 4, IntegrationType: "jira", Active: true, DisabledTools: []string{"jira_search"}}, jiraCreds())
	f.addConfig(t, &models.IntegrationConfiguration{ID: 5, IntegrationType: "jira", Active: true}, nil)
	garbage := "not-ciphertext"
	f.addConfig(t, &models.IntegrationConfiguration{ID: 6, IntegrationType: "jira", Active: true, EncryptedCredentials: &garbage}, nil)

	tests := []struct {
		name    string
		req     *ExecuteRequest
		kind    DispatchErrorKind
		status  int
		message string
	}{
		{"type mismatch", &ExecuteRequest{ToolID: "jira_search_1"}, DispatchConfiguration, http.StatusForbidden, "does not belong"},
		{"other workflow user", &ExecuteRequest{ToolID: "jira_search_2", WorkflowUserID: "wf-alice"}, DispatchConfiguration, http.StatusForbidden, "another workflow user"},
		{"inactive", &ExecuteRequest{ToolID: "jira_search_3"}, DispatchConfiguration, http.StatusForbidden, "Integration inactive"},
		{"tool disabled", &ExecuteRequest{ToolID: "jira_search_4"}, DispatchConfiguration, http.StatusForbidden, "Tool disabled"},
		{"no credentials", &ExecuteRequest{ToolID: "jira_search_5"}, DispatchCredentialsUnavailable, http.StatusBadRequest, "Credentials not available"},
		{"undecryptable", &ExecuteRequest{ToolID: "jira_search_6"}, DispatchCredentialsUnavailable, http.StatusBadRequest, "could not be decrypted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, derr := f.execute(tt.req)
			require.NotNil(t, derr)
			assert.Equal(t, tt.kind, derr.Kind)
			assert.Equal(t, tt.status, derr.Status)
			assert.Contains(t, derr.Message, tt.message)
		})
	}

	t.Run("bound configuration without caller workflow user", func(t *testing.T) {
		_, derr := f.execute(&ExecuteRequest{ToolID: "jira_search_2"})
		assert.Nil(t, derr)
	})

	t.Run("other tools on a configuration with a disabled tool still run", func(t *testing.T) {
		res, derr := f.execute(&ExecuteRequest{
			ToolID:     "jira_get_issue_4",
			Parameters: map[string]any{"issue_key": "PROJ-1"},
		})
		require.Nil(t, derr)
		assert.Equal(t, map[string]any{"tool": "jira_get_issue"}, res.Result)
		assert.Equal(t, int64(4), res.ConfigID)

		call, ok := f.jira.lastCall()
		require.True(t, ok)
		assert.Equal(t, "jira_get_issue", call.tool)
		assert.Equal(t, models.AuditActionToolExecutionCompleted, f.recorder.last().Action)
	})
}

func TestDispatcher_CrossTenantConfiguration(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 77, OrganisationID: 2, IntegrationType: "jira", Active: true}, jiraCreds())

	_, derr := f.execute(&ExecuteRequest{ToolID: "jira_search_77"})
	require.NotNil(t, derr)
	assert.Equal(t, http.StatusForbidden, derr.Status)
	assert.Equal(t, "Configuration not found", derr.Message)

	logged := f.security.FilterMessageSnippet("Cross-tenant").All()
	assert.Len(t, logged, 1)

	_, called := f.jira.lastCall()
	assert.False(t, called)
}

func TestDispatcher_CredentialFailureDisablesIntegration(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 12, IntegrationType: "jira", Active: true}, jiraCreds())
	f.jira.execute = func(string, map[string]any, connectors.Credentials) (*connectors.Result, error) {
		return nil, connectors.NewHTTPError(http.StatusUnauthorized, "api_token=abcdefghijklmnopqrstuvwxyz rejected")
	}

	_, derr := f.execute(&ExecuteRequest{ToolID: "jira_search_12"})
	require.NotNil(t, derr)
	assert.Equal(t, DispatchConnectorExecution, derr.Kind)
	assert.Equal(t, http.StatusBadGateway, derr.Status)
	assert.Equal(t, connectors.KindClient, derr.ConnectorKind)
	assert.NotContains(t, derr.Message, "abcdefghijklmnopqrstuvwxyz")
	assert.Contains(t, derr.Hint, "disabled")
	assert.Equal(t, "jira_search", derr.ToolName)
	assert.Equal(t, "jira", derr.IntegrationType)

	stored := f.repo.stored(12)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.DisconnectReason)
	assert.NotContains(t, *stored.DisconnectReason, "abcdefghijklmnopqrstuvwxyz")

	assert.Equal(t, []string{
		models.AuditActionIntegrationDisconnected,
		models.AuditActionToolExecutionFailed,
	}, f.recorder.actions())

	_, derr = f.execute(&ExecuteRequest{ToolID: "jira_search_12"})
	require.NotNil(t, derr)
	assert.Equal(t, "Integration inactive", derr.Message)
}

func TestDispatcher_NonCredentialFailureKeepsIntegration(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 12, IntegrationType: "jira", Active: true}, jiraCreds())
	f.jira.execute = func(string, map[string]any, connectors.Credentials) (*connectors.Result, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	_, derr := f.execute(&ExecuteRequest{ToolID: "jira_search_12"})
	require.NotNil(t, derr)
	assert.Equal(t, connectors.KindTransport, derr.ConnectorKind)
	assert.Equal(t, http.StatusBadGateway, derr.Status)
	assert.True(t, f.repo.stored(12).Active)
	assert.Zero(t, f.repo.disconnectCalls)
}

func TestDispatcher_PersistsRefreshedCredentials(t *testing.T) {
	refreshed := connectors.Credentials{"access_token": "new", "refresh_token": "r2"}

	t.Run("on success", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.addConfig(t, &models.IntegrationConfiguration{ID: 1, IntegrationType: "hubspot", Active: true},
			connectors.Credentials{"access_token": "old", "refresh_token": "r1"})
		f.hubspot.execute = func(string, map[string]any, connectors.Credentials) (*connectors.Result, error) {
			return &connectors.Result{Data: []any{}, UpdatedCredentials: refreshed}, nil
		}

		_, derr := f.execute(&ExecuteRequest{ToolID: "hubspot_search_contacts_1"})
		require.Nil(t, derr)

		creds, err := f.broker.LoadCredentials(context.Background(), f.repo.stored(1))
		require.NoError(t, err)
		assert.Equal(t, "new", creds.Get("access_token"))
	})

	t.Run("on failure after refresh", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.addConfig(t, &models.IntegrationConfiguration{ID: 1, IntegrationType: "hubspot", Active: true},
			connectors.Credentials{"access_token": "old", "refresh_token": "r1"})
		f.hubspot.execute = func(string, map[string]any, connectors.Credentials) (*connectors.Result, error) {
			return &connectors.Result{UpdatedCredentials: refreshed}, connectors.NewHTTPError(http.StatusNotFound, "")
		}

		_, derr := f.execute(&ExecuteRequest{ToolID: "hubspot_search_contacts_1"})
		require.NotNil(t, derr)
		assert.Contains(t, f.repo.updatedCreds, int64(1))
		assert.True(t, f.repo.stored(1).Active)
	})
}

func TestDispatcher_ResultFilterAndTruncatedAudit(t *testing.T) {
	f := newDispatchFixture(t)
	f.addConfig(t, &models.IntegrationConfiguration{ID: 12, IntegrationType: "jira", Active: true}, jiraCreds())
	f.jira.execute = func(string, map[string]any, connectors.Credentials) (*connectors.Result, error) {
		return &connectors.Result{Data: map[string]any{
			"issues": []any{map[string]any{"key": "OPS-1"}, map[string]any{"key": "OPS-2"}},
			"blob":   strings.Repeat("x", 200),
		}}, nil
	}

	res, derr := f.execute(&ExecuteRequest{
		ToolID:       "jira_search_12",
		Parameters:   map[string]any{"query": "x", "api_token": "leak"},
		ResultFilter: "[.issues[].key]",
	})
	require.Nil(t, derr)
	assert.Equal(t, []any{"OPS-1", "OPS-2"}, res.Result)

	entry := f.recorder.last()
	response, ok := entry.Payload["response"].(string)
	require.True(t, ok)
	assert.LessOrEqual(t, len(response), 43)
	assert.True(t, strings.HasSuffix(response, "..."))

	params := entry.Payload["parameters"].(map[string]any)
	assert.NotEqual(t, "leak", params["api_token"])
}

func TestDispatcher_LegacyIDEndingInDigits(t *testing.T) {
	jira := newFakeConnector("jira", "jira_search")
	odd := newFakeSystemConnector("system.odd", "report_2024")
	registry, err := connectors.NewRegistry(jira, odd)
	require.NoError(t, err)

	repo := newMockIntegrationConfigRepository()
	recorder := &recordingAuditService{}
	broker := NewCredentialBroker(newTestEncryptor(t), zap.NewNop())
	d := NewToolDispatcher(registry, repo, broker, NewConnectionStatusService(repo, recorder, zap.NewNop()),
		recorder, nil, ToolDispatcherConfig{}, zap.NewNop())

	res, err := d.Execute(context.Background(), &models.AccessPrincipal{OrganisationID: 1}, &ExecuteRequest{ToolID: "report_2024"})
	require.NoError(t, err)
	assert.Equal(t, "report_2024", res.ToolName)
}
