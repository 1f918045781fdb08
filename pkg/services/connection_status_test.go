package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func TestConnectionStatus_IsCredentialFailure(t *testing.T) {
	svc := NewConnectionStatusService(newMockIntegrationConfigRepository(), &recordingAuditService{}, zap.NewNop())

	tests := []struct {
		name            string
		err             error
		integrationType string
		want            bool
	}{
		{"nil", nil, "jira", false},
		{"401 status", connectors.NewHTTPError(http.StatusUnauthorized, ""), "jira", true},
		{"403 status", connectors.NewHTTPError(http.StatusForbidden, "no permission"), "gitlab", true},
		{"sap csrf 403", connectors.NewHTTPError(http.StatusForbidden, "CSRF token validation failed"), "sap_s4", false},
		{"sap other 403", connectors.NewHTTPError(http.StatusForbidden, "not authorised"), "sap_s4", true},
		{"csrf on other connector", connectors.NewHTTPError(http.StatusForbidden, "csrf"), "jira", true},
		{"hubspot invalid_grant 400", connectors.NewHTTPError(http.StatusBadRequest, "invalid_grant"), "hubspot", true},
		{"wrike expired 400", connectors.NewHTTPError(http.StatusBadRequest, "refresh token expired"), "wrike", true},
		{"jira 400 is input error", connectors.NewHTTPError(http.StatusBadRequest, "field summary is required"), "jira", false},
		{"404", connectors.NewHTTPError(http.StatusNotFound, ""), "jira", false},
		{"500", connectors.NewHTTPError(http.StatusInternalServerError, ""), "jira", false},
		{"message signature", errors.New("authentication failed for user"), "projektron", true},
		{"invalid token text", fmt.Errorf("call failed: Invalid Token"), "trello", true},
		{"timeout", context.DeadlineExceeded, "jira", false},
		{"404 detail mentions invalid token", connectors.NewHTTPError(http.StatusNotFound, "page about invalid token handling"), "confluence", false},
		{"500 detail mentions authentication failed", connectors.NewHTTPError(http.StatusInternalServerError, "authentication failed upstream"), "gitlab", false},
		{"issue key in untyped error", errors.New("issue PROJ-401 not found"), "jira", false},
		{"validation error", connectors.InvalidParam("token", "invalid token format"), "jira", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.IsCredentialFailure(tt.err, tt.integrationType))
		})
	}
}

func TestConnectionStatus_TransientOAuthRefreshKeepsIntegration(t *testing.T) {
	svc := NewConnectionStatusService(newMockIntegrationConfigRepository(), &recordingAuditService{}, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	cfg := &oauth2.Config{ClientID: "id", Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}
	creds := connectors.Credentials{
		connectors.CredAccessToken:  "stale",
		connectors.CredRefreshToken: "refresh",
		connectors.CredExpiresAt:    time.Now().Add(-time.Minute).UTC().Format(time.RFC3339),
	}

	_, _, err := connectors.RefreshOAuthToken(context.Background(), cfg, srv.Client(), creds)
	require.Error(t, err)
	for _, integrationType := range []string{"hubspot", "sharepoint", "wrike"} {
		assert.False(t, svc.IsCredentialFailure(err, integrationType), integrationType)
	}
}

func TestConnectionStatus_MarkDisconnected(t *testing.T) {
	repo := newMockIntegrationConfigRepository(&models.IntegrationConfiguration{
		ID: 9, OrganisationID: 3, IntegrationType: "jira", InstanceName: "prod", Active: true,
	})
	recorder := &recordingAuditService{}
	svc := NewConnectionStatusService(repo, recorder, zap.NewNop()).(*connectionStatusService)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	cfg, err := repo.GetByID(context.Background(), 9)
	require.NoError(t, err)

	changed, err := svc.MarkDisconnected(context.Background(), cfg, "401 Unauthorized")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, cfg.Active)
	require.NotNil(t, cfg.DisconnectedAt)
	assert.Equal(t, fixed, *cfg.DisconnectedAt)
	assert.False(t, repo.stored(9).Active)

	entry := recorder.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditActionIntegrationDisconnected, entry.Action)
	assert.Equal(t, int64(3), entry.OrganisationID)
	assert.Equal(t, "401 Unauthorized", entry.Payload["reason"])

	// A second failure on the same configuration changes nothing and is not audited again.
	changed, err = svc.MarkDisconnected(context.Background(), cfg, "401 Unauthorized")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, recorder.actions(), 1)
}

func TestConnectionStatus_MarkDisconnectedRepositoryError(t *testing.T) {
	repo := newMockIntegrationConfigRepository()
	svc := NewConnectionStatusService(repo, &recordingAuditService{}, zap.NewNop())

	_, err := svc.MarkDisconnected(context.Background(), &models.IntegrationConfiguration{ID: 404}, "x")
	assert.Error(t, err)
}
