package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) (*Connector, connectors.Credentials) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := connectors.Credentials{
		"url":       srv.URL + "/",
		"email":     "ops@acme.test",
		"api_token": "token-123",
	}
	return New(restclient.New(Type, 0)), creds
}

func TestExecuteTool_Search(t *testing.T) {
	c, creds := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search", r.URL.Path)
		assert.Equal(t, "project = X", r.URL.Query().Get("jql"))
		assert.Equal(t, "50", r.URL.Query().Get("maxResults"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ops@acme.test", user)
		assert.Equal(t, "token-123", pass)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": 1,
			"issues": []any{
				map[string]any{
					"id":  "10001",
					"key": "X-1",
					"fields": map[string]any{
						"summary": "Broken build",
						"status":  map[string]any{"name": "In Progress"},
					},
				},
			},
		})
	})

	result, err := c.ExecuteTool(context.Background(), "jira_search", map[string]any{"jql": "project = X"}, creds)
	require.NoError(t, err)

	data := result.Data.(map[string]any)
	assert.Equal(t, 1, data["total"])
	issues := data["issues"].([]map[string]any)
	require.Len(t, issues, 1)
	assert.Equal(t, "X-1", issues[0]["key"])
	assert.Equal(t, "In Progress", issues[0]["status"])
	assert.Nil(t, result.UpdatedCredentials)
}

func TestExecuteTool_CreateIssueSendsADF(t *testing.T) {
	c, creds := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		fields := body["fields"].(map[string]any)
		assert.Equal(t, "Task", fields["issuetype"].(map[string]any)["name"])
		assert.Equal(t, "doc", fields["description"].(map[string]any)["type"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "key": "OPS-9", "self": "https://x/OPS-9"})
	})

	result, err := c.ExecuteTool(context.Background(), "jira_create_issue", map[string]any{
		"project_key": "OPS",
		"summary":     "New thing",
		"description": "details",
	}, creds)
	require.NoError(t, err)
	assert.Equal(t, "OPS-9", result.Data.(map[string]any)["key"])
}

func TestExecuteTool_UnauthorizedIsClassified(t *testing.T) {
	c, creds := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"errorMessages": []string{"Client must be authenticated"}})
	})

	_, err := c.ExecuteTool(context.Background(), "jira_get_issue", map[string]any{"issue_key": "OPS-1"}, creds)
	require.Error(t, err)

	var execErr *connectors.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, http.StatusUnauthorized, execErr.StatusCode)
	assert.Contains(t, execErr.Error(), "401 Unauthorized")
}

func TestExecuteTool_Validation(t *testing.T) {
	c := New(restclient.New(Type, 0))

	_, err := c.ExecuteTool(context.Background(), "jira_search", map[string]any{}, connectors.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"jql"`)

	_, err = c.ExecuteTool(context.Background(), "jira_search", map[string]any{"jql": "x"}, connectors.Credentials{"url": "https://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email, api_token")

	_, err = c.ExecuteTool(context.Background(), "jira_delete_everything", nil, nil)
	require.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	c := New(restclient.New(Type, 0))
	assert.Equal(t, "jira", c.Type())
	assert.True(t, c.RequiresCredentials())
	assert.Len(t, c.Tools(), 4)

	skill, ok := connectors.AsPersonalized(c)
	require.True(t, ok)
	prompt := skill.SystemPrompt(connectors.PromptContext{InstanceName: "Team A", ToolIDs: []string{"jira_search_3"}})
	assert.Contains(t, prompt, `"Team A"`)
	assert.Contains(t, prompt, "jira_search_3")
}
