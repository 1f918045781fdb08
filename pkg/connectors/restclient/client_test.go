package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
)

func TestClient_Do_SendsAuthQueryAndBody(t *testing.T) {
	var gotAuth, gotQuery, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	c := New("test", 0)
	var out struct {
		ID string `json:"id"`
	}
	err := c.SendJSON(context.Background(), http.MethodPost, srv.URL+"/items?fixed=1",
		map[string]any{"title": "hello"}, BearerAuth("tok"), &out)
	require.NoError(t, err)

	assert.Equal(t, "42", out.ID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "fixed=1", gotQuery)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "hello", gotBody["title"])

	_, err = c.Do(context.Background(), Request{URL: srv.URL + "/items?fixed=1", Query: url.Values{"q": {"a b"}}})
	require.NoError(t, err)
	assert.Equal(t, "fixed=1&q=a+b", gotQuery)
}

func TestClient_Do_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   connectors.ErrorKind
		wantDetail string
	}{
		{"jira style", http.StatusBadRequest, `{"errorMessages":["Field 'project' is required"]}`, connectors.KindClient, "Field 'project' is required"},
		{"oauth style", http.StatusUnauthorized, `{"error":"invalid_grant","error_description":"refresh token expired"}`, connectors.KindClient, "refresh token expired"},
		{"odata style", http.StatusNotFound, `{"error":{"message":{"value":"Resource not found"}}}`, connectors.KindClient, "Resource not found"},
		{"plain text", http.StatusBadGateway, "upstream down", connectors.KindServer, "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New("test", 0).Do(context.Background(), Request{URL: srv.URL})
			var execErr *connectors.ExecutionError
			require.True(t, errors.As(err, &execErr))
			assert.Equal(t, tt.wantKind, execErr.Kind)
			assert.Equal(t, tt.status, execErr.StatusCode)
			assert.Contains(t, execErr.Message, tt.wantDetail)
		})
	}
}

func TestClient_Do_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New("test", 50*time.Millisecond).Do(context.Background(), Request{URL: srv.URL})
	var execErr *connectors.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, connectors.KindTimeout, execErr.Kind)
}

func TestResponse_JSON_InvalidBody(t *testing.T) {
	var v map[string]any
	err := (&Response{Body: []byte("<html>")}).JSON(&v)
	var execErr *connectors.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, connectors.KindServer, execErr.Kind)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://acme.atlassian.net/rest/api/3/search", JoinURL(" https://acme.atlassian.net/ ", "/rest/api/3/search"))
	assert.Equal(t, "https://gitlab.com/api/v4", JoinURL("https://gitlab.com", "api/v4"))
}
