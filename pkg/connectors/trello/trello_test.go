package trello

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

func TestExecuteTool_ListCardsByList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lists/L1/cards", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "c1", "name": "Ship it"}})
	}))
	defer srv.Close()

	c := New(restclient.New(Type, 0)).WithBaseURL(srv.URL)
	result, err := c.ExecuteTool(context.Background(), "trello_list_cards",
		map[string]any{"list_id": "L1"}, connectors.Credentials{"api_key": "k", "api_token": "tok"})
	require.NoError(t, err)

	cards := result.Data.(map[string]any)["cards"].([]card)
	require.Len(t, cards, 1)
	assert.Equal(t, "Ship it", cards[0].Name)
}

func TestExecuteTool_ListCardsNeedsTarget(t *testing.T) {
	c := New(restclient.New(Type, 0))
	_, err := c.ExecuteTool(context.Background(), "trello_list_cards", map[string]any{},
		connectors.Credentials{"api_key": "k", "api_token": "tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "board_id or list_id")
}

func TestDescriptor_NotPersonalized(t *testing.T) {
	c := New(restclient.New(Type, 0))
	_, ok := connectors.AsPersonalized(c)
	assert.False(t, ok)
	assert.True(t, c.RequiresCredentials())
}
