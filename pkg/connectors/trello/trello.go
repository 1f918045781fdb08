// Package trello connects Trello boards through the Trello REST API.
package trello

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

const (
	// Type is the integration type stored on configurations.
	Type = "trello"

	defaultBaseURL = "https://api.trello.com/1"
)

// Connector implements connectors.Connector for Trello.
type Connector struct {
	connectors.Descriptor
	client  *restclient.Client
	baseURL string
}

// New creates the Trello connector.
func New(client *restclient.Client) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "Trello",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "trello_list_boards",
					Description: "List the open Trello boards of the connected account.",
				},
				{
					Name:        "trello_list_cards",
					Description: "List the open cards on a board or in a list.",
					Parameters: []connectors.ToolParameter{
						{Name: "board_id", Type: connectors.ParamString, Description: "Board ID (either board_id or list_id is required)"},
						{Name: "list_id", Type: connectors.ParamString, Description: "List ID"},
					},
				},
				{
					Name:        "trello_create_card",
					Description: "Create a card in a Trello list.",
					Parameters: []connectors.ToolParameter{
						{Name: "list_id", Type: connectors.ParamString, Required: true, Description: "Target list ID"},
						{Name: "name", Type: connectors.ParamString, Required: true, Description: "Card title"},
						{Name: "description", Type: connectors.ParamString, Description: "Card description"},
						{Name: "due", Type: connectors.ParamString, Description: "Due date (ISO 8601)"},
					},
				},
			},
			Fields: []connectors.CredentialField{
				{Key: "api_key", InputType: connectors.InputText, Label: "API key", Required: true,
					HelpText: "Found on trello.com/power-ups/admin for your Power-Up."},
				{Key: "api_token", InputType: connectors.InputPassword, Label: "API token", Required: true},
			},
		},
		client:  client,
		baseURL: defaultBaseURL,
	}
}

// WithBaseURL points the connector at another API root.
func (c *Connector) WithBaseURL(baseURL string) *Connector {
	c.baseURL = baseURL
	return c
}

// Trello authenticates with key and token query parameters.
func authQuery(creds connectors.Credentials) (url.Values, error) {
	if err := creds.Require("api_key", "api_token"); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("key", creds.Get("api_key"))
	q.Set("token", creds.Get("api_token"))
	return q, nil
}

// ValidateCredentials reads the token owner.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	q, err := authQuery(creds)
	if err != nil {
		return err
	}
	var me map[string]any
	return c.client.GetJSON(ctx, c.baseURL+"/members/me", q, nil, &me)
}

type card struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	Due      string `json:"due"`
	IDList   string `json:"idList"`
	ShortURL string `json:"shortUrl"`
}

// ExecuteTool runs one Trello tool.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}
	q, err := authQuery(creds)
	if err != nil {
		return nil, err
	}

	switch toolName {
	case "trello_list_boards":
		q.Set("filter", "open")
		q.Set("fields", "name,url,desc")
		var boards []map[string]any
		if err := c.client.GetJSON(ctx, c.baseURL+"/members/me/boards", q, nil, &boards); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: map[string]any{"boards": boards}}, nil

	case "trello_list_cards":
		var path string
		switch {
		case connectors.String(params, "list_id") != "":
			path = "/lists/" + url.PathEscape(connectors.String(params, "list_id")) + "/cards"
		case connectors.String(params, "board_id") != "":
			path = "/boards/" + url.PathEscape(connectors.String(params, "board_id")) + "/cards/open"
		default:
			return nil, connectors.InvalidParam("board_id", "board_id or list_id is required")
		}
		var cards []card
		if err := c.client.GetJSON(ctx, c.baseURL+path, q, nil, &cards); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: map[string]any{"cards": cards}}, nil

	default: // trello_create_card
		q.Set("idList", connectors.String(params, "list_id"))
		q.Set("name", connectors.String(params, "name"))
		if desc := connectors.String(params, "description"); desc != "" {
			q.Set("desc", desc)
		}
		if due := connectors.String(params, "due"); due != "" {
			q.Set("due", due)
		}
		resp, err := c.client.Do(ctx, restclient.Request{Method: http.MethodPost, URL: c.baseURL + "/cards", Query: q})
		if err != nil {
			return nil, err
		}
		var created card
		if err := resp.JSON(&created); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: created}, nil
	}
}

var _ connectors.Connector = (*Connector)(nil)
