// Package wrike connects Wrike through its REST API v4 with OAuth.
package wrike

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "wrike"

const (
	defaultHost = "www.wrike.com"
	authURL     = "https://login.wrike.com/oauth2/authorize/v4"
	tokenURL    = "https://login.wrike.com/oauth2/token"
)

// Connector implements connectors.Connector for Wrike.
type Connector struct {
	connectors.Descriptor
	client *restclient.Client
	oauth  *oauth2.Config
	scheme string
}

// New creates the Wrike connector for the given OAuth app.
func New(client *restclient.Client, clientID, clientSecret string) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "Wrike",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "wrike_list_tasks",
					Description: "List Wrike tasks, optionally inside one folder or project.",
					Parameters: []connectors.ToolParameter{
						{Name: "folder_id", Type: connectors.ParamString, Description: "Folder or project id"},
						{Name: "status", Type: connectors.ParamString, Enum: []string{"Active", "Completed", "Deferred", "Cancelled"}, Description: "Task status"},
						{Name: "limit", Type: connectors.ParamInteger, Default: 50, Description: "Maximum tasks (1-1000)"},
					},
				},
				{
					Name:        "wrike_create_task",
					Description: "Create a task in a Wrike folder or project.",
					Parameters: []connectors.ToolParameter{
						{Name: "folder_id", Type: connectors.ParamString, Required: true, Description: "Folder or project id"},
						{Name: "title", Type: connectors.ParamString, Required: true, Description: "Task title"},
						{Name: "description", Type: connectors.ParamString, Description: "Task description"},
						{Name: "importance", Type: connectors.ParamString, Default: "Normal", Enum: []string{"High", "Normal", "Low"}, Description: "Importance"},
					},
				},
			},
			Fields: []connectors.CredentialField{connectors.OAuthField("Connect Wrike")},
		},
		client: client,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       []string{"Default", "wsReadWrite"},
		},
		scheme: "https",
	}
}

// apiBase uses the data-center host returned with the account's token.
func (c *Connector) apiBase(creds connectors.Credentials) string {
	host := creds.Get("host")
	if host == "" {
		host = defaultHost
	}
	return c.scheme + "://" + host + "/api/v4"
}

// ValidateCredentials refreshes the token if needed and reads the current contact.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	tok, _, err := connectors.RefreshOAuthToken(ctx, c.oauth, c.client.HTTPClient(), creds)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("me", "true")
	var resp map[string]any
	return c.client.GetJSON(ctx, c.apiBase(creds)+"/contacts", q, restclient.BearerAuth(tok.AccessToken), &resp)
}

// ExecuteTool runs one Wrike tool, refreshing the access token first when it has expired.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}

	tok, updated, err := connectors.RefreshOAuthToken(ctx, c.oauth, c.client.HTTPClient(), creds)
	if err != nil {
		return nil, err
	}
	auth := restclient.BearerAuth(tok.AccessToken)
	base := c.apiBase(creds)

	var data any
	switch toolName {
	case "wrike_list_tasks":
		data, err = c.listTasks(ctx, base, auth, params)
	case "wrike_create_task":
		data, err = c.createTask(ctx, base, auth, params)
	}
	if err != nil {
		if updated != nil {
			return &connectors.Result{UpdatedCredentials: updated}, err
		}
		return nil, err
	}
	return &connectors.Result{Data: data, UpdatedCredentials: updated}, nil
}

type task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Importance string `json:"importance"`
	Permalink  string `json:"permalink"`
	Dates      *struct {
		Due string `json:"due,omitempty"`
	} `json:"dates,omitempty"`
}

type taskList struct {
	Data []task `json:"data"`
}

func (c *Connector) listTasks(ctx context.Context, base string, auth restclient.Auth, params map[string]any) (any, error) {
	limit := connectors.Int(params, "limit", 50)
	if limit < 1 || limit > 1000 {
		limit = 50
	}
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(limit))
	if s := connectors.String(params, "status"); s != "" {
		q.Set("status", s)
	}

	target := base + "/tasks"
	if folder := connectors.String(params, "folder_id"); folder != "" {
		target = base + "/folders/" + url.PathEscape(folder) + "/tasks"
	}

	var resp taskList
	if err := c.client.GetJSON(ctx, target, q, auth, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []task{}
	}
	return map[string]any{"tasks": resp.Data}, nil
}

func (c *Connector) createTask(ctx context.Context, base string, auth restclient.Auth, params map[string]any) (any, error) {
	importance := connectors.String(params, "importance")
	if importance == "" {
		importance = "Normal"
	}
	body := map[string]any{
		"title":      connectors.String(params, "title"),
		"importance": importance,
	}
	if d := connectors.String(params, "description"); d != "" {
		body["description"] = strings.ReplaceAll(d, "\n", "<br/>")
	}

	var resp taskList
	target := base + "/folders/" + url.PathEscape(connectors.String(params, "folder_id")) + "/tasks"
	if err := c.client.SendJSON(ctx, http.MethodPost, target, body, auth, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &connectors.ExecutionError{Kind: connectors.KindServer, Message: "Wrike returned no task"}
	}
	return resp.Data[0], nil
}

var _ connectors.Connector = (*Connector)(nil)
