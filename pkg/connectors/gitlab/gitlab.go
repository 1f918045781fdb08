// Package gitlab connects GitLab (SaaS or self-managed) through the REST API v4.
package gitlab

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

const (
	// Type is the integration type stored on configurations.
	Type = "gitlab"

	defaultURL = "https://gitlab.com"
)

// Connector implements connectors.Connector for GitLab.
type Connector struct {
	connectors.Descriptor
	client *restclient.Client
}

// New creates the GitLab connector.
func New(client *restclient.Client) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "GitLab",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "gitlab_list_projects",
					Description: "List GitLab projects the token can access.",
					Parameters: []connectors.ToolParameter{
						{Name: "search", Type: connectors.ParamString, Description: "Filter by name"},
						{Name: "per_page", Type: connectors.ParamInteger, Default: 20, Description: "Page size (1-100)"},
					},
				},
				{
					Name:        "gitlab_list_issues",
					Description: "List issues of a GitLab project.",
					Parameters: []connectors.ToolParameter{
						{Name: "project_id", Type: connectors.ParamString, Required: true, Description: "Numeric ID or full path, e.g. group/project"},
						{Name: "state", Type: connectors.ParamString, Default: "opened", Enum: []string{"opened", "closed", "all"}, Description: "Issue state"},
						{Name: "labels", Type: connectors.ParamString, Description: "Comma-separated label names"},
					},
				},
				{
					Name:        "gitlab_create_issue",
					Description: "Create an issue in a GitLab project.",
					Parameters: []connectors.ToolParameter{
						{Name: "project_id", Type: connectors.ParamString, Required: true, Description: "Numeric ID or full path"},
						{Name: "title", Type: connectors.ParamString, Required: true, Description: "Issue title"},
						{Name: "description", Type: connectors.ParamString, Description: "Markdown description"},
						{Name: "labels", Type: connectors.ParamString, Description: "Comma-separated label names"},
					},
				},
			},
			Fields: []connectors.CredentialField{
				{Key: "url", InputType: connectors.InputURL, Label: "GitLab URL", Placeholder: defaultURL,
					HelpText: "Leave empty for gitlab.com."},
				{Key: "access_token", InputType: connectors.InputPassword, Label: "Personal access token", Required: true,
					HelpText: "Needs the api scope."},
			},
		},
		client: client,
	}
}

func endpoint(creds connectors.Credentials) (string, restclient.Auth, error) {
	if err := creds.Require("access_token"); err != nil {
		return "", nil, err
	}
	base := creds.Get("url")
	if base == "" {
		base = defaultURL
	}
	return restclient.JoinURL(base, "/api/v4"), restclient.HeaderAuth("PRIVATE-TOKEN", creds.Get("access_token")), nil
}

// ValidateCredentials reads the token owner.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	base, auth, err := endpoint(creds)
	if err != nil {
		return err
	}
	var me map[string]any
	return c.client.GetJSON(ctx, base+"/user", nil, auth, &me)
}

type issue struct {
	ID        int64    `json:"id"`
	IID       int64    `json:"iid"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	WebURL    string   `json:"web_url"`
	UpdatedAt string   `json:"updated_at"`
}

// ExecuteTool runs one GitLab tool.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}
	base, auth, err := endpoint(creds)
	if err != nil {
		return nil, err
	}

	switch toolName {
	case "gitlab_list_projects":
		perPage := connectors.Int(params, "per_page", 20)
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		q := url.Values{}
		q.Set("membership", "true")
		q.Set("simple", "true")
		q.Set("per_page", strconv.Itoa(perPage))
		if s := connectors.String(params, "search"); s != "" {
			q.Set("search", s)
		}
		var projects []struct {
			ID                int64  `json:"id"`
			Name              string `json:"name"`
			PathWithNamespace string `json:"path_with_namespace"`
			WebURL            string `json:"web_url"`
		}
		if err := c.client.GetJSON(ctx, base+"/projects", q, auth, &projects); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: map[string]any{"projects": projects}}, nil

	case "gitlab_list_issues":
		q := url.Values{}
		state := connectors.String(params, "state")
		if state == "" {
			state = "opened"
		}
		q.Set("state", state)
		if labels := connectors.String(params, "labels"); labels != "" {
			q.Set("labels", labels)
		}
		var issues []issue
		if err := c.client.GetJSON(ctx, projectURL(base, params)+"/issues", q, auth, &issues); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: map[string]any{"issues": issues}}, nil

	default: // gitlab_create_issue
		body := map[string]any{"title": connectors.String(params, "title")}
		if d := connectors.String(params, "description"); d != "" {
			body["description"] = d
		}
		if l := connectors.String(params, "labels"); l != "" {
			body["labels"] = l
		}
		var created issue
		if err := c.client.SendJSON(ctx, http.MethodPost, projectURL(base, params)+"/issues", body, auth, &created); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: created}, nil
	}
}

// projectURL encodes group/project paths as a single segment, as GitLab expects.
func projectURL(base string, params map[string]any) string {
	return base + "/projects/" + url.PathEscape(connectors.String(params, "project_id"))
}

var _ connectors.Connector = (*Connector)(nil)
