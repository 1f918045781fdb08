// Package jira connects Jira Cloud through its REST API v3.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "jira"

// Connector implements connectors.Connector for Jira.
type Connector struct {
	connectors.Descriptor
	client *restclient.Client
}

// New creates the Jira connector.
func New(client *restclient.Client) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "Jira",
			ToolDefs:    toolDefinitions,
			Fields: []connectors.CredentialField{
				{Key: "url", InputType: connectors.InputURL, Label: "Jira URL", Placeholder: "https://your-domain.atlassian.net", Required: true},
				{Key: "email", InputType: connectors.InputEmail, Label: "Account email", Required: true},
				{Key: "api_token", InputType: connectors.InputPassword, Label: "API token", Required: true,
					HelpText: "Create one at id.atlassian.com under Security > API tokens."},
			},
		},
		client: client,
	}
}

var toolDefinitions = []connectors.ToolDefinition{
	{
		Name:        "jira_search",
		Description: "Search Jira issues with a JQL query.",
		Parameters: []connectors.ToolParameter{
			{Name: "jql", Type: connectors.ParamString, Required: true, Description: "JQL query, e.g. project = OPS AND status != Done"},
			{Name: "max_results", Type: connectors.ParamInteger, Default: 50, Description: "Maximum number of issues to return (1-100)"},
		},
	},
	{
		Name:        "jira_get_issue",
		Description: "Get a single Jira issue by key.",
		Parameters: []connectors.ToolParameter{
			{Name: "issue_key", Type: connectors.ParamString, Required: true, Description: "Issue key, e.g. OPS-123"},
		},
	},
	{
		Name:        "jira_create_issue",
		Description: "Create a Jira issue.",
		Parameters: []connectors.ToolParameter{
			{Name: "project_key", Type: connectors.ParamString, Required: true, Description: "Project key"},
			{Name: "summary", Type: connectors.ParamString, Required: true, Description: "Issue summary"},
			{Name: "issue_type", Type: connectors.ParamString, Default: "Task", Description: "Issue type name"},
			{Name: "description", Type: connectors.ParamString, Description: "Plain-text description"},
		},
	},
	{
		Name:        "jira_add_comment",
		Description: "Add a comment to a Jira issue.",
		Parameters: []connectors.ToolParameter{
			{Name: "issue_key", Type: connectors.ParamString, Required: true, Description: "Issue key"},
			{Name: "body", Type: connectors.ParamString, Required: true, Description: "Comment text"},
		},
	},
}

type site struct {
	base string
	auth restclient.Auth
}

func siteFor(creds connectors.Credentials) (site, error) {
	if err := creds.Require("url", "email", "api_token"); err != nil {
		return site{}, err
	}
	return site{
		base: restclient.JoinURL(creds.Get("url"), "/rest/api/3"),
		auth: restclient.BasicAuth(creds.Get("email"), creds.Get("api_token")),
	}, nil
}

// ValidateCredentials calls /myself with the stored credentials.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	s, err := siteFor(creds)
	if err != nil {
		return err
	}
	var me map[string]any
	return c.client.GetJSON(ctx, s.base+"/myself", nil, s.auth, &me)
}

// ExecuteTool runs one Jira tool.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}
	s, err := siteFor(creds)
	if err != nil {
		return nil, err
	}

	var data any
	switch toolName {
	case "jira_search":
		data, err = c.search(ctx, s, params)
	case "jira_get_issue":
		data, err = c.getIssue(ctx, s, params)
	case "jira_create_issue":
		data, err = c.createIssue(ctx, s, params)
	case "jira_add_comment":
		data, err = c.addComment(ctx, s, params)
	}
	if err != nil {
		return nil, err
	}
	return &connectors.Result{Data: data}, nil
}

// SystemPrompt describes the instance to an agent without touching credentials.
func (c *Connector) SystemPrompt(pc connectors.PromptContext) string {
	return fmt.Sprintf(
		"Jira instance %q is connected. Use %s to find issues with JQL before reading or changing them, "+
			"and always reference issues by key (e.g. OPS-123).",
		pc.InstanceName, strings.Join(pc.ToolIDs, ", "))
}

type searchResponse struct {
	Total  int     `json:"total"`
	Issues []issue `json:"issues"`
}

type issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  *struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		IssueType *struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Updated string `json:"updated"`
	} `json:"fields"`
}

func (i issue) summary() map[string]any {
	out := map[string]any{
		"id":      i.ID,
		"key":     i.Key,
		"summary": i.Fields.Summary,
		"updated": i.Fields.Updated,
	}
	if i.Fields.Status != nil {
		out["status"] = i.Fields.Status.Name
	}
	if i.Fields.Assignee != nil {
		out["assignee"] = i.Fields.Assignee.DisplayName
	}
	if i.Fields.IssueType != nil {
		out["issue_type"] = i.Fields.IssueType.Name
	}
	return out
}

func (c *Connector) search(ctx context.Context, s site, params map[string]any) (any, error) {
	maxResults := connectors.Int(params, "max_results", 50)
	if maxResults < 1 || maxResults > 100 {
		maxResults = 50
	}

	query := url.Values{}
	query.Set("jql", connectors.String(params, "jql"))
	query.Set("maxResults", strconv.Itoa(maxResults))
	query.Set("fields", "summary,status,assignee,issuetype,updated")

	var resp searchResponse
	if err := c.client.GetJSON(ctx, s.base+"/search", query, s.auth, &resp); err != nil {
		return nil, err
	}

	issues := make([]map[string]any, 0, len(resp.Issues))
	for _, i := range resp.Issues {
		issues = append(issues, i.summary())
	}
	return map[string]any{"total": resp.Total, "issues": issues}, nil
}

func (c *Connector) getIssue(ctx context.Context, s site, params map[string]any) (any, error) {
	key := url.PathEscape(connectors.String(params, "issue_key"))
	var raw map[string]any
	if err := c.client.GetJSON(ctx, s.base+"/issue/"+key, nil, s.auth, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Connector) createIssue(ctx context.Context, s site, params map[string]any) (any, error) {
	issueType := connectors.String(params, "issue_type")
	if issueType == "" {
		issueType = "Task"
	}

	fields := map[string]any{
		"project":   map[string]string{"key": connectors.String(params, "project_key")},
		"summary":   connectors.String(params, "summary"),
		"issuetype": map[string]string{"name": issueType},
	}
	if desc := connectors.String(params, "description"); desc != "" {
		fields["description"] = adfDocument(desc)
	}

	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := c.client.SendJSON(ctx, http.MethodPost, s.base+"/issue", map[string]any{"fields": fields}, s.auth, &created); err != nil {
		return nil, err
	}
	return map[string]any{"id": created.ID, "key": created.Key, "self": created.Self}, nil
}

func (c *Connector) addComment(ctx context.Context, s site, params map[string]any) (any, error) {
	key := url.PathEscape(connectors.String(params, "issue_key"))
	body := map[string]any{"body": adfDocument(connectors.String(params, "body"))}

	var created struct {
		ID      string `json:"id"`
		Created string `json:"created"`
	}
	if err := c.client.SendJSON(ctx, http.MethodPost, s.base+"/issue/"+key+"/comment", body, s.auth, &created); err != nil {
		return nil, err
	}
	return map[string]any{"id": created.ID, "created": created.Created, "issue_key": connectors.String(params, "issue_key")}, nil
}

// adfDocument wraps plain text in the Atlassian Document Format required by API v3.
func adfDocument(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type": "paragraph",
				"content": []any{
					map[string]any{"type": "text", "text": text},
				},
			},
		},
	}
}

var (
	_ connectors.Connector         = (*Connector)(nil)
	_ connectors.PersonalizedSkill = (*Connector)(nil)
)
