// Package confluence connects Confluence Cloud through its REST API.
package confluence

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "confluence"

// Connector implements connectors.Connector for Confluence.
type Connector struct {
	connectors.Descriptor
	client *restclient.Client
}

// New creates the Confluence connector.
func New(client *restclient.Client) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "Confluence",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "confluence_search",
					Description: "Search Confluence content with CQL.",
					Parameters: []connectors.ToolParameter{
						{Name: "cql", Type: connectors.ParamString, Required: true, Description: `CQL query, e.g. type = page AND text ~ "onboarding"`},
						{Name: "limit", Type: connectors.ParamInteger, Default: 25, Description: "Maximum number of results (1-100)"},
					},
				},
				{
					Name:        "confluence_get_page",
					Description: "Get a Confluence page including its storage-format body.",
					Parameters: []connectors.ToolParameter{
						{Name: "page_id", Type: connectors.ParamString, Required: true, Description: "Page ID"},
					},
				},
				{
					Name:        "confluence_create_page",
					Description: "Create a Confluence page.",
					Parameters: []connectors.ToolParameter{
						{Name: "space_key", Type: connectors.ParamString, Required: true, Description: "Space key"},
						{Name: "title", Type: connectors.ParamString, Required: true, Description: "Page title"},
						{Name: "body", Type: connectors.ParamString, Required: true, Description: "Page content as plain text"},
						{Name: "parent_id", Type: connectors.ParamString, Description: "Optional parent page ID"},
					},
				},
			},
			Fields: []connectors.CredentialField{
				{Key: "url", InputType: connectors.InputURL, Label: "Confluence URL", Placeholder: "https://your-domain.atlassian.net", Required: true},
				{Key: "email", InputType: connectors.InputEmail, Label: "Account email", Required: true},
				{Key: "api_token", InputType: connectors.InputPassword, Label: "API token", Required: true},
			},
		},
		client: client,
	}
}

func endpoint(creds connectors.Credentials) (string, restclient.Auth, error) {
	if err := creds.Require("url", "email", "api_token"); err != nil {
		return "", nil, err
	}
	return restclient.JoinURL(creds.Get("url"), "/wiki/rest/api"),
		restclient.BasicAuth(creds.Get("email"), creds.Get("api_token")), nil
}

// ValidateCredentials fetches the current user.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	base, auth, err := endpoint(creds)
	if err != nil {
		return err
	}
	var me map[string]any
	return c.client.GetJSON(ctx, base+"/user/current", nil, auth, &me)
}

// ExecuteTool runs one Confluence tool.
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

	var data any
	switch toolName {
	case "confluence_search":
		limit := connectors.Int(params, "limit", 25)
		if limit < 1 || limit > 100 {
			limit = 25
		}
		q := url.Values{}
		q.Set("cql", connectors.String(params, "cql"))
		q.Set("limit", strconv.Itoa(limit))

		var resp struct {
			Size    int `json:"size"`
			Results []struct {
				Content struct {
					ID    string `json:"id"`
					Type  string `json:"type"`
					Title string `json:"title"`
				} `json:"content"`
				Excerpt string `json:"excerpt"`
				URL     string `json:"url"`
			} `json:"results"`
		}
		if err = c.client.GetJSON(ctx, base+"/search", q, auth, &resp); err != nil {
			return nil, err
		}
		results := make([]map[string]any, 0, len(resp.Results))
		for _, r := range resp.Results {
			results = append(results, map[string]any{
				"id":      r.Content.ID,
				"type":    r.Content.Type,
				"title":   r.Content.Title,
				"excerpt": r.Excerpt,
				"url":     r.URL,
			})
		}
		data = map[string]any{"size": resp.Size, "results": results}

	case "confluence_get_page":
		q := url.Values{}
		q.Set("expand", "body.storage,version,space")
		var page map[string]any
		if err = c.client.GetJSON(ctx, base+"/content/"+url.PathEscape(connectors.String(params, "page_id")), q, auth, &page); err != nil {
			return nil, err
		}
		data = page

	case "confluence_create_page":
		payload := map[string]any{
			"type":  "page",
			"title": connectors.String(params, "title"),
			"space": map[string]string{"key": connectors.String(params, "space_key")},
			"body": map[string]any{
				"storage": map[string]string{
					"value":          storageBody(connectors.String(params, "body")),
					"representation": "storage",
				},
			},
		}
		if parent := connectors.String(params, "parent_id"); parent != "" {
			payload["ancestors"] = []map[string]string{{"id": parent}}
		}
		var created struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Links struct {
				WebUI string `json:"webui"`
			} `json:"_links"`
		}
		if err = c.client.SendJSON(ctx, http.MethodPost, base+"/content", payload, auth, &created); err != nil {
			return nil, err
		}
		data = map[string]any{"id": created.ID, "title": created.Title, "web_url": created.Links.WebUI}
	}

	return &connectors.Result{Data: data}, nil
}

// SystemPrompt describes the instance to an agent.
func (c *Connector) SystemPrompt(pc connectors.PromptContext) string {
	return fmt.Sprintf(
		"Confluence space collection %q is connected. Search with CQL through %s before creating pages to avoid duplicates.",
		pc.InstanceName, strings.Join(pc.ToolIDs, ", "))
}

// storageBody converts plain text paragraphs into Confluence storage XHTML.
func storageBody(text string) string {
	var b strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		if para = strings.TrimSpace(para); para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}

var (
	_ connectors.Connector         = (*Connector)(nil)
	_ connectors.PersonalizedSkill = (*Connector)(nil)
)
