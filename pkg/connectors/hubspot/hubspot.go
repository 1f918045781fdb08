// Package hubspot connects the HubSpot CRM v3 API with OAuth.
package hubspot

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "hubspot"

const (
	defaultBaseURL = "https://api.hubapi.com"
	authURL        = "https://app.hubspot.com/oauth/authorize"
	tokenURL       = "https://api.hubapi.com/oauth/v1/token"
)

var contactProperties = []string{"email", "firstname", "lastname", "company", "phone", "lifecyclestage"}

var dealProperties = []string{"dealname", "amount", "dealstage", "closedate", "pipeline"}

// Connector implements connectors.Connector for HubSpot.
type Connector struct {
	connectors.Descriptor
	client  *restclient.Client
	oauth   *oauth2.Config
	baseURL string
}

// New creates the HubSpot connector for the given OAuth app.
func New(client *restclient.Client, clientID, clientSecret string) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "HubSpot",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "hubspot_search_contacts",
					Description: "Search HubSpot contacts by free text (name, email, company).",
					Parameters: []connectors.ToolParameter{
						{Name: "query", Type: connectors.ParamString, Required: true, Description: "Search text"},
						{Name: "limit", Type: connectors.ParamInteger, Default: 20, Description: "Maximum results (1-100)"},
					},
				},
				{
					Name:        "hubspot_create_contact",
					Description: "Create a HubSpot contact.",
					Parameters: []connectors.ToolParameter{
						{Name: "email", Type: connectors.ParamString, Required: true, Description: "Contact email"},
						{Name: "firstname", Type: connectors.ParamString, Description: "First name"},
						{Name: "lastname", Type: connectors.ParamString, Description: "Last name"},
						{Name: "company", Type: connectors.ParamString, Description: "Company name"},
						{Name: "phone", Type: connectors.ParamString, Description: "Phone number"},
					},
				},
				{
					Name:        "hubspot_search_deals",
					Description: "Search HubSpot deals by free text.",
					Parameters: []connectors.ToolParameter{
						{Name: "query", Type: connectors.ParamString, Required: true, Description: "Search text"},
						{Name: "limit", Type: connectors.ParamInteger, Default: 20, Description: "Maximum results (1-100)"},
					},
				},
			},
			Fields: []connectors.CredentialField{connectors.OAuthField("Connect HubSpot")},
		},
		client: client,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       []string{"crm.objects.contacts.read", "crm.objects.contacts.write", "crm.objects.deals.read"},
		},
		baseURL: defaultBaseURL,
	}
}

// ValidateCredentials refreshes the token if needed and reads one contact.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	tok, _, err := connectors.RefreshOAuthToken(ctx, c.oauth, c.client.HTTPClient(), creds)
	if err != nil {
		return err
	}
	var page map[string]any
	return c.client.GetJSON(ctx, c.baseURL+"/crm/v3/objects/contacts?limit=1", nil, restclient.BearerAuth(tok.AccessToken), &page)
}

// ExecuteTool runs one HubSpot tool, refreshing the access token first when it has expired.
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

	var data any
	switch toolName {
	case "hubspot_search_contacts":
		data, err = c.search(ctx, auth, "contacts", contactProperties, params)
	case "hubspot_search_deals":
		data, err = c.search(ctx, auth, "deals", dealProperties, params)
	case "hubspot_create_contact":
		data, err = c.createContact(ctx, auth, params)
	}
	if err != nil {
		if updated != nil {
			return &connectors.Result{UpdatedCredentials: updated}, err
		}
		return nil, err
	}
	return &connectors.Result{Data: data, UpdatedCredentials: updated}, nil
}

type object struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

func (c *Connector) search(ctx context.Context, auth restclient.Auth, objectType string, properties []string, params map[string]any) (any, error) {
	limit := connectors.Int(params, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	body := map[string]any{
		"query":      connectors.String(params, "query"),
		"limit":      limit,
		"properties": properties,
	}

	var resp struct {
		Total   int      `json:"total"`
		Results []object `json:"results"`
	}
	if err := c.client.SendJSON(ctx, http.MethodPost, c.baseURL+"/crm/v3/objects/"+objectType+"/search", body, auth, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []object{}
	}
	return map[string]any{"total": resp.Total, "results": resp.Results}, nil
}

func (c *Connector) createContact(ctx context.Context, auth restclient.Auth, params map[string]any) (any, error) {
	props := map[string]string{}
	for _, key := range []string{"email", "firstname", "lastname", "company", "phone"} {
		if v := connectors.String(params, key); v != "" {
			props[key] = v
		}
	}

	var created object
	if err := c.client.SendJSON(ctx, http.MethodPost, c.baseURL+"/crm/v3/objects/contacts", map[string]any{"properties": props}, auth, &created); err != nil {
		return nil, err
	}
	return created, nil
}

var _ connectors.Connector = (*Connector)(nil)
