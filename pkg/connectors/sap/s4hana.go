// Package sap connects SAP S/4HANA through its OData v2 APIs.
package sap

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "sap_s4"

var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// S4HANA implements connectors.Connector for SAP S/4HANA.
type S4HANA struct {
	connectors.Descriptor
	client *restclient.Client
}

// NewS4HANA creates the S/4HANA connector.
func NewS4HANA(client *restclient.Client) *S4HANA {
	return &S4HANA{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "SAP S/4HANA",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "sap_s4_query",
					Description: "Query an OData entity set of an S/4HANA API, e.g. API_BUSINESS_PARTNER / A_BusinessPartner.",
					Parameters: []connectors.ToolParameter{
						{Name: "service", Type: connectors.ParamString, Required: true, Description: "OData service name, e.g. API_SALES_ORDER_SRV"},
						{Name: "entity_set", Type: connectors.ParamString, Required: true, Description: "Entity set, e.g. A_SalesOrder"},
						{Name: "filter", Type: connectors.ParamString, Description: "OData $filter expression"},
						{Name: "select", Type: connectors.ParamString, Description: "Comma-separated $select fields"},
						{Name: "top", Type: connectors.ParamInteger, Default: 50, Description: "Maximum rows (1-500)"},
					},
				},
				{
					Name:        "sap_s4_get_entity",
					Description: "Read one entity by key from an S/4HANA OData service.",
					Parameters: []connectors.ToolParameter{
						{Name: "service", Type: connectors.ParamString, Required: true, Description: "OData service name"},
						{Name: "entity_set", Type: connectors.ParamString, Required: true, Description: "Entity set"},
						{Name: "key", Type: connectors.ParamString, Required: true, Description: "Entity key, e.g. 1000001 or SalesOrder='1',Item='10'"},
					},
				},
			},
			Fields: []connectors.CredentialField{
				{Key: "url", InputType: connectors.InputURL, Label: "S/4HANA host", Placeholder: "https://my-s4.example.com", Required: true},
				{Key: "username", InputType: connectors.InputText, Label: "Communication user", Required: true},
				{Key: "password", InputType: connectors.InputPassword, Label: "Password", Required: true},
				{Key: "sap_client", InputType: connectors.InputText, Label: "SAP client", Placeholder: "100",
					HelpText: "Optional three-digit client number."},
			},
		},
		client: client,
	}
}

type odata struct {
	base   string
	auth   restclient.Auth
	client string
}

func odataFor(creds connectors.Credentials) (odata, error) {
	if err := creds.Require("url", "username", "password"); err != nil {
		return odata{}, err
	}
	return odata{
		base:   restclient.JoinURL(creds.Get("url"), "/sap/opu/odata/sap"),
		auth:   restclient.BasicAuth(creds.Get("username"), creds.Get("password")),
		client: creds.Get("sap_client"),
	}, nil
}

func (o odata) query() url.Values {
	q := url.Values{}
	q.Set("$format", "json")
	if o.client != "" {
		q.Set("sap-client", o.client)
	}
	return q
}

// ValidateCredentials reads the business partner service document.
func (c *S4HANA) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	o, err := odataFor(creds)
	if err != nil {
		return err
	}
	var doc map[string]any
	return c.client.GetJSON(ctx, o.base+"/API_BUSINESS_PARTNER/", o.query(), o.auth, &doc)
}

// ExecuteTool runs one S/4HANA tool.
func (c *S4HANA) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}
	o, err := odataFor(creds)
	if err != nil {
		return nil, err
	}

	service := connectors.String(params, "service")
	entitySet := connectors.String(params, "entity_set")
	if !identifier.MatchString(service) {
		return nil, connectors.InvalidParam("service", "must be an OData service name")
	}
	if !identifier.MatchString(entitySet) {
		return nil, connectors.InvalidParam("entity_set", "must be an entity set name")
	}

	q := o.query()
	target := fmt.Sprintf("%s/%s/%s", o.base, service, entitySet)

	if toolName == "sap_s4_get_entity" {
		target += "(" + url.PathEscape(formatKey(connectors.String(params, "key"))) + ")"
		var resp struct {
			D map[string]any `json:"d"`
		}
		if err := c.client.GetJSON(ctx, target, q, o.auth, &resp); err != nil {
			return nil, err
		}
		return &connectors.Result{Data: stripMetadata(resp.D)}, nil
	}

	top := connectors.Int(params, "top", 50)
	if top < 1 || top > 500 {
		top = 50
	}
	q.Set("$top", strconv.Itoa(top))
	q.Set("$inlinecount", "allpages")
	if f := connectors.String(params, "filter"); f != "" {
		q.Set("$filter", f)
	}
	if s := connectors.String(params, "select"); s != "" {
		q.Set("$select", s)
	}

	var resp struct {
		D struct {
			Count   string           `json:"__count"`
			Results []map[string]any `json:"results"`
		} `json:"d"`
	}
	if err := c.client.GetJSON(ctx, target, q, o.auth, &resp); err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(resp.D.Results))
	for _, r := range resp.D.Results {
		rows = append(rows, stripMetadata(r))
	}
	count, _ := strconv.Atoi(resp.D.Count)
	return &connectors.Result{Data: map[string]any{"count": count, "results": rows}}, nil
}

// formatKey quotes a bare key. Composite and already quoted keys pass through.
func formatKey(key string) string {
	if strings.Contains(key, "=") || strings.HasPrefix(key, "'") {
		return key
	}
	return "'" + strings.ReplaceAll(key, "'", "''") + "'"
}

func stripMetadata(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if k == "__metadata" {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if _, deferred := nested["__deferred"]; deferred {
				continue
			}
		}
		out[k] = v
	}
	return out
}

var _ connectors.Connector = (*S4HANA)(nil)
