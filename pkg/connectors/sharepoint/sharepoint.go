// Package sharepoint connects SharePoint Online document libraries through Microsoft Graph.
package sharepoint

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "sharepoint"

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	defaultLoginURL = "https://login.microsoftonline.com"
	defaultTenant   = "common"
)

// Connector implements connectors.Connector for SharePoint.
type Connector struct {
	connectors.Descriptor
	client       *restclient.Client
	clientID     string
	clientSecret string
	graphURL     string
	loginURL     string
}

// New creates the SharePoint connector for the given Entra ID app registration.
func New(client *restclient.Client, clientID, clientSecret string) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "SharePoint",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "sharepoint_search",
					Description: "Search documents across SharePoint sites the user can access.",
					Parameters: []connectors.ToolParameter{
						{Name: "query", Type: connectors.ParamString, Required: true, Description: "KQL search text"},
						{Name: "limit", Type: connectors.ParamInteger, Default: 25, Description: "Maximum hits (1-50)"},
					},
				},
				{
					Name:        "sharepoint_list_files",
					Description: "List files in a SharePoint document library folder.",
					Parameters: []connectors.ToolParameter{
						{Name: "site_id", Type: connectors.ParamString, Description: "Site id; the user's own drive when omitted"},
						{Name: "folder_path", Type: connectors.ParamString, Description: "Folder path relative to the library root"},
					},
				},
				{
					Name:        "sharepoint_get_file",
					Description: "Get file metadata and a short-lived download URL.",
					Parameters: []connectors.ToolParameter{
						{Name: "drive_id", Type: connectors.ParamString, Required: true, Description: "Drive id returned by search or list"},
						{Name: "item_id", Type: connectors.ParamString, Required: true, Description: "Item id returned by search or list"},
					},
				},
			},
			Fields: []connectors.CredentialField{
				connectors.OAuthField("Connect Microsoft 365"),
				{Key: "tenant_id", InputType: connectors.InputText, Label: "Tenant ID",
					HelpText: "Directory (tenant) id. Leave empty for multi-tenant sign-in."},
			},
		},
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		graphURL:     defaultGraphURL,
		loginURL:     defaultLoginURL,
	}
}

// oauthConfig returns the app config for the tenant the credentials were issued by.
func (c *Connector) oauthConfig(creds connectors.Credentials) *oauth2.Config {
	tenant := creds.Get("tenant_id")
	if tenant == "" {
		tenant = defaultTenant
	}
	base := fmt.Sprintf("%s/%s/oauth2/v2.0", c.loginURL, url.PathEscape(tenant))
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: base + "/authorize", TokenURL: base + "/token", AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       []string{"offline_access", "Files.Read.All", "Sites.Read.All"},
	}
}

// ValidateCredentials refreshes the token if needed and reads the signed-in user.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	tok, _, err := connectors.RefreshOAuthToken(ctx, c.oauthConfig(creds), c.client.HTTPClient(), creds)
	if err != nil {
		return err
	}
	var me map[string]any
	return c.client.GetJSON(ctx, c.graphURL+"/me", nil, restclient.BearerAuth(tok.AccessToken), &me)
}

// ExecuteTool runs one SharePoint tool, refreshing the access token first when it has expired.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}

	tok, updated, err := connectors.RefreshOAuthToken(ctx, c.oauthConfig(creds), c.client.HTTPClient(), creds)
	if err != nil {
		return nil, err
	}
	auth := restclient.BearerAuth(tok.AccessToken)

	var data any
	switch toolName {
	case "sharepoint_search":
		data, err = c.search(ctx, auth, params)
	case "sharepoint_list_files":
		data, err = c.listFiles(ctx, auth, params)
	case "sharepoint_get_file":
		data, err = c.getFile(ctx, auth, params)
	}
	if err != nil {
		if updated != nil {
			return &connectors.Result{UpdatedCredentials: updated}, err
		}
		return nil, err
	}
	return &connectors.Result{Data: data, UpdatedCredentials: updated}, nil
}

type driveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	WebURL               string `json:"webUrl"`
	Size                 int64  `json:"size"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
	ParentReference *struct {
		DriveID string `json:"driveId"`
		SiteID  string `json:"siteId"`
	} `json:"parentReference,omitempty"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl,omitempty"`
}

func summarize(item driveItem) map[string]any {
	out := map[string]any{
		"id":            item.ID,
		"name":          item.Name,
		"web_url":       item.WebURL,
		"size":          item.Size,
		"last_modified": item.LastModifiedDateTime,
		"is_folder":     item.Folder != nil,
	}
	if item.File != nil {
		out["mime_type"] = item.File.MimeType
	}
	if item.ParentReference != nil {
		out["drive_id"] = item.ParentReference.DriveID
	}
	return out
}

func (c *Connector) search(ctx context.Context, auth restclient.Auth, params map[string]any) (any, error) {
	limit := connectors.Int(params, "limit", 25)
	if limit < 1 || limit > 50 {
		limit = 25
	}
	body := map[string]any{
		"requests": []map[string]any{{
			"entityTypes": []string{"driveItem"},
			"query":       map[string]string{"queryString": connectors.String(params, "query")},
			"size":        limit,
		}},
	}

	var resp struct {
		Value []struct {
			HitsContainers []struct {
				Total int `json:"total"`
				Hits  []struct {
					Summary  string    `json:"summary"`
					Resource driveItem `json:"resource"`
				} `json:"hits"`
			} `json:"hitsContainers"`
		} `json:"value"`
	}
	if err := c.client.SendJSON(ctx, http.MethodPost, c.graphURL+"/search/query", body, auth, &resp); err != nil {
		return nil, err
	}

	hits := []map[string]any{}
	total := 0
	for _, v := range resp.Value {
		for _, hc := range v.HitsContainers {
			total += hc.Total
			for _, h := range hc.Hits {
				item := summarize(h.Resource)
				item["summary"] = h.Summary
				hits = append(hits, item)
			}
		}
	}
	return map[string]any{"total": total, "results": hits}, nil
}

func (c *Connector) listFiles(ctx context.Context, auth restclient.Auth, params map[string]any) (any, error) {
	drive := c.graphURL + "/me/drive"
	if site := connectors.String(params, "site_id"); site != "" {
		drive = c.graphURL + "/sites/" + url.PathEscape(site) + "/drive"
	}

	target := drive + "/root/children"
	if folder := strings.Trim(connectors.String(params, "folder_path"), "/"); folder != "" {
		segments := strings.Split(folder, "/")
		for i, s := range segments {
			segments[i] = url.PathEscape(s)
		}
		target = drive + "/root:/" + strings.Join(segments, "/") + ":/children"
	}

	var resp struct {
		Value []driveItem `json:"value"`
	}
	if err := c.client.GetJSON(ctx, target, nil, auth, &resp); err != nil {
		return nil, err
	}

	files := make([]map[string]any, 0, len(resp.Value))
	for _, item := range resp.Value {
		files = append(files, summarize(item))
	}
	return map[string]any{"files": files}, nil
}

func (c *Connector) getFile(ctx context.Context, auth restclient.Auth, params map[string]any) (any, error) {
	target := fmt.Sprintf("%s/drives/%s/items/%s", c.graphURL,
		url.PathEscape(connectors.String(params, "drive_id")), url.PathEscape(connectors.String(params, "item_id")))

	var item driveItem
	if err := c.client.GetJSON(ctx, target, nil, auth, &item); err != nil {
		return nil, err
	}
	out := summarize(item)
	if item.DownloadURL != "" {
		out["download_url"] = item.DownloadURL
	}
	return out, nil
}

var _ connectors.Connector = (*Connector)(nil)
