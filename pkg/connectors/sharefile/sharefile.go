// Package sharefile is the built-in connector that publishes a file under an expiring link.
package sharefile

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Type is the integration type of the system connector.
const Type = "system.share_file"

// MaxFileSize bounds the decoded content.
const MaxFileSize = 10 << 20

const maxTTL = 30 * 24 * time.Hour

// Store persists shared files.
type Store interface {
	Create(ctx context.Context, file *models.SharedFile) error
}

// Connector implements the share_file system tool.
type Connector struct {
	connectors.Descriptor
	store      Store
	baseURL    string
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates the share_file connector. Links are built as {baseURL}/files/{token}.
func New(store Store, baseURL string, defaultTTL time.Duration) *Connector {
	if defaultTTL <= 0 {
		defaultTTL = 7 * 24 * time.Hour
	}
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "Share file",
			ToolDefs: []connectors.ToolDefinition{{
				Name:        "share_file",
				Description: "Publish a file and get a download link that expires.",
				Parameters: []connectors.ToolParameter{
					{Name: "file_name", Type: connectors.ParamString, Required: true, Description: "File name including extension"},
					{Name: "content", Type: connectors.ParamString, Required: true, Description: "Base64-encoded file content"},
					{Name: "content_type", Type: connectors.ParamString, Description: "MIME type; derived from the file name when omitted"},
					{Name: "expires_in_hours", Type: connectors.ParamInteger, Description: "Link lifetime in hours (max 720)"},
				},
			}},
		},
		store:      store,
		baseURL:    strings.TrimRight(baseURL, "/"),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// ValidateCredentials always succeeds; the connector has no credentials.
func (c *Connector) ValidateCredentials(context.Context, connectors.Credentials) error {
	return nil
}

// ExecuteTool stores the file for the calling organisation.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, _ connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}

	orgID := int64(connectors.Int(params, connectors.ParamOrganisationID, 0))
	if orgID <= 0 {
		return nil, connectors.InvalidParam(connectors.ParamOrganisationID, "missing organisation context")
	}

	name := path.Base(strings.ReplaceAll(connectors.String(params, "file_name"), "\\", "/"))
	if name == "." || name == "/" {
		return nil, connectors.InvalidParam("file_name", "must name a file")
	}

	content, err := decodeContent(connectors.String(params, "content"))
	if err != nil {
		return nil, connectors.InvalidParam("content", "must be base64 encoded")
	}
	if len(content) > MaxFileSize {
		return nil, connectors.InvalidParam("content", fmt.Sprintf("exceeds %d bytes", MaxFileSize))
	}

	ttl := c.defaultTTL
	if h := connectors.Int(params, "expires_in_hours", 0); h > 0 {
		ttl = min(time.Duration(h)*time.Hour, maxTTL)
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate file token: %w", err)
	}

	now := c.now().UTC()
	file := &models.SharedFile{
		Token:          token,
		OrganisationID: orgID,
		FileName:       name,
		ContentType:    contentType(connectors.String(params, "content_type"), name, content),
		Content:        content,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	if err := c.store.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to store shared file: %w", err)
	}

	return &connectors.Result{Data: map[string]any{
		"url":        c.baseURL + "/files/" + token,
		"token":      token,
		"file_name":  name,
		"size":       len(content),
		"expires_at": file.ExpiresAt.Format(time.RFC3339),
	}}, nil
}

func decodeContent(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func contentType(explicit, name string, content []byte) string {
	if explicit != "" {
		return explicit
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(content)
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var _ connectors.Connector = (*Connector)(nil)
