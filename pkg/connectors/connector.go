// Package connectors defines the plugin contract for third-party integrations
// and the registry that holds one connector per integration type.
package connectors

import (
	"context"
	"fmt"
	"strings"
)

// InputType is the form control used to collect a credential field.
type InputType string

const (
	InputText     InputType = "text"
	InputPassword InputType = "password"
	InputURL      InputType = "url"
	InputOAuth    InputType = "oauth"
	InputEmail    InputType = "email"
)

// CredentialField describes one entry of a connector's credential form.
type CredentialField struct {
	Key         string    `json:"key"`
	InputType   InputType `json:"input_type"`
	Label       string    `json:"label"`
	Placeholder string    `json:"placeholder,omitempty"`
	Required    bool      `json:"required"`
	HelpText    string    `json:"help_text,omitempty"`
}

// OAuthField is the synthetic field OAuth connectors expose in place of a form.
func OAuthField(label string) CredentialField {
	return CredentialField{
		Key:       "oauth",
		InputType: InputOAuth,
		Label:     label,
		Required:  true,
		HelpText:  "Connect through the provider's consent screen.",
	}
}

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// ToolParameter is one typed input of a tool.
type ToolParameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description"`
	Enum        []string  `json:"enum,omitempty"`
}

// ToolDefinition is the static description of one callable tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// InputSchema renders the parameters as a JSON Schema object.
func (t ToolDefinition) InputSchema() map[string]any {
	properties := make(map[string]any, len(t.Parameters))
	required := make([]string, 0, len(t.Parameters))

	for _, p := range t.Parameters {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == ParamArray {
			prop["items"] = map[string]any{"type": "string"}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Credentials is the decrypted bag of secrets a connector needs.
type Credentials map[string]string

// Get returns the trimmed value for key.
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// Require fails with a client ExecutionError listing every missing key.
func (c Credentials) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &ExecutionError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("credentials missing required fields: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Clone returns a shallow copy that can be modified independently.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Result is the outcome of a tool execution.
// UpdatedCredentials is set when the connector refreshed an OAuth token
// and the caller must persist the new bag. A Result carrying only
// UpdatedCredentials may accompany an error when the refresh worked but the call failed.
type Result struct {
	Data               any
	UpdatedCredentials Credentials
}

// Connector is one third-party integration.
type Connector interface {
	// Type is the stable identifier stored on configurations, e.g. "jira".
	Type() string
	// Name is the display name.
	Name() string
	// Tools is the static tool catalog.
	Tools() []ToolDefinition
	// CredentialFields describes the credential form. Empty for system connectors.
	CredentialFields() []CredentialField
	// RequiresCredentials is false only for system connectors.
	RequiresCredentials() bool
	// ValidateCredentials checks the bag, possibly with a live call.
	ValidateCredentials(ctx context.Context, creds Credentials) error
	// ExecuteTool runs toolName. creds is nil for system connectors.
	ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds Credentials) (*Result, error)
}

// PromptContext is the non-secret data a personalized connector renders its prompt from.
type PromptContext struct {
	ConfigID     int64
	InstanceName string
	ToolIDs      []string
}

// PersonalizedSkill is implemented by connectors that contribute a system-prompt fragment per instance.
type PersonalizedSkill interface {
	SystemPrompt(pc PromptContext) string
}

// AsPersonalized returns the connector's personalization capability, if it has one.
func AsPersonalized(c Connector) (PersonalizedSkill, bool) {
	p, ok := c.(PersonalizedSkill)
	return p, ok
}

// Descriptor carries the declarative half of a connector and is embedded by implementations.
type Descriptor struct {
	TypeID      string
	DisplayName string
	ToolDefs    []ToolDefinition
	Fields      []CredentialField
}

func (d Descriptor) Type() string                        { return d.TypeID }
func (d Descriptor) Name() string                        { return d.DisplayName }
func (d Descriptor) Tools() []ToolDefinition             { return d.ToolDefs }
func (d Descriptor) CredentialFields() []CredentialField { return d.Fields }
func (d Descriptor) RequiresCredentials() bool           { return len(d.Fields) > 0 }

// Tool looks up a tool definition by name.
func (d Descriptor) Tool(name string) (ToolDefinition, bool) {
	for _, t := range d.ToolDefs {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// UnknownTool is returned by ExecuteTool for names outside the connector's catalog.
func (d Descriptor) UnknownTool(name string) error {
	return &ExecutionError{
		Kind:    KindValidation,
		Message: fmt.Sprintf("%s does not provide tool %q", d.DisplayName, name),
	}
}
