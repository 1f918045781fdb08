package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	Descriptor
}

func (f *fakeConnector) ValidateCredentials(ctx context.Context, creds Credentials) error {
	return nil
}

func (f *fakeConnector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds Credentials) (*Result, error) {
	return &Result{Data: map[string]any{"tool": toolName}}, nil
}

type personalizedFake struct {
	fakeConnector
}

func (p *personalizedFake) SystemPrompt(pc PromptContext) string {
	return "prompt for " + pc.InstanceName
}

func newFake(typ string, credentialed bool, tools ...string) *fakeConnector {
	d := Descriptor{TypeID: typ, DisplayName: typ}
	for _, name := range tools {
		d.ToolDefs = append(d.ToolDefs, ToolDefinition{Name: name, Description: name})
	}
	if credentialed {
		d.Fields = []CredentialField{{Key: "api_token", InputType: InputPassword, Label: "API token", Required: true}}
	}
	return &fakeConnector{Descriptor: d}
}

func TestNewRegistry_SplitsSystemAndUserConnectors(t *testing.T) {
	share := newFake("system.share_file", false, "share_file")
	jira := newFake("jira", true, "jira_search", "jira_get_issue")
	trello := newFake("trello", true, "trello_list_boards")

	r, err := NewRegistry(share, jira, trello)
	require.NoError(t, err)

	assert.Len(t, r.All(), 3)
	assert.Equal(t, []Connector{share}, r.SystemConnectors())
	assert.Equal(t, []Connector{jira, trello}, r.UserConnectors())

	got, ok := r.Get("jira")
	require.True(t, ok)
	assert.Equal(t, jira, got)

	_, ok = r.Get("gitlab")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicateType(t *testing.T) {
	_, err := NewRegistry(newFake("jira", true, "jira_search"), newFake("jira", true, "jira_other"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_RejectsToolNameCollisionAcrossConnectors(t *testing.T) {
	_, err := NewRegistry(
		newFake("system.share_file", false, "share_file"),
		newFake("sharepoint", true, "share_file"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already declared by connector \"system.share_file\"")
}

func TestRegistry_RejectsDuplicateToolWithinConnector(t *testing.T) {
	_, err := NewRegistry(newFake("jira", true, "jira_search", "jira_search"))
	require.Error(t, err)
}

func TestRegistry_FailedRegisterLeavesNoPartialState(t *testing.T) {
	r, err := NewRegistry(newFake("jira", true, "jira_search"))
	require.NoError(t, err)

	err = r.Register(newFake("confluence", true, "confluence_search", "jira_search"))
	require.Error(t, err)

	assert.False(t, r.HasTool("confluence_search"))
	_, ok := r.Get("confluence")
	assert.False(t, ok)
}

func TestRegistry_FindTool(t *testing.T) {
	jira := newFake("jira", true, "jira_search")
	share := newFake("system.share_file", false, "share_file")
	r, err := NewRegistry(jira, share)
	require.NoError(t, err)

	c, def, ok := r.FindTool("jira_search")
	require.True(t, ok)
	assert.Equal(t, "jira", c.Type())
	assert.Equal(t, "jira_search", def.Name)

	_, _, ok = r.FindTool("nope")
	assert.False(t, ok)

	assert.True(t, r.IsSystemTool("share_file"))
	assert.False(t, r.IsSystemTool("jira_search"))
}

func TestAsPersonalized(t *testing.T) {
	plain := newFake("trello", true, "trello_list_boards")
	_, ok := AsPersonalized(plain)
	assert.False(t, ok)

	p := &personalizedFake{fakeConnector: *newFake("jira", true, "jira_search")}
	skill, ok := AsPersonalized(p)
	require.True(t, ok)
	assert.Equal(t, "prompt for Team A", skill.SystemPrompt(PromptContext{InstanceName: "Team A"}))
}

func TestToolDefinition_InputSchema(t *testing.T) {
	def := ToolDefinition{
		Name: "jira_search",
		Parameters: []ToolParameter{
			{Name: "jql", Type: ParamString, Required: true, Description: "JQL query"},
			{Name: "max_results", Type: ParamInteger, Default: 50, Description: "Page size"},
		},
	}

	schema := def.InputSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"jql"}, schema["required"])

	props := schema["properties"].(map[string]any)
	maxResults := props["max_results"].(map[string]any)
	assert.Equal(t, "integer", maxResults["type"])
	assert.Equal(t, 50, maxResults["default"])
}

func TestCredentials_Require(t *testing.T) {
	creds := Credentials{"url": "https://x", "email": "  "}
	err := creds.Require("url", "email", "api_token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email, api_token")

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindValidation, execErr.Kind)
}
