// Package projektron connects Projektron BCS through its REST API.
package projektron

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
)

// Type is the integration type stored on configurations.
const Type = "projektron"

// Bookings are rounded to quarter hours, the smallest unit BCS accepts by default.
const bookingStep = 0.25

// Connector implements connectors.Connector for Projektron BCS.
type Connector struct {
	connectors.Descriptor
	client *restclient.Client
	now    func() time.Time
}

// New creates the Projektron connector.
func New(client *restclient.Client) *Connector {
	return &Connector{
		Descriptor: connectors.Descriptor{
			TypeID:      Type,
			DisplayName: "Projektron BCS",
			ToolDefs: []connectors.ToolDefinition{
				{
					Name:        "projektron_list_tasks",
					Description: "List the tasks assigned to the connected Projektron user.",
					Parameters: []connectors.ToolParameter{
						{Name: "status", Type: connectors.ParamString, Default: "open", Enum: []string{"open", "done", "all"}, Description: "Task status filter"},
					},
				},
				{
					Name:        "projektron_book_time",
					Description: "Book working time on a Projektron task.",
					Parameters: []connectors.ToolParameter{
						{Name: "task_id", Type: connectors.ParamString, Required: true, Description: "Task OID"},
						{Name: "hours", Type: connectors.ParamNumber, Required: true, Description: "Hours worked, rounded to quarter hours"},
						{Name: "date", Type: connectors.ParamString, Description: "Day worked as YYYY-MM-DD, defaults to today"},
						{Name: "description", Type: connectors.ParamString, Description: "Booking note"},
					},
				},
			},
			Fields: []connectors.CredentialField{
				{Key: "url", InputType: connectors.InputURL, Label: "BCS URL", Placeholder: "https://bcs.example.com", Required: true},
				{Key: "username", InputType: connectors.InputText, Label: "Login", Required: true},
				{Key: "api_token", InputType: connectors.InputPassword, Label: "API token", Required: true,
					HelpText: "Generate under Personal settings > API tokens."},
			},
		},
		client: client,
		now:    time.Now,
	}
}

type bcs struct {
	base string
	auth restclient.Auth
}

func bcsFor(creds connectors.Credentials) (bcs, error) {
	if err := creds.Require("url", "username", "api_token"); err != nil {
		return bcs{}, err
	}
	return bcs{
		base: restclient.JoinURL(creds.Get("url"), "/rest/api/v1"),
		auth: restclient.BasicAuth(creds.Get("username"), creds.Get("api_token")),
	}, nil
}

// ValidateCredentials reads the current user.
func (c *Connector) ValidateCredentials(ctx context.Context, creds connectors.Credentials) error {
	b, err := bcsFor(creds)
	if err != nil {
		return err
	}
	var me map[string]any
	return c.client.GetJSON(ctx, b.base+"/users/me", nil, b.auth, &me)
}

// ExecuteTool runs one Projektron tool.
func (c *Connector) ExecuteTool(ctx context.Context, toolName string, params map[string]any, creds connectors.Credentials) (*connectors.Result, error) {
	tool, ok := c.Tool(toolName)
	if !ok {
		return nil, c.UnknownTool(toolName)
	}
	if err := connectors.ValidateParams(tool, params); err != nil {
		return nil, err
	}
	b, err := bcsFor(creds)
	if err != nil {
		return nil, err
	}

	var data any
	switch toolName {
	case "projektron_list_tasks":
		data, err = c.listTasks(ctx, b, params)
	case "projektron_book_time":
		data, err = c.bookTime(ctx, b, params)
	}
	if err != nil {
		return nil, err
	}
	return &connectors.Result{Data: data}, nil
}

// SystemPrompt describes the instance to an agent without touching credentials.
func (c *Connector) SystemPrompt(pc connectors.PromptContext) string {
	return fmt.Sprintf(
		"Projektron BCS instance %q is connected for time tracking. Use %s. "+
			"List tasks first to get a task id, and book time in quarter hours.",
		pc.InstanceName, strings.Join(pc.ToolIDs, ", "))
}

type task struct {
	OID     string  `json:"oid"`
	Name    string  `json:"name"`
	Project string  `json:"projectName"`
	Status  string  `json:"status"`
	Planned float64 `json:"plannedEffortHours"`
	Booked  float64 `json:"bookedEffortHours"`
}

func (c *Connector) listTasks(ctx context.Context, b bcs, params map[string]any) (any, error) {
	status := connectors.String(params, "status")
	if status == "" {
		status = "open"
	}
	q := url.Values{}
	q.Set("assignee", "me")
	if status != "all" {
		q.Set("status", status)
	}

	var resp struct {
		Tasks []task `json:"tasks"`
	}
	if err := c.client.GetJSON(ctx, b.base+"/tasks", q, b.auth, &resp); err != nil {
		return nil, err
	}
	if resp.Tasks == nil {
		resp.Tasks = []task{}
	}
	return map[string]any{"tasks": resp.Tasks}, nil
}

func (c *Connector) bookTime(ctx context.Context, b bcs, params map[string]any) (any, error) {
	hours := math.Round(connectors.Float(params, "hours", 0)/bookingStep) * bookingStep
	if hours <= 0 || hours > 24 {
		return nil, connectors.InvalidParam("hours", "must be between 0.25 and 24")
	}

	day := connectors.String(params, "date")
	if day == "" {
		day = c.now().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, connectors.InvalidParam("date", "must be formatted as YYYY-MM-DD")
	}

	body := map[string]any{
		"taskOid":     connectors.String(params, "task_id"),
		"date":        day,
		"effortHours": hours,
		"description": connectors.String(params, "description"),
	}
	var created struct {
		OID string `json:"oid"`
	}
	if err := c.client.SendJSON(ctx, http.MethodPost, b.base+"/worklogs", body, b.auth, &created); err != nil {
		return nil, err
	}
	return map[string]any{"booking_id": created.OID, "date": day, "hours": hours}, nil
}

var (
	_ connectors.Connector         = (*Connector)(nil)
	_ connectors.PersonalizedSkill = (*Connector)(nil)
)
