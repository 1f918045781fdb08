package connectors

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Context keys the dispatcher injects into every parameter bag.
const (
	ParamOrganisationID   = "organisationId"
	ParamOrganisationUUID = "organisationUuid"
	ParamWorkflowUserID   = "workflowUserId"
)

// ValidateParams checks required parameters and basic JSON types against the tool definition.
func ValidateParams(tool ToolDefinition, params map[string]any) error {
	for _, p := range tool.Parameters {
		v, present := params[p.Name]
		if !present || v == nil || v == "" {
			if p.Required {
				return InvalidParam(p.Name, "is required")
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return InvalidParam(p.Name, fmt.Sprintf("expected %s", p.Type))
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			if !contains(p.Enum, s) {
				return InvalidParam(p.Name, fmt.Sprintf("must be one of %s", strings.Join(p.Enum, ", ")))
			}
		}
	}
	return nil
}

func typeMatches(t ParamType, v any) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamInteger:
		switch n := v.(type) {
		case int, int32, int64, json.Number:
			return true
		case float64:
			return n == math.Trunc(n)
		case string:
			_, err := strconv.ParseInt(n, 10, 64)
			return err == nil
		}
		return false
	case ParamNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return true
		}
		return false
	case ParamBoolean:
		_, ok := v.(bool)
		return ok
	case ParamArray:
		_, ok := v.([]any)
		if !ok {
			_, ok = v.([]string)
		}
		return ok
	case ParamObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// String returns a string parameter or "".
func String(params map[string]any, name string) string {
	switch v := params[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// RequiredString returns a non-empty string parameter or a validation error.
func RequiredString(params map[string]any, name string) (string, error) {
	s := String(params, name)
	if s == "" {
		return "", InvalidParam(name, "is required")
	}
	return s, nil
}

// Int returns an integer parameter or def when absent or malformed.
func Int(params map[string]any, name string, def int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a boolean parameter or def.
func Bool(params map[string]any, name string, def bool) bool {
	if v, ok := params[name].(bool); ok {
		return v
	}
	return def
}

// Strings returns a string slice parameter.
func Strings(params map[string]any, name string) []string {
	switch v := params[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

// Float returns a numeric parameter or def.
func Float(params map[string]any, name string, def float64) float64 {
	switch v := params[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}
