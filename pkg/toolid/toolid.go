// Package toolid encodes and decodes the identifiers external callers use to address tools.
//
// Per-instance tools are addressed as {toolName}_{configId}; system tools by bare name.
// New callers send a structured Ref; the string form is kept for existing workflows.
package toolid

import (
	"errors"
	"strconv"
	"strings"
)

// ErrEmpty is returned for a blank identifier.
var ErrEmpty = errors.New("tool id is empty")

// ErrUnknownTool is returned when no known tool name can be recovered from the identifier.
var ErrUnknownTool = errors.New("tool not found")

// Ref is a structured tool reference.
type Ref struct {
	Name     string `json:"name"`
	ConfigID int64  `json:"config_id,omitempty"`
}

// HasConfig reports whether the reference targets a specific configuration.
func (r Ref) HasConfig() bool {
	return r.ConfigID > 0
}

// Format renders the legacy string form.
func (r Ref) Format() string {
	if !r.HasConfig() {
		return r.Name
	}
	return r.Name + "_" + strconv.FormatInt(r.ConfigID, 10)
}

// Format renders the legacy string form for name and configID.
func Format(name string, configID int64) string {
	return Ref{Name: name, ConfigID: configID}.Format()
}

// Parse decodes a legacy tool id. An exact match against a known tool name wins,
// so names that happen to end in _<digits> are never split. Otherwise the last
// _<digits> suffix is taken as the configuration id if the remaining prefix is a
// known tool.
func Parse(id string, isKnownTool func(name string) bool) (Ref, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Ref{}, ErrEmpty
	}

	if isKnownTool(id) {
		return Ref{Name: id}, nil
	}

	idx := strings.LastIndex(id, "_")
	if idx <= 0 || idx == len(id)-1 {
		return Ref{}, ErrUnknownTool
	}

	name, suffix := id[:idx], id[idx+1:]
	configID, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || configID <= 0 || strings.HasPrefix(suffix, "+") {
		return Ref{}, ErrUnknownTool
	}
	if !isKnownTool(name) {
		return Ref{}, ErrUnknownTool
	}

	return Ref{Name: name, ConfigID: configID}, nil
}
