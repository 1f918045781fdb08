package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// ApiResponse is the standard envelope for management and dispatch responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// DispatchErrorContext echoes what the caller asked for.
type DispatchErrorContext struct {
	ToolID          string `json:"tool_id,omitempty"`
	ToolName        string `json:"tool_name,omitempty"`
	IntegrationType string `json:"integration_type,omitempty"`
}

// DispatchErrorResponse is the failure envelope of the dispatch API.
type DispatchErrorResponse struct {
	Success   bool                 `json:"success"`
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	ErrorCode int                  `json:"error_code"`
	Context   DispatchErrorContext `json:"context"`
	Hint      string               `json:"hint,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteDispatchError writes err in the dispatch error envelope.
func WriteDispatchError(w http.ResponseWriter, err *services.DispatchError) error {
	return WriteJSON(w, err.Status, DispatchErrorResponse{
		Success:   false,
		Error:     string(err.Kind),
		Message:   err.Message,
		ErrorCode: err.Status,
		Context: DispatchErrorContext{
			ToolID:          err.ToolID,
			ToolName:        err.ToolName,
			IntegrationType: err.IntegrationType,
		},
		Hint: err.Hint,
	})
}
