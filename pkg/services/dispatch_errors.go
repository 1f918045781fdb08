package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
)

// DispatchErrorKind is the caller-facing classification of a failed dispatch.
type DispatchErrorKind string

const (
	DispatchAuthentication         DispatchErrorKind = "authentication_error"
	DispatchInvalidRequest         DispatchErrorKind = "invalid_request"
	DispatchToolNotFound           DispatchErrorKind = "tool_not_found"
	DispatchConfiguration          DispatchErrorKind = "configuration_error"
	DispatchCredentialsUnavailable DispatchErrorKind = "credentials_unavailable"
	DispatchInvalidParameters      DispatchErrorKind = "invalid_parameters"
	DispatchConnectorExecution     DispatchErrorKind = "connector_execution_error"
	DispatchInternal               DispatchErrorKind = "internal_error"
)

// DispatchError is returned by the dispatcher for every failed request.
// Message and Hint are safe to show the caller; Cause is for logs and the audit log only.
type DispatchError struct {
	Kind    DispatchErrorKind
	Status  int
	Message string
	Hint    string
	Cause   error

	// Request context echoed in the error envelope.
	ToolID          string
	ToolName        string
	IntegrationType string

	// ConnectorKind is set for connector execution failures.
	ConnectorKind connectors.ErrorKind
}

func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// AsDispatchError extracts a *DispatchError from err.
func AsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func errInvalidRequest(message string) *DispatchError {
	return &DispatchError{
		Kind:    DispatchInvalidRequest,
		Status:  http.StatusBadRequest,
		Message: message,
		Hint:    "Check the request body: send tool_id or tool.name, and parameters as an object.",
	}
}

func errToolNotFound(toolID string) *DispatchError {
	return &DispatchError{
		Kind:    DispatchToolNotFound,
		Status:  http.StatusNotFound,
		Message: "Tool not found",
		Hint:    "List the available tools with GET /api/v1/tools and use an id from that list.",
		ToolID:  toolID,
	}
}

func errConfiguration(status int, message, hint string) *DispatchError {
	return &DispatchError{
		Kind:    DispatchConfiguration,
		Status:  status,
		Message: message,
		Hint:    hint,
	}
}

func errCredentialsUnavailable(message string, cause error) *DispatchError {
	return &DispatchError{
		Kind:    DispatchCredentialsUnavailable,
		Status:  http.StatusBadRequest,
		Message: message,
		Hint:    "Open the integration settings and enter the credentials again.",
		Cause:   cause,
	}
}

func errInternal(message string, cause error) *DispatchError {
	return &DispatchError{
		Kind:    DispatchInternal,
		Status:  http.StatusInternalServerError,
		Message: message,
		Hint:    "An unexpected error occurred. Try again or contact support.",
		Cause:   cause,
	}
}

// errFromExecution converts a connector failure into a dispatch error.
// Bad input caught by the connector is the caller's problem (400); anything
// the third party or the network did wrong is a bad gateway (502).
func errFromExecution(execErr *connectors.ExecutionError) *DispatchError {
	if execErr.Kind == connectors.KindValidation {
		return &DispatchError{
			Kind:          DispatchInvalidParameters,
			Status:        http.StatusBadRequest,
			Message:       execErr.Message,
			Hint:          execErr.Hint(),
			Cause:         execErr,
			ConnectorKind: execErr.Kind,
		}
	}
	return &DispatchError{
		Kind:          DispatchConnectorExecution,
		Status:        http.StatusBadGateway,
		Message:       execErr.Message,
		Hint:          execErr.Hint(),
		Cause:         execErr,
		ConnectorKind: execErr.Kind,
	}
}
