package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a failed third-party call.
type ErrorKind string

const (
	// KindClient is a 4xx answer from the third party.
	KindClient ErrorKind = "client_error"
	// KindServer is a 5xx answer from the third party.
	KindServer ErrorKind = "server_error"
	// KindTransport is a network, DNS or TLS failure before a response arrived.
	KindTransport ErrorKind = "transport_error"
	// KindTimeout is a call that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindValidation is bad tool input caught before any call was made.
	KindValidation ErrorKind = "validation_error"
	// KindUnknown is anything else.
	KindUnknown ErrorKind = "unknown_error"
)

// ExecutionError is a classified connector failure.
type ExecutionError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if e.StatusCode > 0 && !strings.HasPrefix(msg, strconv.Itoa(e.StatusCode)) {
		msg = fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Hint returns caller-facing guidance for the failure.
func (e *ExecutionError) Hint() string {
	switch e.Kind {
	case KindClient:
		switch e.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "The third-party service rejected the stored credentials. Check the integration's credentials and permissions, then reconnect it."
		case http.StatusNotFound:
			return "The requested resource was not found. Check identifiers in the parameters."
		case http.StatusTooManyRequests:
			return "The third-party service is rate limiting requests. Try again later."
		}
		return "Check the tool parameters and the integration's credentials."
	case KindServer:
		return "The third-party service failed. Try again later."
	case KindTransport:
		return "The third-party service could not be reached. Check the configured URL and try again later."
	case KindTimeout:
		return "The third-party service did not answer in time. Try again later."
	case KindValidation:
		return "Check the tool parameters against the tool definition."
	default:
		return "An unexpected error occurred. Try again or contact support."
	}
}

// NewHTTPError builds an ExecutionError from a non-2xx status.
// The body is not included beyond a short detail string to avoid echoing secrets.
func NewHTTPError(statusCode int, detail string) *ExecutionError {
	kind := KindClient
	if statusCode >= 500 {
		kind = KindServer
	}
	msg := fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode))
	if detail = strings.TrimSpace(detail); detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return &ExecutionError{Kind: kind, StatusCode: statusCode, Message: msg}
}

// InvalidParam builds a validation error for a tool parameter.
func InvalidParam(name, reason string) *ExecutionError {
	return &ExecutionError{
		Kind:    KindValidation,
		Message: fmt.Sprintf("invalid parameter %q: %s", name, reason),
	}
}

// leadingStatus matches an HTTP status that opens an error message, as in "401 Unauthorized: ...".
var leadingStatus = regexp.MustCompile(`^\s*([45]\d\d)\b`)

// Classify converts any error returned by a connector into an ExecutionError.
// Errors that are already classified pass through unchanged.
func Classify(err error) *ExecutionError {
	if err == nil {
		return nil
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ExecutionError{Kind: KindTimeout, Message: "request timed out", Cause: err}
		}
		return &ExecutionError{Kind: KindTransport, Message: "connection failed", Cause: err}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return &ExecutionError{Kind: KindTimeout, Message: msg}
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset") || strings.Contains(lower, "tls:"):
		return &ExecutionError{Kind: KindTransport, Message: msg}
	}

	if m := leadingStatus.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		kind := KindClient
		if code >= 500 {
			kind = KindServer
		}
		return &ExecutionError{Kind: kind, StatusCode: code, Message: msg}
	}

	return &ExecutionError{Kind: KindUnknown, Message: msg}
}
