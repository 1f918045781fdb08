package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnknownIntegrationType = errors.New("unknown integration type")
	ErrCredentialsKeyMismatch = errors.New("integration credentials were encrypted with a different key")
)
