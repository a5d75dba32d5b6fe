package domain

import (
	"fmt"
	"sort"
	"strings"
)

type ValidationKind string

const (
	OutOfRange             ValidationKind = "OUT_OF_RANGE"
	MissingField           ValidationKind = "MISSING_FIELD"
	UnsupportedCombination ValidationKind = "UNSUPPORTED_COMBINATION"
	InvalidFileType        ValidationKind = "INVALID_FILE_TYPE"
	FileTooLarge           ValidationKind = "FILE_TOO_LARGE"
)

// ValidationError is a client-side, non-fatal error scoped to one field or
// one wizard step. Message is meant to be shown inline as-is.
type ValidationError struct {
	Kind    ValidationKind `json:"kind"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Message)
}

func NewValidationError(kind ValidationKind, field, message string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: message}
}

// NetworkError is a transport failure or timeout talking to the backend.
// It is always retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("error de red en %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is a 401 (session expired, RedirectTo points at the login page)
// or a 403 (stale security token, the page must be reloaded).
type AuthError struct {
	Status     int
	RedirectTo string
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("autenticación (%d): %s", e.Status, e.Message)
}

// BackendValidationError carries the backend's per-field validation errors.
type BackendValidationError struct {
	Status int
	Fields map[string][]string
	Detail string
}

func (e *BackendValidationError) Error() string {
	return "validación del servidor: " + e.Message()
}

// Message joins the field errors into one line for when they cannot be
// shown next to their fields.
func (e *BackendValidationError) Message() string {
	if len(e.Fields) == 0 {
		if e.Detail != "" {
			return e.Detail
		}
		return "Datos inválidos"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], ", ")))
	}
	return strings.Join(parts, "; ")
}
