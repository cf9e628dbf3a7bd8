package application

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by application services.
var (
	// ErrRecordNotFound indicates no visible record matches the reference.
	ErrRecordNotFound = errors.New("record not found")

	// ErrUnknownCollection indicates no reconciler is registered under the name.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrOperationInFlight indicates a remote operation for the record is
	// still running, so its pending state cannot be discarded yet.
	ErrOperationInFlight = errors.New("remote operation in flight")

	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// FieldError describes a problem with one input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when user input fails validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Error))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// newFieldError builds a ValidationError for a single field.
func newFieldError(field, msg string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Error: msg}}}
}
