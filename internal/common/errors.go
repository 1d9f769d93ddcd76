// Package common defines the sentinel errors and shared constants used across
// the panel core. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Store-level errors.
	ErrNotFound         = errors.New("not found")
	ErrRevisionConflict = errors.New("revision conflict")

	// Account and session errors.
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountAlreadyExists  = errors.New("account already exists")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidToken          = errors.New("token does not exist or expired")
	ErrMissingRequiredFields = errors.New("missing required fields")

	// Authorization errors.
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// Managed server errors.
	ErrServerExists       = errors.New("server already exists")
	ErrServerDoesNotExist = errors.New("server does not exist")
	ErrServerRunning      = errors.New("server is already running")
	ErrInvalidServerName  = errors.New("invalid server name")
)

// PermissionError reports the first permission a subject was missing.
type PermissionError struct {
	Permission uint64
	Name       string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("insufficient permissions: missing %q", e.Name)
}

// Is makes errors.Is(err, ErrInsufficientPermissions) hold for any PermissionError.
func (e *PermissionError) Is(target error) bool {
	return target == ErrInsufficientPermissions
}

// FieldsError lists the request fields that were absent or empty.
type FieldsError struct {
	Fields []string
}

func (e *FieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *FieldsError) Is(target error) bool {
	return target == ErrMissingRequiredFields
}

// MissingFields returns a FieldsError for the given names.
func MissingFields(fields ...string) error {
	return &FieldsError{Fields: fields}
}
