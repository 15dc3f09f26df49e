package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoApplicableRule is returned when no rule's scope-qualifying
	// condition matches the transaction and no global fallback exists.
	// Callers must treat it as a distinct outcome, never a $0 success.
	ErrNoApplicableRule = errors.New("no applicable commission rule")

	// ErrDuplicateCommission is returned when a commission already exists
	// for the transaction.
	ErrDuplicateCommission = errors.New("commission already exists for transaction")
)

// FieldError is a per-field rule configuration error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a rule configuration.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Add appends a field error and marks the result invalid.
func (v *ValidationResult) Add(field, message string) {
	v.Valid = false
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message})
}

// Err returns a ValidationError when the result is invalid, nil otherwise.
func (v *ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	return &ValidationError{Errors: v.Errors}
}

// ValidationError wraps per-field rule configuration errors. Raised at rule
// creation or edit time, never mid-calculation.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "invalid rule configuration: " + strings.Join(parts, "; ")
}
