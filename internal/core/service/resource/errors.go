package resource

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// failure kinds; every error returned by the store matches exactly one
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflicts with an existing record")
	ErrNotFound   = errors.New("record not found")
	ErrStorage    = errors.New("storage failure")

	// resource errors
	ErrUnknownResource = errors.New("unknown resource")
)

// FieldProblem names a field and why it was rejected.
type FieldProblem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type ValidationError struct {
	Problems []FieldProblem
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Problems: []FieldProblem{{Field: field, Reason: reason}}}
}

func (e *ValidationError) Add(field, reason string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Reason: reason})
}

// Fields returns the rejected field names in the order they were reported.
func (e *ValidationError) Fields() []string {
	names := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		names[i] = p.Field
	}
	return names
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Reason
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports a unique constraint that would be violated.
type ConflictError struct {
	Resource string
	Field    string
	Value    any
}

func (e *ConflictError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s %s: duplicate %s", e.Resource, ErrConflict, e.Field)
	}
	return fmt.Sprintf("%s %s: %s %q already exists", e.Resource, ErrConflict, e.Field, fmt.Sprint(e.Value))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps an infrastructure failure. The message includes the
// underlying driver error and must not be shown to end users.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStorage, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
