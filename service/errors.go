package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stevemurr/recstore/schema"
)

var (
	// ErrValidationFailed matches every *ValidationError.
	ErrValidationFailed = errors.New("validation failed")

	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("conflict")

	// ErrAfterHook matches every *AfterHookError.
	ErrAfterHook = errors.New("after hook failed")
)

// ValidationError is returned by a before-hook when a record breaks the
// rules of its type. The store was not called.
type ValidationError struct {
	Type       string
	Violations []schema.Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Type, strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// ConflictError reports a uniqueness violation found by a hook.
type ConflictError struct {
	Type  string
	Field string
	Value any
}

// NewConflictError builds a ConflictError for a field of typeName.
func NewConflictError(typeName, field string, value any) *ConflictError {
	return &ConflictError{Type: typeName, Field: field, Value: value}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %v already exists", e.Type, e.Field, e.Value)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// AfterHookError is returned when the store operation succeeded but its
// after-hook failed. The operation's result is returned alongside it.
type AfterHookError struct {
	Op  string
	Err error
}

func (e *AfterHookError) Error() string {
	return fmt.Sprintf("%s succeeded but after hook failed: %v", e.Op, e.Err)
}

func (e *AfterHookError) Unwrap() error {
	return e.Err
}

func (e *AfterHookError) Is(target error) bool {
	return target == ErrAfterHook
}
