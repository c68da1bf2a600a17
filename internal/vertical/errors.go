package vertical

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the vertical registry.
var (
	ErrUnknownVertical = errors.New("unknown vertical")
	ErrSchemaConflict  = errors.New("vertical schema conflict")
	ErrInvalidSchema   = errors.New("invalid vertical schema")
)

// ViolationKind classifies a single validation failure.
type ViolationKind string

const (
	MissingField ViolationKind = "missing_field"
	TypeMismatch ViolationKind = "type_mismatch"
)

// Violation describes one field that failed validation.
type Violation struct {
	Field  string        `json:"field"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

// ValidationError enumerates every violation found in a payload.
type ValidationError struct {
	Vertical   string      `json:"vertical"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Kind))
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Vertical, strings.Join(parts, ", "))
}

// SchemaConflictError names the fields whose definitions are incompatible.
type SchemaConflictError struct {
	Vertical string
	Fields   []string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("%s: %s: incompatible fields %s", ErrSchemaConflict, e.Vertical, strings.Join(e.Fields, ", "))
}

func (e *SchemaConflictError) Unwrap() error { return ErrSchemaConflict }
