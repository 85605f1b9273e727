package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema marks a missing or mistyped input column.
	ErrSchema = errors.New("schema error")

	// ErrValidation marks a row whose values cannot be used.
	ErrValidation = errors.New("data validation error")
)

// SchemaError names the table and column that failed the schema check.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: table %s column %s: %s", ErrSchema, e.Table, e.Column, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// RowError names the offending row of an input table.
// Row is 1-based and counts data rows only.
type RowError struct {
	Table  string
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	msg := fmt.Sprintf("%s: table %s row %d column %s value %q", ErrValidation, e.Table, e.Row, e.Column, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RowError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}
