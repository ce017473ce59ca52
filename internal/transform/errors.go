package transform

import (
	"errors"
	"fmt"
)

// ErrSchemaViolation matches every ViolationError.
var ErrSchemaViolation = errors.New("schema violation")

// Causes carried by a ViolationError.
var (
	ErrRankMismatch    = errors.New("rank mismatch")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrOutOfRange      = errors.New("value out of range")
	ErrMissingRequired = errors.New("required field missing")
	ErrLengthMismatch  = errors.New("sub-row length mismatch")
)

// ViolationError reports a raw record that does not fit the declared
// schema. The whole batch is rejected when one is returned.
type ViolationError struct {
	// Column is the dotted output column path, e.g. "lightcurve.flux".
	Column string
	// Field is the raw field the column was read from.
	Field string
	// Record is the index of the offending record within the batch.
	Record int
	Reason string
	Err    error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("schema violation in column %q (field %q) at record %d: %s: %s",
		e.Column, e.Field, e.Record, e.Err, e.Reason)
}

func (e *ViolationError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrSchemaViolation as well as the cause.
func (e *ViolationError) Is(target error) bool { return target == ErrSchemaViolation }

// fault is a cause without position; convert attaches column and record.
type fault struct {
	err    error
	reason string
	path   string
}

func (f *fault) Error() string { return f.err.Error() + ": " + f.reason }

func faultf(err error, format string, args ...any) *fault {
	return &fault{err: err, reason: fmt.Sprintf(format, args...)}
}

// at prefixes a nested path segment onto a fault raised below a column.
func at(segment string, err error) error {
	var f *fault
	if errors.As(err, &f) {
		if f.path == "" {
			f.path = segment
		} else {
			f.path = segment + "." + f.path
		}
		return f
	}
	return err
}
