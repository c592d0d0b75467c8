// Package dcerrors defines the error kinds the store surfaces at its
// public boundary. NotFound is never one of these: load paths
// return (nil, nil) for "absent", per the boundary rule that a documented
// "absent" result is not an error.
package dcerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// TypeMismatch is returned when a record exists under a key/id but its
// stored variant is not the one the caller asked for.
type TypeMismatch struct {
	Key     string
	Wanted  string
	Stored  string
	Context string
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("dcerrors: type mismatch for %q (%s): wanted %s, stored %s", e.Key, e.Context, e.Wanted, e.Stored)
}

// IntegrityViolation covers the fatal schema invariants: a dataset self
// import, a dataset referenced outside root, id<=dataSet.id, a duplicate
// TID on insert, or a write attempted against an active cutoff.
type IntegrityViolation struct {
	Reason string
}

func (e *IntegrityViolation) Error() string { return "dcerrors: integrity violation: " + e.Reason }

// ReadOnly is returned when a write is refused because the data source or
// the target dataset is read-only.
type ReadOnly struct {
	DataSet string
}

func (e *ReadOnly) Error() string { return "dcerrors: read-only: " + e.DataSet }

// BadInput covers malformed keys, empty label definitions and invalid
// index specifiers.
type BadInput struct {
	Reason string
}

func (e *BadInput) Error() string { return "dcerrors: bad input: " + e.Reason }

// BackendError wraps an error returned by the backend port, preserving a
// stack trace across that boundary the way github.com/pkg/errors is used
// elsewhere in the ecosystem for exactly this kind of wrap.
type BackendError struct {
	cause error
}

// WrapBackend wraps err as a BackendError, unless err is nil in which case
// it returns nil. wrapped with pkg/errors.Wrap to retain a stack trace.
func WrapBackend(err error, context string) error {
	if err == nil {
		return nil
	}
	return &BackendError{cause: errors.Wrap(err, context)}
}

func (e *BackendError) Error() string { return e.cause.Error() }
func (e *BackendError) Unwrap() error { return e.cause }

// DuplicateKeyError is implemented by backend errors reporting a
// collision on a unique key. Backends distinguish this case by returning
// an error satisfying this interface so the dataset resolver can treat a
// racing auto-creation of a dataset-detail record as success rather than
// failure.
type DuplicateKeyError interface {
	error
	DuplicateKey() bool
}

// IsDuplicateKey reports whether err (typically a *BackendError) wraps a
// DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup DuplicateKeyError
	return errors.As(err, &dup) && dup.DuplicateKey()
}
