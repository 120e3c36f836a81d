// Package importer implements the bulk member-migration pipeline: row
// normalization, identity resolution against the member store, point
// delta reconciliation against the append-only ledger, and batched
// writes with streamed progress.
package importer

import (
	"errors"
	"fmt"
)

// Row-level errors are caught per row and converted into a RowOutcome;
// they never abort the run. Error() strings are operator-readable and
// are echoed back in the results; raw store detail stays in the server
// log only.

// ValidationError reports a row that failed pre-flight validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a row whose phone and email resolve to two
// different existing members. Such a row must not mutate anything.
type ConflictError struct {
	PhoneMemberID uint64
	EmailMemberID uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("phone and email belong to different members (#%d and #%d)", e.PhoneMemberID, e.EmailMemberID)
}

// ProvisioningError reports a failed new-member creation. Creation is
// a one-shot side effect; the row is surfaced as an error rather than
// retried.
type ProvisioningError struct {
	Reason string
	cause  error
}

func (e *ProvisioningError) Error() string { return e.Reason }
func (e *ProvisioningError) Unwrap() error { return e.cause }

// PersistenceError reports a failed store operation, read or write. Op
// is a verb phrase ("save ledger entry", "load balances").
type PersistenceError struct {
	Op    string
	cause error
}

func (e *PersistenceError) Error() string {
	return "failed to " + e.Op
}
func (e *PersistenceError) Unwrap() error { return e.cause }

// FatalError aborts the whole run before any row is processed, e.g.
// when the uploaded file cannot be parsed at all.
type FatalError struct {
	Reason string
	cause  error
}

func (e *FatalError) Error() string { return e.Reason }
func (e *FatalError) Unwrap() error { return e.cause }

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
