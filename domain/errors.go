package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConcurrencyConflict indicates that the underlying storage rejected a
// write because the row changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrDuplicateKey is the expected outcome of a conditional insert whose key
// already exists. It is never surfaced to callers.
var ErrDuplicateKey = errors.New("duplicate key")

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return "missing required fields: " + strings.Join(e.Fields, ", ")
	}
	return e.Message
}

// RequireFields returns a ValidationError naming every empty field, or nil.
func RequireFields(fields map[string]string, order ...string) error {
	var missing []string
	for _, name := range order {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Fields: missing}
}

// PersistenceError wraps a backing-store failure other than an expected
// conditional-insert conflict.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PublishError describes a failed event emission. Publishers log it and
// report false instead of returning it.
type PublishError struct {
	DetailType DetailType
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.DetailType, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// MalformedEventError marks an event that cannot be keyed and is therefore
// dropped instead of retried.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string { return "malformed event: " + e.Reason }

// IsMalformed reports whether err is a MalformedEventError.
func IsMalformed(err error) bool {
	var m *MalformedEventError
	return errors.As(err, &m)
}
