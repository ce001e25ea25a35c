package orbit

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("orbit: entity not found")

	// ErrConfig is matched by every configuration error: options that cannot
	// be combined, alias collisions, unknown named conditions and queries a
	// dialect cannot express. Configuration errors are never retried.
	ErrConfig = errors.New("orbit: configuration error")

	// ErrIntegrity is matched by every integrity error raised while mutating
	// a nested set, such as cycles or nodes missing from their scope.
	ErrIntegrity = errors.New("orbit: integrity error")
)

// ConfigError reports an invalid query or runtime configuration.
type ConfigError struct {
	Op  string // Operation that detected the problem (e.g. "merge", "combine")
	Msg string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("orbit: %s: %s", e.Op, e.Msg)
	}
	return "orbit: " + e.Msg
}

// Is reports whether the target error matches ConfigError.
// This allows errors.Is(configErr, ErrConfig) to return true.
func (e *ConfigError) Is(err error) bool {
	return err == ErrConfig
}

// NewConfigError returns a new ConfigError with a formatted message.
func NewConfigError(op, format string, args ...any) *ConfigError {
	return &ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError returns true if the error is a ConfigError.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e)
}

// IntegrityError reports a structural mutation that would corrupt a tree.
type IntegrityError struct {
	Op  string
	Msg string
	Err error // Optional cause, e.g. a NotFoundError
}

// Error returns the error string.
func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orbit: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("orbit: %s: %s", e.Op, e.Msg)
}

// Is reports whether the target error matches IntegrityError.
func (e *IntegrityError) Is(err error) bool {
	return err == ErrIntegrity
}

// Unwrap returns the underlying error.
func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// NewIntegrityError returns a new IntegrityError with a formatted message.
func NewIntegrityError(op, format string, args ...any) *IntegrityError {
	return &IntegrityError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsIntegrityError returns true if the error is an IntegrityError.
func IsIntegrityError(err error) bool {
	if err == nil {
		return false
	}
	var e *IntegrityError
	return errors.As(err, &e)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("orbit: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("orbit: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotLoadedError is returned by entities when a relation was never hydrated.
// A relation that was hydrated but matched no rows is loaded and empty.
type NotLoadedError struct {
	relation string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("orbit: relation %q was not loaded", e.relation)
}

// NewNotLoadedError returns a new NotLoadedError for the given relation name.
func NewNotLoadedError(relation string) *NotLoadedError {
	return &NotLoadedError{relation: relation}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("orbit: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err      error // Original error that triggered rollback
	Rollback error // Error returned by the rollback itself
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("orbit: rollback failed: %v: %v", e.Rollback, e.Err)
}

// Unwrap returns both the original and the rollback error.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Rollback}
}

// MutationError wraps a failed tree mutation with the table and operation.
type MutationError struct {
	Entity string // Table being mutated
	Op     string // Operation (e.g., "insert_first_child", "move", "delete")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("orbit: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
