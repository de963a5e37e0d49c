package alarm

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrScheduling  = errors.New("scheduling failed")
	ErrPersistence = errors.New("persistence failed")
)

// ValidationError reports a malformed field before create/update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid alarm: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for &ValidationError{...}.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown alarm or instance id.
type NotFoundError struct {
	AlarmID    string
	InstanceID string
}

func (e *NotFoundError) Error() string {
	if e.InstanceID != "" {
		return fmt.Sprintf("instance %q of alarm %q not found", e.InstanceID, e.AlarmID)
	}
	return fmt.Sprintf("alarm %q not found", e.AlarmID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// SchedulingError reports that the notification bridge rejected one or more
// schedule/cancel calls. The store mutation that triggered it is committed.
type SchedulingError struct {
	AlarmID string
	Err     error
}

func (e *SchedulingError) Error() string {
	if e.AlarmID == "" {
		return "scheduling: " + e.Err.Error()
	}
	return fmt.Sprintf("scheduling alarm %q: %v", e.AlarmID, e.Err)
}

func (e *SchedulingError) Unwrap() error        { return e.Err }
func (e *SchedulingError) Is(target error) bool { return target == ErrScheduling }

// PersistenceError reports that the snapshot could not be flushed.
// The prior on-disk state stays authoritative.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
