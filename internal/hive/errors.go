package hive

import (
	"errors"
	"fmt"
)

var (
	// ErrDroneNotFound is returned when no drone matches the given
	// name or ID.
	ErrDroneNotFound = errors.New("drone not found")

	// ErrDroneExists is returned when a create or rename targets a
	// name already held by a live drone.
	ErrDroneExists = errors.New("drone name already in use")

	// ErrGroupNotFound is returned when no group matches the name.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGroupExists is returned on duplicate group create. Duplicate
	// create is a conflict, not an idempotent no-op.
	ErrGroupExists = errors.New("group already exists")

	// ErrInvalidName is returned for names that fail validation.
	ErrInvalidName = errors.New("invalid name")

	// ErrReservedName is returned when an operation targets the
	// reserved ungrouped sentinel.
	ErrReservedName = errors.New("name is reserved")

	// ErrNoRepo is returned by repo operations on a drone with no
	// repo path attached.
	ErrNoRepo = errors.New("drone has no repo attached")
)

// RolledBackError reports an operation whose runtime step succeeded,
// whose registry step failed, and whose compensating action restored
// the pre-operation state. The system is consistent; the operation
// simply did not happen.
type RolledBackError struct {
	Op  string
	Err error
}

func (e *RolledBackError) Error() string {
	return fmt.Sprintf("%s failed and was rolled back: %v", e.Op, e.Err)
}

func (e *RolledBackError) Unwrap() error {
	return e.Err
}

// CompensationError is the fatal case: the registry step failed and the
// compensating runtime action failed too, leaving the container and the
// registry disagreeing about the drone's name. This is not
// auto-recoverable and needs operator attention.
type CompensationError struct {
	Op      string
	Cause   error // the failure that triggered compensation
	CompErr error // the compensation failure
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s failed (%v) and compensation also failed (%v): manual intervention required",
		e.Op, e.Cause, e.CompErr)
}

func (e *CompensationError) Unwrap() error {
	return e.Cause
}
