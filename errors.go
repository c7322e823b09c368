package vscheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidField       = errors.New("invalid task field")
	ErrMalformedEntry     = errors.New("malformed entry")
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrLockLost means the sweep lock expired or was taken over while a sweep was still running.
	ErrLockLost = errors.New("sweep lock lost")
)

// MalformedEntryError is a stored key that cannot be decoded back into a Task.
type MalformedEntryError struct {
	Key    string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed entry %q: %s", e.Key, e.Reason)
}

func (e *MalformedEntryError) Is(target error) bool {
	return target == ErrMalformedEntry
}

// BackendError wraps a failed hand-off of Task to the execution backend.
type BackendError struct {
	Task Task
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("enqueue %s: %v", e.Task, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}
