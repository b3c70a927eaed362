package types

import (
	"errors"
	"fmt"
)

// Error kinds. Typed errors below match these with errors.Is.
var (
	ErrTransport  = errors.New("transport failure")
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("entity not found")
)

// Store lifecycle and input errors.
var (
	ErrStoreDetached     = errors.New("store is detached")
	ErrAlreadyAttached   = errors.New("store is already attached")
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrInvalidID         = errors.New("invalid entity ID")
	ErrVirtualEntity     = errors.New("virtual entities cannot be persisted")
)

// TransportError reports a failure to reach or talk to the backing store.
// Retrying or fixing connectivity may succeed.
type TransportError struct {
	Op         string // list, create, update or delete
	Collection string
	Status     int // transport status code, 0 when none was received
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Collection, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Collection, msg)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports that the store rejected a payload. Retrying without
// changing the input will fail again.
type ValidationError struct {
	Collection string
	Field      string // offending attribute, empty when not attributable
	Reason     string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s entity: %s: %s", e.Collection, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s entity: %s", e.Collection, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports that the referenced ID does not exist.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Collection, e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsUserError reports whether err was caused by the caller's input rather
// than by the store or the network.
func IsUserError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidCollection) ||
		errors.Is(err, ErrVirtualEntity)
}
