package request

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for unknown request ids, and for records the
// caller is not allowed to see.
var ErrNotFound = errors.New("request not found")

// ErrForbidden is returned when the acting user is not the actor a
// transition permits.
var ErrForbidden = errors.New("operation not permitted for this user")

// InvalidTransitionError reports an event that is not legal from the
// record's current status. The record is left untouched.
type InvalidTransitionError struct {
	Current Status
	Event   Event
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s from %s: %s", e.Event, e.Current, e.Reason)
	}
	return fmt.Sprintf("cannot %s from %s", e.Event, e.Current)
}

// ValidationError reports a missing or malformed input for the attempted
// operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// CollaboratorError reports a failure in an external collaborator (record
// store, document generator, signature provider). The transition that
// triggered the call did not commit.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func invalidTransition(current Status, ev Event, reason string) error {
	return &InvalidTransitionError{Current: current, Event: ev, Reason: reason}
}

func validationFailed(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func collaboratorFailed(name string, err error) error {
	return &CollaboratorError{Collaborator: name, Err: err}
}
