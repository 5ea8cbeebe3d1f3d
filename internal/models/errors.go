package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrNoGarageFound     = errors.New("no garage found")
	ErrUnreachable       = errors.New("garage has no valid push token")
	ErrGateway           = errors.New("push gateway error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("status precondition failed")
	ErrPersistence       = errors.New("persistence failure")
	ErrServer            = errors.New("internal server error")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError reports a rejected edge together with the status the
// record had when it was rejected.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
