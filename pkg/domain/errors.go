package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidTransitionError reports a status change not permitted from the
// session's current state. Allowed carries the legal targets so callers can
// render a precise message.
type InvalidTransitionError struct {
	SessionID string
	Current   SessionStatus
	Target    SessionStatus
	Allowed   []SessionStatus
}

func (e InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("session %s: transition %s -> %s not allowed (allowed: %s)",
		e.SessionID, e.Current, e.Target, strings.Join(allowed, ", "))
}

// ConflictError reports a violated one-to-one or immutability invariant.
type ConflictError struct {
	Entity EntityType
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// ValidationError reports client input that fails domain validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// RaceLostError indicates an optimistic concurrency check failed. The caller
// should retry the whole operation once before surfacing a transient error.
type RaceLostError struct {
	Scope string
}

func (e RaceLostError) Error() string {
	return fmt.Sprintf("concurrent update lost race on %s", e.Scope)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target InvalidTransitionError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

// IsRaceLost reports whether err is a RaceLostError.
func IsRaceLost(err error) bool {
	var target RaceLostError
	return errors.As(err, &target)
}
