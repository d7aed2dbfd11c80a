package domain

import (
	"fmt"
	"strings"
	"testing"
)

func TestErrorPredicates(t *testing.T) {
	notFound := NotFoundError{Entity: EntitySession, ID: "s1"}
	conflict := ConflictError{Entity: EntityResult, ID: "r1", Reason: "result is immutable"}
	validation := ValidationError{Field: "concentration", Reason: "out of range"}
	race := RaceLostError{Scope: "state snapshot"}
	invalid := InvalidTransitionError{SessionID: "s1", Current: SessionComplete, Target: SessionActive}

	cases := []struct {
		err       error
		predicate func(error) bool
		name      string
	}{
		{notFound, IsNotFound, "not found"},
		{conflict, IsConflict, "conflict"},
		{validation, IsValidation, "validation"},
		{race, IsRaceLost, "race lost"},
		{invalid, IsInvalidTransition, "invalid transition"},
	}
	for _, tc := range cases {
		if !tc.predicate(tc.err) {
			t.Errorf("%s: predicate rejected its own error", tc.name)
		}
		if !tc.predicate(fmt.Errorf("wrapped: %w", tc.err)) {
			t.Errorf("%s: predicate must unwrap", tc.name)
		}
	}
	if IsNotFound(conflict) || IsConflict(notFound) || IsValidation(race) {
		t.Fatalf("predicates must not cross-match")
	}
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	err := InvalidTransitionError{
		SessionID: "s1",
		Current:   SessionRetrievalDue,
		Target:    SessionComplete,
		Allowed:   NextStatuses(SessionRetrievalDue),
	}
	msg := err.Error()
	for _, fragment := range []string{"s1", "retrieval_due", "complete", "mailed", "expired", "cancelled"} {
		if !strings.Contains(msg, fragment) {
			t.Errorf("message %q missing %q", msg, fragment)
		}
	}
}
