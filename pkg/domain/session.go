package domain

import "time"

// NextStatuses returns the allowed transition targets for a session status.
// Terminal states return an empty slice. The switch is exhaustive so that a
// new status forces a decision here.
func NextStatuses(status SessionStatus) []SessionStatus {
	switch status {
	case SessionOrdered:
		return []SessionStatus{SessionActive, SessionCancelled}
	case SessionActive:
		return []SessionStatus{SessionRetrievalDue, SessionCancelled}
	case SessionRetrievalDue:
		return []SessionStatus{SessionMailed, SessionExpired, SessionCancelled}
	case SessionMailed:
		return []SessionStatus{SessionResultsPending, SessionCancelled}
	case SessionResultsPending:
		return []SessionStatus{SessionComplete, SessionCancelled}
	case SessionComplete, SessionExpired, SessionCancelled:
		return []SessionStatus{}
	default:
		return nil
	}
}

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status SessionStatus) bool {
	switch status {
	case SessionComplete, SessionExpired, SessionCancelled:
		return true
	default:
		return false
	}
}

// KnownSessionStatus reports whether the value is one of the canonical statuses.
func KnownSessionStatus(status SessionStatus) bool {
	return NextStatuses(status) != nil
}

// ValidateTransition checks a status edge against the transition graph. A
// same-status request succeeds silently; anything off the graph returns an
// InvalidTransitionError carrying the current state and its allowed targets.
// The check is pure and must pass before any persistence write.
func ValidateTransition(sessionID string, current, target SessionStatus) error {
	if current == target {
		return nil
	}
	allowed := NextStatuses(current)
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return InvalidTransitionError{
		SessionID: sessionID,
		Current:   current,
		Target:    target,
		Allowed:   allowed,
	}
}

// ApplyTransition validates and applies a status transition, returning the
// updated session. The only transition with derived-field side effects is
// ordered->active: it stamps the activation timestamp and computes the
// expected-completion and retrieval-due dates from the kit type, all
// together. A reader must never observe an active session with a nil
// activation timestamp, so the caller persists the returned value in the
// same transaction that writes the status.
func ApplyTransition(session TestSession, target SessionStatus, now time.Time) (TestSession, error) {
	if err := ValidateTransition(session.ID, session.Status, target); err != nil {
		return TestSession{}, err
	}
	if session.Status == target {
		return session, nil
	}

	updated := session
	updated.Status = target
	if session.Status == SessionOrdered && target == SessionActive {
		activatedAt := now.UTC()
		timeline := ComputeTimeline(session.KitType, activatedAt)
		updated.ActivatedAt = &activatedAt
		updated.ExpectedCompletionDate = &timeline.ExpectedCompletion
		updated.RetrievalDueAt = &timeline.RetrievalDue
	}
	return updated, nil
}
