package core

import (
	"context"
	"fmt"

	"radoncore/pkg/domain"
)

const sessionTransitionRuleName = "session_transition"

// SessionTransitionRule blocks session updates that leave the status graph or
// that produce an active session without its activation stamps. The service
// validates transitions procedurally; the rule backstops direct store usage.
func SessionTransitionRule() domain.Rule {
	return sessionTransitionRule{}
}

type sessionTransitionRule struct{}

func (sessionTransitionRule) Name() string { return sessionTransitionRuleName }

func (sessionTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntitySession {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			session, ok := sessionFromChange(change.After)
			if !ok {
				continue
			}
			if !domain.KnownSessionStatus(session.Status) {
				result.Violations = append(result.Violations, blocking(sessionTransitionRuleName, domain.EntitySession, session.ID,
					fmt.Sprintf("unknown session status %q", session.Status)))
			}
			result.Violations = append(result.Violations, checkDerivedDates(session)...)
		case domain.ActionUpdate:
			before, okBefore := sessionFromChange(change.Before)
			after, okAfter := sessionFromChange(change.After)
			if !okBefore || !okAfter {
				continue
			}
			if err := domain.ValidateTransition(after.ID, before.Status, after.Status); err != nil {
				result.Violations = append(result.Violations, blocking(sessionTransitionRuleName, domain.EntitySession, after.ID, err.Error()))
			}
			result.Violations = append(result.Violations, checkDerivedDates(after)...)
		}
	}
	return result, nil
}

// checkDerivedDates enforces that any session at or past activation carries
// its activation timestamp and derived dates.
func checkDerivedDates(session domain.TestSession) []domain.Violation {
	switch session.Status {
	case domain.SessionActive, domain.SessionRetrievalDue, domain.SessionMailed,
		domain.SessionResultsPending, domain.SessionComplete:
	default:
		return nil
	}
	var violations []domain.Violation
	if session.ActivatedAt == nil {
		violations = append(violations, blocking(sessionTransitionRuleName, domain.EntitySession, session.ID,
			fmt.Sprintf("status %s requires an activation timestamp", session.Status)))
	}
	if session.ExpectedCompletionDate == nil || session.RetrievalDueAt == nil {
		violations = append(violations, blocking(sessionTransitionRuleName, domain.EntitySession, session.ID,
			fmt.Sprintf("status %s requires derived timeline dates", session.Status)))
	}
	return violations
}
