package core

import (
	"context"
	"fmt"

	"radoncore/pkg/domain"
)

const resultChainRuleName = "result_chain"

// ResultChainRule guards the session-to-result link: results must reference an
// existing session, carry an in-range concentration with the matching derived
// category, and never change or disappear once frozen by certificate issuance.
func ResultChainRule() domain.Rule {
	return resultChainRule{}
}

type resultChainRule struct{}

func (resultChainRule) Name() string { return resultChainRuleName }

func (resultChainRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityResult {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			after, ok := resultFromChange(change.After)
			if !ok {
				continue
			}
			if _, exists := view.FindTestSession(after.SessionID); !exists {
				result.Violations = append(result.Violations, blocking(resultChainRuleName, domain.EntityResult, after.ID,
					fmt.Sprintf("result references unknown session %s", after.SessionID)))
			}
			result.Violations = append(result.Violations, checkMeasurement(after)...)
		case domain.ActionUpdate:
			before, okBefore := resultFromChange(change.Before)
			after, okAfter := resultFromChange(change.After)
			if !okBefore || !okAfter {
				continue
			}
			if before.Immutable && measurementChanged(before, after) {
				result.Violations = append(result.Violations, blocking(resultChainRuleName, domain.EntityResult, after.ID,
					"immutable result cannot be modified"))
			}
			result.Violations = append(result.Violations, checkMeasurement(after)...)
		case domain.ActionDelete:
			before, ok := resultFromChange(change.Before)
			if !ok {
				continue
			}
			if before.Immutable {
				result.Violations = append(result.Violations, blocking(resultChainRuleName, domain.EntityResult, before.ID,
					"immutable result cannot be deleted"))
			}
			if _, exists := view.FindCertificateByResult(before.ID); exists {
				result.Violations = append(result.Violations, blocking(resultChainRuleName, domain.EntityResult, before.ID,
					"result with an issued certificate cannot be deleted"))
			}
		}
	}
	return result, nil
}

func measurementChanged(before, after domain.LabResult) bool {
	return before.Concentration != after.Concentration ||
		before.Category != after.Category ||
		before.SessionID != after.SessionID ||
		before.LabReference != after.LabReference
}

func checkMeasurement(r domain.LabResult) []domain.Violation {
	var violations []domain.Violation
	if !domain.ValidConcentration(r.Concentration) {
		violations = append(violations, blocking(resultChainRuleName, domain.EntityResult, r.ID,
			fmt.Sprintf("concentration %v outside the measurable range", r.Concentration)))
		return violations
	}
	if want := domain.ClassifyConcentration(r.Concentration); r.Category != want {
		violations = append(violations, blocking(resultChainRuleName, domain.EntityResult, r.ID,
			fmt.Sprintf("category %s does not match concentration %v (expected %s)", r.Category, r.Concentration, want)))
	}
	return violations
}
