package core

import (
	"context"
	"fmt"

	"radoncore/pkg/domain"
)

const certificateIntegrityRuleName = "certificate_integrity"

// CertificateIntegrityRule guards certificate issuance: the referenced result
// must exist and be frozen, the certificate type must match the session's kit
// type, and the validity window must follow the policy for that type.
func CertificateIntegrityRule() domain.Rule {
	return certificateIntegrityRule{}
}

type certificateIntegrityRule struct{}

func (certificateIntegrityRule) Name() string { return certificateIntegrityRuleName }

func (certificateIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityCertificate || change.Action != domain.ActionCreate {
			continue
		}
		cert, ok := certificateFromChange(change.After)
		if !ok {
			continue
		}
		labResult, exists := view.FindLabResult(cert.ResultID)
		if !exists {
			result.Violations = append(result.Violations, blocking(certificateIntegrityRuleName, domain.EntityCertificate, cert.ID,
				fmt.Sprintf("certificate references unknown result %s", cert.ResultID)))
			continue
		}
		if !labResult.Immutable {
			result.Violations = append(result.Violations, blocking(certificateIntegrityRuleName, domain.EntityCertificate, cert.ID,
				"certificate issued against a result that is not frozen"))
		}
		session, exists := view.FindTestSession(labResult.SessionID)
		if !exists {
			result.Violations = append(result.Violations, blocking(certificateIntegrityRuleName, domain.EntityCertificate, cert.ID,
				fmt.Sprintf("certificate chain references unknown session %s", labResult.SessionID)))
			continue
		}
		if wantType, ok := domain.CertificateTypeForKit(session.KitType); !ok || cert.Type != wantType {
			result.Violations = append(result.Violations, blocking(certificateIntegrityRuleName, domain.EntityCertificate, cert.ID,
				fmt.Sprintf("certificate type %s does not match kit type %s", cert.Type, session.KitType)))
			continue
		}
		if want := domain.ValidUntil(cert.Type, cert.ValidFrom); !cert.ValidUntil.Equal(want) {
			result.Violations = append(result.Violations, blocking(certificateIntegrityRuleName, domain.EntityCertificate, cert.ID,
				fmt.Sprintf("validity window ends %s, policy requires %s", cert.ValidUntil, want)))
		}
	}
	return result, nil
}
