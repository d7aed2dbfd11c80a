// Package core exposes the transactional service layer over the radoncore
// domain: session lifecycle, lab result recording, and certificate issuance.
package core

import "radoncore/pkg/domain"

type (
	// Home aliases domain.Home for service-level operations.
	Home = domain.Home
	// TestSession aliases domain.TestSession.
	TestSession = domain.TestSession
	// LabResult aliases domain.LabResult.
	LabResult = domain.LabResult
	// Certificate aliases domain.Certificate.
	Certificate = domain.Certificate
	// KitType aliases domain.KitType.
	KitType = domain.KitType
	// SessionStatus aliases domain.SessionStatus.
	SessionStatus = domain.SessionStatus
	// RiskCategory aliases domain.RiskCategory.
	RiskCategory = domain.RiskCategory
	// CertificateType aliases domain.CertificateType.
	CertificateType = domain.CertificateType
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Rule aliases domain.Rule.
	Rule = domain.Rule
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
