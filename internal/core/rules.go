package core

import "radoncore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(SessionTransitionRule())
	engine.Register(ResultChainRule())
	engine.Register(CertificateIntegrityRule())
	return engine
}

func sessionFromChange(v any) (domain.TestSession, bool) {
	session, ok := v.(domain.TestSession)
	return session, ok
}

func resultFromChange(v any) (domain.LabResult, bool) {
	result, ok := v.(domain.LabResult)
	return result, ok
}

func certificateFromChange(v any) (domain.Certificate, bool) {
	cert, ok := v.(domain.Certificate)
	return cert, ok
}

func blocking(rule string, entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
