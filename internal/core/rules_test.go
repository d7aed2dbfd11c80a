package core

import (
	"context"
	"testing"
	"time"

	"radoncore/pkg/domain"
)

type ruleViewStub struct {
	homes    map[string]domain.Home
	sessions map[string]domain.TestSession
	results  map[string]domain.LabResult
	certs    map[string]domain.Certificate
}

func newRuleView() *ruleViewStub {
	return &ruleViewStub{
		homes:    map[string]domain.Home{},
		sessions: map[string]domain.TestSession{},
		results:  map[string]domain.LabResult{},
		certs:    map[string]domain.Certificate{},
	}
}

func (v *ruleViewStub) ListHomes() []domain.Home {
	out := make([]domain.Home, 0, len(v.homes))
	for _, h := range v.homes {
		out = append(out, h)
	}
	return out
}

func (v *ruleViewStub) ListTestSessions() []domain.TestSession {
	out := make([]domain.TestSession, 0, len(v.sessions))
	for _, s := range v.sessions {
		out = append(out, s)
	}
	return out
}

func (v *ruleViewStub) ListLabResults() []domain.LabResult {
	out := make([]domain.LabResult, 0, len(v.results))
	for _, r := range v.results {
		out = append(out, r)
	}
	return out
}

func (v *ruleViewStub) ListCertificates() []domain.Certificate {
	out := make([]domain.Certificate, 0, len(v.certs))
	for _, c := range v.certs {
		out = append(out, c)
	}
	return out
}

func (v *ruleViewStub) FindHome(id string) (domain.Home, bool) {
	h, ok := v.homes[id]
	return h, ok
}

func (v *ruleViewStub) FindTestSession(id string) (domain.TestSession, bool) {
	s, ok := v.sessions[id]
	return s, ok
}

func (v *ruleViewStub) FindLabResult(id string) (domain.LabResult, bool) {
	r, ok := v.results[id]
	return r, ok
}

func (v *ruleViewStub) FindLabResultBySession(sessionID string) (domain.LabResult, bool) {
	for _, r := range v.results {
		if r.SessionID == sessionID {
			return r, true
		}
	}
	return domain.LabResult{}, false
}

func (v *ruleViewStub) FindCertificate(id string) (domain.Certificate, bool) {
	c, ok := v.certs[id]
	return c, ok
}

func (v *ruleViewStub) FindCertificateByResult(resultID string) (domain.Certificate, bool) {
	for _, c := range v.certs {
		if c.ResultID == resultID {
			return c, true
		}
	}
	return domain.Certificate{}, false
}

func stampedSession(id string, status domain.SessionStatus, at time.Time) domain.TestSession {
	expected := at.AddDate(0, 0, 91)
	due := at.AddDate(0, 0, 80)
	return domain.TestSession{
		Base:   domain.Base{ID: id},
		HomeID: "home-1", OrderID: "order-1", KitType: domain.KitLongTerm,
		SerialNumber: "SN-" + id, Status: status,
		ActivatedAt: &at, ExpectedCompletionDate: &expected, RetrievalDueAt: &due,
	}
}

func evaluateRule(t *testing.T, rule domain.Rule, view domain.RuleView, changes ...domain.Change) domain.Result {
	t.Helper()
	res, err := rule.Evaluate(context.Background(), view, changes)
	if err != nil {
		t.Fatalf("evaluate %s: %v", rule.Name(), err)
	}
	return res
}

func TestSessionTransitionRuleBlocksIllegalEdges(t *testing.T) {
	rule := SessionTransitionRule()
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	ordered := domain.TestSession{Base: domain.Base{ID: "s1"}, Status: domain.SessionOrdered}

	res := evaluateRule(t, rule, newRuleView(), domain.Change{
		Entity: domain.EntitySession, Action: domain.ActionUpdate,
		Before: ordered, After: stampedSession("s1", domain.SessionComplete, now),
	})
	if !res.HasBlocking() {
		t.Fatalf("ordered to complete must block")
	}

	res = evaluateRule(t, rule, newRuleView(), domain.Change{
		Entity: domain.EntitySession, Action: domain.ActionUpdate,
		Before: ordered, After: stampedSession("s1", domain.SessionActive, now),
	})
	if res.HasBlocking() {
		t.Fatalf("ordered to active with stamps must pass: %+v", res.Violations)
	}
}

func TestSessionTransitionRuleRequiresDerivedDates(t *testing.T) {
	rule := SessionTransitionRule()
	ordered := domain.TestSession{Base: domain.Base{ID: "s1"}, Status: domain.SessionOrdered}
	bare := domain.TestSession{Base: domain.Base{ID: "s1"}, Status: domain.SessionActive}

	res := evaluateRule(t, rule, newRuleView(), domain.Change{
		Entity: domain.EntitySession, Action: domain.ActionUpdate,
		Before: ordered, After: bare,
	})
	if len(res.Violations) != 2 {
		t.Fatalf("active without stamps should raise 2 violations, got %+v", res.Violations)
	}
}

func TestSessionTransitionRuleOnCreate(t *testing.T) {
	rule := SessionTransitionRule()

	res := evaluateRule(t, rule, newRuleView(), domain.Change{
		Entity: domain.EntitySession, Action: domain.ActionCreate,
		After: domain.TestSession{Base: domain.Base{ID: "s1"}, Status: domain.SessionStatus("limbo")},
	})
	if !res.HasBlocking() {
		t.Fatalf("unknown status must block")
	}

	res = evaluateRule(t, rule, newRuleView(), domain.Change{
		Entity: domain.EntitySession, Action: domain.ActionCreate,
		After: domain.TestSession{Base: domain.Base{ID: "s1"}, Status: domain.SessionOrdered},
	})
	if res.HasBlocking() {
		t.Fatalf("ordered create must pass: %+v", res.Violations)
	}
}

func TestResultChainRuleOnCreate(t *testing.T) {
	rule := ResultChainRule()
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	view := newRuleView()
	view.sessions["s1"] = stampedSession("s1", domain.SessionComplete, now)

	good := domain.LabResult{Base: domain.Base{ID: "r1"}, SessionID: "s1", Concentration: 450, Category: domain.RiskCaution}
	res := evaluateRule(t, rule, view, domain.Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: good})
	if res.HasBlocking() {
		t.Fatalf("valid result must pass: %+v", res.Violations)
	}

	cases := []struct {
		name   string
		result domain.LabResult
	}{
		{"unknown session", domain.LabResult{Base: domain.Base{ID: "r2"}, SessionID: "ghost", Concentration: 100, Category: domain.RiskBelowGuideline}},
		{"out of range", domain.LabResult{Base: domain.Base{ID: "r3"}, SessionID: "s1", Concentration: 10001, Category: domain.RiskUrgentAction}},
		{"category mismatch", domain.LabResult{Base: domain.Base{ID: "r4"}, SessionID: "s1", Concentration: 450, Category: domain.RiskBelowGuideline}},
	}
	for _, tc := range cases {
		res := evaluateRule(t, rule, view, domain.Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: tc.result})
		if !res.HasBlocking() {
			t.Errorf("%s: expected blocking violation", tc.name)
		}
	}
}

func TestResultChainRuleProtectsFrozenResults(t *testing.T) {
	rule := ResultChainRule()
	frozen := domain.LabResult{Base: domain.Base{ID: "r1"}, SessionID: "s1", Concentration: 450, Category: domain.RiskCaution, Immutable: true}
	changed := frozen
	changed.Concentration = 500
	changed.Category = domain.RiskCaution

	res := evaluateRule(t, rule, newRuleView(), domain.Change{Entity: domain.EntityResult, Action: domain.ActionUpdate, Before: frozen, After: changed})
	if !res.HasBlocking() {
		t.Fatalf("frozen measurement change must block")
	}

	res = evaluateRule(t, rule, newRuleView(), domain.Change{Entity: domain.EntityResult, Action: domain.ActionUpdate, Before: frozen, After: frozen})
	if res.HasBlocking() {
		t.Fatalf("no-op update of frozen result must pass: %+v", res.Violations)
	}

	res = evaluateRule(t, rule, newRuleView(), domain.Change{Entity: domain.EntityResult, Action: domain.ActionDelete, Before: frozen})
	if !res.HasBlocking() {
		t.Fatalf("frozen delete must block")
	}
}

func TestResultChainRuleBlocksDeleteBehindCertificate(t *testing.T) {
	rule := ResultChainRule()
	view := newRuleView()
	view.certs["c1"] = domain.Certificate{Base: domain.Base{ID: "c1"}, ResultID: "r1"}
	thawed := domain.LabResult{Base: domain.Base{ID: "r1"}, SessionID: "s1", Concentration: 100, Category: domain.RiskBelowGuideline}

	res := evaluateRule(t, rule, view, domain.Change{Entity: domain.EntityResult, Action: domain.ActionDelete, Before: thawed})
	if !res.HasBlocking() {
		t.Fatalf("delete behind a certificate must block")
	}
}

func TestCertificateIntegrityRule(t *testing.T) {
	rule := CertificateIntegrityRule()
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	view := newRuleView()
	view.sessions["s1"] = stampedSession("s1", domain.SessionComplete, now)
	view.results["r1"] = domain.LabResult{Base: domain.Base{ID: "r1"}, SessionID: "s1", Concentration: 450, Category: domain.RiskCaution, Immutable: true}

	good := domain.Certificate{
		Base: domain.Base{ID: "c1"}, ResultID: "r1", HomeID: "home-1",
		Number: "RC-20260226-0001", Type: domain.CertificateResidential,
		Status: domain.CertificateValid, ValidFrom: now, ValidUntil: domain.ValidUntil(domain.CertificateResidential, now),
	}
	res := evaluateRule(t, rule, view, domain.Change{Entity: domain.EntityCertificate, Action: domain.ActionCreate, After: good})
	if res.HasBlocking() {
		t.Fatalf("valid certificate must pass: %+v", res.Violations)
	}

	unknownResult := good
	unknownResult.ResultID = "ghost"
	wrongType := good
	wrongType.Type = domain.CertificateRealEstate
	wrongWindow := good
	wrongWindow.ValidUntil = now.AddDate(0, 0, 1)

	cases := []struct {
		name string
		cert domain.Certificate
	}{
		{"unknown result", unknownResult},
		{"type mismatch", wrongType},
		{"wrong validity window", wrongWindow},
	}
	for _, tc := range cases {
		res := evaluateRule(t, rule, view, domain.Change{Entity: domain.EntityCertificate, Action: domain.ActionCreate, After: tc.cert})
		if !res.HasBlocking() {
			t.Errorf("%s: expected blocking violation", tc.name)
		}
	}
}

func TestCertificateIntegrityRuleRequiresFrozenResult(t *testing.T) {
	rule := CertificateIntegrityRule()
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	view := newRuleView()
	view.sessions["s1"] = stampedSession("s1", domain.SessionComplete, now)
	view.results["r1"] = domain.LabResult{Base: domain.Base{ID: "r1"}, SessionID: "s1", Concentration: 450, Category: domain.RiskCaution}

	cert := domain.Certificate{
		Base: domain.Base{ID: "c1"}, ResultID: "r1", Type: domain.CertificateResidential,
		ValidFrom: now, ValidUntil: domain.ValidUntil(domain.CertificateResidential, now),
	}
	res := evaluateRule(t, rule, view, domain.Change{Entity: domain.EntityCertificate, Action: domain.ActionCreate, After: cert})
	if !res.HasBlocking() {
		t.Fatalf("certificate over a thawed result must block")
	}
}
