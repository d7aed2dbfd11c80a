package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Sessions are never deleted once
// created (cancellation is a terminal status) and certificates are only ever
// superseded, so neither has a delete operation.
type Transaction interface {
	Snapshot() TransactionView
	CreateHome(Home) (Home, error)
	UpdateHome(id string, mutator func(*Home) error) (Home, error)
	CreateTestSession(TestSession) (TestSession, error)
	UpdateTestSession(id string, mutator func(*TestSession) error) (TestSession, error)
	CreateLabResult(LabResult) (LabResult, error)
	UpdateLabResult(id string, mutator func(*LabResult) error) (LabResult, error)
	DeleteLabResult(id string) error
	CreateCertificate(Certificate) (Certificate, error)
	UpdateCertificate(id string, mutator func(*Certificate) error) (Certificate, error)
	FindHome(id string) (Home, bool)
	FindTestSession(id string) (TestSession, bool)
	FindLabResult(id string) (LabResult, bool)
	FindLabResultBySession(sessionID string) (LabResult, bool)
	FindCertificate(id string) (Certificate, bool)
	FindCertificateByResult(resultID string) (Certificate, bool)
	// HighestCertificateSequence returns the largest sequence already issued
	// for the given day prefix, or zero when none exists. Reading it and
	// inserting the next number happen inside one serialized transaction so
	// concurrent issuance cannot mint duplicates.
	HighestCertificateSequence(dayPrefix string) int
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView = RuleView

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetHome(id string) (Home, bool)
	ListHomes() []Home
	GetTestSession(id string) (TestSession, bool)
	ListTestSessions() []TestSession
	GetLabResultBySession(sessionID string) (LabResult, bool)
	GetCertificate(id string) (Certificate, bool)
	ListCertificates() []Certificate
}
