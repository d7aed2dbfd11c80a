// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by radoncore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityHome identifies a home record.
	EntityHome EntityType = "home"
	// EntitySession identifies a test-session record.
	EntitySession EntityType = "test_session"
	// EntityResult identifies a lab-result record.
	EntityResult EntityType = "lab_result"
	// EntityCertificate identifies a certificate record.
	EntityCertificate EntityType = "certificate"
)

// KitType enumerates the deployable radon test kit variants.
type KitType string

// Canonical kit types. The kit type selects the timeline policy and the
// certificate issuance type.
const (
	// KitLongTerm is the standard 91-day residential detector.
	KitLongTerm KitType = "long_term"
	// KitRealEstateShort is the short-stay detector used for property transactions.
	KitRealEstateShort KitType = "real_estate_short"
)

// SessionStatus enumerates the test-session lifecycle states.
type SessionStatus string

// Canonical session statuses. Complete, expired and cancelled are terminal.
const (
	SessionOrdered        SessionStatus = "ordered"
	SessionActive         SessionStatus = "active"
	SessionRetrievalDue   SessionStatus = "retrieval_due"
	SessionMailed         SessionStatus = "mailed"
	SessionResultsPending SessionStatus = "results_pending"
	SessionComplete       SessionStatus = "complete"
	SessionExpired        SessionStatus = "expired"
	SessionCancelled      SessionStatus = "cancelled"
)

// RiskCategory bands a radon concentration into one of four fixed categories.
type RiskCategory string

// Risk categories ordered by severity.
const (
	RiskBelowGuideline RiskCategory = "below_guideline"
	RiskCaution        RiskCategory = "caution"
	RiskActionRequired RiskCategory = "action_required"
	RiskUrgentAction   RiskCategory = "urgent_action"
)

// CertificateType distinguishes the two issuance policies.
type CertificateType string

// Issuance types. Residential certificates derive from long-term kits,
// real-estate certificates from short-stay kits.
const (
	CertificateResidential CertificateType = "residential"
	CertificateRealEstate  CertificateType = "real_estate"
)

// CertificateStatus enumerates certificate lifecycle states.
type CertificateStatus string

// Canonical certificate statuses. Superseded certificates are retained, never deleted.
const (
	CertificateValid      CertificateStatus = "valid"
	CertificateExpired    CertificateStatus = "expired"
	CertificateSuperseded CertificateStatus = "superseded"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Home holds the address a kit is deployed at and certificates attach to.
type Home struct {
	Base
	OwnerID    string `json:"owner_id"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
}

// TestSession tracks one physical kit deployed at one home for one order.
// The derived date fields stay nil until the ordered->active transition
// stamps them together with the activation timestamp.
type TestSession struct {
	Base
	HomeID                 string        `json:"home_id"`
	OrderID                string        `json:"order_id"`
	KitType                KitType       `json:"kit_type"`
	SerialNumber           string        `json:"serial_number"`
	Status                 SessionStatus `json:"status"`
	PlacementNote          string        `json:"placement_note,omitempty"`
	ActivatedAt            *time.Time    `json:"activated_at"`
	ExpectedCompletionDate *time.Time    `json:"expected_completion_date"`
	RetrievalDueAt         *time.Time    `json:"retrieval_due_at"`
	RetrievedAt            *time.Time    `json:"retrieved_at"`
	MailedAt               *time.Time    `json:"mailed_at"`
}

// LabResult is the single lab measurement concluding a session. Category is
// always derived from Concentration, never stored independently of it.
type LabResult struct {
	Base
	SessionID     string       `json:"session_id"`
	Concentration float64      `json:"concentration"`
	Category      RiskCategory `json:"category"`
	LabReference  string       `json:"lab_reference,omitempty"`
	Immutable     bool         `json:"immutable"`
	RecordedAt    time.Time    `json:"recorded_at"`
}

// Certificate is the durable, publicly verifiable proof of a completed test.
type Certificate struct {
	Base
	ResultID          string            `json:"result_id"`
	HomeID            string            `json:"home_id"`
	Number            string            `json:"number"`
	Type              CertificateType   `json:"type"`
	Status            CertificateStatus `json:"status"`
	VerificationToken string            `json:"verification_token"`
	ValidFrom         time.Time         `json:"valid_from"`
	ValidUntil        time.Time         `json:"valid_until"`
	SupersededAt      *time.Time        `json:"superseded_at"`
}

// Change describes a mutation applied to an entity during a transaction.
// Before and After carry cloned entity values for rule evaluation.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
