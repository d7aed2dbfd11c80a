package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"radoncore/internal/blob"
	"radoncore/pkg/domain"
)

// RecordResult stores the lab measurement for a session and completes the
// session through the state machine. Recording is allowed once the kit is at
// the lab (mailed or results_pending) or when re-reading a completed session
// that lost its result to a correction; a session holds at most one result.
func (s *Service) RecordResult(ctx context.Context, sessionID string, concentration float64, labReference string) (LabResult, Result, error) {
	var created LabResult
	var res Result
	err := s.run(ctx, "record_result", func() string { return created.ID }, func(ctx context.Context) error {
		if !domain.ValidConcentration(concentration) {
			return domain.ValidationError{
				Field:  "concentration",
				Reason: fmt.Sprintf("must be within [0, %v] Bq/m3", domain.MaxConcentration),
			}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			session, ok := tx.FindTestSession(sessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySession, ID: sessionID}
			}
			switch session.Status {
			case domain.SessionMailed, domain.SessionResultsPending, domain.SessionComplete:
			default:
				return domain.InvalidTransitionError{
					SessionID: sessionID,
					Current:   session.Status,
					Target:    domain.SessionComplete,
					Allowed:   domain.NextStatuses(session.Status),
				}
			}

			recordedAt := s.clock.Now().UTC()
			var txErr error
			created, txErr = tx.CreateLabResult(LabResult{
				SessionID:     sessionID,
				Concentration: concentration,
				Category:      domain.ClassifyConcentration(concentration),
				LabReference:  labReference,
				RecordedAt:    recordedAt,
			})
			if txErr != nil {
				return txErr
			}

			// Walk the remaining edges to complete in the same commit, one
			// hop per write so each change is a single legal transition.
			for session.Status != domain.SessionComplete {
				var target SessionStatus
				if session.Status == domain.SessionMailed {
					target = domain.SessionResultsPending
				} else {
					target = domain.SessionComplete
				}
				session, txErr = domain.ApplyTransition(session, target, recordedAt)
				if txErr != nil {
					return txErr
				}
				hop := session
				if _, txErr = tx.UpdateTestSession(sessionID, func(stored *TestSession) error {
					*stored = hop
					return nil
				}); txErr != nil {
					return txErr
				}
			}
			return nil
		})
		return err
	})
	if err == nil {
		s.notify(ctx, Event{Kind: EventResultRecorded, SessionID: sessionID, ResultID: created.ID})
	}
	return created, res, err
}

// GetResultForSession retrieves the single result owned by a session.
func (s *Service) GetResultForSession(_ context.Context, sessionID string) (LabResult, error) {
	result, ok := s.store.GetLabResultBySession(sessionID)
	if !ok {
		return LabResult{}, domain.NotFoundError{Entity: domain.EntityResult, ID: sessionID}
	}
	return result, nil
}

// UpdateResult corrects a measurement before certificate issuance. The risk
// category is always re-derived from the new concentration.
func (s *Service) UpdateResult(ctx context.Context, id string, concentration float64, labReference string) (LabResult, Result, error) {
	var updated LabResult
	var res Result
	err := s.run(ctx, "update_result", func() string { return id }, func(ctx context.Context) error {
		if !domain.ValidConcentration(concentration) {
			return domain.ValidationError{
				Field:  "concentration",
				Reason: fmt.Sprintf("must be within [0, %v] Bq/m3", domain.MaxConcentration),
			}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindLabResult(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityResult, ID: id}
			}
			if current.Immutable {
				return domain.ConflictError{Entity: domain.EntityResult, ID: id, Reason: "result is immutable"}
			}
			var txErr error
			updated, txErr = tx.UpdateLabResult(id, func(r *LabResult) error {
				r.Concentration = concentration
				r.Category = domain.ClassifyConcentration(concentration)
				if labReference != "" {
					r.LabReference = labReference
				}
				return nil
			})
			return txErr
		})
		return err
	})
	return updated, res, err
}

// DeleteResult removes a measurement that was recorded in error. Frozen
// results and results backing a certificate are protected.
func (s *Service) DeleteResult(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_result", func() string { return id }, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindLabResult(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityResult, ID: id}
			}
			if current.Immutable {
				return domain.ConflictError{Entity: domain.EntityResult, ID: id, Reason: "result is immutable"}
			}
			if cert, exists := tx.FindCertificateByResult(id); exists {
				return domain.ConflictError{Entity: domain.EntityResult, ID: id,
					Reason: fmt.Sprintf("certificate %s references this result", cert.Number)}
			}
			return tx.DeleteLabResult(id)
		})
		return err
	})
	return res, err
}

// IssueCertificate mints the certificate for a completed session. The
// day-scoped sequence read, the result immutability flip, and the certificate
// insert all happen in one serialized transaction, so concurrent issuance can
// neither duplicate numbers nor leave a certificate on a thawed result.
// A nil validFrom starts the validity window at the issuance instant; the
// certificate number is always scoped to the issuance day.
func (s *Service) IssueCertificate(ctx context.Context, sessionID string, validFrom *time.Time) (Certificate, Result, error) {
	var issued Certificate
	var res Result
	err := s.run(ctx, "issue_certificate", func() string { return issued.ID }, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			session, ok := tx.FindTestSession(sessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySession, ID: sessionID}
			}
			if session.Status != domain.SessionComplete {
				return domain.ConflictError{Entity: domain.EntitySession, ID: sessionID,
					Reason: fmt.Sprintf("session is %s, certificates require complete", session.Status)}
			}
			result, ok := tx.FindLabResultBySession(sessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityResult, ID: sessionID}
			}
			if existing, exists := tx.FindCertificateByResult(result.ID); exists {
				return domain.ConflictError{Entity: domain.EntityCertificate, ID: existing.ID,
					Reason: fmt.Sprintf("result already certified as %s", existing.Number)}
			}
			certType, ok := domain.CertificateTypeForKit(session.KitType)
			if !ok {
				return domain.ValidationError{Field: "kit_type", Reason: fmt.Sprintf("no issuance policy for kit type %s", session.KitType)}
			}

			if _, err := tx.UpdateLabResult(result.ID, func(r *LabResult) error {
				r.Immutable = true
				return nil
			}); err != nil {
				return err
			}

			issuedAt := s.clock.Now().UTC()
			from := issuedAt
			if validFrom != nil {
				from = validFrom.UTC()
			}
			sequence := tx.HighestCertificateSequence(domain.CertificateDayPrefix(issuedAt)) + 1
			var txErr error
			issued, txErr = tx.CreateCertificate(Certificate{
				ResultID:          result.ID,
				HomeID:            session.HomeID,
				Number:            domain.FormatCertificateNumber(issuedAt, sequence),
				Type:              certType,
				Status:            domain.CertificateValid,
				VerificationToken: uuid.NewString(),
				ValidFrom:         from,
				ValidUntil:        domain.ValidUntil(certType, from),
			})
			return txErr
		})
		return err
	})
	if err == nil {
		s.notify(ctx, Event{Kind: EventCertificateIssued, SessionID: sessionID, ResultID: issued.ResultID, CertID: issued.ID})
	}
	return issued, res, err
}

// GetCertificate retrieves a certificate by ID.
func (s *Service) GetCertificate(_ context.Context, id string) (Certificate, error) {
	cert, ok := s.store.GetCertificate(id)
	if !ok {
		return Certificate{}, domain.NotFoundError{Entity: domain.EntityCertificate, ID: id}
	}
	return cert, nil
}

// ListCertificates returns all certificates.
func (s *Service) ListCertificates(context.Context) []Certificate {
	return s.store.ListCertificates()
}

// SupersedeCertificate retires a certificate, for example after a home is
// remediated and retested. Superseded certificates are retained for audit.
func (s *Service) SupersedeCertificate(ctx context.Context, id string) (Certificate, Result, error) {
	var updated Certificate
	var res Result
	err := s.run(ctx, "supersede_certificate", func() string { return id }, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindCertificate(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityCertificate, ID: id}
			}
			if current.Status == domain.CertificateSuperseded {
				return domain.ConflictError{Entity: domain.EntityCertificate, ID: id, Reason: "already superseded"}
			}
			supersededAt := s.clock.Now().UTC()
			var txErr error
			updated, txErr = tx.UpdateCertificate(id, func(c *Certificate) error {
				c.Status = domain.CertificateSuperseded
				c.SupersededAt = &supersededAt
				return nil
			})
			return txErr
		})
		return err
	})
	return updated, res, err
}

// CertificateVerification is the public view returned to an anonymous
// verifier. It omits internal identifiers and the full address.
type CertificateVerification struct {
	Number        string                   `json:"number"`
	Type          CertificateType          `json:"type"`
	Status        domain.CertificateStatus `json:"status"`
	Concentration float64                  `json:"concentration"`
	Category      RiskCategory             `json:"category"`
	City          string                   `json:"city"`
	Region        string                   `json:"region"`
	ValidFrom     time.Time                `json:"valid_from"`
	ValidUntil    time.Time                `json:"valid_until"`
	IsValid       bool                     `json:"is_valid"`
}

// VerifyCertificate resolves a certificate reference, either the public
// verification token or the certificate id, to the reduced public view.
// Validity is computed against the service clock at call time. No caller
// identity is required.
func (s *Service) VerifyCertificate(ctx context.Context, ref string) (CertificateVerification, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return CertificateVerification{}, domain.ValidationError{Field: "ref", Reason: "required"}
	}
	var verification CertificateVerification
	found := false
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		for _, cert := range view.ListCertificates() {
			if cert.VerificationToken != ref && cert.ID != ref {
				continue
			}
			found = true
			verification = CertificateVerification{
				Number:     cert.Number,
				Type:       cert.Type,
				Status:     cert.Status,
				ValidFrom:  cert.ValidFrom,
				ValidUntil: cert.ValidUntil,
				IsValid:    domain.CertificateIsValid(cert, s.clock.Now()),
			}
			if result, ok := view.FindLabResult(cert.ResultID); ok {
				verification.Concentration = result.Concentration
				verification.Category = result.Category
			}
			if home, ok := view.FindHome(cert.HomeID); ok {
				verification.City = home.City
				verification.Region = home.Region
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return CertificateVerification{}, err
	}
	if !found {
		return CertificateVerification{}, domain.NotFoundError{Entity: domain.EntityCertificate, ID: ref}
	}
	return verification, nil
}

// certificateDocumentKey places archived documents under a stable prefix
// keyed by the public certificate number.
func certificateDocumentKey(number string) string {
	return "certificates/" + number + ".pdf"
}

// ArchiveCertificateDocument stores the rendered certificate document in the
// configured blob store. Documents are write-once.
func (s *Service) ArchiveCertificateDocument(ctx context.Context, certificateID string, document io.Reader, contentType string) (blob.Info, error) {
	if s.documents == nil {
		return blob.Info{}, fmt.Errorf("document store not configured")
	}
	var info blob.Info
	err := s.run(ctx, "archive_certificate_doc", func() string { return certificateID }, func(ctx context.Context) error {
		cert, err := s.GetCertificate(ctx, certificateID)
		if err != nil {
			return err
		}
		info, err = s.documents.Put(ctx, certificateDocumentKey(cert.Number), document, blob.PutOptions{
			ContentType: contentType,
			Metadata: map[string]string{
				"certificate_id":     cert.ID,
				"certificate_number": cert.Number,
			},
		})
		return err
	})
	return info, err
}

// CertificateDocument retrieves the archived document for a certificate.
// The caller owns the returned reader.
func (s *Service) CertificateDocument(ctx context.Context, certificateID string) (blob.Info, io.ReadCloser, error) {
	if s.documents == nil {
		return blob.Info{}, nil, fmt.Errorf("document store not configured")
	}
	cert, err := s.GetCertificate(ctx, certificateID)
	if err != nil {
		return blob.Info{}, nil, err
	}
	return s.documents.Get(ctx, certificateDocumentKey(cert.Number))
}
