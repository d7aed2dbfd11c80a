package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	blobmem "radoncore/internal/infra/blob/memory"
	"radoncore/pkg/domain"
)

// driveToMailed walks a fresh session to the mailed status.
func driveToMailed(t *testing.T, svc *Service, sessionID string) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.ActivateSession(ctx, sessionID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, _, err := svc.MarkSessionRetrieved(ctx, sessionID, nil); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if _, _, err := svc.MarkSessionMailed(ctx, sessionID, nil); err != nil {
		t.Fatalf("mail: %v", err)
	}
}

func TestRecordResultCompletesSession(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)

	result, _, err := svc.RecordResult(context.Background(), session.ID, 450, "LAB-REF-1")
	if err != nil {
		t.Fatalf("record result: %v", err)
	}
	if result.Category != domain.RiskCaution {
		t.Fatalf("category %s, want caution", result.Category)
	}
	if result.Immutable {
		t.Fatalf("result must start mutable")
	}

	completed, err := svc.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if completed.Status != domain.SessionComplete {
		t.Fatalf("session status %s, want complete", completed.Status)
	}
}

func TestRecordResultGuards(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	ctx := context.Background()

	if _, _, err := svc.RecordResult(ctx, session.ID, 100, ""); !domain.IsInvalidTransition(err) {
		t.Fatalf("ordered session must reject results, got %v", err)
	}
	if _, _, err := svc.RecordResult(ctx, session.ID, -5, ""); !domain.IsValidation(err) {
		t.Fatalf("negative concentration, got %v", err)
	}
	if _, _, err := svc.RecordResult(ctx, session.ID, 10001, ""); !domain.IsValidation(err) {
		t.Fatalf("oversized concentration, got %v", err)
	}
	if _, _, err := svc.RecordResult(ctx, "missing", 100, ""); !domain.IsNotFound(err) {
		t.Fatalf("unknown session, got %v", err)
	}

	driveToMailed(t, svc, session.ID)
	if _, _, err := svc.RecordResult(ctx, session.ID, 100, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := svc.RecordResult(ctx, session.ID, 200, ""); !domain.IsConflict(err) {
		t.Fatalf("second result must conflict, got %v", err)
	}
}

func TestUpdateResultReclassifies(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)

	result, _, err := svc.RecordResult(context.Background(), session.ID, 450, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	updated, _, err := svc.UpdateResult(context.Background(), result.ID, 850, "LAB-REF-2")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Category != domain.RiskUrgentAction || updated.Concentration != 850 {
		t.Fatalf("updated %+v", updated)
	}
	if updated.LabReference != "LAB-REF-2" {
		t.Fatalf("lab reference %s", updated.LabReference)
	}
}

func TestImmutableResultIsProtected(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	result, _, err := svc.RecordResult(ctx, session.ID, 450, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := svc.IssueCertificate(ctx, session.ID, nil); err != nil {
		t.Fatalf("issue: %v", err)
	}

	frozen, err := svc.GetResultForSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if !frozen.Immutable {
		t.Fatalf("result must be frozen after issuance")
	}
	if _, _, err := svc.UpdateResult(ctx, result.ID, 500, ""); !domain.IsConflict(err) {
		t.Fatalf("frozen result update must conflict, got %v", err)
	}
	if _, err := svc.DeleteResult(ctx, result.ID); !domain.IsConflict(err) {
		t.Fatalf("frozen result delete must conflict, got %v", err)
	}
}

func TestDeleteResultBeforeIssuance(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	result, _, err := svc.RecordResult(ctx, session.ID, 450, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.DeleteResult(ctx, result.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetResultForSession(ctx, session.ID); !domain.IsNotFound(err) {
		t.Fatalf("result should be gone, got %v", err)
	}
}

func TestRecordResultAgainAfterDelete(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	first, _, err := svc.RecordResult(ctx, session.ID, 450, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.DeleteResult(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The session finished with the first result; a corrected reading must
	// still be acceptable on the completed session.
	second, _, err := svc.RecordResult(ctx, session.ID, 850, "LAB-REF-2")
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if second.Category != domain.RiskUrgentAction {
		t.Fatalf("category %s, want urgent_action", second.Category)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.SessionComplete {
		t.Fatalf("session status %s, want complete", got.Status)
	}
}

func TestIssueCertificateLifecycle(t *testing.T) {
	now := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	svc := testService(fixedClock(now))
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	ctx := context.Background()

	if _, _, err := svc.IssueCertificate(ctx, session.ID, nil); !domain.IsConflict(err) {
		t.Fatalf("incomplete session must conflict, got %v", err)
	}

	driveToMailed(t, svc, session.ID)
	if _, _, err := svc.RecordResult(ctx, session.ID, 450, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	cert, _, err := svc.IssueCertificate(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cert.Number != "RC-20260226-0001" {
		t.Fatalf("number %s", cert.Number)
	}
	if cert.Type != domain.CertificateResidential || cert.Status != domain.CertificateValid {
		t.Fatalf("cert %+v", cert)
	}
	if !cert.ValidUntil.Equal(now.AddDate(2, 0, 0)) {
		t.Fatalf("valid until %v", cert.ValidUntil)
	}
	if cert.VerificationToken == "" {
		t.Fatalf("missing verification token")
	}

	if _, _, err := svc.IssueCertificate(ctx, session.ID, nil); !domain.IsConflict(err) {
		t.Fatalf("second issuance must conflict, got %v", err)
	}
}

func TestIssueCertificateHonorsCallerValidFrom(t *testing.T) {
	now := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	svc := testService(fixedClock(now))
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitRealEstateShort, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	if _, _, err := svc.RecordResult(ctx, session.ID, 150, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	validFrom := now.AddDate(0, 0, -3)
	cert, _, err := svc.IssueCertificate(ctx, session.ID, &validFrom)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !cert.ValidFrom.Equal(validFrom) {
		t.Fatalf("valid from %v", cert.ValidFrom)
	}
	if !cert.ValidUntil.Equal(validFrom.AddDate(0, 0, 90)) {
		t.Fatalf("valid until %v", cert.ValidUntil)
	}
	if cert.Number != "RC-20260226-0001" {
		t.Fatalf("number must be scoped to the issuance day: %s", cert.Number)
	}
}

func TestCertificateNumbersAreSequentialPerDay(t *testing.T) {
	now := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	svc := testService(fixedClock(now))
	home := seedHome(t, svc)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		session := seedSession(t, svc, home.ID, domain.KitLongTerm, fmt.Sprintf("SN-%03d", i))
		driveToMailed(t, svc, session.ID)
		if _, _, err := svc.RecordResult(ctx, session.ID, 100, ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		cert, _, err := svc.IssueCertificate(ctx, session.ID, nil)
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		want := fmt.Sprintf("RC-20260226-%04d", i)
		if cert.Number != want {
			t.Fatalf("number %s, want %s", cert.Number, want)
		}
	}
}

func TestConcurrentIssuanceMintsDistinctNumbers(t *testing.T) {
	now := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	svc := testService(fixedClock(now))
	home := seedHome(t, svc)
	ctx := context.Background()

	const n = 16
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		session := seedSession(t, svc, home.ID, domain.KitRealEstateShort, fmt.Sprintf("SN-%03d", i))
		driveToMailed(t, svc, session.ID)
		if _, _, err := svc.RecordResult(ctx, session.ID, 150, ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		ids = append(ids, session.ID)
	}

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(slot int, sessionID string) {
			defer wg.Done()
			cert, _, err := svc.IssueCertificate(ctx, sessionID, nil)
			numbers[slot] = cert.Number
			errs[slot] = err
		}(i, id)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		if seen[numbers[i]] {
			t.Fatalf("duplicate certificate number %s", numbers[i])
		}
		seen[numbers[i]] = true
	}

	sort.Strings(numbers)
	for i, number := range numbers {
		want := fmt.Sprintf("RC-20260226-%04d", i+1)
		if number != want {
			t.Fatalf("sequence gap: position %d has %s, want %s", i, number, want)
		}
	}
}

func TestSupersedeCertificate(t *testing.T) {
	svc := testService()
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	if _, _, err := svc.RecordResult(ctx, session.ID, 450, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	cert, _, err := svc.IssueCertificate(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	superseded, _, err := svc.SupersedeCertificate(ctx, cert.ID)
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if superseded.Status != domain.CertificateSuperseded || superseded.SupersededAt == nil {
		t.Fatalf("superseded %+v", superseded)
	}
	if _, _, err := svc.SupersedeCertificate(ctx, cert.ID); !domain.IsConflict(err) {
		t.Fatalf("double supersede must conflict, got %v", err)
	}
}

func TestVerifyCertificate(t *testing.T) {
	now := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	svc := testService(fixedClock(now))
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	if _, _, err := svc.RecordResult(ctx, session.ID, 450, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	cert, _, err := svc.IssueCertificate(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	view, err := svc.VerifyCertificate(ctx, cert.VerificationToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !view.IsValid || view.Number != cert.Number || view.Category != domain.RiskCaution {
		t.Fatalf("verification %+v", view)
	}
	if view.Concentration != 450 {
		t.Fatalf("concentration %v", view.Concentration)
	}
	if view.City != "Ottawa" || view.Region != "ON" {
		t.Fatalf("verification address %+v", view)
	}

	byID, err := svc.VerifyCertificate(ctx, cert.ID)
	if err != nil {
		t.Fatalf("verify by id: %v", err)
	}
	if byID.Number != cert.Number {
		t.Fatalf("verification by id %+v", byID)
	}

	if _, err := svc.VerifyCertificate(ctx, "unknown-token"); !domain.IsNotFound(err) {
		t.Fatalf("unknown token, got %v", err)
	}
	if _, err := svc.VerifyCertificate(ctx, "  "); !domain.IsValidation(err) {
		t.Fatalf("blank token, got %v", err)
	}

	if _, _, err := svc.SupersedeCertificate(ctx, cert.ID); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	view, err = svc.VerifyCertificate(ctx, cert.VerificationToken)
	if err != nil {
		t.Fatalf("verify superseded: %v", err)
	}
	if view.IsValid {
		t.Fatalf("superseded certificate must verify as invalid")
	}
}

func TestCertificateDocumentArchive(t *testing.T) {
	docs := blobmem.New()
	svc := testService(WithDocumentStore(docs))
	home := seedHome(t, svc)
	session := seedSession(t, svc, home.ID, domain.KitLongTerm, "SN-001")
	driveToMailed(t, svc, session.ID)
	ctx := context.Background()

	if _, _, err := svc.RecordResult(ctx, session.ID, 450, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	cert, _, err := svc.IssueCertificate(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	info, err := svc.ArchiveCertificateDocument(ctx, cert.ID, strings.NewReader("rendered pdf"), "application/pdf")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if info.Key != "certificates/"+cert.Number+".pdf" {
		t.Fatalf("document key %s", info.Key)
	}

	_, rc, err := svc.CertificateDocument(ctx, cert.ID)
	if err != nil {
		t.Fatalf("fetch document: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "rendered pdf" {
		t.Fatalf("document body %q", body)
	}

	if _, err := svc.ArchiveCertificateDocument(ctx, cert.ID, strings.NewReader("x"), "application/pdf"); err == nil {
		t.Fatalf("documents are write-once")
	}

	bare := testService()
	if _, err := bare.ArchiveCertificateDocument(ctx, cert.ID, strings.NewReader("x"), ""); err == nil {
		t.Fatalf("expected error without a document store")
	}
}
