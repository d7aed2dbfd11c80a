// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"radoncore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Home aliases domain.Home for in-memory persistence operations.
	Home = domain.Home
	// TestSession aliases domain.TestSession.
	TestSession = domain.TestSession
	// LabResult aliases domain.LabResult.
	LabResult = domain.LabResult
	// Certificate aliases domain.Certificate.
	Certificate = domain.Certificate
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	homes        map[string]Home
	sessions     map[string]TestSession
	results      map[string]LabResult
	certificates map[string]Certificate
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Homes        map[string]Home        `json:"homes"`
	Sessions     map[string]TestSession `json:"sessions"`
	Results      map[string]LabResult   `json:"results"`
	Certificates map[string]Certificate `json:"certificates"`
}

func newMemoryState() memoryState {
	return memoryState{
		homes:        map[string]Home{},
		sessions:     map[string]TestSession{},
		results:      map[string]LabResult{},
		certificates: map[string]Certificate{},
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.homes {
		cloned.homes[k] = cloneHome(v)
	}
	for k, v := range s.sessions {
		cloned.sessions[k] = cloneSession(v)
	}
	for k, v := range s.results {
		cloned.results[k] = cloneResult(v)
	}
	for k, v := range s.certificates {
		cloned.certificates[k] = cloneCertificate(v)
	}
	return cloned
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneHome(h Home) Home { return h }

func cloneSession(s TestSession) TestSession {
	cp := s
	cp.ActivatedAt = cloneTime(s.ActivatedAt)
	cp.ExpectedCompletionDate = cloneTime(s.ExpectedCompletionDate)
	cp.RetrievalDueAt = cloneTime(s.RetrievalDueAt)
	cp.RetrievedAt = cloneTime(s.RetrievedAt)
	cp.MailedAt = cloneTime(s.MailedAt)
	return cp
}

func cloneResult(r LabResult) LabResult { return r }

func cloneCertificate(c Certificate) Certificate {
	cp := c
	cp.SupersededAt = cloneTime(c.SupersededAt)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
// RunInTransaction serializes writers behind a single mutex, so a
// read-validate-write sequence inside one transaction can never act on a
// stale snapshot of the same record.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the engine evaluating rules for this store.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// NowFunc returns the clock used to stamp record timestamps.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// SetNowFunc overrides the store clock. Passing nil restores the default.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = now
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState returns a deep copy of the current state for snapshotting.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

func snapshotFromState(state memoryState) Snapshot {
	snapshot := Snapshot{
		Homes:        make(map[string]Home, len(state.homes)),
		Sessions:     make(map[string]TestSession, len(state.sessions)),
		Results:      make(map[string]LabResult, len(state.results)),
		Certificates: make(map[string]Certificate, len(state.certificates)),
	}
	for k, v := range state.homes {
		snapshot.Homes[k] = cloneHome(v)
	}
	for k, v := range state.sessions {
		snapshot.Sessions[k] = cloneSession(v)
	}
	for k, v := range state.results {
		snapshot.Results[k] = cloneResult(v)
	}
	for k, v := range state.certificates {
		snapshot.Certificates[k] = cloneCertificate(v)
	}
	return snapshot
}

func stateFromSnapshot(snapshot Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range snapshot.Homes {
		state.homes[k] = cloneHome(v)
	}
	for k, v := range snapshot.Sessions {
		state.sessions[k] = cloneSession(v)
	}
	for k, v := range snapshot.Results {
		state.results[k] = cloneResult(v)
	}
	for k, v := range snapshot.Certificates {
		state.certificates[k] = cloneCertificate(v)
	}
	return state
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateHome stores a new home record.
func (tx *transaction) CreateHome(h Home) (Home, error) {
	if h.ID == "" {
		h.ID = tx.store.newID()
	}
	if _, exists := tx.state.homes[h.ID]; exists {
		return Home{}, domain.ConflictError{Entity: domain.EntityHome, ID: h.ID, Reason: "already exists"}
	}
	h.CreatedAt = tx.now
	h.UpdatedAt = tx.now
	tx.state.homes[h.ID] = cloneHome(h)
	tx.recordChange(Change{Entity: domain.EntityHome, Action: domain.ActionCreate, After: cloneHome(h)})
	return cloneHome(h), nil
}

// UpdateHome mutates a home using the provided mutator.
func (tx *transaction) UpdateHome(id string, mutator func(*Home) error) (Home, error) {
	current, ok := tx.state.homes[id]
	if !ok {
		return Home{}, domain.NotFoundError{Entity: domain.EntityHome, ID: id}
	}
	before := cloneHome(current)
	if err := mutator(&current); err != nil {
		return Home{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.homes[id] = cloneHome(current)
	tx.recordChange(Change{Entity: domain.EntityHome, Action: domain.ActionUpdate, Before: before, After: cloneHome(current)})
	return cloneHome(current), nil
}

// CreateTestSession stores a new session. Serial numbers are unique across
// all sessions; duplicates are rejected here rather than by a pre-check in
// application code so the guarantee holds under concurrency.
func (tx *transaction) CreateTestSession(session TestSession) (TestSession, error) {
	if session.ID == "" {
		session.ID = tx.store.newID()
	}
	if _, exists := tx.state.sessions[session.ID]; exists {
		return TestSession{}, domain.ConflictError{Entity: domain.EntitySession, ID: session.ID, Reason: "already exists"}
	}
	for _, other := range tx.state.sessions {
		if other.SerialNumber == session.SerialNumber {
			return TestSession{}, domain.ConflictError{
				Entity: domain.EntitySession,
				ID:     session.ID,
				Reason: fmt.Sprintf("serial number %s already registered", session.SerialNumber),
			}
		}
	}
	session.CreatedAt = tx.now
	session.UpdatedAt = tx.now
	tx.state.sessions[session.ID] = cloneSession(session)
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionCreate, After: cloneSession(session)})
	return cloneSession(session), nil
}

// UpdateTestSession mutates a session using the provided mutator.
func (tx *transaction) UpdateTestSession(id string, mutator func(*TestSession) error) (TestSession, error) {
	current, ok := tx.state.sessions[id]
	if !ok {
		return TestSession{}, domain.NotFoundError{Entity: domain.EntitySession, ID: id}
	}
	before := cloneSession(current)
	if err := mutator(&current); err != nil {
		return TestSession{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.sessions[id] = cloneSession(current)
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionUpdate, Before: before, After: cloneSession(current)})
	return cloneSession(current), nil
}

// CreateLabResult stores a result. At most one result may exist per session;
// the one-to-one constraint lives here, inside the serialized transaction.
func (tx *transaction) CreateLabResult(result LabResult) (LabResult, error) {
	if result.ID == "" {
		result.ID = tx.store.newID()
	}
	if _, exists := tx.state.results[result.ID]; exists {
		return LabResult{}, domain.ConflictError{Entity: domain.EntityResult, ID: result.ID, Reason: "already exists"}
	}
	for _, other := range tx.state.results {
		if other.SessionID == result.SessionID {
			return LabResult{}, domain.ConflictError{
				Entity: domain.EntityResult,
				ID:     other.ID,
				Reason: fmt.Sprintf("session %s already has a result", result.SessionID),
			}
		}
	}
	result.CreatedAt = tx.now
	result.UpdatedAt = tx.now
	tx.state.results[result.ID] = cloneResult(result)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: cloneResult(result)})
	return cloneResult(result), nil
}

// UpdateLabResult mutates a result using the provided mutator.
func (tx *transaction) UpdateLabResult(id string, mutator func(*LabResult) error) (LabResult, error) {
	current, ok := tx.state.results[id]
	if !ok {
		return LabResult{}, domain.NotFoundError{Entity: domain.EntityResult, ID: id}
	}
	before := cloneResult(current)
	if err := mutator(&current); err != nil {
		return LabResult{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.results[id] = cloneResult(current)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionUpdate, Before: before, After: cloneResult(current)})
	return cloneResult(current), nil
}

// DeleteLabResult removes a result from the transaction state.
func (tx *transaction) DeleteLabResult(id string) error {
	current, ok := tx.state.results[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityResult, ID: id}
	}
	delete(tx.state.results, id)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionDelete, Before: cloneResult(current)})
	return nil
}

// CreateCertificate stores a certificate. One certificate per result and
// unique numbers are enforced inside the serialized transaction.
func (tx *transaction) CreateCertificate(cert Certificate) (Certificate, error) {
	if cert.ID == "" {
		cert.ID = tx.store.newID()
	}
	if _, exists := tx.state.certificates[cert.ID]; exists {
		return Certificate{}, domain.ConflictError{Entity: domain.EntityCertificate, ID: cert.ID, Reason: "already exists"}
	}
	for _, other := range tx.state.certificates {
		if other.ResultID == cert.ResultID {
			return Certificate{}, domain.ConflictError{
				Entity: domain.EntityCertificate,
				ID:     other.ID,
				Reason: fmt.Sprintf("result %s already has a certificate", cert.ResultID),
			}
		}
		if other.Number == cert.Number {
			return Certificate{}, domain.ConflictError{
				Entity: domain.EntityCertificate,
				ID:     other.ID,
				Reason: fmt.Sprintf("certificate number %s already issued", cert.Number),
			}
		}
	}
	cert.CreatedAt = tx.now
	cert.UpdatedAt = tx.now
	tx.state.certificates[cert.ID] = cloneCertificate(cert)
	tx.recordChange(Change{Entity: domain.EntityCertificate, Action: domain.ActionCreate, After: cloneCertificate(cert)})
	return cloneCertificate(cert), nil
}

// UpdateCertificate mutates a certificate using the provided mutator.
func (tx *transaction) UpdateCertificate(id string, mutator func(*Certificate) error) (Certificate, error) {
	current, ok := tx.state.certificates[id]
	if !ok {
		return Certificate{}, domain.NotFoundError{Entity: domain.EntityCertificate, ID: id}
	}
	before := cloneCertificate(current)
	if err := mutator(&current); err != nil {
		return Certificate{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.certificates[id] = cloneCertificate(current)
	tx.recordChange(Change{Entity: domain.EntityCertificate, Action: domain.ActionUpdate, Before: before, After: cloneCertificate(current)})
	return cloneCertificate(current), nil
}

// FindHome exposes home lookup within the transaction scope.
func (tx *transaction) FindHome(id string) (Home, bool) {
	h, ok := tx.state.homes[id]
	if !ok {
		return Home{}, false
	}
	return cloneHome(h), true
}

// FindTestSession exposes session lookup within the transaction scope.
func (tx *transaction) FindTestSession(id string) (TestSession, bool) {
	s, ok := tx.state.sessions[id]
	if !ok {
		return TestSession{}, false
	}
	return cloneSession(s), true
}

// FindLabResult exposes result lookup within the transaction scope.
func (tx *transaction) FindLabResult(id string) (LabResult, bool) {
	r, ok := tx.state.results[id]
	if !ok {
		return LabResult{}, false
	}
	return cloneResult(r), true
}

// FindLabResultBySession returns the single result owned by a session.
func (tx *transaction) FindLabResultBySession(sessionID string) (LabResult, bool) {
	return findResultBySession(tx.state, sessionID)
}

// FindCertificate exposes certificate lookup within the transaction scope.
func (tx *transaction) FindCertificate(id string) (Certificate, bool) {
	c, ok := tx.state.certificates[id]
	if !ok {
		return Certificate{}, false
	}
	return cloneCertificate(c), true
}

// FindCertificateByResult returns the single certificate owned by a result.
func (tx *transaction) FindCertificateByResult(resultID string) (Certificate, bool) {
	return findCertificateByResult(tx.state, resultID)
}

// HighestCertificateSequence returns the largest sequence issued for the day
// prefix within the transactional snapshot.
func (tx *transaction) HighestCertificateSequence(dayPrefix string) int {
	return highestSequence(tx.state, dayPrefix)
}

func findResultBySession(state memoryState, sessionID string) (LabResult, bool) {
	for _, r := range state.results {
		if r.SessionID == sessionID {
			return cloneResult(r), true
		}
	}
	return LabResult{}, false
}

func findCertificateByResult(state memoryState, resultID string) (Certificate, bool) {
	for _, c := range state.certificates {
		if c.ResultID == resultID {
			return cloneCertificate(c), true
		}
	}
	return Certificate{}, false
}

func highestSequence(state memoryState, dayPrefix string) int {
	highest := 0
	for _, c := range state.certificates {
		if seq, ok := domain.ParseCertificateSequence(c.Number, dayPrefix); ok && seq > highest {
			highest = seq
		}
	}
	return highest
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// ListHomes returns all homes within the snapshot.
func (v transactionView) ListHomes() []Home {
	out := make([]Home, 0, len(v.state.homes))
	for _, h := range v.state.homes {
		out = append(out, cloneHome(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTestSessions returns all sessions within the snapshot.
func (v transactionView) ListTestSessions() []TestSession {
	out := make([]TestSession, 0, len(v.state.sessions))
	for _, s := range v.state.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListLabResults returns all results within the snapshot.
func (v transactionView) ListLabResults() []LabResult {
	out := make([]LabResult, 0, len(v.state.results))
	for _, r := range v.state.results {
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListCertificates returns all certificates within the snapshot.
func (v transactionView) ListCertificates() []Certificate {
	out := make([]Certificate, 0, len(v.state.certificates))
	for _, c := range v.state.certificates {
		out = append(out, cloneCertificate(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindHome retrieves a home by ID from the snapshot.
func (v transactionView) FindHome(id string) (Home, bool) {
	h, ok := v.state.homes[id]
	if !ok {
		return Home{}, false
	}
	return cloneHome(h), true
}

// FindTestSession retrieves a session by ID from the snapshot.
func (v transactionView) FindTestSession(id string) (TestSession, bool) {
	s, ok := v.state.sessions[id]
	if !ok {
		return TestSession{}, false
	}
	return cloneSession(s), true
}

// FindLabResult retrieves a result by ID from the snapshot.
func (v transactionView) FindLabResult(id string) (LabResult, bool) {
	r, ok := v.state.results[id]
	if !ok {
		return LabResult{}, false
	}
	return cloneResult(r), true
}

// FindLabResultBySession retrieves the result owned by a session.
func (v transactionView) FindLabResultBySession(sessionID string) (LabResult, bool) {
	return findResultBySession(*v.state, sessionID)
}

// FindCertificate retrieves a certificate by ID from the snapshot.
func (v transactionView) FindCertificate(id string) (Certificate, bool) {
	c, ok := v.state.certificates[id]
	if !ok {
		return Certificate{}, false
	}
	return cloneCertificate(c), true
}

// FindCertificateByResult retrieves the certificate owned by a result.
func (v transactionView) FindCertificateByResult(resultID string) (Certificate, bool) {
	return findCertificateByResult(*v.state, resultID)
}

// GetHome retrieves a home by ID.
func (s *Store) GetHome(id string) (Home, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.state.homes[id]
	if !ok {
		return Home{}, false
	}
	return cloneHome(h), true
}

// ListHomes returns all homes sorted by ID.
func (s *Store) ListHomes() []Home {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListHomes()
}

// GetTestSession retrieves a session by ID.
func (s *Store) GetTestSession(id string) (TestSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.state.sessions[id]
	if !ok {
		return TestSession{}, false
	}
	return cloneSession(sess), true
}

// ListTestSessions returns all sessions sorted by ID.
func (s *Store) ListTestSessions() []TestSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListTestSessions()
}

// GetLabResultBySession retrieves the result owned by a session.
func (s *Store) GetLabResultBySession(sessionID string) (LabResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findResultBySession(s.state, sessionID)
}

// GetCertificate retrieves a certificate by ID.
func (s *Store) GetCertificate(id string) (Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.certificates[id]
	if !ok {
		return Certificate{}, false
	}
	return cloneCertificate(c), true
}

// ListCertificates returns all certificates sorted by ID.
func (s *Store) ListCertificates() []Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListCertificates()
}
