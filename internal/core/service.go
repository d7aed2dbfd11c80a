package core

import (
	"context"
	"strings"
	"time"

	"radoncore/internal/blob"
	"radoncore/pkg/domain"
)

// Service exposes the transactional operations of the radon testing core:
// home registration, session lifecycle, result recording, and certificate
// issuance. All writes run through the store's transaction boundary with the
// default rules evaluated before commit.
type Service struct {
	store     PersistentStore
	clock     Clock
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	notifier  Notifier
	documents blob.Store
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		store:     store,
		clock:     options.clock,
		logger:    options.logger,
		audit:     options.audit,
		metrics:   options.metrics,
		tracer:    options.tracer,
		notifier:  options.notifier,
		documents: options.documents,
	}
}

// NewInMemoryService creates a service over an in-memory store. A nil engine
// gets the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(newMemoryStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// CreateHome persists a new home record.
func (s *Service) CreateHome(ctx context.Context, home Home) (Home, Result, error) {
	var created Home
	var res Result
	err := s.run(ctx, "create_home", func() string { return created.ID }, func(ctx context.Context) error {
		if strings.TrimSpace(home.OwnerID) == "" {
			return domain.ValidationError{Field: "owner_id", Reason: "required"}
		}
		if strings.TrimSpace(home.Street) == "" {
			return domain.ValidationError{Field: "street", Reason: "required"}
		}
		if strings.TrimSpace(home.City) == "" {
			return domain.ValidationError{Field: "city", Reason: "required"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateHome(home)
			return txErr
		})
		return err
	})
	return created, res, err
}

// GetHome retrieves a home by ID.
func (s *Service) GetHome(_ context.Context, id string) (Home, error) {
	home, ok := s.store.GetHome(id)
	if !ok {
		return Home{}, domain.NotFoundError{Entity: domain.EntityHome, ID: id}
	}
	return home, nil
}

// ListHomes returns all registered homes.
func (s *Service) ListHomes(context.Context) []Home {
	return s.store.ListHomes()
}

// CreateSession registers a new test session against an existing home. The
// session always starts in the ordered status with no derived dates.
func (s *Service) CreateSession(ctx context.Context, session TestSession) (TestSession, Result, error) {
	var created TestSession
	var res Result
	err := s.run(ctx, "create_session", func() string { return created.ID }, func(ctx context.Context) error {
		if !domain.KnownKitType(session.KitType) {
			return domain.ValidationError{Field: "kit_type", Reason: "unknown kit type"}
		}
		if strings.TrimSpace(session.SerialNumber) == "" {
			return domain.ValidationError{Field: "serial_number", Reason: "required"}
		}
		if strings.TrimSpace(session.OrderID) == "" {
			return domain.ValidationError{Field: "order_id", Reason: "required"}
		}
		session.Status = domain.SessionOrdered
		session.ActivatedAt = nil
		session.ExpectedCompletionDate = nil
		session.RetrievalDueAt = nil
		session.RetrievedAt = nil
		session.MailedAt = nil
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.FindHome(session.HomeID); !ok {
				return domain.NotFoundError{Entity: domain.EntityHome, ID: session.HomeID}
			}
			var txErr error
			created, txErr = tx.CreateTestSession(session)
			return txErr
		})
		return err
	})
	return created, res, err
}

// GetSession retrieves a session by ID.
func (s *Service) GetSession(_ context.Context, id string) (TestSession, error) {
	session, ok := s.store.GetTestSession(id)
	if !ok {
		return TestSession{}, domain.NotFoundError{Entity: domain.EntitySession, ID: id}
	}
	return session, nil
}

// ListSessions returns all sessions.
func (s *Service) ListSessions(context.Context) []TestSession {
	return s.store.ListTestSessions()
}

// NextSessionActions returns the transition targets allowed from the
// session's current status. Terminal sessions return an empty slice.
func (s *Service) NextSessionActions(ctx context.Context, id string) ([]SessionStatus, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.NextStatuses(session.Status), nil
}

// executeTransition moves a session along one edge of the status graph,
// applying any extra mutation in the same transaction.
func (s *Service) executeTransition(ctx context.Context, operation, id string, target SessionStatus, mutate func(*TestSession)) (TestSession, Result, error) {
	var updated TestSession
	var res Result
	err := s.run(ctx, operation, func() string { return id }, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			session, ok := tx.FindTestSession(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySession, ID: id}
			}
			next, err := domain.ApplyTransition(session, target, s.clock.Now())
			if err != nil {
				return err
			}
			if mutate != nil {
				mutate(&next)
			}
			updated, err = tx.UpdateTestSession(id, func(stored *TestSession) error {
				*stored = next
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// TransitionSession moves a session to the target status without side
// effects beyond the transition itself.
func (s *Service) TransitionSession(ctx context.Context, id string, target SessionStatus) (TestSession, Result, error) {
	return s.executeTransition(ctx, "transition_session", id, target, nil)
}

// ActivateSession starts the measurement window. The activation timestamp and
// the derived completion and retrieval dates are stamped in the same write.
func (s *Service) ActivateSession(ctx context.Context, id string) (TestSession, Result, error) {
	session, res, err := s.executeTransition(ctx, "activate_session", id, domain.SessionActive, nil)
	if err == nil {
		s.notify(ctx, Event{Kind: EventSessionActivated, SessionID: session.ID})
	}
	return session, res, err
}

// MarkSessionRetrieved records kit retrieval. A nil timestamp defaults to the
// service clock.
func (s *Service) MarkSessionRetrieved(ctx context.Context, id string, retrievedAt *time.Time) (TestSession, Result, error) {
	at := s.clock.Now()
	if retrievedAt != nil {
		at = retrievedAt.UTC()
	}
	return s.executeTransition(ctx, "mark_session_retrieved", id, domain.SessionRetrievalDue, func(session *TestSession) {
		session.RetrievedAt = &at
	})
}

// MarkSessionMailed records the kit being mailed to the lab. A nil timestamp
// defaults to the service clock.
func (s *Service) MarkSessionMailed(ctx context.Context, id string, mailedAt *time.Time) (TestSession, Result, error) {
	at := s.clock.Now()
	if mailedAt != nil {
		at = mailedAt.UTC()
	}
	return s.executeTransition(ctx, "mark_session_mailed", id, domain.SessionMailed, func(session *TestSession) {
		session.MailedAt = &at
	})
}

// CancelSession terminates a session. Valid from any non-terminal status.
func (s *Service) CancelSession(ctx context.Context, id string) (TestSession, Result, error) {
	return s.executeTransition(ctx, "cancel_session", id, domain.SessionCancelled, nil)
}

// ExpireSession marks an overdue retrieval-due session as expired.
func (s *Service) ExpireSession(ctx context.Context, id string) (TestSession, Result, error) {
	return s.executeTransition(ctx, "expire_session", id, domain.SessionExpired, nil)
}
