package core

import (
	"context"
	"time"

	"radoncore/internal/blob"
	"radoncore/pkg/domain"
)

// Logger captures the minimal structured logging surface used by the service.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Clock supplies the current time to service operations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus marks the outcome of an audited operation.
type AuditStatus string

const (
	// AuditStatusSuccess marks a committed operation.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError marks a failed operation.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry describes one audited service operation.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for committed and failed operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes for monitoring backends.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan represents one in-flight traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type serviceOptions struct {
	clock     Clock
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	notifier  Notifier
	documents blob.Store
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   noopLogger{},
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		notifier: noopNotifier{},
	}
}

// Option customizes service construction.
type Option func(*serviceOptions)

// WithClock overrides the service clock.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder attaches an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer attaches a tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithNotifier attaches a lifecycle event notifier.
func WithNotifier(notifier Notifier) Option {
	return func(o *serviceOptions) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithDocumentStore attaches a blob store used to archive certificate documents.
func WithDocumentStore(store blob.Store) Option {
	return func(o *serviceOptions) {
		o.documents = store
	}
}

// auditMetadata maps audited operations to the entity and action they touch.
// Operations without an entry are not audited.
var auditMetadata = map[string]struct {
	entity domain.EntityType
	action domain.Action
}{
	"create_home":             {domain.EntityHome, domain.ActionCreate},
	"create_session":          {domain.EntitySession, domain.ActionCreate},
	"transition_session":      {domain.EntitySession, domain.ActionUpdate},
	"activate_session":        {domain.EntitySession, domain.ActionUpdate},
	"mark_session_retrieved":  {domain.EntitySession, domain.ActionUpdate},
	"mark_session_mailed":     {domain.EntitySession, domain.ActionUpdate},
	"cancel_session":          {domain.EntitySession, domain.ActionUpdate},
	"expire_session":          {domain.EntitySession, domain.ActionUpdate},
	"record_result":           {domain.EntityResult, domain.ActionCreate},
	"update_result":           {domain.EntityResult, domain.ActionUpdate},
	"delete_result":           {domain.EntityResult, domain.ActionDelete},
	"issue_certificate":       {domain.EntityCertificate, domain.ActionCreate},
	"supersede_certificate":   {domain.EntityCertificate, domain.ActionUpdate},
	"archive_certificate_doc": {domain.EntityCertificate, domain.ActionUpdate},
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := auditMetadata[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) recordAuditFailure(ctx context.Context, operation, entityID string, duration time.Duration, opErr error) {
	meta, ok := auditMetadata[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	s.audit.Record(ctx, entry)
}

// run wraps an operation with tracing, metrics, logging, and auditing. The
// entityID func is consulted after fn returns so create operations can report
// generated identifiers.
func (s *Service) run(ctx context.Context, operation string, entityID func() string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	start := s.clock.Now()
	err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)

	id := ""
	if entityID != nil {
		id = entityID()
	}
	if err != nil {
		s.logger.Error(operation+" failed", "error", err, "entity_id", id)
		s.recordAuditFailure(ctx, operation, id, duration, err)
		return err
	}
	s.logger.Info(operation+" committed", "entity_id", id)
	s.recordAuditSuccess(ctx, operation, id, duration)
	return nil
}
