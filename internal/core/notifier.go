package core

import (
	"context"
	"time"
)

// EventKind names a lifecycle event emitted after a successful commit.
type EventKind string

const (
	// EventSessionActivated fires when a session enters the active status.
	EventSessionActivated EventKind = "session_activated"
	// EventResultRecorded fires when a lab result is recorded.
	EventResultRecorded EventKind = "result_recorded"
	// EventCertificateIssued fires when a certificate is issued.
	EventCertificateIssued EventKind = "certificate_issued"
)

// Event carries the minimal payload consumers need to react to a lifecycle
// change. Consumers re-read full records through the service if needed.
type Event struct {
	Kind       EventKind
	SessionID  string
	ResultID   string
	CertID     string
	OccurredAt time.Time
}

// Notifier receives lifecycle events. Delivery is best-effort after commit;
// the service never blocks or fails an operation on notifier behavior.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}

// notify dispatches an event after a committed transaction. Panicking
// notifiers are contained so a misbehaving consumer cannot break callers.
func (s *Service) notify(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("notifier panicked", "event", string(event.Kind), "panic", r)
		}
	}()
	event.OccurredAt = s.clock.Now()
	s.notifier.Notify(ctx, event)
}
