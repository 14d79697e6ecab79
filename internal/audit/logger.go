package audit

import (
	"time"

	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure     EventType = "auth_failure"
	EventForbiddenAccess EventType = "forbidden_access"
	EventOwnershipReject EventType = "ownership_reject"
	EventTopupReview     EventType = "topup_review"
	EventAdminDispatch   EventType = "admin_dispatch"
	EventAccountCreated  EventType = "account_created"
)

// Logger emits structured security audit events. Events go to the log
// stream, tagged so they can be filtered downstream; nothing is persisted
// here.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) event(eventType EventType) *auditEvent {
	return &auditEvent{eventType: eventType}
}

type auditEvent struct {
	eventType EventType
	fields    map[string]string
}

func (e *auditEvent) field(key, value string) *auditEvent {
	if e.fields == nil {
		e.fields = map[string]string{}
	}
	if value != "" {
		e.fields[key] = value
	}
	return e
}

func (e *auditEvent) emit() {
	logEvent := log.Info().
		Str("audit", "security").
		Str("event_type", string(e.eventType)).
		Time("timestamp", time.Now())
	for key, value := range e.fields {
		logEvent = logEvent.Str(key, value)
	}
	logEvent.Msg("security audit event")
}

func (l *Logger) AuthFailure(remoteAddr string) {
	l.event(EventAuthFailure).field("ip", remoteAddr).emit()
}

func (l *Logger) ForbiddenAccess(accountID, path string) {
	l.event(EventForbiddenAccess).field("account_id", accountID).field("path", path).emit()
}

func (l *Logger) OwnershipReject(deviceID, owner, claimant string) {
	l.event(EventOwnershipReject).
		field("device_id", deviceID).
		field("owner", owner).
		field("claimant", claimant).
		emit()
}

func (l *Logger) TopupReview(orderID, reviewerID string, approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	l.event(EventTopupReview).
		field("topup_id", orderID).
		field("reviewer_id", reviewerID).
		field("decision", decision).
		emit()
}

func (l *Logger) AccountCreated(adminID, accountID, role string) {
	l.event(EventAccountCreated).
		field("admin_id", adminID).
		field("account_id", accountID).
		field("role", role).
		emit()
}

func (l *Logger) AdminDispatch(adminID, deviceID, action string) {
	l.event(EventAdminDispatch).
		field("admin_id", adminID).
		field("device_id", deviceID).
		field("action", action).
		emit()
}
