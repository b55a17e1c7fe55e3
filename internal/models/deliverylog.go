package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType is the closed tag set of event types the engine schedules
// deliveries for. New event types are added by
// registering a new eventtype.Strategy, never by changing this list's
// consumers.
type EventType string

const (
	EventTypeBirthday    EventType = "BIRTHDAY"
	EventTypeAnniversary EventType = "ANNIVERSARY"
)

// RoutingKey is the RabbitMQ routing key for this event type.
func (t EventType) RoutingKey() string {
	switch t {
	case EventTypeBirthday:
		return "birthday"
	case EventTypeAnniversary:
		return "anniversary"
	default:
		return string(t)
	}
}

// DeliveryStatus is the DeliveryLog state machine. Terminal
// states are SENT and FAILED; every other state admits a transition.
type DeliveryStatus string

const (
	DeliveryStatusScheduled DeliveryStatus = "SCHEDULED"
	DeliveryStatusQueued    DeliveryStatus = "QUEUED"
	DeliveryStatusSending   DeliveryStatus = "SENDING"
	DeliveryStatusRetrying  DeliveryStatus = "RETRYING"
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// IsTerminal reports whether no further transition is permitted.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed
}

// DefaultMaxRetries is the MAX_RETRIES default.
const DefaultMaxRetries = 3

var (
	// ErrDuplicateIdempotencyKey is reported by a store's Insert when the
	// idempotency key already exists on any row.
	// Schedulers count this as duplicatesSkipped, never surface it as an
	// error.
	ErrDuplicateIdempotencyKey = errors.New("models: duplicate idempotency key")
	// ErrDeliveryLogNotFound is returned when a row id does not exist.
	ErrDeliveryLogNotFound = errors.New("models: delivery log not found")
	// ErrInvalidTransition is returned when an UPDATE ... WHERE status = $from
	// predicate matches zero rows: either another process already moved the
	// row forward, or the caller's view of status is stale. Both are
	// expected under concurrent schedulers/workers and are not
	// logged as errors by callers that anticipate them.
	ErrInvalidTransition = errors.New("models: invalid delivery log status transition")
)

// DeliveryLog is the durable row representing one planned delivery.
// Exactly one row exists per (user, event type, local event date)
// that was ever scheduled, enforced by the idempotency key's uniqueness
// constraint at the store layer.
type DeliveryLog struct {
	ID                string
	UserID            string
	EventType         EventType
	ScheduledSendTime time.Time
	ActualSendTime    *time.Time
	Status            DeliveryStatus
	RetryCount        int
	IdempotencyKey    string
	MessageContent    string
	ErrorMessage      string
	APIResponseCode   int
	APIResponseBody   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IdempotencyKey builds the deterministic scheduling key:
// "eventType:userId:YYYY-MM-DD-in-user-zone".
func IdempotencyKey(eventType EventType, userID string, localEventDate time.Time) string {
	return fmt.Sprintf("%s:%s:%s", eventType, userID, localEventDate.Format("2006-01-02"))
}

// CanSend reports whether invoking the send client is still meaningful for
// the row's current status: false once it's already SENT (the worker's
// idempotency short-circuit) or FAILED.
func (d *DeliveryLog) CanSend() bool {
	return !d.Status.IsTerminal()
}
