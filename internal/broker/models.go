// Package broker implements the message-dispatch engine: publish fan-out with
// server-side filtering, skip-locked batch consumption, consumer-scoped
// ack/nack with exponential backoff, DLQ handling, and the two sweepers.
// All concurrency correctness is delegated to PostgreSQL; every operation is
// a single short transaction and no state is shadowed in process.
package broker

import (
	"encoding/json"
	"regexp"
	"time"
)

// Message status values. A message is leased (delivered) only by Consume;
// acked and dlq are terminal for delivery purposes.
const (
	StatusAvailable = "available"
	StatusDelivered = "delivered"
	StatusAcked     = "acked"
	StatusDLQ       = "dlq"
)

// Caller-supplied topic/subscription IDs: alphanumeric plus "-._", max 128.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9\-._]+$`)

const maxIDLength = 128

// ValidateID checks the caller-supplied identifier grammar.
func ValidateID(field, id string) error {
	if id == "" {
		return InvalidArgument(field + " must not be empty")
	}
	if len(id) > maxIDLength {
		return InvalidArgument(field + " must be at most 128 characters")
	}
	if !idPattern.MatchString(id) {
		return InvalidArgument(field + " may only contain letters, digits, and '-', '.', '_'")
	}
	return nil
}

// Topic is a named fan-out point for publishes.
type Topic struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is a durable logical queue attached to a topic. It owns its
// messages, its filter, and its retry policy.
type Subscription struct {
	ID                  string    `json:"id"`
	TopicID             string    `json:"topic_id"`
	Filter              Filter    `json:"filter"`
	MaxDeliveryAttempts int       `json:"max_delivery_attempts"`
	BackoffMinSeconds   int       `json:"backoff_min_seconds"`
	BackoffMaxSeconds   int       `json:"backoff_max_seconds"`
	CreatedAt           time.Time `json:"created_at"`
}

// Message is one JSON payload owned by exactly one subscription.
type Message struct {
	ID               string          `json:"id"`
	SubscriptionID   string          `json:"subscription_id"`
	Payload          json.RawMessage `json:"payload"`
	DeliveryAttempts int             `json:"delivery_attempts"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SubscriptionMetrics is the point-in-time message count per status.
// There is no cross-status consistency guarantee.
type SubscriptionMetrics struct {
	SubscriptionID string `json:"subscription_id"`
	Available      int64  `json:"available"`
	Delivered      int64  `json:"delivered"`
	Acked          int64  `json:"acked"`
	DLQ            int64  `json:"dlq"`
}

// SubscriptionDefaults are applied when create requests omit retry settings.
type SubscriptionDefaults struct {
	MaxDeliveryAttempts int
	BackoffMinSeconds   int
	BackoffMaxSeconds   int
}

// CreateSubscriptionParams carries a subscription create request. Nil retry
// fields fall back to the broker defaults.
type CreateSubscriptionParams struct {
	ID                  string
	TopicID             string
	Filter              Filter
	MaxDeliveryAttempts *int
	BackoffMinSeconds   *int
	BackoffMaxSeconds   *int
}
