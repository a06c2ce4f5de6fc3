package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fastpubsub/fastpubsub/internal/store"
)

// CreateSubscription inserts a subscription referencing an existing topic.
// Omitted retry settings fall back to the configured defaults; an invalid
// backoff window (max < min) is rejected before touching the database.
func (b *Broker) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	if err := ValidateID("subscription id", params.ID); err != nil {
		return nil, err
	}
	if err := ValidateID("topic_id", params.TopicID); err != nil {
		return nil, err
	}

	filter, err := SanitizeFilter(params.Filter)
	if err != nil {
		return nil, err
	}

	maxAttempts := b.defaults.MaxDeliveryAttempts
	if params.MaxDeliveryAttempts != nil {
		maxAttempts = *params.MaxDeliveryAttempts
	}
	backoffMin := b.defaults.BackoffMinSeconds
	if params.BackoffMinSeconds != nil {
		backoffMin = *params.BackoffMinSeconds
	}
	backoffMax := b.defaults.BackoffMaxSeconds
	if params.BackoffMaxSeconds != nil {
		backoffMax = *params.BackoffMaxSeconds
	}

	if maxAttempts < 1 {
		return nil, InvalidArgument("max_delivery_attempts must be at least 1")
	}
	if backoffMin < 1 {
		return nil, InvalidArgument("backoff_min_seconds must be at least 1")
	}
	if backoffMax < backoffMin {
		return nil, InvalidArgument("backoff_max_seconds must be greater than or equal to backoff_min_seconds")
	}

	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var s Subscription
	var rawFilter []byte
	err = b.pool().QueryRow(ctx,
		`INSERT INTO subscriptions (id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds, created_at`,
		params.ID, params.TopicID, filterJSON, maxAttempts, backoffMin, backoffMax,
	).Scan(&s.ID, &s.TopicID, &rawFilter, &s.MaxDeliveryAttempts, &s.BackoffMinSeconds, &s.BackoffMaxSeconds, &s.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, AlreadyExists("This subscription already exists")
		}
		if store.IsForeignKeyViolation(err) {
			return nil, NotFound("Topic not found")
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if err := unmarshalFilter(rawFilter, &s.Filter); err != nil {
		return nil, err
	}
	b.observeOp("create_subscription", start, 1)
	return &s, nil
}

// GetSubscription fetches a subscription by ID.
func (b *Broker) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var s Subscription
	var rawFilter []byte
	err := b.pool().QueryRow(ctx,
		`SELECT id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds, created_at
		 FROM subscriptions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.TopicID, &rawFilter, &s.MaxDeliveryAttempts, &s.BackoffMinSeconds, &s.BackoffMaxSeconds, &s.CreatedAt)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, NotFound("Subscription not found")
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if err := unmarshalFilter(rawFilter, &s.Filter); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubscriptions returns a page of subscriptions ordered by ID.
func (b *Broker) ListSubscriptions(ctx context.Context, offset, limit int) ([]Subscription, error) {
	rows, err := b.pool().Query(ctx,
		`SELECT id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds, created_at
		 FROM subscriptions ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		var s Subscription
		var rawFilter []byte
		if err := rows.Scan(&s.ID, &s.TopicID, &rawFilter, &s.MaxDeliveryAttempts, &s.BackoffMinSeconds, &s.BackoffMaxSeconds, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("list subscriptions: scan: %w", err)
		}
		if err := unmarshalFilter(rawFilter, &s.Filter); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a subscription and all its messages.
func (b *Broker) DeleteSubscription(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := b.pool().Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("Subscription not found")
	}
	b.observeOp("delete_subscription", start, tag.RowsAffected())
	return nil
}

func marshalFilter(f Filter) ([]byte, error) {
	if len(f) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	return data, nil
}

func unmarshalFilter(raw []byte, f *Filter) error {
	if len(raw) == 0 {
		*f = Filter{}
		return nil
	}
	if err := json.Unmarshal(raw, f); err != nil {
		return fmt.Errorf("unmarshal filter: %w", err)
	}
	return nil
}
