package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// publishSQL fans one batch of payloads out to every matching subscription of
// the topic in a single statement. A payload matches a subscription when, for
// every filter key, payload->key is present and jsonb-equal to one of the
// allowed values; an empty or malformed filter accepts everything. jsonb
// equality compares numbers numerically, so "1" never matches 1.
const publishSQL = `
WITH payloads AS (
    SELECT value AS payload
    FROM jsonb_array_elements($2::jsonb) AS value
    WHERE jsonb_typeof(value) = 'object'
),
eligible AS (
    SELECT s.id AS subscription_id, p.payload
    FROM subscriptions s
    JOIN payloads p ON TRUE
    WHERE s.topic_id = $1
    AND (
        s.filter IS NULL
        OR jsonb_typeof(s.filter) <> 'object'
        OR s.filter = '{}'::jsonb
        OR NOT EXISTS (
            SELECT 1
            FROM jsonb_each(s.filter) f(key, allowed)
            WHERE jsonb_typeof(f.allowed) = 'array'
            AND (
                p.payload -> f.key IS NULL
                OR NOT (p.payload -> f.key IN (
                    SELECT jsonb_array_elements(f.allowed)
                ))
            )
        )
    )
)
INSERT INTO subscription_messages (subscription_id, payload)
SELECT subscription_id, payload
FROM eligible`

// Publish fans the payload batch out to the topic's subscriptions. The whole
// fan-out commits atomically; a topic with no subscriptions accepts the batch
// and discards it. Returns the number of message rows inserted.
func (b *Broker) Publish(ctx context.Context, topicID string, payloads []map[string]any) (int64, error) {
	if len(payloads) == 0 {
		return 0, InvalidArgument("messages must be a non-empty array of JSON objects")
	}
	for _, p := range payloads {
		// A JSON null decodes to a nil map, which the fan-out's object guard
		// would otherwise drop silently.
		if p == nil {
			return 0, InvalidArgument("messages must be a non-empty array of JSON objects")
		}
	}
	batch, err := json.Marshal(payloads)
	if err != nil {
		return 0, fmt.Errorf("publish: encode payloads: %w", err)
	}

	start := time.Now()
	tx, err := b.pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("publish: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM topics WHERE id = $1)`, topicID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("publish: check topic: %w", err)
	}
	if !exists {
		return 0, NotFound("Topic not found")
	}

	tag, err := tx.Exec(ctx, publishSQL, topicID, batch)
	if err != nil {
		return 0, fmt.Errorf("publish: fan out: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("publish: commit: %w", err)
	}
	b.observeOp("publish_messages", start, tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// consumeSQL leases the next batch: available rows whose available_at has
// passed, in (available_at, created_at, id) order, skipping rows locked by
// concurrent consumers. delivery_attempts is incremented at lease time so an
// abandoned lease still counts as a failed attempt.
const consumeSQL = `
WITH next_batch AS (
    SELECT id
    FROM subscription_messages
    WHERE subscription_id = $1
    AND status = 'available'
    AND available_at <= now()
    ORDER BY available_at, created_at, id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
),
leased AS (
    UPDATE subscription_messages sm
    SET status = 'delivered',
        locked_at = now(),
        locked_by = $2,
        delivery_attempts = sm.delivery_attempts + 1
    FROM next_batch
    WHERE sm.id = next_batch.id
    RETURNING sm.id, sm.subscription_id, sm.payload, sm.delivery_attempts, sm.available_at, sm.created_at
)
SELECT id, subscription_id, payload, delivery_attempts, created_at
FROM leased
ORDER BY available_at, created_at, id`

// Consume leases up to batchSize messages for consumerID. Rows being read by
// concurrent consumers are skipped, never waited on.
func (b *Broker) Consume(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]Message, error) {
	if batchSize < 1 || batchSize > 100 {
		return nil, InvalidArgument("batch_size must be between 1 and 100")
	}
	if consumerID == "" {
		return nil, InvalidArgument("consumer_id must not be empty")
	}
	if err := b.requireSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := b.pool().Query(ctx, consumeSQL, subscriptionID, consumerID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	b.observeOp("consume_messages", start, int64(len(messages)))
	return messages, nil
}

// Ack transitions delivered messages owned by consumerID to acked. Rows in a
// different state or leased by another consumer are silently left untouched:
// pulls and retries are racy by nature and correct consumers must not see
// spurious failures. Returns the number of rows acked.
func (b *Broker) Ack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error) {
	if err := b.requireSubscription(ctx, subscriptionID); err != nil {
		return 0, err
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	start := time.Now()
	tag, err := b.pool().Exec(ctx,
		`UPDATE subscription_messages
		 SET status = 'acked',
		     acked_at = now(),
		     locked_at = NULL,
		     locked_by = NULL
		 WHERE subscription_id = $1
		 AND locked_by = $2
		 AND id = ANY ($3::uuid[])
		 AND status = 'delivered'`,
		subscriptionID, consumerID, messageIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("ack: %w", err)
	}
	b.observeOp("ack_messages", start, tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// nackSQL releases delivered rows owned by the consumer: exhausted rows go to
// the DLQ, the rest become available again after
// min(backoff_max, backoff_min * 2^(attempts-1)) seconds. delivery_attempts
// is not touched here; it was counted at lease time.
const nackSQL = `
UPDATE subscription_messages sm
SET status = CASE
        WHEN sm.delivery_attempts >= s.max_delivery_attempts THEN 'dlq'
        ELSE 'available'
    END,
    available_at = CASE
        WHEN sm.delivery_attempts >= s.max_delivery_attempts THEN sm.available_at
        ELSE now() + make_interval(secs => LEAST(
            s.backoff_max_seconds::double precision,
            s.backoff_min_seconds * (2 ^ GREATEST(sm.delivery_attempts - 1, 0))
        ))
    END,
    locked_at = NULL,
    locked_by = NULL
FROM subscriptions s
WHERE s.id = $1
AND sm.subscription_id = s.id
AND sm.locked_by = $2
AND sm.id = ANY ($3::uuid[])
AND sm.status = 'delivered'`

// Nack reports failed processing for delivered messages owned by consumerID.
// Like Ack, rows not owned by the caller are silently skipped.
func (b *Broker) Nack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error) {
	if err := b.requireSubscription(ctx, subscriptionID); err != nil {
		return 0, err
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	start := time.Now()
	tag, err := b.pool().Exec(ctx, nackSQL, subscriptionID, consumerID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("nack: %w", err)
	}
	b.observeOp("nack_messages", start, tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// ListDLQ returns a page of dead-lettered messages in created_at order.
func (b *Broker) ListDLQ(ctx context.Context, subscriptionID string, offset, limit int) ([]Message, error) {
	if err := b.requireSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}

	rows, err := b.pool().Query(ctx,
		`SELECT id, subscription_id, payload, delivery_attempts, created_at
		 FROM subscription_messages
		 WHERE subscription_id = $1
		 AND status = 'dlq'
		 ORDER BY created_at, id
		 OFFSET $2 LIMIT $3`,
		subscriptionID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	return messages, nil
}

// ReprocessDLQ resets dead-lettered messages to available with a fresh
// attempt counter. An empty messageIDs requeues the entire DLQ; rows not in
// the DLQ are ignored.
func (b *Broker) ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) (int64, error) {
	if err := b.requireSubscription(ctx, subscriptionID); err != nil {
		return 0, err
	}

	start := time.Now()
	tag, err := b.pool().Exec(ctx,
		`UPDATE subscription_messages
		 SET status = 'available',
		     delivery_attempts = 0,
		     available_at = now(),
		     locked_at = NULL,
		     locked_by = NULL
		 WHERE subscription_id = $1
		 AND (cardinality($2::uuid[]) = 0 OR id = ANY ($2::uuid[]))
		 AND status = 'dlq'`,
		subscriptionID, ensureIDs(messageIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("reprocess dlq: %w", err)
	}
	b.observeOp("reprocess_dlq_messages", start, tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Metrics returns the point-in-time message counts per status.
func (b *Broker) Metrics(ctx context.Context, subscriptionID string) (*SubscriptionMetrics, error) {
	if err := b.requireSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}

	m := SubscriptionMetrics{SubscriptionID: subscriptionID}
	err := b.pool().QueryRow(ctx,
		`SELECT
		     count(*) FILTER (WHERE status = 'available'),
		     count(*) FILTER (WHERE status = 'delivered'),
		     count(*) FILTER (WHERE status = 'acked'),
		     count(*) FILTER (WHERE status = 'dlq')
		 FROM subscription_messages
		 WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(&m.Available, &m.Delivered, &m.Acked, &m.DLQ)
	if err != nil {
		return nil, fmt.Errorf("subscription metrics: %w", err)
	}
	return &m, nil
}

func (b *Broker) requireSubscription(ctx context.Context, subscriptionID string) error {
	var exists bool
	err := b.pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`,
		subscriptionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !exists {
		return NotFound("Subscription not found")
	}
	return nil
}

// ensureIDs keeps a nil slice from binding as SQL NULL.
func ensureIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var m Message
		var payload []byte
		if err := rows.Scan(&m.ID, &m.SubscriptionID, &payload, &m.DeliveryAttempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Payload = json.RawMessage(payload)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
