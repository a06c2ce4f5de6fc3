package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// sweepBatchSize bounds each sweeper transaction so lock windows stay short.
const sweepBatchSize = 1000

// sweepStuckSQL recovers leases held past the lock timeout. A stuck message
// whose attempts are exhausted goes to the DLQ; otherwise it becomes
// available immediately, without backoff: the consumer failed, not the work,
// and the attempt was already counted at lease time.
const sweepStuckSQL = `
WITH expired AS (
    SELECT sm.id, sm.delivery_attempts >= s.max_delivery_attempts AS exhausted
    FROM subscription_messages sm
    JOIN subscriptions s ON s.id = sm.subscription_id
    WHERE sm.status = 'delivered'
    AND sm.locked_at < now() - make_interval(secs => $1)
    ORDER BY sm.locked_at
    LIMIT $2
    FOR UPDATE OF sm SKIP LOCKED
)
UPDATE subscription_messages sm
SET status = CASE WHEN expired.exhausted THEN 'dlq' ELSE 'available' END,
    available_at = CASE WHEN expired.exhausted THEN sm.available_at ELSE now() END,
    locked_at = NULL,
    locked_by = NULL
FROM expired
WHERE sm.id = expired.id`

// SweepStuck releases every lease older than lockTimeout, one bounded batch
// per transaction. Idempotent; safe to run from multiple schedulers.
func (b *Broker) SweepStuck(ctx context.Context, lockTimeout time.Duration) (int64, error) {
	var total int64
	for {
		tag, err := b.pool().Exec(ctx, sweepStuckSQL, lockTimeout.Seconds(), sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("sweep stuck: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < sweepBatchSize {
			break
		}
	}
	if total > 0 {
		b.logger.Info("released stuck messages",
			zap.Int64("count", total),
			zap.Duration("lock_timeout", lockTimeout),
		)
	}
	return total, nil
}

// sweepAckedSQL garbage-collects acked rows past the retention window.
const sweepAckedSQL = `
WITH doomed AS (
    SELECT id
    FROM subscription_messages
    WHERE status = 'acked'
    AND acked_at < now() - make_interval(secs => $1)
    LIMIT $2
)
DELETE FROM subscription_messages sm
USING doomed
WHERE sm.id = doomed.id`

// SweepAcked deletes acked messages older than olderThan in bounded batches.
// Deleted rows are unrecoverable; this is the intended garbage collection.
func (b *Broker) SweepAcked(ctx context.Context, olderThan time.Duration) (int64, error) {
	var total int64
	for {
		tag, err := b.pool().Exec(ctx, sweepAckedSQL, olderThan.Seconds(), sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("sweep acked: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < sweepBatchSize {
			break
		}
	}
	if total > 0 {
		b.logger.Info("deleted acked messages",
			zap.Int64("count", total),
			zap.Duration("older_than", olderThan),
		)
	}
	return total, nil
}
