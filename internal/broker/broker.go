package broker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fastpubsub/fastpubsub/internal/store"
)

// Slow-operation log thresholds.
const (
	slowOpWarnThreshold  = 100 * time.Millisecond
	slowOpDebugThreshold = 10 * time.Millisecond
)

// Broker is the dispatch engine. It holds no mutable state of its own; the
// database is the single serialization point.
type Broker struct {
	store    *store.Store
	logger   *zap.Logger
	defaults SubscriptionDefaults
}

// New creates the engine on top of an open store.
func New(st *store.Store, logger *zap.Logger, defaults SubscriptionDefaults) *Broker {
	return &Broker{
		store:    st,
		logger:   logger,
		defaults: defaults,
	}
}

// Defaults returns the subscription retry defaults.
func (b *Broker) Defaults() SubscriptionDefaults {
	return b.defaults
}

// Ping reports database reachability.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.store.Ping(ctx); err != nil {
		return Unavailable("database unreachable")
	}
	return nil
}

func (b *Broker) pool() *pgxpool.Pool {
	return b.store.Pool()
}

// observeOp logs slow database operations, mirroring the thresholds the
// service has always used: >100ms at warn, >10ms at debug.
func (b *Broker) observeOp(op string, start time.Time, rows int64) {
	elapsed := time.Since(start)
	switch {
	case elapsed > slowOpWarnThreshold:
		b.logger.Warn("slow database operation",
			zap.String("op", op),
			zap.Int64("rows", rows),
			zap.Duration("duration", elapsed),
		)
	case elapsed > slowOpDebugThreshold:
		b.logger.Debug("database operation completed",
			zap.String("op", op),
			zap.Int64("rows", rows),
			zap.Duration("duration", elapsed),
		)
	}
}
