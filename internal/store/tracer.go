package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// echoTracer logs every statement at debug level when FASTPUBSUB_DATABASE_ECHO
// is set. Query start times ride on the context between the two callbacks.
type echoTracer struct {
	logger *zap.Logger
}

type echoTraceKey struct{}

type echoTraceData struct {
	sql     string
	startAt time.Time
}

func (t *echoTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, echoTraceKey{}, echoTraceData{sql: data.SQL, startAt: time.Now()})
}

func (t *echoTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(echoTraceKey{}).(echoTraceData)
	if !ok {
		return
	}
	fields := []zap.Field{
		zap.String("sql", td.sql),
		zap.Duration("duration", time.Since(td.startAt)),
	}
	if data.Err != nil {
		fields = append(fields, zap.Error(data.Err))
		t.logger.Debug("query failed", fields...)
		return
	}
	fields = append(fields, zap.String("command_tag", data.CommandTag.String()))
	t.logger.Debug("query executed", fields...)
}
