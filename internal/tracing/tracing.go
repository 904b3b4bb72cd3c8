// Package tracing wraps operations in OpenTelemetry spans. Without a
// configured tracer provider the global no-op provider makes this free.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/questchain/node"

// Operation names a traced unit of work.
type Operation string

const (
	OpSessionStart    Operation = "sessions.start"
	OpSessionFinalize Operation = "sessions.finalize"
	OpSessionComplete Operation = "sessions.complete"
	OpSessionFail     Operation = "sessions.fail"
	OpPoll            Operation = "settlement.poll"
	OpIndexerLookup   Operation = "settlement.indexer_lookup"
)

// TraceOp wraps any operation with a span
func TraceOp(ctx context.Context, op Operation, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, string(op), trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
