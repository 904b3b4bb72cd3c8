// Package metrics provides observability for session, attestation and
// settlement activity. It falls back to a no-op recorder when OpenTelemetry is
// not available, so callers never branch on whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/questchain/node/internal/errs"
)

const meterName = "github.com/questchain/node/extensions/metrics"

// MetricsRecorder records node activity.
type MetricsRecorder interface {
	// Session lifecycle
	RecordSessionStarted(ctx context.Context)
	RecordSessionTransition(ctx context.Context, to string)
	RecordSessionConflict(ctx context.Context)

	// Attestation signing
	RecordAttestationSigned(ctx context.Context, duration time.Duration)
	RecordAttestationError(ctx context.Context, errType string)

	// Transaction tracking
	RecordTransactionTransition(ctx context.Context, txType, to string)
	RecordRetryExhausted(ctx context.Context, txType string)

	// Confirmation poller
	RecordPollRun(ctx context.Context, duration time.Duration, checked, confirmed int)
	RecordPollError(ctx context.Context, errType string)
}

// NewMetricsRecorder returns an OTEL recorder backed by the global meter
// provider, or a no-op recorder when instruments cannot be created.
func NewMetricsRecorder(logger *zap.Logger) MetricsRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("metrics")

	meter := otel.GetMeterProvider().Meter(meterName)
	if _, err := meter.Int64Counter("questchain.probe"); err != nil {
		logger.Debug("OpenTelemetry not available, metrics disabled")
		return NewNoOpMetrics()
	}

	otelMetrics, err := NewOTELMetrics(meter, logger)
	if err != nil {
		logger.Warn("failed to initialize OTEL metrics, falling back to no-op", zap.Error(err))
		return NewNoOpMetrics()
	}

	logger.Debug("OpenTelemetry metrics initialized")
	return otelMetrics
}

// ClassifyError maps an error onto a low-cardinality metric label.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return string(errs.CategoryNone)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return string(errs.Classify(err))
	}
}
