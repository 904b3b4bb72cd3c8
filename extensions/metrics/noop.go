package metrics

import (
	"context"
	"time"
)

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics recorder.
func NewNoOpMetrics() MetricsRecorder {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordSessionStarted(ctx context.Context)                                          {}
func (n *NoOpMetrics) RecordSessionTransition(ctx context.Context, to string)                            {}
func (n *NoOpMetrics) RecordSessionConflict(ctx context.Context)                                         {}
func (n *NoOpMetrics) RecordAttestationSigned(ctx context.Context, duration time.Duration)               {}
func (n *NoOpMetrics) RecordAttestationError(ctx context.Context, errType string)                        {}
func (n *NoOpMetrics) RecordTransactionTransition(ctx context.Context, txType, to string)                {}
func (n *NoOpMetrics) RecordRetryExhausted(ctx context.Context, txType string)                           {}
func (n *NoOpMetrics) RecordPollRun(ctx context.Context, duration time.Duration, checked, confirmed int) {}
func (n *NoOpMetrics) RecordPollError(ctx context.Context, errType string)                               {}
