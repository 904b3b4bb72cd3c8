package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OTELMetrics implements MetricsRecorder using OpenTelemetry.
type OTELMetrics struct {
	logger *zap.Logger

	// Counters
	sessionStarted     metric.Int64Counter
	sessionTransition  metric.Int64Counter
	sessionConflict    metric.Int64Counter
	attestationSigned  metric.Int64Counter
	attestationError   metric.Int64Counter
	txTransition       metric.Int64Counter
	txRetriesExhausted metric.Int64Counter
	pollRuns           metric.Int64Counter
	pollErrors         metric.Int64Counter
	txConfirmed        metric.Int64Counter

	// Histograms
	signDuration  metric.Float64Histogram
	pollDuration  metric.Float64Histogram
	pollBatchSize metric.Int64Histogram
}

type counterSpec struct {
	target      *metric.Int64Counter
	name        string
	description string
	unit        string
}

// NewOTELMetrics creates every instrument on meter.
func NewOTELMetrics(meter metric.Meter, logger *zap.Logger) (*OTELMetrics, error) {
	m := &OTELMetrics{logger: logger}

	counters := []counterSpec{
		{&m.sessionStarted, "questchain.session_started_total", "Sessions started", "{session}"},
		{&m.sessionTransition, "questchain.session_transition_total", "Session status transitions", "{transition}"},
		{&m.sessionConflict, "questchain.session_conflict_total", "Session starts rejected because one is already active", "{session}"},
		{&m.attestationSigned, "questchain.attestation_signed_total", "Attestations signed", "{signature}"},
		{&m.attestationError, "questchain.attestation_error_total", "Attestation signing failures", "{error}"},
		{&m.txTransition, "questchain.transaction_transition_total", "Transaction status transitions", "{transition}"},
		{&m.txRetriesExhausted, "questchain.transaction_retry_exhausted_total", "Transactions failed after exhausting retries", "{transaction}"},
		{&m.pollRuns, "questchain.poll_runs_total", "Confirmation poller runs", "{run}"},
		{&m.pollErrors, "questchain.poll_error_total", "Confirmation poller errors", "{error}"},
		{&m.txConfirmed, "questchain.poll_confirmed_total", "Transactions confirmed by the poller", "{transaction}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	var err error
	m.signDuration, err = meter.Float64Histogram(
		"questchain.attestation_sign_duration_seconds",
		metric.WithDescription("Duration of attestation signing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.pollDuration, err = meter.Float64Histogram(
		"questchain.poll_duration_seconds",
		metric.WithDescription("Duration of confirmation poller runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.pollBatchSize, err = meter.Int64Histogram(
		"questchain.poll_batch_size",
		metric.WithDescription("Pending transactions checked per poller run"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *OTELMetrics) RecordSessionStarted(ctx context.Context) {
	m.sessionStarted.Add(ctx, 1)
}

func (m *OTELMetrics) RecordSessionTransition(ctx context.Context, to string) {
	m.sessionTransition.Add(ctx, 1,
		metric.WithAttributes(attribute.String("to", to)),
	)
}

func (m *OTELMetrics) RecordSessionConflict(ctx context.Context) {
	m.sessionConflict.Add(ctx, 1)
}

func (m *OTELMetrics) RecordAttestationSigned(ctx context.Context, duration time.Duration) {
	m.attestationSigned.Add(ctx, 1)
	m.signDuration.Record(ctx, duration.Seconds())
}

func (m *OTELMetrics) RecordAttestationError(ctx context.Context, errType string) {
	m.attestationError.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error_type", errType)),
	)
}

func (m *OTELMetrics) RecordTransactionTransition(ctx context.Context, txType, to string) {
	m.txTransition.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", txType),
			attribute.String("to", to),
		),
	)
}

func (m *OTELMetrics) RecordRetryExhausted(ctx context.Context, txType string) {
	m.txRetriesExhausted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", txType)),
	)
}

func (m *OTELMetrics) RecordPollRun(ctx context.Context, duration time.Duration, checked, confirmed int) {
	m.pollRuns.Add(ctx, 1)
	m.pollDuration.Record(ctx, duration.Seconds())
	m.pollBatchSize.Record(ctx, int64(checked))
	m.txConfirmed.Add(ctx, int64(confirmed))
}

func (m *OTELMetrics) RecordPollError(ctx context.Context, errType string) {
	m.pollErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error_type", errType)),
	)
}
