// Package settlement watches submitted transactions until the chain indexer
// reports them, and drives the tracker and session state machines from what
// it sees.
package settlement

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/questchain/node/extensions/metrics"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/tracing"
	"github.com/questchain/node/internal/types"
)

const (
	// DefaultSubmissionTimeout is how long a hash may stay unseen before the
	// transaction is retried.
	DefaultSubmissionTimeout = 10 * time.Minute
	// DefaultBatchSize bounds the rows examined per poll.
	DefaultBatchSize = 100
)

// Tracker is the slice of the transaction tracker the poller drives.
type Tracker interface {
	ListPendingForCheck(ctx context.Context, limit int) ([]*types.Transaction, error)
	ListDueForRetry(ctx context.Context, limit int) ([]*types.Transaction, error)
	Confirm(ctx context.Context, id string, loc types.BlockLocator) (*types.Transaction, error)
	Retry(ctx context.Context, id string) (*types.Transaction, error)
	Resubmit(ctx context.Context, id, hash string) (*types.Transaction, error)
	MarkChecked(ctx context.Context, id string) error
	ListBySession(ctx context.Context, sessionID string) ([]*types.Transaction, error)
}

// Sessions settles the session a FINALIZE_SESSION transaction belongs to.
type Sessions interface {
	Complete(ctx context.Context, sessionID string) (*types.Session, error)
	Fail(ctx context.Context, sessionID, reason string) (*types.Session, error)
	ListByStatus(ctx context.Context, status types.SessionStatus, limit int) ([]*types.Session, error)
}

// Resubmitter re-broadcasts a transaction that is due for retry and returns
// the new hash, or "" to keep the old one.
type Resubmitter interface {
	Resubmit(ctx context.Context, tx *types.Transaction) (string, error)
}

// Report summarizes one poll.
type Report struct {
	Checked     int `json:"checked"`
	Confirmed   int `json:"confirmed"`
	Retried     int `json:"retried"`
	Failed      int `json:"failed"`
	Resubmitted int `json:"resubmitted"`
	Reconciled  int `json:"reconciled"`
	Errors      int `json:"errors"`
}

type PollerParams struct {
	Tracker  Tracker
	Sessions Sessions
	Chain    ChainQuerier
	// Resubmitter is optional. Without one, due retries wait for an operator.
	Resubmitter       Resubmitter
	SubmissionTimeout time.Duration
	BatchSize         int
	Metrics           metrics.MetricsRecorder
	Logger            *zap.Logger
	Clock             func() time.Time
}

// Poller reconciles tracked transactions with the chain.
type Poller struct {
	tracker     Tracker
	sessions    Sessions
	chain       ChainQuerier
	resubmitter Resubmitter
	timeout     time.Duration
	batchSize   int
	metrics     metrics.MetricsRecorder
	logger      *zap.Logger
	now         func() time.Time
}

func NewPoller(p PollerParams) *Poller {
	poller := &Poller{
		tracker:     p.Tracker,
		sessions:    p.Sessions,
		chain:       p.Chain,
		resubmitter: p.Resubmitter,
		timeout:     p.SubmissionTimeout,
		batchSize:   p.BatchSize,
		metrics:     p.Metrics,
		logger:      p.Logger,
		now:         p.Clock,
	}
	if poller.timeout <= 0 {
		poller.timeout = DefaultSubmissionTimeout
	}
	if poller.batchSize <= 0 {
		poller.batchSize = DefaultBatchSize
	}
	if poller.metrics == nil {
		poller.metrics = metrics.NewNoOpMetrics()
	}
	if poller.logger == nil {
		poller.logger = zap.NewNop()
	}
	poller.logger = poller.logger.Named("poller")
	if poller.now == nil {
		poller.now = func() time.Time { return time.Now().UTC() }
	}
	return poller
}

// Poll checks every pending hash once, hands due retries to the resubmitter
// and settles FINALIZING sessions whose transaction already reached a final
// state in an earlier run. Per-row failures are counted in the report and logged; only a
// failure to list work or a cancelled context is returned.
func (p *Poller) Poll(ctx context.Context) (Report, error) {
	if p.tracker == nil || p.chain == nil || p.sessions == nil {
		return Report{}, errors.New("poller is missing a collaborator")
	}

	ctx, end := tracing.TraceOp(ctx, tracing.OpPoll, attribute.Int("batch_size", p.batchSize))
	started := time.Now()
	var report Report
	err := p.poll(ctx, &report)
	end(err)
	if err != nil {
		p.metrics.RecordPollError(ctx, metrics.ClassifyError(err))
	}
	p.metrics.RecordPollRun(ctx, time.Since(started), report.Checked, report.Confirmed)
	return report, err
}

func (p *Poller) poll(ctx context.Context, report *Report) error {
	pending, err := p.tracker.ListPendingForCheck(ctx, p.batchSize)
	if err != nil {
		return errors.Wrap(err, "list pending transactions")
	}
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Checked++
		if err := p.check(ctx, tx, report); err != nil {
			report.Errors++
			p.logger.Warn("transaction check failed", zap.String("id", tx.ID), zap.String("tx_hash", tx.TxHash), zap.Error(err))
		}
	}

	if p.resubmitter != nil {
		due, err := p.tracker.ListDueForRetry(ctx, p.batchSize)
		if err != nil {
			return errors.Wrap(err, "list transactions due for retry")
		}
		for _, tx := range due {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.resubmit(ctx, tx, report); err != nil {
				report.Errors++
				p.logger.Warn("transaction resubmit failed", zap.String("id", tx.ID), zap.Error(err))
			}
		}
	}

	finalizing, err := p.sessions.ListByStatus(ctx, types.SessionFinalizing, p.batchSize)
	if err != nil {
		return errors.Wrap(err, "list finalizing sessions")
	}
	for _, session := range finalizing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.reconcile(ctx, session, report); err != nil {
			report.Errors++
			p.logger.Warn("session reconcile failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Poller) check(ctx context.Context, tx *types.Transaction, report *Report) error {
	loc, found, err := p.chain.TransactionStatus(ctx, tx.TxHash)
	if err != nil {
		return err
	}

	if found {
		if _, err := p.tracker.Confirm(ctx, tx.ID, *loc); err != nil {
			return err
		}
		report.Confirmed++
		if sessionID, ok := settles(tx); ok {
			if _, err := p.sessions.Complete(ctx, sessionID); err != nil {
				return errors.Wrapf(err, "complete session %s", sessionID)
			}
		}
		return nil
	}

	if p.now().Sub(tx.SubmittedAt) < p.timeout {
		return p.tracker.MarkChecked(ctx, tx.ID)
	}
	return p.retry(ctx, tx, report)
}

func (p *Poller) retry(ctx context.Context, tx *types.Transaction, report *Report) error {
	_, err := p.tracker.Retry(ctx, tx.ID)
	switch {
	case err == nil:
		report.Retried++
		return nil
	case errors.Is(err, errs.ErrRetryBudgetExhausted):
		report.Failed++
		if sessionID, ok := settles(tx); ok {
			if _, ferr := p.sessions.Fail(ctx, sessionID, "settlement transaction failed"); ferr != nil {
				return errors.Wrapf(ferr, "fail session %s", sessionID)
			}
		}
		return nil
	default:
		return err
	}
}

func (p *Poller) resubmit(ctx context.Context, tx *types.Transaction, report *Report) error {
	hash, err := p.resubmitter.Resubmit(ctx, tx)
	if err != nil {
		p.logger.Warn("re-broadcast failed, consuming a retry", zap.String("id", tx.ID), zap.Error(err))
		return p.retry(ctx, tx, report)
	}
	if _, err := p.tracker.Resubmit(ctx, tx.ID, hash); err != nil {
		return err
	}
	report.Resubmitted++
	return nil
}

// reconcile catches sessions left FINALIZING after their settlement
// transaction was confirmed or failed but the session update did not go
// through.
func (p *Poller) reconcile(ctx context.Context, session *types.Session, report *Report) error {
	txs, err := p.tracker.ListBySession(ctx, session.ID)
	if err != nil {
		return err
	}

	var settling, failed int
	for _, tx := range txs {
		if tx.Type != types.TxTypeFinalizeSession {
			continue
		}
		settling++
		switch tx.Status {
		case types.TxConfirmed:
			if _, err := p.sessions.Complete(ctx, session.ID); err != nil {
				return errors.Wrapf(err, "complete session %s", session.ID)
			}
			report.Reconciled++
			p.logger.Info("completed session from confirmed transaction",
				zap.String("session_id", session.ID), zap.String("tx_id", tx.ID))
			return nil
		case types.TxFailed:
			failed++
		case types.TxPending, types.TxRetrying:
		}
	}

	if settling == 0 || failed < settling {
		return nil
	}
	if _, err := p.sessions.Fail(ctx, session.ID, "settlement transaction failed"); err != nil {
		return errors.Wrapf(err, "fail session %s", session.ID)
	}
	report.Reconciled++
	return nil
}

// settles returns the session a transaction finalizes, if any.
func settles(tx *types.Transaction) (string, bool) {
	if tx.Type != types.TxTypeFinalizeSession || tx.SessionID == nil || *tx.SessionID == "" {
		return "", false
	}
	return *tx.SessionID, true
}
