// Package transactions tracks on-chain submissions through
// PENDING → CONFIRMED, PENDING → RETRYING → PENDING and, once the retry budget
// is spent, FAILED. The tracker performs no network I/O; a poller or operator
// calls back into Confirm, Retry and Resubmit.
package transactions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/questchain/node/extensions/metrics"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

// MaxRetriesExceeded is the status message stored on budget exhaustion.
const MaxRetriesExceeded = "Max retries exceeded"

// Store is the persistence the tracker needs.
type Store interface {
	CreateTransaction(ctx context.Context, tx *types.Transaction) error
	UpdateTransaction(ctx context.Context, id string, fn func(tx *types.Transaction) error) (*types.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*types.Transaction, error)
	GetTransactionByHash(ctx context.Context, hash string) (*types.Transaction, error)
	ListTransactionsByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Transaction, error)
	ListTransactionsBySession(ctx context.Context, sessionID string) ([]*types.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, status types.TransactionStatus, limit int) ([]*types.Transaction, error)
	ListTransactions(ctx context.Context, page, limit int) ([]*types.Transaction, int, error)
	ListPendingForCheck(ctx context.Context, limit int) ([]*types.Transaction, error)
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*types.Transaction, error)
	CountTransactionsByStatus(ctx context.Context) (map[types.TransactionStatus]int, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
}

// Params configures a Tracker. Only Store is required.
type Params struct {
	Store      Store
	Policy     BackoffPolicy
	MaxRetries int
	Metrics    metrics.MetricsRecorder
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Tracker owns the transaction state machine.
type Tracker struct {
	store      Store
	policy     BackoffPolicy
	maxRetries int
	metrics    metrics.MetricsRecorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewTracker fills unset Params with defaults: a fixed 60s backoff, three
// retries, no-op metrics and the wall clock.
func NewTracker(p Params) *Tracker {
	t := &Tracker{
		store:      p.Store,
		policy:     p.Policy,
		maxRetries: p.MaxRetries,
		metrics:    p.Metrics,
		logger:     p.Logger,
		now:        p.Clock,
	}
	if t.policy == nil {
		t.policy = FixedBackoff{Delay: DefaultRetryDelay}
	}
	if t.maxRetries <= 0 {
		t.maxRetries = DefaultMaxRetries
	}
	if t.metrics == nil {
		t.metrics = metrics.NewNoOpMetrics()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("transactions")
	if t.now == nil {
		t.now = func() time.Time { return time.Now().UTC() }
	}
	return t
}

// CreateRequest describes a new submission.
type CreateRequest struct {
	PlayerID  string                `json:"player_id"`
	SessionID *string               `json:"session_id,omitempty"`
	Type      types.TransactionType `json:"type"`
	TxHash    string                `json:"tx_hash,omitempty"`
}

// Create records a submission as PENDING with retry_count 0. A
// FINALIZE_SESSION submission must name a FINALIZING session of the same
// player; its confirmation is what completes that session.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*types.Transaction, error) {
	if strings.TrimSpace(req.PlayerID) == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "player_id is required")
	}
	txType, err := types.ParseTransactionType(string(req.Type))
	if err != nil {
		return nil, errors.Wrap(errs.ErrInvalidArgument, err.Error())
	}
	if txType == types.TxTypeFinalizeSession {
		if err := t.checkSettles(ctx, req); err != nil {
			return nil, err
		}
	}

	tx := &types.Transaction{
		ID:          uuid.NewString(),
		PlayerID:    req.PlayerID,
		SessionID:   req.SessionID,
		Type:        txType,
		Status:      types.TxPending,
		TxHash:      strings.TrimSpace(req.TxHash),
		MaxRetries:  t.maxRetries,
		SubmittedAt: t.now(),
	}
	if err := t.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	t.metrics.RecordTransactionTransition(ctx, string(tx.Type), string(tx.Status))
	t.logger.Info("transaction created",
		zap.String("id", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.String("player_id", tx.PlayerID),
		zap.String("tx_hash", tx.TxHash))
	return tx, nil
}

func (t *Tracker) checkSettles(ctx context.Context, req CreateRequest) error {
	if req.SessionID == nil || strings.TrimSpace(*req.SessionID) == "" {
		return errors.Wrap(errs.ErrInvalidArgument, "session_id is required for FINALIZE_SESSION")
	}
	session, err := t.store.GetSession(ctx, *req.SessionID)
	if err != nil {
		return err
	}
	if session.PlayerID != req.PlayerID {
		return errors.Wrapf(errs.ErrInvalidArgument, "session %s belongs to another player", session.ID)
	}
	if session.Status != types.SessionFinalizing {
		return errors.Wrapf(errs.ErrInvalidTransition, "session %s is %s, finalize it before settling", session.ID, session.Status)
	}
	return nil
}

// SetHash attaches the on-chain hash once the caller has broadcast the write.
func (t *Tracker) SetHash(ctx context.Context, id, hash string) (*types.Transaction, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "tx_hash is required")
	}
	return t.store.UpdateTransaction(ctx, id, func(tx *types.Transaction) error {
		if tx.Status.IsTerminal() {
			return transitionError(tx, "set hash")
		}
		tx.TxHash = hash
		return nil
	})
}

// Confirm records the block locator. Valid only from PENDING or RETRYING.
func (t *Tracker) Confirm(ctx context.Context, id string, loc types.BlockLocator) (*types.Transaction, error) {
	updated, err := t.store.UpdateTransaction(ctx, id, func(tx *types.Transaction) error {
		switch tx.Status {
		case types.TxPending, types.TxRetrying:
		default:
			return transitionError(tx, "confirm")
		}

		now := t.now()
		tx.Status = types.TxConfirmed
		tx.StatusMessage = ""
		tx.NextRetryAt = nil
		tx.ConfirmedAt = &now
		tx.LastCheckedAt = &now
		height, slot := loc.BlockHeight, loc.Slot
		tx.BlockHeight = &height
		tx.Slot = &slot
		if !loc.BlockTime.IsZero() {
			blockTime := loc.BlockTime.UTC()
			tx.BlockTime = &blockTime
		}
		if loc.TxHash != "" {
			tx.TxHash = loc.TxHash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.RecordTransactionTransition(ctx, string(updated.Type), string(updated.Status))
	t.logger.Info("transaction confirmed",
		zap.String("id", updated.ID),
		zap.String("tx_hash", updated.TxHash),
		zap.Int64("block_height", loc.BlockHeight))
	return updated, nil
}

// Retry schedules another attempt. Once retry_count has reached max_retries
// the transaction moves to FAILED and errs.ErrRetryBudgetExhausted is
// returned together with the failed record.
func (t *Tracker) Retry(ctx context.Context, id string) (*types.Transaction, error) {
	updated, err := t.store.UpdateTransaction(ctx, id, func(tx *types.Transaction) error {
		switch tx.Status {
		case types.TxPending, types.TxRetrying:
		default:
			return transitionError(tx, "retry")
		}

		now := t.now()
		tx.LastCheckedAt = &now
		if tx.RetryCount >= tx.MaxRetries {
			tx.Status = types.TxFailed
			tx.StatusMessage = MaxRetriesExceeded
			tx.NextRetryAt = nil
			return errors.Wrapf(errs.ErrRetryBudgetExhausted, "transaction %s after %d retries", tx.ID, tx.RetryCount)
		}

		tx.RetryCount++
		tx.Status = types.TxRetrying
		next := t.policy.NextRetryAt(now, tx.RetryCount)
		tx.NextRetryAt = &next
		return nil
	})
	if updated == nil {
		return nil, err
	}

	t.metrics.RecordTransactionTransition(ctx, string(updated.Type), string(updated.Status))
	if errors.Is(err, errs.ErrRetryBudgetExhausted) {
		t.metrics.RecordRetryExhausted(ctx, string(updated.Type))
		t.logger.Warn("transaction retry budget exhausted",
			zap.String("id", updated.ID),
			zap.Int("retry_count", updated.RetryCount))
		return updated, err
	}
	t.logger.Info("transaction retry scheduled",
		zap.String("id", updated.ID),
		zap.Int("retry_count", updated.RetryCount),
		zap.Timep("next_retry_at", updated.NextRetryAt))
	return updated, nil
}

// Resubmit moves a RETRYING transaction back to PENDING after the caller has
// re-broadcast it. A non-empty hash replaces the previous one.
func (t *Tracker) Resubmit(ctx context.Context, id, hash string) (*types.Transaction, error) {
	updated, err := t.store.UpdateTransaction(ctx, id, func(tx *types.Transaction) error {
		if tx.Status != types.TxRetrying {
			return transitionError(tx, "resubmit")
		}
		tx.Status = types.TxPending
		tx.NextRetryAt = nil
		tx.SubmittedAt = t.now()
		if hash = strings.TrimSpace(hash); hash != "" {
			tx.TxHash = hash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.RecordTransactionTransition(ctx, string(updated.Type), string(updated.Status))
	t.logger.Info("transaction resubmitted",
		zap.String("id", updated.ID),
		zap.String("tx_hash", updated.TxHash),
		zap.Int("retry_count", updated.RetryCount))
	return updated, nil
}

// Fail aborts a non-terminal transaction with reason.
func (t *Tracker) Fail(ctx context.Context, id, reason string) (*types.Transaction, error) {
	updated, err := t.store.UpdateTransaction(ctx, id, func(tx *types.Transaction) error {
		if tx.Status.IsTerminal() {
			return transitionError(tx, "fail")
		}
		now := t.now()
		tx.Status = types.TxFailed
		tx.StatusMessage = reason
		tx.NextRetryAt = nil
		tx.LastCheckedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.RecordTransactionTransition(ctx, string(updated.Type), string(updated.Status))
	t.logger.Warn("transaction failed", zap.String("id", updated.ID), zap.String("reason", reason))
	return updated, nil
}

// MarkChecked stamps last_checked_at without changing status.
func (t *Tracker) MarkChecked(ctx context.Context, id string) error {
	_, err := t.store.UpdateTransaction(ctx, id, func(tx *types.Transaction) error {
		now := t.now()
		tx.LastCheckedAt = &now
		return nil
	})
	return err
}

func (t *Tracker) Get(ctx context.Context, id string) (*types.Transaction, error) {
	return t.store.GetTransaction(ctx, id)
}

func (t *Tracker) GetByHash(ctx context.Context, hash string) (*types.Transaction, error) {
	return t.store.GetTransactionByHash(ctx, strings.TrimSpace(hash))
}

func (t *Tracker) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Transaction, error) {
	return t.store.ListTransactionsByPlayer(ctx, playerID, limit)
}

func (t *Tracker) ListBySession(ctx context.Context, sessionID string) ([]*types.Transaction, error) {
	return t.store.ListTransactionsBySession(ctx, sessionID)
}

func (t *Tracker) ListByStatus(ctx context.Context, status types.TransactionStatus, limit int) ([]*types.Transaction, error) {
	return t.store.ListTransactionsByStatus(ctx, status, limit)
}

// List returns one page, newest first, plus the total number of records.
func (t *Tracker) List(ctx context.Context, page, limit int) ([]*types.Transaction, int, error) {
	return t.store.ListTransactions(ctx, page, limit)
}

// ListPendingForCheck returns PENDING transactions with a known hash, oldest
// first, for the confirmation poller.
func (t *Tracker) ListPendingForCheck(ctx context.Context, limit int) ([]*types.Transaction, error) {
	return t.store.ListPendingForCheck(ctx, limit)
}

// ListDueForRetry returns RETRYING transactions whose backoff has elapsed.
func (t *Tracker) ListDueForRetry(ctx context.Context, limit int) ([]*types.Transaction, error) {
	return t.store.ListDueForRetry(ctx, t.now(), limit)
}

// Statistics counts transactions per status.
type Statistics struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
}

func (t *Tracker) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := t.store.CountTransactionsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		Pending:   counts[types.TxPending],
		Confirmed: counts[types.TxConfirmed],
		Failed:    counts[types.TxFailed],
		Retrying:  counts[types.TxRetrying],
	}
	stats.Total = stats.Pending + stats.Confirmed + stats.Failed + stats.Retrying
	return stats, nil
}

func transitionError(tx *types.Transaction, op string) error {
	return errors.Wrapf(errs.ErrInvalidTransition, "%s transaction %s in status %s", op, tx.ID, tx.Status)
}
