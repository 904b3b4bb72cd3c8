package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

const transactionColumns = `id, player_id, session_id, type, status, status_message, tx_hash,
	retry_count, max_retries, next_retry_at, block_height, slot, block_time,
	submitted_at, confirmed_at, last_checked_at`

const (
	defaultTransactionListLimit = 100
	maxTransactionPageSize      = 100
)

// CreateTransaction inserts tx after checking the owning player, and session
// when set, exist. A tx hash already tracked maps to errs.ErrInvalidTransition
// since one on-chain write cannot be tracked twice.
func (s *Store) CreateTransaction(ctx context.Context, tx *types.Transaction) error {
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = s.now()
	}
	return s.inTx(ctx, func(dbTx *sql.Tx) error {
		if _, err := getPlayer(ctx, dbTx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, tx.PlayerID); err != nil {
			return err
		}
		if tx.SessionID != nil {
			if _, err := getSession(ctx, dbTx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`, *tx.SessionID); err != nil {
				return err
			}
		}

		_, err := dbTx.ExecContext(ctx, `INSERT INTO game_transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			transactionArgs(tx)...)
		if isUniqueViolation(err) {
			return errors.Wrapf(errs.ErrInvalidTransition, "transaction hash %s already tracked", tx.TxHash)
		}
		return errors.Wrap(err, "insert transaction")
	})
}

// UpdateTransaction loads the record, applies fn and writes it back in one
// database transaction. Nothing is written when fn fails, except when fn
// returns errs.ErrRetryBudgetExhausted: the record is then persisted (it is
// expected to have been moved to FAILED) and the error is still returned.
func (s *Store) UpdateTransaction(ctx context.Context, id string, fn func(tx *types.Transaction) error) (*types.Transaction, error) {
	var (
		updated *types.Transaction
		fnErr   error
	)
	err := s.inTx(ctx, func(dbTx *sql.Tx) error {
		record, err := getTransaction(ctx, dbTx, `SELECT `+transactionColumns+` FROM game_transactions WHERE id = ?`, id)
		if err != nil {
			return err
		}

		fnErr = fn(record)
		if fnErr != nil && !errors.Is(fnErr, errs.ErrRetryBudgetExhausted) {
			return fnErr
		}

		if err := writeTransaction(ctx, dbTx, record); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, fnErr
}

// GetTransaction loads a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	return getTransaction(ctx, s.db, `SELECT `+transactionColumns+` FROM game_transactions WHERE id = ?`, id)
}

// GetTransactionByHash loads a transaction by its on-chain hash.
func (s *Store) GetTransactionByHash(ctx context.Context, hash string) (*types.Transaction, error) {
	return getTransaction(ctx, s.db, `SELECT `+transactionColumns+` FROM game_transactions WHERE tx_hash = ?`, hash)
}

// ListTransactionsByPlayer returns the player's transactions, newest first.
func (s *Store) ListTransactionsByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Transaction, error) {
	return listTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM game_transactions WHERE player_id = ?
		 ORDER BY submitted_at DESC LIMIT ?`,
		playerID, normalizeLimit(limit, defaultTransactionListLimit))
}

// ListTransactionsBySession returns the session's transactions in submission order.
func (s *Store) ListTransactionsBySession(ctx context.Context, sessionID string) ([]*types.Transaction, error) {
	return listTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM game_transactions WHERE session_id = ?
		 ORDER BY submitted_at ASC`,
		sessionID)
}

// ListTransactionsByStatus returns transactions in status, newest first.
func (s *Store) ListTransactionsByStatus(ctx context.Context, status types.TransactionStatus, limit int) ([]*types.Transaction, error) {
	return listTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM game_transactions WHERE status = ?
		 ORDER BY submitted_at DESC LIMIT ?`,
		string(status), normalizeLimit(limit, maxTransactionPageSize))
}

// ListTransactions returns one page of transactions, newest first, together
// with the total count. Pages start at 1.
func (s *Store) ListTransactions(ctx context.Context, page, limit int) ([]*types.Transaction, int, error) {
	limit = normalizeLimit(limit, defaultTransactionListLimit)
	if limit > maxTransactionPageSize {
		limit = maxTransactionPageSize
	}
	if page < 1 {
		page = 1
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM game_transactions`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count transactions")
	}
	out, err := listTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM game_transactions
		 ORDER BY submitted_at DESC, id ASC LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListPendingForCheck returns PENDING transactions that carry a hash, oldest
// submission first.
func (s *Store) ListPendingForCheck(ctx context.Context, limit int) ([]*types.Transaction, error) {
	return listTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM game_transactions
		 WHERE status = ? AND tx_hash IS NOT NULL
		 ORDER BY submitted_at ASC LIMIT ?`,
		string(types.TxPending), normalizeLimit(limit, maxTransactionPageSize))
}

// ListDueForRetry returns RETRYING transactions whose next_retry_at is not
// after now.
func (s *Store) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*types.Transaction, error) {
	return listTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM game_transactions
		 WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC LIMIT ?`,
		string(types.TxRetrying), toMillis(now), normalizeLimit(limit, maxTransactionPageSize))
}

// CountTransactionsByStatus returns the number of transactions per status.
func (s *Store) CountTransactionsByStatus(ctx context.Context) (map[types.TransactionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM game_transactions GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "count transactions")
	}
	defer rows.Close()

	counts := make(map[types.TransactionStatus]int, len(types.TransactionStatuses))
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, errors.Wrap(err, "scan transaction count")
		}
		status, err := types.ParseTransactionStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterate transaction counts")
}

func transactionArgs(tx *types.Transaction) []any {
	return []any{
		tx.ID, tx.PlayerID, sessionIDArg(tx.SessionID), string(tx.Type), string(tx.Status),
		tx.StatusMessage, nullString(tx.TxHash),
		tx.RetryCount, tx.MaxRetries, nullMillis(tx.NextRetryAt),
		nullInt64(tx.BlockHeight), nullInt64(tx.Slot), nullMillis(tx.BlockTime),
		toMillis(tx.SubmittedAt), nullMillis(tx.ConfirmedAt), nullMillis(tx.LastCheckedAt),
	}
}

func sessionIDArg(id *string) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(*id)
}

func writeTransaction(ctx context.Context, q querier, tx *types.Transaction) error {
	res, err := q.ExecContext(ctx, `UPDATE game_transactions SET
		status = ?, status_message = ?, tx_hash = ?, retry_count = ?, max_retries = ?,
		next_retry_at = ?, block_height = ?, slot = ?, block_time = ?,
		submitted_at = ?, confirmed_at = ?, last_checked_at = ?
		WHERE id = ?`,
		string(tx.Status), tx.StatusMessage, nullString(tx.TxHash), tx.RetryCount, tx.MaxRetries,
		nullMillis(tx.NextRetryAt), nullInt64(tx.BlockHeight), nullInt64(tx.Slot), nullMillis(tx.BlockTime),
		toMillis(tx.SubmittedAt), nullMillis(tx.ConfirmedAt), nullMillis(tx.LastCheckedAt), tx.ID,
	)
	if isUniqueViolation(err) {
		return errors.Wrapf(errs.ErrInvalidTransition, "transaction hash %s already tracked", tx.TxHash)
	}
	if err != nil {
		return errors.Wrapf(err, "update transaction %s", tx.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errs.ErrTransactionNotFound, "transaction %s", tx.ID)
	}
	return nil
}

func getTransaction(ctx context.Context, q querier, query string, args ...any) (*types.Transaction, error) {
	tx, err := scanTransaction(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrTransactionNotFound
	}
	return tx, err
}

func listTransactions(ctx context.Context, q querier, query string, args ...any) ([]*types.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	defer rows.Close()

	out := []*types.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, errors.Wrap(rows.Err(), "iterate transactions")
}

func scanTransaction(row rowScanner) (*types.Transaction, error) {
	var (
		tx                         types.Transaction
		sessionID, hash            sql.NullString
		txType, status             string
		nextRetry, blockTime       sql.NullInt64
		blockHeight, slot          sql.NullInt64
		submittedAt                int64
		confirmedAt, lastCheckedAt sql.NullInt64
	)
	err := row.Scan(&tx.ID, &tx.PlayerID, &sessionID, &txType, &status, &tx.StatusMessage, &hash,
		&tx.RetryCount, &tx.MaxRetries, &nextRetry, &blockHeight, &slot, &blockTime,
		&submittedAt, &confirmedAt, &lastCheckedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan transaction")
	}

	if tx.Type, err = types.ParseTransactionType(txType); err != nil {
		return nil, err
	}
	if tx.Status, err = types.ParseTransactionStatus(status); err != nil {
		return nil, err
	}
	if sessionID.Valid {
		id := sessionID.String
		tx.SessionID = &id
	}
	tx.TxHash = hash.String
	tx.NextRetryAt = timePtr(nextRetry)
	tx.BlockHeight = int64Ptr(blockHeight)
	tx.Slot = int64Ptr(slot)
	tx.BlockTime = timePtr(blockTime)
	tx.SubmittedAt = fromMillis(submittedAt)
	tx.ConfirmedAt = timePtr(confirmedAt)
	tx.LastCheckedAt = timePtr(lastCheckedAt)
	return &tx, nil
}
