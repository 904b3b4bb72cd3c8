package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

const sessionColumns = `id, player_id, session_number, status,
	start_hp, start_exp, start_agility, start_strength, start_intelligence, start_speed,
	end_hp, end_exp, end_agility, end_strength, end_intelligence, end_speed,
	final_signature, final_message, started_at, finalized_at, ended_at`

const defaultSessionListLimit = 10

// CreateSession loads the player, lets build derive the new session from it
// and inserts the session together with the player changes build made, all in
// one transaction. A second ACTIVE session for the player violates the
// partial unique index and is reported as errs.ErrSessionConflict.
func (s *Store) CreateSession(ctx context.Context, playerID string, build func(p *types.Player) (*types.Session, error)) (*types.Session, error) {
	var created *types.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		player, err := getPlayer(ctx, tx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, playerID)
		if err != nil {
			return err
		}

		session, err := build(player)
		if err != nil {
			return err
		}
		if err := insertSession(ctx, tx, session); err != nil {
			return err
		}

		player.UpdatedAt = s.now()
		if err := updatePlayer(ctx, tx, player); err != nil {
			return err
		}
		created = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateSession loads the session and its player inside one transaction,
// applies fn and persists both rows. Nothing is written when fn fails.
func (s *Store) UpdateSession(ctx context.Context, id string, fn func(session *types.Session, player *types.Player) error) (*types.Session, error) {
	var updated *types.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		session, err := getSession(ctx, tx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		player, err := getPlayer(ctx, tx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, session.PlayerID)
		if err != nil {
			return err
		}

		if err := fn(session, player); err != nil {
			return err
		}

		if err := writeSession(ctx, tx, session); err != nil {
			return err
		}
		player.UpdatedAt = s.now()
		if err := updatePlayer(ctx, tx, player); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return getSession(ctx, s.db, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`, id)
}

// GetActiveSession returns the player's ACTIVE session.
func (s *Store) GetActiveSession(ctx context.Context, playerID string) (*types.Session, error) {
	return getSession(ctx, s.db,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE player_id = ? AND status = ?`,
		playerID, string(types.SessionActive))
}

// ListSessionsByPlayer returns the player's sessions, newest first.
func (s *Store) ListSessionsByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Session, error) {
	return listSessions(ctx, s.db,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE player_id = ?
		 ORDER BY started_at DESC, session_number DESC LIMIT ?`,
		playerID, normalizeLimit(limit, defaultSessionListLimit))
}

// ListSessionsByStatus returns sessions in status, newest first.
func (s *Store) ListSessionsByStatus(ctx context.Context, status types.SessionStatus, limit int) ([]*types.Session, error) {
	return listSessions(ctx, s.db,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE status = ?
		 ORDER BY started_at DESC LIMIT ?`,
		string(status), normalizeLimit(limit, 100))
}

// CountSessionsByStatus returns the number of sessions per status.
func (s *Store) CountSessionsByStatus(ctx context.Context) (map[types.SessionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM game_sessions GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "count sessions")
	}
	defer rows.Close()

	counts := make(map[types.SessionStatus]int, len(types.SessionStatuses))
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, errors.Wrap(err, "scan session count")
		}
		status, err := types.ParseSessionStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterate session counts")
}

func insertSession(ctx context.Context, q querier, session *types.Session) error {
	end := endStatsArgs(session.EndStats)
	args := []any{
		session.ID, session.PlayerID, session.SessionNumber, string(session.Status),
		session.StartStats.HP, session.StartStats.Exp, session.StartStats.Agility,
		session.StartStats.Strength, session.StartStats.Intelligence, session.StartStats.Speed,
	}
	args = append(args, end...)
	args = append(args, session.Signature, session.Message,
		toMillis(session.StartedAt), nullMillis(session.FinalizedAt), nullMillis(session.EndedAt))

	_, err := q.ExecContext(ctx, `INSERT INTO game_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return errors.Wrapf(errs.ErrSessionConflict, "player %s", session.PlayerID)
	}
	return errors.Wrap(err, "insert session")
}

// writeSession persists the mutable columns of a session.
func writeSession(ctx context.Context, q querier, session *types.Session) error {
	args := []any{string(session.Status)}
	args = append(args, endStatsArgs(session.EndStats)...)
	args = append(args, session.Signature, session.Message,
		nullMillis(session.FinalizedAt), nullMillis(session.EndedAt), session.ID)

	res, err := q.ExecContext(ctx, `UPDATE game_sessions SET status = ?,
		end_hp = ?, end_exp = ?, end_agility = ?, end_strength = ?, end_intelligence = ?, end_speed = ?,
		final_signature = ?, final_message = ?, finalized_at = ?, ended_at = ?
		WHERE id = ?`, args...)
	if isUniqueViolation(err) {
		return errors.Wrapf(errs.ErrSessionConflict, "player %s", session.PlayerID)
	}
	if err != nil {
		return errors.Wrapf(err, "update session %s", session.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errs.ErrSessionNotFound, "session %s", session.ID)
	}
	return nil
}

func endStatsArgs(end *types.StatSet) []any {
	if end == nil {
		return []any{nil, nil, nil, nil, nil, nil}
	}
	return []any{end.HP, end.Exp, end.Agility, end.Strength, end.Intelligence, end.Speed}
}

func getSession(ctx context.Context, q querier, query string, args ...any) (*types.Session, error) {
	session, err := scanSession(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrSessionNotFound
	}
	return session, err
}

func listSessions(ctx context.Context, q querier, query string, args ...any) ([]*types.Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	out := []*types.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, errors.Wrap(rows.Err(), "iterate sessions")
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		session                types.Session
		status                 string
		endHP, endExp, endAgi  sql.NullInt64
		endStr, endInt, endSpd sql.NullInt64
		startedAt              int64
		finalizedAt, endedAt   sql.NullInt64
	)
	err := row.Scan(&session.ID, &session.PlayerID, &session.SessionNumber, &status,
		&session.StartStats.HP, &session.StartStats.Exp, &session.StartStats.Agility,
		&session.StartStats.Strength, &session.StartStats.Intelligence, &session.StartStats.Speed,
		&endHP, &endExp, &endAgi, &endStr, &endInt, &endSpd,
		&session.Signature, &session.Message, &startedAt, &finalizedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan session")
	}

	session.Status, err = types.ParseSessionStatus(status)
	if err != nil {
		return nil, err
	}
	if endHP.Valid {
		session.EndStats = &types.StatSet{
			HP:           endHP.Int64,
			Exp:          endExp.Int64,
			Agility:      endAgi.Int64,
			Strength:     endStr.Int64,
			Intelligence: endInt.Int64,
			Speed:        endSpd.Int64,
		}
	}
	session.StartedAt = fromMillis(startedAt)
	session.FinalizedAt = timePtr(finalizedAt)
	session.EndedAt = timePtr(endedAt)
	return &session, nil
}
