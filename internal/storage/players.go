package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

const playerColumns = `id, wallet_address, nft_policy_id, nft_asset_name, nft_tx_hash, stake_address, script_address,
	current_hp, current_exp, current_agility, current_strength, current_intelligence, current_speed,
	current_session_id, is_playing, is_active, created_at, updated_at, last_played_at`

// CreatePlayer inserts p. Duplicate wallets or NFTs map to errs.ErrPlayerExists.
func (s *Store) CreatePlayer(ctx context.Context, p *types.Player) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WalletAddress, p.NFTPolicyID, p.NFTAssetName, p.NFTTxHash, p.StakeAddress, p.ScriptAddress,
		p.Stats.HP, p.Stats.Exp, p.Stats.Agility, p.Stats.Strength, p.Stats.Intelligence, p.Stats.Speed,
		p.SessionCounter, boolToInt(p.IsPlaying), boolToInt(p.IsActive),
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt), nullMillis(p.LastPlayedAt),
	)
	if isUniqueViolation(err) {
		return errors.Wrapf(errs.ErrPlayerExists, "wallet %s", p.WalletAddress)
	}
	return errors.Wrap(err, "insert player")
}

// GetPlayer loads a player by id.
func (s *Store) GetPlayer(ctx context.Context, id string) (*types.Player, error) {
	return getPlayer(ctx, s.db, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
}

// GetPlayerByWallet loads a player by wallet address.
func (s *Store) GetPlayerByWallet(ctx context.Context, wallet string) (*types.Player, error) {
	return getPlayer(ctx, s.db, `SELECT `+playerColumns+` FROM players WHERE wallet_address = ?`, wallet)
}

// GetPlayerByNFT loads a player by identity NFT.
func (s *Store) GetPlayerByNFT(ctx context.Context, policyID, assetName string) (*types.Player, error) {
	return getPlayer(ctx, s.db,
		`SELECT `+playerColumns+` FROM players WHERE nft_policy_id = ? AND nft_asset_name = ?`,
		policyID, assetName)
}

// ListPlayingPlayers returns players flagged as currently in a session.
func (s *Store) ListPlayingPlayers(ctx context.Context) ([]*types.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE is_playing = 1 ORDER BY last_played_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list playing players")
	}
	defer rows.Close()

	var out []*types.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate players")
}

// CountActivePlayers counts players with is_active set.
func (s *Store) CountActivePlayers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE is_active = 1`).Scan(&n)
	return n, errors.Wrap(err, "count players")
}

func getPlayer(ctx context.Context, q querier, query string, args ...any) (*types.Player, error) {
	p, err := scanPlayer(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrPlayerNotFound
	}
	return p, err
}

func updatePlayer(ctx context.Context, q querier, p *types.Player) error {
	res, err := q.ExecContext(ctx, `UPDATE players SET
		current_hp = ?, current_exp = ?, current_agility = ?, current_strength = ?,
		current_intelligence = ?, current_speed = ?, current_session_id = ?,
		is_playing = ?, is_active = ?, updated_at = ?, last_played_at = ?
		WHERE id = ?`,
		p.Stats.HP, p.Stats.Exp, p.Stats.Agility, p.Stats.Strength, p.Stats.Intelligence, p.Stats.Speed,
		p.SessionCounter, boolToInt(p.IsPlaying), boolToInt(p.IsActive),
		toMillis(p.UpdatedAt), nullMillis(p.LastPlayedAt), p.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update player %s", p.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errs.ErrPlayerNotFound, "player %s", p.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*types.Player, error) {
	var (
		p                    types.Player
		isPlaying, isActive  int
		createdAt, updatedAt int64
		lastPlayed           sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.WalletAddress, &p.NFTPolicyID, &p.NFTAssetName, &p.NFTTxHash, &p.StakeAddress, &p.ScriptAddress,
		&p.Stats.HP, &p.Stats.Exp, &p.Stats.Agility, &p.Stats.Strength, &p.Stats.Intelligence, &p.Stats.Speed,
		&p.SessionCounter, &isPlaying, &isActive, &createdAt, &updatedAt, &lastPlayed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan player")
	}
	p.IsPlaying = isPlaying == 1
	p.IsActive = isActive == 1
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	p.LastPlayedAt = timePtr(lastPlayed)
	return &p, nil
}
