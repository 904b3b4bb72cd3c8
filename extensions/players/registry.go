// Package players registers identity NFT holders and serves player lookups.
package players

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

// Store is the persistence the registry needs.
type Store interface {
	CreatePlayer(ctx context.Context, p *types.Player) error
	GetPlayer(ctx context.Context, id string) (*types.Player, error)
	GetPlayerByWallet(ctx context.Context, wallet string) (*types.Player, error)
	GetPlayerByNFT(ctx context.Context, policyID, assetName string) (*types.Player, error)
	ListPlayingPlayers(ctx context.Context) ([]*types.Player, error)
	CountActivePlayers(ctx context.Context) (int, error)
}

// RegisterRequest carries the identity NFT minted for a new player.
type RegisterRequest struct {
	WalletAddress string `json:"wallet_address"`
	NFTPolicyID   string `json:"nft_policy_id"`
	NFTAssetName  string `json:"nft_asset_name"`
	NFTTxHash     string `json:"nft_tx_hash,omitempty"`
	StakeAddress  string `json:"stake_address,omitempty"`
	ScriptAddress string `json:"script_address,omitempty"`
}

// Registry creates and looks up players.
type Registry struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		logger: logger.Named("players"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a player with the default starting stats. The wallet
// address must be hex since it is embedded in every attestation.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*types.Player, error) {
	wallet := strings.TrimSpace(req.WalletAddress)
	policy := strings.TrimSpace(req.NFTPolicyID)
	asset := strings.TrimSpace(req.NFTAssetName)
	if wallet == "" || policy == "" || asset == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument,
			"missing required fields: wallet_address, nft_policy_id, nft_asset_name")
	}
	if _, err := attestation.DecodeHex("wallet address", wallet); err != nil {
		return nil, err
	}

	p := &types.Player{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		NFTPolicyID:   policy,
		NFTAssetName:  asset,
		NFTTxHash:     strings.TrimSpace(req.NFTTxHash),
		StakeAddress:  strings.TrimSpace(req.StakeAddress),
		ScriptAddress: strings.TrimSpace(req.ScriptAddress),
		Stats:         types.DefaultStats(),
		IsActive:      true,
		CreatedAt:     r.now(),
	}
	if err := r.store.CreatePlayer(ctx, p); err != nil {
		return nil, err
	}

	r.logger.Info("player registered",
		zap.String("player_id", p.ID),
		zap.String("wallet", abbreviate(p.WalletAddress)),
		zap.String("nft", p.NFTPolicyID+"."+p.NFTAssetName))
	return p, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*types.Player, error) {
	return r.store.GetPlayer(ctx, id)
}

func (r *Registry) GetByWallet(ctx context.Context, wallet string) (*types.Player, error) {
	return r.store.GetPlayerByWallet(ctx, strings.TrimSpace(wallet))
}

// GetByNFT resolves the player owning the identity NFT policyID.assetName.
func (r *Registry) GetByNFT(ctx context.Context, policyID, assetName string) (*types.Player, error) {
	return r.store.GetPlayerByNFT(ctx, strings.TrimSpace(policyID), strings.TrimSpace(assetName))
}

func (r *Registry) ListPlaying(ctx context.Context) ([]*types.Player, error) {
	return r.store.ListPlayingPlayers(ctx)
}

func (r *Registry) CountActive(ctx context.Context) (int, error) {
	return r.store.CountActivePlayers(ctx)
}

func abbreviate(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
