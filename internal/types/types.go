// Package types holds the records shared by the session, transaction and
// attestation packages: the six-field StatSet and the player, session and
// transaction rows persisted by the store.
package types

import (
	"fmt"
	"time"
)

// StatSet is the six-attribute game state locked on chain next to the
// player's identity NFT.
type StatSet struct {
	HP           int64 `json:"hp"`
	Exp          int64 `json:"exp"`
	Agility      int64 `json:"agility"`
	Strength     int64 `json:"strength"`
	Intelligence int64 `json:"intelligence"`
	Speed        int64 `json:"speed"`
}

// Stat caps applied by callers before accepting client supplied stats.
// The attestation codec never enforces them.
const (
	MaxHP             = 10000
	MaxSecondaryStat  = 1000
	DefaultStartingHP = 100
)

// DefaultStats are the stats a freshly registered player starts with.
func DefaultStats() StatSet {
	return StatSet{HP: DefaultStartingHP, Agility: 10, Strength: 10, Intelligence: 10, Speed: 10}
}

// Validate rejects negative values and values above the game caps.
func (s StatSet) Validate() error {
	fields := []struct {
		name  string
		value int64
		max   int64
	}{
		{"hp", s.HP, MaxHP},
		{"agility", s.Agility, MaxSecondaryStat},
		{"strength", s.Strength, MaxSecondaryStat},
		{"intelligence", s.Intelligence, MaxSecondaryStat},
		{"speed", s.Speed, MaxSecondaryStat},
	}
	if s.Exp < 0 {
		return fmt.Errorf("exp must be non-negative, got %d", s.Exp)
	}
	for _, f := range fields {
		if f.value < 0 || f.value > f.max {
			return fmt.Errorf("%s must be between 0 and %d, got %d", f.name, f.max, f.value)
		}
	}
	return nil
}

func (s StatSet) String() string {
	return fmt.Sprintf("HP=%d EXP=%d AGI=%d STR=%d INT=%d SPD=%d",
		s.HP, s.Exp, s.Agility, s.Strength, s.Intelligence, s.Speed)
}

// Player is the off-chain mirror of a registered identity NFT holder.
type Player struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"wallet_address"`
	NFTPolicyID   string     `json:"nft_policy_id"`
	NFTAssetName  string     `json:"nft_asset_name"`
	NFTTxHash     string     `json:"nft_tx_hash,omitempty"`
	StakeAddress  string     `json:"stake_address,omitempty"`
	ScriptAddress string     `json:"script_address,omitempty"`
	Stats         StatSet    `json:"stats"`
	// SessionCounter is the session number the next session will be created with.
	SessionCounter int64      `json:"current_session_id"`
	IsPlaying      bool       `json:"is_playing"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastPlayedAt   *time.Time `json:"last_played_at,omitempty"`
}

// Session is one bounded play period of a player.
type Session struct {
	ID            string        `json:"id"`
	PlayerID      string        `json:"player_id"`
	SessionNumber int64         `json:"session_number"`
	Status        SessionStatus `json:"status"`
	StartStats    StatSet       `json:"start_stats"`
	EndStats      *StatSet      `json:"end_stats,omitempty"`
	// Signature and Message are hex encoded and set once, at finalization.
	Signature   string     `json:"final_signature,omitempty"`
	Message     string     `json:"final_message,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Transaction tracks one attempted on-chain write.
type Transaction struct {
	ID            string            `json:"id"`
	PlayerID      string            `json:"player_id"`
	SessionID     *string           `json:"session_id,omitempty"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	StatusMessage string            `json:"status_message,omitempty"`
	TxHash        string            `json:"tx_hash,omitempty"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	NextRetryAt   *time.Time        `json:"next_retry_at,omitempty"`
	BlockHeight   *int64            `json:"block_height,omitempty"`
	Slot          *int64            `json:"slot,omitempty"`
	BlockTime     *time.Time        `json:"block_time,omitempty"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	LastCheckedAt *time.Time        `json:"last_checked_at,omitempty"`
}

// BlockLocator identifies where a transaction landed on chain.
type BlockLocator struct {
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockHeight int64     `json:"block_height"`
	Slot        int64     `json:"slot"`
	BlockTime   time.Time `json:"block_time,omitempty"`
}
