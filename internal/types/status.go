package types

import "fmt"

// SessionStatus is the closed set of session states.
type SessionStatus string

const (
	SessionActive     SessionStatus = "ACTIVE"
	SessionFinalizing SessionStatus = "FINALIZING"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
)

// SessionStatuses lists every session state in lifecycle order.
var SessionStatuses = []SessionStatus{SessionActive, SessionFinalizing, SessionCompleted, SessionFailed}

// ParseSessionStatus maps a stored or user supplied value onto the enum.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case SessionActive, SessionFinalizing, SessionCompleted, SessionFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown session status %q", s)
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed:
		return true
	case SessionActive, SessionFinalizing:
		return false
	default:
		return false
	}
}

// TransactionStatus is the closed set of submission states.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxConfirmed TransactionStatus = "CONFIRMED"
	TxRetrying  TransactionStatus = "RETRYING"
	TxFailed    TransactionStatus = "FAILED"
)

// TransactionStatuses lists every submission state.
var TransactionStatuses = []TransactionStatus{TxPending, TxRetrying, TxConfirmed, TxFailed}

func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(s); st {
	case TxPending, TxConfirmed, TxRetrying, TxFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", s)
	}
}

// IsTerminal reports whether the submission reached CONFIRMED or FAILED.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TxConfirmed, TxFailed:
		return true
	case TxPending, TxRetrying:
		return false
	default:
		return false
	}
}

// TransactionType enumerates the on-chain operation kinds.
type TransactionType string

const (
	TxTypeMintNFT         TransactionType = "MINT_NFT"
	TxTypeCreatePlayer    TransactionType = "CREATE_PLAYER"
	TxTypeStartSession    TransactionType = "START_SESSION"
	TxTypeFinalizeSession TransactionType = "FINALIZE_SESSION"
	TxTypeUpdateStats     TransactionType = "UPDATE_STATS"
)

func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(s); t {
	case TxTypeMintNFT, TxTypeCreatePlayer, TxTypeStartSession, TxTypeFinalizeSession, TxTypeUpdateStats:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
}
