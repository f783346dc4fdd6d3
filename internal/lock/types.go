// Package lock holds the in-memory reservation state that keeps
// concurrent transfer flows from spending the same on-chain resource
// twice. Two managers share the same hydrate/persist/expiry pattern: one
// for spendable outputs, one for transaction certificates.
package lock

import (
	"github.com/capsulepay/walletd/internal/types"
)

const (
	STORAGE_VERSION = 1

	LOCK_MODE_DRAFT     = "draft"
	LOCK_MODE_SUBMITTED = "submitted"

	UTXO_LOCK_KEY_PREFIX  = "utxo_lock_"
	TXCER_LOCK_KEY_PREFIX = "txcer_lock_"
)

// ActiveAccountResolver reports the currently active account id, or an
// empty string when no account is active.
type ActiveAccountResolver interface {
	GetActiveAccountId() (string, error)
}

// UtxoRef identifies a spendable output a caller wants reserved.
type UtxoRef struct {
	UtxoId   string `json:"utxo_id"`
	Address  string `json:"address"`
	Value    uint64 `json:"value"`
	CoinType int    `json:"coin_type"`
}

// LockedUtxo is one live UTXO reservation. Presence in the map means
// "reserved by transaction TxId, not safe to reuse".
type LockedUtxo struct {
	UtxoId   string `json:"utxo_id"`
	Address  string `json:"address"`
	Value    uint64 `json:"value"`
	CoinType int    `json:"coin_type"`
	LockTime int64  `json:"lock_time"` // unix milliseconds
	TxId     string `json:"tx_id"`
}

// TxCerLock is one certificate reservation. Mode only moves forward:
// draft -> submitted, never back.
type TxCerLock struct {
	TxCerId     string `json:"txcer_id"`
	LockTime    int64  `json:"lock_time"` // unix milliseconds
	Mode        string `json:"mode"`      // "draft", "submitted"
	Reason      string `json:"reason"`
	RelatedTXID string `json:"related_txid,omitempty"`
}

// PendingTxCerUpdate buffers a server push that arrived while the
// certificate was lock-protected, replayed once the lock is released.
type PendingTxCerUpdate struct {
	TxCerId      string          `json:"txcer_id"`
	Status       int             `json:"status"`
	Utxo         *types.TxOutput `json:"utxo,omitempty"`
	ReceivedTime int64           `json:"received_time"`
}

// UtxoLockStorage is the persisted per-account snapshot of UTXO locks.
type UtxoLockStorage struct {
	Version     int          `json:"version"`
	LockedUtxos []LockedUtxo `json:"locked_utxos"`
	LastUpdate  int64        `json:"last_update"`
}

// TxCerLockStorage is the persisted per-account snapshot of certificate
// locks.
type TxCerLockStorage struct {
	Version    int         `json:"version"`
	Locks      []TxCerLock `json:"locks"`
	LastUpdate int64       `json:"last_update"`
}

// ReplayHandler receives a buffered update after its lock is released.
// The push dispatcher registers itself here at startup so the manager
// never has to reach back into the event layer.
type ReplayHandler func(update types.TxCerUpdate)
