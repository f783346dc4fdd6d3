// Package push ingests server-side events: certificate updates and
// transaction status changes, arriving over the websocket stream or the
// HTTP webhook. Both ingress paths funnel into one Dispatcher so the
// lock gating happens in exactly one place.
package push

import (
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	log "github.com/sirupsen/logrus"
)

// StatusNotifier feeds a pushed confirmation into a running tx watch.
type StatusNotifier interface {
	NotifyTxStatus(accountId, txHash string, status *types.ConfirmStatus)
}

type Dispatcher struct {
	state      *state.State
	txCerLocks *lock.TxCerLockManager
	notifier   StatusNotifier
}

func NewDispatcher(st *state.State, txCerLocks *lock.TxCerLockManager, notifier StatusNotifier) *Dispatcher {
	d := &Dispatcher{
		state:      st,
		txCerLocks: txCerLocks,
		notifier:   notifier,
	}
	// buffered updates come back through the same apply path once their
	// lock is released
	txCerLocks.SetReplayHandler(d.applyTxCerUpdate)
	return d
}

// HandleTxCerUpdate gates a pushed certificate change against the lock
// state: updates that would flip a draft-locked certificate to a
// terminal status are buffered and replayed after release, everything
// else is applied immediately.
func (d *Dispatcher) HandleTxCerUpdate(update types.TxCerUpdate) {
	if update.TxCerId == "" {
		log.Warn("Push dropped certificate update without id")
		return
	}

	if d.txCerLocks.ShouldBlockUpdate(update.TxCerId, update.Status) {
		log.Debugf("Push buffering update for locked certificate %s status %d", update.TxCerId, update.Status)
		d.txCerLocks.CacheUpdate(update.TxCerId, update.Status, update.Utxo)
		return
	}

	d.applyTxCerUpdate(update)
}

func (d *Dispatcher) applyTxCerUpdate(update types.TxCerUpdate) {
	accountId, err := d.state.GetActiveAccountId()
	if err != nil || accountId == "" {
		log.Warnf("Push dropped certificate update %s, no active account", update.TxCerId)
		return
	}
	if err := d.state.ApplyTxCerUpdate(accountId, update.TxCerId, update.Status); err != nil {
		log.Errorf("Push apply certificate update %s error: %v", update.TxCerId, err)
	}
}

// HandleTxStatus forwards a pushed confirmation to the watcher of that
// transaction, dropped when nothing watches it.
func (d *Dispatcher) HandleTxStatus(accountId, txHash string, status *types.ConfirmStatus) {
	if txHash == "" || status == nil {
		return
	}
	if accountId == "" {
		current, err := d.state.GetActiveAccountId()
		if err != nil || current == "" {
			return
		}
		accountId = current
	}
	d.notifier.NotifyTxStatus(accountId, txHash, status)
}
