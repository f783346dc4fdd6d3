package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/kelindar/bitmap"
	log "github.com/sirupsen/logrus"
)

// StartTxStatusSync re-arms a watch for every transaction of the account
// still pending locally, used after startup and account switches.
func (w *WalletService) StartTxStatusSync(ctx context.Context, accountId string) {
	records, err := w.state.GetPendingTxRecords(accountId)
	if err != nil {
		log.Errorf("Watcher list pending txs account %s error: %v", accountId, err)
		return
	}
	if len(records) == 0 {
		return
	}

	orgId := ""
	if account, err := w.state.GetAccount(accountId); err == nil {
		orgId = account.OrgId
	}

	log.Infof("Watcher resuming %d pending txs for account %s", len(records), accountId)
	for _, record := range records {
		go w.WatchSubmittedTransaction(ctx, accountId, record.TxHash, orgId)
	}
}

// WatchSubmittedTransaction polls the confirmation endpoint until the
// transaction reaches a terminal status or the watch window closes.
// Re-entrant per (account, tx): a second call for a tx already under
// watch returns immediately. A failed transaction releases every
// resource reserved under its id; a timed out watch leaves the
// reservations for expiry and reports TxWatchTimeout.
func (w *WalletService) WatchSubmittedTransaction(ctx context.Context, accountId, txHash, orgId string) {
	key := watchKey(accountId, txHash)

	w.watchMu.Lock()
	if _, exists := w.watching[key]; exists {
		w.watchMu.Unlock()
		return
	}
	pushCh := make(chan *types.ConfirmStatus, 4)
	w.watching[key] = pushCh
	w.watchMu.Unlock()

	defer func() {
		w.watchMu.Lock()
		delete(w.watching, key)
		w.watchMu.Unlock()
	}()

	ticker := time.NewTicker(w.confirmInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(w.confirmMaxWait)
	defer deadline.Stop()

	log.Debugf("Watcher armed for tx %s account %s", txHash, accountId)

	var endorsed bitmap.Bitmap
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.Warnf("Watcher tx %s timed out after %v, leaving locks for expiry", txHash, w.confirmMaxWait)
			w.state.EventBus.Publish(state.TxWatchTimeout, txHash)
			return
		case status := <-pushCh:
			if w.applyConfirmStatus(accountId, txHash, status, &endorsed) {
				return
			}
		case <-ticker.C:
			status, err := w.gateway.GetConfirmStatus(ctx, txHash, orgId)
			if err != nil {
				log.Debugf("Watcher poll tx %s error: %v", txHash, err)
				continue
			}
			if w.applyConfirmStatus(accountId, txHash, status, &endorsed) {
				return
			}
		}
	}
}

// NotifyTxStatus feeds a pushed confirmation into a running watch,
// short-circuiting the next poll. Dropped when nothing watches the tx.
func (w *WalletService) NotifyTxStatus(accountId, txHash string, status *types.ConfirmStatus) {
	w.watchMu.Lock()
	pushCh, ok := w.watching[watchKey(accountId, txHash)]
	w.watchMu.Unlock()
	if !ok {
		return
	}
	select {
	case pushCh <- status:
	default:
	}
}

// applyConfirmStatus handles one status observation, returning true on a
// terminal status.
func (w *WalletService) applyConfirmStatus(accountId, txHash string, status *types.ConfirmStatus, endorsed *bitmap.Bitmap) bool {
	switch status.Status {
	case types.CONFIRM_STATUS_SUCCESS:
		log.Infof("Watcher tx %s confirmed at height %d", txHash, status.BlockHeight)
		if err := w.state.UpdateTxSuccess(accountId, txHash, status.BlockHeight); err != nil {
			log.Errorf("Watcher update tx %s success error: %v", txHash, err)
		}
		return true

	case types.CONFIRM_STATUS_FAILED:
		log.Warnf("Watcher tx %s failed: %s", txHash, status.Reason)
		if err := w.state.UpdateTxFailed(accountId, txHash, status.Reason); err != nil {
			log.Errorf("Watcher update tx %s failure error: %v", txHash, err)
		}
		w.utxoLocks.UnlockByTxID(txHash)
		// draft state was consumed at submission, nothing to replay
		w.txCerLocks.UnlockTxCers(w.txCerLocks.LockedIDsByTxID(txHash), false)
		return true

	default:
		newly := 0
		for _, member := range status.Endorsements {
			if member < 0 {
				continue
			}
			if !endorsed.Contains(uint32(member)) {
				endorsed.Set(uint32(member))
				newly++
			}
		}
		if newly > 0 {
			log.Infof("Watcher tx %s endorsed by %d members", txHash, endorsed.Count())
		}
		return false
	}
}

func watchKey(accountId, txHash string) string {
	return accountId + ":" + strings.ToLower(txHash)
}
