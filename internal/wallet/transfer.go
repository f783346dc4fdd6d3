package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capsulepay/walletd/internal/db"
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// BuildAndSubmitTransfer runs one transfer end to end: refresh the
// source views, resolve the group endpoint, reserve certificates, build,
// submit, then settle the reservations against what the built
// transaction actually consumed. Reservations taken by this call are
// rolled back on every failure path.
func (w *WalletService) BuildAndSubmitTransfer(ctx context.Context, req *types.TransferRequest) *types.TransferResult {
	if req.AccountId == "" {
		return types.TransferFailed("missing account id")
	}
	if len(req.FromAddresses) == 0 {
		return types.TransferFailed("no source addresses")
	}
	if req.ToAddress == "" {
		return types.TransferFailed("missing destination address")
	}

	req.ToAddress = types.NormalizeAddress(req.ToAddress)
	for i, addr := range req.FromAddresses {
		req.FromAddresses[i] = types.NormalizeAddress(addr)
	}
	for coinType, addr := range req.ChangeAddresses {
		req.ChangeAddresses[coinType] = types.NormalizeAddress(addr)
	}

	w.refreshAddressViews(ctx, req)

	membership, err := w.gateway.ResolveOrgMembership(ctx, req.AccountId)
	if err != nil {
		log.Errorf("Wallet resolve org membership account %s error: %v", req.AccountId, err)
		return types.TransferFailed(fmt.Sprintf("resolve org membership: %v", err))
	}
	if !membership.Grouped {
		// recipient metadata is only meaningful inside a group
		req.RecipientPubKey = ""
		req.RecipientOrgId = ""
		req.Interest = 0
	}

	preLocked := w.draftLockCertificates(req)

	builtTx, err := w.builder.BuildTransfer(ctx, req, membership, preLocked)
	if err != nil {
		w.txCerLocks.UnlockTxCers(preLocked, false)
		log.Errorf("Wallet build transfer account %s error: %v", req.AccountId, err)
		return types.TransferFailed(fmt.Sprintf("build transfer: %v", err))
	}

	txId, err := w.gateway.SubmitTx(ctx, membership.Grouped, builtTx)
	if err != nil {
		w.txCerLocks.UnlockTxCers(preLocked, false)
		log.Errorf("Wallet submit tx %s account %s error: %v", builtTx.TxHash, req.AccountId, err)
		return types.TransferFailed(fmt.Sprintf("submit tx: %v", err))
	}
	if txId == "" {
		txId = builtTx.TxHash
	}

	w.recordSubmission(req, txId)
	w.settleCertificateLocks(builtTx, preLocked, txId)
	w.lockSpentUtxos(req, builtTx, txId)

	go w.WatchSubmittedTransaction(w.watchCtx(), req.AccountId, txId, membership.OrgId)

	log.Infof("Wallet submitted tx %s account %s mode %s amount %d", txId, req.AccountId, req.Mode, req.Amount)
	return types.TransferOk(txId)
}

// refreshAddressViews re-syncs every address the transfer can touch.
// Failures are logged and skipped, the builder then works from the last
// synced view.
func (w *WalletService) refreshAddressViews(ctx context.Context, req *types.TransferRequest) {
	seen := make(map[string]bool)
	addresses := make([]string, 0, len(req.FromAddresses)+len(req.ChangeAddresses))
	for _, addr := range req.FromAddresses {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}
	for _, addr := range req.ChangeAddresses {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}

	for _, addr := range addresses {
		summary, err := w.gateway.FetchAddressSummary(ctx, addr, req.CoinType)
		if err != nil {
			log.Warnf("Wallet refresh address %s error: %v", addr, err)
			continue
		}
		utxos := make([]*db.Utxo, 0, len(summary.Utxos))
		for _, u := range summary.Utxos {
			utxos = append(utxos, &db.Utxo{
				UtxoId:   types.UtxoID(u.Txid, u.OutIndex),
				Txid:     strings.ToLower(u.Txid),
				OutIndex: u.OutIndex,
				Value:    u.Value,
				CoinType: u.CoinType,
			})
		}
		certs := make([]*db.TxCertificate, 0, len(summary.Certificates))
		for _, c := range summary.Certificates {
			certs = append(certs, &db.TxCertificate{
				TxCerId:  c.TxCerId,
				Value:    c.Value,
				CoinType: c.CoinType,
				Status:   c.Status,
			})
		}
		// ReplaceAddressView logs its own failures, stale view is acceptable
		_ = w.state.ReplaceAddressView(req.AccountId, addr, req.CoinType, summary.Balance, utxos, certs)
	}

	if account, err := w.state.GetAccount(req.AccountId); err == nil {
		account.SyncedAt = time.Now()
		if err := w.state.SaveAccount(account); err != nil {
			log.Warnf("Wallet update account %s sync time error: %v", req.AccountId, err)
		}
	}
}

// draftLockCertificates reserves every known certificate of the source
// addresses before building. Best effort: a failed listing just means
// nothing gets reserved up front.
func (w *WalletService) draftLockCertificates(req *types.TransferRequest) []string {
	certIds, err := w.state.GetCertificateIds(req.AccountId, req.FromAddresses)
	if err != nil {
		log.Warnf("Wallet list certificates account %s error: %v", req.AccountId, err)
		return nil
	}
	return w.txCerLocks.LockTxCers(certIds, fmt.Sprintf("transfer to %s", req.ToAddress), "")
}

func (w *WalletService) recordSubmission(req *types.TransferRequest, txId string) {
	record := &db.TxRecord{
		AccountId:   req.AccountId,
		TxHash:      txId,
		RequestId:   uuid.New().String(),
		FromAddress: strings.Join(req.FromAddresses, ","),
		ToAddress:   req.ToAddress,
		Amount:      req.Amount,
		Gas:         req.GasPrice * req.GasLimit,
		CoinType:    req.CoinType,
		Mode:        req.Mode,
	}
	if err := w.state.CreateTxRecord(record); err != nil {
		log.Errorf("Wallet record tx %s error: %v", txId, err)
	}
}

// settleCertificateLocks partitions the draft reservations by what the
// built transaction consumed: unused ones are released without replay,
// used ones are upgraded to submitted locks tied to the tx id.
func (w *WalletService) settleCertificateLocks(builtTx *types.BuiltTx, preLocked []string, txId string) {
	used := make(map[string]bool, len(builtTx.CertInputs))
	for _, in := range builtTx.CertInputs {
		used[in.TXCerID] = true
	}

	var usedIds, unusedIds []string
	for _, id := range preLocked {
		if used[id] {
			usedIds = append(usedIds, id)
		} else {
			unusedIds = append(unusedIds, id)
		}
	}

	w.txCerLocks.UnlockTxCers(unusedIds, false)
	w.txCerLocks.MarkTxCersSubmitted(usedIds, txId, "")
}

// lockSpentUtxos reserves the consumed outputs under the submitted tx.
// Inputs that no longer resolve in the local view are still locked from
// the builder's data so a retry cannot double spend them.
func (w *WalletService) lockSpentUtxos(req *types.TransferRequest, builtTx *types.BuiltTx, txId string) {
	if len(builtTx.Inputs) == 0 {
		return
	}

	refs := make([]lock.UtxoRef, 0, len(builtTx.Inputs))
	for _, in := range builtTx.Inputs {
		utxoId := types.UtxoID(in.FromTXID, in.FromTxPosition.IndexZ)
		address := types.NormalizeAddress(in.FromAddress)

		ref := lock.UtxoRef{
			UtxoId:   utxoId,
			Address:  address,
			Value:    in.Value,
			CoinType: req.CoinType,
		}

		row := w.resolveUtxo(req.AccountId, address, utxoId)
		if row != nil {
			ref.Address = row.Address
			ref.Value = row.Value
			ref.CoinType = row.CoinType
		} else {
			log.Warnf("Wallet tx %s input %s missing from local view, locking from builder data", txId, utxoId)
		}
		refs = append(refs, ref)
	}

	w.utxoLocks.Lock(refs, txId)
}

// resolveUtxo looks the input up under its address first, then falls
// back to the whole account.
func (w *WalletService) resolveUtxo(accountId, address, utxoId string) *db.Utxo {
	if utxos, err := w.state.GetUtxosByAddress(accountId, address); err == nil {
		for _, u := range utxos {
			if u.UtxoId == utxoId {
				return u
			}
		}
	}
	row, err := w.state.GetUtxoById(accountId, utxoId)
	if err != nil {
		return nil
	}
	return row
}
