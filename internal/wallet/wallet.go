package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/capsulepay/walletd/internal/gateway"
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	log "github.com/sirupsen/logrus"
)

// GatewayAPI is the slice of the gateway client the wallet service uses.
// *gateway.Client satisfies it, tests swap in fakes.
type GatewayAPI interface {
	SubmitTx(ctx context.Context, grouped bool, tx *types.BuiltTx) (string, error)
	GetConfirmStatus(ctx context.Context, txHash, orgId string) (*types.ConfirmStatus, error)
	ResolveOrgMembership(ctx context.Context, accountId string) (*types.OrgMembership, error)
	FetchAddressSummary(ctx context.Context, address string, coinType int) (*gateway.AddressSummary, error)
}

// WalletService orchestrates transfer construction, submission and
// confirmation tracking over the lock managers and the gateway.
type WalletService struct {
	state      *state.State
	utxoLocks  *lock.UtxoLockManager
	txCerLocks *lock.TxCerLockManager
	gateway    GatewayAPI
	builder    TxBuilder
	once       sync.Once

	confirmInterval time.Duration
	confirmMaxWait  time.Duration

	runMu  sync.Mutex
	runCtx context.Context

	watchMu  sync.Mutex
	watching map[string]chan *types.ConfirmStatus

	accountCh chan interface{}
}

func NewWalletService(st *state.State, utxoLocks *lock.UtxoLockManager, txCerLocks *lock.TxCerLockManager, gw GatewayAPI, builder TxBuilder) *WalletService {
	return &WalletService{
		state:      st,
		utxoLocks:  utxoLocks,
		txCerLocks: txCerLocks,
		gateway:    gw,
		builder:    builder,

		confirmInterval: config.AppConfig.ConfirmInterval,
		confirmMaxWait:  config.AppConfig.ConfirmMaxWait,

		watching:  make(map[string]chan *types.ConfirmStatus),
		accountCh: make(chan interface{}, 8),
	}
}

func (w *WalletService) Start(ctx context.Context) {
	w.runMu.Lock()
	w.runCtx = ctx
	w.runMu.Unlock()

	w.state.EventBus.Subscribe(state.AccountSwitched, w.accountCh)

	go w.accountLoop(ctx)

	if accountId, err := w.state.GetActiveAccountId(); err == nil && accountId != "" {
		w.StartTxStatusSync(ctx, accountId)
	}

	log.Info("WalletService started.")

	<-ctx.Done()
	w.Stop()

	log.Info("WalletService stopped.")
}

func (w *WalletService) Stop() {
	w.once.Do(func() {
		w.state.EventBus.Unsubscribe(state.AccountSwitched, w.accountCh)
		close(w.accountCh)
	})
}

// accountLoop rescopes the lock managers and re-arms pending watches
// whenever the active account changes.
func (w *WalletService) accountLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.accountCh:
			if !ok {
				return
			}
			accountId, ok := event.(string)
			if !ok {
				log.Warnf("WalletService received unexpected account event %T", event)
				continue
			}
			log.Infof("WalletService rescoping to account %q", accountId)
			w.utxoLocks.SwitchAccount(accountId)
			w.txCerLocks.SwitchAccount(accountId)
			if accountId != "" {
				w.StartTxStatusSync(ctx, accountId)
			}
		}
	}
}

func (w *WalletService) watchCtx() context.Context {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.runCtx != nil {
		return w.runCtx
	}
	return context.Background()
}
