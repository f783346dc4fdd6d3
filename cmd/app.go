package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/capsulepay/walletd/internal/db"
	"github.com/capsulepay/walletd/internal/gateway"
	"github.com/capsulepay/walletd/internal/http"
	"github.com/capsulepay/walletd/internal/kv"
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/push"
	"github.com/capsulepay/walletd/internal/signer"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/wallet"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	State           *state.State
	UtxoLockStore   kv.Store
	TxCerLockStore  kv.Store
	UtxoLocks       *lock.UtxoLockManager
	TxCerLocks      *lock.TxCerLockManager
	Gateway         *gateway.Client
	WalletService   *wallet.WalletService
	PushListener    *push.Listener
	HTTPServer      *http.HTTPServer
}

func NewApplication() *Application {
	config.InitConfig()

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)

	utxoLockStore, err := kv.NewLevelDBStore(filepath.Join(config.AppConfig.KvDir, "utxo_locks"))
	if err != nil {
		log.Fatalf("Failed to open utxo lock store: %v", err)
	}
	txCerLockStore, err := kv.NewLevelDBStore(filepath.Join(config.AppConfig.KvDir, "txcer_locks"))
	if err != nil {
		log.Fatalf("Failed to open certificate lock store: %v", err)
	}

	utxoLocks := lock.NewUtxoLockManager(st, utxoLockStore, config.AppConfig.UtxoLockExpiry)
	txCerLocks := lock.NewTxCerLockManager(st, txCerLockStore,
		config.AppConfig.DraftLockExpiry, config.AppConfig.SubmittedLockExpiry, config.AppConfig.LockSweepInterval)

	gw := gateway.NewClient()
	builder := wallet.NewLocalTxBuilder(st, utxoLocks, signer.NewSecp256k1Signer(),
		&wallet.StaticKeyStore{KeyHex: config.AppConfig.SignerKey})
	walletService := wallet.NewWalletService(st, utxoLocks, txCerLocks, gw, builder)

	dispatcher := push.NewDispatcher(st, txCerLocks, walletService)
	pushListener := push.NewListener(dispatcher)
	httpServer := http.NewHTTPServer(st, walletService, utxoLocks, txCerLocks, dispatcher)

	return &Application{
		DatabaseManager: dbm,
		State:           st,
		UtxoLockStore:   utxoLockStore,
		TxCerLockStore:  txCerLockStore,
		UtxoLocks:       utxoLocks,
		TxCerLocks:      txCerLocks,
		Gateway:         gw,
		WalletService:   walletService,
		PushListener:    pushListener,
		HTTPServer:      httpServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.WalletService.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.StartHTTPServer(ctx)
	}()

	if config.AppConfig.EnablePushListener {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.PushListener.Start(ctx)
		}()
	}

	<-stop
	log.Info("Receiving exit signal...")

	cancel()
	wg.Wait()

	app.UtxoLocks.Stop()
	app.TxCerLocks.Stop()
	if err := app.UtxoLockStore.Close(); err != nil {
		log.Errorf("Close utxo lock store error: %v", err)
	}
	if err := app.TxCerLockStore.Close(); err != nil {
		log.Errorf("Close certificate lock store error: %v", err)
	}

	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
