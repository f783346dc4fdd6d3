package http

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/push"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/gin-gonic/gin"
)

// TransferService is the slice of the wallet service the API exposes.
type TransferService interface {
	BuildAndSubmitTransfer(ctx context.Context, req *types.TransferRequest) *types.TransferResult
}

type HTTPServer struct {
	state      *state.State
	wallet     TransferService
	utxoLocks  *lock.UtxoLockManager
	txCerLocks *lock.TxCerLockManager
	dispatcher *push.Dispatcher
}

func NewHTTPServer(st *state.State, wallet TransferService, utxoLocks *lock.UtxoLockManager, txCerLocks *lock.TxCerLockManager, dispatcher *push.Dispatcher) *HTTPServer {
	return &HTTPServer{
		state:      st,
		wallet:     wallet,
		utxoLocks:  utxoLocks,
		txCerLocks: txCerLocks,
		dispatcher: dispatcher,
	}
}

func (hs *HTTPServer) StartHTTPServer(ctx context.Context) {
	r := hs.newRouter()

	addr := ":" + config.AppConfig.HTTPPort
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
}

func (hs *HTTPServer) newRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/api/v1/transfer", hs.handleTransfer)
	r.GET("/api/v1/tx/:hash", hs.handleGetTx)
	r.GET("/api/v1/locks", hs.handleGetLocks)
	r.POST("/api/v1/account/active", hs.handleSetActiveAccount)

	if config.AppConfig.EnablePushListener {
		r.POST("/api/v1/push", hs.handlePushWebhook)
	}

	return r
}

func (hs *HTTPServer) handleTransfer(c *gin.Context) {
	var req types.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AccountId == "" {
		accountId, err := hs.state.GetActiveAccountId()
		if err != nil || accountId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no active account"})
			return
		}
		req.AccountId = accountId
	}

	result := hs.wallet.BuildAndSubmitTransfer(c.Request.Context(), &req)
	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (hs *HTTPServer) handleGetTx(c *gin.Context) {
	accountId, err := hs.state.GetActiveAccountId()
	if err != nil || accountId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active account"})
		return
	}

	record, err := hs.state.GetTxRecord(accountId, c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tx not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (hs *HTTPServer) handleGetLocks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"utxo_locks":  hs.utxoLocks.ListLocked(),
		"txcer_locks": hs.txCerLocks.ListLocked(),
	})
}

type setActiveAccountRequest struct {
	AccountId string `json:"account_id" binding:"required"`
}

func (hs *HTTPServer) handleSetActiveAccount(c *gin.Context) {
	var req setActiveAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := hs.state.GetAccount(req.AccountId); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	if err := hs.state.SetActiveAccount(req.AccountId); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
