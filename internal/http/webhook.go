package http

import (
	"net/http"
	"time"

	"github.com/capsulepay/walletd/internal/types"
	"github.com/gin-gonic/gin"
)

// webhookPayload mirrors the websocket stream frames for deployments
// where the backend calls back over HTTP instead.
type webhookPayload struct {
	Type        string               `json:"type" binding:"required"` // "txcer_update", "tx_status"
	AccountId   string               `json:"account_id"`
	TxCerUpdate *types.TxCerUpdate   `json:"txcer_update"`
	TxHash      string               `json:"tx_hash"`
	TxStatus    *types.ConfirmStatus `json:"tx_status"`
}

func (hs *HTTPServer) handlePushWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch payload.Type {
	case "txcer_update":
		if payload.TxCerUpdate == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing txcer_update"})
			return
		}
		update := *payload.TxCerUpdate
		if update.ReceivedTime == 0 {
			update.ReceivedTime = time.Now().UnixMilli()
		}
		hs.dispatcher.HandleTxCerUpdate(update)

	case "tx_status":
		if payload.TxHash == "" || payload.TxStatus == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing tx status"})
			return
		}
		hs.dispatcher.HandleTxStatus(payload.AccountId, payload.TxHash, payload.TxStatus)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown push type"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
