package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/capsulepay/walletd/internal/db"
	"github.com/capsulepay/walletd/internal/kv"
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/push"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "acct-1"

type fakeTransferService struct {
	lastReq *types.TransferRequest
	result  *types.TransferResult
}

func (f *fakeTransferService) BuildAndSubmitTransfer(ctx context.Context, req *types.TransferRequest) *types.TransferResult {
	f.lastReq = req
	return f.result
}

type noopNotifier struct{}

func (noopNotifier) NotifyTxStatus(accountId, txHash string, status *types.ConfirmStatus) {}

func newTestServer(t *testing.T, wallet TransferService) (*HTTPServer, *state.State) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.EnablePushListener = true
	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	require.NoError(t, st.SaveAccount(&db.Account{AccountId: testAccount, Active: true}))
	require.NoError(t, st.SetActiveAccount(testAccount))

	utxoLocks := lock.NewUtxoLockManager(st, kv.NewMemoryStore(), 24*time.Hour)
	txCerLocks := lock.NewTxCerLockManager(st, kv.NewMemoryStore(), 30*time.Second, 24*time.Hour, time.Second)
	t.Cleanup(utxoLocks.Stop)
	t.Cleanup(txCerLocks.Stop)

	dispatcher := push.NewDispatcher(st, txCerLocks, noopNotifier{})
	return NewHTTPServer(st, wallet, utxoLocks, txCerLocks, dispatcher), st
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTransferEndpoint(t *testing.T) {
	wallet := &fakeTransferService{result: types.TransferOk("tx-1")}
	hs, _ := newTestServer(t, wallet)
	router := hs.newRouter()

	rec := doJSON(t, router, "POST", "/api/v1/transfer", map[string]interface{}{
		"from_addresses": []string{"addr1"},
		"to_address":     "dest",
		"amount":         100,
		"mode":           types.TRANSFER_MODE_QUICK,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	// account id defaults to the active account
	assert.Equal(t, testAccount, wallet.lastReq.AccountId)

	var result types.TransferResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "tx-1", result.TxId)
}

func TestTransferEndpointRejection(t *testing.T) {
	wallet := &fakeTransferService{result: types.TransferFailed("insufficient funds")}
	hs, _ := newTestServer(t, wallet)
	router := hs.newRouter()

	rec := doJSON(t, router, "POST", "/api/v1/transfer", map[string]interface{}{
		"from_addresses": []string{"addr1"},
		"to_address":     "dest",
		"amount":         100,
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetTxEndpoint(t *testing.T) {
	hs, st := newTestServer(t, &fakeTransferService{})
	router := hs.newRouter()

	require.NoError(t, st.CreateTxRecord(&db.TxRecord{
		AccountId: testAccount,
		TxHash:    "tx-7",
		RequestId: "req-7",
		ToAddress: "dest",
		Amount:    50,
		Mode:      types.TRANSFER_MODE_QUICK,
	}))

	rec := doJSON(t, router, "GET", "/api/v1/tx/tx-7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record db.TxRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, db.TX_STATUS_PENDING, record.Status)

	rec = doJSON(t, router, "GET", "/api/v1/tx/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLocksEndpoint(t *testing.T) {
	hs, _ := newTestServer(t, &fakeTransferService{})
	router := hs.newRouter()

	hs.utxoLocks.Lock([]lock.UtxoRef{{UtxoId: "aa11_0", Address: "addr1", Value: 500, CoinType: db.COIN_TYPE_MAIN}}, "tx-1")
	hs.txCerLocks.LockTxCers([]string{"cer-1"}, "transfer", "")

	rec := doJSON(t, router, "GET", "/api/v1/locks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UtxoLocks  []lock.LockedUtxo `json:"utxo_locks"`
		TxCerLocks []lock.TxCerLock  `json:"txcer_locks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.UtxoLocks, 1)
	require.Len(t, body.TxCerLocks, 1)
	assert.Equal(t, "aa11_0", body.UtxoLocks[0].UtxoId)
	assert.Equal(t, lock.LOCK_MODE_DRAFT, body.TxCerLocks[0].Mode)
}

func TestSetActiveAccountEndpoint(t *testing.T) {
	hs, st := newTestServer(t, &fakeTransferService{})
	router := hs.newRouter()

	require.NoError(t, st.SaveAccount(&db.Account{AccountId: "acct-2"}))

	rec := doJSON(t, router, "POST", "/api/v1/account/active", map[string]string{"account_id": "acct-2"})
	require.Equal(t, http.StatusOK, rec.Code)

	accountId, err := st.GetActiveAccountId()
	require.NoError(t, err)
	assert.Equal(t, "acct-2", accountId)

	rec = doJSON(t, router, "POST", "/api/v1/account/active", map[string]string{"account_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushWebhookEndpoint(t *testing.T) {
	hs, st := newTestServer(t, &fakeTransferService{})
	router := hs.newRouter()

	require.NoError(t, st.ReplaceAddressView(testAccount, "addr1", db.COIN_TYPE_MAIN, 0, nil,
		[]*db.TxCertificate{{TxCerId: "cer-1", Value: 100, CoinType: db.COIN_TYPE_MAIN, Status: db.TXCER_STATUS_PENDING}}))

	rec := doJSON(t, router, "POST", "/api/v1/push", map[string]interface{}{
		"type":         "txcer_update",
		"txcer_update": map[string]interface{}{"txcer_id": "cer-1", "status": db.TXCER_STATUS_AVAILABLE},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cert, err := st.GetCertificate(testAccount, "cer-1")
	require.NoError(t, err)
	assert.Equal(t, db.TXCER_STATUS_AVAILABLE, cert.Status)

	rec = doJSON(t, router, "POST", "/api/v1/push", map[string]interface{}{"type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
