package wallet

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/capsulepay/walletd/internal/db"
	"github.com/capsulepay/walletd/internal/kv"
	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/signer"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSignerKey = strings.Repeat("11", 32)

func newTestBuilder(t *testing.T) (*LocalTxBuilder, *state.State, *lock.UtxoLockManager) {
	t.Helper()

	config.AppConfig.DbDir = t.TempDir()
	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	require.NoError(t, st.SaveAccount(&db.Account{AccountId: testAccount, Active: true}))
	require.NoError(t, st.SetActiveAccount(testAccount))

	utxoLocks := lock.NewUtxoLockManager(st, kv.NewMemoryStore(), 24*time.Hour)
	t.Cleanup(utxoLocks.Stop)

	builder := NewLocalTxBuilder(st, utxoLocks, signer.NewSecp256k1Signer(), &StaticKeyStore{KeyHex: testSignerKey})
	return builder, st, utxoLocks
}

func TestLocalTxBuilderSpendsCertificatesFirst(t *testing.T) {
	builder, st, _ := newTestBuilder(t)

	seedAddressView(t, st, "addr1",
		[]*db.Utxo{{UtxoId: types.UtxoID("aa11", 0), Txid: "aa11", OutIndex: 0, Value: 900, CoinType: db.COIN_TYPE_MAIN}},
		[]*db.TxCertificate{
			{TxCerId: "cer-big", Value: 500, CoinType: db.COIN_TYPE_MAIN, Status: db.TXCER_STATUS_AVAILABLE},
			{TxCerId: "cer-small", Value: 100, CoinType: db.COIN_TYPE_MAIN, Status: db.TXCER_STATUS_AVAILABLE},
		})

	tx, err := builder.BuildTransfer(context.Background(), &types.TransferRequest{
		AccountId:     testAccount,
		FromAddresses: []string{"addr1"},
		ToAddress:     "dest",
		Amount:        450,
		CoinType:      db.COIN_TYPE_MAIN,
		Mode:          types.TRANSFER_MODE_QUICK,
	}, &types.OrgMembership{Grouped: true, OrgId: "org-1"}, []string{"cer-big", "cer-small"})

	require.NoError(t, err)
	require.Len(t, tx.CertInputs, 1)
	assert.Equal(t, "cer-big", tx.CertInputs[0].TXCerID)
	assert.Empty(t, tx.Inputs)
	assert.Equal(t, types.TX_FORMAT_GROUP, tx.Format)
	assert.Equal(t, "org-1", tx.OrgId)
	assert.NotEmpty(t, tx.Signature)
	assert.NotEmpty(t, tx.TxHash)

	// 500 gathered against 450 leaves change back on the source
	require.Len(t, tx.Outputs, 2)
	assert.Equal(t, uint64(450), tx.Outputs[0].Value)
	assert.Equal(t, "dest", tx.Outputs[0].ToAddress)
	assert.Equal(t, uint64(50), tx.Outputs[1].Value)
	assert.Equal(t, "addr1", tx.Outputs[1].ToAddress)
}

func TestLocalTxBuilderIgnoresUnreservedCertificates(t *testing.T) {
	builder, st, _ := newTestBuilder(t)

	seedAddressView(t, st, "addr1",
		[]*db.Utxo{{UtxoId: types.UtxoID("aa11", 0), Txid: "aa11", OutIndex: 0, Value: 900, CoinType: db.COIN_TYPE_MAIN}},
		[]*db.TxCertificate{{TxCerId: "cer-1", Value: 500, CoinType: db.COIN_TYPE_MAIN, Status: db.TXCER_STATUS_AVAILABLE}})

	// cer-1 was not reserved for this flow, the builder must fall back to utxos
	tx, err := builder.BuildTransfer(context.Background(), &types.TransferRequest{
		AccountId:     testAccount,
		FromAddresses: []string{"addr1"},
		ToAddress:     "dest",
		Amount:        450,
		CoinType:      db.COIN_TYPE_MAIN,
		Mode:          types.TRANSFER_MODE_QUICK,
	}, &types.OrgMembership{Grouped: true}, nil)

	require.NoError(t, err)
	assert.Empty(t, tx.CertInputs)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, "aa11", tx.Inputs[0].FromTXID)
}

func TestLocalTxBuilderSkipsReservedUtxos(t *testing.T) {
	builder, st, utxoLocks := newTestBuilder(t)

	seedAddressView(t, st, "addr1",
		[]*db.Utxo{
			{UtxoId: types.UtxoID("aa11", 0), Txid: "aa11", OutIndex: 0, Value: 600, CoinType: db.COIN_TYPE_MAIN},
			{UtxoId: types.UtxoID("bb22", 3), Txid: "bb22", OutIndex: 3, Value: 600, CoinType: db.COIN_TYPE_MAIN},
		}, nil)

	utxoLocks.Lock([]lock.UtxoRef{{UtxoId: types.UtxoID("aa11", 0), Address: "addr1", Value: 600, CoinType: db.COIN_TYPE_MAIN}}, "other-tx")

	tx, err := builder.BuildTransfer(context.Background(), &types.TransferRequest{
		AccountId:     testAccount,
		FromAddresses: []string{"addr1"},
		ToAddress:     "dest",
		Amount:        500,
		CoinType:      db.COIN_TYPE_MAIN,
		Mode:          types.TRANSFER_MODE_CROSS,
	}, &types.OrgMembership{Grouped: false}, nil)

	require.NoError(t, err)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, "bb22", tx.Inputs[0].FromTXID)
	assert.Equal(t, types.TX_FORMAT_AGGREGATE, tx.Format)
}

func TestLocalTxBuilderInsufficientFunds(t *testing.T) {
	builder, st, _ := newTestBuilder(t)

	seedAddressView(t, st, "addr1",
		[]*db.Utxo{{UtxoId: types.UtxoID("aa11", 0), Txid: "aa11", OutIndex: 0, Value: 100, CoinType: db.COIN_TYPE_MAIN}},
		nil)

	_, err := builder.BuildTransfer(context.Background(), &types.TransferRequest{
		AccountId:     testAccount,
		FromAddresses: []string{"addr1"},
		ToAddress:     "dest",
		Amount:        500,
		CoinType:      db.COIN_TYPE_MAIN,
		Mode:          types.TRANSFER_MODE_CROSS,
	}, &types.OrgMembership{Grouped: false}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestLocalTxBuilderRoutesChangePerCoinType(t *testing.T) {
	builder, st, _ := newTestBuilder(t)

	seedAddressView(t, st, "addr1",
		[]*db.Utxo{{UtxoId: types.UtxoID("aa11", 0), Txid: "aa11", OutIndex: 0, Value: 1000, CoinType: db.COIN_TYPE_MAIN}},
		nil)

	tx, err := builder.BuildTransfer(context.Background(), &types.TransferRequest{
		AccountId:       testAccount,
		FromAddresses:   []string{"addr1"},
		ToAddress:       "dest",
		Amount:          700,
		CoinType:        db.COIN_TYPE_MAIN,
		Mode:            types.TRANSFER_MODE_CROSS,
		ChangeAddresses: map[int]string{db.COIN_TYPE_MAIN: "change1"},
	}, &types.OrgMembership{Grouped: false}, nil)

	require.NoError(t, err)
	require.Len(t, tx.Outputs, 2)
	assert.Equal(t, "change1", tx.Outputs[1].ToAddress)
	assert.Equal(t, uint64(300), tx.Outputs[1].Value)
}

func TestLocalTxBuilderRejectsZeroAmount(t *testing.T) {
	builder, _, _ := newTestBuilder(t)

	_, err := builder.BuildTransfer(context.Background(), &types.TransferRequest{
		AccountId:     testAccount,
		FromAddresses: []string{"addr1"},
		ToAddress:     "dest",
	}, &types.OrgMembership{Grouped: false}, nil)
	require.Error(t, err)
}
