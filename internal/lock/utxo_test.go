package lock

import (
	"testing"
	"time"

	"github.com/capsulepay/walletd/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	id string
}

func (f *fakeAccounts) GetActiveAccountId() (string, error) {
	return f.id, nil
}

func newTestUtxoManager(accountId string) (*UtxoLockManager, *kv.MemoryStore, *fakeAccounts) {
	accounts := &fakeAccounts{id: accountId}
	store := kv.NewMemoryStore()
	m := NewUtxoLockManager(accounts, store, 24*time.Hour)
	return m, store, accounts
}

func TestUtxoLockAndUnlockByTxId(t *testing.T) {
	m, _, _ := newTestUtxoManager("acc1")
	defer m.Stop()

	m.Lock([]UtxoRef{{UtxoId: "tx1_0", Address: "aabb", Value: 100, CoinType: 0}}, "h1")
	assert.True(t, m.IsLocked("tx1_0"))

	m.UnlockByTxID("h1")
	assert.False(t, m.IsLocked("tx1_0"))
}

func TestUtxoLockFirstWins(t *testing.T) {
	m, _, _ := newTestUtxoManager("acc1")
	defer m.Stop()

	m.Lock([]UtxoRef{{UtxoId: "tx1_0", Address: "aabb", Value: 100}}, "tx1")
	m.Lock([]UtxoRef{{UtxoId: "tx1_0", Address: "aabb", Value: 100}}, "tx2")

	// second reservation must not steal the lock
	m.UnlockByTxID("tx2")
	assert.True(t, m.IsLocked("tx1_0"))

	m.UnlockByTxID("TX1") // case-insensitive
	assert.False(t, m.IsLocked("tx1_0"))
}

func TestUtxoLockNoOpInputs(t *testing.T) {
	m, _, _ := newTestUtxoManager("acc1")
	defer m.Stop()

	m.Lock(nil, "h1")
	m.Lock([]UtxoRef{{UtxoId: "tx1_0"}}, "")
	assert.Empty(t, m.ListLocked())
}

func TestUtxoLockExpiry(t *testing.T) {
	m, _, _ := newTestUtxoManager("acc1")
	defer m.Stop()

	m.Lock([]UtxoRef{{UtxoId: "tx1_0", Address: "aabb", Value: 100}}, "h1")

	m.mu.Lock()
	m.locks["tx1_0"].LockTime -= (24*time.Hour + time.Second).Milliseconds()
	m.mu.Unlock()

	assert.False(t, m.IsLocked("tx1_0"))
	assert.Empty(t, m.ListLocked())
}

func TestUtxoLockNoActiveAccount(t *testing.T) {
	m, _, accounts := newTestUtxoManager("acc1")
	defer m.Stop()

	m.Lock([]UtxoRef{{UtxoId: "tx1_0", Value: 100}}, "h1")
	assert.True(t, m.IsLocked("tx1_0"))

	accounts.id = ""
	assert.False(t, m.IsLocked("tx1_0"))
	m.Lock([]UtxoRef{{UtxoId: "tx2_0", Value: 50}}, "h2")
	assert.Empty(t, m.ListLocked())
}

func TestUtxoLockAccountSwitchIsolation(t *testing.T) {
	m, _, accounts := newTestUtxoManager("acc1")
	defer m.Stop()

	m.Lock([]UtxoRef{{UtxoId: "tx1_0", Value: 100}}, "h1")
	require.True(t, m.IsLocked("tx1_0"))

	// locks of acc1 must never leak into acc2's view
	accounts.id = "acc2"
	assert.False(t, m.IsLocked("tx1_0"))
	assert.Empty(t, m.ListLocked())
}

func TestUtxoLockPersistenceRoundTrip(t *testing.T) {
	accounts := &fakeAccounts{id: "acc1"}
	store := kv.NewMemoryStore()
	m := NewUtxoLockManager(accounts, store, 24*time.Hour)

	m.Lock([]UtxoRef{
		{UtxoId: "tx1_0", Address: "aabb", Value: 100, CoinType: 0},
		{UtxoId: "tx2_1", Address: "ccdd", Value: 50, CoinType: 1},
	}, "h1")

	// persistence is fire-and-forget, wait for the writer to catch up
	require.Eventually(t, func() bool {
		var storage UtxoLockStorage
		found, err := store.Get(UTXO_LOCK_KEY_PREFIX+"acc1", &storage)
		return err == nil && found && len(storage.LockedUtxos) == 2
	}, 2*time.Second, 10*time.Millisecond)
	m.Stop()

	m2 := NewUtxoLockManager(accounts, store, 24*time.Hour)
	defer m2.Stop()

	assert.True(t, m2.IsLocked("tx1_0"))
	assert.True(t, m2.IsLocked("tx2_1"))
	locked := m2.ListLocked()
	assert.Len(t, locked, 2)
	for _, l := range locked {
		assert.Equal(t, "h1", l.TxId)
	}
}
