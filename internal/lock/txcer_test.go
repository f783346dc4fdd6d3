package lock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/capsulepay/walletd/internal/kv"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTxCerManager(accountId string) (*TxCerLockManager, *kv.MemoryStore, *fakeAccounts) {
	accounts := &fakeAccounts{id: accountId}
	store := kv.NewMemoryStore()
	m := NewTxCerLockManager(accounts, store, 30*time.Second, 24*time.Hour, 50*time.Millisecond)
	return m, store, accounts
}

func TestTxCerLockFirstWins(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	locked := m.LockTxCers([]string{"c1", "c2"}, "draft reason", "")
	assert.Equal(t, []string{"c1", "c2"}, locked)

	// already locked, no duplicate
	locked = m.LockTxCers([]string{"c1"}, "draft reason", "")
	assert.Empty(t, locked)
	assert.True(t, m.IsLocked("c1"))
	assert.True(t, m.IsLocked("c2"))
}

func TestTxCerModeMonotonicity(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	m.LockTxCers([]string{"c1"}, "drafting", "")
	m.mu.Lock()
	originalLockTime := m.locks["c1"].LockTime
	m.mu.Unlock()

	m.MarkTxCersSubmitted([]string{"c1"}, "txA", "")

	// a later draft attempt must not regress the mode
	locked := m.LockTxCers([]string{"c1"}, "drafting again", "")
	assert.Empty(t, locked)

	m.mu.Lock()
	l := m.locks["c1"]
	m.mu.Unlock()
	require.NotNil(t, l)
	assert.Equal(t, LOCK_MODE_SUBMITTED, l.Mode)
	assert.Equal(t, "txA", l.RelatedTXID)
	assert.Equal(t, originalLockTime, l.LockTime)
}

func TestTxCerDraftExpiry(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	m.LockTxCers([]string{"c1"}, "drafting", "")
	m.mu.Lock()
	m.locks["c1"].LockTime -= (30*time.Second + time.Millisecond).Milliseconds()
	m.mu.Unlock()

	assert.False(t, m.IsLocked("c1"))
	assert.Empty(t, m.ListLocked())
}

func TestTxCerSubmittedExpirySlow(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	m.LockTxCers([]string{"c1"}, "drafting", "")
	m.MarkTxCersSubmitted([]string{"c1"}, "txA", "")

	// an hour old submitted lock is still live
	m.mu.Lock()
	m.locks["c1"].LockTime -= time.Hour.Milliseconds()
	m.mu.Unlock()
	assert.True(t, m.IsLocked("c1"))

	m.mu.Lock()
	m.locks["c1"].LockTime -= (23*time.Hour + time.Second).Milliseconds()
	m.mu.Unlock()
	assert.False(t, m.IsLocked("c1"))
}

func TestTxCerUpdateGating(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	m.LockTxCers([]string{"c1"}, "drafting", "")

	// draft locks block terminal updates, pass non-terminal through
	assert.True(t, m.ShouldBlockUpdate("c1", 0))
	assert.True(t, m.ShouldBlockUpdate("c1", 1))
	assert.False(t, m.ShouldBlockUpdate("c1", 2))
	assert.False(t, m.ShouldBlockUpdate("unknown", 0))

	// submitted locks never block
	m.MarkTxCersSubmitted([]string{"c1"}, "txA", "")
	assert.False(t, m.ShouldBlockUpdate("c1", 0))
}

func TestTxCerPendingReplayOnSubmit(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	var replayCount atomic.Int32
	var replayed atomic.Value
	m.SetReplayHandler(func(upd types.TxCerUpdate) {
		replayCount.Add(1)
		replayed.Store(upd)
	})

	m.LockTxCers([]string{"c1"}, "drafting", "")
	require.True(t, m.ShouldBlockUpdate("c1", 0))
	m.CacheUpdate("c1", 0, nil)

	m.MarkTxCersSubmitted([]string{"c1"}, "txA", "")

	// the moot lock is released and the buffered update replayed once
	assert.False(t, m.IsLocked("c1"))
	require.Eventually(t, func() bool {
		return replayCount.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	upd := replayed.Load().(types.TxCerUpdate)
	assert.Equal(t, "c1", upd.TxCerId)
	assert.Equal(t, 0, upd.Status)
}

func TestTxCerUnlockWithAndWithoutReplay(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	var replayCount atomic.Int32
	m.SetReplayHandler(func(upd types.TxCerUpdate) {
		replayCount.Add(1)
	})

	m.LockTxCers([]string{"c1", "c2"}, "drafting", "")
	m.CacheUpdate("c1", 1, nil)
	m.CacheUpdate("c2", 1, nil)

	m.UnlockTxCers([]string{"c1"}, true)
	require.Eventually(t, func() bool {
		return replayCount.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// processPending=false drops the buffered update
	m.UnlockTxCers([]string{"c2"}, false)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), replayCount.Load())
	assert.False(t, m.IsLocked("c1"))
	assert.False(t, m.IsLocked("c2"))
}

func TestTxCerLockedIDsByTxID(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	m.LockTxCers([]string{"c1", "c2"}, "transfer", "")
	m.MarkTxCersSubmitted([]string{"c1", "c2"}, "TxHash1", "")
	m.LockTxCers([]string{"c3"}, "other transfer", "txHash2")

	ids := m.LockedIDsByTxID("txhash1")
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
	assert.Empty(t, m.LockedIDsByTxID(""))
}

func TestTxCerBackgroundSweep(t *testing.T) {
	m, _, _ := newTestTxCerManager("acc1")
	defer m.Stop()

	m.LockTxCers([]string{"c1"}, "drafting", "")
	m.mu.Lock()
	assert.True(t, m.sweepArmed)
	m.locks["c1"].LockTime -= (30*time.Second + time.Millisecond).Milliseconds()
	m.mu.Unlock()

	// the 50ms sweep ticker removes the expired lock and disarms itself
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.locks) == 0 && !m.sweepArmed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTxCerPersistenceRoundTrip(t *testing.T) {
	accounts := &fakeAccounts{id: "acc1"}
	store := kv.NewMemoryStore()
	m := NewTxCerLockManager(accounts, store, 30*time.Second, 24*time.Hour, time.Minute)

	m.LockTxCers([]string{"c1"}, "drafting", "")
	m.MarkTxCersSubmitted([]string{"c1"}, "txA", "")
	m.LockTxCers([]string{"c2"}, "drafting", "")

	require.Eventually(t, func() bool {
		var storage TxCerLockStorage
		found, err := store.Get(TXCER_LOCK_KEY_PREFIX+"acc1", &storage)
		return err == nil && found && len(storage.Locks) == 2
	}, 2*time.Second, 10*time.Millisecond)
	m.Stop()

	m2 := NewTxCerLockManager(accounts, store, 30*time.Second, 24*time.Hour, time.Minute)
	defer m2.Stop()

	assert.True(t, m2.IsLocked("c1"))
	assert.True(t, m2.IsLocked("c2"))
	m2.mu.Lock()
	assert.Equal(t, LOCK_MODE_SUBMITTED, m2.locks["c1"].Mode)
	assert.Equal(t, "txA", m2.locks["c1"].RelatedTXID)
	assert.Equal(t, LOCK_MODE_DRAFT, m2.locks["c2"].Mode)
	m2.mu.Unlock()
}
