package lock

import (
	"strings"
	"sync"
	"time"

	"github.com/capsulepay/walletd/internal/kv"
	log "github.com/sirupsen/logrus"
)

// UtxoLockManager reserves spendable outputs for the lifetime of a
// submitted transaction. All reads treat expired entries as absent and
// sweep them as a side effect.
type UtxoLockManager struct {
	mu       sync.Mutex
	accounts ActiveAccountResolver
	store    kv.Store
	expiry   time.Duration

	hydratedAccount string
	locks           map[string]*LockedUtxo

	dirty    chan struct{}
	stopOnce sync.Once
}

func NewUtxoLockManager(accounts ActiveAccountResolver, store kv.Store, expiry time.Duration) *UtxoLockManager {
	m := &UtxoLockManager{
		accounts: accounts,
		store:    store,
		expiry:   expiry,
		locks:    make(map[string]*LockedUtxo),
		dirty:    make(chan struct{}, 1),
	}
	go m.persistLoop()
	return m
}

// Lock reserves each given output under txId. Empty input or empty txId
// is a no-op. Idempotent per utxo id: the first reservation wins and a
// second attempt is silently ignored.
func (m *UtxoLockManager) Lock(utxos []UtxoRef, txId string) {
	if len(utxos) == 0 || txId == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return
	}

	now := time.Now().UnixMilli()
	changed := false
	for _, ref := range utxos {
		if ref.UtxoId == "" {
			continue
		}
		if existing, ok := m.locks[ref.UtxoId]; ok {
			if m.live(existing.LockTime, now) {
				// already spoken for
				continue
			}
			delete(m.locks, ref.UtxoId)
		}
		m.locks[ref.UtxoId] = &LockedUtxo{
			UtxoId:   ref.UtxoId,
			Address:  ref.Address,
			Value:    ref.Value,
			CoinType: ref.CoinType,
			LockTime: now,
			TxId:     txId,
		}
		changed = true
	}
	if changed {
		log.Debugf("UtxoLockManager locked %d utxos for tx %s", len(utxos), txId)
		m.markDirty()
	}
}

// Unlock removes the named reservations unconditionally.
func (m *UtxoLockManager) Unlock(utxoIds []string) {
	if len(utxoIds) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return
	}

	changed := false
	for _, id := range utxoIds {
		if _, ok := m.locks[id]; ok {
			delete(m.locks, id)
			changed = true
		}
	}
	if changed {
		m.markDirty()
	}
}

// UnlockByTxID removes every reservation held by txId, compared
// case-insensitively. Used when a submitted transaction is conclusively
// known to have failed, releasing all its inputs for reuse.
func (m *UtxoLockManager) UnlockByTxID(txId string) {
	if txId == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return
	}

	changed := false
	for id, l := range m.locks {
		if strings.EqualFold(l.TxId, txId) {
			delete(m.locks, id)
			changed = true
		}
	}
	if changed {
		log.Infof("UtxoLockManager released locks of tx %s", txId)
		m.markDirty()
	}
}

// IsLocked reports whether a live reservation exists. An expired entry is
// deleted as a side effect and reported unlocked.
func (m *UtxoLockManager) IsLocked(utxoId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return false
	}

	l, ok := m.locks[utxoId]
	if !ok {
		return false
	}
	if !m.live(l.LockTime, time.Now().UnixMilli()) {
		delete(m.locks, utxoId)
		m.markDirty()
		log.Debugf("UtxoLockManager expired lock swept, utxo: %s, tx: %s", utxoId, l.TxId)
		return false
	}
	return true
}

// ListLocked returns all live reservations, sweeping expired ones first.
func (m *UtxoLockManager) ListLocked() []LockedUtxo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return nil
	}

	now := time.Now().UnixMilli()
	changed := false
	result := make([]LockedUtxo, 0, len(m.locks))
	for id, l := range m.locks {
		if !m.live(l.LockTime, now) {
			delete(m.locks, id)
			changed = true
			continue
		}
		result = append(result, *l)
	}
	if changed {
		m.markDirty()
	}
	return result
}

// SwitchAccount rehydrates the manager for accountId, discarding any
// state of a previously hydrated account. An empty id clears all state.
func (m *UtxoLockManager) SwitchAccount(accountId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hydrate(accountId)
}

// Stop shuts the persistence writer down.
func (m *UtxoLockManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.dirty)
	})
}

func (m *UtxoLockManager) live(lockTime, now int64) bool {
	return now-lockTime < m.expiry.Milliseconds()
}

// ensureScope reconciles the in-memory state with the current active
// account before every mutation. Caller holds m.mu. Returns false when no
// account is active, in which case all state has been cleared.
func (m *UtxoLockManager) ensureScope() bool {
	accountId, err := m.accounts.GetActiveAccountId()
	if err != nil {
		log.Errorf("UtxoLockManager resolve active account error: %v", err)
		return false
	}
	if accountId == "" {
		if m.hydratedAccount != "" || len(m.locks) > 0 {
			m.hydratedAccount = ""
			m.locks = make(map[string]*LockedUtxo)
		}
		return false
	}
	if accountId != m.hydratedAccount {
		m.hydrate(accountId)
	}
	return true
}

// hydrate replaces in-memory state with accountId's persisted snapshot,
// dropping entries past the expiry window during load. The account marker
// is updated before the map is populated so a concurrent snapshot sees a
// consistent scope. Caller holds m.mu.
func (m *UtxoLockManager) hydrate(accountId string) {
	m.hydratedAccount = accountId
	m.locks = make(map[string]*LockedUtxo)
	if accountId == "" {
		return
	}

	var storage UtxoLockStorage
	found, err := m.store.Get(UTXO_LOCK_KEY_PREFIX+accountId, &storage)
	if err != nil {
		log.Errorf("UtxoLockManager hydrate account %s error: %v", accountId, err)
		return
	}
	if !found {
		return
	}

	now := time.Now().UnixMilli()
	dropped := 0
	for _, l := range storage.LockedUtxos {
		if !m.live(l.LockTime, now) {
			dropped++
			continue
		}
		lock := l
		m.locks[lock.UtxoId] = &lock
	}
	log.Debugf("UtxoLockManager hydrated account %s, locks: %d, dropped expired: %d", accountId, len(m.locks), dropped)
}

// markDirty queues a best-effort durable write. Never blocks: the writer
// snapshots latest state, so collapsed marks lose nothing.
func (m *UtxoLockManager) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

func (m *UtxoLockManager) persistLoop() {
	for range m.dirty {
		m.mu.Lock()
		accountId := m.hydratedAccount
		storage := UtxoLockStorage{
			Version:    STORAGE_VERSION,
			LastUpdate: time.Now().UnixMilli(),
		}
		for _, l := range m.locks {
			storage.LockedUtxos = append(storage.LockedUtxos, *l)
		}
		m.mu.Unlock()

		if accountId == "" {
			continue
		}
		if err := m.store.Set(UTXO_LOCK_KEY_PREFIX+accountId, storage); err != nil {
			log.Errorf("UtxoLockManager persist account %s error: %v", accountId, err)
		}
	}
}
