package lock

import (
	"strings"
	"sync"
	"time"

	"github.com/capsulepay/walletd/internal/kv"
	"github.com/capsulepay/walletd/internal/types"
	log "github.com/sirupsen/logrus"
)

// TxCerLockManager reserves transaction certificates across three
// timelines: local drafting, local submission, and server-pushed status
// changes that can land at any point in between. Draft locks expire fast
// so a stalled construction self-heals; submitted locks expire slow since
// the transaction is already on the wire.
type TxCerLockManager struct {
	mu       sync.Mutex
	accounts ActiveAccountResolver
	store    kv.Store

	draftExpiry     time.Duration
	submittedExpiry time.Duration
	sweepInterval   time.Duration

	hydratedAccount string
	locks           map[string]*TxCerLock
	pending         map[string]*PendingTxCerUpdate

	replayHandler ReplayHandler

	sweepArmed bool
	sweepStop  chan struct{}

	dirty    chan struct{}
	stopOnce sync.Once
}

func NewTxCerLockManager(accounts ActiveAccountResolver, store kv.Store, draftExpiry, submittedExpiry, sweepInterval time.Duration) *TxCerLockManager {
	m := &TxCerLockManager{
		accounts:        accounts,
		store:           store,
		draftExpiry:     draftExpiry,
		submittedExpiry: submittedExpiry,
		sweepInterval:   sweepInterval,
		locks:           make(map[string]*TxCerLock),
		pending:         make(map[string]*PendingTxCerUpdate),
	}
	m.dirty = make(chan struct{}, 1)
	go m.persistLoop()
	return m
}

// SetReplayHandler registers the dispatcher buffered updates are replayed
// through. Must be called before any update can be cached.
func (m *TxCerLockManager) SetReplayHandler(h ReplayHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayHandler = h
}

// LockTxCers draft-locks the given ids. Already-locked ids pass through
// unchanged (first lock wins). Returns the ids newly locked by this call.
func (m *TxCerLockManager) LockTxCers(ids []string, reason string, relatedTXID string) []string {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return nil
	}

	now := time.Now().UnixMilli()
	var locked []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if existing, ok := m.locks[id]; ok {
			if m.live(existing, now) {
				continue
			}
			delete(m.locks, id)
		}
		m.locks[id] = &TxCerLock{
			TxCerId:     id,
			LockTime:    now,
			Mode:        LOCK_MODE_DRAFT,
			Reason:      reason,
			RelatedTXID: relatedTXID,
		}
		locked = append(locked, id)
	}
	if len(locked) > 0 {
		m.armSweep()
		m.markDirty()
		log.Debugf("TxCerLockManager draft locked %d certificates, reason: %s", len(locked), reason)
	}
	return locked
}

// MarkTxCersSubmitted upgrades the given ids to submitted mode, tagging
// them with the resulting transaction id. An existing lock keeps its
// original LockTime so expiry counts from the first reservation. Ids with
// no live lock get a fresh submitted lock. When a buffered update with a
// terminal status (spent or available) exists for an id, the certificate
// is unlocked right away and the update replayed: a fate already known
// must not be held hostage by a lock that just became moot.
func (m *TxCerLockManager) MarkTxCersSubmitted(ids []string, relatedTXID string, reason string) {
	if len(ids) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return
	}

	now := time.Now().UnixMilli()
	var replays []*PendingTxCerUpdate
	for _, id := range ids {
		if id == "" {
			continue
		}
		lockTime := now
		if existing, ok := m.locks[id]; ok && m.live(existing, now) {
			lockTime = existing.LockTime
		}
		if reason == "" {
			reason = "submitted"
		}
		m.locks[id] = &TxCerLock{
			TxCerId:     id,
			LockTime:    lockTime,
			Mode:        LOCK_MODE_SUBMITTED,
			Reason:      reason,
			RelatedTXID: relatedTXID,
		}

		if upd, ok := m.pending[id]; ok && isTerminalStatus(upd.Status) {
			delete(m.locks, id)
			delete(m.pending, id)
			replays = append(replays, upd)
			log.Infof("TxCerLockManager certificate %s fate already known (status %d), unlocked on submit", id, upd.Status)
		}
	}
	m.armSweep()
	m.markDirty()

	m.dispatchReplays(replays)
}

// UnlockTxCers removes the named locks. With processPending, a buffered
// update for an id is replayed and removed from the buffer.
func (m *TxCerLockManager) UnlockTxCers(ids []string, processPending bool) {
	if len(ids) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return
	}

	changed := false
	var replays []*PendingTxCerUpdate
	for _, id := range ids {
		if _, ok := m.locks[id]; ok {
			delete(m.locks, id)
			changed = true
		}
		if upd, ok := m.pending[id]; ok {
			delete(m.pending, id)
			if processPending {
				replays = append(replays, upd)
			}
		}
	}
	if changed {
		m.disarmSweepIfEmpty()
		m.markDirty()
	}

	m.dispatchReplays(replays)
}

// ShouldBlockUpdate reports whether an incoming status update must be
// suppressed. Only a live draft lock blocks, and only for terminal
// statuses: the draft's transaction does not exist on-chain yet, so a
// spent/available verdict cannot be about it. Submitted locks never block
// since there the network is the authority.
func (m *TxCerLockManager) ShouldBlockUpdate(txCerId string, status int) bool {
	if !isTerminalStatus(status) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return false
	}

	l, ok := m.locks[txCerId]
	if !ok {
		return false
	}
	if !m.live(l, time.Now().UnixMilli()) {
		delete(m.locks, txCerId)
		m.disarmSweepIfEmpty()
		m.markDirty()
		return false
	}
	return l.Mode == LOCK_MODE_DRAFT
}

// CacheUpdate buffers a suppressed status update for replay after the
// lock is released. A later update for the same certificate replaces an
// earlier one.
func (m *TxCerLockManager) CacheUpdate(txCerId string, status int, utxo *types.TxOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[txCerId] = &PendingTxCerUpdate{
		TxCerId:      txCerId,
		Status:       status,
		Utxo:         utxo,
		ReceivedTime: time.Now().UnixMilli(),
	}
	log.Debugf("TxCerLockManager cached update for locked certificate %s, status: %d", txCerId, status)
}

// IsLocked reports whether a live lock exists, sweeping an expired entry
// as a side effect.
func (m *TxCerLockManager) IsLocked(txCerId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return false
	}

	l, ok := m.locks[txCerId]
	if !ok {
		return false
	}
	if !m.live(l, time.Now().UnixMilli()) {
		delete(m.locks, txCerId)
		m.disarmSweepIfEmpty()
		m.markDirty()
		return false
	}
	return true
}

// LockedIDsByTxID returns all certificate ids locked under relatedTXID,
// compared case-insensitively. Used to release one transaction's
// certificates when it conclusively fails.
func (m *TxCerLockManager) LockedIDsByTxID(txId string) []string {
	if txId == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return nil
	}

	var ids []string
	for id, l := range m.locks {
		if strings.EqualFold(l.RelatedTXID, txId) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ListLocked returns all live locks, sweeping expired ones first.
func (m *TxCerLockManager) ListLocked() []TxCerLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ensureScope() {
		return nil
	}

	now := time.Now().UnixMilli()
	changed := false
	result := make([]TxCerLock, 0, len(m.locks))
	for id, l := range m.locks {
		if !m.live(l, now) {
			delete(m.locks, id)
			changed = true
			continue
		}
		result = append(result, *l)
	}
	if changed {
		m.disarmSweepIfEmpty()
		m.markDirty()
	}
	return result
}

// SwitchAccount rehydrates the manager for accountId. An empty id clears
// all state.
func (m *TxCerLockManager) SwitchAccount(accountId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hydrate(accountId)
}

// Stop shuts the sweep timer and persistence writer down.
func (m *TxCerLockManager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.sweepArmed {
			close(m.sweepStop)
			m.sweepArmed = false
		}
		m.mu.Unlock()
		close(m.dirty)
	})
}

func isTerminalStatus(status int) bool {
	return status == 0 || status == 1
}

func (m *TxCerLockManager) expiryFor(mode string) time.Duration {
	if mode == LOCK_MODE_SUBMITTED {
		return m.submittedExpiry
	}
	return m.draftExpiry
}

func (m *TxCerLockManager) live(l *TxCerLock, now int64) bool {
	return now-l.LockTime < m.expiryFor(l.Mode).Milliseconds()
}

func (m *TxCerLockManager) dispatchReplays(replays []*PendingTxCerUpdate) {
	if len(replays) == 0 {
		return
	}
	handler := m.replayHandler
	if handler == nil {
		log.Warnf("TxCerLockManager dropping %d buffered updates, no replay handler registered", len(replays))
		return
	}
	// replay off the caller's path, same as a live push delivery
	go func() {
		for _, upd := range replays {
			handler(types.TxCerUpdate{
				TxCerId:      upd.TxCerId,
				Status:       upd.Status,
				Utxo:         upd.Utxo,
				ReceivedTime: upd.ReceivedTime,
			})
		}
	}()
}

// armSweep starts the background expiry sweep if it is not running.
// The timer only lives while at least one lock exists. Caller holds m.mu.
func (m *TxCerLockManager) armSweep() {
	if m.sweepArmed || len(m.locks) == 0 {
		return
	}
	m.sweepArmed = true
	m.sweepStop = make(chan struct{})
	go m.sweepLoop(m.sweepStop)
}

// disarmSweepIfEmpty stops the sweep timer once the set empties. Caller
// holds m.mu.
func (m *TxCerLockManager) disarmSweepIfEmpty() {
	if m.sweepArmed && len(m.locks) == 0 {
		close(m.sweepStop)
		m.sweepArmed = false
	}
}

func (m *TxCerLockManager) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *TxCerLockManager) sweepExpired() {
	m.mu.Lock()

	now := time.Now().UnixMilli()
	var expired []string
	for id, l := range m.locks {
		if !m.live(l, now) {
			expired = append(expired, id)
		}
	}
	changed := false
	var replays []*PendingTxCerUpdate
	for _, id := range expired {
		log.Infof("TxCerLockManager sweeping expired lock, certificate: %s, mode: %s", id, m.locks[id].Mode)
		delete(m.locks, id)
		changed = true
		if upd, ok := m.pending[id]; ok {
			delete(m.pending, id)
			replays = append(replays, upd)
		}
	}
	if changed {
		m.disarmSweepIfEmpty()
		m.markDirty()
	}
	m.mu.Unlock()

	m.dispatchReplays(replays)
}

// ensureScope reconciles against the current active account before every
// mutation. Caller holds m.mu. Returns false when no account is active.
func (m *TxCerLockManager) ensureScope() bool {
	accountId, err := m.accounts.GetActiveAccountId()
	if err != nil {
		log.Errorf("TxCerLockManager resolve active account error: %v", err)
		return false
	}
	if accountId == "" {
		if m.hydratedAccount != "" || len(m.locks) > 0 {
			m.hydratedAccount = ""
			m.locks = make(map[string]*TxCerLock)
			m.pending = make(map[string]*PendingTxCerUpdate)
			m.disarmSweepIfEmpty()
		}
		return false
	}
	if accountId != m.hydratedAccount {
		m.hydrate(accountId)
	}
	return true
}

// hydrate replaces in-memory state with accountId's persisted snapshot,
// dropping entries past their mode's expiry window during load. Caller
// holds m.mu.
func (m *TxCerLockManager) hydrate(accountId string) {
	m.hydratedAccount = accountId
	m.locks = make(map[string]*TxCerLock)
	m.pending = make(map[string]*PendingTxCerUpdate)
	m.disarmSweepIfEmpty()
	if accountId == "" {
		return
	}

	var storage TxCerLockStorage
	found, err := m.store.Get(TXCER_LOCK_KEY_PREFIX+accountId, &storage)
	if err != nil {
		log.Errorf("TxCerLockManager hydrate account %s error: %v", accountId, err)
		return
	}
	if !found {
		return
	}

	now := time.Now().UnixMilli()
	dropped := 0
	for _, l := range storage.Locks {
		if now-l.LockTime >= m.expiryFor(l.Mode).Milliseconds() {
			dropped++
			continue
		}
		lock := l
		m.locks[lock.TxCerId] = &lock
	}
	m.armSweep()
	log.Debugf("TxCerLockManager hydrated account %s, locks: %d, dropped expired: %d", accountId, len(m.locks), dropped)
}

func (m *TxCerLockManager) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

func (m *TxCerLockManager) persistLoop() {
	for range m.dirty {
		m.mu.Lock()
		accountId := m.hydratedAccount
		storage := TxCerLockStorage{
			Version:    STORAGE_VERSION,
			LastUpdate: time.Now().UnixMilli(),
		}
		for _, l := range m.locks {
			storage.Locks = append(storage.Locks, *l)
		}
		m.mu.Unlock()

		if accountId == "" {
			continue
		}
		if err := m.store.Set(TXCER_LOCK_KEY_PREFIX+accountId, storage); err != nil {
			log.Errorf("TxCerLockManager persist account %s error: %v", accountId, err)
		}
	}
}
