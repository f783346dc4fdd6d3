package state

import (
	"sync"
	"time"

	"github.com/capsulepay/walletd/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// State is the facade over durable wallet data: the active account scope,
// synced account views, and local transaction records. In-memory fields
// are authoritative within a session, the db is the durable snapshot.
type State struct {
	EventBus *EventBus

	dbm *db.DatabaseManager

	accountMu       sync.RWMutex
	activeAccountId string

	txMu sync.Mutex
}

// InitializeState loads the active account scope from the DB on startup.
func InitializeState(dbm *db.DatabaseManager) *State {
	var account db.Account
	activeAccountId := ""
	if err := dbm.GetAccountDB().Where("active = ?", true).First(&account).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			log.Warnf("Failed to load active account: %v", err)
		}
	} else {
		activeAccountId = account.AccountId
	}

	log.Infof("State init on startup, active account: %q", activeAccountId)

	return &State{
		EventBus:        NewEventBus(),
		dbm:             dbm,
		activeAccountId: activeAccountId,
	}
}

// GetActiveAccountId returns the current account scope, empty when no
// account is active. Satisfies the lock managers' resolver interface.
func (s *State) GetActiveAccountId() (string, error) {
	s.accountMu.RLock()
	defer s.accountMu.RUnlock()
	return s.activeAccountId, nil
}

// SetActiveAccount switches the account scope and publishes
// AccountSwitched so lock stores and watchers can rescope.
func (s *State) SetActiveAccount(accountId string) error {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	err := s.dbm.GetAccountDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Account{}).Where("active = ?", true).Updates(map[string]interface{}{"active": false, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		if accountId == "" {
			return nil
		}
		return tx.Model(&db.Account{}).Where("account_id = ?", accountId).Updates(map[string]interface{}{"active": true, "updated_at": time.Now()}).Error
	})
	if err != nil {
		log.Errorf("State SetActiveAccount %s error: %v", accountId, err)
		return err
	}

	s.activeAccountId = accountId
	s.EventBus.Publish(AccountSwitched, accountId)
	return nil
}

func (s *State) GetAccount(accountId string) (*db.Account, error) {
	var account db.Account
	result := s.dbm.GetAccountDB().Where("account_id = ?", accountId).First(&account)
	if result.Error != nil {
		return nil, result.Error
	}
	return &account, nil
}

func (s *State) SaveAccount(account *db.Account) error {
	account.UpdatedAt = time.Now()
	result := s.dbm.GetAccountDB().Save(account)
	if result.Error != nil {
		log.Errorf("State SaveAccount error: %v", result.Error)
		return result.Error
	}
	return nil
}

// ReplaceAddressView replaces one address's synced balance, utxo and
// certificate view in a single transaction.
func (s *State) ReplaceAddressView(accountId, address string, coinType int, balance uint64, utxos []*db.Utxo, certs []*db.TxCertificate) error {
	err := s.dbm.GetAccountDB().Transaction(func(tx *gorm.DB) error {
		view := db.AddressView{
			AccountId: accountId,
			Address:   address,
			CoinType:  coinType,
			Balance:   balance,
			UpdatedAt: time.Now(),
		}
		if err := tx.Where("account_id = ? and address = ? and coin_type = ?", accountId, address, coinType).
			Assign(map[string]interface{}{"balance": balance, "updated_at": time.Now()}).
			FirstOrCreate(&view).Error; err != nil {
			return err
		}

		if err := tx.Where("account_id = ? and address = ?", accountId, address).Delete(&db.Utxo{}).Error; err != nil {
			return err
		}
		for _, u := range utxos {
			u.AccountId = accountId
			u.Address = address
			u.UpdatedAt = time.Now()
			if err := tx.Create(u).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("account_id = ? and address = ?", accountId, address).Delete(&db.TxCertificate{}).Error; err != nil {
			return err
		}
		for _, c := range certs {
			c.AccountId = accountId
			c.Address = address
			c.UpdatedAt = time.Now()
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("State ReplaceAddressView account %s address %s error: %v", accountId, address, err)
	}
	return err
}

func (s *State) GetUtxosByAddress(accountId, address string) ([]*db.Utxo, error) {
	var utxos []*db.Utxo
	result := s.dbm.GetAccountDB().Where("account_id = ? and address = ?", accountId, address).Find(&utxos)
	if result.Error != nil {
		return nil, result.Error
	}
	return utxos, nil
}

func (s *State) GetUtxoById(accountId, utxoId string) (*db.Utxo, error) {
	var utxo db.Utxo
	result := s.dbm.GetAccountDB().Where("account_id = ? and utxo_id = ?", accountId, utxoId).First(&utxo)
	if result.Error != nil {
		return nil, result.Error
	}
	return &utxo, nil
}

func (s *State) GetAllUtxos(accountId string) ([]*db.Utxo, error) {
	var utxos []*db.Utxo
	result := s.dbm.GetAccountDB().Where("account_id = ?", accountId).Find(&utxos)
	if result.Error != nil {
		return nil, result.Error
	}
	return utxos, nil
}

// GetCertificateIds collects the known certificate ids of the given
// addresses, available and pending ones only.
func (s *State) GetCertificateIds(accountId string, addresses []string) ([]string, error) {
	var certs []*db.TxCertificate
	result := s.dbm.GetAccountDB().
		Where("account_id = ? and address in (?) and status <> ?", accountId, addresses, db.TXCER_STATUS_SPENT).
		Find(&certs)
	if result.Error != nil {
		return nil, result.Error
	}
	ids := make([]string, 0, len(certs))
	for _, c := range certs {
		ids = append(ids, c.TxCerId)
	}
	return ids, nil
}

// GetAvailableCertificates lists spendable certificate rows of the given
// addresses, used by the builder for input selection.
func (s *State) GetAvailableCertificates(accountId string, addresses []string) ([]*db.TxCertificate, error) {
	var certs []*db.TxCertificate
	result := s.dbm.GetAccountDB().
		Where("account_id = ? and address in (?) and status = ?", accountId, addresses, db.TXCER_STATUS_AVAILABLE).
		Order("value desc").
		Find(&certs)
	if result.Error != nil {
		return nil, result.Error
	}
	return certs, nil
}

func (s *State) GetCertificate(accountId, txCerId string) (*db.TxCertificate, error) {
	var cert db.TxCertificate
	result := s.dbm.GetAccountDB().Where("account_id = ? and txcer_id = ?", accountId, txCerId).First(&cert)
	if result.Error != nil {
		return nil, result.Error
	}
	return &cert, nil
}

// ApplyTxCerUpdate records a server-pushed certificate status change.
func (s *State) ApplyTxCerUpdate(accountId, txCerId string, status int) error {
	err := s.dbm.GetAccountDB().Model(&db.TxCertificate{}).
		Where("account_id = ? and txcer_id = ?", accountId, txCerId).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
	if err != nil {
		log.Errorf("State ApplyTxCerUpdate certificate %s status %d error: %v", txCerId, status, err)
		return err
	}
	s.EventBus.Publish(TxCerUpdateApplied, txCerId)
	return nil
}

// CreateTxRecord stores a freshly submitted transaction as pending.
func (s *State) CreateTxRecord(record *db.TxRecord) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	record.Status = db.TX_STATUS_PENDING
	record.SubmittedAt = time.Now()
	record.UpdatedAt = time.Now()
	result := s.dbm.GetTxDB().Create(record)
	if result.Error != nil {
		log.Errorf("State CreateTxRecord tx %s error: %v", record.TxHash, result.Error)
		return result.Error
	}
	return nil
}

func (s *State) UpdateTxSuccess(accountId, txHash string, blockHeight uint64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	err := s.dbm.GetTxDB().Model(&db.TxRecord{}).
		Where("account_id = ? and tx_hash = ?", accountId, txHash).
		Updates(map[string]interface{}{"status": db.TX_STATUS_SUCCESS, "block_height": blockHeight, "updated_at": time.Now()}).Error
	if err != nil {
		log.Errorf("State UpdateTxSuccess tx %s error: %v", txHash, err)
		return err
	}
	s.EventBus.Publish(TxConfirmed, txHash)
	return nil
}

func (s *State) UpdateTxFailed(accountId, txHash, reason string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	err := s.dbm.GetTxDB().Model(&db.TxRecord{}).
		Where("account_id = ? and tx_hash = ?", accountId, txHash).
		Updates(map[string]interface{}{"status": db.TX_STATUS_FAILED, "fail_reason": reason, "updated_at": time.Now()}).Error
	if err != nil {
		log.Errorf("State UpdateTxFailed tx %s error: %v", txHash, err)
		return err
	}
	s.EventBus.Publish(TxFailed, txHash)
	return nil
}

func (s *State) GetTxRecord(accountId, txHash string) (*db.TxRecord, error) {
	var record db.TxRecord
	result := s.dbm.GetTxDB().Where("account_id = ? and tx_hash = ?", accountId, txHash).First(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	return &record, nil
}

// GetPendingTxRecords lists transactions still awaiting confirmation,
// used by the status watcher to re-arm watches after a restart.
func (s *State) GetPendingTxRecords(accountId string) ([]*db.TxRecord, error) {
	var records []*db.TxRecord
	result := s.dbm.GetTxDB().Where("account_id = ? and status = ?", accountId, db.TX_STATUS_PENDING).Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}
