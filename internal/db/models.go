package db

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Account model
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountId string    `gorm:"not null;uniqueIndex" json:"account_id"`
	Name      string    `json:"name"`
	OrgId     string    `json:"org_id"` // guarantor group id, empty when ungrouped
	OrgName   string    `json:"org_name"`
	Active    bool      `gorm:"not null" json:"active"`
	SyncedAt  time.Time `json:"synced_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// AddressView model, one row per watched address of an account
type AddressView struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountId string    `gorm:"not null;index" json:"account_id"`
	Address   string    `gorm:"not null;index:unique_account_address,unique" json:"address"`
	CoinType  int       `gorm:"not null;index:unique_account_address,unique" json:"coin_type"`
	Balance   uint64    `gorm:"not null" json:"balance"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// Utxo model (spendable output as last synced from the gateway)
type Utxo struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountId string    `gorm:"not null;index" json:"account_id"`
	UtxoId    string    `gorm:"not null;index:unique_account_utxo,unique" json:"utxo_id"` // "{txid}_{indexZ}"
	Txid      string    `gorm:"not null" json:"txid"`
	OutIndex  int       `gorm:"not null" json:"out_index"`
	Address   string    `gorm:"not null;index" json:"address"`
	Value     uint64    `gorm:"not null" json:"value"`
	CoinType  int       `gorm:"not null" json:"coin_type"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TxCertificate model (certificate as last synced from the gateway)
type TxCertificate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountId string    `gorm:"not null;index" json:"account_id"`
	TxCerId   string    `gorm:"column:txcer_id;not null;index:unique_account_txcer,unique" json:"txcer_id"`
	Address   string    `gorm:"not null;index" json:"address"`
	Value     uint64    `gorm:"not null" json:"value"`
	CoinType  int       `gorm:"not null" json:"coin_type"`
	Status    int       `gorm:"not null" json:"status"` // 0 spent, 1 available, 2 pending
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TxRecord model (local transaction history entry)
type TxRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AccountId   string    `gorm:"not null;index" json:"account_id"`
	TxHash      string    `gorm:"not null;index:unique_account_txhash,unique" json:"tx_hash"`
	RequestId   string    `gorm:"not null" json:"request_id"`
	FromAddress string    `gorm:"not null" json:"from_address"`
	ToAddress   string    `gorm:"not null" json:"to_address"`
	Amount      uint64    `gorm:"not null" json:"amount"`
	Gas         uint64    `gorm:"not null" json:"gas"`
	CoinType    int       `gorm:"not null" json:"coin_type"`
	Mode        string    `gorm:"not null" json:"mode"`   // "quick", "cross"
	Status      string    `gorm:"not null" json:"status"` // "pending", "success", "failed"
	BlockHeight uint64    `json:"block_height"`
	FailReason  string    `json:"fail_reason"`
	SubmittedAt time.Time `gorm:"not null" json:"submitted_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.accountDb.AutoMigrate(&Account{}, &AddressView{}, &Utxo{}, &TxCertificate{}); err != nil {
		log.Fatalf("Failed to migrate account database: %v", err)
	}
	if err := dm.txDb.AutoMigrate(&TxRecord{}); err != nil {
		log.Fatalf("Failed to migrate tx database: %v", err)
	}
}
