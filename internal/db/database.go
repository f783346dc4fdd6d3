package db

import (
	"os"
	"path/filepath"

	"github.com/capsulepay/walletd/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	accountDb *gorm.DB
	txDb      *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	accountPath := filepath.Join(dbDir, "wallet_account.db")
	accountDb, err := gorm.Open(sqlite.Open(accountPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to account database: %v", err)
	}
	dm.accountDb = accountDb
	log.Debugf("Account database connected successfully, path: %s", accountPath)

	txPath := filepath.Join(dbDir, "wallet_tx.db")
	txDb, err := gorm.Open(sqlite.Open(txPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to tx database: %v", err)
	}
	dm.txDb = txDb
	log.Debugf("Tx database connected successfully, path: %s", txPath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

func (dm *DatabaseManager) GetAccountDB() *gorm.DB {
	return dm.accountDb
}

func (dm *DatabaseManager) GetTxDB() *gorm.DB {
	return dm.txDb
}
