package config

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("GATEWAY_URL", "http://localhost:9377")
	viper.SetDefault("PUSH_WS_URL", "ws://localhost:9378/push")
	viper.SetDefault("ENABLE_PUSH_LISTENER", true)
	viper.SetDefault("SUBMIT_RETRY", 3)
	viper.SetDefault("SUBMIT_RETRY_INTERVAL", "2s")
	viper.SetDefault("SUBMIT_TIMEOUT", "15s")
	viper.SetDefault("CONFIRM_INTERVAL", "5s")
	viper.SetDefault("CONFIRM_MAX_WAIT", "180s")
	viper.SetDefault("DRAFT_LOCK_EXPIRY", "30s")
	viper.SetDefault("SUBMITTED_LOCK_EXPIRY", "24h")
	viper.SetDefault("UTXO_LOCK_EXPIRY", "24h")
	viper.SetDefault("LOCK_SWEEP_INTERVAL", "5s")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("KV_DIR", "/app/kv")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SIGNER_KEY", "")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		HTTPPort:            viper.GetString("HTTP_PORT"),
		GatewayURL:          strings.TrimRight(viper.GetString("GATEWAY_URL"), "/"),
		PushWSURL:           viper.GetString("PUSH_WS_URL"),
		EnablePushListener:  viper.GetBool("ENABLE_PUSH_LISTENER"),
		SubmitRetry:         viper.GetInt("SUBMIT_RETRY"),
		SubmitRetryInterval: viper.GetDuration("SUBMIT_RETRY_INTERVAL"),
		SubmitTimeout:       viper.GetDuration("SUBMIT_TIMEOUT"),
		ConfirmInterval:     viper.GetDuration("CONFIRM_INTERVAL"),
		ConfirmMaxWait:      viper.GetDuration("CONFIRM_MAX_WAIT"),
		DraftLockExpiry:     viper.GetDuration("DRAFT_LOCK_EXPIRY"),
		SubmittedLockExpiry: viper.GetDuration("SUBMITTED_LOCK_EXPIRY"),
		UtxoLockExpiry:      viper.GetDuration("UTXO_LOCK_EXPIRY"),
		LockSweepInterval:   viper.GetDuration("LOCK_SWEEP_INTERVAL"),
		DbDir:               viper.GetString("DB_DIR"),
		KvDir:               viper.GetString("KV_DIR"),
		SignerKey:           viper.GetString("SIGNER_KEY"),
		LogLevel:            logLevel,
	}

	if AppConfig.SubmitRetry < 1 {
		logrus.Warnf("Submit retry count %d is too low, set to 1", AppConfig.SubmitRetry)
		AppConfig.SubmitRetry = 1
	}

	logrus.Infof("Init config, GatewayURL %s, SubmitRetry %d, ConfirmMaxWait %v",
		AppConfig.GatewayURL, AppConfig.SubmitRetry, AppConfig.ConfirmMaxWait)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

type Config struct {
	HTTPPort            string
	GatewayURL          string
	PushWSURL           string
	EnablePushListener  bool
	SubmitRetry         int
	SubmitRetryInterval time.Duration
	SubmitTimeout       time.Duration
	ConfirmInterval     time.Duration
	ConfirmMaxWait      time.Duration
	DraftLockExpiry     time.Duration
	SubmittedLockExpiry time.Duration
	UtxoLockExpiry      time.Duration
	LockSweepInterval   time.Duration
	DbDir               string
	KvDir               string
	SignerKey           string
	LogLevel            logrus.Level
}
