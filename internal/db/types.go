package db

const (
	TX_STATUS_PENDING = "pending"
	TX_STATUS_SUCCESS = "success"
	TX_STATUS_FAILED  = "failed"

	TX_MODE_QUICK = "quick"
	TX_MODE_CROSS = "cross"

	TXCER_STATUS_SPENT     = 0
	TXCER_STATUS_AVAILABLE = 1
	TXCER_STATUS_PENDING   = 2

	COIN_TYPE_MAIN = 0
	COIN_TYPE_SUB  = 1
)
