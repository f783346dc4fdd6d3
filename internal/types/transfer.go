package types

// TransferMode selects how value is moved: quick transfers spend
// certificates inside a guarantor group, cross transfers settle across
// group domains.
const (
	TRANSFER_MODE_QUICK = "quick"
	TRANSFER_MODE_CROSS = "cross"
)

// TransferRequest carries everything the orchestrator needs to build and
// submit one transfer.
type TransferRequest struct {
	AccountId       string         `json:"account_id"`
	FromAddresses   []string       `json:"from_addresses"`
	ToAddress       string         `json:"to_address"`
	Amount          uint64         `json:"amount"`
	CoinType        int            `json:"coin_type"`
	Mode            string         `json:"mode"` // "quick", "cross"
	GasPrice        uint64         `json:"gas_price"`
	GasLimit        uint64         `json:"gas_limit"`
	ChangeAddresses map[int]string `json:"change_addresses"` // per coin type

	// Cross-domain recipient metadata, only meaningful inside a
	// guarantor group. Zeroed for ungrouped accounts.
	RecipientPubKey string `json:"recipient_pub_key"`
	RecipientOrgId  string `json:"recipient_org_id"`
	Interest        uint64 `json:"interest"`
}

// TransferResult is the discriminated outcome of BuildAndSubmitTransfer.
type TransferResult struct {
	Success bool   `json:"success"`
	TxId    string `json:"tx_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func TransferOk(txId string) *TransferResult {
	return &TransferResult{Success: true, TxId: txId}
}

func TransferFailed(reason string) *TransferResult {
	return &TransferResult{Success: false, Error: reason}
}
