package types

// TxPosition locates an output inside its originating transaction.
type TxPosition struct {
	IndexZ int `json:"index_z"`
}

// TxInput is a normal (UTXO) input of a built transaction.
type TxInput struct {
	FromTXID       string     `json:"from_txid"`
	FromTxPosition TxPosition `json:"from_tx_position"`
	FromAddress    string     `json:"from_address"`
	Value          uint64     `json:"value"`
}

// CertInput is a certificate input of a built transaction.
type CertInput struct {
	TXCerID string `json:"txcer_id"`
}

// TxOutput is one output of a built transaction.
type TxOutput struct {
	ToAddress string `json:"to_address"`
	Value     uint64 `json:"value"`
	CoinType  int    `json:"coin_type"`
}

// BuiltTx is the transaction payload returned by the builder collaborator.
// Grouped accounts get the group-signed format, ungrouped accounts the
// direct aggregate format; both expose the same input views.
type BuiltTx struct {
	TxHash     string      `json:"tx_hash"`
	Format     string      `json:"format"` // "group", "aggregate"
	OrgId      string      `json:"org_id,omitempty"`
	CertInputs []CertInput `json:"cert_inputs"`
	Inputs     []TxInput   `json:"inputs"`
	Outputs    []TxOutput  `json:"outputs"`
	GasPrice   uint64      `json:"gas_price"`
	GasLimit   uint64      `json:"gas_limit"`
	Signature  string      `json:"signature"`
	Raw        []byte      `json:"raw"`

	// Cross-domain recipient metadata, zero for ungrouped accounts.
	RecipientPubKey string `json:"recipient_pub_key,omitempty"`
	RecipientOrgId  string `json:"recipient_org_id,omitempty"`
	Interest        uint64 `json:"interest,omitempty"`
}

const (
	TX_FORMAT_GROUP     = "group"
	TX_FORMAT_AGGREGATE = "aggregate"
)

// OrgMembership describes an account's guarantor group affiliation.
// Grouped is false for accounts outside any group.
type OrgMembership struct {
	Grouped     bool     `json:"grouped"`
	OrgId       string   `json:"org_id"`
	OrgName     string   `json:"org_name"`
	MemberCount int      `json:"member_count"`
	Members     []string `json:"members"`
}

// ConfirmStatus is the confirmation endpoint's view of one transaction.
type ConfirmStatus struct {
	Status       string `json:"status"` // "pending", "success", "failed"
	BlockHeight  uint64 `json:"block_height,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Endorsements []int  `json:"endorsements,omitempty"` // endorsing member indexes while pending
}

const (
	CONFIRM_STATUS_PENDING = "pending"
	CONFIRM_STATUS_SUCCESS = "success"
	CONFIRM_STATUS_FAILED  = "failed"
)

// TxCerUpdate is a server-pushed certificate state change.
type TxCerUpdate struct {
	TxCerId      string    `json:"txcer_id"`
	Status       int       `json:"status"` // 0 spent, 1 available, 2 pending
	Utxo         *TxOutput `json:"utxo,omitempty"`
	ReceivedTime int64     `json:"received_time"`
}
