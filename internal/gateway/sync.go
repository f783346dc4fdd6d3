package gateway

import (
	"context"
	"fmt"

	"github.com/capsulepay/walletd/internal/types"
)

// AddressSummary is the backend's view of one address.
type AddressSummary struct {
	Address      string               `json:"address"`
	CoinType     int                  `json:"coin_type"`
	Balance      uint64               `json:"balance"`
	Utxos        []SummaryUtxo        `json:"utxos"`
	Certificates []SummaryCertificate `json:"certificates"`
}

type SummaryUtxo struct {
	Txid     string `json:"txid"`
	OutIndex int    `json:"out_index"`
	Value    uint64 `json:"value"`
	CoinType int    `json:"coin_type"`
}

type SummaryCertificate struct {
	TxCerId  string `json:"txcer_id"`
	Value    uint64 `json:"value"`
	CoinType int    `json:"coin_type"`
	Status   int    `json:"status"`
}

// FetchAddressSummary refreshes one address's balance, UTXO and
// certificate view from the backend.
func (c *Client) FetchAddressSummary(ctx context.Context, address string, coinType int) (*AddressSummary, error) {
	var summary AddressSummary
	path := fmt.Sprintf("/api/v1/address/%s/summary?coin_type=%d", types.NormalizeAddress(address), coinType)
	if err := c.getJSON(ctx, path, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
