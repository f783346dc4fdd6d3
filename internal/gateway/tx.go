package gateway

import (
	"context"
	"fmt"

	"github.com/capsulepay/walletd/internal/types"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

const (
	groupSubmitPath     = "/api/v1/group/tx"
	committeeSubmitPath = "/api/v1/committee/tx"
)

type submitResponse struct {
	Success bool   `json:"success"`
	TxId    string `json:"tx_id,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubmitTx posts the built transaction to the group endpoint for grouped
// accounts, the committee endpoint otherwise. Returns the backend
// assigned transaction id.
func (c *Client) SubmitTx(ctx context.Context, grouped bool, tx *types.BuiltTx) (string, error) {
	path := committeeSubmitPath
	if grouped {
		path = groupSubmitPath
	}

	var resp submitResponse
	if err := c.postJSON(ctx, path, tx, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.Wrap(fmt.Errorf("submission rejected: %s", resp.Error), 0)
	}

	txId := resp.TxId
	if txId == "" {
		txId = resp.TxHash
	}
	if txId == "" {
		return "", errors.Errorf("submission response missing transaction id")
	}
	log.Infof("Gateway submitted tx %s via %s", txId, path)
	return txId, nil
}

// GetConfirmStatus polls one transaction's confirmation state.
func (c *Client) GetConfirmStatus(ctx context.Context, txHash, orgId string) (*types.ConfirmStatus, error) {
	path := fmt.Sprintf("/api/v1/tx/%s/status", txHash)
	if orgId != "" {
		path += "?org_id=" + orgId
	}
	var status types.ConfirmStatus
	if err := c.getJSON(ctx, path, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ResolveOrgMembership fetches the account's guarantor group affiliation.
func (c *Client) ResolveOrgMembership(ctx context.Context, accountId string) (*types.OrgMembership, error) {
	var membership types.OrgMembership
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/account/%s/org", accountId), &membership); err != nil {
		return nil, err
	}
	return &membership, nil
}
