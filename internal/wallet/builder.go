package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/capsulepay/walletd/internal/lock"
	"github.com/capsulepay/walletd/internal/signer"
	"github.com/capsulepay/walletd/internal/state"
	"github.com/capsulepay/walletd/internal/types"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

// TxBuilder turns a transfer request into a signed transaction payload.
// lockedCertIds is the set of certificates the orchestrator reserved for
// this flow, the only ones the builder may spend.
type TxBuilder interface {
	BuildTransfer(ctx context.Context, req *types.TransferRequest, membership *types.OrgMembership, lockedCertIds []string) (*types.BuiltTx, error)
}

// KeyStore resolves the signing key of an account.
type KeyStore interface {
	PrivateKeyHex(accountId string) (string, error)
}

// StaticKeyStore serves one key for every account, wired from SIGNER_KEY.
type StaticKeyStore struct {
	KeyHex string
}

func (s *StaticKeyStore) PrivateKeyHex(accountId string) (string, error) {
	if s.KeyHex == "" {
		return "", errors.Errorf("no signing key configured for account %s", accountId)
	}
	return s.KeyHex, nil
}

// LocalTxBuilder selects inputs from the synced account view and signs
// the payload locally. Quick transfers inside a group spend certificates
// first, everything else spends plain outputs, both top up from
// unreserved UTXOs and route change per coin type.
type LocalTxBuilder struct {
	state     *state.State
	utxoLocks *lock.UtxoLockManager
	signer    signer.Signer
	keys      KeyStore
}

func NewLocalTxBuilder(st *state.State, utxoLocks *lock.UtxoLockManager, sg signer.Signer, keys KeyStore) *LocalTxBuilder {
	return &LocalTxBuilder{
		state:     st,
		utxoLocks: utxoLocks,
		signer:    sg,
		keys:      keys,
	}
}

// txPayload is the canonical signing form of a built transaction.
type txPayload struct {
	AccountId       string            `json:"account_id"`
	Format          string            `json:"format"`
	OrgId           string            `json:"org_id,omitempty"`
	CertInputs      []types.CertInput `json:"cert_inputs,omitempty"`
	Inputs          []types.TxInput   `json:"inputs,omitempty"`
	Outputs         []types.TxOutput  `json:"outputs"`
	GasPrice        uint64            `json:"gas_price"`
	GasLimit        uint64            `json:"gas_limit"`
	RecipientPubKey string            `json:"recipient_pub_key,omitempty"`
	RecipientOrgId  string            `json:"recipient_org_id,omitempty"`
	Interest        uint64            `json:"interest,omitempty"`
}

func (b *LocalTxBuilder) BuildTransfer(ctx context.Context, req *types.TransferRequest, membership *types.OrgMembership, lockedCertIds []string) (*types.BuiltTx, error) {
	if req.Amount == 0 {
		return nil, errors.New("transfer amount must be positive")
	}
	target := req.Amount + req.GasPrice*req.GasLimit

	var certInputs []types.CertInput
	var gathered uint64

	if req.Mode == types.TRANSFER_MODE_QUICK && membership.Grouped {
		locked := make(map[string]bool, len(lockedCertIds))
		for _, id := range lockedCertIds {
			locked[id] = true
		}
		certs, err := b.state.GetAvailableCertificates(req.AccountId, req.FromAddresses)
		if err != nil {
			return nil, errors.Errorf("load certificates: %v", err)
		}
		for _, c := range certs {
			if gathered >= target {
				break
			}
			if c.CoinType != req.CoinType || !locked[c.TxCerId] {
				continue
			}
			certInputs = append(certInputs, types.CertInput{TXCerID: c.TxCerId})
			gathered += c.Value
		}
	}

	var inputs []types.TxInput
	if gathered < target {
		for _, addr := range req.FromAddresses {
			if gathered >= target {
				break
			}
			utxos, err := b.state.GetUtxosByAddress(req.AccountId, addr)
			if err != nil {
				return nil, errors.Errorf("load utxos of %s: %v", addr, err)
			}
			for _, u := range utxos {
				if gathered >= target {
					break
				}
				if u.CoinType != req.CoinType || b.utxoLocks.IsLocked(u.UtxoId) {
					continue
				}
				inputs = append(inputs, types.TxInput{
					FromTXID:       u.Txid,
					FromTxPosition: types.TxPosition{IndexZ: u.OutIndex},
					FromAddress:    u.Address,
					Value:          u.Value,
				})
				gathered += u.Value
			}
		}
	}

	if gathered < target {
		return nil, errors.Errorf("insufficient funds: need %d, gathered %d", target, gathered)
	}

	outputs := []types.TxOutput{{ToAddress: req.ToAddress, Value: req.Amount, CoinType: req.CoinType}}
	if change := gathered - target; change > 0 {
		changeAddr := req.ChangeAddresses[req.CoinType]
		if changeAddr == "" {
			changeAddr = req.FromAddresses[0]
			log.Debugf("Builder no change address for coin type %d, routing change to %s", req.CoinType, changeAddr)
		}
		outputs = append(outputs, types.TxOutput{ToAddress: changeAddr, Value: change, CoinType: req.CoinType})
	}

	format := types.TX_FORMAT_AGGREGATE
	orgId := ""
	if membership.Grouped {
		format = types.TX_FORMAT_GROUP
		orgId = membership.OrgId
	}

	payload := txPayload{
		AccountId:       req.AccountId,
		Format:          format,
		OrgId:           orgId,
		CertInputs:      certInputs,
		Inputs:          inputs,
		Outputs:         outputs,
		GasPrice:        req.GasPrice,
		GasLimit:        req.GasLimit,
		RecipientPubKey: req.RecipientPubKey,
		RecipientOrgId:  req.RecipientOrgId,
		Interest:        req.Interest,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Errorf("marshal tx payload: %v", err)
	}

	keyHex, err := b.keys.PrivateKeyHex(req.AccountId)
	if err != nil {
		return nil, err
	}
	sig, err := b.signer.Sign(raw, keyHex)
	if err != nil {
		return nil, errors.Errorf("sign tx: %v", err)
	}

	hash := sha256.Sum256(raw)
	return &types.BuiltTx{
		TxHash:          hex.EncodeToString(hash[:]),
		Format:          format,
		OrgId:           orgId,
		CertInputs:      certInputs,
		Inputs:          inputs,
		Outputs:         outputs,
		GasPrice:        req.GasPrice,
		GasLimit:        req.GasLimit,
		Signature:       sig,
		Raw:             raw,
		RecipientPubKey: req.RecipientPubKey,
		RecipientOrgId:  req.RecipientOrgId,
		Interest:        req.Interest,
	}, nil
}

var _ TxBuilder = (*LocalTxBuilder)(nil)
