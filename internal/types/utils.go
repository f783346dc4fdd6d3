package types

import (
	"fmt"
	"strings"
)

// NormalizeAddress strips an optional 0x prefix and lowercases the rest.
// Every boundary (orchestrator, syncer, lock managers) goes through this
// so stored and built addresses compare equal.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		addr = addr[2:]
	}
	return strings.ToLower(addr)
}

// UtxoID derives the canonical utxo identifier from the originating
// transaction id and the output index.
func UtxoID(txid string, indexZ int) string {
	return fmt.Sprintf("%s_%d", strings.ToLower(txid), indexZ)
}

// SplitUtxoID is the inverse of UtxoID. ok is false when the id does not
// carry an index suffix.
func SplitUtxoID(utxoId string) (txid string, indexZ int, ok bool) {
	i := strings.LastIndex(utxoId, "_")
	if i <= 0 || i == len(utxoId)-1 {
		return "", 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(utxoId[i+1:], "%d", &idx); err != nil {
		return "", 0, false
	}
	return utxoId[:i], idx, true
}
