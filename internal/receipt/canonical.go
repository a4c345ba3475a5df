package receipt

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

// canonicalCore is the hashed subset of a receipt. Attestations and the
// anchoring fields are left out so the hash exists before any signature and
// can itself be signed.
type canonicalCore struct {
	ReceiptID   string           `json:"receiptId"`
	Version     string           `json:"version"`
	Transaction TransactionProof `json:"transaction"`
	Commerce    CommerceContext  `json:"commerce"`
}

// CanonicalBytes returns the RFC 8785 (JCS) form of the immutable receipt
// core. Object keys are sorted and insignificant whitespace removed, so the
// output depends only on the logical content.
func CanonicalBytes(r AgentReceipt) ([]byte, error) {
	if err := checkUTF8(r); err != nil {
		return nil, err
	}
	commerce := r.Commerce
	if commerce.Terms != nil && commerce.Terms.isZero() {
		commerce.Terms = nil
	}
	raw, err := json.Marshal(canonicalCore{
		ReceiptID:   r.ReceiptID,
		Version:     r.Version,
		Transaction: r.Transaction,
		Commerce:    commerce,
	})
	if err != nil {
		return nil, fmt.Errorf("encode receipt core: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize receipt core: %w", err)
	}
	return out, nil
}

// CanonicalHash is keccak256 over CanonicalBytes. The same digest is embedded
// in the signed attestation message and written to the anchor ledger.
func CanonicalHash(r AgentReceipt) (common.Hash, error) {
	data, err := CanonicalBytes(r)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}

func (t *Terms) isZero() bool {
	return t.Period == "" && t.SLA == "" && len(t.Deliverables) == 0 &&
		t.RefundConditions == "" && len(t.Custom) == 0
}
