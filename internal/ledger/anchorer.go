package ledger

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"AgentReceipt/internal/receipt"
)

// Anchorer writes a receipt's canonical hash to a ledger.
type Anchorer struct {
	ledger Ledger
	writer common.Address
}

// NewAnchorer binds an anchorer to a ledger and the identity it writes as.
func NewAnchorer(ledger Ledger, writer common.Address) *Anchorer {
	return &Anchorer{ledger: ledger, writer: writer}
}

// Ledger returns the underlying ledger.
func (a *Anchorer) Ledger() Ledger {
	return a.ledger
}

// Anchor records r on the ledger and returns a copy of r carrying the anchor
// hash and the id of the anchoring write. r must already be pinned.
func (a *Anchorer) Anchor(ctx context.Context, r receipt.AgentReceipt) (receipt.AgentReceipt, Receipt, error) {
	if strings.TrimSpace(r.ContentLocator) == "" {
		return receipt.AgentReceipt{}, Receipt{}, invalidInput("receipt %s has no content locator; pin it before anchoring", r.ReceiptID)
	}
	hash, err := receipt.CanonicalHash(r)
	if err != nil {
		return receipt.AgentReceipt{}, Receipt{}, err
	}
	out, err := a.ledger.Anchor(ctx, AnchorRequest{
		ReceiptID:    r.ReceiptID,
		Hash:         hash,
		Locator:      r.ContentLocator,
		OriginalTxID: r.Transaction.TxHash,
		Writer:       a.writer,
	})
	if err != nil {
		return receipt.AgentReceipt{}, Receipt{}, err
	}
	return r.WithAnchor(hash.Hex(), out.TxID), out, nil
}
