package ledger

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Record is the anchored state of one receipt. A zero Timestamp means the
// receipt has not been anchored.
type Record struct {
	ReceiptID    string         `json:"receiptId"`
	Hash         common.Hash    `json:"hash"`
	Locator      string         `json:"locator"`
	OriginalTxID string         `json:"originalTxId"`
	Writer       common.Address `json:"writer"`
	Timestamp    uint64         `json:"timestamp"`
}

// Exists reports whether the record was written.
func (r Record) Exists() bool {
	return r.Timestamp != 0
}

// AnchorRequest carries the values to anchor. Writer is the identity of the
// caller; the contract ledger ignores it and uses its transacting key.
type AnchorRequest struct {
	ReceiptID    string
	Hash         common.Hash
	Locator      string
	OriginalTxID string
	Writer       common.Address
}

// Receipt acknowledges a successful anchor.
type Receipt struct {
	TxID   string `json:"txId"`
	Record Record `json:"record"`
}

// Ledger is the anchor log contract surface.
type Ledger interface {
	Anchor(ctx context.Context, req AnchorRequest) (Receipt, error)
	Verify(ctx context.Context, receiptID string, hash common.Hash) (bool, error)
	Get(ctx context.Context, receiptID string) (Record, error)
	Exists(ctx context.Context, receiptID string) (bool, error)
	Count(ctx context.Context) (uint64, error)
	ListByWriter(ctx context.Context, writer common.Address) ([]string, error)
}

// Event is emitted once per successful anchor.
type Event struct {
	Name   string `json:"event"`
	TxID   string `json:"txId"`
	Record Record `json:"record"`
}

// EventName is the name carried by anchor events.
const EventName = "ReceiptAnchored"

// EventPublisher delivers anchor events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

func validateRequest(req AnchorRequest, requireWriter bool) error {
	if strings.TrimSpace(req.ReceiptID) == "" {
		return invalidInput("receipt id is empty")
	}
	if req.Hash == (common.Hash{}) {
		return invalidInput("hash must not be zero")
	}
	if strings.TrimSpace(req.Locator) == "" {
		return invalidInput("locator is empty")
	}
	if requireWriter && req.Writer == (common.Address{}) {
		return invalidInput("writer identity is empty")
	}
	return nil
}

// filterByWriter scans records in anchor order, counting matches first and
// then collecting them into an exactly sized slice.
func filterByWriter(ids []string, lookup func(string) (Record, bool), writer common.Address) []string {
	matches := 0
	for _, id := range ids {
		if rec, ok := lookup(id); ok && rec.Writer == writer {
			matches++
		}
	}
	out := make([]string, 0, matches)
	for _, id := range ids {
		if rec, ok := lookup(id); ok && rec.Writer == writer {
			out = append(out, id)
		}
	}
	return out
}
