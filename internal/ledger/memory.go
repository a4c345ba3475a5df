package ledger

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger keeps anchors in process memory. The check and the write
// happen under one lock.
type MemoryLedger struct {
	mu       sync.RWMutex
	records  map[string]Record
	ids      []string
	settings settings
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(opts ...Option) *MemoryLedger {
	s := defaultSettings("ledger.memory")
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &MemoryLedger{records: make(map[string]Record), settings: s}
}

// Anchor writes the record once.
func (l *MemoryLedger) Anchor(ctx context.Context, req AnchorRequest) (Receipt, error) {
	if err := validateRequest(req, true); err != nil {
		return Receipt{}, err
	}
	id := strings.TrimSpace(req.ReceiptID)

	l.mu.Lock()
	if existing, ok := l.records[id]; ok && existing.Exists() {
		l.mu.Unlock()
		return Receipt{}, alreadyAnchored(id)
	}
	rec := Record{
		ReceiptID:    id,
		Hash:         req.Hash,
		Locator:      req.Locator,
		OriginalTxID: req.OriginalTxID,
		Writer:       req.Writer,
		Timestamp:    l.settings.timestamp(),
	}
	l.records[id] = rec
	l.ids = append(l.ids, id)
	l.mu.Unlock()

	out := Receipt{TxID: syntheticTxID(rec), Record: rec}
	l.settings.emit(ctx, out)
	return out, nil
}

// Verify reports whether receiptID is anchored with hash.
func (l *MemoryLedger) Verify(ctx context.Context, receiptID string, hash common.Hash) (bool, error) {
	rec, err := l.Get(ctx, receiptID)
	if err != nil {
		return false, err
	}
	return rec.Exists() && rec.Hash == hash, nil
}

// Get returns the record or a zero Record when absent.
func (l *MemoryLedger) Get(_ context.Context, receiptID string) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[strings.TrimSpace(receiptID)], nil
}

// Exists reports whether receiptID is anchored.
func (l *MemoryLedger) Exists(ctx context.Context, receiptID string) (bool, error) {
	rec, err := l.Get(ctx, receiptID)
	return rec.Exists(), err
}

// Count returns the number of anchored receipts.
func (l *MemoryLedger) Count(context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.ids)), nil
}

// ListByWriter returns the ids anchored by writer in anchor order.
func (l *MemoryLedger) ListByWriter(_ context.Context, writer common.Address) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterByWriter(l.ids, func(id string) (Record, bool) {
		rec, ok := l.records[id]
		return rec, ok
	}, writer), nil
}

var _ Ledger = (*MemoryLedger)(nil)
