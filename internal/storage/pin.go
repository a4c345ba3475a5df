package storage

import (
	"context"
	"log/slog"

	"AgentReceipt/internal/receipt"
	"AgentReceipt/pkg/logger"
)

// Pin stores the receipt document and returns the receipt pointing at it.
// The stored document is the receipt as passed in, before the locator is set.
func Pin(ctx context.Context, store Store, r receipt.AgentReceipt) (receipt.AgentReceipt, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	locator, err := store.Put(ctx, doc)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	logger.Audit().Info("receipt pinned",
		slog.String("receipt_id", r.ReceiptID),
		slog.String("locator", locator))
	return r.WithContentLocator(locator), nil
}

// Fetch loads and decodes a pinned receipt document, checking that the bytes
// match their locator.
func Fetch(ctx context.Context, store Store, locator string) (receipt.AgentReceipt, error) {
	data, err := store.Get(ctx, locator)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	if err := VerifyContent(locator, data); err != nil {
		return receipt.AgentReceipt{}, err
	}
	return receipt.ParseDocument(data)
}
