package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/receipt"
)

func TestMemoryStoreIsContentAddressed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	first, err := store.Put(ctx, []byte("document"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, _ := store.Put(ctx, []byte("document"))
	if first != second || !strings.HasPrefix(first, LocatorScheme) {
		t.Fatalf("expected stable locator, got %s and %s", first, second)
	}
	if other, _ := store.Put(ctx, []byte("other")); other == first {
		t.Fatal("different content must yield a different locator")
	}

	data, err := store.Get(ctx, first)
	if err != nil || string(data) != "document" {
		t.Fatalf("get: %q %v", data, err)
	}
	data[0] = 'X'
	again, _ := store.Get(ctx, first)
	if string(again) != "document" {
		t.Fatal("store must return copies")
	}

	missing := Locator([]byte("never stored"))
	if _, err := store.Get(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ok, _ := store.Has(ctx, missing); ok {
		t.Fatal("unexpected content for missing locator")
	}
	if _, err := store.Get(ctx, "ipfs://bafy"); xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("expected invalid locator, got %v", err)
	}
}

func TestPinAndFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r, err := receipt.New(receipt.TransactionProof{
		Network:     "base",
		TxHash:      "0x" + strings.Repeat("e5", 32),
		BlockNumber: 3,
		BlockHash:   "0x" + strings.Repeat("f6", 32),
		Timestamp:   "2026-10-18T11:00:00Z",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Amount:      "3.00",
		Currency:    "USDC",
	}, receipt.CommerceContext{Type: receipt.CommerceSubscription, Description: "seat", Status: receipt.StatusPaidInFull})
	if err != nil {
		t.Fatalf("new receipt: %v", err)
	}

	pinned, err := Pin(ctx, store, r)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if pinned.ContentLocator == "" || r.ContentLocator != "" {
		t.Fatalf("unexpected locators pinned=%q original=%q", pinned.ContentLocator, r.ContentLocator)
	}
	fetched, err := Fetch(ctx, store, pinned.ContentLocator)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want, _ := receipt.CanonicalHash(r)
	got, _ := receipt.CanonicalHash(fetched)
	if want != got {
		t.Fatalf("fetched receipt differs: %s vs %s", got, want)
	}
}
