package ledger

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRedisLedger(t *testing.T) *RedisLedger {
	t.Helper()
	addr := os.Getenv("AGENTRECEIPT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTRECEIPT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	prefix := "agentreceipt:test:" + uuid.NewString()
	t.Cleanup(func() {
		_ = client.Del(context.Background(), prefix+":records", prefix+":ids").Err()
		_ = client.Close()
	})
	return NewRedisLedger(client, prefix, WithClock(fixedNow))
}

func TestRedisLedgerWriteOnceAndScan(t *testing.T) {
	ledger := newRedisLedger(t)
	ctx := context.Background()
	h1 := crypto.Keccak256Hash([]byte("h1"))

	if _, err := ledger.Anchor(ctx, AnchorRequest{ReceiptID: "r1", Hash: h1, Locator: "loc1", OriginalTxID: "tx1", Writer: writerA}); err != nil {
		t.Fatalf("anchor: %v", err)
	}
	_, err := ledger.Anchor(ctx, AnchorRequest{ReceiptID: "r1", Hash: crypto.Keccak256Hash([]byte("h2")), Locator: "loc2", Writer: writerA})
	if !errors.Is(err, ErrAlreadyAnchored) {
		t.Fatalf("expected already anchored, got %v", err)
	}
	rec, err := ledger.Get(ctx, "r1")
	if err != nil || rec.Hash != h1 || rec.Locator != "loc1" {
		t.Fatalf("unexpected record %+v (%v)", rec, err)
	}

	for _, id := range []string{"b1", "r2", "b2", "r3"} {
		writer := writerA
		if id[0] == 'b' {
			writer = writerB
		}
		if _, err := ledger.Anchor(ctx, AnchorRequest{ReceiptID: id, Hash: crypto.Keccak256Hash([]byte(id)), Locator: "loc", Writer: writer}); err != nil {
			t.Fatalf("anchor %s: %v", id, err)
		}
	}
	ids, err := ledger.ListByWriter(ctx, writerA)
	if err != nil || len(ids) != 3 || ids[0] != "r1" || ids[1] != "r2" || ids[2] != "r3" {
		t.Fatalf("unexpected ids %v (%v)", ids, err)
	}
	if n, _ := ledger.Count(ctx); n != 5 {
		t.Fatalf("expected 5 anchors, got %d", n)
	}
}
