package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"AgentReceipt/internal/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("AGENTRECEIPT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTRECEIPT_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	prefix := "agentreceipt:test:" + uuid.NewString()
	store := NewStore(client, prefix)
	doc := []byte(`{"receiptId":"r1"}`)

	t.Cleanup(func() {
		digest, _ := storage.ParseLocator(storage.Locator(doc))
		_ = client.Del(context.Background(), store.key(digest)).Err()
		_ = client.Close()
	})

	locator, err := store.Put(ctx, doc)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if again, err := store.Put(ctx, doc); err != nil || again != locator {
		t.Fatalf("second put: %s %v", again, err)
	}
	got, err := store.Get(ctx, locator)
	if err != nil || string(got) != string(doc) {
		t.Fatalf("get: %q %v", got, err)
	}
	if ok, err := store.Has(ctx, storage.Locator([]byte("other"))); err != nil || ok {
		t.Fatalf("has: %v %v", ok, err)
	}
	if _, err := store.Get(ctx, storage.Locator([]byte("other"))); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewStoreDefaultsPrefix(t *testing.T) {
	t.Parallel()

	store := NewStore(nil, " ")
	if got := store.key("ab"); got != "agentreceipt:doc:ab" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := NewStore(nil, "custom:").key("ab"); got != "custom:ab" {
		t.Fatalf("unexpected key %s", got)
	}
}
