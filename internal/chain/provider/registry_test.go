package provider

import (
	"context"
	"errors"
	"testing"

	"AgentReceipt/internal/chain"
)

type stubClient struct {
	name   string
	closed bool
}

func (s *stubClient) GetTransaction(context.Context, string) (*chain.Transaction, error) {
	return &chain.Transaction{Hash: s.name}, nil
}

func (s *stubClient) GetTransactionReceipt(context.Context, string) (*chain.TxReceipt, error) {
	return nil, chain.ErrNotFound
}

func (s *stubClient) GetBlock(context.Context, chain.BlockRef) (*chain.Block, error) {
	return nil, chain.ErrNotFound
}

func (s *stubClient) Close() { s.closed = true }

func TestStaticRegistryResolvesNetworks(t *testing.T) {
	t.Parallel()

	base := &stubClient{name: "base"}
	sepolia := &stubClient{name: "sepolia"}
	reg, err := NewStaticRegistry("", map[string]Client{"sepolia": sepolia, "base": base}, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if reg.DefaultChain() != "base" {
		t.Fatalf("expected alphabetical default, got %s", reg.DefaultChain())
	}

	reader, err := reg.Reader("")
	if err != nil {
		t.Fatalf("default reader: %v", err)
	}
	tx, _ := reader.GetTransaction(context.Background(), "0x")
	if tx.Hash != "base" {
		t.Fatalf("expected default chain reader, got %s", tx.Hash)
	}

	if _, err := reg.Reader("polygon"); !errors.Is(err, chain.ErrNotFound) {
		t.Fatalf("expected not found for unknown network, got %v", err)
	}

	reg.Close()
	if !base.closed || !sepolia.closed {
		t.Fatal("expected all clients to be closed")
	}
}

func TestStaticRegistryRejectsUnknownDefault(t *testing.T) {
	t.Parallel()

	_, err := NewStaticRegistry("mainnet", map[string]Client{"base": &stubClient{}}, nil)
	if err == nil {
		t.Fatal("expected error for default chain without client")
	}
}
