package agentreceipt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentReceipt/internal/api"
	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/storage"
)

var writer = common.HexToAddress("0x00000000000000000000000000000000000000f2")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := api.NewServer(api.Options{
		Store:    storage.NewMemoryStore(),
		Anchorer: ledger.NewAnchorer(ledger.NewMemoryLedger(), writer),
		Jobs:     jobs.NewService(jobs.NewMemoryStore(), jobs.NewMemoryQueue(8), 3),
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newSigner(t *testing.T) *attestation.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := attestation.NewKeySigner(key)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func sdkReceipt(t *testing.T) receipt.AgentReceipt {
	t.Helper()
	r, err := receipt.New(receipt.TransactionProof{
		Network:     "base-sepolia",
		TxHash:      "0x" + strings.Repeat("8e", 32),
		BlockNumber: 300,
		BlockHash:   "0x" + strings.Repeat("9f", 32),
		Timestamp:   "2026-10-18T11:00:00Z",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Amount:      "5.00",
		Currency:    "USDC",
	}, receipt.CommerceContext{
		Type:        receipt.CommerceBounty,
		Description: "Bug bounty payout",
		Status:      receipt.StatusPaidInFull,
	}, receipt.WithID("sdk-1"))
	if err != nil {
		t.Fatalf("new receipt: %v", err)
	}
	return r
}

func TestClientAttestAndAnchor(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	r := sdkReceipt(t)
	for _, role := range []receipt.Role{receipt.RoleBuyer, receipt.RoleSeller} {
		r, err = client.Attest(ctx, r, newSigner(t), role, string(role)+"-agent")
		if err != nil {
			t.Fatalf("attest %s: %v", role, err)
		}
	}
	if len(r.Attestations) != 2 {
		t.Fatalf("expected two attestations, got %d", len(r.Attestations))
	}

	anchored, err := client.Anchor(ctx, r, true)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if anchored.Receipt.AnchorHash != anchored.Hash || anchored.Anchor.TxID != anchored.Receipt.AnchorTxHash {
		t.Fatalf("inconsistent anchor result %+v", anchored)
	}

	record, err := client.GetAnchor(ctx, "sdk-1")
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	if record.Hash.Hex() != anchored.Hash {
		t.Fatalf("unexpected record %+v", record)
	}

	ids, err := client.ListByWriter(ctx, writer)
	if err != nil || len(ids) != 1 || ids[0] != "sdk-1" {
		t.Fatalf("unexpected ids %v (%v)", ids, err)
	}

	_, err = client.Anchor(ctx, anchored.Receipt, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "ALREADY_ANCHORED" {
		t.Fatalf("expected already anchored problem, got %v", err)
	}
}

func TestClientJobs(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	job, err := client.SubmitJob(ctx, "sdk-job", sdkReceipt(t), false)
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	if job.ID != "sdk-job" || job.Status != jobs.StatusPending {
		t.Fatalf("unexpected job %+v", job)
	}
	got, err := client.GetJob(ctx, "sdk-job")
	if err != nil || got.ReceiptID != "sdk-1" {
		t.Fatalf("get job: %+v %v", got, err)
	}

	_, err = client.GetJob(ctx, "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientReportsUnconfiguredVerifier(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Verify(context.Background(), sdkReceipt(t), false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatal("expected error")
	}
}
