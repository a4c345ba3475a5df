package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/storage"
	"AgentReceipt/internal/verify"
)

var writerAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")

type stubGenerator struct {
	req receipt.GenerateRequest
}

func (g *stubGenerator) Generate(_ context.Context, req receipt.GenerateRequest) (receipt.AgentReceipt, error) {
	g.req = req
	return receipt.New(receipt.TransactionProof{
		Network:     req.Network,
		TxHash:      req.TxHash,
		BlockNumber: 77,
		BlockHash:   "0x" + strings.Repeat("9c", 32),
		Timestamp:   "2026-10-18T10:00:00Z",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Amount:      "12.50",
		Currency:    "USDC",
	}, req.Commerce, receipt.WithID("generated-1"))
}

type stubVerifier struct {
	requests []verify.Request
}

func (v *stubVerifier) Verify(_ context.Context, req verify.Request) verify.Result {
	v.requests = append(v.requests, req)
	return verify.Result{ReceiptID: req.Receipt.ReceiptID, Valid: true, Confidence: 90}
}

func (v *stubVerifier) QuickVerify(context.Context, receipt.AgentReceipt) verify.QuickResult {
	return verify.QuickResult{Valid: true, Message: "transaction confirmed on chain"}
}

type fixture struct {
	server   *Server
	handler  http.Handler
	store    *storage.MemoryStore
	verifier *stubVerifier
	gen      *stubGenerator
	signer   *attestation.KeySigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := attestation.NewKeySigner(key)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	f := &fixture{
		store:    storage.NewMemoryStore(),
		verifier: &stubVerifier{},
		gen:      &stubGenerator{},
		signer:   signer,
	}
	f.server = NewServer(Options{
		Generator:    f.gen,
		Attestations: attestation.NewService(),
		Signer:       signer,
		Store:        f.store,
		Anchorer:     ledger.NewAnchorer(ledger.NewMemoryLedger(), writerAddr),
		Verifier:     f.verifier,
		Jobs:         jobs.NewService(jobs.NewMemoryStore(), jobs.NewMemoryQueue(16), 3),
	})
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func testReceipt(t *testing.T) receipt.AgentReceipt {
	t.Helper()
	r, err := receipt.New(receipt.TransactionProof{
		Network:     "base-sepolia",
		TxHash:      "0x" + strings.Repeat("3e", 32),
		BlockNumber: 512,
		BlockHash:   "0x" + strings.Repeat("4f", 32),
		Timestamp:   "2026-10-18T09:00:00Z",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Amount:      "40.00",
		Currency:    "USDC",
	}, receipt.CommerceContext{
		Type:        receipt.CommerceProductPurchase,
		Description: "GPU hours",
		Status:      receipt.StatusPaidInFull,
	}, receipt.WithID("api-1"))
	if err != nil {
		t.Fatalf("new receipt: %v", err)
	}
	return r
}

func document(t *testing.T, r receipt.AgentReceipt) json.RawMessage {
	t.Helper()
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return doc
}

func decodeReceipt(t *testing.T, rec *httptest.ResponseRecorder) (receipt.AgentReceipt, receiptResponse) {
	t.Helper()
	var resp receiptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	r, err := receipt.ParseDocument(resp.Receipt)
	if err != nil {
		t.Fatalf("parse receipt: %v", err)
	}
	return r, resp
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem %s: %v", rec.Body.String(), err)
	}
	return p
}

func TestGenerateReceipt(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/receipts", map[string]any{
		"network": "base-sepolia",
		"txHash":  "0x" + strings.Repeat("7d", 32),
		"commerce": map[string]any{
			"type":        "service_payment",
			"description": "Code review",
			"status":      "paid_in_full",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	r, resp := decodeReceipt(t, rec)
	if r.ReceiptID != "generated-1" || r.Commerce.Description != "Code review" {
		t.Fatalf("unexpected receipt %+v", r)
	}
	want, _ := receipt.CanonicalHash(r)
	if resp.Hash != want.Hex() {
		t.Fatalf("expected hash %s, got %s", want.Hex(), resp.Hash)
	}
}

func TestAttestPinAnchorFlow(t *testing.T) {
	f := newFixture(t)
	r := testReceipt(t)

	rec := f.do(t, http.MethodPost, "/api/v1/receipts/attestations", map[string]any{
		"receipt": document(t, r),
		"role":    "seller",
		"agentId": "seller-agent",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("server signing failed %d: %s", rec.Code, rec.Body.String())
	}
	signed, _ := decodeReceipt(t, rec)
	if len(signed.Attestations) != 1 || !receipt.SameAddress(signed.Attestations[0].Signer, f.signer.Address().Hex()) {
		t.Fatalf("unexpected attestations %+v", signed.Attestations)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/receipts/attestations", map[string]any{
		"receipt": document(t, signed),
		"role":    "seller",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected duplicate attestation conflict, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/receipts/anchor", map[string]any{"receipt": document(t, signed)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unpinned anchor to be rejected, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/receipts/anchor", map[string]any{"receipt": document(t, signed), "pin": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("anchor failed %d: %s", rec.Code, rec.Body.String())
	}
	anchored, resp := decodeReceipt(t, rec)
	if anchored.ContentLocator == "" || anchored.AnchorHash == "" || anchored.AnchorTxHash == "" {
		t.Fatalf("expected anchor fields, got %+v", anchored)
	}
	if resp.Anchor == nil || resp.Anchor.Record.Writer != writerAddr {
		t.Fatalf("unexpected anchor receipt %+v", resp.Anchor)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/receipts/anchor", map[string]any{"receipt": document(t, anchored)})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected already anchored conflict, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Code != "ALREADY_ANCHORED" {
		t.Fatalf("unexpected problem %+v", p)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/anchors/api-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get anchor failed %d", rec.Code)
	}
	var record ledger.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Hash.Hex() != anchored.AnchorHash || record.Locator != anchored.ContentLocator {
		t.Fatalf("record does not match receipt: %+v", record)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/anchors?writer="+writerAddr.Hex(), nil)
	var list anchorListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.ReceiptIDs) != 1 || list.ReceiptIDs[0] != "api-1" || list.Total != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	digest := strings.TrimPrefix(anchored.ContentLocator, storage.LocatorScheme)
	rec = f.do(t, http.MethodGet, "/api/v1/documents/"+digest, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch document failed %d: %s", rec.Code, rec.Body.String())
	}
	fetched, _ := decodeReceipt(t, rec)
	if fetched.ReceiptID != "api-1" || len(fetched.Attestations) != 1 {
		t.Fatalf("unexpected pinned document %+v", fetched)
	}
}

func TestAttestRejectsForgedSignature(t *testing.T) {
	f := newFixture(t)
	r := testReceipt(t)
	other := r
	other.Commerce.Description = "something else"

	att, err := attestation.NewService().Sign(context.Background(), other, f.signer, receipt.RoleBuyer, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/receipts/attestations", map[string]any{
		"receipt":     document(t, r),
		"attestation": att,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Code != "INVALID_SIGNATURE" {
		t.Fatalf("unexpected problem %+v", p)
	}
}

func TestVerifyUsesOnChainFlag(t *testing.T) {
	f := newFixture(t)
	r := testReceipt(t)

	rec := f.do(t, http.MethodPost, "/api/v1/receipts/verify", map[string]any{
		"receipt":      document(t, r),
		"checkOnChain": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed %d: %s", rec.Code, rec.Body.String())
	}
	var result verify.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Valid || result.Confidence != 90 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.verifier.requests) != 1 || !f.verifier.requests[0].CheckOnChain {
		t.Fatalf("expected on-chain request, got %+v", f.verifier.requests)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/receipts/quick-verify", map[string]any{"receipt": document(t, r)})
	var quick verify.QuickResult
	if err := json.Unmarshal(rec.Body.Bytes(), &quick); err != nil || !quick.Valid {
		t.Fatalf("unexpected quick result %s", rec.Body.String())
	}
}

func TestRejectsMalformedDocuments(t *testing.T) {
	f := newFixture(t)
	cases := map[string]any{
		"missing receipt": map[string]any{},
		"schema violation": map[string]any{"receipt": map[string]any{
			"receiptId": "x",
			"version":   "1.0",
		}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/receipts/hash", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("unexpected content type %q", ct)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/receipts/hash", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken json, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Code != "INVALID_INPUT" || p.Detail != "malformed request body" {
		t.Fatalf("unexpected problem %+v", p)
	}
}

func TestJobsEndpoints(t *testing.T) {
	f := newFixture(t)
	r := testReceipt(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"id": "job-1", "receipt": document(t, r)})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit failed %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job failed %d", rec.Code)
	}
	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ReceiptID != "api-1" || job.Status != jobs.StatusPending {
		t.Fatalf("unexpected job %+v", job)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs?status=pending&receiptId=api-1", nil)
	var list []jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/stats", nil)
	var stats jobs.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil || stats.Pending != 1 {
		t.Fatalf("unexpected stats %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUnconfiguredComponentsReturn503(t *testing.T) {
	handler := NewServer(Options{}).Handler()
	for _, path := range []string{"/api/v1/receipts/verify", "/api/v1/receipts/pin", "/api/v1/jobs"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst rejected: %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Code != string(CodeRateLimited) || p.Detail != "too many requests" {
		t.Fatalf("unexpected problem %+v", p)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client should not be limited, got %d", rec.Code)
	}

	limiter.now = func() time.Time { return time.Now().Add(time.Hour) }
	limiter.sweep()
	if len(limiter.visitors) != 0 {
		t.Fatalf("expected stale visitors to be removed, got %d", len(limiter.visitors))
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
