package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/verify"
)

type fakeVerifier struct {
	processed atomic.Int32
	latency   time.Duration
}

func (f *fakeVerifier) Verify(ctx context.Context, req verify.Request) verify.Result {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
		}
	}
	f.processed.Add(1)
	return verify.Result{ReceiptID: req.Receipt.ReceiptID, Valid: true, Confidence: 90}
}

func jobReceipt(t *testing.T, id string) receipt.AgentReceipt {
	t.Helper()
	r, err := receipt.New(receipt.TransactionProof{
		Network:     "base-sepolia",
		TxHash:      "0x" + strings.Repeat("ab", 32),
		BlockNumber: 10,
		BlockHash:   "0x" + strings.Repeat("cd", 32),
		Timestamp:   "2026-10-18T08:00:00Z",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Amount:      "1.00",
		Currency:    "ETH",
	}, receipt.CommerceContext{
		Type:        receipt.CommerceServicePayment,
		Description: "api credits",
		Status:      receipt.StatusPaidInFull,
	}, receipt.WithID(id))
	if err != nil {
		t.Fatalf("new receipt: %v", err)
	}
	return r
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	verifier := &fakeVerifier{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(verifier, store, queue, queue, WithWorkerCount(8))

	done := make(chan error, 1)
	go func() { done <- processor.Start(ctx) }()

	total := 100
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		job, err := service.Submit(ctx, SubmitRequest{Receipt: jobReceipt(t, fmt.Sprintf("r-%d", i))})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, job.ID)
	}

	for _, id := range ids {
		job, err := service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("wait for %s: %v", id, err)
		}
		if job.Status != StatusSucceeded || job.Result == nil || job.Result.Confidence != 90 {
			t.Fatalf("unexpected job %+v", job)
		}
	}
	if int(verifier.processed.Load()) != total {
		t.Fatalf("expected %d verifications, got %d", total, verifier.processed.Load())
	}

	stats, err := service.Stats(ctx)
	if err != nil || stats.Succeeded != total {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("processor exited: %v", err)
	}
}

func TestProcessorFailsUnparseableDocumentPermanently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	if err := store.Create(ctx, &Job{ID: "broken", ReceiptID: "r-broken", Document: []byte(`{"receiptId":`), Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}

	task := Task{JobID: "broken", ReceiptID: "r-broken"}
	processor := NewProcessor(&fakeVerifier{}, store, queue, queue)
	if err := processor.handle(ctx, task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(ctx, "broken")
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobValidation) || !job.Done() {
		t.Fatalf("expected terminal validation failure, got %+v", job)
	}
	if queue.Len() != 0 {
		t.Fatal("permanent failures must not be re-queued")
	}

	// Claiming again reports exhaustion and is skipped.
	if err := processor.handle(ctx, task); err != nil {
		t.Fatalf("second handle: %v", err)
	}
}

func TestSubmitIsIdempotentOnID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 0)
	r := jobReceipt(t, "r-idem")

	first, err := service.Submit(ctx, SubmitRequest{ID: "job-1", Receipt: r, CheckOnChain: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "job-1", Receipt: r})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || !second.CheckOnChain || second.MaxRetries != 3 {
		t.Fatalf("expected existing job, got %+v", second)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected a single publish, got %d", queue.Len())
	}
	queued := <-queue.tasks
	if queued != (Task{JobID: "job-1", ReceiptID: "r-idem", CheckOnChain: true}) {
		t.Fatalf("unexpected queued task %+v", queued)
	}

	if _, err := service.Submit(ctx, SubmitRequest{}); err == nil {
		t.Fatal("expected validation error for empty receipt")
	}

	list, err := service.List(ctx, WithReceiptID("r-idem"), WithStatuses(StatusPending))
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %v %v", list, err)
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, Task) error { return errors.New("broker down") }
func (failingProducer) Close() error                        { return nil }

func TestSubmitMarksJobFailedWhenPublishFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 2)

	_, err := service.Submit(ctx, SubmitRequest{ID: "job-x", Receipt: jobReceipt(t, "r-x")})
	if err == nil {
		t.Fatal("expected publish failure")
	}
	job, getErr := store.Get(ctx, "job-x")
	if getErr != nil || job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("unexpected job state %+v %v", job, getErr)
	}
}

func TestProcessorRejectsTaskForAnotherReceipt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 3)
	job, err := service.Submit(ctx, SubmitRequest{ID: "job-m", Receipt: jobReceipt(t, "r-m")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	verifier := &fakeVerifier{}
	processor := NewProcessor(verifier, store, queue, queue)
	if err := processor.handle(ctx, Task{JobID: job.ID, ReceiptID: "r-other"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(CodeJobValidation) {
		t.Fatalf("expected validation failure, got %+v", got)
	}
	if verifier.processed.Load() != 0 {
		t.Fatal("mismatched task must not be verified")
	}
}

// flakyStore fails the first MarkSucceeded with a retryable storage error.
type flakyStore struct {
	*MemoryStore
	failed atomic.Bool
}

func (f *flakyStore) MarkSucceeded(ctx context.Context, id string, result verify.Result) error {
	if f.failed.CompareAndSwap(false, true) {
		return xerrors.New(xerrors.CodeStorageFailure, "write timeout")
	}
	return f.MemoryStore.MarkSucceeded(ctx, id, result)
}

func TestProcessorRequeuesWithAttemptCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 3)
	if _, err := service.Submit(ctx, SubmitRequest{ID: "job-r", Receipt: jobReceipt(t, "r-r"), CheckOnChain: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	first := <-queue.tasks
	if first.Attempt != 0 {
		t.Fatalf("expected first delivery, got %+v", first)
	}

	processor := NewProcessor(&fakeVerifier{}, store, queue, queue)
	if err := processor.handle(ctx, first); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected the job to be re-queued, got %d tasks", queue.Len())
	}
	retry := <-queue.tasks
	want := Task{JobID: "job-r", ReceiptID: "r-r", CheckOnChain: true, Attempt: 1}
	if retry != want {
		t.Fatalf("expected %+v, got %+v", want, retry)
	}

	if err := processor.handle(ctx, retry); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, _ := store.Get(ctx, "job-r")
	if job.Status != StatusSucceeded || job.Attempts != 2 {
		t.Fatalf("unexpected job after retry %+v", job)
	}
}
