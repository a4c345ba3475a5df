package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/chain"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/storage"
	"AgentReceipt/pkg/logger"
)

const defaultCheckTimeout = 10 * time.Second

// Options configures the engine's collaborators. Only Resolver is required;
// absent optional collaborators make their checks report unknown or skipped.
type Options struct {
	Resolver        chain.Resolver
	Attestations    *attestation.Service
	Ledger          ledger.Ledger
	ContractAddress common.Address
	Store           storage.Store
	CheckTimeout    time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Request selects a receipt and the optional on-chain anchor check.
type Request struct {
	Receipt      receipt.AgentReceipt
	CheckOnChain bool
}

// Engine runs verification checks. It is safe for concurrent use.
type Engine struct {
	resolver     chain.Resolver
	attestations *attestation.Service
	ledger       ledger.Ledger
	contract     common.Address
	store        storage.Store
	timeout      time.Duration
	now          func() time.Time
	log          *slog.Logger
}

// NewEngine constructs an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("verify: chain resolver is required")
	}
	e := &Engine{
		resolver:     opts.Resolver,
		attestations: opts.Attestations,
		ledger:       opts.Ledger,
		contract:     opts.ContractAddress,
		store:        opts.Store,
		timeout:      opts.CheckTimeout,
		now:          opts.Now,
		log:          opts.Logger,
	}
	if e.attestations == nil {
		e.attestations = attestation.NewService()
	}
	if e.timeout <= 0 {
		e.timeout = defaultCheckTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = logger.Named("verify")
	}
	return e, nil
}

// report collects messages from concurrently running checks.
type report struct {
	mu         sync.Mutex
	mismatches []string
	errors     []string
}

func (r *report) mismatch(format string, args ...any) {
	r.mu.Lock()
	r.mismatches = append(r.mismatches, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *report) fail(format string, args ...any) {
	r.mu.Lock()
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// Verify runs every applicable check concurrently and scores the result.
func (e *Engine) Verify(ctx context.Context, req Request) Result {
	r := req.Receipt
	var (
		rep    report
		checks Checks
	)
	checks.Anchor = OutcomeSkipped
	checks.Content = OutcomeSkipped

	// Each goroutine writes a disjoint set of fields in checks.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checks.TransactionExists, checks.TransactionMatches = e.checkTransaction(gctx, r, &rep)
		return nil
	})
	g.Go(func() error {
		checks.Signatures, checks.HasRequiredAttestations, checks.SignaturesValid = e.checkSignatures(r, &rep)
		return nil
	})
	if req.CheckOnChain && strings.TrimSpace(r.AnchorTxHash) != "" {
		g.Go(func() error {
			checks.Anchor = e.checkAnchor(gctx, r, &rep)
			return nil
		})
	}
	if strings.TrimSpace(r.ContentLocator) != "" && e.store != nil {
		g.Go(func() error {
			checks.Content = e.checkContent(gctx, r, &rep)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{
		ReceiptID:  r.ReceiptID,
		Valid:      Valid(checks),
		Confidence: Score(checks),
		Checks:     checks,
		Mismatches: rep.mismatches,
		Errors:     rep.errors,
		VerifiedAt: e.now().UTC().Format(time.RFC3339),
	}
	e.log.Info("receipt verified",
		slog.String("receipt_id", r.ReceiptID),
		slog.Bool("valid", result.Valid),
		slog.Int("confidence", result.Confidence),
		slog.String("anchor", string(checks.Anchor)),
		slog.String("content", string(checks.Content)))
	return result
}

// QuickVerify checks only that the transaction exists and matches the
// receipt. No signature cryptography is performed.
func (e *Engine) QuickVerify(ctx context.Context, r receipt.AgentReceipt) QuickResult {
	var rep report
	exists, matches := e.checkTransaction(ctx, r, &rep)
	switch {
	case !exists:
		return QuickResult{Valid: false, Message: firstOr(rep.errors, "transaction not found")}
	case !matches:
		return QuickResult{Valid: false, Message: firstOr(append(rep.mismatches, rep.errors...), "transaction does not match receipt")}
	default:
		return QuickResult{Valid: true, Message: "transaction exists and matches receipt"}
	}
}

func firstOr(msgs []string, fallback string) string {
	if len(msgs) == 0 {
		return fallback
	}
	return strings.Join(msgs, "; ")
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}
