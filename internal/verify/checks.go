package verify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/chain"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
)

// checkTransaction fetches the transaction and its settlement receipt and
// compares them with the recorded proof.
func (e *Engine) checkTransaction(ctx context.Context, r receipt.AgentReceipt, rep *report) (exists, matches bool) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			rep.fail("transaction check panicked: %v", rec)
			exists, matches = false, false
		}
	}()

	proof := r.Transaction
	if !receipt.IsHash(proof.TxHash) {
		rep.fail("transaction hash %q is malformed", proof.TxHash)
		return false, false
	}
	reader, err := e.resolver.Reader(proof.Network)
	if err != nil {
		rep.fail("no chain reader for network %q: %v", proof.Network, err)
		return false, false
	}
	tx, err := reader.GetTransaction(ctx, proof.TxHash)
	if err != nil {
		rep.fail("transaction lookup failed: %v", err)
		return false, false
	}
	if tx.Pending {
		rep.fail("transaction %s is still pending", proof.TxHash)
		return false, false
	}
	rcpt, err := reader.GetTransactionReceipt(ctx, proof.TxHash)
	if err != nil {
		rep.fail("transaction receipt lookup failed: %v", err)
		return false, false
	}

	matches = true
	if rcpt.BlockNumber != proof.BlockNumber {
		rep.mismatch("block number: receipt %d, chain %d", proof.BlockNumber, rcpt.BlockNumber)
		matches = false
	}
	if !strings.EqualFold(rcpt.BlockHash, proof.BlockHash) {
		rep.mismatch("block hash: receipt %s, chain %s", proof.BlockHash, rcpt.BlockHash)
		matches = false
	}
	if !rcpt.Succeeded() {
		rep.mismatch("transaction status %d is not success", rcpt.Status)
		matches = false
	}
	if !partiesMatch(proof, tx, rcpt) {
		if transfers := receipt.DecodeTransfers(rcpt.Logs); len(transfers) > 0 {
			rep.mismatch("parties: receipt %s -> %s, no matching native or token transfer", proof.From, proof.To)
		} else {
			if !receipt.SameAddress(proof.From, tx.From) {
				rep.mismatch("sender: receipt %s, chain %s", proof.From, tx.From)
			}
			if !receipt.SameAddress(proof.To, tx.To) {
				rep.mismatch("recipient: receipt %s, chain %s", proof.To, tx.To)
			}
		}
		matches = false
	}
	return true, matches
}

// partiesMatch accepts the transaction's own sender and recipient, or the
// parties of any ERC-20 Transfer event the transaction emitted.
func partiesMatch(proof receipt.TransactionProof, tx *chain.Transaction, rcpt *chain.TxReceipt) bool {
	if receipt.SameAddress(proof.From, tx.From) && receipt.SameAddress(proof.To, tx.To) {
		return true
	}
	for _, t := range receipt.DecodeTransfers(rcpt.Logs) {
		if receipt.SameAddress(proof.From, t.From) && receipt.SameAddress(proof.To, t.To) {
			return true
		}
	}
	return false
}

func (e *Engine) checkSignatures(r receipt.AgentReceipt, rep *report) (summary attestation.Summary, required, valid bool) {
	if len(r.Attestations) == 0 {
		rep.fail("no attestations")
		return attestation.Summary{AllValid: false, PerSigner: map[string]bool{}}, false, false
	}
	summary = e.attestations.VerifyAll(r)
	required = e.attestations.HasRequiredAttestations(r)
	if !summary.AllValid {
		for signer, ok := range summary.PerSigner {
			if !ok {
				rep.fail("invalid attestation by %s", signer)
			}
		}
	}
	if !required {
		rep.fail("missing buyer or seller attestation")
	}
	return summary, required, summary.AllValid && required
}

// checkAnchor confirms the anchoring evidence agrees with the recomputed
// canonical hash. With a contract address configured the anchoring
// transaction's calldata is decoded; otherwise the ledger is asked.
func (e *Engine) checkAnchor(ctx context.Context, r receipt.AgentReceipt, rep *report) (out Outcome) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			rep.fail("anchor check panicked: %v", rec)
			out = OutcomeUnknown
		}
	}()

	hash, err := receipt.CanonicalHash(r)
	if err != nil {
		rep.fail("canonical hash: %v", err)
		return OutcomeUnknown
	}
	if strings.TrimSpace(r.AnchorHash) != "" && common.HexToHash(r.AnchorHash) != hash {
		rep.mismatch("anchor hash %s does not match content hash %s", r.AnchorHash, hash.Hex())
		return OutcomeFailed
	}

	if e.contract != (common.Address{}) && receipt.IsHash(r.AnchorTxHash) {
		return e.checkAnchorTransaction(ctx, r, hash, rep)
	}
	if e.ledger != nil {
		ok, err := e.ledger.Verify(ctx, r.ReceiptID, hash)
		if err != nil {
			rep.fail("anchor ledger lookup failed: %v", err)
			return OutcomeUnknown
		}
		if !ok {
			rep.mismatch("ledger has no anchor of %s for receipt %s", hash.Hex(), r.ReceiptID)
			return OutcomeFailed
		}
		return OutcomePassed
	}
	rep.fail("no anchor evidence source configured")
	return OutcomeUnknown
}

func (e *Engine) checkAnchorTransaction(ctx context.Context, r receipt.AgentReceipt, hash common.Hash, rep *report) Outcome {
	reader, err := e.resolver.Reader(r.Transaction.Network)
	if err != nil {
		rep.fail("no chain reader for anchor: %v", err)
		return OutcomeUnknown
	}
	tx, err := reader.GetTransaction(ctx, r.AnchorTxHash)
	if err != nil {
		rep.fail("anchor transaction lookup failed: %v", err)
		return OutcomeUnknown
	}
	if !receipt.SameAddress(tx.To, e.contract.Hex()) {
		rep.mismatch("anchor transaction targets %s, not ledger %s", tx.To, e.contract.Hex())
		return OutcomeFailed
	}
	call, err := ledger.DecodeAnchorCall(tx.Input)
	if err != nil {
		rep.mismatch("anchor transaction calldata: %v", err)
		return OutcomeFailed
	}
	if call.ReceiptID != r.ReceiptID || call.Hash != hash {
		rep.mismatch("anchor transaction records %s/%s, expected %s/%s",
			call.ReceiptID, call.Hash.Hex(), r.ReceiptID, hash.Hex())
		return OutcomeFailed
	}
	rcpt, err := reader.GetTransactionReceipt(ctx, r.AnchorTxHash)
	if err != nil {
		rep.fail("anchor transaction receipt lookup failed: %v", err)
		return OutcomeUnknown
	}
	if !rcpt.Succeeded() {
		rep.mismatch("anchor transaction reverted")
		return OutcomeFailed
	}
	return OutcomePassed
}

func (e *Engine) checkContent(ctx context.Context, r receipt.AgentReceipt, rep *report) (out Outcome) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			rep.fail("content check panicked: %v", rec)
			out = OutcomeUnknown
		}
	}()

	ok, err := e.store.Has(ctx, r.ContentLocator)
	if err != nil {
		e.log.Debug("content lookup failed", slog.String("locator", r.ContentLocator), slog.Any("error", err))
		rep.fail("content store lookup failed: %v", err)
		return OutcomeUnknown
	}
	if !ok {
		rep.fail("content %s is not available", r.ContentLocator)
		return OutcomeFailed
	}
	return OutcomePassed
}
