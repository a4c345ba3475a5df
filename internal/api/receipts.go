package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/observability/metrics"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/storage"
	"AgentReceipt/internal/verify"
)

type generateRequest struct {
	Network  string                  `json:"network"`
	TxHash   string                  `json:"txHash"`
	Currency string                  `json:"currency"`
	Commerce receipt.CommerceContext `json:"commerce"`
}

type receiptEnvelope struct {
	Receipt json.RawMessage `json:"receipt"`
}

type attestRequest struct {
	Receipt     json.RawMessage      `json:"receipt"`
	Attestation *receipt.Attestation `json:"attestation,omitempty"`
	Role        receipt.Role         `json:"role,omitempty"`
	AgentID     string               `json:"agentId,omitempty"`
}

type anchorRequest struct {
	Receipt json.RawMessage `json:"receipt"`
	Pin     bool            `json:"pin"`
}

type verifyRequest struct {
	Receipt      json.RawMessage `json:"receipt"`
	CheckOnChain *bool           `json:"checkOnChain,omitempty"`
}

type receiptResponse struct {
	Receipt json.RawMessage `json:"receipt"`
	Hash    string          `json:"hash,omitempty"`
	Anchor  *ledger.Receipt `json:"anchor,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Generator == nil {
		writeError(w, r, unavailable("receipt generator"))
		return
	}
	var req generateRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.opts.Generator.Generate(r.Context(), receipt.GenerateRequest{
		Network:  req.Network,
		TxHash:   req.TxHash,
		Currency: req.Currency,
		Commerce: req.Commerce,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.log.Info("收据已生成", slog.String("receipt_id", out.ReceiptID), slog.String("tx_hash", out.Transaction.TxHash))
	s.writeReceipt(w, r, http.StatusCreated, out, nil)
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.receiptFromBody(w, r)
	if !ok {
		return
	}
	hash, err := receipt.CanonicalHash(rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receiptId": rc.ReceiptID, "hash": hash.Hex()})
}

func (s *Server) handleSignable(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.receiptFromBody(w, r)
	if !ok {
		return
	}
	typed, err := s.opts.Attestations.BuildSignableMessage(rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, typed)
}

// handleAttest 追加客户端提交的签名，或在未提交签名时由服务端签署。
func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := parseReceipt(req.Receipt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var out receipt.AgentReceipt
	var role receipt.Role
	if req.Attestation != nil {
		att := *req.Attestation
		if !s.opts.Attestations.Verify(rc, att) {
			writeError(w, r, xerrors.New(xerrors.CodeInvalidSignature, "attestation signature does not match the receipt",
				xerrors.WithMetadata("signer", att.Signer)))
			return
		}
		out, err = s.opts.Attestations.AddAttestation(rc, att)
		role = att.Role
	} else {
		if s.opts.Signer == nil {
			writeError(w, r, unavailable("server side signer"))
			return
		}
		out, err = s.opts.Attestations.SignAndAttach(r.Context(), rc, s.opts.Signer, req.Role, req.AgentID)
		role = req.Role
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.ObserveAttestation(string(role))
	s.writeReceipt(w, r, http.StatusOK, out, nil)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, r, unavailable("content store"))
		return
	}
	rc, ok := s.receiptFromBody(w, r)
	if !ok {
		return
	}
	out, err := storage.Pin(r.Context(), s.opts.Store, rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReceipt(w, r, http.StatusOK, out, nil)
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	if s.opts.Anchorer == nil {
		writeError(w, r, unavailable("anchor ledger"))
		return
	}
	var req anchorRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := parseReceipt(req.Receipt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Pin && strings.TrimSpace(rc.ContentLocator) == "" {
		if s.opts.Store == nil {
			writeError(w, r, unavailable("content store"))
			return
		}
		if rc, err = storage.Pin(r.Context(), s.opts.Store, rc); err != nil {
			writeError(w, r, err)
			return
		}
	}

	out, anchored, err := s.opts.Anchorer.Anchor(r.Context(), rc)
	switch {
	case err == nil:
		metrics.ObserveAnchor("anchored")
	case xerrors.HasCode(err, xerrors.CodeAlreadyAnchored):
		metrics.ObserveAnchor("already_anchored")
	default:
		metrics.ObserveAnchor("failed")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReceipt(w, r, http.StatusOK, out, &anchored)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.opts.Verifier == nil {
		writeError(w, r, unavailable("verification engine"))
		return
	}
	var req verifyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := parseReceipt(req.Receipt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	onChain := s.opts.OnChainDefault
	if req.CheckOnChain != nil {
		onChain = *req.CheckOnChain
	}

	start := time.Now()
	result := s.opts.Verifier.Verify(r.Context(), verify.Request{Receipt: rc, CheckOnChain: onChain})
	metrics.ObserveVerification("api", result.Valid, result.Confidence, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuickVerify(w http.ResponseWriter, r *http.Request) {
	if s.opts.Verifier == nil {
		writeError(w, r, unavailable("verification engine"))
		return
	}
	rc, ok := s.receiptFromBody(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Verifier.QuickVerify(r.Context(), rc))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, r, unavailable("content store"))
		return
	}
	locator := storage.LocatorScheme + r.PathValue("digest")
	if _, err := storage.ParseLocator(locator); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := storage.Fetch(r.Context(), s.opts.Store, locator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReceipt(w, r, http.StatusOK, rc, nil)
}

func (s *Server) receiptFromBody(w http.ResponseWriter, r *http.Request) (receipt.AgentReceipt, bool) {
	var env receiptEnvelope
	if err := s.decode(w, r, &env); err != nil {
		writeError(w, r, err)
		return receipt.AgentReceipt{}, false
	}
	rc, err := parseReceipt(env.Receipt)
	if err != nil {
		writeError(w, r, err)
		return receipt.AgentReceipt{}, false
	}
	return rc, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return xerrors.Wrap(xerrors.CodeInvalidInput, err, "request body too large")
		}
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "malformed request body")
	}
	return nil
}

func (s *Server) writeReceipt(w http.ResponseWriter, r *http.Request, status int, rc receipt.AgentReceipt, anchored *ledger.Receipt) {
	doc, err := receipt.MarshalDocument(rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := receiptResponse{Receipt: doc, Anchor: anchored}
	if hash, err := receipt.CanonicalHash(rc); err == nil {
		resp.Hash = hash.Hex()
	}
	writeJSON(w, status, resp)
}

func parseReceipt(raw json.RawMessage) (receipt.AgentReceipt, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return receipt.AgentReceipt{}, xerrors.New(xerrors.CodeInvalidInput, "receipt is required")
	}
	return receipt.ParseDocumentStrict(raw)
}

func unavailable(component string) error {
	return xerrors.New(xerrors.CodeInitializationFailure, component+" is not configured")
}
