package attestation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"AgentReceipt/internal/chain"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/pkg/logger"
)

// Summary is the outcome of verifying every attestation on a receipt.
type Summary struct {
	AllValid  bool            `json:"allValid"`
	PerSigner map[string]bool `json:"perSigner"`
}

// Option customises the service.
type Option func(*Service)

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChainIDs adds or overrides network to chain id mappings used in the
// signing domain. Unlisted networks fall back to the well known table.
func WithChainIDs(ids map[string]uint64) Option {
	return func(s *Service) {
		if len(ids) == 0 {
			return
		}
		prev := s.chainID
		copied := make(map[string]uint64, len(ids))
		for name, id := range ids {
			copied[strings.ToLower(strings.TrimSpace(name))] = id
		}
		s.chainID = func(network string) (uint64, bool) {
			if id, ok := copied[strings.ToLower(strings.TrimSpace(network))]; ok && id != 0 {
				return id, true
			}
			return prev(network)
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service signs and verifies receipt attestations. It holds no mutable state
// after construction and is safe for concurrent use.
type Service struct {
	now     func() time.Time
	chainID ChainIDFunc
	log     *slog.Logger
}

// NewService constructs an attestation service.
func NewService(opts ...Option) *Service {
	s := &Service{now: time.Now, chainID: chain.KnownChainID, log: logger.Named("attestation")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// BuildSignableMessage renders r as the EIP-712 message counterparties sign.
func (s *Service) BuildSignableMessage(r receipt.AgentReceipt) (apitypes.TypedData, error) {
	return BuildSignableMessage(r, s.chainID)
}

// Sign produces an attestation of r by signer in the given role.
func (s *Service) Sign(ctx context.Context, r receipt.AgentReceipt, signer Signer, role receipt.Role, agentID string) (receipt.Attestation, error) {
	if err := ctx.Err(); err != nil {
		return receipt.Attestation{}, err
	}
	if signer == nil {
		return receipt.Attestation{}, invalidInput("signer is nil")
	}
	if !role.Valid() {
		return receipt.Attestation{}, invalidInput("unknown role %q", role)
	}
	typed, err := s.BuildSignableMessage(r)
	if err != nil {
		return receipt.Attestation{}, err
	}
	sig, err := signer.SignTypedData(typed)
	if err != nil {
		return receipt.Attestation{}, err
	}
	att := receipt.Attestation{
		Signer:    signer.Address().Hex(),
		AgentID:   strings.TrimSpace(agentID),
		Signature: hexutil.Encode(sig),
		SignedAt:  s.now().UTC().Format(time.RFC3339),
		Role:      role,
	}
	logger.Audit().Info("receipt attested",
		slog.String("receipt_id", r.ReceiptID),
		slog.String("signer", att.Signer),
		slog.String("role", string(role)))
	return att, nil
}

// AddAttestation appends att to r after checking it is well formed and that
// its signer has not attested before. r itself is never modified.
func (s *Service) AddAttestation(r receipt.AgentReceipt, att receipt.Attestation) (receipt.AgentReceipt, error) {
	if !att.Role.Valid() {
		return receipt.AgentReceipt{}, invalidInput("unknown role %q", att.Role)
	}
	return r.WithAttestation(att)
}

// SignAndAttach signs r and returns the receipt with the new attestation.
func (s *Service) SignAndAttach(ctx context.Context, r receipt.AgentReceipt, signer Signer, role receipt.Role, agentID string) (receipt.AgentReceipt, error) {
	if signer != nil {
		if _, exists := r.AttestationBy(signer.Address().Hex()); exists {
			return receipt.AgentReceipt{}, receipt.DuplicateAttestation(signer.Address().Hex())
		}
	}
	att, err := s.Sign(ctx, r, signer, role, agentID)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	return s.AddAttestation(r, att)
}

// Verify reports whether att is a valid signature over r by its claimed
// signer. Malformed input verifies as false.
func (s *Service) Verify(r receipt.AgentReceipt, att receipt.Attestation) bool {
	return s.check(r, att) == nil
}

// VerifyAll verifies every attestation on r independently.
func (s *Service) VerifyAll(r receipt.AgentReceipt) Summary {
	summary := Summary{AllValid: true, PerSigner: make(map[string]bool, len(r.Attestations))}
	for _, att := range r.Attestations {
		ok := s.Verify(r, att)
		summary.PerSigner[att.Signer] = ok
		if !ok {
			summary.AllValid = false
		}
	}
	return summary
}

// HasRequiredAttestations reports whether both a buyer and a seller attested.
func (s *Service) HasRequiredAttestations(r receipt.AgentReceipt) bool {
	return r.HasRole(receipt.RoleBuyer) && r.HasRole(receipt.RoleSeller)
}

func (s *Service) check(r receipt.AgentReceipt, att receipt.Attestation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = invalidSignature("verification panicked: %v", rec)
		}
		if err != nil {
			s.log.Debug("attestation rejected",
				slog.String("receipt_id", r.ReceiptID),
				slog.String("signer", att.Signer),
				slog.Any("error", err))
		}
	}()

	sig, err := DecodeSignature(att.Signature)
	if err != nil {
		return err
	}
	typed, err := s.BuildSignableMessage(r)
	if err != nil {
		return err
	}
	recovered, err := RecoverSigner(typed, sig)
	if err != nil {
		return err
	}
	if !receipt.SameAddress(recovered.Hex(), att.Signer) {
		return invalidSignature("recovered signer %s does not match claimed %s", recovered.Hex(), att.Signer)
	}
	return nil
}
