package receipt

import (
	"strings"
)

// Version is stamped on every receipt this package creates.
const Version = "1.0"

// CommerceType classifies what the payment was for.
type CommerceType string

const (
	CommerceServicePayment  CommerceType = "service_payment"
	CommerceProductPurchase CommerceType = "product_purchase"
	CommerceSubscription    CommerceType = "subscription"
	CommerceRefund          CommerceType = "refund"
	CommerceAdvance         CommerceType = "advance"
	CommerceMilestone       CommerceType = "milestone"
	CommerceBounty          CommerceType = "bounty"
	CommerceSplit           CommerceType = "split"
	CommerceEscrowRelease   CommerceType = "escrow_release"
	CommerceOther           CommerceType = "other"
)

// Valid reports whether t is one of the known commerce types.
func (t CommerceType) Valid() bool {
	switch t {
	case CommerceServicePayment, CommerceProductPurchase, CommerceSubscription, CommerceRefund,
		CommerceAdvance, CommerceMilestone, CommerceBounty, CommerceSplit, CommerceEscrowRelease, CommerceOther:
		return true
	default:
		return false
	}
}

// PaymentStatus describes how far the commercial obligation has been settled.
type PaymentStatus string

const (
	StatusPaidInFull PaymentStatus = "paid_in_full"
	StatusPartial    PaymentStatus = "partial"
	StatusAdvance    PaymentStatus = "advance"
	StatusRefund     PaymentStatus = "refund"
	StatusDisputed   PaymentStatus = "disputed"
	StatusCancelled  PaymentStatus = "cancelled"
)

// Valid reports whether s is one of the known payment statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPaidInFull, StatusPartial, StatusAdvance, StatusRefund, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Role is the capacity in which a party attests a receipt.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleWitness Role = "witness"
	RoleArbiter Role = "arbiter"
)

// Valid reports whether r is one of the known attestation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleWitness, RoleArbiter:
		return true
	default:
		return false
	}
}

// TransactionProof holds the immutable facts of the underlying transfer.
type TransactionProof struct {
	Network     string `json:"network"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Timestamp   string `json:"timestamp"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	GasUsed     string `json:"gasUsed,omitempty"`
}

// Terms are the optional structured terms of the commercial agreement.
type Terms struct {
	Period           string            `json:"period,omitempty"`
	SLA              string            `json:"sla,omitempty"`
	Deliverables     []string          `json:"deliverables,omitempty"`
	RefundConditions string            `json:"refundConditions,omitempty"`
	Custom           map[string]string `json:"customTerms,omitempty"`
}

// CommerceContext is the semantic layer both counterparties sign.
type CommerceContext struct {
	Type        CommerceType      `json:"type"`
	Description string            `json:"description"`
	OrderRef    string            `json:"orderRef,omitempty"`
	InvoiceID   string            `json:"invoiceId,omitempty"`
	Terms       *Terms            `json:"terms,omitempty"`
	Status      PaymentStatus     `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Attestation is one counterparty's signed acknowledgment of a receipt.
type Attestation struct {
	Signer    string `json:"signer"`
	AgentID   string `json:"agentId,omitempty"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signedAt"`
	Role      Role   `json:"role"`
}

// AgentReceipt is the proof-of-commerce aggregate.
//
// Values are treated as immutable: every With* method returns a copy that
// shares no mutable state with its receiver.
type AgentReceipt struct {
	ReceiptID      string           `json:"receiptId"`
	Version        string           `json:"version"`
	CreatedAt      string           `json:"createdAt"`
	Transaction    TransactionProof `json:"transaction"`
	Commerce       CommerceContext  `json:"commerce"`
	Attestations   []Attestation    `json:"attestations"`
	ContentLocator string           `json:"contentLocator,omitempty"`
	AnchorHash     string           `json:"anchorHash,omitempty"`
	AnchorTxHash   string           `json:"anchorTxHash,omitempty"`
}

// Clone returns a deep copy of r.
func (r AgentReceipt) Clone() AgentReceipt {
	out := r
	out.Commerce = r.Commerce.clone()
	if r.Attestations != nil {
		out.Attestations = make([]Attestation, len(r.Attestations))
		copy(out.Attestations, r.Attestations)
	}
	return out
}

// AttestationBy returns the attestation made by signer, comparing addresses
// case-insensitively.
func (r AgentReceipt) AttestationBy(signer string) (Attestation, bool) {
	for _, att := range r.Attestations {
		if SameAddress(att.Signer, signer) {
			return att, true
		}
	}
	return Attestation{}, false
}

// WithAttestation returns a copy of r with att appended. It fails with
// ErrDuplicateAttestation when att.Signer has already attested; r is left
// untouched either way.
func (r AgentReceipt) WithAttestation(att Attestation) (AgentReceipt, error) {
	if strings.TrimSpace(att.Signer) == "" {
		return AgentReceipt{}, invalidInput("attestation signer is empty")
	}
	if _, exists := r.AttestationBy(att.Signer); exists {
		return AgentReceipt{}, DuplicateAttestation(att.Signer)
	}
	out := r.Clone()
	out.Attestations = append(out.Attestations, att)
	return out, nil
}

// WithContentLocator returns a copy of r pointing at its pinned document.
func (r AgentReceipt) WithContentLocator(locator string) AgentReceipt {
	out := r.Clone()
	out.ContentLocator = locator
	return out
}

// WithAnchor returns a copy of r carrying the anchored hash and the id of the
// transaction that wrote it.
func (r AgentReceipt) WithAnchor(hash, txHash string) AgentReceipt {
	out := r.Clone()
	out.AnchorHash = hash
	out.AnchorTxHash = txHash
	return out
}

// HasRole reports whether any attestation was made with role.
func (r AgentReceipt) HasRole(role Role) bool {
	for _, att := range r.Attestations {
		if att.Role == role {
			return true
		}
	}
	return false
}

func (c CommerceContext) clone() CommerceContext {
	out := c
	out.Metadata = cloneStrings(c.Metadata)
	if c.Terms != nil {
		terms := *c.Terms
		terms.Custom = cloneStrings(c.Terms.Custom)
		if c.Terms.Deliverables != nil {
			terms.Deliverables = append([]string(nil), c.Terms.Deliverables...)
		}
		out.Terms = &terms
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SameAddress compares two hex addresses ignoring case and surrounding space.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
