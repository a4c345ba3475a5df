package receipt

import (
	stdErrors "errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
	"github.com/ethereum/go-ethereum/common"
)

var hash32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsHash reports whether s is a 0x-prefixed 32 byte hex string.
func IsHash(s string) bool {
	return hash32Pattern.MatchString(s)
}

// ParseAmount parses a non-negative decimal amount string such as "100.00".
func ParseAmount(amount string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, invalidInput("amount %q is not a decimal number", amount)
	}
	if d.Negative || d.Form != apd.Finite {
		return nil, invalidInput("amount %q must be a finite non-negative number", amount)
	}
	return d, nil
}

// Validate checks the structural invariants of a receipt. It reports every
// violation it finds, joined into a single INVALID_INPUT error.
func Validate(r AgentReceipt) error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, invalidInput(format, args...))
	}

	if strings.TrimSpace(r.ReceiptID) == "" {
		add("receiptId is empty")
	}
	if strings.TrimSpace(r.Version) == "" {
		add("version is empty")
	}
	if _, err := time.Parse(time.RFC3339, r.CreatedAt); err != nil {
		add("createdAt %q is not an ISO-8601 timestamp", r.CreatedAt)
	}
	if err := ValidateTransaction(r.Transaction); err != nil {
		problems = append(problems, err)
	}
	if err := ValidateCommerce(r.Commerce); err != nil {
		problems = append(problems, err)
	}
	if err := checkUTF8(r); err != nil {
		problems = append(problems, err)
	}

	seen := make(map[string]struct{}, len(r.Attestations))
	for i, att := range r.Attestations {
		if !common.IsHexAddress(att.Signer) {
			add("attestation %d: signer %q is not an address", i, att.Signer)
		}
		if !att.Role.Valid() {
			add("attestation %d: unknown role %q", i, att.Role)
		}
		key := strings.ToLower(strings.TrimSpace(att.Signer))
		if _, dup := seen[key]; dup {
			problems = append(problems, DuplicateAttestation(att.Signer))
		}
		seen[key] = struct{}{}
	}
	if r.AnchorHash != "" && !IsHash(r.AnchorHash) {
		add("anchorHash %q is not a 32 byte hex hash", r.AnchorHash)
	}
	return stdErrors.Join(problems...)
}

// ValidateTransaction checks the transaction proof fields.
func ValidateTransaction(tx TransactionProof) error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, invalidInput(format, args...))
	}
	if strings.TrimSpace(tx.Network) == "" {
		add("transaction.network is empty")
	}
	if !IsHash(tx.TxHash) {
		add("transaction.txHash %q is not a 32 byte hex hash", tx.TxHash)
	}
	if !IsHash(tx.BlockHash) {
		add("transaction.blockHash %q is not a 32 byte hex hash", tx.BlockHash)
	}
	if _, err := time.Parse(time.RFC3339, tx.Timestamp); err != nil {
		add("transaction.timestamp %q is not an ISO-8601 timestamp", tx.Timestamp)
	}
	if !common.IsHexAddress(tx.From) {
		add("transaction.from %q is not an address", tx.From)
	}
	if !common.IsHexAddress(tx.To) {
		add("transaction.to %q is not an address", tx.To)
	}
	if _, err := ParseAmount(tx.Amount); err != nil {
		problems = append(problems, err)
	}
	if strings.TrimSpace(tx.Currency) == "" {
		add("transaction.currency is empty")
	}
	return stdErrors.Join(problems...)
}

// ValidateCommerce checks the commerce context enumerations.
func ValidateCommerce(c CommerceContext) error {
	var problems []error
	if !c.Type.Valid() {
		problems = append(problems, invalidInput("commerce.type %q is not supported", c.Type))
	}
	if !c.Status.Valid() {
		problems = append(problems, invalidInput("commerce.status %q is not supported", c.Status))
	}
	return stdErrors.Join(problems...)
}

// checkUTF8 rejects hashed text that is not valid UTF-8. encoding/json
// rewrites such bytes to U+FFFD, which would let distinct receipts share a
// canonical hash.
func checkUTF8(r AgentReceipt) error {
	type field struct{ name, value string }
	tx, c := r.Transaction, r.Commerce
	fields := []field{
		{"receiptId", r.ReceiptID}, {"version", r.Version},
		{"transaction.network", tx.Network}, {"transaction.amount", tx.Amount},
		{"transaction.currency", tx.Currency}, {"transaction.gasUsed", tx.GasUsed},
		{"transaction.timestamp", tx.Timestamp},
		{"commerce.description", c.Description}, {"commerce.orderRef", c.OrderRef},
		{"commerce.invoiceId", c.InvoiceID},
	}
	if c.Terms != nil {
		fields = append(fields,
			field{"commerce.terms.period", c.Terms.Period},
			field{"commerce.terms.sla", c.Terms.SLA},
			field{"commerce.terms.refundConditions", c.Terms.RefundConditions})
		for _, d := range c.Terms.Deliverables {
			fields = append(fields, field{"commerce.terms.deliverables", d})
		}
		for k, v := range c.Terms.Custom {
			fields = append(fields, field{"commerce.terms.customTerms", k}, field{"commerce.terms.customTerms." + k, v})
		}
	}
	for k, v := range c.Metadata {
		fields = append(fields, field{"commerce.metadata", k}, field{"commerce.metadata." + k, v})
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return invalidInput("%s is not valid UTF-8", f.name)
		}
	}
	return nil
}
