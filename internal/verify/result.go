package verify

import "AgentReceipt/internal/attestation"

// Outcome is the state of an optional check.
type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeUnknown Outcome = "unknown"
)

const (
	weightExists     = 25
	weightMatches    = 25
	weightSignatures = 30
	weightOptional   = 10
	creditSkipped    = 5
)

// Checks holds the raw outcome of every check.
type Checks struct {
	TransactionExists       bool                `json:"transactionExists"`
	TransactionMatches      bool                `json:"transactionMatches"`
	SignaturesValid         bool                `json:"signaturesValid"`
	HasRequiredAttestations bool                `json:"hasRequiredAttestations"`
	Signatures              attestation.Summary `json:"signatures"`
	Anchor                  Outcome             `json:"anchor"`
	Content                 Outcome             `json:"content"`
}

// Result is the reduced verification verdict.
type Result struct {
	ReceiptID  string   `json:"receiptId"`
	Valid      bool     `json:"valid"`
	Confidence int      `json:"confidence"`
	Checks     Checks   `json:"checks"`
	Mismatches []string `json:"mismatches,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	VerifiedAt string   `json:"verifiedAt"`
}

// QuickResult is the outcome of the transaction-only fast path.
type QuickResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Score reduces check outcomes to the 0-100 confidence score. Optional
// checks that were not attempted earn partial credit.
func Score(c Checks) int {
	score := 0
	if c.TransactionExists {
		score += weightExists
	}
	if c.TransactionMatches {
		score += weightMatches
	}
	if c.SignaturesValid {
		score += weightSignatures
	}
	score += optionalScore(c.Anchor)
	score += optionalScore(c.Content)
	return score
}

// Valid reports whether the mandatory checks all passed.
func Valid(c Checks) bool {
	return c.TransactionExists && c.TransactionMatches && c.SignaturesValid
}

func optionalScore(o Outcome) int {
	switch o {
	case OutcomePassed:
		return weightOptional
	case OutcomeSkipped, "":
		return creditSkipped
	default:
		return 0
	}
}
