package attestation

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"AgentReceipt/internal/chain"
	"AgentReceipt/internal/receipt"
)

const (
	// DomainName is the EIP-712 domain name of receipt attestations.
	DomainName = "AgentReceipt"
	// DomainVersion is bumped whenever the signed message layout changes.
	DomainVersion = "1"
	// PrimaryType is the EIP-712 struct every attestation signs.
	PrimaryType = "AgentReceipt"
)

var messageTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	PrimaryType: {
		{Name: "receiptId", Type: "string"},
		{Name: "receiptHash", Type: "bytes32"},
		{Name: "transactionHash", Type: "bytes32"},
		{Name: "amount", Type: "string"},
		{Name: "commerceType", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "status", Type: "string"},
		{Name: "createdAt", Type: "string"},
	},
}

// ChainIDFunc resolves the EIP-155 chain id of a network name.
type ChainIDFunc func(network string) (uint64, bool)

// BuildSignableMessage renders r as EIP-712 typed data. The canonical hash of
// the receipt core is part of the message, so a signature covers every
// hashed field and not only the ones spelled out.
func BuildSignableMessage(r receipt.AgentReceipt, chainID ChainIDFunc) (apitypes.TypedData, error) {
	if chainID == nil {
		chainID = chain.KnownChainID
	}
	network := strings.TrimSpace(r.Transaction.Network)
	id, ok := chainID(network)
	if !ok {
		return apitypes.TypedData{}, invalidInput("network %q has no known chain id", network)
	}
	if !receipt.IsHash(r.Transaction.TxHash) {
		return apitypes.TypedData{}, invalidInput("transaction hash %q is malformed", r.Transaction.TxHash)
	}
	if _, err := time.Parse(time.RFC3339, r.CreatedAt); err != nil {
		return apitypes.TypedData{}, invalidInput("createdAt %q is not an ISO-8601 timestamp", r.CreatedAt)
	}
	hash, err := receipt.CanonicalHash(r)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	return apitypes.TypedData{
		Types:       messageTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    DomainName,
			Version: DomainVersion,
			ChainId: math.NewHexOrDecimal256(int64(id)),
		},
		Message: apitypes.TypedDataMessage{
			"receiptId":       r.ReceiptID,
			"receiptHash":     hash.Hex(),
			"transactionHash": r.Transaction.TxHash,
			"amount":          r.Transaction.Amount,
			"commerceType":    string(r.Commerce.Type),
			"description":     r.Commerce.Description,
			"status":          string(r.Commerce.Status),
			"createdAt":       r.CreatedAt,
		},
	}, nil
}

// Digest returns the 32 byte EIP-712 signing hash of typed.
func Digest(typed apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, invalidInput("encode typed data: %v", err)
	}
	return digest, nil
}
