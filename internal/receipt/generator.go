package receipt

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentReceipt/internal/chain"
	xerrors "AgentReceipt/internal/errors"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DefinitionSource exposes the configured metadata of a network.
type DefinitionSource interface {
	Definition(network string) (chain.Definition, bool)
}

// GenerateRequest describes the receipt to build from an on-chain transfer.
type GenerateRequest struct {
	Network  string
	TxHash   string
	Currency string
	Commerce CommerceContext
}

// Generator builds receipts from transactions read through a chain resolver.
type Generator struct {
	resolver    chain.Resolver
	definitions DefinitionSource
	opts        []Option
}

// NewGenerator constructs a generator. definitions may be nil, in which case
// every network is treated as a native 18 decimal ETH chain.
func NewGenerator(resolver chain.Resolver, definitions DefinitionSource, opts ...Option) *Generator {
	return &Generator{resolver: resolver, definitions: definitions, opts: opts}
}

// Generate reads the transaction, its receipt and block, derives the
// TransactionProof and assembles a new unattested receipt.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (AgentReceipt, error) {
	if g == nil || g.resolver == nil {
		return AgentReceipt{}, xerrors.New(xerrors.CodeInitializationFailure, "receipt generator is not configured")
	}
	if !IsHash(strings.TrimSpace(req.TxHash)) {
		return AgentReceipt{}, invalidInput("txHash %q is not a 32 byte hex hash", req.TxHash)
	}
	if err := ValidateCommerce(req.Commerce); err != nil {
		return AgentReceipt{}, err
	}
	proof, err := g.Proof(ctx, req.Network, req.TxHash, req.Currency)
	if err != nil {
		return AgentReceipt{}, err
	}
	return New(proof, req.Commerce, g.opts...)
}

// Proof fetches the chain facts behind txHash. When currency names a token
// configured for the network the amount comes from the token's Transfer log,
// otherwise the native value of the transaction is used.
func (g *Generator) Proof(ctx context.Context, network, txHash, currency string) (TransactionProof, error) {
	reader, err := g.resolver.Reader(network)
	if err != nil {
		return TransactionProof{}, err
	}
	def := g.definition(network)

	tx, err := reader.GetTransaction(ctx, txHash)
	if err != nil {
		return TransactionProof{}, err
	}
	if tx.Pending {
		return TransactionProof{}, xerrors.New(xerrors.CodeNotFound, "transaction is still pending",
			xerrors.WithMetadata("txHash", txHash))
	}
	rcpt, err := reader.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return TransactionProof{}, err
	}
	if !rcpt.Succeeded() {
		return TransactionProof{}, xerrors.New(xerrors.CodeMismatch, "transaction reverted on chain",
			xerrors.WithMetadata("txHash", txHash))
	}
	block, err := reader.GetBlock(ctx, chain.ByHash(rcpt.BlockHash))
	if err != nil {
		return TransactionProof{}, err
	}

	proof := TransactionProof{
		Network:     networkName(network, g.resolver),
		TxHash:      tx.Hash,
		BlockNumber: rcpt.BlockNumber,
		BlockHash:   rcpt.BlockHash,
		Timestamp:   time.Unix(int64(block.Timestamp), 0).UTC().Format(time.RFC3339),
		From:        tx.From,
		To:          tx.To,
		GasUsed:     strconv.FormatUint(rcpt.GasUsed, 10),
	}

	currency = strings.TrimSpace(currency)
	if token, ok := def.TokenBySymbol(currency); ok && currency != "" {
		from, to, value, err := tokenTransfer(rcpt.Logs, token.Address)
		if err != nil {
			return TransactionProof{}, err
		}
		proof.From = from
		proof.To = to
		proof.Amount = FormatUnits(value, token.Decimals)
		proof.Currency = token.Symbol
	} else {
		value := tx.Value
		if value == nil {
			value = new(big.Int)
		}
		proof.Amount = FormatUnits(value, def.NativeDecimals)
		proof.Currency = def.NativeCurrency
	}

	if err := ValidateTransaction(proof); err != nil {
		return TransactionProof{}, err
	}
	return proof, nil
}

func (g *Generator) definition(network string) chain.Definition {
	def := chain.Definition{NativeCurrency: "ETH", NativeDecimals: 18}
	if g.definitions == nil {
		return def
	}
	if configured, ok := g.definitions.Definition(network); ok {
		if configured.NativeCurrency != "" {
			def.NativeCurrency = configured.NativeCurrency
		}
		if configured.NativeDecimals > 0 {
			def.NativeDecimals = configured.NativeDecimals
		}
		def.Tokens = configured.Tokens
	}
	return def
}

func networkName(network string, resolver chain.Resolver) string {
	if name := strings.TrimSpace(network); name != "" {
		return name
	}
	if named, ok := resolver.(interface{ DefaultChain() string }); ok {
		return named.DefaultChain()
	}
	return network
}

// TokenTransfer is a decoded ERC-20 Transfer event.
type TokenTransfer struct {
	Token string
	From  string
	To    string
	Value *big.Int
}

// DecodeTransfers returns the ERC-20 Transfer events found in logs, in order.
func DecodeTransfers(logs []chain.Log) []TokenTransfer {
	var out []TokenTransfer
	for _, lg := range logs {
		if len(lg.Topics) != 3 || common.HexToHash(lg.Topics[0]) != transferTopic {
			continue
		}
		out = append(out, TokenTransfer{
			Token: common.HexToAddress(lg.Address).Hex(),
			From:  common.BytesToAddress(common.HexToHash(lg.Topics[1]).Bytes()).Hex(),
			To:    common.BytesToAddress(common.HexToHash(lg.Topics[2]).Bytes()).Hex(),
			Value: new(big.Int).SetBytes(lg.Data),
		})
	}
	return out
}

// tokenTransfer finds the first Transfer event emitted by token.
func tokenTransfer(logs []chain.Log, token string) (string, string, *big.Int, error) {
	for _, t := range DecodeTransfers(logs) {
		if SameAddress(t.Token, token) {
			return t.From, t.To, t.Value, nil
		}
	}
	return "", "", nil, xerrors.New(xerrors.CodeNotFound, "no token transfer found in transaction logs",
		xerrors.WithMetadata("token", token))
}

// FormatUnits renders an integer amount of base units as a decimal string
// with the given number of decimals, trimming trailing zeros but keeping at
// least two fractional digits ("1.50", "100.00").
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		value = new(big.Int)
	}
	var coeff apd.BigInt
	coeff.SetMathBigInt(value)
	d := apd.NewWithBigInt(&coeff, -decimals)

	var reduced apd.Decimal
	reduced.Reduce(d)
	if reduced.Exponent > -2 {
		var quantized apd.Decimal
		ctx := apd.BaseContext.WithPrecision(uint32(len(value.String())) + 4)
		if _, err := ctx.Quantize(&quantized, &reduced, -2); err == nil {
			return quantized.Text('f')
		}
	}
	return reduced.Text('f')
}
