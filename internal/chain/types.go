package chain

import (
	"context"
	"math/big"

	xerrors "AgentReceipt/internal/errors"
)

// ErrNotFound is returned when a transaction, receipt or block is unknown.
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "chain object not found")

// Transaction is the subset of a transaction the receipt protocol uses.
type Transaction struct {
	Hash    string
	From    string
	To      string
	Value   *big.Int
	Input   []byte
	Pending bool
}

// Log is an event emitted while executing a transaction.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// TxReceipt is the settlement record of a mined transaction.
type TxReceipt struct {
	BlockNumber uint64
	BlockHash   string
	Status      uint64
	GasUsed     uint64
	From        string
	To          string
	Logs        []Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *TxReceipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// Block is the subset of a block header the receipt protocol uses.
type Block struct {
	Number    uint64
	Hash      string
	Timestamp uint64
}

// BlockRef selects a block either by number or by hash. Hash wins when both
// are set.
type BlockRef struct {
	Number *big.Int
	Hash   string
}

// ByNumber references a block by height.
func ByNumber(n uint64) BlockRef {
	return BlockRef{Number: new(big.Int).SetUint64(n)}
}

// ByHash references a block by hash.
func ByHash(hash string) BlockRef {
	return BlockRef{Hash: hash}
}

// Reader is the chain-data collaborator consumed by the generator and the
// verification engine. Unknown objects are reported with ErrNotFound.
type Reader interface {
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*TxReceipt, error)
	GetBlock(ctx context.Context, ref BlockRef) (*Block, error)
}

// Resolver returns the reader serving a named network.
type Resolver interface {
	Reader(network string) (Reader, error)
}
