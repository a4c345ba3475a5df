package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentReceipt/internal/chain"
	xerrors "AgentReceipt/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of go-ethereum client methods the reader needs. Both
// *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*coretypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*coretypes.Header, error)
}

// Client implements chain.Reader for EVM compatible networks.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   Backend

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "连接以太坊节点失败")
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// NewBackendClient wraps an already connected backend, typically the
// go-ethereum simulated backend in tests.
func NewBackendClient(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend, notes: "in-process backend"}
}

// Name returns the network name the client was registered under.
func (c *Client) Name() string {
	return c.name
}

// ContractBackend exposes the backend for contract bindings such as the
// on-chain anchor ledger.
func (c *Client) ContractBackend() Backend {
	return c.backend
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID returns the EIP-155 chain id, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	if c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// GetTransaction fetches a transaction and recovers its sender.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	txHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	if c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	tx, pending, err := c.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, c.wrap(err, "查询交易失败")
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "恢复交易发送方失败")
	}

	out := &chain.Transaction{
		Hash:    tx.Hash().Hex(),
		From:    sender.Hex(),
		Value:   new(big.Int).Set(tx.Value()),
		Input:   append([]byte(nil), tx.Data()...),
		Pending: pending,
	}
	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}
	return out, nil
}

// GetTransactionReceipt fetches the settlement receipt of a mined transaction.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash string) (*chain.TxReceipt, error) {
	txHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	if c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	rcpt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, c.wrap(err, "查询交易回执失败")
	}
	tx, err := c.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}

	out := &chain.TxReceipt{
		BlockHash: rcpt.BlockHash.Hex(),
		Status:    rcpt.Status,
		GasUsed:   rcpt.GasUsed,
		From:      tx.From,
		To:        tx.To,
		Logs:      make([]chain.Log, 0, len(rcpt.Logs)),
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	if out.To == "" && rcpt.ContractAddress != (common.Address{}) {
		out.To = rcpt.ContractAddress.Hex()
	}
	for _, lg := range rcpt.Logs {
		if lg == nil {
			continue
		}
		topics := make([]string, len(lg.Topics))
		for i, topic := range lg.Topics {
			topics[i] = topic.Hex()
		}
		out.Logs = append(out.Logs, chain.Log{
			Address: lg.Address.Hex(),
			Topics:  topics,
			Data:    append([]byte(nil), lg.Data...),
		})
	}
	return out, nil
}

// GetBlock fetches a block header by hash or number.
func (c *Client) GetBlock(ctx context.Context, ref chain.BlockRef) (*chain.Block, error) {
	if c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	var (
		header *coretypes.Header
		err    error
	)
	if strings.TrimSpace(ref.Hash) != "" {
		blockHash, parseErr := parseHash(ref.Hash)
		if parseErr != nil {
			return nil, parseErr
		}
		header, err = c.backend.HeaderByHash(ctx, blockHash)
	} else {
		header, err = c.backend.HeaderByNumber(ctx, ref.Number)
	}
	if err != nil {
		return nil, c.wrap(err, "获取区块信息失败")
	}
	return &chain.Block{
		Number:    header.Number.Uint64(),
		Hash:      header.Hash().Hex(),
		Timestamp: header.Time,
	}, nil
}

func (c *Client) wrap(err error, message string) error {
	if errors.Is(err, gethcore.NotFound) {
		return xerrors.Wrap(xerrors.CodeNotFound, err, message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeChainFailure, err, fmt.Sprintf("%s (%s)", message, c.name))
}

func parseHash(hash string) (common.Hash, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(hash))
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf("malformed hash %q", hash))
	}
	return common.BytesToHash(raw), nil
}

var _ chain.Reader = (*Client)(nil)
