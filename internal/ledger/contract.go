package ledger

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"AgentReceipt/deploy/contracts"
	xerrors "AgentReceipt/internal/errors"
)

// ContractABI is the interface of the ReceiptAnchor contract.
const ContractABI = `[
  {"type":"function","name":"anchorReceipt","stateMutability":"nonpayable",
   "inputs":[{"name":"receiptId","type":"string"},{"name":"receiptHash","type":"bytes32"},{"name":"locator","type":"string"},{"name":"originalTxId","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"verifyReceipt","stateMutability":"view",
   "inputs":[{"name":"receiptId","type":"string"},{"name":"receiptHash","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getAnchor","stateMutability":"view",
   "inputs":[{"name":"receiptId","type":"string"}],
   "outputs":[{"name":"receiptHash","type":"bytes32"},{"name":"locator","type":"string"},{"name":"originalTxId","type":"string"},{"name":"writer","type":"address"},{"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"exists","stateMutability":"view",
   "inputs":[{"name":"receiptId","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"count","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"listByWriter","stateMutability":"view",
   "inputs":[{"name":"writer","type":"address"}],
   "outputs":[{"name":"","type":"string[]"}]},
  {"type":"event","name":"ReceiptAnchored","anonymous":false,
   "inputs":[{"name":"receiptId","type":"string","indexed":true},{"name":"receiptHash","type":"bytes32","indexed":false},{"name":"locator","type":"string","indexed":false},{"name":"originalTxId","type":"string","indexed":false},{"name":"writer","type":"address","indexed":true},{"name":"timestamp","type":"uint256","indexed":false}]}
]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid contract abi: %v", err))
	}
	return parsed
}()

// ABI returns the parsed contract interface.
func ABI() abi.ABI {
	return parsedABI
}

// AnchorCall is the decoded calldata of an anchorReceipt transaction.
type AnchorCall struct {
	ReceiptID    string
	Hash         common.Hash
	Locator      string
	OriginalTxID string
}

// DecodeAnchorCall decodes anchorReceipt calldata.
func DecodeAnchorCall(input []byte) (AnchorCall, error) {
	method, ok := parsedABI.Methods["anchorReceipt"]
	if !ok {
		return AnchorCall{}, invalidInput("anchorReceipt method missing from abi")
	}
	if len(input) < 4 || !bytes.Equal(input[:4], method.ID) {
		return AnchorCall{}, invalidInput("calldata is not an anchorReceipt call")
	}
	values, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return AnchorCall{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, "decode anchorReceipt calldata")
	}
	if len(values) != 4 {
		return AnchorCall{}, invalidInput("unexpected anchorReceipt argument count %d", len(values))
	}
	id, _ := values[0].(string)
	hash, _ := values[1].([32]byte)
	locator, _ := values[2].(string)
	original, _ := values[3].(string)
	return AnchorCall{ReceiptID: id, Hash: common.Hash(hash), Locator: locator, OriginalTxID: original}, nil
}

// EncodeAnchorCall packs anchorReceipt calldata.
func EncodeAnchorCall(call AnchorCall) ([]byte, error) {
	data, err := parsedABI.Pack("anchorReceipt", call.ReceiptID, [32]byte(call.Hash), call.Locator, call.OriginalTxID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "encode anchorReceipt calldata")
	}
	return data, nil
}

// ContractBackend is what the contract ledger needs from a node connection.
type ContractBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// ContractLedger reads and writes anchors through the ReceiptAnchor contract
// (deploy/contracts). The contract reverts writes to existing records, which
// makes anchoring atomic.
type ContractLedger struct {
	address  common.Address
	backend  ContractBackend
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	settings settings
}

// NewContractLedger binds the contract at address. auth may be nil for a
// read-only ledger.
func NewContractLedger(address common.Address, backend ContractBackend, auth *bind.TransactOpts, opts ...Option) (*ContractLedger, error) {
	if address == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置锚定合约地址")
	}
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链后端")
	}
	s := defaultSettings("ledger.contract")
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &ContractLedger{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		auth:     auth,
		settings: s,
	}, nil
}

// DeployContractLedger deploys a fresh ReceiptAnchor contract from auth and
// binds a ledger to it once the deployment is mined.
func DeployContractLedger(ctx context.Context, backend ContractBackend, auth *bind.TransactOpts, opts ...Option) (*ContractLedger, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链后端")
	}
	if auth == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "部署锚定合约需要签名密钥")
	}
	deployOpts := *auth
	deployOpts.Context = ctx
	address, tx, _, err := bind.DeployContract(&deployOpts, parsedABI, contracts.ReceiptAnchorBytecode(), backend)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "发送合约部署交易失败")
	}
	l, err := NewContractLedger(address, backend, auth, opts...)
	if err != nil {
		return nil, err
	}
	mined, err := l.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if mined.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(xerrors.CodeChainFailure, "锚定合约部署失败",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}
	l.settings.log.Info("锚定合约已部署", slog.String("address", address.Hex()), slog.String("tx_hash", tx.Hash().Hex()))
	return l, nil
}

// Address returns the bound contract address.
func (l *ContractLedger) Address() common.Address {
	return l.address
}

// Anchor sends an anchorReceipt transaction and waits for it to be mined.
func (l *ContractLedger) Anchor(ctx context.Context, req AnchorRequest) (Receipt, error) {
	if err := validateRequest(req, false); err != nil {
		return Receipt{}, err
	}
	if l.auth == nil {
		return Receipt{}, xerrors.New(xerrors.CodeInitializationFailure, "锚定合约以只读方式打开")
	}
	id := strings.TrimSpace(req.ReceiptID)
	exists, err := l.Exists(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if exists {
		return Receipt{}, alreadyAnchored(id)
	}

	opts := *l.auth
	opts.Context = ctx
	tx, err := l.contract.Transact(&opts, "anchorReceipt", id, [32]byte(req.Hash), req.Locator, req.OriginalTxID)
	if err != nil {
		// Gas estimation reverts once a concurrent writer's anchor is mined.
		if again, _ := l.Exists(ctx, id); again {
			return Receipt{}, alreadyAnchored(id)
		}
		return Receipt{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "发送锚定交易失败")
	}
	mined, err := l.waitMined(ctx, tx.Hash())
	if err != nil {
		return Receipt{}, err
	}
	if mined.Status != coretypes.ReceiptStatusSuccessful {
		if again, _ := l.Exists(ctx, id); again {
			return Receipt{}, alreadyAnchored(id)
		}
		return Receipt{}, xerrors.New(xerrors.CodeChainFailure, "锚定交易执行失败",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}

	rec := Record{
		ReceiptID:    id,
		Hash:         req.Hash,
		Locator:      req.Locator,
		OriginalTxID: req.OriginalTxID,
		Writer:       l.auth.From,
	}
	for _, lg := range mined.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != parsedABI.Events[EventName].ID {
			continue
		}
		fields := make(map[string]any)
		if err := l.contract.UnpackLogIntoMap(fields, EventName, *lg); err != nil {
			continue
		}
		if ts, ok := fields["timestamp"].(*big.Int); ok {
			rec.Timestamp = ts.Uint64()
		}
		if writer, ok := fields["writer"].(common.Address); ok {
			rec.Writer = writer
		}
	}
	if rec.Timestamp == 0 {
		if stored, err := l.Get(ctx, id); err == nil && stored.Exists() {
			rec = stored
		}
	}

	out := Receipt{TxID: tx.Hash().Hex(), Record: rec}
	l.settings.emit(ctx, out)
	return out, nil
}

func (l *ContractLedger) waitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(l.settings.pollInterval)
	defer ticker.Stop()
	for {
		rcpt, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil && rcpt != nil {
			return rcpt, nil
		}
		if err != nil && !stdErrors.Is(err, gethcore.NotFound) {
			return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询锚定交易回执失败")
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待锚定交易上链超时")
		case <-ticker.C:
		}
	}
}

// Verify calls verifyReceipt.
func (l *ContractLedger) Verify(ctx context.Context, receiptID string, hash common.Hash) (bool, error) {
	var out []any
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "verifyReceipt", strings.TrimSpace(receiptID), [32]byte(hash)); err != nil {
		return false, xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 verifyReceipt 失败")
	}
	return firstBool(out), nil
}

// Get calls getAnchor. Unknown ids come back as a zero Record.
func (l *ContractLedger) Get(ctx context.Context, receiptID string) (Record, error) {
	id := strings.TrimSpace(receiptID)
	var out []any
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAnchor", id); err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 getAnchor 失败")
	}
	if len(out) != 5 {
		return Record{}, xerrors.New(xerrors.CodeChainFailure, fmt.Sprintf("getAnchor 返回了 %d 个值", len(out)))
	}
	hash, _ := out[0].([32]byte)
	locator, _ := out[1].(string)
	original, _ := out[2].(string)
	writer, _ := out[3].(common.Address)
	ts, _ := out[4].(*big.Int)
	rec := Record{
		Hash:         common.Hash(hash),
		Locator:      locator,
		OriginalTxID: original,
		Writer:       writer,
	}
	if ts != nil {
		rec.Timestamp = ts.Uint64()
	}
	if rec.Exists() {
		rec.ReceiptID = id
	}
	return rec, nil
}

// Exists calls exists.
func (l *ContractLedger) Exists(ctx context.Context, receiptID string) (bool, error) {
	var out []any
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "exists", strings.TrimSpace(receiptID)); err != nil {
		return false, xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 exists 失败")
	}
	return firstBool(out), nil
}

// Count calls count.
func (l *ContractLedger) Count(ctx context.Context) (uint64, error) {
	var out []any
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "count"); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 count 失败")
	}
	if len(out) == 1 {
		if n, ok := out[0].(*big.Int); ok {
			return n.Uint64(), nil
		}
	}
	return 0, xerrors.New(xerrors.CodeChainFailure, "count 返回值格式错误")
}

// ListByWriter calls listByWriter; the contract performs the two-pass scan.
func (l *ContractLedger) ListByWriter(ctx context.Context, writer common.Address) ([]string, error) {
	var out []any
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "listByWriter", writer); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 listByWriter 失败")
	}
	if len(out) == 1 {
		if ids, ok := out[0].([]string); ok {
			return ids, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeChainFailure, "listByWriter 返回值格式错误")
}

func firstBool(out []any) bool {
	if len(out) != 1 {
		return false
	}
	v, _ := out[0].(bool)
	return v
}

var _ Ledger = (*ContractLedger)(nil)
