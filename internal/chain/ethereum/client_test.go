package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"AgentReceipt/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

func TestClientReadsTransferFromSimulatedChain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		from: {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))},
	})
	t.Cleanup(func() { _ = backend.Close() })

	client := NewBackendClient("simulated", backend.Client())
	t.Cleanup(client.Close)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}

	head, err := backend.Client().HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("latest header: %v", err)
	}
	gasTipCap := big.NewInt(1_000_000_000)
	gasFeeCap := new(big.Int).Set(gasTipCap)
	if head.BaseFee != nil {
		gasFeeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), gasTipCap)
	}
	value := big.NewInt(1_500_000_000_000_000_000)
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       21000,
		To:        &to,
		Value:     value,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if err := backend.Client().SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send tx: %v", err)
	}
	backend.Commit()

	gotTx, err := client.GetTransaction(ctx, signed.Hash().Hex())
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !strings.EqualFold(gotTx.From, from.Hex()) || !strings.EqualFold(gotTx.To, to.Hex()) {
		t.Fatalf("unexpected parties %s -> %s", gotTx.From, gotTx.To)
	}
	if gotTx.Value.Cmp(value) != 0 {
		t.Fatalf("unexpected value %s", gotTx.Value)
	}

	rcpt, err := client.GetTransactionReceipt(ctx, signed.Hash().Hex())
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if !rcpt.Succeeded() {
		t.Fatalf("expected successful transfer, status %d", rcpt.Status)
	}
	if rcpt.BlockNumber == 0 {
		t.Fatal("expected mined block number")
	}

	byNumber, err := client.GetBlock(ctx, chain.ByNumber(rcpt.BlockNumber))
	if err != nil {
		t.Fatalf("get block by number: %v", err)
	}
	if byNumber.Hash != rcpt.BlockHash {
		t.Fatalf("block hash mismatch: %s vs %s", byNumber.Hash, rcpt.BlockHash)
	}
	byHash, err := client.GetBlock(ctx, chain.ByHash(rcpt.BlockHash))
	if err != nil {
		t.Fatalf("get block by hash: %v", err)
	}
	if byHash.Number != rcpt.BlockNumber || byHash.Timestamp == 0 {
		t.Fatalf("unexpected block %+v", byHash)
	}
}

func TestClientReportsUnknownTransaction(t *testing.T) {
	t.Parallel()

	backend := simulated.NewBackend(coretypes.GenesisAlloc{})
	t.Cleanup(func() { _ = backend.Close() })
	client := NewBackendClient("simulated", backend.Client())

	missing := common.HexToHash("0x1234").Hex()
	_, err := client.GetTransaction(context.Background(), missing)
	if !errors.Is(err, chain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := client.GetTransaction(context.Background(), "0xnothex"); err == nil {
		t.Fatal("expected malformed hash to be rejected")
	}
}
