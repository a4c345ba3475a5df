package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"AgentReceipt/internal/api"
	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/storage"
	"AgentReceipt/sdk/go/agentreceipt"
)

func main() {
	ledgerKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}
	server := api.NewServer(api.Options{
		Store:    storage.NewMemoryStore(),
		Anchorer: ledger.NewAnchorer(ledger.NewMemoryLedger(), crypto.PubkeyToAddress(ledgerKey.PublicKey)),
	})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := agentreceipt.NewClient(srv.URL, srv.Client())
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := receipt.New(receipt.TransactionProof{
		Network:     "base-sepolia",
		TxHash:      "0x" + strings.Repeat("a1", 32),
		BlockNumber: 1200,
		BlockHash:   "0x" + strings.Repeat("b2", 32),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Amount:      "25.00",
		Currency:    "USDC",
	}, receipt.CommerceContext{
		Type:        receipt.CommerceServicePayment,
		Description: "Dataset labelling, batch 7",
		Status:      receipt.StatusPaidInFull,
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, role := range []receipt.Role{receipt.RoleBuyer, receipt.RoleSeller} {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}
		signer, err := attestation.NewKeySigner(key)
		if err != nil {
			log.Fatal(err)
		}
		if r, err = client.Attest(ctx, r, signer, role, string(role)+"-agent"); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s attested as %s\n", role, signer.Address().Hex())
	}

	anchored, err := client.Anchor(ctx, r, true)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("receipt %s pinned at %s\n", anchored.Receipt.ReceiptID, anchored.Receipt.ContentLocator)
	fmt.Printf("anchored hash %s in write %s\n", anchored.Hash, anchored.Anchor.TxID)
}
