// Package attestation implements the bilateral signing protocol of agent
// receipts. A receipt is rendered as EIP-712 typed data bound to the
// AgentReceipt domain and the receipt's network, signed with a secp256k1 key
// and verified by public key recovery.
package attestation
