// Package receipt defines the AgentReceipt proof-of-commerce document: the
// transaction facts, the commerce context both parties agreed to, the
// counterparty attestations and the anchoring fields, together with the
// canonical hash that signatures and ledger anchors are bound to.
package receipt
