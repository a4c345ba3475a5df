// Package chain defines the read-only view of a ledger network that receipts
// are generated from and re-verified against: transactions, settlement
// receipts and block headers. Concrete clients live in sub-packages; the
// provider registry resolves one client per configured network name.
package chain
