// Package ledger provides the write-once anchor log for receipt hashes.
//
// Every backend enforces the same state machine per receipt id: a record is
// written exactly once and never updated or deleted. Backends differ only in
// where the records live: process memory, MySQL, Redis or an EVM contract.
package ledger
