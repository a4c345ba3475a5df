// Package verify reconstructs a trust judgment for a receipt from independent
// evidence: the underlying transaction, the attestations, the anchor ledger
// and the content store.
//
// Individual checks never fail the whole run. A collaborator that errors or
// times out degrades its check to false or unknown and adds a message to
// Result.Errors.
package verify
