package storage

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentReceipt/internal/errors"
)

// LocatorScheme prefixes every content locator.
const LocatorScheme = "keccak://"

// ErrNotFound is returned when no content is stored under a locator.
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "content not found")

// Store persists immutable blobs under content-derived locators.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Has(ctx context.Context, locator string) (bool, error)
}

// Locator derives the content locator of data.
func Locator(data []byte) string {
	return LocatorScheme + crypto.Keccak256Hash(data).Hex()[2:]
}

// ParseLocator returns the hex digest embedded in a locator.
func ParseLocator(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if !strings.HasPrefix(locator, LocatorScheme) {
		return "", xerrors.New(xerrors.CodeInvalidInput, "unsupported content locator "+locator)
	}
	digest := strings.ToLower(strings.TrimPrefix(locator, LocatorScheme))
	if len(digest) != 64 || strings.Trim(digest, "0123456789abcdef") != "" {
		return "", xerrors.New(xerrors.CodeInvalidInput, "malformed content locator "+locator)
	}
	return digest, nil
}

// VerifyContent checks that data is the content locator names.
func VerifyContent(locator string, data []byte) error {
	if Locator(data) != strings.ToLower(strings.TrimSpace(locator)) {
		return xerrors.New(xerrors.CodeMismatch, "stored content does not match its locator",
			xerrors.WithMetadata("locator", locator))
	}
	return nil
}
