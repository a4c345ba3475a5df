package attestation

import (
	"fmt"

	xerrors "AgentReceipt/internal/errors"
)

// ErrInvalidSignature marks signatures that do not recover to the claimed signer.
var ErrInvalidSignature = xerrors.New(xerrors.CodeInvalidSignature, "")

func invalidInput(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf(format, args...))
}

func invalidSignature(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidSignature, fmt.Sprintf(format, args...))
}
