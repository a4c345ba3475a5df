package ledger

import (
	"fmt"

	xerrors "AgentReceipt/internal/errors"
)

var (
	// ErrAlreadyAnchored is returned when a receipt id is anchored twice.
	ErrAlreadyAnchored = xerrors.New(xerrors.CodeAlreadyAnchored, "receipt already anchored")
	// ErrInvalidInput is returned for zero hashes, empty locators and ids.
	ErrInvalidInput = xerrors.New(xerrors.CodeInvalidInput, "invalid anchor request")
)

func invalidInput(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf(format, args...))
}

func alreadyAnchored(receiptID string) error {
	return xerrors.New(xerrors.CodeAlreadyAnchored,
		fmt.Sprintf("receipt %s already anchored", receiptID),
		xerrors.WithMetadata("receipt_id", receiptID))
}
