package receipt

import (
	"fmt"

	xerrors "AgentReceipt/internal/errors"
)

var (
	// ErrDuplicateAttestation is returned when a signer attests the same receipt twice.
	ErrDuplicateAttestation = xerrors.New(xerrors.CodeDuplicateAttestation, "signer has already attested this receipt")
	// ErrInvalidReceipt marks structural validation failures.
	ErrInvalidReceipt = xerrors.New(xerrors.CodeInvalidInput, "invalid receipt")
)

func invalidInput(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf(format, args...))
}

// DuplicateAttestation reports that signer already attested a receipt. It
// matches ErrDuplicateAttestation under errors.Is.
func DuplicateAttestation(signer string) error {
	return xerrors.New(xerrors.CodeDuplicateAttestation,
		fmt.Sprintf("signer %s has already attested this receipt", signer),
		xerrors.WithMetadata("signer", signer))
}
