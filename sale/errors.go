package sale

import (
	"errors"
	"fmt"
)

// The error taxonomy every operation reports from. A failed operation
// aborts with no partial effect; callers match the class with errors.Is
// to decide between retrying with corrected inputs and escalating
// off-chain.
var (
	// ErrAuthorization covers invalid signatures, replayed attestations
	// and proofs that fail against the published root.
	ErrAuthorization = errors.New("authorization error")

	// ErrPhase covers operations attempted outside their valid phase.
	ErrPhase = errors.New("phase error")

	// ErrAmount covers zero amounts, fee mismatches and refund or claim
	// amounts that contradict ledger state.
	ErrAmount = errors.New("amount error")

	// ErrConfig covers invalid initialization parameters.
	ErrConfig = errors.New("config error")

	// ErrAccess covers callers that are neither the project nor the
	// platform where one of them is required.
	ErrAccess = errors.New("access error")
)

func authzErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func phaseErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPhase, fmt.Sprintf(format, args...))
}

func amountErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAmount, fmt.Sprintf(format, args...))
}

func configErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func accessErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccess, fmt.Sprintf(format, args...))
}
