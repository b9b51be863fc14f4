package escrow

import (
	"errors"
	"fmt"
)

// Business errors returned by registry operations. Callers branch on these
// with errors.Is; none of them are retried internally because a failed
// precondition fails identically until caller state changes.
var (
	// ErrNotFound is returned when the escrow id is unknown.
	ErrNotFound = errors.New("escrow: not found")
	// ErrAlreadyExists is returned when creating with a taken id.
	ErrAlreadyExists = errors.New("escrow: already exists")
	// ErrInvalidAmount is returned when the escrow amount is not positive.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrAmountMismatch is returned when the funding payment does not equal
	// the escrow amount exactly.
	ErrAmountMismatch = errors.New("escrow: payment does not match escrow amount")
	// ErrInvalidState is returned when the operation is not valid for the
	// record's current status.
	ErrInvalidState = errors.New("escrow: invalid state for operation")
	// ErrUnauthorized is returned when the caller lacks the required party
	// relationship or capability.
	ErrUnauthorized = errors.New("escrow: unauthorized")
)

// ErrStorage marks infrastructure failures from the underlying store. It is a
// distinct category so callers never mistake a storage outage for a
// business-rule violation.
var ErrStorage = errors.New("escrow: storage failure")

// IsBusinessError reports whether err is one of the deterministic
// precondition failures, as opposed to an infrastructure fault.
func IsBusinessError(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrAlreadyExists, ErrInvalidAmount, ErrAmountMismatch, ErrInvalidState, ErrUnauthorized} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func storageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
