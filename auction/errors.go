package auction

import (
	"errors"
	"fmt"
)

// Failure reasons surfaced by auction operations. Every precondition
// violation is detected before any state change or token call, and aborts
// the whole call with no effect.
var (
	// ErrNotFound indicates an unknown auction instance.
	ErrNotFound = errors.New("auction not found")
	// ErrAlreadyInitialized indicates a repeated initialize of an instance.
	ErrAlreadyInitialized = errors.New("auction already initialized")
	// ErrWrongPhase indicates a phase-gated call made outside its phase.
	ErrWrongPhase = errors.New("wrong phase")
	// ErrAlreadyCommitted indicates a second commit from the same bidder.
	ErrAlreadyCommitted = errors.New("bidder already committed")
	// ErrInvalidCommitment indicates the reserved all-zero commitment hash.
	ErrInvalidCommitment = errors.New("invalid commitment")
	// ErrNoCommitment indicates a reveal from a bidder who never committed.
	ErrNoCommitment = errors.New("no commitment")
	// ErrAlreadyRevealed indicates a reveal against an opened commitment.
	ErrAlreadyRevealed = errors.New("bid already revealed")
	// ErrCommitmentMismatch indicates a reveal that does not hash to the
	// stored commitment.
	ErrCommitmentMismatch = errors.New("commitment mismatch")
	// ErrZeroBid indicates a revealed amount of zero.
	ErrZeroBid = errors.New("zero bid")
	// ErrUnauthorized indicates a caller lacking authority for the call.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyFinalized indicates a second finalize.
	ErrAlreadyFinalized = errors.New("auction already finalized")
	// ErrCancelled indicates a call that is invalid on a cancelled auction.
	ErrCancelled = errors.New("auction cancelled")
	// ErrNothingToRefund indicates a refund claim with no matching escrow.
	ErrNothingToRefund = errors.New("nothing to refund")
	// ErrTransferFailed indicates a failed token pull or push; the
	// triggering call leaves all balances and flags untouched.
	ErrTransferFailed = errors.New("transfer failed")
)

// WrongPhaseError reports the expected and actual phase of a call gated by
// the phase clock. It matches ErrWrongPhase with errors.Is.
type WrongPhaseError struct {
	Expected Phase
	Actual   Phase
}

func (e *WrongPhaseError) Error() string {
	return fmt.Sprintf("wrong phase: expected %s, got %s", e.Expected, e.Actual)
}

// Unwrap makes the error match ErrWrongPhase.
func (e *WrongPhaseError) Unwrap() error {
	return ErrWrongPhase
}
