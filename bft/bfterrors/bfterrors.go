// Package bfterrors enumerates the recoverable error taxonomy of
// spec §7. All of them are expected operating conditions -- an
// unknown validator, a stale input, an internal invariant bubbled up
// from the round state machine -- never a panic. Callers wrap a
// sentinel with github.com/pkg/errors so errors.Cause(err) recovers
// the sentinel for comparison while the message keeps height/round/
// address context, the way the teacher wraps backend failures.
package bfterrors

import "github.com/pkg/errors"

// Sentinels. Compare with errors.Is or errors.Cause.
var (
	// ErrUnknownValidator: a vote or proposal came from an address
	// not present in the current ValidatorSet.
	ErrUnknownValidator = errors.New("unknown validator")

	// ErrProposerMismatch: a proposal arrived from a validator other
	// than the current round's proposer.
	ErrProposerMismatch = errors.New("proposal from non-proposer")

	// ErrHeightMismatch: an input referenced a height other than the
	// driver's current height.
	ErrHeightMismatch = errors.New("height mismatch")

	// ErrRoundMismatch: a round-state-machine input could not be
	// reconciled with any round the driver is tracking.
	ErrRoundMismatch = errors.New("round mismatch")

	// ErrDriverProcess: an internal invariant was violated while
	// processing an input. The host should treat this as fatal for
	// the height, though the process itself survives.
	ErrDriverProcess = errors.New("driver invariant violation")
)

// UnknownValidator wraps ErrUnknownValidator with the offending address.
func UnknownValidator(addr interface{}) error {
	return errors.Wrapf(ErrUnknownValidator, "address %v", addr)
}

// ProposerMismatch wraps ErrProposerMismatch with height/round/address context.
func ProposerMismatch(height, round, got, want interface{}) error {
	return errors.Wrapf(ErrProposerMismatch, "height=%v round=%v proposal from=%v expected proposer=%v", height, round, got, want)
}

// HeightMismatch wraps ErrHeightMismatch with the expected vs. received height.
func HeightMismatch(current, got interface{}) error {
	return errors.Wrapf(ErrHeightMismatch, "current height=%v input height=%v", current, got)
}

// RoundMismatch wraps ErrRoundMismatch with the round that could not be reconciled.
func RoundMismatch(round interface{}) error {
	return errors.Wrapf(ErrRoundMismatch, "round=%v", round)
}

// DriverProcess wraps ErrDriverProcess around an inner invariant-violation cause.
// The cause is kept in the message; errors.Cause returns ErrDriverProcess.
func DriverProcess(cause error) error {
	return errors.Wrapf(ErrDriverProcess, "%v", cause)
}
