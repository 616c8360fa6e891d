// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAmountRequired indicates the classified request does not fix an
	// amount and none was supplied.
	ErrAmountRequired = errors.New("amount required")

	// ErrInsufficientBalance indicates the amount exceeds the spendable
	// balance. Checked at prepare and again at confirm-to-execute.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnsupportedMethod indicates the classified request type has no
	// fulfillment path.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrProviderUnavailable indicates no healthy provider candidate
	// remains after filtering.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrExecutionFailure indicates the external node call failed.
	// Terminal for the attempt; never retried automatically.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrBackupIntegrity indicates a digest mismatch on backup verify.
	ErrBackupIntegrity = errors.New("backup integrity error")

	// ErrAuthenticationRequired indicates a gated operation was invoked
	// without a fresh credential session.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrAuthenticationFailed indicates the authentication attempt itself
	// was refused.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrPinLocked indicates temporary PIN lockout after repeated failures.
	ErrPinLocked = errors.New("pin locked")

	// ErrInvalidState indicates an operation arrived in a state that does
	// not accept it.
	ErrInvalidState = errors.New("invalid state")

	// ErrSuperseded indicates in-flight work was discarded because newer
	// input arrived (latest-wins).
	ErrSuperseded = errors.New("superseded")
)
