// Package errs defines the closed error taxonomy of §7: a small set of
// sentinel-wrapped classes checked with errors.Is/errors.As, plus a
// Fatal type that is the only error allowed to reach os.Exit.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel classes. Components wrap one of these with fmt.Errorf's %w
// so callers can classify an error with errors.Is regardless of the
// concrete message.
var (
	// ErrRPCTransient is a retryable chain-reader failure: timeout,
	// throttling, 5xx.
	ErrRPCTransient = errors.New("rpc: transient failure")

	// ErrRPCPermanent is a non-retryable chain-reader failure: invalid
	// params, or a contract revert such as rounds(e+1) not existing.
	ErrRPCPermanent = errors.New("rpc: permanent failure")

	// ErrValidation marks a structural or cross-stream validation
	// failure from the Validator (§4.4).
	ErrValidation = errors.New("validation failed")

	// ErrInconsistent marks a cross-table consistency failure (sum or
	// side law violation beyond tolerance).
	ErrInconsistent = errors.New("data inconsistent across tables")

	// ErrPersistence marks a store failure: constraint violation,
	// connection loss, transaction rollback.
	ErrPersistence = errors.New("persistence failure")

	// ErrLockUnavailable marks a lock-service failure or a lost race;
	// the epoch is skipped this cycle, not aborted.
	ErrLockUnavailable = errors.New("lock unavailable")
)

// Fatal wraps an error that must terminate the process with exit code
// 1 (initialization failure, the consecutive-failure circuit breaker,
// or unrecoverable lock-service loss). Only cmd/roundkeeper's main
// loop is permitted to act on it.
type Fatal struct {
	Reason string
	Err    error
}

func (f *Fatal) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("fatal: %s", f.Reason)
}

func (f *Fatal) Unwrap() error { return f.Err }

// NewFatal constructs a Fatal error.
func NewFatal(reason string, err error) *Fatal {
	return &Fatal{Reason: reason, Err: err}
}

// ValidationError is one enumerated reason a validation failed; the
// Validator accumulates a slice of these rather than a single message,
// per §4.4's "each violation is a distinct error code."
type ValidationError struct {
	Code    string
	Message string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Known validation error codes.
const (
	CodeNoRoundStart       = "NO_ROUND_START"
	CodeEmptySender        = "EMPTY_SENDER"
	CodeNonPositiveAmount  = "NON_POSITIVE_AMOUNT"
	CodeInvalidEpoch       = "INVALID_EPOCH"
	CodeZeroBets           = "ZERO_BETS"
	CodeSumMismatch        = "SUM_MISMATCH"
	CodeSideSumMismatch    = "SIDE_SUM_MISMATCH"
	CodeSidePositiveNoOdds = "SIDE_POSITIVE_NO_ODDS"
	CodeBetCountMismatch   = "BET_COUNT_MISMATCH"
	CodeDuplicateClaimKey  = "DUPLICATE_CLAIM_KEY"
)

// ValidationErrors joins the message text of several ValidationErrors
// for storage in an EpochError row.
func ValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	s := errs[0].Error()
	for _, e := range errs[1:] {
		s += "; " + e.Error()
	}
	return s
}
