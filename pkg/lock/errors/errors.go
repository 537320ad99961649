// Package errors provides error types and error codes for the lock client.
// This is a leaf package with no internal dependencies so that the lock
// package, the remote gateway and the diagnostic API can all share it.
//
// Import graph: errors <- lock <- remote, loopback, api
package errors

import (
	goerrors "errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrIllegalMonitorState indicates unlock, wait or notify was called by a
	// thread that does not hold the lock at the required level.
	ErrIllegalMonitorState ErrorCode = iota + 1

	// ErrLockUpgradeNotSupported indicates a thread holding READ asked for a
	// write level on the same lock.
	ErrLockUpgradeNotSupported

	// ErrNotRunning indicates the manager has been shut down.
	ErrNotRunning

	// ErrRejoinInProgress indicates the client is rejoining the cluster and
	// the operation may be retried once it completes.
	ErrRejoinInProgress

	// ErrInterrupted indicates a blocking operation was cancelled by its caller.
	ErrInterrupted

	// ErrTimeout indicates a bounded wait for the server expired.
	ErrTimeout

	// ErrGarbageLock indicates the per-lock state was collected while in use.
	// Never surfaced to applications: the manager retries with fresh state.
	ErrGarbageLock

	// ErrIllegalStateTransition indicates an event was applied to a
	// greediness state that does not define it. Always a defect.
	ErrIllegalStateTransition

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument

	// ErrFlushFailed indicates the transaction layer could not flush the
	// operations protected by a lock.
	ErrFlushFailed
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrIllegalMonitorState:
		return "IllegalMonitorState"
	case ErrLockUpgradeNotSupported:
		return "LockUpgradeNotSupported"
	case ErrNotRunning:
		return "NotRunning"
	case ErrRejoinInProgress:
		return "RejoinInProgress"
	case ErrInterrupted:
		return "Interrupted"
	case ErrTimeout:
		return "Timeout"
	case ErrGarbageLock:
		return "GarbageLock"
	case ErrIllegalStateTransition:
		return "IllegalStateTransition"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrFlushFailed:
		return "FlushFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// LockError represents a lock client error with an error code.
type LockError struct {
	Code    ErrorCode
	Message string
	LockID  string

	// Cause is the underlying error, if any (e.g. context.Canceled).
	Cause error
}

// Error implements the error interface.
func (e *LockError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.LockID != "" {
		msg = fmt.Sprintf("%s (lock: %s)", msg, e.LockID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *LockError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LockError with the same code, so callers
// can match with errors.Is(err, &LockError{Code: ErrTimeout}).
func (e *LockError) Is(target error) bool {
	t, ok := target.(*LockError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ============================================================================
// Generic Factory Functions
// ============================================================================

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *LockError {
	return &LockError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewNotRunningError creates a NotRunning error.
func NewNotRunningError() *LockError {
	return &LockError{
		Code:    ErrNotRunning,
		Message: "lock manager is shut down",
	}
}

// NewRejoinInProgressError creates a RejoinInProgress error.
func NewRejoinInProgressError() *LockError {
	return &LockError{
		Code:    ErrRejoinInProgress,
		Message: "client rejoin in progress",
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

func codeOf(err error) (ErrorCode, bool) {
	var lockErr *LockError
	if goerrors.As(err, &lockErr) {
		return lockErr.Code, true
	}
	return 0, false
}

// IsIllegalMonitorStateError returns true if the caller did not hold the lock.
func IsIllegalMonitorStateError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrIllegalMonitorState
}

// IsUpgradeNotSupportedError returns true if the error is a refused READ to WRITE upgrade.
func IsUpgradeNotSupportedError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrLockUpgradeNotSupported
}

// IsNotRunningError returns true if the manager is shut down.
func IsNotRunningError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrNotRunning
}

// IsRejoinInProgressError returns true if the operation raced a rejoin.
func IsRejoinInProgressError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrRejoinInProgress
}

// IsInterruptedError returns true if a blocking operation was cancelled.
func IsInterruptedError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrInterrupted
}

// IsTimeoutError returns true if the error is a timeout.
func IsTimeoutError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrTimeout
}

// IsGarbageLockError returns true if the per-lock state was collected.
func IsGarbageLockError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrGarbageLock
}

// IsIllegalStateTransitionError returns true if the error is a greediness defect.
func IsIllegalStateTransitionError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrIllegalStateTransition
}

// IsRetryable returns true for errors a caller may retry after a delay.
func IsRetryable(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	return code == ErrRejoinInProgress || code == ErrTimeout
}
