package lock

import (
	"fmt"

	"github.com/marmos91/dittolock/pkg/lock/errors"
)

// ============================================================================
// Lock Error Factory Functions
//
// These functions create lock-specific errors using the errors package.
// ============================================================================

// NewIllegalMonitorStateError creates the error returned when a thread
// releases, waits on or notifies a lock it does not hold.
func NewIllegalMonitorStateError(id LockID, thread ThreadID, level LockLevel) *errors.LockError {
	return &errors.LockError{
		Code:    errors.ErrIllegalMonitorState,
		Message: fmt.Sprintf("%s does not hold %s", thread, level),
		LockID:  string(id),
	}
}

// NewUpgradeNotSupportedError creates the error for a READ to WRITE upgrade.
func NewUpgradeNotSupportedError(id LockID, thread ThreadID) *errors.LockError {
	return &errors.LockError{
		Code:    errors.ErrLockUpgradeNotSupported,
		Message: fmt.Sprintf("%s holds READ and requested a write level", thread),
		LockID:  string(id),
	}
}

// NewInterruptedError wraps the cancellation cause of a blocking call.
func NewInterruptedError(id LockID, cause error) *errors.LockError {
	return &errors.LockError{
		Code:    errors.ErrInterrupted,
		Message: "blocking lock operation interrupted",
		LockID:  string(id),
		Cause:   cause,
	}
}

// NewFlushFailedError wraps a transaction flush failure.
func NewFlushFailedError(id LockID, cause error) *errors.LockError {
	return &errors.LockError{
		Code:    errors.ErrFlushFailed,
		Message: "flush failed",
		LockID:  string(id),
		Cause:   cause,
	}
}

// newGarbageLockError is the internal retry signal for a collected coordinator.
func newGarbageLockError(id LockID) *errors.LockError {
	return &errors.LockError{
		Code:    errors.ErrGarbageLock,
		Message: "lock state was garbage collected",
		LockID:  string(id),
	}
}

// NewIllegalStateTransitionError describes a greediness defect. It is
// raised with panic, never returned.
func NewIllegalStateTransitionError(from Greediness, event string) *errors.LockError {
	return &errors.LockError{
		Code:    errors.ErrIllegalStateTransition,
		Message: fmt.Sprintf("event %s is not defined in state %s", event, from),
	}
}
