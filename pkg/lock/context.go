package lock

import (
	"fmt"
	"time"
)

// ContextKind tags an exchange context.
type ContextKind int

const (
	// ContextHold reports a lock held by a thread.
	ContextHold ContextKind = iota
	// ContextPending reports a thread blocked in lock().
	ContextPending
	// ContextTryPending reports a thread blocked in a timed tryLock().
	ContextTryPending
	// ContextWaiter reports a thread blocked in wait().
	ContextWaiter
	// ContextGreedy reports the greedy grant held by the whole client.
	ContextGreedy
)

// String returns the kind name.
func (k ContextKind) String() string {
	switch k {
	case ContextHold:
		return "hold"
	case ContextPending:
		return "pending"
	case ContextTryPending:
		return "try_pending"
	case ContextWaiter:
		return "waiter"
	case ContextGreedy:
		return "greedy"
	default:
		return fmt.Sprintf("ContextKind(%d)", int(k))
	}
}

// ExchangeContext is one entry of the lock state reported to the server in
// recall commits and reconnect handshakes, and returned by query responses.
type ExchangeContext struct {
	Kind     ContextKind     `json:"kind"`
	LockID   LockID          `json:"lock_id"`
	ClientID ClientID        `json:"client_id,omitempty"`
	ThreadID ThreadID        `json:"thread_id"`
	Level    ServerLockLevel `json:"level"`

	// Timeout is the remaining try-lock or wait timeout (zero = none).
	Timeout time.Duration `json:"timeout,omitempty"`
}

// String returns a compact representation for logs.
func (c ExchangeContext) String() string {
	if c.Timeout > 0 {
		return fmt.Sprintf("%s(%s %s %s %s)", c.Kind, c.LockID, c.ThreadID, c.Level, c.Timeout)
	}
	return fmt.Sprintf("%s(%s %s %s)", c.Kind, c.LockID, c.ThreadID, c.Level)
}

// CountContexts counts contexts of a given kind.
func CountContexts(contexts []ExchangeContext, kind ContextKind) int {
	n := 0
	for _, c := range contexts {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
