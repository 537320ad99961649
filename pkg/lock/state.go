package lock

import (
	"time"
)

// ============================================================================
// Lock State Nodes
// ============================================================================

// nodeHandle is the stable identity of a node inside a stateQueue.
type nodeHandle uint64

// nodeKind tags the role of a queue node.
type nodeKind uint8

const (
	kindHold nodeKind = iota
	kindPending
	kindWaiter
)

func (k nodeKind) String() string {
	switch k {
	case kindHold:
		return "hold"
	case kindPending:
		return "pending"
	case kindWaiter:
		return "waiter"
	default:
		return "unknown"
	}
}

// heldLevel is one hold saved by a waiting thread.
type heldLevel struct {
	owner ThreadID
	level LockLevel
}

// stateNode is one entry of a lock's state queue.
//
// Pending and waiter nodes are parked on wake, a channel with a buffer of one:
// unparking never blocks and a wake delivered before the owner parks is
// not lost. Every field is guarded by the owning clientLock's mutex.
type stateNode struct {
	handle nodeHandle
	kind   nodeKind
	owner  ThreadID
	level  LockLevel

	wake chan struct{}

	// abortErr is set when the node was torn down by a rejoin or shutdown.
	abortErr error

	// Pending acquire state. deadline is zero for untimed acquires.
	try       bool
	deadline  time.Time
	delegated bool
	awarded   bool
	refused   bool

	// Waiter state. saved is innermost-first; reacquire holds the pending
	// nodes spliced into the queue when the waiter was notified.
	saved         []heldLevel
	reacquire     []*stateNode
	notified      bool
	serverManaged bool
	waitDeadline  time.Time
}

func newHold(owner ThreadID, level LockLevel) *stateNode {
	return &stateNode{kind: kindHold, owner: owner, level: level}
}

func newPending(owner ThreadID, level LockLevel) *stateNode {
	return &stateNode{
		kind:  kindPending,
		owner: owner,
		level: level,
		wake:  make(chan struct{}, 1),
	}
}

func newTryPending(owner ThreadID, level LockLevel, timeout time.Duration) *stateNode {
	n := newPending(owner, level)
	n.try = true
	if timeout > 0 {
		n.deadline = time.Now().Add(timeout)
	}
	return n
}

func newWaiter(owner ThreadID, saved []heldLevel, timeout time.Duration) *stateNode {
	w := &stateNode{
		kind:  kindWaiter,
		owner: owner,
		level: LevelWrite,
		wake:  make(chan struct{}, 1),
		saved: saved,
	}
	if timeout > 0 {
		w.waitDeadline = time.Now().Add(timeout)
	}
	return w
}

// unpark wakes the goroutine parked on the node, if any.
func (n *stateNode) unpark() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// conflictsWith reports whether a hold by n excludes owner from level.
func (n *stateNode) conflictsWith(owner ThreadID, level LockLevel) bool {
	if n.kind != kindHold || n.owner == owner {
		return false
	}
	return level.IsWrite() || n.level.IsWrite()
}

// covers reports whether a hold by n lets its owner take level reentrantly.
func (n *stateNode) covers(level LockLevel) bool {
	if n.kind != kindHold {
		return false
	}
	return n.level.IsWrite() || (n.level.IsRead() && level.IsRead())
}

// toContext converts a node into the exchange context reported to the server.
// Timed nodes report the time left before their deadline. A waiter past its
// deadline reports the smallest timeout, since zero means untimed.
func (n *stateNode) toContext(id LockID, client ClientID) ExchangeContext {
	ctx := ExchangeContext{
		LockID:   id,
		ClientID: client,
		ThreadID: n.owner,
		Level:    n.level.ServerLevel(),
	}
	switch n.kind {
	case kindHold:
		ctx.Kind = ContextHold
	case kindPending:
		if n.try {
			ctx.Kind = ContextTryPending
			ctx.Timeout = remaining(n.deadline)
		} else {
			ctx.Kind = ContextPending
		}
	case kindWaiter:
		ctx.Kind = ContextWaiter
		if !n.waitDeadline.IsZero() {
			ctx.Timeout = max(remaining(n.waitDeadline), time.Nanosecond)
		}
	}
	return ctx
}
