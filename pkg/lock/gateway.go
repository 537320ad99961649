package lock

import (
	"context"
	"time"
)

// ============================================================================
// Remote Lock Gateway
// ============================================================================

// RemoteLockGateway sends lock requests to the server.
//
// Lock, TryLock, Unlock, Wait, Interrupt, RecallCommit and Query are fire
// and forget: answers come back through the Manager callbacks (Award,
// Refuse, Notified, Info). They may be called while a lock's mutex is held,
// so implementations must never call back into the Manager synchronously.
type RemoteLockGateway interface {
	// Lock asks the server to grant level to thread, blocking server side.
	Lock(id LockID, thread ThreadID, level ServerLockLevel)

	// TryLock asks for level, giving up after timeout (zero = answer now).
	TryLock(id LockID, thread ThreadID, level ServerLockLevel, timeout time.Duration)

	// Unlock releases a per-thread grant.
	Unlock(id LockID, thread ThreadID, level ServerLockLevel)

	// Wait registers thread as waiting on the lock (zero timeout = forever).
	Wait(id LockID, thread ThreadID, timeout time.Duration)

	// Interrupt cancels a server side wait registration of thread.
	Interrupt(id LockID, thread ThreadID)

	// Notify delivers a notify the client could not resolve locally.
	Notify(id LockID, thread ThreadID, all bool)

	// Flush blocks until every operation performed under the lock up to
	// level has been acknowledged.
	Flush(ctx context.Context, id LockID, level ServerLockLevel) error

	// AsyncFlush starts a flush. It returns true if nothing was left to
	// flush, in which case cb is never invoked. Otherwise cb is invoked once,
	// from another goroutine, when the flush completes.
	AsyncFlush(id LockID, level ServerLockLevel, cb FlushCallback) bool

	// RecallCommit gives a greedy grant back, reporting the local state.
	// Batched commits may be coalesced with others.
	RecallCommit(id LockID, contexts []ExchangeContext, batch bool)

	// Query asks the server for the cluster-wide state of the lock.
	Query(id LockID, thread ThreadID)

	// Shutdown flushes outstanding batches and stops background work.
	Shutdown()
}

// FlushCallback is notified when an asynchronous flush completes.
type FlushCallback interface {
	FlushComplete()
}

// FlushCallbackFunc adapts a function to FlushCallback.
type FlushCallbackFunc func()

// FlushComplete implements FlushCallback.
func (f FlushCallbackFunc) FlushComplete() { f() }

// recallCallback resumes a recall once its flush completed. It carries the
// flush level the flush was started for, so the commit can tell whether a
// concurrent request moved the level while the flush was running.
type recallCallback struct {
	lock     *clientLock
	remote   RemoteLockGateway
	expected ServerLockLevel
}

// FlushComplete implements FlushCallback.
func (cb *recallCallback) FlushComplete() {
	cb.lock.commitRecall(cb.remote, cb.expected)
}
