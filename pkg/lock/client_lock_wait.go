package lock

import (
	"context"
	goerrors "errors"
	"time"
)

// NotifyAction tells the caller who delivers a notify.
type NotifyAction uint8

const (
	// NotifyLocal means the waiters were woken locally.
	NotifyLocal NotifyAction = iota

	// NotifyServer means the lock is not greedy and waiters on other
	// clients may exist, so the server has to deliver the notify.
	NotifyServer
)

func (a NotifyAction) String() string {
	switch a {
	case NotifyLocal:
		return "local"
	case NotifyServer:
		return "server"
	default:
		return "unknown"
	}
}

// waitFlush decides whether releasing every hold of thread for a wait must
// flush first. One decision covers the whole released set.
func (l *clientLock) waitFlush(thread ThreadID) (ServerLockLevel, bool) {
	need := l.greediness.FlushOnUnlock()
	level := ServerRead
	l.queue.each(func(n *stateNode) bool {
		if n.kind != kindHold || n.owner != thread {
			return true
		}
		if n.level.IsWrite() {
			level = ServerWrite
		}
		if n.level == LevelSynchronousWrite {
			need = true
		}
		return true
	})
	return level, need
}

// wait releases every hold of thread, parks until notified, interrupted or
// timed out (zero timeout waits forever) and reacquires the holds.
func (l *clientLock) wait(ctx context.Context, remote RemoteLockGateway, thread ThreadID, timeout time.Duration) error {
	flushed := false
	var flushedAt ServerLockLevel

	var w *stateNode
	for w == nil {
		l.mu.Lock()
		if l.greediness.IsGarbage() {
			l.mu.Unlock()
			return newGarbageLockError(l.id)
		}
		if _, write := l.heldBy(thread); !write {
			l.mu.Unlock()
			return NewIllegalMonitorStateError(l.id, thread, LevelWrite)
		}

		if at, need := l.waitFlush(thread); need && (!flushed || flushedAt < at) {
			l.mu.Unlock()
			if err := remote.Flush(ctx, l.id, at); err != nil {
				return NewFlushFailedError(l.id, err)
			}
			flushed, flushedAt = true, at
			continue
		}

		pos, saved := l.queue.removeHoldsOf(thread)
		w = newWaiter(thread, saved, timeout)
		l.queue.insertAt(pos, w)
		l.markUsed()

		if l.greediness.IsFree() {
			w.serverManaged = true
			remote.Wait(l.id, thread, timeout)
		}

		recallNow := l.greediness.IsRecalled() && l.canRecallNow()
		l.unparkQueued()
		l.mu.Unlock()

		if recallNow {
			l.doRecall(remote)
		}
	}

	return l.awaitNotify(ctx, remote, w)
}

func (l *clientLock) awaitNotify(ctx context.Context, remote RemoteLockGateway, w *stateNode) error {
	l.metrics.IncWaiting()
	defer l.metrics.DecWaiting()

	deadline := w.waitDeadline

	for {
		cause := park(ctx, w, deadline, true)

		l.mu.Lock()
		if w.abortErr != nil {
			l.queue.remove(w.handle)
			l.mu.Unlock()
			return w.abortErr
		}
		if w.notified {
			nodes := w.reacquire
			l.mu.Unlock()
			return l.reacquire(ctx, remote, nodes, nil)
		}
		if cause == nil {
			l.mu.Unlock()
			continue
		}

		l.queue.remove(w.handle)
		nodes := l.spliceReacquire(w, w.serverManaged)
		if w.serverManaged {
			remote.Interrupt(l.id, w.owner)
		}
		l.mu.Unlock()

		var waitErr error
		if !goerrors.Is(cause, errParkTimeout) {
			waitErr = NewInterruptedError(l.id, cause)
		}
		return l.reacquire(ctx, remote, nodes, waitErr)
	}
}

// spliceReacquire queues the saved holds of w as pending acquires, in the
// reverse of the order they were released.
func (l *clientLock) spliceReacquire(w *stateNode, delegated bool) []*stateNode {
	nodes := make([]*stateNode, 0, len(w.saved))
	for i := len(w.saved) - 1; i >= 0; i-- {
		n := newPending(w.owner, w.saved[i].level)
		n.delegated = delegated
		l.queue.pushBack(n)
		nodes = append(nodes, n)
	}
	w.reacquire = nodes
	return nodes
}

// reacquire takes back the holds released by a wait. It cannot be
// interrupted: a waiter always returns holding what it held.
func (l *clientLock) reacquire(ctx context.Context, remote RemoteLockGateway, nodes []*stateNode, waitErr error) error {
	bg := context.WithoutCancel(ctx)
	for i, n := range nodes {
		req := acquireRequest{thread: n.owner, level: n.level}
		if _, err := l.acquireQueued(bg, remote, n, req); err != nil {
			l.dropNodes(nodes[i+1:])
			return err
		}
	}
	return waitErr
}

func (l *clientLock) dropNodes(nodes []*stateNode) {
	if len(nodes) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range nodes {
		l.queue.remove(n.handle)
	}
	l.unparkQueued()
}

// wakeWaiter moves w back into the acquire queue and unparks it.
func (l *clientLock) wakeWaiter(w *stateNode, delegated bool) {
	l.queue.remove(w.handle)
	l.spliceReacquire(w, delegated)
	w.notified = true
	w.unpark()
}

// notify wakes one (or all) waiters of the lock, whichever thread they
// belong to.
func (l *clientLock) notify(thread ThreadID, all bool) (NotifyAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.greediness.IsGarbage() {
		return NotifyLocal, newGarbageLockError(l.id)
	}
	if _, write := l.heldBy(thread); !write {
		return NotifyLocal, NewIllegalMonitorStateError(l.id, thread, LevelWrite)
	}
	l.markUsed()

	if l.greediness.IsFree() {
		return NotifyServer, nil
	}

	for _, w := range l.queue.ofKind(kindWaiter) {
		l.wakeWaiter(w, false)
		if !all {
			break
		}
	}
	return NotifyLocal, nil
}

// notified applies a notify delivered by the server. The server already
// queued the reacquire, so the pending acquires are delegated.
func (l *clientLock) notified(thread ThreadID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.queue.waiterFor(thread)
	if w == nil {
		return false
	}
	l.wakeWaiter(w, true)
	return true
}
