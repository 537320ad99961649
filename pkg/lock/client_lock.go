package lock

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
)

// ============================================================================
// Per-Lock Coordinator
// ============================================================================

type acquireResult uint8

const (
	acquireFailed acquireResult = iota
	acquireExclusive
	acquireShared
	acquireUseServer
)

// acquireRequest describes one acquisition attempt.
type acquireRequest struct {
	thread        ThreadID
	level         LockLevel
	interruptible bool
	try           bool
	timeout       time.Duration
}

var errParkTimeout = goerrors.New("park timed out")

// clientLock coordinates every local thread using one lock.
//
// All state is guarded by mu. The gateway is only called with mu held for
// fire and forget requests; flushes always run with mu released, and no
// method ever holds the mutex of two clientLocks.
type clientLock struct {
	id      LockID
	client  ClientID
	metrics *Metrics

	mu          sync.Mutex
	greediness  Greediness
	queue       stateQueue
	pinned      int
	idle        uint8
	lastAwardID int64
	recallBatch bool
	queries     map[ThreadID]chan []ExchangeContext
	aborted     error
}

func newClientLock(id LockID, client ClientID, metrics *Metrics) *clientLock {
	return &clientLock{
		id:         id,
		client:     client,
		metrics:    metrics,
		greediness: GreedinessFree,
		queue:      newStateQueue(),
	}
}

func (l *clientLock) setGreediness(next Greediness) {
	if next == l.greediness {
		return
	}
	logger.Debug("Lock greediness changed",
		logger.KeyLockID, l.id.String(),
		"from", l.greediness.String(),
		"to", next.String())
	l.greediness = next
}

func (l *clientLock) markUsed() {
	l.idle = 0
}

// heldBy reports whether thread holds the lock at all, and at a write level.
func (l *clientLock) heldBy(thread ThreadID) (held, write bool) {
	l.queue.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.owner == thread {
			held = true
			if n.level.IsWrite() {
				write = true
				return false
			}
		}
		return true
	})
	return held, write
}

// serverLevelOf is the strongest server level among the holds of thread.
func (l *clientLock) serverLevelOf(thread ThreadID) ServerLockLevel {
	if _, write := l.heldBy(thread); write {
		return ServerWrite
	}
	return ServerRead
}

// canRecallNow reports whether the grant can be handed back: read holds are
// transferred to the server with the commit, write holds are not.
func (l *clientLock) canRecallNow() bool {
	ok := true
	l.queue.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.level.IsWrite() {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// unparkQueued wakes the first pending acquire and every try acquire
// queued behind it. Queuing is loose: whoever wins the retry gets the lock.
func (l *clientLock) unparkQueued() {
	first := true
	l.queue.each(func(n *stateNode) bool {
		if n.kind != kindPending {
			return true
		}
		if first || n.try {
			n.unpark()
			first = false
		}
		return true
	})
}

// ----------------------------------------------------------------------------
// Acquire
// ----------------------------------------------------------------------------

func (l *clientLock) grant(thread ThreadID, level LockLevel) acquireResult {
	l.queue.pushFront(newHold(thread, level))
	if level.IsWrite() {
		return acquireExclusive
	}
	return acquireShared
}

// tryAcquireLocally attempts to grant level without the server.
func (l *clientLock) tryAcquireLocally(thread ThreadID, level LockLevel) (acquireResult, error) {
	held, write := l.heldBy(thread)
	if level.IsWrite() && held && !write {
		return acquireFailed, NewUpgradeNotSupportedError(l.id, thread)
	}
	if write || (held && level.IsRead()) {
		return l.grant(thread, level), nil
	}
	if !l.greediness.CanAward(level) {
		return acquireUseServer, nil
	}

	conflict := false
	l.queue.each(func(n *stateNode) bool {
		if n.conflictsWith(thread, level) {
			conflict = true
			return false
		}
		return true
	})
	if conflict {
		return acquireFailed, nil
	}
	return l.grant(thread, level), nil
}

// lock acquires level for req.thread. It returns false when a try attempt
// was refused or timed out.
func (l *clientLock) lock(ctx context.Context, remote RemoteLockGateway, req acquireRequest) (bool, error) {
	if req.level == LevelConcurrent {
		return true, nil
	}

	l.mu.Lock()
	if l.greediness.IsGarbage() {
		l.mu.Unlock()
		return false, newGarbageLockError(l.id)
	}
	l.markUsed()

	res, err := l.tryAcquireLocally(req.thread, req.level)
	if err != nil {
		l.mu.Unlock()
		return false, err
	}
	switch res {
	case acquireExclusive, acquireShared:
		l.mu.Unlock()
		l.metrics.ObserveAcquire(req.level, OutcomeLocal)
		return true, nil
	case acquireFailed:
		if req.try && req.timeout <= 0 {
			l.mu.Unlock()
			l.metrics.ObserveAcquire(req.level, OutcomeRefused)
			return false, nil
		}
	}

	var n *stateNode
	if req.try {
		n = newTryPending(req.thread, req.level, req.timeout)
	} else {
		n = newPending(req.thread, req.level)
	}
	l.queue.pushBack(n)
	l.mu.Unlock()

	return l.acquireQueued(ctx, remote, n, req)
}

// delegate asks the server for n the first time it cannot be granted
// locally. It reports whether a recall has to be driven first.
func (l *clientLock) delegate(remote RemoteLockGateway, n *stateNode, deadline time.Time) bool {
	level := n.level.ServerLevel()
	l.setGreediness(l.greediness.Requested(level))

	switch {
	case l.greediness.IsFree():
		n.delegated = true
		if n.try {
			remote.TryLock(l.id, n.owner, level, remaining(deadline))
		} else {
			remote.Lock(l.id, n.owner, level)
		}
	case l.greediness.IsRecalled():
		return l.canRecallNow()
	}
	return false
}

func remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}

// acquireQueued parks on n until it is granted, refused, aborted, timed out
// or interrupted. Every wake re-checks the queue from scratch.
func (l *clientLock) acquireQueued(ctx context.Context, remote RemoteLockGateway, n *stateNode, req acquireRequest) (bool, error) {
	deadline := n.deadline

	start := time.Now()
	l.metrics.IncBlocked()
	defer func() {
		l.metrics.DecBlocked()
		l.metrics.ObserveBlocked(n.level, time.Since(start))
	}()

	for {
		l.mu.Lock()

		if n.abortErr != nil {
			l.queue.remove(n.handle)
			l.mu.Unlock()
			l.metrics.ObserveAcquire(n.level, OutcomeAborted)
			return false, n.abortErr
		}

		if n.awarded {
			l.queue.remove(n.handle)
			if l.grant(n.owner, n.level) == acquireShared {
				l.unparkQueued()
			}
			l.mu.Unlock()
			l.metrics.ObserveAcquire(n.level, OutcomeRemote)
			return true, nil
		}

		if n.refused {
			l.queue.remove(n.handle)
			l.unparkQueued()
			l.mu.Unlock()
			l.metrics.ObserveAcquire(n.level, OutcomeRefused)
			return false, nil
		}

		res, err := l.tryAcquireLocally(n.owner, n.level)
		if err != nil {
			l.queue.remove(n.handle)
			l.unparkQueued()
			l.mu.Unlock()
			return false, err
		}

		switch res {
		case acquireExclusive, acquireShared:
			l.queue.remove(n.handle)
			if res == acquireShared {
				l.unparkQueued()
			}
			l.mu.Unlock()
			l.metrics.ObserveAcquire(n.level, OutcomeLocal)
			return true, nil
		case acquireUseServer:
			if !n.delegated && l.delegate(remote, n, deadline) {
				l.mu.Unlock()
				l.doRecall(remote)
				continue
			}
		}

		// Give whoever is queued behind us a chance at the lock.
		if next := l.queue.nextPendingAfter(n.handle); next != nil {
			next.unpark()
		}
		l.mu.Unlock()

		if err := park(ctx, n, deadline, req.interruptible); err != nil {
			return l.abandon(remote, n, err)
		}
	}
}

// park blocks until n is woken, the deadline passes or ctx is cancelled
// (only when interruptible).
func park(ctx context.Context, n *stateNode, deadline time.Time, interruptible bool) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return errParkTimeout
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var done <-chan struct{}
	if interruptible {
		done = ctx.Done()
	}

	select {
	case <-n.wake:
		return nil
	case <-timeout:
		return errParkTimeout
	case <-done:
		return context.Cause(ctx)
	}
}

// abandon removes a pending acquire that timed out or was interrupted. An
// award that raced with the abort is handed straight back to the server.
func (l *clientLock) abandon(remote RemoteLockGateway, n *stateNode, cause error) (bool, error) {
	l.mu.Lock()
	l.queue.remove(n.handle)
	abortErr := n.abortErr
	if n.awarded && abortErr == nil {
		remote.Unlock(l.id, n.owner, n.level.ServerLevel())
	}
	l.unparkQueued()
	l.mu.Unlock()

	if abortErr != nil {
		l.metrics.ObserveAcquire(n.level, OutcomeAborted)
		return false, abortErr
	}
	if goerrors.Is(cause, errParkTimeout) {
		l.metrics.ObserveAcquire(n.level, OutcomeTimeout)
		return false, nil
	}
	l.metrics.ObserveAcquire(n.level, OutcomeInterrupted)
	return false, NewInterruptedError(l.id, cause)
}

// ----------------------------------------------------------------------------
// Release
// ----------------------------------------------------------------------------

// releaseFlush decides whether releasing hold must first flush the
// operations performed under it, and at which level.
func (l *clientLock) releaseFlush(hold *stateNode) (ServerLockLevel, bool) {
	if hold.level == LevelSynchronousWrite {
		return ServerWrite, true
	}
	if !l.greediness.FlushOnUnlock() {
		return ServerRead, false
	}

	// Another hold of the same owner keeps the server grant alive.
	other := false
	l.queue.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.owner == hold.owner && n != hold {
			other = true
			return false
		}
		return true
	})
	if other {
		return ServerRead, false
	}
	return hold.level.ServerLevel(), true
}

func (l *clientLock) unlock(ctx context.Context, remote RemoteLockGateway, thread ThreadID, level LockLevel) error {
	if level == LevelConcurrent {
		return nil
	}

	flushed := false
	var flushedAt ServerLockLevel

	for {
		l.mu.Lock()
		hold := l.queue.findHold(thread, level)
		if hold == nil {
			l.mu.Unlock()
			return NewIllegalMonitorStateError(l.id, thread, level)
		}

		if at, need := l.releaseFlush(hold); need && (!flushed || flushedAt < at) {
			l.mu.Unlock()
			if err := remote.Flush(ctx, l.id, at); err != nil {
				return NewFlushFailedError(l.id, err)
			}
			flushed, flushedAt = true, at
			continue
		}

		serverLevel := l.serverLevelOf(thread)
		l.queue.remove(hold.handle)
		l.markUsed()
		if l.greediness.IsFree() {
			if held, _ := l.heldBy(thread); !held {
				remote.Unlock(l.id, thread, serverLevel)
			}
		}

		recallNow := l.greediness.IsRecalled() && l.canRecallNow()
		l.unparkQueued()
		l.mu.Unlock()

		l.metrics.ObserveRelease(level)
		if recallNow {
			l.doRecall(remote)
		}
		return nil
	}
}

// ----------------------------------------------------------------------------
// Recall
// ----------------------------------------------------------------------------

// recall applies a server recall. It returns true when the grant survives
// under a lease and the caller has to recall it again once the lease ends.
func (l *clientLock) recall(remote RemoteLockGateway, interest ServerLockLevel, lease time.Duration, batch bool) bool {
	l.mu.Lock()
	pending := l.queue.count(kindPending)
	l.setGreediness(l.greediness.Recalled(lease, interest, pending))

	if l.greediness.IsGreedy() && lease > 0 {
		l.mu.Unlock()
		l.metrics.ObserveRecall(RecallLeased)
		return true
	}

	recallNow := false
	if l.greediness.IsRecalled() {
		l.recallBatch = l.recallBatch || batch
		recallNow = l.canRecallNow()
		if !recallNow {
			l.metrics.ObserveRecall(RecallDeferred)
		}
	}
	l.mu.Unlock()

	if recallNow {
		l.doRecall(remote)
	}
	return false
}

// doRecall starts the flush that precedes a recall commit.
func (l *clientLock) doRecall(remote RemoteLockGateway) {
	l.mu.Lock()
	if !l.greediness.IsRecalled() || !l.canRecallNow() {
		l.mu.Unlock()
		return
	}
	level := l.greediness.FlushLevel()
	l.setGreediness(l.greediness.RecallInProgress())
	l.mu.Unlock()

	l.flushForRecall(remote, level)
}

func (l *clientLock) flushForRecall(remote RemoteLockGateway, level ServerLockLevel) {
	cb := &recallCallback{lock: l, remote: remote, expected: level}
	if remote.AsyncFlush(l.id, level, cb) {
		cb.FlushComplete()
	}
}

// commitRecall gives the grant back once the flush for expected completed.
// A flush level that moved meanwhile needs another flush first.
func (l *clientLock) commitRecall(remote RemoteLockGateway, expected ServerLockLevel) {
	l.mu.Lock()
	if !l.greediness.IsRecallInProgress() {
		l.mu.Unlock()
		return
	}

	if level := l.greediness.FlushLevel(); level != expected {
		l.mu.Unlock()
		l.metrics.ObserveRecall(RecallReflushed)
		l.flushForRecall(remote, level)
		return
	}

	next := l.greediness.RecallCommitted()
	contexts := l.collectContexts(next)
	l.setGreediness(next)
	batch := l.recallBatch
	l.recallBatch = false
	remote.RecallCommit(l.id, contexts, batch)
	l.unparkQueued()
	l.mu.Unlock()

	l.metrics.ObserveRecall(RecallCommitted)
}

// collectContexts reports the local state the server takes over once the
// grant is given back. Pending acquires that next cannot serve locally
// become server requests; waiters become server managed. A downgrade to a
// greedy read reports the surviving grant instead of the read holds it
// covers.
func (l *clientLock) collectContexts(next Greediness) []ExchangeContext {
	var out []ExchangeContext
	keeps := next.HoldsGrant()
	if keeps {
		out = append(out, next.ToContext(l.id, l.client))
	}
	l.queue.each(func(n *stateNode) bool {
		switch n.kind {
		case kindHold:
			if !keeps {
				out = append(out, n.toContext(l.id, l.client))
			}
		case kindPending:
			if n.awarded || n.refused || next.CanAward(n.level) {
				return true
			}
			n.delegated = true
			out = append(out, n.toContext(l.id, l.client))
		case kindWaiter:
			n.serverManaged = true
			out = append(out, n.toContext(l.id, l.client))
		}
		return true
	})
	return out
}

// ----------------------------------------------------------------------------
// Server responses
// ----------------------------------------------------------------------------

// award applies a grant from the server. Awards to VMThreadID are greedy.
func (l *clientLock) award(remote RemoteLockGateway, thread ThreadID, level ServerLockLevel, awardID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.greediness.IsGarbage() {
		return newGarbageLockError(l.id)
	}
	if awardID <= l.lastAwardID {
		l.metrics.ObserveStale("award")
		logger.Debug("Dropping stale award",
			logger.KeyLockID, l.id.String(),
			logger.KeyThreadID, thread.String(),
			logger.KeyAwardID, awardID)
		return nil
	}
	l.lastAwardID = awardID
	l.markUsed()

	if thread == VMThreadID {
		l.setGreediness(l.greediness.Awarded(level))
		l.unparkQueued()
		return nil
	}

	n := l.queue.pendingFor(thread, false)
	if n == nil {
		// The acquire gave up before the award arrived.
		remote.Unlock(l.id, thread, level)
		return nil
	}
	n.awarded = true
	n.unpark()
	return nil
}

// refuse fails the try acquire of thread.
func (l *clientLock) refuse(thread ThreadID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.queue.pendingFor(thread, true)
	if n == nil {
		return
	}
	n.refused = true
	n.unpark()
}

// ----------------------------------------------------------------------------
// Garbage collection and pinning
// ----------------------------------------------------------------------------

// tryMarkAsGarbage is called once per GC sweep. A lock is collected only
// from FREE after idleSweeps consecutive idle sweeps; an idle greedy lock
// is recalled in a batch and collected on a later sweep.
func (l *clientLock) tryMarkAsGarbage(remote RemoteLockGateway, idleSweeps uint8) bool {
	l.mu.Lock()
	if l.greediness.IsGarbage() {
		l.mu.Unlock()
		return false
	}
	if l.pinned > 0 || l.queue.len() > 0 || len(l.queries) > 0 {
		l.idle = 0
		l.mu.Unlock()
		return false
	}
	if l.idle < idleSweeps {
		l.idle++
		l.mu.Unlock()
		return false
	}

	switch {
	case l.greediness.IsFree():
		l.setGreediness(l.greediness.MarkAsGarbage())
		l.mu.Unlock()
		return true
	case l.greediness.IsGreedy():
		l.setGreediness(l.greediness.Recalled(0, ServerWrite, 0))
		l.recallBatch = true
		l.mu.Unlock()
		l.doRecall(remote)
		return false
	default:
		l.mu.Unlock()
		return false
	}
}

func (l *clientLock) pin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.greediness.IsGarbage() {
		return newGarbageLockError(l.id)
	}
	l.pinned++
	l.markUsed()
	return nil
}

func (l *clientLock) unpin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pinned > 0 {
		l.pinned--
	}
	l.markUsed()
}

// ----------------------------------------------------------------------------
// Handshake and teardown
// ----------------------------------------------------------------------------

// handshakeContexts snapshots the lock for the server after a reconnect.
// Pending acquires are marked delegated so they wait for the server
// instead of asking again.
func (l *clientLock) handshakeContexts() []ExchangeContext {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastAwardID = 0

	var out []ExchangeContext
	if l.greediness.HoldsGrant() {
		out = append(out, l.greediness.ToContext(l.id, l.client))
	}
	l.queue.each(func(n *stateNode) bool {
		switch n.kind {
		case kindPending:
			if n.refused {
				return true
			}
			if n.awarded {
				ctx := n.toContext(l.id, l.client)
				ctx.Kind = ContextHold
				ctx.Timeout = 0
				out = append(out, ctx)
				return true
			}
			n.delegated = true
		case kindWaiter:
			n.serverManaged = true
		}
		out = append(out, n.toContext(l.id, l.client))
		return true
	})
	return out
}

// abortAll wakes every parked thread with err and retires the coordinator.
func (l *clientLock) abortAll(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, n := range l.queue.snapshot() {
		if n.kind == kindHold {
			continue
		}
		n.abortErr = err
		l.queue.remove(n.handle)
		n.unpark()
	}
	for thread, ch := range l.queries {
		close(ch)
		delete(l.queries, thread)
	}
	l.aborted = err

	// Teardown discards the grant along with the session.
	l.greediness = GreedinessGarbage
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

// query returns the cluster-wide contexts of the lock. A greedy write grant
// means no other client is involved, so the local state is the answer.
func (l *clientLock) query(ctx context.Context, remote RemoteLockGateway, thread ThreadID) ([]ExchangeContext, error) {
	l.mu.Lock()
	if l.greediness.IsGarbage() {
		l.mu.Unlock()
		return nil, newGarbageLockError(l.id)
	}
	l.markUsed()

	if l.greediness == GreedinessGreedyWrite {
		out := l.localContexts()
		l.mu.Unlock()
		return out, nil
	}

	ch := make(chan []ExchangeContext, 1)
	if l.queries == nil {
		l.queries = make(map[ThreadID]chan []ExchangeContext)
	}
	l.queries[thread] = ch
	l.mu.Unlock()

	remote.Query(l.id, thread)

	select {
	case contexts, ok := <-ch:
		if !ok {
			l.mu.Lock()
			err := l.aborted
			l.mu.Unlock()
			return nil, err
		}
		return contexts, nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.queries[thread] == ch {
			delete(l.queries, thread)
		}
		l.mu.Unlock()
		return nil, NewInterruptedError(l.id, context.Cause(ctx))
	}
}

// info delivers a query response.
func (l *clientLock) info(thread ThreadID, contexts []ExchangeContext) {
	l.mu.Lock()
	ch, ok := l.queries[thread]
	delete(l.queries, thread)
	l.mu.Unlock()

	if ok {
		ch <- contexts
	}
}

func (l *clientLock) localContexts() []ExchangeContext {
	var out []ExchangeContext
	l.queue.each(func(n *stateNode) bool {
		out = append(out, n.toContext(l.id, l.client))
		return true
	})
	return out
}

// ----------------------------------------------------------------------------
// Local state
// ----------------------------------------------------------------------------

func (l *clientLock) isLocked(level LockLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	l.queue.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.level == level {
			found = true
			return false
		}
		return true
	})
	return found
}

func (l *clientLock) isLockedBy(thread ThreadID, level LockLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.findHold(thread, level) != nil
}

func (l *clientLock) localHoldCount(thread ThreadID, level LockLevel) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	l.queue.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.owner == thread && n.level == level {
			count++
		}
		return true
	})
	return count
}

func (l *clientLock) currentGreediness() Greediness {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.greediness
}

// snapshot returns a diagnostic view of the lock.
func (l *clientLock) snapshot() LockInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := LockInfo{
		ID:         l.id,
		Greediness: l.greediness.String(),
		Pinned:     l.pinned,
		IdleSweeps: int(l.idle),
	}
	l.queue.each(func(n *stateNode) bool {
		ctx := n.toContext(l.id, l.client)
		switch n.kind {
		case kindHold:
			info.Holds = append(info.Holds, ctx)
		case kindPending:
			info.Pending = append(info.Pending, ctx)
		case kindWaiter:
			info.Waiters = append(info.Waiters, ctx)
		}
		return true
	})
	return info
}
