package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// gatewayCall records one request sent to fakeGateway.
type gatewayCall struct {
	op       string
	id       LockID
	thread   ThreadID
	level    ServerLockLevel
	timeout  time.Duration
	contexts []ExchangeContext
	batch    bool
	all      bool
}

// fakeGateway records every request and never answers on its own: tests
// play the server by calling the Manager callbacks.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	// asyncFlush parks AsyncFlush callbacks until completeFlushes.
	asyncFlush bool
	callbacks  []FlushCallback
	flushErr   error

	awardIDs atomic.Int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{}
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *fakeGateway) Lock(id LockID, thread ThreadID, level ServerLockLevel) {
	g.record(gatewayCall{op: "lock", id: id, thread: thread, level: level})
}

func (g *fakeGateway) TryLock(id LockID, thread ThreadID, level ServerLockLevel, timeout time.Duration) {
	g.record(gatewayCall{op: "trylock", id: id, thread: thread, level: level, timeout: timeout})
}

func (g *fakeGateway) Unlock(id LockID, thread ThreadID, level ServerLockLevel) {
	g.record(gatewayCall{op: "unlock", id: id, thread: thread, level: level})
}

func (g *fakeGateway) Wait(id LockID, thread ThreadID, timeout time.Duration) {
	g.record(gatewayCall{op: "wait", id: id, thread: thread, timeout: timeout})
}

func (g *fakeGateway) Interrupt(id LockID, thread ThreadID) {
	g.record(gatewayCall{op: "interrupt", id: id, thread: thread})
}

func (g *fakeGateway) Notify(id LockID, thread ThreadID, all bool) {
	g.record(gatewayCall{op: "notify", id: id, thread: thread, all: all})
}

func (g *fakeGateway) Flush(_ context.Context, id LockID, level ServerLockLevel) error {
	g.record(gatewayCall{op: "flush", id: id, level: level})
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flushErr
}

func (g *fakeGateway) AsyncFlush(id LockID, level ServerLockLevel, cb FlushCallback) bool {
	g.record(gatewayCall{op: "asyncflush", id: id, level: level})
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.asyncFlush {
		return true
	}
	g.callbacks = append(g.callbacks, cb)
	return false
}

func (g *fakeGateway) RecallCommit(id LockID, contexts []ExchangeContext, batch bool) {
	g.record(gatewayCall{op: "recallcommit", id: id, contexts: contexts, batch: batch})
}

func (g *fakeGateway) Query(id LockID, thread ThreadID) {
	g.record(gatewayCall{op: "query", id: id, thread: thread})
}

func (g *fakeGateway) Shutdown() {
	g.record(gatewayCall{op: "shutdown"})
}

// completeFlushes runs the parked flush callbacks, as the transaction
// layer would once the flush is acknowledged.
func (g *fakeGateway) completeFlushes() int {
	g.mu.Lock()
	cbs := g.callbacks
	g.callbacks = nil
	g.mu.Unlock()

	for _, cb := range cbs {
		cb.FlushComplete()
	}
	return len(cbs)
}

func (g *fakeGateway) callsOf(op string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) count(op string) int {
	return len(g.callsOf(op))
}

func (g *fakeGateway) nextAwardID() int64 {
	return g.awardIDs.Add(1)
}
