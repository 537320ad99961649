package lock

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	"github.com/marmos91/dittolock/pkg/lock/errors"
)

// ============================================================================
// Lock Manager
// ============================================================================

// Manager owns the per-lock coordinators of one client.
//
// Every application operation first waits for the manager to be RUNNING.
// Server callbacks are checked against the current session and dropped when
// they belong to an older one.
//
// Thread Safety:
// Manager is safe for concurrent use by multiple goroutines. Coordinators
// are created at most once per lock; no operation holds two lock mutexes.
type Manager struct {
	config  Config
	remote  RemoteLockGateway
	metrics *Metrics

	lifecycle *lifecycle
	session   atomic.Uint64
	locks     sync.Map // LockID -> *clientLock

	gc     *gcTask
	leases *leaseScheduler

	shutdownOnce sync.Once
}

// NewManager creates a lock manager sending server requests through remote.
// metrics may be nil. Call Start to run the background GC and lease tasks.
func NewManager(remote RemoteLockGateway, cfg Config, metrics *Metrics) *Manager {
	m := &Manager{
		config:  cfg,
		remote:  remote,
		metrics: metrics,
	}
	m.lifecycle = newLifecycle(metrics)
	m.gc = newGCTask(m, cfg.GCInterval)
	m.leases = newLeaseScheduler(m, cfg.LeaseScanInterval)
	return m
}

// Start runs the GC sweep and the lease scanner.
func (m *Manager) Start() {
	m.gc.Start()
	m.leases.Start()
}

// ClientID returns the identity reported in exchange contexts.
func (m *Manager) ClientID() ClientID {
	return m.config.ClientID
}

// Session returns the session server messages are validated against.
func (m *Manager) Session() SessionID {
	return SessionID(m.session.Load())
}

// State returns the lifecycle state.
func (m *Manager) State() ManagerState {
	return m.lifecycle.State()
}

// AwaitRunning blocks until the manager is RUNNING.
func (m *Manager) AwaitRunning(ctx context.Context) error {
	return m.lifecycle.AwaitRunning(ctx)
}

func (m *Manager) getOrCreate(id LockID) *clientLock {
	if v, ok := m.locks.Load(id); ok {
		return v.(*clientLock)
	}
	v, _ := m.locks.LoadOrStore(id, newClientLock(id, m.config.ClientID, m.metrics))
	return v.(*clientLock)
}

// withLock runs fn against the coordinator of id once the manager is
// running. A coordinator collected under fn is replaced and fn retried.
func (m *Manager) withLock(ctx context.Context, id LockID, fn func(*clientLock) error) error {
	for {
		if err := m.lifecycle.AwaitRunning(ctx); err != nil {
			return err
		}
		l := m.getOrCreate(id)
		err := fn(l)
		if errors.IsGarbageLockError(err) {
			m.locks.CompareAndDelete(id, l)
			continue
		}
		return err
	}
}

// loaded waits for RUNNING and returns the coordinator of id without
// creating one.
func (m *Manager) loaded(ctx context.Context, id LockID) (*clientLock, bool, error) {
	if err := m.lifecycle.AwaitRunning(ctx); err != nil {
		return nil, false, err
	}
	v, ok := m.locks.Load(id)
	if !ok {
		return nil, false, nil
	}
	return v.(*clientLock), true, nil
}

func validate(id LockID, level LockLevel) error {
	if id == "" {
		return errors.NewInvalidArgumentError("lock id is required")
	}
	if !level.Valid() {
		return errors.NewInvalidArgumentError("invalid lock level")
	}
	return nil
}

// ----------------------------------------------------------------------------
// Acquire and release
// ----------------------------------------------------------------------------

func (m *Manager) acquire(ctx context.Context, op string, id LockID, req acquireRequest) (bool, error) {
	if err := validate(id, req.level); err != nil {
		return false, err
	}

	ctx, span := telemetry.StartLockSpan(ctx, op, id.String(),
		telemetry.LockLevel(req.level.String()),
		telemetry.ThreadID(uint64(req.thread)))
	defer span.End()

	lc := logger.NewLogContext(string(m.config.ClientID)).
		WithLock(op, id.String(), uint64(req.thread)).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	var ok bool
	err := m.withLock(ctx, id, func(l *clientLock) error {
		var err error
		ok, err = l.lock(ctx, m.remote, req)
		return err
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}
	span.SetAttributes(telemetry.Acquired(ok))
	logger.DebugCtx(ctx, "Lock request completed",
		logger.KeyLockLevel, req.level.String(),
		"acquired", ok,
		logger.KeyDurationMs, lc.DurationMs())
	return ok, nil
}

// Lock acquires level, blocking until granted. It is not interruptible:
// ctx only bounds the wait for the manager to be running.
func (m *Manager) Lock(ctx context.Context, id LockID, thread ThreadID, level LockLevel) error {
	_, err := m.acquire(ctx, "lock.Lock", id, acquireRequest{thread: thread, level: level})
	return err
}

// LockInterruptibly acquires level, giving up with an interrupted error
// when ctx is cancelled.
func (m *Manager) LockInterruptibly(ctx context.Context, id LockID, thread ThreadID, level LockLevel) error {
	_, err := m.acquire(ctx, "lock.LockInterruptibly", id, acquireRequest{
		thread:        thread,
		level:         level,
		interruptible: true,
	})
	return err
}

// TryLock acquires level only if it is available now, asking the server
// when the lock is not granted to this client.
func (m *Manager) TryLock(ctx context.Context, id LockID, thread ThreadID, level LockLevel) (bool, error) {
	return m.acquire(ctx, "lock.TryLock", id, acquireRequest{
		thread: thread,
		level:  level,
		try:    true,
	})
}

// TryLockTimeout acquires level, waiting at most timeout. It returns
// false on timeout and an interrupted error when ctx is cancelled first.
func (m *Manager) TryLockTimeout(ctx context.Context, id LockID, thread ThreadID, level LockLevel, timeout time.Duration) (bool, error) {
	if timeout < 0 {
		return false, errors.NewInvalidArgumentError("timeout must not be negative")
	}
	return m.acquire(ctx, "lock.TryLockTimeout", id, acquireRequest{
		thread:        thread,
		level:         level,
		interruptible: true,
		try:           true,
		timeout:       timeout,
	})
}

// Unlock releases one hold of level. ctx bounds the flush that may precede
// the release.
func (m *Manager) Unlock(ctx context.Context, id LockID, thread ThreadID, level LockLevel) error {
	if err := validate(id, level); err != nil {
		return err
	}
	return m.withLock(ctx, id, func(l *clientLock) error {
		return l.unlock(ctx, m.remote, thread, level)
	})
}

// ----------------------------------------------------------------------------
// Wait and notify
// ----------------------------------------------------------------------------

// Wait releases every hold of thread and blocks until notified or ctx is
// cancelled, then reacquires the holds before returning.
func (m *Manager) Wait(ctx context.Context, id LockID, thread ThreadID) error {
	return m.WaitTimeout(ctx, id, thread, 0)
}

// WaitTimeout is Wait bounded by timeout (zero waits forever).
func (m *Manager) WaitTimeout(ctx context.Context, id LockID, thread ThreadID, timeout time.Duration) error {
	if err := validate(id, LevelWrite); err != nil {
		return err
	}
	if timeout < 0 {
		return errors.NewInvalidArgumentError("timeout must not be negative")
	}

	ctx, span := telemetry.StartLockSpan(ctx, "lock.Wait", id.String(), telemetry.ThreadID(uint64(thread)))
	defer span.End()

	err := m.withLock(ctx, id, func(l *clientLock) error {
		return l.wait(ctx, m.remote, thread, timeout)
	})
	telemetry.RecordError(ctx, err)
	return err
}

// Notify wakes one waiter of the lock. When the lock is not greedy the
// notify is forwarded to the server.
func (m *Manager) Notify(ctx context.Context, id LockID, thread ThreadID) (NotifyAction, error) {
	return m.notify(ctx, id, thread, false)
}

// NotifyAll wakes every waiter of the lock.
func (m *Manager) NotifyAll(ctx context.Context, id LockID, thread ThreadID) (NotifyAction, error) {
	return m.notify(ctx, id, thread, true)
}

func (m *Manager) notify(ctx context.Context, id LockID, thread ThreadID, all bool) (NotifyAction, error) {
	if err := validate(id, LevelWrite); err != nil {
		return NotifyLocal, err
	}

	var action NotifyAction
	err := m.withLock(ctx, id, func(l *clientLock) error {
		var err error
		action, err = l.notify(thread, all)
		return err
	})
	if err != nil {
		return NotifyLocal, err
	}
	if action == NotifyServer {
		m.remote.Notify(id, thread, all)
	}
	return action, nil
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

// IsLocked reports whether any thread of any client holds level.
func (m *Manager) IsLocked(ctx context.Context, id LockID, level LockLevel) (bool, error) {
	if err := validate(id, level); err != nil {
		return false, err
	}
	if v, ok := m.locks.Load(id); ok && v.(*clientLock).isLocked(level) {
		return true, nil
	}
	n, err := m.GlobalHoldCount(ctx, id, level)
	return n > 0, err
}

// IsLockedByThread reports whether thread holds level locally.
func (m *Manager) IsLockedByThread(ctx context.Context, id LockID, thread ThreadID, level LockLevel) (bool, error) {
	if err := validate(id, level); err != nil {
		return false, err
	}
	l, ok, err := m.loaded(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return l.isLockedBy(thread, level), nil
}

// LocalHoldCount returns how many times thread holds level.
func (m *Manager) LocalHoldCount(ctx context.Context, id LockID, thread ThreadID, level LockLevel) (int, error) {
	if err := validate(id, level); err != nil {
		return 0, err
	}
	l, ok, err := m.loaded(ctx, id)
	if err != nil || !ok {
		return 0, err
	}
	return l.localHoldCount(thread, level), nil
}

func (m *Manager) query(ctx context.Context, id LockID) ([]ExchangeContext, error) {
	thread := NewThreadID()
	var contexts []ExchangeContext
	err := m.withLock(ctx, id, func(l *clientLock) error {
		var err error
		contexts, err = l.query(ctx, m.remote, thread)
		return err
	})
	return contexts, err
}

// GlobalHoldCount counts the holds of level across the cluster.
func (m *Manager) GlobalHoldCount(ctx context.Context, id LockID, level LockLevel) (int, error) {
	contexts, err := m.query(ctx, id)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range contexts {
		if c.Kind == ContextHold && c.Level == level.ServerLevel() {
			count++
		}
	}
	return count, nil
}

// GlobalPendingCount counts the threads queued for the lock across the cluster.
func (m *Manager) GlobalPendingCount(ctx context.Context, id LockID) (int, error) {
	contexts, err := m.query(ctx, id)
	if err != nil {
		return 0, err
	}
	return CountContexts(contexts, ContextPending) + CountContexts(contexts, ContextTryPending), nil
}

// GlobalWaitingCount counts the threads waiting on the lock across the cluster.
func (m *Manager) GlobalWaitingCount(ctx context.Context, id LockID) (int, error) {
	contexts, err := m.query(ctx, id)
	if err != nil {
		return 0, err
	}
	return CountContexts(contexts, ContextWaiter), nil
}

// ----------------------------------------------------------------------------
// Pinning
// ----------------------------------------------------------------------------

// PinLock keeps the local state of id from being collected until UnpinLock.
func (m *Manager) PinLock(ctx context.Context, id LockID) error {
	if id == "" {
		return errors.NewInvalidArgumentError("lock id is required")
	}
	return m.withLock(ctx, id, func(l *clientLock) error {
		return l.pin()
	})
}

// UnpinLock undoes one PinLock.
func (m *Manager) UnpinLock(ctx context.Context, id LockID) error {
	if id == "" {
		return errors.NewInvalidArgumentError("lock id is required")
	}
	l, ok, err := m.loaded(ctx, id)
	if ok {
		l.unpin()
	}
	return err
}

// ----------------------------------------------------------------------------
// Server callbacks
// ----------------------------------------------------------------------------

// accept reports whether a server message of session may be applied.
func (m *Manager) accept(session SessionID, kind string) bool {
	if session != m.Session() {
		m.metrics.ObserveStale(kind)
		logger.Debug("Dropping message from stale session",
			"kind", kind,
			logger.KeySessionID, uint64(session),
			"current", uint64(m.Session()))
		return false
	}
	return m.lifecycle.State() != StateShutdown
}

// serverLock runs fn against the coordinator of id, replacing it if it was
// collected concurrently.
func (m *Manager) serverLock(id LockID, fn func(*clientLock) error) {
	for {
		l := m.getOrCreate(id)
		err := fn(l)
		if errors.IsGarbageLockError(err) {
			m.locks.CompareAndDelete(id, l)
			continue
		}
		if err != nil {
			logger.Warn("Server message failed", logger.KeyLockID, id.String(), logger.KeyError, err)
		}
		return
	}
}

// Award applies a grant. Awards to VMThreadID make the lock greedy.
func (m *Manager) Award(session SessionID, id LockID, thread ThreadID, level ServerLockLevel, awardID int64) {
	if !m.accept(session, "award") {
		return
	}
	m.serverLock(id, func(l *clientLock) error {
		return l.award(m.remote, thread, level, awardID)
	})
}

// Recall asks for a greedy grant back. A positive lease keeps the grant
// while local threads are queued for it; it is recalled again on expiry.
func (m *Manager) Recall(session SessionID, id LockID, interest ServerLockLevel, lease time.Duration, batch bool) {
	if !m.accept(session, "recall") {
		return
	}
	v, ok := m.locks.Load(id)
	if !ok {
		logger.Debug("Recall for unknown lock", logger.KeyLockID, id.String())
		return
	}
	if v.(*clientLock).recall(m.remote, interest, lease, batch) {
		m.leases.schedule(id, interest, lease)
	}
}

func (m *Manager) recallExpired(id LockID, interest ServerLockLevel) {
	if m.lifecycle.State() != StateRunning {
		return
	}
	if v, ok := m.locks.Load(id); ok {
		v.(*clientLock).recall(m.remote, interest, 0, false)
	}
}

// Refuse fails a try acquire of thread.
func (m *Manager) Refuse(session SessionID, id LockID, thread ThreadID, level ServerLockLevel) {
	if !m.accept(session, "refuse") {
		return
	}
	if v, ok := m.locks.Load(id); ok {
		v.(*clientLock).refuse(thread)
	}
}

// Notified wakes the waiter of thread on behalf of the server.
func (m *Manager) Notified(session SessionID, id LockID, thread ThreadID) {
	if !m.accept(session, "notified") {
		return
	}
	v, ok := m.locks.Load(id)
	if !ok || !v.(*clientLock).notified(thread) {
		logger.Debug("Notified thread is not waiting",
			logger.KeyLockID, id.String(),
			logger.KeyThreadID, thread.String())
	}
}

// Info delivers the answer to a query.
func (m *Manager) Info(session SessionID, id LockID, thread ThreadID, contexts []ExchangeContext) {
	if !m.accept(session, "info") {
		return
	}
	if v, ok := m.locks.Load(id); ok {
		v.(*clientLock).info(thread, contexts)
	}
}

// ----------------------------------------------------------------------------
// Lifecycle
// ----------------------------------------------------------------------------

// Pause blocks new operations while the connection to the server is down.
func (m *Manager) Pause() bool {
	_, ok := m.lifecycle.TryTransition(EventPause)
	return ok
}

// InitializeHandshake moves to STARTING under a new session and returns the
// local state of every lock for the server to rebuild its view.
func (m *Manager) InitializeHandshake(session SessionID) ([]ExchangeContext, error) {
	state, ok := m.lifecycle.TryTransition(EventHandshake)
	if !ok {
		return nil, errors.NewInvalidArgumentError("handshake not allowed in state " + state.String())
	}
	m.session.Store(uint64(session))

	_, span := telemetry.StartSpan(context.Background(), telemetry.SpanHandshake,
		trace.WithAttributes(telemetry.ClientID(string(m.config.ClientID)), telemetry.SessionID(uint64(session))))
	defer span.End()

	var contexts []ExchangeContext
	m.locks.Range(func(_, value any) bool {
		contexts = append(contexts, value.(*clientLock).handshakeContexts()...)
		return true
	})

	span.SetAttributes(telemetry.LockCount(len(contexts)))
	logger.Info("Lock handshake initialized",
		logger.KeySessionID, uint64(session),
		logger.KeyCount, len(contexts))
	return contexts, nil
}

// Unpause resumes operations.
func (m *Manager) Unpause() bool {
	_, ok := m.lifecycle.TryTransition(EventUnpause)
	return ok
}

// Rejoin discards every lock: blocked threads fail with a rejoin error and
// the local state is rebuilt from scratch once a handshake completes.
func (m *Manager) Rejoin() bool {
	if _, ok := m.lifecycle.TryTransition(EventRejoin); !ok {
		return false
	}
	m.dropAll(errors.NewRejoinInProgressError())
	return true
}

// Shutdown fails every blocked thread and stops the background tasks.
// Subsequent operations fail with a not running error.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.lifecycle.TryTransition(EventShutdown)
		m.gc.Stop()
		m.leases.Stop()
		m.dropAll(errors.NewNotRunningError())
		m.remote.Shutdown()
	})
}

func (m *Manager) dropAll(err error) {
	m.locks.Range(func(key, value any) bool {
		value.(*clientLock).abortAll(err)
		m.locks.Delete(key)
		return true
	})
	m.metrics.SetTracked(0)
	m.metrics.SetGreedy(0)
}

// ----------------------------------------------------------------------------
// Diagnostics
// ----------------------------------------------------------------------------

// LockInfo returns the local state of id.
func (m *Manager) LockInfo(id LockID) (LockInfo, bool) {
	v, ok := m.locks.Load(id)
	if !ok {
		return LockInfo{}, false
	}
	return v.(*clientLock).snapshot(), true
}

// Dump returns the local state of every lock, sorted by id.
func (m *Manager) Dump() ManagerInfo {
	info := ManagerInfo{
		ClientID: m.config.ClientID,
		Session:  m.Session(),
		State:    m.State().String(),
	}
	m.locks.Range(func(_, value any) bool {
		info.Locks = append(info.Locks, value.(*clientLock).snapshot())
		return true
	})
	sort.Slice(info.Locks, func(i, j int) bool {
		return info.Locks[i].ID < info.Locks[j].ID
	})
	return info
}

// RecallLock forces a batched recall of a greedy grant, as an idle GC
// sweep would. It reports whether the lock was greedy.
func (m *Manager) RecallLock(ctx context.Context, id LockID) (bool, error) {
	l, ok, err := m.loaded(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if !l.currentGreediness().IsGreedy() {
		return false, nil
	}
	l.recall(m.remote, ServerWrite, 0, true)
	return true, nil
}
