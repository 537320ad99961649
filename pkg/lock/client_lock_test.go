package lock

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/marmos91/dittolock/pkg/lock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock() (*clientLock, *fakeGateway) {
	return newClientLock("orders", "client-test", nil), newFakeGateway()
}

// queueLevels returns the levels of the holds of thread in queue order.
func queueLevels(l *clientLock, thread ThreadID) []LockLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LockLevel
	l.queue.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.owner == thread {
			out = append(out, n.level)
		}
		return true
	})
	return out
}

func TestClientLock_ConcurrentLevelIsUntracked(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	thread := NewThreadID()

	ok, err := l.lock(context.Background(), gw, acquireRequest{thread: thread, level: LevelConcurrent})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, l.queue.len())
	assert.Empty(t, gw.calls)

	require.NoError(t, l.unlock(context.Background(), gw, thread, LevelConcurrent))
}

func TestClientLock_GreedyGrantsAreLocal(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))

	tests := []struct {
		name  string
		level LockLevel
	}{
		{"read", LevelRead},
		{"write", LevelWrite},
		{"synchronous_write", LevelSynchronousWrite},
	}
	for _, tt := range tests {
		thread := NewThreadID()
		ok, err := l.lock(context.Background(), gw, acquireRequest{thread: thread, level: tt.level})
		require.NoError(t, err, tt.name)
		assert.True(t, ok, tt.name)
		assert.True(t, l.isLockedBy(thread, tt.level), tt.name)
		require.NoError(t, l.unlock(context.Background(), gw, thread, tt.level), tt.name)
	}

	assert.Zero(t, gw.count("lock"))
	assert.Zero(t, gw.count("unlock"))
	// Only the synchronous write flushes while greedy.
	assert.Equal(t, 1, gw.count("flush"))
}

func TestClientLock_UpgradeIsRejected(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))
	thread := NewThreadID()

	ok, err := l.lock(context.Background(), gw, acquireRequest{thread: thread, level: LevelRead})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.lock(context.Background(), gw, acquireRequest{thread: thread, level: LevelWrite})
	assert.False(t, ok)
	assert.True(t, errors.IsUpgradeNotSupportedError(err))
	assert.Equal(t, []LockLevel{LevelRead}, queueLevels(l, thread))
}

func TestClientLock_ReentrantUnderWrite(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))
	thread := NewThreadID()

	for _, level := range []LockLevel{LevelWrite, LevelRead, LevelWrite} {
		ok, err := l.lock(context.Background(), gw, acquireRequest{thread: thread, level: level})
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 2, l.localHoldCount(thread, LevelWrite))
	assert.Equal(t, []LockLevel{LevelWrite, LevelRead, LevelWrite}, queueLevels(l, thread))
}

func TestClientLock_UnlockWithoutHold(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()

	err := l.unlock(context.Background(), gw, NewThreadID(), LevelWrite)
	assert.True(t, errors.IsIllegalMonitorStateError(err))
}

func TestClientLock_TryLockFailsFastWhenHeldLocally(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))

	holder := NewThreadID()
	ok, err := l.lock(context.Background(), gw, acquireRequest{thread: holder, level: LevelWrite})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.lock(context.Background(), gw, acquireRequest{thread: NewThreadID(), level: LevelRead, try: true})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, l.queue.count(kindPending))
	assert.Zero(t, gw.count("trylock"))
}

func TestClientLock_AbandonReturnsRacingAward(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	thread := NewThreadID()

	n := newTryPending(thread, LevelWrite, time.Second)
	l.queue.pushBack(n)
	n.awarded = true

	ok, err := l.abandon(gw, n, errParkTimeout)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, l.queue.len())

	unlocks := gw.callsOf("unlock")
	require.Len(t, unlocks, 1)
	assert.Equal(t, thread, unlocks[0].thread)
	assert.Equal(t, ServerWrite, unlocks[0].level)
}

func TestClientLock_AbandonInterrupted(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()

	n := newPending(NewThreadID(), LevelRead)
	l.queue.pushBack(n)

	ok, err := l.abandon(gw, n, context.Canceled)
	assert.False(t, ok)
	assert.True(t, errors.IsInterruptedError(err))
	assert.True(t, goerrors.Is(err, context.Canceled))
	assert.Zero(t, gw.count("unlock"))
}

func TestClientLock_StaleAwardIsDropped(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()

	require.NoError(t, l.award(gw, VMThreadID, ServerRead, 5))
	assert.Equal(t, GreedinessGreedyRead, l.currentGreediness())

	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 4))
	assert.Equal(t, GreedinessGreedyRead, l.currentGreediness())

	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 6))
	assert.Equal(t, GreedinessGreedyWrite, l.currentGreediness())
}

func TestClientLock_UnexpectedAwardIsReturned(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	thread := NewThreadID()

	require.NoError(t, l.award(gw, thread, ServerRead, 1))

	unlocks := gw.callsOf("unlock")
	require.Len(t, unlocks, 1)
	assert.Equal(t, thread, unlocks[0].thread)
	assert.Equal(t, ServerRead, unlocks[0].level)
}

func TestClientLock_RecallCommitsReadHolds(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	require.NoError(t, l.award(gw, VMThreadID, ServerRead, 1))

	reader := NewThreadID()
	ok, err := l.lock(context.Background(), gw, acquireRequest{thread: reader, level: LevelRead})
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, l.recall(gw, ServerWrite, 0, false))
	assert.Equal(t, GreedinessFree, l.currentGreediness())

	commits := gw.callsOf("recallcommit")
	require.Len(t, commits, 1)
	require.Len(t, commits[0].contexts, 1)
	assert.Equal(t, ContextHold, commits[0].contexts[0].Kind)
	assert.Equal(t, reader, commits[0].contexts[0].ThreadID)

	// The hold is now a server grant: releasing it flushes and unlocks.
	require.NoError(t, l.unlock(context.Background(), gw, reader, LevelRead))
	assert.Equal(t, 1, gw.count("flush"))
	assert.Equal(t, 1, gw.count("unlock"))
}

func TestClientLock_RecallWaitsForWriteHold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		asyncFlush bool
		afterLock  Greediness
	}{
		{"sync flush", false, GreedinessFree},
		{"async flush", true, GreedinessWriteRecallInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, gw := newTestLock()
			gw.asyncFlush = tt.asyncFlush
			require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))

			writer := NewThreadID()
			ok, err := l.lock(context.Background(), gw, acquireRequest{thread: writer, level: LevelWrite})
			require.NoError(t, err)
			require.True(t, ok)

			assert.False(t, l.recall(gw, ServerWrite, 0, false))
			assert.Equal(t, GreedinessRecalledWrite, l.currentGreediness())
			assert.Zero(t, gw.count("recallcommit"))

			require.NoError(t, l.unlock(context.Background(), gw, writer, LevelWrite))
			assert.Equal(t, tt.afterLock, l.currentGreediness())

			if tt.asyncFlush {
				assert.Equal(t, 1, gw.completeFlushes())
				assert.Equal(t, GreedinessFree, l.currentGreediness())
			}
			assert.Equal(t, 1, gw.count("recallcommit"))
		})
	}
}

func TestClientLock_RecallReflushesWhenLevelMoves(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	gw.asyncFlush = true
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))

	assert.False(t, l.recall(gw, ServerRead, 0, false))
	assert.Equal(t, GreedinessWriteRecallForReadInProgress, l.currentGreediness())

	writer := NewThreadID()
	done := make(chan error, 1)
	go func() {
		_, err := l.lock(context.Background(), gw, acquireRequest{thread: writer, level: LevelWrite})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return l.currentGreediness() == GreedinessWriteRecallInProgress
	}, time.Second, time.Millisecond)

	// The READ flush completes but the level moved to WRITE meanwhile.
	assert.Equal(t, 1, gw.completeFlushes())
	assert.Equal(t, GreedinessWriteRecallInProgress, l.currentGreediness())
	flushes := gw.callsOf("asyncflush")
	require.Len(t, flushes, 2)
	assert.Equal(t, ServerRead, flushes[0].level)
	assert.Equal(t, ServerWrite, flushes[1].level)

	assert.Equal(t, 1, gw.completeFlushes())
	assert.Equal(t, GreedinessFree, l.currentGreediness())

	commits := gw.callsOf("recallcommit")
	require.Len(t, commits, 1)
	require.Len(t, commits[0].contexts, 1)
	assert.Equal(t, ContextPending, commits[0].contexts[0].Kind)
	assert.Equal(t, writer, commits[0].contexts[0].ThreadID)

	// The pending acquire was handed over with the commit.
	require.NoError(t, l.award(gw, writer, ServerWrite, 2))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer was not granted")
	}
	assert.Zero(t, gw.count("lock"))
	assert.True(t, l.isLockedBy(writer, LevelWrite))
}

func TestClientLock_GarbageCollection(t *testing.T) {
	t.Parallel()

	t.Run("free lock collected after idle sweep", func(t *testing.T) {
		l, gw := newTestLock()
		assert.False(t, l.tryMarkAsGarbage(gw, 1))
		assert.True(t, l.tryMarkAsGarbage(gw, 1))
		assert.False(t, l.tryMarkAsGarbage(gw, 1))
		assert.Equal(t, GreedinessGarbage, l.currentGreediness())
	})

	t.Run("greedy lock recalled in batch first", func(t *testing.T) {
		l, gw := newTestLock()
		require.NoError(t, l.award(gw, VMThreadID, ServerRead, 1))

		assert.False(t, l.tryMarkAsGarbage(gw, 1))
		assert.False(t, l.tryMarkAsGarbage(gw, 1))
		assert.Equal(t, GreedinessFree, l.currentGreediness())

		commits := gw.callsOf("recallcommit")
		require.Len(t, commits, 1)
		assert.True(t, commits[0].batch)

		assert.True(t, l.tryMarkAsGarbage(gw, 1))
	})

	t.Run("pinned lock is kept", func(t *testing.T) {
		l, gw := newTestLock()
		require.NoError(t, l.pin())
		for i := 0; i < 5; i++ {
			assert.False(t, l.tryMarkAsGarbage(gw, 1))
		}
		l.unpin()
		assert.False(t, l.tryMarkAsGarbage(gw, 1))
		assert.True(t, l.tryMarkAsGarbage(gw, 1))
	})

	t.Run("use resets the idle count", func(t *testing.T) {
		l, gw := newTestLock()
		assert.False(t, l.tryMarkAsGarbage(gw, 2))
		assert.False(t, l.tryMarkAsGarbage(gw, 2))

		require.NoError(t, l.pin())
		l.unpin()

		assert.False(t, l.tryMarkAsGarbage(gw, 2))
		assert.False(t, l.tryMarkAsGarbage(gw, 2))
		assert.True(t, l.tryMarkAsGarbage(gw, 2))
	})

	t.Run("garbage lock refuses use", func(t *testing.T) {
		l, gw := newTestLock()
		require.True(t, l.tryMarkAsGarbage(gw, 0))
		require.Equal(t, GreedinessGarbage, l.currentGreediness())

		_, err := l.lock(context.Background(), gw, acquireRequest{thread: NewThreadID(), level: LevelRead})
		assert.True(t, errors.IsGarbageLockError(err))
		assert.True(t, errors.IsGarbageLockError(l.pin()))
	})
}

func TestClientLock_HandshakeContexts(t *testing.T) {
	t.Parallel()
	l, gw := newTestLock()
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 3))

	holder := NewThreadID()
	ok, err := l.lock(context.Background(), gw, acquireRequest{thread: holder, level: LevelWrite})
	require.NoError(t, err)
	require.True(t, ok)

	waiting := NewThreadID()
	done := make(chan error, 1)
	go func() {
		_, err := l.lock(context.Background(), gw, acquireRequest{thread: waiting, level: LevelRead})
		done <- err
	}()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.queue.count(kindPending) == 1
	}, time.Second, time.Millisecond)

	contexts := l.handshakeContexts()
	require.Len(t, contexts, 3)
	assert.Equal(t, ContextGreedy, contexts[0].Kind)
	assert.Equal(t, ServerWrite, contexts[0].Level)
	assert.Equal(t, 1, CountContexts(contexts, ContextHold))
	assert.Equal(t, 1, CountContexts(contexts, ContextPending))

	// Award ids restart with the new session.
	require.NoError(t, l.award(gw, VMThreadID, ServerWrite, 1))

	l.abortAll(errors.NewRejoinInProgressError())
	select {
	case err := <-done:
		assert.True(t, errors.IsRejoinInProgressError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("pending acquire was not aborted")
	}
	assert.True(t, l.currentGreediness().IsGarbage())
}

func TestClientLock_HandshakeReportsRemainingTime(t *testing.T) {
	t.Parallel()
	l, _ := newTestLock()

	timed := newTryPending(NewThreadID(), LevelWrite, time.Second)
	timed.deadline = timed.deadline.Add(-400 * time.Millisecond)
	expired := newWaiter(NewThreadID(), nil, time.Second)
	expired.waitDeadline = time.Now().Add(-time.Millisecond)
	untimed := newWaiter(NewThreadID(), nil, 0)

	l.mu.Lock()
	l.queue.pushBack(timed)
	l.queue.pushBack(expired)
	l.queue.pushBack(untimed)
	l.mu.Unlock()

	contexts := l.handshakeContexts()
	require.Len(t, contexts, 3)

	assert.Equal(t, ContextTryPending, contexts[0].Kind)
	assert.Positive(t, contexts[0].Timeout)
	assert.LessOrEqual(t, contexts[0].Timeout, 600*time.Millisecond)

	assert.Equal(t, ContextWaiter, contexts[1].Kind)
	assert.Equal(t, time.Nanosecond, contexts[1].Timeout)

	assert.Equal(t, ContextWaiter, contexts[2].Kind)
	assert.Zero(t, contexts[2].Timeout)
}
