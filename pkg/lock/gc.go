package lock

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
)

// ============================================================================
// Lock Garbage Collector
// ============================================================================

// gcTask runs RunGC on a fixed delay.
type gcTask struct {
	manager  *Manager
	interval time.Duration

	stop    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

func newGCTask(m *Manager, interval time.Duration) *gcTask {
	return &gcTask{
		manager:  m,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the sweep loop. Safe to call multiple times.
func (t *gcTask) Start() {
	if t.interval <= 0 {
		return
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	t.stopped = make(chan struct{})
	t.mu.Unlock()

	go t.sweepLoop()
}

// Stop stops the sweep loop and waits for it to exit.
func (t *gcTask) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stop)
	t.mu.Unlock()

	<-t.stopped
}

func (t *gcTask) sweepLoop() {
	defer close(t.stopped)

	// A timer rather than a ticker: the delay runs from the end of a sweep.
	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			if n := t.manager.RunGC(); n > 0 {
				logger.Debug("Lock GC: collected idle locks", logger.KeyCount, n)
			}
			timer.Reset(t.interval)
		}
	}
}

// RunGC sweeps every lock once and drops those that became garbage. It
// returns the number of locks collected.
func (m *Manager) RunGC() int {
	if m.lifecycle.State() != StateRunning {
		return 0
	}

	_, span := telemetry.StartSpan(context.Background(), telemetry.SpanGC)
	defer span.End()

	idle := m.config.idleSweeps()
	collected, tracked, greedy := 0, 0, 0

	m.locks.Range(func(key, value any) bool {
		l := value.(*clientLock)
		if l.tryMarkAsGarbage(m.remote, idle) {
			if m.locks.CompareAndDelete(key, value) {
				collected++
			}
			return true
		}
		tracked++
		if l.currentGreediness().IsGreedy() {
			greedy++
		}
		return true
	})

	span.SetAttributes(telemetry.LockCount(collected))
	m.metrics.ObserveCollected(collected)
	m.metrics.SetTracked(tracked)
	m.metrics.SetGreedy(greedy)
	return collected
}
