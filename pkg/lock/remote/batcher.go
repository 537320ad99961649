package remote

import (
	"sync"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock"
)

// commitBatcher coalesces batched recall commits. A batch is sent once it
// reaches size commits or delay after its first commit, whichever comes
// first. A request for a lock with a queued commit pulls that commit out
// ahead of it through flushLock, so commits never arrive after later
// requests for the same lock.
type commitBatcher struct {
	send  func([]Commit)
	size  int
	delay time.Duration

	// sendMu is held across taking commits and sending them.
	sendMu sync.Mutex

	mu      sync.Mutex
	pending []Commit
	started bool

	kick      chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func newCommitBatcher(size int, delay time.Duration, send func([]Commit)) *commitBatcher {
	return &commitBatcher{
		send:      send,
		size:      size,
		delay:     delay,
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start runs the batching loop.
func (b *commitBatcher) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	go b.run()
}

// Stop sends whatever is pending and stops the loop.
func (b *commitBatcher) Stop() {
	b.mu.Lock()
	started := b.started
	b.started = false
	b.mu.Unlock()

	if !started {
		b.flush()
		return
	}
	close(b.stopCh)
	<-b.stoppedCh
}

// add queues c. It never blocks.
func (b *commitBatcher) add(c Commit) {
	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *commitBatcher) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *commitBatcher) flush() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	logger.Debug("Sending recall commit batch", logger.KeyCount, len(batch))
	b.send(batch)
}

func (b *commitBatcher) run() {
	defer close(b.stoppedCh)

	var timer *time.Timer
	var expired <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, expired = nil, nil
		}
	}

	for {
		select {
		case <-b.stopCh:
			stopTimer()
			b.flush()
			return

		case <-b.kick:
			n := b.len()
			switch {
			case n >= b.size:
				stopTimer()
				b.flush()
			case n > 0 && timer == nil:
				timer = time.NewTimer(b.delay)
				expired = timer.C
			}

		case <-expired:
			timer, expired = nil, nil
			b.flush()
		}
	}
}

// flushLock sends the queued commits for id, if any. It also waits out a
// batch already being sent, which may carry id.
func (b *commitBatcher) flushLock(id lock.LockID) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	var own []Commit
	rest := make([]Commit, 0, len(b.pending))
	for _, c := range b.pending {
		if c.LockID == id {
			own = append(own, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(own) > 0 {
		b.pending = rest
	}
	b.mu.Unlock()

	if len(own) == 0 {
		return
	}
	logger.Debug("Sending recall commits ahead of request", logger.KeyLockID, id.String(), logger.KeyCount, len(own))
	b.send(own)
}
