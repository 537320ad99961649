package lock

import (
	"sync"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
)

// ============================================================================
// Greedy Lease Scheduler
// ============================================================================

// leaseExpiry is a greedy grant kept past a recall until its lease ends.
type leaseExpiry struct {
	id       LockID
	interest ServerLockLevel
	deadline time.Time
}

// leaseScheduler recalls leased greedy grants once their lease expires.
//
// The scanner wakes every scanInterval and re-sends the recall with a zero
// lease for every expired entry.
type leaseScheduler struct {
	manager      *Manager
	scanInterval time.Duration

	mu      sync.Mutex
	leases  map[LockID]leaseExpiry
	running bool
	stop    chan struct{}
	stopped chan struct{}
}

func newLeaseScheduler(m *Manager, scanInterval time.Duration) *leaseScheduler {
	if scanInterval <= 0 {
		scanInterval = DefaultLeaseScanInterval
	}
	return &leaseScheduler{
		manager:      m,
		scanInterval: scanInterval,
		leases:       make(map[LockID]leaseExpiry),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// schedule records a lease. A later deadline for the same lock wins.
func (s *leaseScheduler) schedule(id LockID, interest ServerLockLevel, lease time.Duration) {
	deadline := time.Now().Add(lease)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.leases[id]; ok && cur.deadline.After(deadline) {
		return
	}
	s.leases[id] = leaseExpiry{id: id, interest: interest, deadline: deadline}
}

// pending returns the number of scheduled leases.
func (s *leaseScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

// Start begins the scan loop. Safe to call multiple times.
func (s *leaseScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.scanLoop()
}

// Stop stops the scan loop and drops every scheduled lease.
func (s *leaseScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.leases = make(map[LockID]leaseExpiry)
		s.mu.Unlock()
		return
	}
	s.running = false
	s.leases = make(map[LockID]leaseExpiry)
	close(s.stop)
	s.mu.Unlock()

	<-s.stopped
}

func (s *leaseScheduler) scanLoop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.expire(now)
		}
	}
}

// expire recalls every lease whose deadline passed.
func (s *leaseScheduler) expire(now time.Time) {
	s.mu.Lock()
	var due []leaseExpiry
	for id, e := range s.leases {
		if !now.Before(e.deadline) {
			due = append(due, e)
			delete(s.leases, id)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		logger.Debug("Greedy lease expired", logger.KeyLockID, e.id.String())
		s.manager.recallExpired(e.id, e.interest)
	}
}
