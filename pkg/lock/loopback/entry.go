package loopback

import (
	"cmp"
	"slices"
	"time"

	"github.com/marmos91/dittolock/pkg/lock"
)

// entry is the server view of one lock.
type entry struct {
	id        lock.LockID
	greedy    map[lock.ClientID]lock.ServerLockLevel
	recalling map[lock.ClientID]lock.ServerLockLevel
	holds     map[holder]lock.ServerLockLevel
	pending   []*request
	waiters   []holder
}

func newEntry(id lock.LockID) *entry {
	return &entry{
		id:        id,
		greedy:    make(map[lock.ClientID]lock.ServerLockLevel),
		recalling: make(map[lock.ClientID]lock.ServerLockLevel),
		holds:     make(map[holder]lock.ServerLockLevel),
	}
}

func (e *entry) empty() bool {
	return len(e.greedy) == 0 && len(e.holds) == 0 && len(e.pending) == 0 && len(e.waiters) == 0
}

func (e *entry) isGreedy(client lock.ClientID) bool {
	_, ok := e.greedy[client]
	return ok
}

// addRequest queues r unless its thread already has a request queued.
func (e *entry) addRequest(r *request) bool {
	for _, q := range e.pending {
		if q.holder == r.holder {
			return false
		}
	}
	e.pending = append(e.pending, r)
	return true
}

func (e *entry) hasRequest(r *request) bool {
	return slices.Contains(e.pending, r)
}

func (e *entry) removeRequest(r *request) bool {
	i := slices.Index(e.pending, r)
	if i < 0 {
		return false
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	e.pending = slices.Delete(e.pending, i, i+1)
	return true
}

func (e *entry) dropRequestsOf(client lock.ClientID) {
	e.pending = slices.DeleteFunc(e.pending, func(r *request) bool {
		if r.client != client {
			return false
		}
		if r.timer != nil {
			r.timer.Stop()
		}
		return true
	})
}

func (e *entry) addWaiter(h holder) {
	if !slices.Contains(e.waiters, h) {
		e.waiters = append(e.waiters, h)
	}
}

func (e *entry) removeWaiter(h holder) bool {
	i := slices.Index(e.waiters, h)
	if i < 0 {
		return false
	}
	e.waiters = slices.Delete(e.waiters, i, i+1)
	return true
}

func (e *entry) dropClient(client lock.ClientID) {
	delete(e.greedy, client)
	delete(e.recalling, client)
	for h := range e.holds {
		if h.client == client {
			delete(e.holds, h)
		}
	}
	e.dropRequestsOf(client)
	e.waiters = slices.DeleteFunc(e.waiters, func(h holder) bool {
		return h.client == client
	})
}

func (e *entry) stopTimers() {
	for _, r := range e.pending {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
}

// conflictingGreedy returns the greedy clients a request for level has to
// wait for.
func (e *entry) conflictingGreedy(level lock.ServerLockLevel) []lock.ClientID {
	var out []lock.ClientID
	for c, held := range e.greedy {
		if level == lock.ServerWrite || held == lock.ServerWrite {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

func (e *entry) conflictingHold(r *request) bool {
	for h, held := range e.holds {
		if h == r.holder {
			continue
		}
		if r.level == lock.ServerWrite || held == lock.ServerWrite {
			return true
		}
	}
	return false
}

// greedyLevel decides whether r can be served by granting its whole client.
// That requires the client to be the only one interested in the lock, or
// every interest to be shared reads.
func (e *entry) greedyLevel(r *request) (lock.ServerLockLevel, bool) {
	if e.isGreedy(r.client) || len(e.holds) > 0 || len(e.waiters) > 0 {
		return 0, false
	}
	for _, q := range e.pending {
		if q.client != r.client {
			return 0, false
		}
	}
	if len(e.greedy) == 0 {
		return lock.ServerWrite, true
	}
	if r.level != lock.ServerRead {
		return 0, false
	}
	for _, q := range e.pending {
		if q.level != lock.ServerRead {
			return 0, false
		}
	}
	return lock.ServerRead, true
}

// importContext records a context reported by client in a recall commit or
// a handshake.
func (e *entry) importContext(client lock.ClientID, c lock.ExchangeContext, s *Server) {
	h := holder{client: client, thread: c.ThreadID}
	switch c.Kind {
	case lock.ContextGreedy:
		e.greedy[client] = c.Level
	case lock.ContextHold:
		e.holds[h] = c.Level
	case lock.ContextPending:
		e.addRequest(&request{holder: h, level: c.Level})
	case lock.ContextTryPending:
		r := &request{holder: h, level: c.Level, try: true}
		if e.addRequest(r) {
			r.timer = time.AfterFunc(max(c.Timeout, 0), func() {
				s.expire(e.id, r)
			})
		}
	case lock.ContextWaiter:
		e.addWaiter(h)
	}
}

// contexts returns the server view of the lock, as answered to queries.
func (e *entry) contexts() []lock.ExchangeContext {
	var out []lock.ExchangeContext
	clients := make([]lock.ClientID, 0, len(e.greedy))
	for c := range e.greedy {
		clients = append(clients, c)
	}
	slices.Sort(clients)
	for _, c := range clients {
		out = append(out, lock.ExchangeContext{
			Kind: lock.ContextGreedy, LockID: e.id, ClientID: c, ThreadID: lock.VMThreadID, Level: e.greedy[c],
		})
	}

	holders := make([]holder, 0, len(e.holds))
	for h := range e.holds {
		holders = append(holders, h)
	}
	slices.SortFunc(holders, func(a, b holder) int {
		return cmp.Or(cmp.Compare(a.client, b.client), cmp.Compare(a.thread, b.thread))
	})
	for _, h := range holders {
		out = append(out, lock.ExchangeContext{
			Kind: lock.ContextHold, LockID: e.id, ClientID: h.client, ThreadID: h.thread, Level: e.holds[h],
		})
	}

	for _, r := range e.pending {
		kind := lock.ContextPending
		if r.try {
			kind = lock.ContextTryPending
		}
		out = append(out, lock.ExchangeContext{
			Kind: kind, LockID: e.id, ClientID: r.client, ThreadID: r.thread, Level: r.level,
		})
	}
	for _, w := range e.waiters {
		out = append(out, lock.ExchangeContext{
			Kind: lock.ContextWaiter, LockID: e.id, ClientID: w.client, ThreadID: w.thread, Level: lock.ServerWrite,
		})
	}
	return out
}
