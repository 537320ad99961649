package lock

// ============================================================================
// Lock State Queue
// ============================================================================

// stateQueue is the ordered ledger of holds, pending acquires and waiters of
// one lock. Nodes live in an arena addressed by handle; order holds the
// handles in queue order. Holds are added at the front, pending acquires at
// the back and waiters where their thread's holds used to be.
//
// Not safe for concurrent use: guarded by the owning clientLock's mutex.
type stateQueue struct {
	nodes map[nodeHandle]*stateNode
	order []nodeHandle
	next  nodeHandle
}

func newStateQueue() stateQueue {
	return stateQueue{nodes: make(map[nodeHandle]*stateNode)}
}

func (q *stateQueue) adopt(n *stateNode) {
	q.next++
	n.handle = q.next
	q.nodes[n.handle] = n
}

func (q *stateQueue) pushFront(n *stateNode) {
	q.insertAt(0, n)
}

func (q *stateQueue) pushBack(n *stateNode) {
	q.insertAt(len(q.order), n)
}

// insertAt places n at position i (clamped to the queue bounds).
func (q *stateQueue) insertAt(i int, n *stateNode) {
	q.adopt(n)
	if i < 0 {
		i = 0
	}
	if i >= len(q.order) {
		q.order = append(q.order, n.handle)
		return
	}
	q.order = append(q.order, 0)
	copy(q.order[i+1:], q.order[i:])
	q.order[i] = n.handle
}

// remove drops the node with handle h and returns its former position,
// or -1 if it was not queued.
func (q *stateQueue) remove(h nodeHandle) int {
	if _, ok := q.nodes[h]; !ok {
		return -1
	}
	delete(q.nodes, h)
	for i, cur := range q.order {
		if cur == h {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return i
		}
	}
	return -1
}

func (q *stateQueue) contains(h nodeHandle) bool {
	_, ok := q.nodes[h]
	return ok
}

func (q *stateQueue) len() int {
	return len(q.order)
}

// each visits nodes in queue order until fn returns false.
func (q *stateQueue) each(fn func(*stateNode) bool) {
	for _, h := range q.order {
		if !fn(q.nodes[h]) {
			return
		}
	}
}

// snapshot returns the nodes in queue order.
func (q *stateQueue) snapshot() []*stateNode {
	out := make([]*stateNode, 0, len(q.order))
	for _, h := range q.order {
		out = append(out, q.nodes[h])
	}
	return out
}

// ----------------------------------------------------------------------------
// Scan-and-skip lookups
// ----------------------------------------------------------------------------

// findHold returns the first hold matching owner and level.
func (q *stateQueue) findHold(owner ThreadID, level LockLevel) *stateNode {
	var found *stateNode
	q.each(func(n *stateNode) bool {
		if n.kind == kindHold && n.owner == owner && n.level == level {
			found = n
			return false
		}
		return true
	})
	return found
}

// firstPending returns the first pending acquire, or nil.
func (q *stateQueue) firstPending() *stateNode {
	var found *stateNode
	q.each(func(n *stateNode) bool {
		if n.kind == kindPending {
			found = n
			return false
		}
		return true
	})
	return found
}

// nextPendingAfter returns the first pending acquire queued behind h.
func (q *stateQueue) nextPendingAfter(h nodeHandle) *stateNode {
	seen := false
	for _, cur := range q.order {
		if cur == h {
			seen = true
			continue
		}
		if seen {
			if n := q.nodes[cur]; n.kind == kindPending {
				return n
			}
		}
	}
	return nil
}

// pendingFor returns the first unanswered pending acquire of owner.
func (q *stateQueue) pendingFor(owner ThreadID, tryOnly bool) *stateNode {
	var found *stateNode
	q.each(func(n *stateNode) bool {
		if n.kind != kindPending || n.owner != owner || n.awarded || n.refused {
			return true
		}
		if tryOnly && !n.try {
			return true
		}
		found = n
		return false
	})
	return found
}

// waiterFor returns the waiter node of owner, or nil.
func (q *stateQueue) waiterFor(owner ThreadID) *stateNode {
	var found *stateNode
	q.each(func(n *stateNode) bool {
		if n.kind == kindWaiter && n.owner == owner {
			found = n
			return false
		}
		return true
	})
	return found
}

// ofKind returns the nodes of kind k in queue order.
func (q *stateQueue) ofKind(k nodeKind) []*stateNode {
	var out []*stateNode
	q.each(func(n *stateNode) bool {
		if n.kind == k {
			out = append(out, n)
		}
		return true
	})
	return out
}

func (q *stateQueue) count(k nodeKind) int {
	c := 0
	q.each(func(n *stateNode) bool {
		if n.kind == k {
			c++
		}
		return true
	})
	return c
}

// removeHoldsOf removes every hold of owner. It returns the position of the
// first removed hold and the removed holds in queue order (innermost first).
func (q *stateQueue) removeHoldsOf(owner ThreadID) (int, []heldLevel) {
	pos := -1
	var saved []heldLevel
	kept := q.order[:0]
	for i, h := range q.order {
		n := q.nodes[h]
		if n.kind == kindHold && n.owner == owner {
			if pos < 0 {
				pos = i
			}
			saved = append(saved, heldLevel{owner: n.owner, level: n.level})
			delete(q.nodes, h)
			continue
		}
		kept = append(kept, h)
	}
	q.order = kept
	if pos > len(q.order) {
		pos = len(q.order)
	}
	return pos, saved
}
