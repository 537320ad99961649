package lock

import (
	"fmt"
	"time"
)

// ============================================================================
// Greediness State Machine
// ============================================================================

// Greediness records what this client may grant locally for one lock.
//
// Greedy states mean the server granted the lock to the whole client
// (VMThreadID) and threads can be served without a round trip. Recalled
// states mean the server asked for the grant back and the client still owes
// a flush and a recall commit.
//
// Every event method is a total function over the states: an event that is
// not defined for the current state panics with an IllegalStateTransition
// error, since it can only come from a coordinator defect.
type Greediness uint8

const (
	// GreedinessGarbage means the coordinator was collected. Absorbing.
	GreedinessGarbage Greediness = iota

	// GreedinessFree means every acquisition must be delegated to the server.
	GreedinessFree

	// GreedinessGreedyRead means READ can be granted locally.
	GreedinessGreedyRead

	// GreedinessGreedyWrite means any level can be granted locally.
	GreedinessGreedyWrite

	GreedinessRecalledRead
	GreedinessRecalledWrite
	GreedinessReadRecallInProgress
	GreedinessWriteRecallInProgress

	// GreedinessRecalledWriteForRead downgrades a greedy write to greedy read.
	GreedinessRecalledWriteForRead
	GreedinessWriteRecallForReadInProgress
)

// AllGreediness lists every state, in declaration order.
var AllGreediness = []Greediness{
	GreedinessGarbage,
	GreedinessFree,
	GreedinessGreedyRead,
	GreedinessGreedyWrite,
	GreedinessRecalledRead,
	GreedinessRecalledWrite,
	GreedinessReadRecallInProgress,
	GreedinessWriteRecallInProgress,
	GreedinessRecalledWriteForRead,
	GreedinessWriteRecallForReadInProgress,
}

// String returns the state name.
func (g Greediness) String() string {
	switch g {
	case GreedinessGarbage:
		return "GARBAGE"
	case GreedinessFree:
		return "FREE"
	case GreedinessGreedyRead:
		return "GREEDY_READ"
	case GreedinessGreedyWrite:
		return "GREEDY_WRITE"
	case GreedinessRecalledRead:
		return "RECALLED_READ"
	case GreedinessRecalledWrite:
		return "RECALLED_WRITE"
	case GreedinessReadRecallInProgress:
		return "READ_RECALL_IN_PROGRESS"
	case GreedinessWriteRecallInProgress:
		return "WRITE_RECALL_IN_PROGRESS"
	case GreedinessRecalledWriteForRead:
		return "RECALLED_WRITE_FOR_READ"
	case GreedinessWriteRecallForReadInProgress:
		return "WRITE_RECALL_FOR_READ_IN_PROGRESS"
	default:
		return fmt.Sprintf("Greediness(%d)", uint8(g))
	}
}

func (g Greediness) illegal(event string) Greediness {
	panic(NewIllegalStateTransitionError(g, event))
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

// CanAward reports whether level can be granted without asking the server.
func (g Greediness) CanAward(level LockLevel) bool {
	switch g {
	case GreedinessGreedyRead:
		return level.IsRead()
	case GreedinessGreedyWrite:
		return level.IsRead() || level.IsWrite()
	case GreedinessGarbage, GreedinessFree,
		GreedinessRecalledRead, GreedinessRecalledWrite, GreedinessRecalledWriteForRead,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress, GreedinessWriteRecallForReadInProgress:
		return false
	default:
		panic(NewIllegalStateTransitionError(g, "canAward"))
	}
}

// IsFree reports whether acquisitions must go to the server.
func (g Greediness) IsFree() bool {
	return g == GreedinessFree
}

// IsGreedy reports whether the client owns an unrecalled greedy grant.
func (g Greediness) IsGreedy() bool {
	return g == GreedinessGreedyRead || g == GreedinessGreedyWrite
}

// IsRecalled reports whether a recall was received but not started.
func (g Greediness) IsRecalled() bool {
	switch g {
	case GreedinessRecalledRead, GreedinessRecalledWrite, GreedinessRecalledWriteForRead:
		return true
	default:
		return false
	}
}

// IsRecallInProgress reports whether the recall flush has started.
func (g Greediness) IsRecallInProgress() bool {
	switch g {
	case GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress, GreedinessWriteRecallForReadInProgress:
		return true
	default:
		return false
	}
}

// IsGarbage reports whether the coordinator was collected.
func (g Greediness) IsGarbage() bool {
	return g == GreedinessGarbage
}

// HoldsGrant reports whether the client still owns a greedy grant, recalled
// or not. The grant is only given back by the recall commit.
func (g Greediness) HoldsGrant() bool {
	return g.IsGreedy() || g.IsRecalled() || g.IsRecallInProgress()
}

// FlushOnUnlock reports whether releasing a hold must first flush the
// operations performed under it.
func (g Greediness) FlushOnUnlock() bool {
	return g == GreedinessFree
}

// FlushLevel is the level up to which pending operations must be flushed
// before the grant can be handed back.
func (g Greediness) FlushLevel() ServerLockLevel {
	switch g {
	case GreedinessRecalledWriteForRead, GreedinessWriteRecallForReadInProgress:
		return ServerRead
	default:
		return ServerWrite
	}
}

// grantLevel is the level the server granted to the whole client.
func (g Greediness) grantLevel() ServerLockLevel {
	switch g {
	case GreedinessGreedyRead, GreedinessRecalledRead, GreedinessReadRecallInProgress:
		return ServerRead
	case GreedinessGreedyWrite, GreedinessRecalledWrite, GreedinessWriteRecallInProgress,
		GreedinessRecalledWriteForRead, GreedinessWriteRecallForReadInProgress:
		return ServerWrite
	default:
		panic(NewIllegalStateTransitionError(g, "grantLevel"))
	}
}

// ToContext returns the greedy context reported in handshakes.
// Only valid while the client holds a grant.
func (g Greediness) ToContext(id LockID, client ClientID) ExchangeContext {
	if !g.HoldsGrant() {
		panic(NewIllegalStateTransitionError(g, "toContext"))
	}
	return ExchangeContext{
		Kind:     ContextGreedy,
		LockID:   id,
		ClientID: client,
		ThreadID: VMThreadID,
		Level:    g.grantLevel(),
	}
}

// ----------------------------------------------------------------------------
// Events
// ----------------------------------------------------------------------------

// Requested is applied when a local thread needs level from the server.
func (g Greediness) Requested(level ServerLockLevel) Greediness {
	switch g {
	case GreedinessGarbage, GreedinessFree, GreedinessGreedyWrite,
		GreedinessRecalledRead, GreedinessRecalledWrite,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress:
		return g
	case GreedinessGreedyRead:
		if level == ServerWrite {
			return GreedinessRecalledRead
		}
		return g
	case GreedinessRecalledWriteForRead:
		if level == ServerWrite {
			return GreedinessRecalledWrite
		}
		return g
	case GreedinessWriteRecallForReadInProgress:
		if level == ServerWrite {
			return GreedinessWriteRecallInProgress
		}
		return g
	default:
		return g.illegal("requested")
	}
}

// Awarded is applied when the server grants the lock to the whole client.
func (g Greediness) Awarded(level ServerLockLevel) Greediness {
	switch g {
	case GreedinessGarbage:
		return g
	case GreedinessFree, GreedinessGreedyRead:
		if level == ServerWrite {
			return GreedinessGreedyWrite
		}
		return GreedinessGreedyRead
	case GreedinessGreedyWrite:
		return g
	case GreedinessRecalledRead, GreedinessRecalledWrite, GreedinessRecalledWriteForRead,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress, GreedinessWriteRecallForReadInProgress:
		return g.illegal("awarded")
	default:
		return g.illegal("awarded")
	}
}

// Recalled is applied when the server asks for the grant back. A greedy
// write survives the recall while its lease is positive and local threads
// are still queued for it.
func (g Greediness) Recalled(lease time.Duration, interest ServerLockLevel, pending int) Greediness {
	switch g {
	case GreedinessGarbage, GreedinessFree:
		return g
	case GreedinessGreedyRead:
		return GreedinessRecalledRead
	case GreedinessGreedyWrite:
		if lease > 0 && pending > 0 {
			return g
		}
		if interest == ServerRead {
			return GreedinessRecalledWriteForRead
		}
		return GreedinessRecalledWrite
	case GreedinessRecalledRead, GreedinessRecalledWrite,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress:
		return g
	case GreedinessRecalledWriteForRead:
		if interest == ServerWrite {
			return GreedinessRecalledWrite
		}
		return g
	case GreedinessWriteRecallForReadInProgress:
		if interest == ServerWrite {
			return GreedinessWriteRecallInProgress
		}
		return g
	default:
		return g.illegal("recalled")
	}
}

// RecallInProgress is applied when the recall flush starts.
func (g Greediness) RecallInProgress() Greediness {
	switch g {
	case GreedinessRecalledRead:
		return GreedinessReadRecallInProgress
	case GreedinessRecalledWrite:
		return GreedinessWriteRecallInProgress
	case GreedinessRecalledWriteForRead:
		return GreedinessWriteRecallForReadInProgress
	case GreedinessGarbage, GreedinessFree, GreedinessGreedyRead, GreedinessGreedyWrite,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress, GreedinessWriteRecallForReadInProgress:
		return g.illegal("recallInProgress")
	default:
		return g.illegal("recallInProgress")
	}
}

// RecallCommitted is applied when the grant is handed back to the server.
func (g Greediness) RecallCommitted() Greediness {
	switch g {
	case GreedinessRecalledRead, GreedinessRecalledWrite,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress:
		return GreedinessFree
	case GreedinessRecalledWriteForRead, GreedinessWriteRecallForReadInProgress:
		return GreedinessGreedyRead
	case GreedinessGarbage, GreedinessFree, GreedinessGreedyRead, GreedinessGreedyWrite:
		return g.illegal("recallCommitted")
	default:
		return g.illegal("recallCommitted")
	}
}

// MarkAsGarbage collects a FREE lock. Any state holding a grant refuses and
// is returned unchanged; the caller recalls it first.
func (g Greediness) MarkAsGarbage() Greediness {
	switch g {
	case GreedinessFree, GreedinessGarbage:
		return GreedinessGarbage
	case GreedinessGreedyRead, GreedinessGreedyWrite,
		GreedinessRecalledRead, GreedinessRecalledWrite, GreedinessRecalledWriteForRead,
		GreedinessReadRecallInProgress, GreedinessWriteRecallInProgress, GreedinessWriteRecallForReadInProgress:
		return g
	default:
		return g.illegal("markAsGarbage")
	}
}
