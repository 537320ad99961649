// Package lock implements the client side of a distributed lock service.
//
// Application goroutines acquire locks identified by a LockID on behalf of an
// explicit ThreadID. Ownership is cached locally when the server grants the
// whole client a greedy lease, so repeated acquisitions need no round trip
// until the server recalls the grant.
//
// The package is organized as:
//   - Greediness: per-lock state machine deciding what can be granted locally
//   - clientLock: per-lock coordinator guarding greediness and the state queue
//   - Manager: LockID map, lifecycle gate, GC and lease scheduling
//   - RemoteLockGateway: the boundary towards the server
package lock

import (
	"fmt"
	"math"
	"sync/atomic"
)

// ============================================================================
// Identifiers
// ============================================================================

// LockID identifies a distributed lock. Compared by value.
type LockID string

// String returns the lock identifier.
func (id LockID) String() string {
	return string(id)
}

// ThreadID identifies a local logical thread requesting a lock.
type ThreadID uint64

const (
	// NullThreadID is never handed out by NewThreadID.
	NullThreadID ThreadID = 0

	// VMThreadID stands for the greedy grant owned by the whole client
	// rather than by any one thread.
	VMThreadID ThreadID = math.MaxUint64
)

var threadIDs atomic.Uint64

// NewThreadID allocates a process-unique thread identifier.
func NewThreadID() ThreadID {
	return ThreadID(threadIDs.Add(1))
}

// String returns a short representation of the thread.
func (t ThreadID) String() string {
	if t == VMThreadID {
		return "vm"
	}
	return fmt.Sprintf("t%d", uint64(t))
}

// SessionID identifies one incarnation of the client to server session.
// Server messages stamped with another session are stale.
type SessionID uint64

// ClientID identifies this client node in exchange contexts.
type ClientID string

// ============================================================================
// Lock Levels
// ============================================================================

// LockLevel is the level requested by application threads.
type LockLevel int

const (
	// LevelRead is shared among readers.
	LevelRead LockLevel = iota

	// LevelWrite excludes holds of any other thread.
	LevelWrite

	// LevelSynchronousWrite is a write lock whose release waits for all
	// operations performed under it to be acknowledged.
	LevelSynchronousWrite

	// LevelConcurrent is always granted and never tracked.
	LevelConcurrent
)

// String returns the level name.
func (l LockLevel) String() string {
	switch l {
	case LevelRead:
		return "READ"
	case LevelWrite:
		return "WRITE"
	case LevelSynchronousWrite:
		return "SYNCHRONOUS_WRITE"
	case LevelConcurrent:
		return "CONCURRENT"
	default:
		return fmt.Sprintf("LockLevel(%d)", int(l))
	}
}

// IsWrite returns true for WRITE and SYNCHRONOUS_WRITE.
func (l LockLevel) IsWrite() bool {
	return l == LevelWrite || l == LevelSynchronousWrite
}

// IsRead returns true for READ.
func (l LockLevel) IsRead() bool {
	return l == LevelRead
}

// Valid reports whether l is one of the defined levels.
func (l LockLevel) Valid() bool {
	return l >= LevelRead && l <= LevelConcurrent
}

// ServerLevel collapses the client level to the level the server tracks.
// CONCURRENT has no server representation and maps to READ.
func (l LockLevel) ServerLevel() ServerLockLevel {
	if l.IsWrite() {
		return ServerWrite
	}
	return ServerRead
}

// ParseLockLevel parses a level name (case-sensitive, as printed by String).
func ParseLockLevel(s string) (LockLevel, error) {
	switch s {
	case "READ", "read":
		return LevelRead, nil
	case "WRITE", "write":
		return LevelWrite, nil
	case "SYNCHRONOUS_WRITE", "synchronous_write":
		return LevelSynchronousWrite, nil
	case "CONCURRENT", "concurrent":
		return LevelConcurrent, nil
	default:
		return 0, fmt.Errorf("unknown lock level %q", s)
	}
}

// ServerLockLevel is the coarser level the server reasons about.
type ServerLockLevel int

const (
	ServerRead ServerLockLevel = iota
	ServerWrite
)

// String returns the level name.
func (l ServerLockLevel) String() string {
	switch l {
	case ServerRead:
		return "READ"
	case ServerWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("ServerLockLevel(%d)", int(l))
	}
}

// ClientLevel returns the client level matching a server level.
func (l ServerLockLevel) ClientLevel() LockLevel {
	if l == ServerWrite {
		return LevelWrite
	}
	return LevelRead
}
