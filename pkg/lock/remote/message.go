// Package remote implements lock.RemoteLockGateway on top of a message
// channel.
//
// The gateway turns coordinator requests into Message values and hands them
// to a Channel; server messages travel back through Dispatch, which applies
// them to the lock manager. Flushes are delegated to a Flusher standing for
// the transaction buffer of the client.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittolock/pkg/lock"
)

// MessageType identifies a lock protocol message.
type MessageType string

// Client to server messages.
const (
	TypeLock         MessageType = "lock"
	TypeTryLock      MessageType = "try_lock"
	TypeUnlock       MessageType = "unlock"
	TypeWait         MessageType = "wait"
	TypeInterrupt    MessageType = "interrupt"
	TypeNotify       MessageType = "notify"
	TypeRecallCommit MessageType = "recall_commit"
	TypeQuery        MessageType = "query"
	TypeDisconnect   MessageType = "disconnect"
)

// Server to client messages.
const (
	TypeAward    MessageType = "award"
	TypeRecall   MessageType = "recall"
	TypeRefuse   MessageType = "refuse"
	TypeNotified MessageType = "notified"
	TypeInfo     MessageType = "info"
)

// Commit is the recall commit of one lock.
type Commit struct {
	LockID   lock.LockID            `json:"lock_id"`
	Contexts []lock.ExchangeContext `json:"contexts,omitempty"`
}

// Message is one lock protocol message. Fields not used by a type are left
// at their zero value.
type Message struct {
	ID       uuid.UUID            `json:"id"`
	Type     MessageType          `json:"type"`
	Session  lock.SessionID       `json:"session"`
	ClientID lock.ClientID        `json:"client_id"`
	LockID   lock.LockID          `json:"lock_id,omitempty"`
	ThreadID lock.ThreadID        `json:"thread_id,omitempty"`
	Level    lock.ServerLockLevel `json:"level"`

	// Timeout bounds try-lock and wait requests (zero = none).
	Timeout time.Duration `json:"timeout,omitempty"`

	// All selects notifyAll.
	All bool `json:"all,omitempty"`

	// Lease and Batch qualify a recall; Batch also marks coalesced commits.
	Lease time.Duration `json:"lease,omitempty"`
	Batch bool          `json:"batch,omitempty"`

	AwardID  int64                  `json:"award_id,omitempty"`
	Contexts []lock.ExchangeContext `json:"contexts,omitempty"`
	Commits  []Commit               `json:"commits,omitempty"`
}

// NewMessage creates a message with a fresh request id.
func NewMessage(typ MessageType, session lock.SessionID, client lock.ClientID) *Message {
	return &Message{
		ID:       uuid.New(),
		Type:     typ,
		Session:  session,
		ClientID: client,
	}
}

// String returns a compact representation for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s(%s %s %s session=%d)", m.Type, m.LockID, m.ThreadID, m.Level, m.Session)
}

// Channel carries client messages to the server. Send must not block on the
// server answering and must never call back into the lock manager.
type Channel interface {
	Send(msg *Message) error
}

// Flusher is the transaction buffer boundary: it pushes the operations
// performed under a lock to the server.
type Flusher interface {
	// Flush blocks until the operations under id up to level are
	// acknowledged.
	Flush(ctx context.Context, id lock.LockID, level lock.ServerLockLevel) error

	// FlushAsync starts a flush. It returns true if nothing was pending, in
	// which case done is never called.
	FlushAsync(id lock.LockID, level lock.ServerLockLevel, done func()) bool
}

// NopFlusher is a Flusher for clients without buffered operations.
type NopFlusher struct{}

// Flush implements Flusher.
func (NopFlusher) Flush(ctx context.Context, _ lock.LockID, _ lock.ServerLockLevel) error {
	return ctx.Err()
}

// FlushAsync implements Flusher.
func (NopFlusher) FlushAsync(lock.LockID, lock.ServerLockLevel, func()) bool {
	return true
}
