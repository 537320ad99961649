package remote

import (
	"fmt"
	"time"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock"
)

// Callbacks receives server messages. *lock.Manager implements it.
type Callbacks interface {
	Award(session lock.SessionID, id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel, awardID int64)
	Recall(session lock.SessionID, id lock.LockID, interest lock.ServerLockLevel, lease time.Duration, batch bool)
	Refuse(session lock.SessionID, id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel)
	Notified(session lock.SessionID, id lock.LockID, thread lock.ThreadID)
	Info(session lock.SessionID, id lock.LockID, thread lock.ThreadID, contexts []lock.ExchangeContext)
}

var _ Callbacks = (*lock.Manager)(nil)

// Dispatch applies a server message to cb. It must not be called while a
// lock coordinator is being accessed on the same goroutine.
func Dispatch(cb Callbacks, msg *Message) error {
	logger.Debug("Dispatching server message",
		"type", string(msg.Type),
		logger.KeyLockID, msg.LockID.String(),
		logger.KeyThreadID, msg.ThreadID.String())

	switch msg.Type {
	case TypeAward:
		cb.Award(msg.Session, msg.LockID, msg.ThreadID, msg.Level, msg.AwardID)
	case TypeRecall:
		cb.Recall(msg.Session, msg.LockID, msg.Level, msg.Lease, msg.Batch)
	case TypeRefuse:
		cb.Refuse(msg.Session, msg.LockID, msg.ThreadID, msg.Level)
	case TypeNotified:
		cb.Notified(msg.Session, msg.LockID, msg.ThreadID)
	case TypeInfo:
		cb.Info(msg.Session, msg.LockID, msg.ThreadID, msg.Contexts)
	default:
		return fmt.Errorf("unexpected server message type %q", msg.Type)
	}
	return nil
}
