package remote

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittolock/pkg/lock"
)

type recordingCallbacks struct {
	calls []string
}

func (r *recordingCallbacks) Award(session lock.SessionID, id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel, awardID int64) {
	r.calls = append(r.calls, fmt.Sprintf("award %d %s %s %s %d", session, id, thread, level, awardID))
}

func (r *recordingCallbacks) Recall(session lock.SessionID, id lock.LockID, interest lock.ServerLockLevel, lease time.Duration, batch bool) {
	r.calls = append(r.calls, fmt.Sprintf("recall %d %s %s %s %t", session, id, interest, lease, batch))
}

func (r *recordingCallbacks) Refuse(session lock.SessionID, id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel) {
	r.calls = append(r.calls, fmt.Sprintf("refuse %d %s %s %s", session, id, thread, level))
}

func (r *recordingCallbacks) Notified(session lock.SessionID, id lock.LockID, thread lock.ThreadID) {
	r.calls = append(r.calls, fmt.Sprintf("notified %d %s %s", session, id, thread))
}

func (r *recordingCallbacks) Info(session lock.SessionID, id lock.LockID, thread lock.ThreadID, contexts []lock.ExchangeContext) {
	r.calls = append(r.calls, fmt.Sprintf("info %d %s %s %d", session, id, thread, len(contexts)))
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "award",
			msg:  Message{Type: TypeAward, Session: 3, LockID: "a", ThreadID: 9, Level: lock.ServerWrite, AwardID: 11},
			want: "award 3 a t9 WRITE 11",
		},
		{
			name: "greedy award",
			msg:  Message{Type: TypeAward, Session: 3, LockID: "a", ThreadID: lock.VMThreadID, Level: lock.ServerRead, AwardID: 12},
			want: "award 3 a vm READ 12",
		},
		{
			name: "recall",
			msg:  Message{Type: TypeRecall, Session: 3, LockID: "a", Level: lock.ServerRead, Lease: time.Second, Batch: true},
			want: "recall 3 a READ 1s true",
		},
		{
			name: "refuse",
			msg:  Message{Type: TypeRefuse, Session: 3, LockID: "a", ThreadID: 9, Level: lock.ServerWrite},
			want: "refuse 3 a t9 WRITE",
		},
		{
			name: "notified",
			msg:  Message{Type: TypeNotified, Session: 3, LockID: "a", ThreadID: 9},
			want: "notified 3 a t9",
		},
		{
			name: "info",
			msg: Message{Type: TypeInfo, Session: 3, LockID: "a", ThreadID: 9, Contexts: []lock.ExchangeContext{
				{Kind: lock.ContextHold}, {Kind: lock.ContextWaiter},
			}},
			want: "info 3 a t9 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &recordingCallbacks{}
			require.NoError(t, Dispatch(cb, &tt.msg))
			assert.Equal(t, []string{tt.want}, cb.calls)
		})
	}
}

func TestDispatch_RejectsClientMessages(t *testing.T) {
	t.Parallel()
	cb := &recordingCallbacks{}

	for _, typ := range []MessageType{TypeLock, TypeUnlock, TypeRecallCommit, "bogus"} {
		err := Dispatch(cb, &Message{Type: typ})
		assert.Error(t, err, "type %s", typ)
	}
	assert.Empty(t, cb.calls)
}
