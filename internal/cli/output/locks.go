package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/dittolock/pkg/lock"
)

// LockTable renders lock snapshots one row per lock.
type LockTable []lock.LockInfo

// Headers implements TableRenderer.
func (t LockTable) Headers() []string {
	return []string{"Lock", "Greediness", "Holds", "Pending", "Waiters", "Pinned", "Idle"}
}

// Rows implements TableRenderer.
func (t LockTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, l := range t {
		rows = append(rows, []string{
			string(l.ID),
			l.Greediness,
			contexts(l.Holds),
			strconv.Itoa(len(l.Pending)),
			strconv.Itoa(len(l.Waiters)),
			strconv.Itoa(l.Pinned),
			strconv.Itoa(l.IdleSweeps),
		})
	}
	return rows
}

// ContextTable renders the holds, pending requests and waiters of one lock.
type ContextTable lock.LockInfo

// Headers implements TableRenderer.
func (t ContextTable) Headers() []string {
	return []string{"Kind", "Thread", "Level", "Timeout"}
}

// Rows implements TableRenderer.
func (t ContextTable) Rows() [][]string {
	var rows [][]string
	for _, group := range [][]lock.ExchangeContext{t.Holds, t.Pending, t.Waiters} {
		for _, c := range group {
			timeout := "-"
			if c.Timeout > 0 {
				timeout = c.Timeout.String()
			}
			rows = append(rows, []string{
				c.Kind.String(),
				strconv.FormatUint(uint64(c.ThreadID), 10),
				c.Level.String(),
				timeout,
			})
		}
	}
	return rows
}

// contexts summarizes holds as "thread:LEVEL" pairs.
func contexts(cs []lock.ExchangeContext) string {
	if len(cs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, fmt.Sprintf("%d:%s", c.ThreadID, c.Level))
	}
	return strings.Join(parts, ",")
}
