package lock

// LockInfo is a diagnostic snapshot of one lock's local state.
type LockInfo struct {
	ID         LockID            `json:"id"`
	Greediness string            `json:"greediness"`
	Holds      []ExchangeContext `json:"holds,omitempty"`
	Pending    []ExchangeContext `json:"pending,omitempty"`
	Waiters    []ExchangeContext `json:"waiters,omitempty"`
	Pinned     int               `json:"pinned"`
	IdleSweeps int               `json:"idle_sweeps"`
}

// ManagerInfo is a diagnostic snapshot of the lock manager.
type ManagerInfo struct {
	ClientID ClientID   `json:"client_id"`
	Session  SessionID  `json:"session"`
	State    string     `json:"state"`
	Locks    []LockInfo `json:"locks"`
}
