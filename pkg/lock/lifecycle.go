package lock

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock/errors"
)

// ============================================================================
// Manager Lifecycle
// ============================================================================

// ManagerState is the lifecycle state of a Manager.
type ManagerState uint8

const (
	// StateRunning accepts lock operations.
	StateRunning ManagerState = iota

	// StatePaused blocks lock operations until the connection is back.
	StatePaused

	// StateRejoinInProgress fails lock operations until a handshake starts.
	StateRejoinInProgress

	// StateStarting blocks lock operations while the handshake runs.
	StateStarting

	// StateShutdown is absorbing: every operation fails.
	StateShutdown
)

var allManagerStates = []ManagerState{
	StateRunning,
	StatePaused,
	StateRejoinInProgress,
	StateStarting,
	StateShutdown,
}

func (s ManagerState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateRejoinInProgress:
		return "REJOIN_IN_PROGRESS"
	case StateStarting:
		return "STARTING"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

func parseManagerState(s string) ManagerState {
	for _, state := range allManagerStates {
		if state.String() == s {
			return state
		}
	}
	panic("unknown manager state " + s)
}

// Lifecycle events.
const (
	EventPause     = "pause"
	EventUnpause   = "unpause"
	EventHandshake = "handshake"
	EventRejoin    = "rejoin"
	EventShutdown  = "shutdown"
)

// lifecycle gates every Manager operation on the manager state.
//
// Transitions take mu for writing; AwaitRunning reads under mu and parks on
// changed, which is closed and replaced on every transition.
type lifecycle struct {
	mu      sync.RWMutex
	machine *fsm.FSM
	changed chan struct{}
	metrics *Metrics
}

func newLifecycle(metrics *Metrics) *lifecycle {
	lc := &lifecycle{
		changed: make(chan struct{}),
		metrics: metrics,
	}

	running := StateRunning.String()
	paused := StatePaused.String()
	rejoining := StateRejoinInProgress.String()
	starting := StateStarting.String()

	lc.machine = fsm.NewFSM(
		running,
		fsm.Events{
			{Name: EventPause, Src: []string{running, starting}, Dst: paused},
			{Name: EventUnpause, Src: []string{paused, starting}, Dst: running},
			{Name: EventHandshake, Src: []string{paused, rejoining}, Dst: starting},
			{Name: EventRejoin, Src: []string{running, paused, starting}, Dst: rejoining},
			{Name: EventShutdown, Src: []string{running, paused, rejoining, starting}, Dst: StateShutdown.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Info("Lock manager state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)

	metrics.SetManagerState(StateRunning)
	return lc
}

// State returns the current state.
func (lc *lifecycle) State() ManagerState {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return parseManagerState(lc.machine.Current())
}

// TryTransition applies event. It returns false, leaving the state
// unchanged, when event is not allowed from the current state.
func (lc *lifecycle) TryTransition(event string) (ManagerState, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if !lc.machine.Can(event) {
		return parseManagerState(lc.machine.Current()), false
	}
	if err := lc.machine.Event(context.Background(), event); err != nil {
		logger.Warn("Lock manager transition failed", "event", event, logger.KeyError, err)
		return parseManagerState(lc.machine.Current()), false
	}

	state := parseManagerState(lc.machine.Current())
	close(lc.changed)
	lc.changed = make(chan struct{})
	lc.metrics.SetManagerState(state)
	return state, true
}

// AwaitRunning blocks until the manager is RUNNING. It fails fast when the
// manager is shut down or rejoining, and returns an interrupted error when
// ctx is cancelled first.
func (lc *lifecycle) AwaitRunning(ctx context.Context) error {
	for {
		lc.mu.RLock()
		state := parseManagerState(lc.machine.Current())
		changed := lc.changed
		lc.mu.RUnlock()

		switch state {
		case StateRunning:
			return nil
		case StateShutdown:
			return errors.NewNotRunningError()
		case StateRejoinInProgress:
			return errors.NewRejoinInProgressError()
		case StatePaused, StateStarting:
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return NewInterruptedError("", context.Cause(ctx))
		}
	}
}
