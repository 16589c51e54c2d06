package relay

import (
	"sync"

	"go.uber.org/atomic"
)

// ConnState is a position in the connection lifecycle. States progress
// monotonically; Closed is absorbing.
type ConnState uint32

const (
	StateCreated ConnState = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateObserver is notified on every successful transition. Observers must
// not block; the transition call itself invokes them synchronously.
type StateObserver func(old, new ConnState)

// stateMachine implements the Created -> Connecting -> Handshaking ->
// Connected -> Closed lifecycle with a single atomic CAS-guarded entry
// point. go.uber.org/atomic keeps the comparison lock-free, matching the
// egeonC2cService pack repo's own use of atomic flags to guard connection
// lifecycle state instead of a mutex on the hot path.
type stateMachine struct {
	state atomic.Uint32

	mu        sync.Mutex
	observers []StateObserver
}

func newStateMachine() *stateMachine {
	return &stateMachine{}
}

func (m *stateMachine) current() ConnState {
	return ConnState(m.state.Load())
}

// onChange registers an observer invoked after every transition.
func (m *stateMachine) onChange(obs StateObserver) {
	m.mu.Lock()
	m.observers = append(m.observers, obs)
	m.mu.Unlock()
}

// transition atomically moves the state machine forward to next, enforcing
// monotonic progression (Closed is absorbing; no other backward move is
// permitted). It reports whether the transition was applied; a false result
// means the machine was already in next or beyond (including already
// Closed), which callers treat as a no-op rather than an error.
func (m *stateMachine) transition(next ConnState) bool {
	for {
		cur := ConnState(m.state.Load())
		if cur == StateClosed || cur >= next {
			return false
		}
		if !m.state.CompareAndSwap(uint32(cur), uint32(next)) {
			continue
		}
		m.mu.Lock()
		observers := append([]StateObserver(nil), m.observers...)
		m.mu.Unlock()
		for _, obs := range observers {
			obs(cur, next)
		}
		return true
	}
}
