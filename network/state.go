package network

import (
	"sync"
	"sync/atomic"
)

// ConnectionState represents the lifecycle phase of a connection manager
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateWaiting
	StateConnecting
	StateConnected
	StateAborted
	StateFailed
)

// String returns a human-readable representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateWaiting:
		return "waiting"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no attempt is running in this state
func (s ConnectionState) IsTerminal() bool {
	return s == StateDisconnected || s == StateAborted || s == StateFailed
}

// StateCell holds the current state of one manager. The zero value is
// usable and starts out disconnected.
type StateCell struct {
	value     atomic.Int32
	mutex     sync.RWMutex
	observers []func(ConnectionState)
}

// Get returns the current state
func (c *StateCell) Get() ConnectionState {
	return ConnectionState(c.value.Load())
}

// Set stores a new state and notifies observers on the calling goroutine
func (c *StateCell) Set(state ConnectionState) {
	c.value.Store(int32(state))

	c.mutex.RLock()
	observers := append([]func(ConnectionState){}, c.observers...)
	c.mutex.RUnlock()

	for _, observe := range observers {
		observe(state)
	}
}

// Observe registers fn to be called after every Set. Observers must not
// block.
func (c *StateCell) Observe(fn func(ConnectionState)) {
	if fn == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.observers = append(c.observers, fn)
}
