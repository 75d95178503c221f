// Package chatio runs an authenticated chat session: it decrypts and
// dispatches incoming frames and encrypts outgoing ones.
package chatio

import (
	"errors"
	"fmt"
)

// MessageKind tells a frontend how to present a line
type MessageKind int

const (
	KindRemote MessageKind = iota
	KindLocal
	KindSystem
	KindWarning
	KindError
)

// String returns a human-readable representation of the kind
func (k MessageKind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindLocal:
		return "local"
	case KindSystem:
		return "system"
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// MessageSink is the chat surface a session writes into. Implementations
// must be safe for concurrent use.
type MessageSink interface {
	AppendMessage(text string, kind MessageKind)

	// Close tears the chat surface down. It is called at most once per session.
	Close()
}

// Session is the handle a frontend uses to talk to the peer
type Session interface {
	SendChatMessage(text string) error
	SendSystemMessage(subtype, payload string) error
	CloseSession()

	// Done is closed when the peer stream has ended
	Done() <-chan struct{}
}

// ErrSessionClosed is returned by sends after the session was closed
var ErrSessionClosed = errors.New("session closed")

// ConnectionLostNotice is shown when the peer's socket closed without a
// disconnect notice
const ConnectionLostNotice = "[SYSTEM] The connection to the peer was lost."

// SendError reports a failed outbound frame
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
