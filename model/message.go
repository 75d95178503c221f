package model

import (
	"errors"
	"fmt"
	"time"
)

// MessageType is the discriminant carried by every frame
type MessageType string

const (
	TypeChat   MessageType = "CHAT"
	TypeSystem MessageType = "SYSTEM"
)

// Known system message tags
const (
	SubtypeRemoteState = "REMOTESTATE"
	PayloadDisconnect  = "DISCONNECT"
)

// TimestampLayout is the textual timestamp format used on the wire
const TimestampLayout = "2006-01-02 15:04:05"

// ErrUnknownType is matched by the error Decode returns for frames whose
// type is neither CHAT nor SYSTEM
var ErrUnknownType = errors.New("unknown message type")

// UnknownTypeError reports the offending type tag
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownType, e.Type)
}

// Is makes errors.Is(err, ErrUnknownType) hold
func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// Message is implemented by every wire payload
type Message interface {
	Kind() MessageType
	Sender() string
}

// ChatMessage is a line of user text
type ChatMessage struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	SenderIP  string      `json:"senderIp"`
	Timestamp string      `json:"timestamp"`
}

// SystemMessage carries control signalling between the peers
type SystemMessage struct {
	Type     MessageType `json:"type"`
	Subtype  string      `json:"subtype"`
	Payload  string      `json:"payload"`
	SenderIP string      `json:"senderIp"`
}

// NewChatMessage creates a chat message stamped with the given local time
func NewChatMessage(text, senderIP string, now time.Time) ChatMessage {
	return ChatMessage{
		Type:      TypeChat,
		Text:      text,
		SenderIP:  senderIP,
		Timestamp: now.Format(TimestampLayout),
	}
}

// NewSystemMessage creates a system message
func NewSystemMessage(subtype, payload, senderIP string) SystemMessage {
	return SystemMessage{
		Type:     TypeSystem,
		Subtype:  subtype,
		Payload:  payload,
		SenderIP: senderIP,
	}
}

// Kind implements Message
func (m ChatMessage) Kind() MessageType { return TypeChat }

// Sender implements Message
func (m ChatMessage) Sender() string { return m.SenderIP }

// Display renders the message the way chat surfaces show it
func (m ChatMessage) Display() string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp, m.SenderIP, m.Text)
}

// Kind implements Message
func (m SystemMessage) Kind() MessageType { return TypeSystem }

// Sender implements Message
func (m SystemMessage) Sender() string { return m.SenderIP }

// IsRemoteDisconnect reports whether the message announces that the peer left
func (m SystemMessage) IsRemoteDisconnect() bool {
	return m.Subtype == SubtypeRemoteState && m.Payload == PayloadDisconnect
}
