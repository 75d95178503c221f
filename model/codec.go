package model

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type MessageType `json:"type"`
}

// Encode serializes a message into its JSON frame body
func Encode(msg Message) (string, error) {
	var (
		data []byte
		err  error
	)

	// Force the discriminant so a zero-value struct still encodes correctly
	switch m := msg.(type) {
	case ChatMessage:
		m.Type = TypeChat
		data, err = json.Marshal(m)
	case SystemMessage:
		m.Type = TypeSystem
		data, err = json.Marshal(m)
	default:
		return "", fmt.Errorf("cannot encode message of type %T", msg)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode %s message: %w", msg.Kind(), err)
	}

	return string(data), nil
}

// Decode parses a decrypted frame body and dispatches on its type field.
// An empty body (the decrypt failure sentinel) is rejected as malformed.
func Decode(body string) (Message, error) {
	if body == "" {
		return nil, fmt.Errorf("empty frame")
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case TypeChat:
		var msg ChatMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("malformed chat frame: %w", err)
		}
		return msg, nil
	case TypeSystem:
		var msg SystemMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("malformed system frame: %w", err)
		}
		return msg, nil
	default:
		return nil, &UnknownTypeError{Type: string(env.Type)}
	}
}
