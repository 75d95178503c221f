package network

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes connection manager errors
type ErrorType int

const (
	ErrorTypeValidation ErrorType = iota
	ErrorTypeNetwork
	ErrorTypeHandshake
	ErrorTypeTransport
	ErrorTypeInternal
)

// String returns the string representation of the error type
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeHandshake:
		return "handshake"
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ChatError is the error type used throughout the connection layer. Message
// is suitable for showing to the user as is.
type ChatError struct {
	Type        ErrorType              `json:"type"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Context     string                 `json:"context"`
	Recoverable bool                   `json:"recoverable"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether the error is recoverable
func (e *ChatError) IsRecoverable() bool {
	return e.Recoverable
}

// WithMetadata adds metadata to the error
func (e *ChatError) WithMetadata(key string, value interface{}) *ChatError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithCause attaches the underlying error
func (e *ChatError) WithCause(err error) *ChatError {
	e.Cause = err
	return e
}

// Error codes
const (
	// Validation errors
	ErrCodeInvalidRole    = "INVALID_ROLE"
	ErrCodeInvalidAddress = "INVALID_ADDRESS"
	ErrCodeInvalidPasskey = "INVALID_PASSKEY"

	// Network errors
	ErrCodePortBindFailure = "PORT_BIND_FAILURE"
	ErrCodeAcceptFailure   = "ACCEPT_FAILURE"
	ErrCodeHostUnreachable = "HOST_UNREACHABLE"
	ErrCodeAlreadyActive   = "ALREADY_ACTIVE"

	// Handshake errors
	ErrCodeHandshakeRejected = "HANDSHAKE_REJECTED"

	// Transport errors
	ErrCodeConnectionLost = "CONNECTION_LOST"
	ErrCodeSendFailure    = "SEND_FAILURE"
	ErrCodeSessionClosed  = "SESSION_CLOSED"

	// Internal errors
	ErrCodeCipherSetup         = "CIPHER_SETUP"
	ErrCodeMissingCollaborator = "MISSING_COLLABORATOR"
)

// NewChatError creates a new ChatError
func NewChatError(errorType ErrorType, code, message, context string, recoverable bool) *ChatError {
	return &ChatError{
		Type:        errorType,
		Code:        code,
		Message:     message,
		Context:     context,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
		Metadata:    make(map[string]interface{}),
	}
}

// NewValidationError creates an input validation error
func NewValidationError(code, message, context string) *ChatError {
	return NewChatError(ErrorTypeValidation, code, message, context, true)
}

// NewNetworkError creates a network-related error
func NewNetworkError(code, message, context string, recoverable bool) *ChatError {
	return NewChatError(ErrorTypeNetwork, code, message, context, recoverable)
}

// NewHandshakeError creates a passkey handshake error
func NewHandshakeError(code, message, context string) *ChatError {
	return NewChatError(ErrorTypeHandshake, code, message, context, true)
}

// NewTransportError creates an error for an established connection
func NewTransportError(code, message, context string) *ChatError {
	return NewChatError(ErrorTypeTransport, code, message, context, false)
}

// NewInternalError creates an internal error
func NewInternalError(code, message, context string) *ChatError {
	return NewChatError(ErrorTypeInternal, code, message, context, false)
}

func isErrorType(err error, errorType ErrorType) bool {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Type == errorType
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isErrorType(err, ErrorTypeValidation)
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return isErrorType(err, ErrorTypeNetwork)
}

// IsHandshakeError checks if an error is a handshake error
func IsHandshakeError(err error) bool {
	return isErrorType(err, ErrorTypeHandshake)
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	return isErrorType(err, ErrorTypeTransport)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isErrorType(err, ErrorTypeInternal)
}
