package network

import (
	"errors"
	"fmt"
	"testing"
)

// TestConnectionStateString tests state names
func TestConnectionStateString(t *testing.T) {
	expected := map[ConnectionState]string{
		StateDisconnected:   "disconnected",
		StateWaiting:        "waiting",
		StateConnecting:     "connecting",
		StateConnected:      "connected",
		StateAborted:        "aborted",
		StateFailed:         "failed",
		ConnectionState(42): "unknown",
	}

	for state, name := range expected {
		if state.String() != name {
			t.Errorf("Expected %s, got %s", name, state.String())
		}
	}

	if !StateAborted.IsTerminal() || StateWaiting.IsTerminal() {
		t.Error("Unexpected terminal classification")
	}
}

// TestStateCell tests the zero value and observers
func TestStateCell(t *testing.T) {
	var cell StateCell
	if cell.Get() != StateDisconnected {
		t.Errorf("Expected initial state disconnected, got %s", cell.Get())
	}

	var seen []ConnectionState
	cell.Observe(func(s ConnectionState) { seen = append(seen, s) })
	cell.Observe(nil)

	cell.Set(StateWaiting)
	cell.Set(StateConnected)

	if cell.Get() != StateConnected {
		t.Errorf("Expected connected, got %s", cell.Get())
	}
	if len(seen) != 2 || seen[0] != StateWaiting || seen[1] != StateConnected {
		t.Errorf("Expected observer to see waiting then connected, got %v", seen)
	}
}

// TestChatErrorCategories tests constructors and predicates through wrapping
func TestChatErrorCategories(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError(ErrCodeHostUnreachable, "host is unreachable", "client dial", true).
		WithCause(cause).
		WithMetadata("address", "10.0.0.1:5000")

	wrapped := fmt.Errorf("attempt failed: %w", err)

	if !IsNetworkError(wrapped) {
		t.Error("Expected wrapped error to be a network error")
	}
	if IsValidationError(wrapped) || IsHandshakeError(wrapped) || IsTransportError(wrapped) || IsInternalError(wrapped) {
		t.Error("Expected only the network predicate to match")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Expected cause to be reachable through errors.Is")
	}
	if !err.IsRecoverable() {
		t.Error("Expected recoverable error")
	}
	if err.Metadata["address"] != "10.0.0.1:5000" {
		t.Errorf("Expected address metadata, got %v", err.Metadata)
	}

	expected := "[network:HOST_UNREACHABLE] host is unreachable: connection refused"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	if !IsHandshakeError(NewHandshakeError(ErrCodeHandshakeRejected, "rejected", "test")) {
		t.Error("Expected handshake error")
	}
	if !IsTransportError(NewTransportError(ErrCodeSendFailure, "send", "test")) {
		t.Error("Expected transport error")
	}
	if !IsInternalError(NewInternalError(ErrCodeCipherSetup, "cipher", "test")) {
		t.Error("Expected internal error")
	}
	if IsNetworkError(cause) {
		t.Error("Plain errors must not match any category")
	}
}
