package main

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"securechat/chatio"
	"securechat/config"
	"securechat/network"
	"securechat/security"
)

// scriptedReader feeds lines to the console as if typed
type scriptedReader struct {
	lines     chan string
	closeOnce sync.Once
}

func newScriptedReader() *scriptedReader {
	return &scriptedReader{lines: make(chan string)}
}

func (r *scriptedReader) Readline() (string, error) {
	line, ok := <-r.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func (r *scriptedReader) Clean()   {}
func (r *scriptedReader) Refresh() {}

func (r *scriptedReader) Close() error {
	r.closeOnce.Do(func() { close(r.lines) })
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected Run to return nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for Run to return")
	}
}

func testConfig(port int) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Port = port
	cfg.DialTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.DisconnectGrace = 100 * time.Millisecond
	cfg.UI = config.UILine
	return cfg
}

func newManager(t *testing.T, ui frontend, req network.ConnectionRequest, cfg *config.Config) *network.ConnectionManager {
	t.Helper()
	manager, err := network.NewConnectionManager(req, network.Collaborators{
		Status:   ui,
		Messages: ui,
		Receiver: ui,
	}, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create connection manager: %v", err)
	}
	t.Cleanup(manager.CloseConnection)
	return manager
}

// executeCommand runs the CLI with args and returns stdout and stderr
func executeCommand(t *testing.T, a *app, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(a)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func noFrontend(t *testing.T) func(*app) (frontend, error) {
	return func(*app) (frontend, error) {
		t.Error("Frontend must not be created for invalid input")
		return nil, errors.New("unexpected frontend")
	}
}

// TestVersionCommand tests the version subcommand
func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, &app{newFrontend: noFrontend(t)}, "version", "--ui", "line")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := "SecureChat v1.0.0\n"
	if stdout != expected {
		t.Errorf("Expected %q, got %q", expected, stdout)
	}
}

// TestConfigCommand tests that flags reach the effective configuration
func TestConfigCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, &app{newFrontend: noFrontend(t)},
		"config", "--port", "6000", "--cipher", "sealed", "--ui", "line")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, want := range []string{"port:              6000", "cipher:            sealed", "source:            (defaults)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, stdout)
		}
	}
}

// TestConfigCommandRejectsBadCipher tests config validation at startup
func TestConfigCommandRejectsBadCipher(t *testing.T) {
	_, _, err := executeCommand(t, &app{newFrontend: noFrontend(t)}, "config", "--cipher", "rot13", "--ui", "line")
	if err == nil {
		t.Fatal("Expected error for unknown cipher")
	}
}

// TestRunChatValidation tests that bad input is reported before any frontend starts
func TestRunChatValidation(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"ShortPasskey", []string{"host", "--passkey", "short", "--ui", "line"}, network.StatusPasskeyTooShort},
		{"BadAddress", []string{"join", "300.1.1.1", "--passkey", "password123", "--ui", "line"}, network.StatusEnterValidIP},
		{"EmptyAddress", []string{"join", "", "--passkey", "password123", "--ui", "line"}, network.StatusEnterIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := executeCommand(t, &app{newFrontend: noFrontend(t)}, tt.args...)
			if err == nil || err.Error() != "invalid connection parameters" {
				t.Errorf("Expected invalid connection parameters, got %v", err)
			}
			if !strings.Contains(stderr, tt.expected) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.expected, stderr)
			}
		})
	}
}

// TestJoinRequiresAddress tests cobra argument checking
func TestJoinRequiresAddress(t *testing.T) {
	_, _, err := executeCommand(t, &app{newFrontend: noFrontend(t)}, "join", "--passkey", "password123")
	if err == nil {
		t.Fatal("Expected error when the address is missing")
	}
}

// TestConsoleChat tests two line consoles chatting and one leaving
func TestConsoleChat(t *testing.T) {
	hostReader := newScriptedReader()
	hostOut := &syncBuffer{}
	hostUI := newConsoleWith(hostReader, hostOut, nil)
	hostManager := newManager(t, hostUI, network.ConnectionRequest{
		Role:    security.RoleHost,
		Passkey: "password123",
	}, testConfig(0))

	hostDone := make(chan error, 1)
	go func() { hostDone <- hostUI.Run(hostManager) }()

	eventually(t, "host to listen", func() bool {
		return hostManager.Addr() != nil && hostManager.State() == network.StateWaiting
	})
	port := hostManager.Addr().(*net.TCPAddr).Port

	clientReader := newScriptedReader()
	clientOut := &syncBuffer{}
	clientUI := newConsoleWith(clientReader, clientOut, nil)
	clientManager := newManager(t, clientUI, network.ConnectionRequest{
		Role:     security.RoleClient,
		RemoteIP: "127.0.0.1",
		Passkey:  "password123",
	}, testConfig(port))

	clientDone := make(chan error, 1)
	go func() { clientDone <- clientUI.Run(clientManager) }()

	eventually(t, "both sides to connect", func() bool {
		session, _ := clientUI.currentSession()
		return session != nil && strings.Contains(hostOut.String(), "Connected.")
	})

	clientReader.lines <- "hello there"
	eventually(t, "host to show the message", func() bool {
		return strings.Contains(hostOut.String(), "127.0.0.1: hello there")
	})
	if !strings.Contains(clientOut.String(), "hello there") {
		t.Errorf("Expected client to echo its own message, got:\n%s", clientOut.String())
	}

	clientReader.lines <- ".state"
	eventually(t, "state report", func() bool {
		return strings.Contains(clientOut.String(), "State: connected")
	})

	clientReader.lines <- ".quit"
	waitRun(t, clientDone)

	eventually(t, "host to see the peer leave", func() bool {
		return strings.Contains(hostOut.String(), network.StatusClosedByPeer)
	})
	if !strings.Contains(hostOut.String(), "has disconnected") {
		t.Errorf("Expected disconnect notice, got:\n%s", hostOut.String())
	}

	hostReader.lines <- ""
	waitRun(t, hostDone)

	if hostManager.State() != network.StateDisconnected {
		t.Errorf("Expected host disconnected, got %s", hostManager.State())
	}
}

// TestConsoleNotConnected tests typing before a session exists
func TestConsoleNotConnected(t *testing.T) {
	reader := newScriptedReader()
	out := &syncBuffer{}
	ui := newConsoleWith(reader, out, nil)
	manager := newManager(t, ui, network.ConnectionRequest{
		Role:    security.RoleHost,
		Passkey: "password123",
	}, testConfig(0))

	done := make(chan error, 1)
	go func() { done <- ui.Run(manager) }()

	reader.lines <- "anyone there?"
	reader.lines <- ".help"
	eventually(t, "help text", func() bool {
		return strings.Contains(out.String(), ".state  show the connection state")
	})
	if !strings.Contains(out.String(), "Not connected.") {
		t.Errorf("Expected not connected warning, got:\n%s", out.String())
	}

	ui.Stop()
	waitRun(t, done)
}

// TestConsoleEOFLeaves tests that end of input disconnects
func TestConsoleEOFLeaves(t *testing.T) {
	reader := newScriptedReader()
	out := &syncBuffer{}
	ui := newConsoleWith(reader, out, nil)
	manager := newManager(t, ui, network.ConnectionRequest{
		Role:    security.RoleHost,
		Passkey: "password123",
	}, testConfig(0))

	done := make(chan error, 1)
	go func() { done <- ui.Run(manager) }()

	eventually(t, "host to listen", func() bool { return manager.State() == network.StateWaiting })
	reader.Close()
	waitRun(t, done)

	if !strings.Contains(out.String(), network.StatusHostStopped) {
		t.Errorf("Expected host stopped status, got:\n%s", out.String())
	}
	if manager.State() != network.StateDisconnected {
		t.Errorf("Expected disconnected, got %s", manager.State())
	}
}

// TestColorize tests colour selection per message kind
func TestColorize(t *testing.T) {
	if colorize("hi", chatio.KindRemote) != "hi" {
		t.Error("Expected remote messages uncoloured")
	}
	if colorize("hi", chatio.KindError) != colorRed+"hi"+colorReset {
		t.Errorf("Expected red error, got %q", colorize("hi", chatio.KindError))
	}
	if colorize("hi", chatio.KindLocal) != colorGreen+"hi"+colorReset {
		t.Errorf("Expected green local, got %q", colorize("hi", chatio.KindLocal))
	}
}
