// Package network establishes the single authenticated connection between
// a host and a client and tracks its lifecycle.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"securechat/chatio"
	"securechat/config"
	"securechat/logging"
	"securechat/model"
	"securechat/security"
	"securechat/wire"
)

// Status and failure texts reported to the status listener
const (
	StatusAlreadyActive    = "Connection already active."
	StatusHostStopped      = "Host stopped."
	StatusAttemptAborted   = "Connection attempt aborted."
	StatusStartingHost     = "Starting host..."
	StatusHostStarted      = "Host started."
	StatusWaiting          = "Waiting for incoming connection..."
	StatusReceivingKey     = "Receiving passkey..."
	StatusPasskeyValid     = "Passkey valid."
	StatusEstablished      = "Connection established."
	StatusSendingKey       = "Sending passkey..."
	StatusPasskeyOK        = "Passkey confirmed."
	StatusStartingChat     = "Starting chat..."
	StatusChatStarted      = "Chat started."
	StatusClosedByPeer     = "Connection was closed by the peer."
	StatusConnectionLost   = "Connection to the peer was lost."
	FailurePasskeyRejected = "Invalid passkey. Connection rejected."
	FailurePasskeyInvalid  = "Invalid passkey. Connection failed."
	FailureUnreachable     = "Connection attempt failed: host is unreachable!"
)

// StatusListener receives progress and lifecycle notifications. Calls come
// from background goroutines.
type StatusListener interface {
	OnStatusUpdate(status string)
	OnConnecting()
	OnConnected()
	OnDisconnected()
	OnRemoteDisconnect()
	OnConnectionFailed(reason string)
	OnConnectionAborted()
}

// SessionReceiver is handed the session once the handshake succeeded
type SessionReceiver interface {
	SetSession(session chatio.Session)
}

// Collaborators are the presentation side objects a manager reports to
type Collaborators struct {
	Status   StatusListener
	Messages chatio.MessageSink
	Receiver SessionReceiver
}

// ConnectionRequest describes one connection attempt
type ConnectionRequest struct {
	Role     security.Role
	RemoteIP string
	Passkey  string
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectionManager runs the host or client procedure for one request and
// owns the resulting socket
type ConnectionManager struct {
	request  ConnectionRequest
	deps     Collaborators
	config   *config.Config
	logger   *logging.SecureLogger
	cipher   security.Cipher
	passkeys *security.PasskeyManager
	state    StateCell
	dial     dialFunc

	mutex      sync.Mutex
	listener   net.Listener
	conn       *wire.LineConn
	session    *chatio.IOManager
	sessionID  string
	attempting bool
	stopped    bool
	cancel     context.CancelFunc
}

// NewConnectionManager validates the request and prepares a manager. No
// network activity happens until StartConnection.
func NewConnectionManager(req ConnectionRequest, deps Collaborators, cfg *config.Config, logger *logging.SecureLogger) (*ConnectionManager, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if deps.Status == nil || deps.Messages == nil {
		return nil, NewInternalError(ErrCodeMissingCollaborator, "status listener and message sink are required", "manager construction")
	}

	isHost := req.Role == security.RoleHost
	if err := ValidateRequest(isHost, !isHost, req.RemoteIP, req.Passkey); err != nil {
		return nil, err
	}

	cipher, err := security.NewCipher(security.CipherMode(cfg.Cipher), req.Passkey)
	if err != nil {
		return nil, NewInternalError(ErrCodeCipherSetup, "failed to initialize cipher", "manager construction").WithCause(err)
	}

	dialer := &net.Dialer{}
	return &ConnectionManager{
		request:  req,
		deps:     deps,
		config:   cfg,
		logger:   logger,
		cipher:   cipher,
		passkeys: security.NewPasskeyManager(cipher, cfg.HandshakeTimeout, logger),
		dial:     dialer.DialContext,
	}, nil
}

// Role returns the role this manager plays
func (cm *ConnectionManager) Role() security.Role {
	return cm.request.Role
}

// State returns the current connection state
func (cm *ConnectionManager) State() ConnectionState {
	return cm.state.Get()
}

// Observe registers fn to be notified of every state change. fn may run
// with the manager's lock held, so it must not call back into the manager
// other than State.
func (cm *ConnectionManager) Observe(fn func(ConnectionState)) {
	cm.state.Observe(fn)
}

// Session returns the running session, or nil before the handshake
// succeeded and after the connection was closed
func (cm *ConnectionManager) Session() chatio.Session {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.session == nil {
		return nil
	}
	return cm.session
}

// SessionID returns the identifier of the current session, or "" if none
func (cm *ConnectionManager) SessionID() string {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	return cm.sessionID
}

// Addr returns the address the host is listening on, or nil when not
// listening
func (cm *ConnectionManager) Addr() net.Addr {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.listener == nil {
		return nil
	}
	return cm.listener.Addr()
}

// StartConnection launches the host or client procedure in the background.
// Outcomes are reported through the status listener.
func (cm *ConnectionManager) StartConnection() {
	cm.mutex.Lock()
	if cm.conn != nil || cm.listener != nil || cm.attempting {
		cm.mutex.Unlock()
		cm.logger.Debug("connection_manager", "Start ignored, connection already active", map[string]interface{}{
			"code":  ErrCodeAlreadyActive,
			"state": cm.State().String(),
		})
		cm.deps.Status.OnStatusUpdate(StatusAlreadyActive)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm.attempting = true
	cm.stopped = false
	cm.cancel = cancel
	cm.mutex.Unlock()

	go func() {
		defer func() {
			cm.mutex.Lock()
			cm.attempting = false
			cm.mutex.Unlock()
			cancel()
		}()

		if cm.request.Role == security.RoleHost {
			cm.runHost()
		} else {
			cm.runClient(ctx)
		}
	}()
}

// closeOutcome says what CloseConnection tore down
type closeOutcome int

const (
	closedNothing closeOutcome = iota
	closedListener
	closedSocket
	closedAttempt
)

// CloseConnection tears down whatever is live: the listening socket first,
// else the peer socket, else an attempt still in flight. With nothing live
// it does nothing.
func (cm *ConnectionManager) CloseConnection() {
	cm.closeConnection()
}

func (cm *ConnectionManager) closeConnection() closeOutcome {
	cm.mutex.Lock()
	listener := cm.listener
	conn := cm.conn
	cancel := cm.cancel

	switch {
	case listener != nil:
		cm.listener = nil
		cm.conn = nil
		cm.session = nil
		cm.stopped = true
		cm.mutex.Unlock()

		listener.Close()
		if conn != nil {
			conn.Close()
		}
		cm.logger.Info("connection_manager", "Host stopped", nil)
		cm.deps.Status.OnStatusUpdate(StatusHostStopped)
		cm.setState(StateDisconnected)
		return closedListener

	case conn != nil:
		cm.conn = nil
		cm.session = nil
		cm.stopped = true
		sessionID := cm.sessionID
		cm.mutex.Unlock()

		conn.Close()
		cm.logger.Info("connection_manager", "Connection closed", map[string]interface{}{
			"session_id": sessionID,
		})
		cm.setState(StateDisconnected)
		return closedSocket

	case cm.attempting && !cm.stopped:
		cm.stopped = true
		cm.mutex.Unlock()

		cm.setState(StateAborted)
		if cancel != nil {
			cancel()
		}
		cm.logger.Info("connection_manager", "Connection attempt aborted", nil)
		cm.deps.Status.OnStatusUpdate(StatusAttemptAborted)
		cm.deps.Status.OnConnectionAborted()
		return closedAttempt

	default:
		cm.mutex.Unlock()
		return closedNothing
	}
}

// Disconnect leaves voluntarily: the peer is told, the chat surface is
// closed, then the connection. OnDisconnected is only reported when a
// listener or socket was torn down; an attempt in flight is reported as
// aborted instead.
func (cm *ConnectionManager) Disconnect() {
	cm.mutex.Lock()
	session := cm.session
	cm.mutex.Unlock()

	if session != nil {
		if err := session.SendSystemMessage(model.SubtypeRemoteState, model.PayloadDisconnect); err != nil {
			code := ErrCodeSendFailure
			if errors.Is(err, chatio.ErrSessionClosed) {
				code = ErrCodeSessionClosed
			}
			cm.logError(NewTransportError(code, "failed to announce disconnect", "disconnect").WithCause(err))
		}
		session.CloseSession()
	}

	switch cm.closeConnection() {
	case closedListener, closedSocket:
		cm.deps.Status.OnDisconnected()
	}
}

func (cm *ConnectionManager) runHost() {
	cm.deps.Status.OnStatusUpdate(StatusStartingHost)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cm.config.Port))
	if err != nil {
		if !cm.transition(StateFailed) {
			return
		}
		cm.logError(NewNetworkError(ErrCodePortBindFailure, "could not bind host port", "host startup", false).
			WithCause(err).
			WithMetadata("port", cm.config.Port))
		cm.deps.Status.OnConnectionFailed("Could not start host: " + err.Error())
		return
	}

	cm.mutex.Lock()
	if cm.stopped {
		cm.mutex.Unlock()
		listener.Close()
		return
	}
	cm.listener = listener
	cm.mutex.Unlock()

	cm.logger.Info("connection_manager", "Host listening", map[string]interface{}{
		"address": listener.Addr().String(),
	})
	cm.deps.Status.OnStatusUpdate(StatusHostStarted)

	for {
		if !cm.transition(StateWaiting) {
			return
		}
		cm.deps.Status.OnConnecting()
		cm.deps.Status.OnStatusUpdate(StatusWaiting)

		raw, err := listener.Accept()
		if err != nil {
			if cm.isStopped() {
				return
			}
			cm.closeListener(listener)
			if !cm.transition(StateFailed) {
				return
			}
			cm.logError(NewNetworkError(ErrCodeAcceptFailure, "failed to accept connection", "host accept loop", false).WithCause(err))
			cm.deps.Status.OnConnectionFailed("Could not accept connection: " + err.Error())
			return
		}

		conn := wire.NewLineConn(raw)
		if !cm.adopt(conn) {
			conn.Close()
			return
		}

		if !cm.transition(StateConnecting) {
			return
		}
		cm.deps.Status.OnStatusUpdate("Request from " + conn.RemoteIP())
		cm.deps.Status.OnStatusUpdate(StatusReceivingKey)

		if cm.passkeys.Verify(conn, cm.request.Passkey, security.RoleHost) {
			cm.deps.Status.OnStatusUpdate(StatusPasskeyValid)
			cm.establish(conn)
			return
		}

		if !cm.transition(StateFailed) {
			return
		}
		cm.logError(NewHandshakeError(ErrCodeHandshakeRejected, "rejected peer with wrong passkey", "host handshake").
			WithMetadata("peer", conn.RemoteIP()))
		cm.deps.Status.OnConnectionFailed(FailurePasskeyRejected)
		cm.release(conn)
	}
}

func (cm *ConnectionManager) runClient(ctx context.Context) {
	if !cm.transition(StateConnecting) {
		return
	}
	cm.deps.Status.OnConnecting()
	cm.deps.Status.OnStatusUpdate(fmt.Sprintf("Attempting connection to %s...", cm.request.RemoteIP))

	address := net.JoinHostPort(cm.request.RemoteIP, strconv.Itoa(cm.config.Port))
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.DialTimeout)
	raw, err := cm.dial(dialCtx, "tcp", address)
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) || !cm.transition(StateFailed) {
			return
		}
		cm.logError(NewNetworkError(ErrCodeHostUnreachable, "host is unreachable", "client dial", true).
			WithCause(err).
			WithMetadata("address", address))
		cm.deps.Status.OnConnectionFailed(FailureUnreachable)
		return
	}

	conn := wire.NewLineConn(raw)
	if !cm.adopt(conn) {
		conn.Close()
		return
	}

	cm.deps.Status.OnStatusUpdate(StatusEstablished)
	cm.deps.Status.OnStatusUpdate(StatusSendingKey)

	if cm.passkeys.Verify(conn, cm.request.Passkey, security.RoleClient) {
		cm.deps.Status.OnStatusUpdate(StatusPasskeyOK)
		cm.establish(conn)
		return
	}

	if !cm.transition(StateFailed) {
		return
	}
	cm.logError(NewHandshakeError(ErrCodeHandshakeRejected, "host rejected passkey", "client handshake").
		WithMetadata("address", address))
	cm.deps.Status.OnConnectionFailed(FailurePasskeyInvalid)
	cm.release(conn)
}

// establish starts the session over an authenticated connection. The host
// stops listening here; one session per manager.
func (cm *ConnectionManager) establish(conn *wire.LineConn) {
	cm.deps.Status.OnStatusUpdate(StatusStartingChat)

	session := chatio.NewIOManager(conn, cm.cipher, cm.deps.Messages, chatio.Options{
		LocalIP:            conn.LocalIP(),
		DisconnectGrace:    cm.config.DisconnectGrace,
		OnRemoteDisconnect: cm.handleRemoteDisconnect,
		OnConnectionLost:   cm.handleConnectionLost,
		Logger:             cm.logger,
	})

	cm.mutex.Lock()
	if cm.stopped || cm.conn != conn {
		cm.mutex.Unlock()
		return
	}
	cm.session = session
	cm.sessionID = uuid.NewString()
	sessionID := cm.sessionID
	listener := cm.listener
	cm.listener = nil
	cm.mutex.Unlock()

	if listener != nil {
		listener.Close()
	}

	if !cm.transition(StateConnected) {
		return
	}
	session.Start()
	cm.deps.Status.OnStatusUpdate(StatusChatStarted)
	cm.deps.Status.OnConnected()

	cm.logger.Info("connection_manager", "Session established", map[string]interface{}{
		"session_id": sessionID,
		"role":       cm.request.Role.String(),
		"peer":       conn.RemoteIP(),
		"cipher":     string(cm.cipher.Mode()),
	})

	if cm.deps.Receiver != nil {
		cm.deps.Receiver.SetSession(session)
	}
}

// handleRemoteDisconnect runs after the peer announced its departure and the
// grace period passed
func (cm *ConnectionManager) handleRemoteDisconnect(peer string) {
	sessionID, ok := cm.dropConnection()
	if !ok {
		return
	}

	cm.logger.Info("connection_manager", "Peer disconnected", map[string]interface{}{
		"session_id": sessionID,
		"peer":       peer,
	})
	cm.setState(StateDisconnected)
	cm.deps.Status.OnStatusUpdate(StatusClosedByPeer)
	cm.deps.Status.OnRemoteDisconnect()
}

// handleConnectionLost runs when the peer's socket closed or failed without
// a disconnect notice
func (cm *ConnectionManager) handleConnectionLost(cause error) {
	sessionID, ok := cm.dropConnection()
	if !ok {
		return
	}

	cm.logError(NewTransportError(ErrCodeConnectionLost, "connection to peer lost", "session receive").
		WithCause(cause).
		WithMetadata("session_id", sessionID))
	cm.setState(StateDisconnected)
	cm.deps.Status.OnStatusUpdate(StatusConnectionLost)
	cm.deps.Status.OnRemoteDisconnect()
}

// dropConnection closes the live socket on behalf of the session. It
// reports false when a local close got there first.
func (cm *ConnectionManager) dropConnection() (string, bool) {
	cm.mutex.Lock()
	conn := cm.conn
	sessionID := cm.sessionID
	cm.conn = nil
	cm.session = nil
	cm.stopped = true
	cm.mutex.Unlock()

	if conn == nil {
		return "", false
	}
	conn.Close()
	return sessionID, true
}

// adopt records conn as the live socket unless the manager was closed
func (cm *ConnectionManager) adopt(conn *wire.LineConn) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.stopped {
		return false
	}
	cm.conn = conn
	return true
}

// release closes conn and forgets it if it is still the live socket
func (cm *ConnectionManager) release(conn *wire.LineConn) {
	cm.mutex.Lock()
	if cm.conn == conn {
		cm.conn = nil
	}
	cm.mutex.Unlock()

	conn.Close()
}

func (cm *ConnectionManager) closeListener(listener net.Listener) {
	cm.mutex.Lock()
	if cm.listener == listener {
		cm.listener = nil
	}
	cm.mutex.Unlock()

	listener.Close()
}

func (cm *ConnectionManager) isStopped() bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	return cm.stopped
}

// transition sets state unless the manager was closed. The check and the
// write share the mutex so a concurrent CloseConnection always has the last
// word.
func (cm *ConnectionManager) transition(state ConnectionState) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.stopped {
		return false
	}
	cm.setState(state)
	return true
}

func (cm *ConnectionManager) setState(state ConnectionState) {
	cm.state.Set(state)
	cm.logger.Debug("connection_manager", "State changed", map[string]interface{}{
		"state": state.String(),
		"role":  cm.request.Role.String(),
	})
}

func (cm *ConnectionManager) logError(err *ChatError) {
	metadata := map[string]interface{}{
		"code":    err.Code,
		"type":    err.Type.String(),
		"context": err.Context,
	}
	for k, v := range err.Metadata {
		metadata[k] = v
	}
	if err.Cause != nil {
		metadata["cause"] = err.Cause.Error()
	}

	if err.Recoverable {
		cm.logger.Warn("connection_manager", err.Message, metadata)
	} else {
		cm.logger.Error("connection_manager", err.Message, metadata)
	}
}
