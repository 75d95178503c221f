package chatio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"securechat/logging"
	"securechat/model"
	"securechat/security"
	"securechat/wire"
)

// Options configures an IOManager
type Options struct {
	// LocalIP is stamped into every outgoing message
	LocalIP string

	// DisconnectGrace is how long the chat stays open after the peer
	// announced its disconnect
	DisconnectGrace time.Duration

	// OnRemoteDisconnect runs once the grace period has elapsed
	OnRemoteDisconnect func(senderIP string)

	// OnConnectionLost runs when the peer's side of the socket went away
	// without a disconnect notice
	OnConnectionLost func(err error)

	Logger *logging.SecureLogger
	Now    func() time.Time
}

// IOManager owns the read side of an authenticated connection and the
// consumers presenting what arrives. The socket itself stays owned by the
// connection manager.
type IOManager struct {
	conn   *wire.LineConn
	cipher security.Cipher
	sink   MessageSink
	opts   Options
	logger *logging.SecureLogger

	chatQueue   *Queue[model.ChatMessage]
	systemQueue *Queue[model.SystemMessage]

	consumers sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	sinkOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}

	// set by the receiver once the peer announced its disconnect
	announced atomic.Bool
}

// NewIOManager creates a session over an authenticated connection. Nothing
// is read until Start.
func NewIOManager(conn *wire.LineConn, cipher security.Cipher, sink MessageSink, opts Options) *IOManager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &IOManager{
		conn:        conn,
		cipher:      cipher,
		sink:        sink,
		opts:        opts,
		logger:      logger,
		chatQueue:   NewQueue[model.ChatMessage](),
		systemQueue: NewQueue[model.SystemMessage](),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the receiver and the two consumers
func (m *IOManager) Start() {
	m.startOnce.Do(func() {
		m.consumers.Add(2)
		go m.receive()
		go m.consumeChat()
		go m.consumeSystem()
	})
}

// Done is closed when the receiver has exited. By then any lost connection
// has been reported.
func (m *IOManager) Done() <-chan struct{} {
	return m.done
}

// SendChatMessage echoes text locally and sends it to the peer with
// surrounding whitespace trimmed. Blank text is ignored.
func (m *IOManager) SendChatMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if m.isStopped() {
		return &SendError{Op: "send chat message", Err: ErrSessionClosed}
	}

	msg := model.NewChatMessage(text, m.opts.LocalIP, m.opts.Now())
	m.sink.AppendMessage(msg.Display(), KindLocal)

	return m.send("send chat message", msg)
}

// SendSystemMessage sends a control message to the peer
func (m *IOManager) SendSystemMessage(subtype, payload string) error {
	if m.isStopped() {
		return &SendError{Op: "send system message", Err: ErrSessionClosed}
	}
	return m.send("send system message", model.NewSystemMessage(subtype, payload, m.opts.LocalIP))
}

// CloseSession stops both consumers and closes the chat surface. The socket
// is left open.
func (m *IOManager) CloseSession() {
	m.stop()
	m.closeSink()
}

func (m *IOManager) send(op string, msg model.Message) error {
	body, err := model.Encode(msg)
	if err != nil {
		return &SendError{Op: op, Err: err}
	}

	frame, err := m.cipher.Encrypt(body)
	if err != nil {
		return &SendError{Op: op, Err: err}
	}

	if err := m.conn.WriteLine(frame); err != nil {
		m.logger.Warn("io_manager", "Failed to send frame", map[string]interface{}{
			"message_type": string(msg.Kind()),
			"error":        err.Error(),
		})
		return &SendError{Op: op, Err: err}
	}
	return nil
}

func (m *IOManager) receive() {
	defer close(m.done)

	var readErr error
	for readErr == nil {
		var line string
		line, readErr = m.conn.ReadLine()
		if line != "" {
			m.dispatch(line)
		}
	}

	// queued items are still delivered
	m.chatQueue.Close()
	m.systemQueue.Close()
	m.reportReadError(readErr)
}

// reportReadError decides who owns the end of the read loop. A local close,
// or a peer that said goodbye first, needs nothing more. Anything else means
// the peer vanished and the session is torn down from here.
func (m *IOManager) reportReadError(err error) {
	if m.isStopped() || m.announced.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		m.logger.Debug("io_manager", "Receiver stopped", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	// the notice goes after whatever the peer sent before leaving
	m.consumers.Wait()

	if errors.Is(err, io.EOF) {
		m.logger.Info("io_manager", "Peer closed the connection without notice", nil)
		m.sink.AppendMessage(ConnectionLostNotice, KindSystem)
	} else {
		m.logger.Warn("io_manager", "Connection dropped", map[string]interface{}{
			"error": err.Error(),
		})
		m.sink.AppendMessage("[Connection unexpectedly dropped] "+err.Error(), KindError)
	}

	m.closeSink()
	m.stop()

	if m.opts.OnConnectionLost != nil {
		m.opts.OnConnectionLost(err)
	}
}

func (m *IOManager) dispatch(line string) {
	plaintext := m.cipher.Decrypt(line)
	if plaintext == "" {
		m.sink.AppendMessage("[Decryption failed] frame could not be decrypted", KindWarning)
		return
	}

	msg, err := model.Decode(plaintext)
	if err != nil {
		var unknown *model.UnknownTypeError
		if errors.As(err, &unknown) {
			m.sink.AppendMessage("[Unknown message type] "+unknown.Type, KindWarning)
		} else {
			m.sink.AppendMessage("[Decryption failed] "+err.Error(), KindWarning)
		}
		return
	}

	switch msg := msg.(type) {
	case model.ChatMessage:
		m.chatQueue.Put(msg)
	case model.SystemMessage:
		if msg.IsRemoteDisconnect() {
			m.announced.Store(true)
		}
		m.systemQueue.Put(msg)
	}
}

func (m *IOManager) consumeChat() {
	defer m.consumers.Done()
	for {
		msg, ok := m.chatQueue.Take()
		if !ok {
			return
		}
		m.sink.AppendMessage(msg.Display(), KindRemote)
	}
}

func (m *IOManager) consumeSystem() {
	defer m.consumers.Done()
	for {
		msg, ok := m.systemQueue.Take()
		if !ok {
			return
		}
		if !msg.IsRemoteDisconnect() {
			m.logger.Debug("io_manager", "Ignoring system message", map[string]interface{}{
				"subtype": msg.Subtype,
				"payload": msg.Payload,
			})
			continue
		}

		m.handleRemoteDisconnect(msg)
		return
	}
}

func (m *IOManager) handleRemoteDisconnect(msg model.SystemMessage) {
	grace := m.opts.DisconnectGrace
	seconds := int(math.Ceil(grace.Seconds()))

	m.sink.AppendMessage(fmt.Sprintf("[SYSTEM] %s has disconnected", msg.SenderIP), KindSystem)
	m.sink.AppendMessage(fmt.Sprintf("The chat will close in %d seconds.", seconds), KindSystem)

	m.logger.Info("io_manager", "Peer announced disconnect", map[string]interface{}{
		"peer":  msg.SenderIP,
		"grace": grace.String(),
	})

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-m.stopped:
		// closed locally while waiting; whoever closed it owns the teardown
		return
	}

	m.closeSink()
	m.stop()

	if m.opts.OnRemoteDisconnect != nil {
		m.opts.OnRemoteDisconnect(msg.SenderIP)
	}
}

func (m *IOManager) stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
		m.chatQueue.Discard()
		m.systemQueue.Discard()
	})
}

func (m *IOManager) closeSink() {
	m.sinkOnce.Do(m.sink.Close)
}

func (m *IOManager) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}
