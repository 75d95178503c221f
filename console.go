package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"securechat/chatio"
	"securechat/logging"
	"securechat/network"
)

// lineReader is the part of *readline.Instance the console uses
type lineReader interface {
	Readline() (string, error)
	Clean()
	Refresh()
	Close() error
}

// consoleUI is the plain line frontend: every line typed is a chat message
// unless it starts with a dot
type consoleUI struct {
	rl     lineReader
	out    io.Writer
	logger *logging.SecureLogger

	mutex      sync.Mutex
	session    chatio.Session
	chatClosed bool

	stopped   chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

func newConsoleUI(logger *logging.SecureLogger) (*consoleUI, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return nil, err
	}
	return newConsoleWith(rl, os.Stdout, logger), nil
}

func newConsoleWith(rl lineReader, out io.Writer, logger *logging.SecureLogger) *consoleUI {
	if logger == nil {
		logger = logging.Nop()
	}
	return &consoleUI{
		rl:      rl,
		out:     out,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

func (c *consoleUI) printLine(text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.rl.Clean()
	fmt.Fprintln(c.out, text)
	c.rl.Refresh()
}

func (c *consoleUI) OnStatusUpdate(status string) {
	c.printLine("* " + status)
}

func (c *consoleUI) OnConnecting() {}

func (c *consoleUI) OnConnected() {
	c.printLine(colorize("Connected. Type a message and press Enter, .quit to leave.", chatio.KindSystem))
}

func (c *consoleUI) OnDisconnected() {
	c.printLine("Disconnected.")
}

func (c *consoleUI) OnRemoteDisconnect() {
	c.printLine("Press Enter to exit.")
}

func (c *consoleUI) OnConnectionFailed(reason string) {
	c.printLine(colorize(reason, chatio.KindError))
}

func (c *consoleUI) OnConnectionAborted() {
	c.printLine("Aborted.")
}

func (c *consoleUI) AppendMessage(text string, kind chatio.MessageKind) {
	c.printLine(colorize(text, kind))
}

// Close is the end of the chat surface, not of the console
func (c *consoleUI) Close() {
	c.mutex.Lock()
	c.session = nil
	c.chatClosed = true
	c.mutex.Unlock()

	c.printLine("Chat closed.")
}

func (c *consoleUI) SetSession(session chatio.Session) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.session = session
}

func (c *consoleUI) currentSession() (chatio.Session, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session, c.chatClosed
}

// Run implements frontend
func (c *consoleUI) Run(manager *network.ConnectionManager) error {
	c.printLine(versionString() + " - type .help for commands")
	manager.StartConnection()

	for {
		line, err := c.rl.Readline()

		select {
		case <-c.stopped:
			return nil
		default:
		}

		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				manager.CloseConnection()
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			manager.Disconnect()
			return nil
		case err != nil:
			return err
		}

		if c.handleLine(manager, line) {
			return nil
		}
	}
}

// handleLine runs one line of input and reports whether to leave
func (c *consoleUI) handleLine(manager *network.ConnectionManager, line string) bool {
	session, chatClosed := c.currentSession()

	switch strings.TrimSpace(line) {
	case ".quit", ".exit":
		manager.Disconnect()
		return true
	case ".state":
		c.printLine("State: " + manager.State().String())
		return false
	case ".help":
		c.printLine(".quit   leave the chat and tell the peer\n.state  show the connection state\n.help   show this help")
		return false
	case "":
		return chatClosed
	}

	if session == nil {
		c.printLine(colorize("Not connected.", chatio.KindWarning))
		return false
	}

	if err := session.SendChatMessage(line); err != nil {
		c.logger.Warn("cli", "Failed to send message", map[string]interface{}{
			"error": err.Error(),
		})
		c.printLine(colorize("Send failed: "+err.Error(), chatio.KindError))
	}
	return false
}

// Stop implements frontend
func (c *consoleUI) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
	})
	c.Shutdown()
}

// Shutdown implements frontend
func (c *consoleUI) Shutdown() {
	c.closeOnce.Do(func() {
		c.rl.Close()
	})
}
