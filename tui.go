package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jroimartin/gocui"

	"securechat/chatio"
	"securechat/logging"
	"securechat/network"
)

const (
	messagesView = "messages"
	statusView   = "status"
	inputView    = "input"
)

// terminalUI is the full screen frontend. Callbacks arrive on manager and
// session goroutines, so they only queue text and ask gocui to redraw.
type terminalUI struct {
	gui     *gocui.Gui
	logger  *logging.SecureLogger
	manager *network.ConnectionManager
	outbox  chan string

	mutex   sync.Mutex
	pending []string
	status  string
	state   network.ConnectionState
	session chatio.Session
	closed  bool

	closeOnce sync.Once
}

func newTerminalUI(logger *logging.SecureLogger) (*terminalUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	ui := &terminalUI{
		gui:    g,
		logger: logger,
		outbox: make(chan string, 16),
		status: "Starting...",
	}
	g.Cursor = true
	g.SetManagerFunc(ui.layout)
	return ui, nil
}

func (ui *terminalUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView(messagesView, 0, 0, maxX-1, maxY-7); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = versionString()
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(statusView, 0, maxY-6, maxX-1, maxY-4); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Wrap = true
	}

	if v, err := g.SetView(inputView, 0, maxY-3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Message (Enter send, Ctrl-D leave, Ctrl-C quit)"
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	return ui.flush(g)
}

// flush moves queued lines and the status into the views. Before the first
// layout the views do not exist and everything stays queued.
func (ui *terminalUI) flush(g *gocui.Gui) error {
	messages, err := g.View(messagesView)
	if err != nil {
		return nil
	}
	status, err := g.View(statusView)
	if err != nil {
		return nil
	}

	ui.mutex.Lock()
	lines := ui.pending
	ui.pending = nil
	text := fmt.Sprintf("[%s] %s", strings.ToUpper(ui.state.String()), ui.status)
	ui.mutex.Unlock()

	for _, line := range lines {
		fmt.Fprintln(messages, line)
	}
	status.Clear()
	fmt.Fprint(status, text)
	return nil
}

func (ui *terminalUI) refresh() {
	ui.mutex.Lock()
	closed := ui.closed
	ui.mutex.Unlock()
	if closed {
		return
	}
	ui.gui.Update(ui.flush)
}

func (ui *terminalUI) appendLine(text string, kind chatio.MessageKind) {
	ui.mutex.Lock()
	ui.pending = append(ui.pending, colorize(text, kind))
	ui.mutex.Unlock()
	ui.refresh()
}

func (ui *terminalUI) setStatus(status string) {
	ui.mutex.Lock()
	ui.status = status
	ui.mutex.Unlock()
	ui.refresh()
}

func (ui *terminalUI) setState(state network.ConnectionState) {
	ui.mutex.Lock()
	ui.state = state
	ui.mutex.Unlock()
	ui.refresh()
}

func (ui *terminalUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, ui.quit); err != nil {
		return err
	}
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlD, gocui.ModNone, ui.leave); err != nil {
		return err
	}
	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *terminalUI) quit(g *gocui.Gui, v *gocui.View) error {
	ui.manager.CloseConnection()
	return gocui.ErrQuit
}

func (ui *terminalUI) leave(g *gocui.Gui, v *gocui.View) error {
	go func() {
		ui.manager.Disconnect()
		ui.Stop()
	}()
	return nil
}

func (ui *terminalUI) handleInput(g *gocui.Gui, v *gocui.View) error {
	text := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	ui.mutex.Lock()
	session := ui.session
	ui.mutex.Unlock()

	if session == nil {
		return ui.warn(g, "Not connected.")
	}

	select {
	case ui.outbox <- text:
		return nil
	default:
		return ui.warn(g, "Still sending, message dropped.")
	}
}

// warn is appendLine for code already running on the gocui goroutine
func (ui *terminalUI) warn(g *gocui.Gui, text string) error {
	ui.mutex.Lock()
	ui.pending = append(ui.pending, colorize(text, chatio.KindWarning))
	ui.mutex.Unlock()
	return ui.flush(g)
}

// sendLoop keeps network writes off the gocui goroutine and in input order
func (ui *terminalUI) sendLoop() {
	for text := range ui.outbox {
		ui.mutex.Lock()
		session := ui.session
		ui.mutex.Unlock()
		if session == nil {
			continue
		}

		if err := session.SendChatMessage(text); err != nil {
			ui.logger.Warn("tui", "Failed to send message", map[string]interface{}{
				"error": err.Error(),
			})
			ui.appendLine("Send failed: "+err.Error(), chatio.KindError)
		}
	}
}

func (ui *terminalUI) OnStatusUpdate(status string) {
	ui.setStatus(status)
}

func (ui *terminalUI) OnConnecting() {}

func (ui *terminalUI) OnConnected() {
	ui.appendLine("Connected. Type a message and press Enter.", chatio.KindSystem)
}

func (ui *terminalUI) OnDisconnected() {
	ui.setStatus("Disconnected.")
}

func (ui *terminalUI) OnRemoteDisconnect() {
	ui.appendLine("Press Ctrl-C to exit.", chatio.KindSystem)
}

func (ui *terminalUI) OnConnectionFailed(reason string) {
	ui.appendLine(reason, chatio.KindError)
}

func (ui *terminalUI) OnConnectionAborted() {
	ui.setStatus("Aborted.")
}

func (ui *terminalUI) AppendMessage(text string, kind chatio.MessageKind) {
	ui.appendLine(text, kind)
}

// Close ends the chat surface; the screen stays up until the user quits
func (ui *terminalUI) Close() {
	ui.mutex.Lock()
	ui.session = nil
	ui.mutex.Unlock()

	ui.appendLine("The chat has been closed.", chatio.KindSystem)
}

func (ui *terminalUI) SetSession(session chatio.Session) {
	ui.mutex.Lock()
	ui.session = session
	ui.mutex.Unlock()
}

// Run implements frontend
func (ui *terminalUI) Run(manager *network.ConnectionManager) error {
	ui.manager = manager
	if err := ui.keybindings(); err != nil {
		return err
	}

	manager.Observe(ui.setState)
	go ui.sendLoop()
	manager.StartConnection()

	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// Stop implements frontend
func (ui *terminalUI) Stop() {
	ui.mutex.Lock()
	closed := ui.closed
	ui.mutex.Unlock()
	if closed {
		return
	}
	ui.gui.Update(func(*gocui.Gui) error {
		return gocui.ErrQuit
	})
}

// Shutdown implements frontend
func (ui *terminalUI) Shutdown() {
	ui.closeOnce.Do(func() {
		ui.mutex.Lock()
		ui.closed = true
		ui.mutex.Unlock()

		close(ui.outbox)
		ui.gui.Close()
	})
}
