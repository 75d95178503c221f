package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"securechat/chatio"
	"securechat/config"
	"securechat/network"
)

// frontend is everything the connection manager talks to plus the loop
// that reads user input
type frontend interface {
	network.StatusListener
	chatio.MessageSink
	network.SessionReceiver

	// Run starts the connection and blocks until the user leaves
	Run(manager *network.ConnectionManager) error

	// Stop asks a running Run to return
	Stop()

	// Shutdown releases the terminal
	Shutdown()
}

func defaultFrontend(a *app) (frontend, error) {
	switch a.config.UI {
	case config.UILine:
		return newConsoleUI(a.logger)
	default:
		return newTerminalUI(a.logger)
	}
}

// ANSI colours per message kind
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

func colorize(text string, kind chatio.MessageKind) string {
	switch kind {
	case chatio.KindLocal:
		return colorGreen + text + colorReset
	case chatio.KindSystem:
		return colorCyan + text + colorReset
	case chatio.KindWarning:
		return colorYellow + text + colorReset
	case chatio.KindError:
		return colorRed + text + colorReset
	default:
		return text
	}
}

// statusPrinter reports validation problems before any frontend exists
type statusPrinter struct {
	out io.Writer
}

func (p *statusPrinter) OnStatusUpdate(status string) { fmt.Fprintln(p.out, status) }
func (p *statusPrinter) OnConnecting()                {}
func (p *statusPrinter) OnConnected()                 {}
func (p *statusPrinter) OnDisconnected()              {}
func (p *statusPrinter) OnRemoteDisconnect()          {}
func (p *statusPrinter) OnConnectionFailed(string)    {}
func (p *statusPrinter) OnConnectionAborted()         {}

// promptPasskey reads the passkey from the terminal without echo
func promptPasskey(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no passkey given and stdin is not a terminal, use --passkey")
	}

	fmt.Fprint(out, "Passkey: ")
	passkey, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read passkey: %w", err)
	}
	return string(passkey), nil
}
