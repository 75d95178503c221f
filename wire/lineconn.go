// Package wire carries newline-delimited frames over a single TCP socket.
package wire

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// LineConn is the only reader and writer of a socket for its whole lifetime.
// The handshake and the chat session share it so nothing buffered is lost
// between the two phases.
type LineConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewLineConn wraps an established connection
func NewLineConn(conn net.Conn) *LineConn {
	return &LineConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// ReadLine blocks until one full line is available and returns it without
// the trailing line terminator. A final unterminated line is returned
// together with the read error.
func (lc *LineConn) ReadLine() (string, error) {
	line, err := lc.reader.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// WriteLine writes one frame followed by a newline. Concurrent callers are
// serialized so frames never interleave.
func (lc *LineConn) WriteLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("frame contains a line break")
	}

	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	if _, err := lc.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// SetDeadline sets the read and write deadline of the socket. A zero time
// clears it.
func (lc *LineConn) SetDeadline(t time.Time) error {
	return lc.conn.SetDeadline(t)
}

// LocalIP returns the local address of the socket without the port
func (lc *LineConn) LocalIP() string {
	return hostOnly(lc.conn.LocalAddr())
}

// RemoteIP returns the peer address of the socket without the port
func (lc *LineConn) RemoteIP() string {
	return hostOnly(lc.conn.RemoteAddr())
}

// Close closes the underlying socket, unblocking any pending read
func (lc *LineConn) Close() error {
	return lc.conn.Close()
}

func hostOnly(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
