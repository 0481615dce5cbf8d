package armlink

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Conn is one end of the duplex packet channel: newline-delimited JSON
// arrays over a point-to-point net.Conn, FIFO in each direction.
//
// Recv distinguishes two failure classes. A line that is not a valid packet
// returns an error matching ErrProtocol and leaves the stream usable; a
// broken or closed connection returns an error matching ErrChannel and is
// fatal to the caller.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	mu sync.Mutex // serializes writes
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, r: bufio.NewReader(conn)}
}

// Dial connects to a listening channel endpoint. The network is "tcp" or
// "unix" depending on the address form.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout(networkFor(addr), addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(ErrChannel, "dial %s: %v", addr, err)
	}
	return NewConn(conn), nil
}

// Listen opens a listener for a channel endpoint.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen(networkFor(addr), addr)
	if err != nil {
		return nil, errors.Wrapf(ErrChannel, "listen %s: %v", addr, err)
	}
	return ln, nil
}

func networkFor(addr string) string {
	if len(addr) > 0 && (addr[0] == '/' || addr[0] == '@') {
		return "unix"
	}
	return "tcp"
}

// Send encodes and writes one packet.
func (c *Conn) Send(p Packet) error {
	data, err := MarshalPacket(p)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return errors.Wrapf(ErrChannel, "send: %v", err)
	}
	return nil
}

// Recv blocks for the next packet.
func (c *Conn) Recv() (Packet, error) {
	return c.recv(time.Time{})
}

// RecvDeadline reads the next packet, failing with an error matching
// ErrTimeout once the deadline passes. A timeout is not fatal; the stream
// stays usable for further reads.
func (c *Conn) RecvDeadline(deadline time.Time) (Packet, error) {
	return c.recv(deadline)
}

func (c *Conn) recv(deadline time.Time) (Packet, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrapf(ErrChannel, "set deadline: %v", err)
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, errors.Wrap(ErrTimeout, "recv")
		}
		return nil, errors.Wrapf(ErrChannel, "recv: %v", err)
	}
	return UnmarshalPacket(line)
}

// ErrTimeout marks an expired read deadline during an opportunistic drain.
// Not fatal; the stream stays usable.
var ErrTimeout = errors.New("recv deadline passed")

// Close shuts the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
