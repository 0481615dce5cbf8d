// Package urtde is a minimal driver pair for UR-style robot controllers:
// a control link that streams URScript motion commands and a receive link
// that parses the controller's real-time state stream.
package urtde

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Default controller ports.
const (
	DefaultControlPort = 30002 // secondary interface, accepts URScript
	DefaultReceivePort = 30003 // real-time state stream
)

// ControlClient owns the script connection. One outstanding command at a
// time; writes are serialized.
type ControlClient struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialControl connects to the controller's script interface.
func DialControl(host string, port int, timeout time.Duration) (*ControlClient, error) {
	if port == 0 {
		port = DefaultControlPort
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial control %s", addr)
	}
	return &ControlClient{conn: conn}, nil
}

// MoveL streams a movel command for an absolute pose
// [x,y,z,rx,ry,rz] (meters, axis-angle radians).
func (c *ControlClient) MoveL(pose [6]float64, speed, accel float64) error {
	return c.script(fmt.Sprintf("movel(p%s, a=%.5f, v=%.5f)", urVec(pose), accel, speed))
}

// MoveJ streams a movej command for absolute joint angles in radians.
func (c *ControlClient) MoveJ(q [6]float64, speed, accel float64) error {
	return c.script(fmt.Sprintf("movej(%s, a=%.5f, v=%.5f)", urVec(q), accel, speed))
}

// Stop halts any in-flight motion with a controlled joint-space deceleration.
func (c *ControlClient) Stop() error {
	return c.script("stopj(2.0)")
}

func (c *ControlClient) script(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("control link closed")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(err, "send %q", line)
	}
	return nil
}

// Close shuts the script connection. Idempotent.
func (c *ControlClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func urVec(v [6]float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%.6f", f)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
