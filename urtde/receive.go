package urtde

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Real-time state messages are a 4-byte big-endian length (including the
// length field itself) followed by packed float64 fields. Byte offsets from
// the start of the message, CB-series firmware 3.x layout:
const (
	offQActual    = 252 // q_actual, 6 doubles
	offToolVector = 444 // tool_vector_actual, 6 doubles

	minStateSize = offToolVector + 48
	maxStateSize = 4096
)

// ReceiveClient consumes the real-time stream and caches the latest joint
// and tool-pose samples. The reader goroutine is internal; all accessors are
// safe for concurrent use.
type ReceiveClient struct {
	conn net.Conn

	mu    sync.Mutex
	q     [6]float64
	tcp   [6]float64
	have  bool
	alive bool
}

// DialReceive connects to the controller's real-time stream and starts the
// reader.
func DialReceive(host string, port int, timeout time.Duration) (*ReceiveClient, error) {
	if port == 0 {
		port = DefaultReceivePort
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial receive %s", addr)
	}
	r := &ReceiveClient{conn: conn, alive: true}
	go r.readLoop()
	return r, nil
}

// Alive reports whether the stream is still delivering.
func (r *ReceiveClient) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

// ActualQ returns the latest joint sample. ok is false until the first
// complete state message arrives.
func (r *ReceiveClient) ActualQ() (q [6]float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q, r.have
}

// ActualTCPPose returns the latest tool pose sample
// [x,y,z,rx,ry,rz]. ok is false until the first complete state message.
func (r *ReceiveClient) ActualTCPPose() (pose [6]float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tcp, r.have
}

// Close stops the reader and drops the connection. Idempotent.
func (r *ReceiveClient) Close() error {
	r.mu.Lock()
	r.alive = false
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (r *ReceiveClient) readLoop() {
	defer func() {
		r.mu.Lock()
		r.alive = false
		r.mu.Unlock()
	}()

	header := make([]byte, 4)
	for {
		if err := r.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if _, err := io.ReadFull(r.conn, header); err != nil {
			return
		}
		size := int(binary.BigEndian.Uint32(header))
		if size < 4 || size > maxStateSize {
			return
		}
		body := make([]byte, size-4)
		if _, err := io.ReadFull(r.conn, body); err != nil {
			return
		}
		if size < minStateSize {
			// Short message (older firmware or partial state); skip.
			continue
		}
		r.ingest(body)
	}
}

// ingest parses one state message body (everything after the length field).
func (r *ReceiveClient) ingest(body []byte) {
	var q, tcp [6]float64
	for i := 0; i < 6; i++ {
		q[i] = readDouble(body, offQActual-4+8*i)
		tcp[i] = readDouble(body, offToolVector-4+8*i)
	}

	r.mu.Lock()
	r.q = q
	r.tcp = tcp
	r.have = true
	r.mu.Unlock()
}

func readDouble(b []byte, off int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
}
