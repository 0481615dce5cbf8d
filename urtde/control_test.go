package urtde

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestControl(t *testing.T) (*ControlClient, *bufio.Reader) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c, err := DialControl("127.0.0.1", port, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	server := <-accepted
	t.Cleanup(func() { server.Close() })
	return c, bufio.NewReader(server)
}

func TestControlClientScriptCommands(t *testing.T) {
	c, r := dialTestControl(t)

	require.NoError(t, c.MoveL([6]float64{0.3, 0, 0.25, 0, 3.14, 0}, 0.1, 0.2))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "movel(p[0.300000, 0.000000, 0.250000, 0.000000, 3.140000, 0.000000], a=0.20000, v=0.10000)\n", line)

	require.NoError(t, c.MoveJ([6]float64{1, 2, 3, 4, 5, 6}, 0.3, 1.0))
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "movej([1.000000, 2.000000, 3.000000, 4.000000, 5.000000, 6.000000], a=1.00000, v=0.30000)\n", line)

	require.NoError(t, c.Stop())
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "stopj(2.0)\n", line)
}

func TestControlClientClosedLink(t *testing.T) {
	c, _ := dialTestControl(t)
	require.NoError(t, c.Close())
	assert.Error(t, c.Stop())
	// Close is idempotent.
	assert.NoError(t, c.Close())
}
