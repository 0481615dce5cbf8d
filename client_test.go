package armlink

import (
	"net"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

// fakeClock lets busy-window tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestClient returns a client whose sends are swallowed by a pipe reader,
// plus the clock driving its busy window.
func newTestClient(t *testing.T) (*Client, *fakeClock) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	// Discard everything the client writes so sends never block.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	client := NewClient(NewConn(local), logging.NewLogger("client-test"))
	client.now = clock.Now
	return client, clock
}

func TestMoveLinearBusyWindow(t *testing.T) {
	client, clock := newTestClient(t)

	// An oversized request is clamped before the estimate: 0.20 m at
	// 0.25 m/s nominal 0.8 s, guard 0.1 + 0.1*0.8 = 0.18 s.
	require.NoError(t, client.MoveLinear(r3.Vector{Z: 0.5}, 1.0, FrameTool))

	assert.True(t, client.IsBusy())
	clock.Advance(970 * time.Millisecond)
	assert.True(t, client.IsBusy(), "window is 0.98s, still busy at 0.97s")
	clock.Advance(20 * time.Millisecond)
	assert.False(t, client.IsBusy(), "window closed at 0.99s")
}

func TestBusyGuardIsCapped(t *testing.T) {
	client, clock := newTestClient(t)

	// Slowest legal move: 0.20 m at 0.01 m/s is 20 s nominal; the guard
	// caps at 0.5 s instead of growing with duration.
	require.NoError(t, client.MoveLinear(r3.Vector{X: 0.2}, 0.01, FrameTool))

	clock.Advance(20*time.Second + 490*time.Millisecond)
	assert.True(t, client.IsBusy())
	clock.Advance(20 * time.Millisecond)
	assert.False(t, client.IsBusy())
}

func TestMoveLinearRejectsBadFrame(t *testing.T) {
	client, _ := newTestClient(t)
	err := client.MoveLinear(r3.Vector{Z: 0.05}, 0.1, Frame("sideways"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, client.IsBusy(), "rejected request must not open the window")
}

func TestMoveCartesianRejectsBadFrame(t *testing.T) {
	client, _ := newTestClient(t)
	err := client.MoveCartesian(r3.Vector{X: 0.3}, nil, 0.1, Frame(""))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOptimisticPoseCache(t *testing.T) {
	client, _ := newTestClient(t)

	// No pose known until the first status arrives.
	_, ok := client.Pose()
	assert.False(t, ok)

	client.Ingest(StatusPacket{State: StateIdle, Pos: r3.Vector{X: 0.3}, Quat: IdentityQuaternion()})
	pose, ok := client.Pose()
	require.True(t, ok)
	assert.Equal(t, 0.3, pose.Position.X)

	// A linear move advances the cache by the clamped delta.
	require.NoError(t, client.MoveLinear(r3.Vector{Z: 0.5}, 0.1, FrameBase))
	pose, _ = client.Pose()
	assert.InDelta(t, MaxStepMeters, pose.Position.Z, 1e-12)
	assert.InDelta(t, 0.3, pose.Position.X, 1e-12)

	// A cartesian move overwrites the position outright.
	require.NoError(t, client.MoveCartesian(r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}, nil, 0.1, FrameBase))
	pose, _ = client.Pose()
	assert.Equal(t, r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}, pose.Position)
}

func TestIngestStatusSetsConnected(t *testing.T) {
	client, _ := newTestClient(t)
	assert.False(t, client.Connected())

	client.Ingest(StatusPacket{State: StateIdle, Quat: IdentityQuaternion()})
	assert.True(t, client.Connected())

	client.Ingest(StatusPacket{State: StateMoving, Quat: IdentityQuaternion()})
	assert.True(t, client.Connected())

	client.Ingest(StatusPacket{State: StateError, Msg: "driver gone", Quat: IdentityQuaternion()})
	assert.False(t, client.Connected())
	require.NotNil(t, client.LastStatus())
	assert.Equal(t, "driver gone", client.LastStatus().Msg)
}

func TestIngestPong(t *testing.T) {
	client, _ := newTestClient(t)
	client.Ingest(PongPacket{Backend: "rtde", Connected: true})
	assert.Equal(t, "rtde", client.BackendName())
	assert.True(t, client.Connected())
}

func TestIngestLearnsBackendFromDebug(t *testing.T) {
	client, _ := newTestClient(t)
	client.Ingest(DebugPacket{Msg: "using backend: sim"})
	assert.Equal(t, "sim", client.BackendName())

	// Unrelated debug lines leave the name alone.
	client.Ingest(DebugPacket{Msg: "movement finished"})
	assert.Equal(t, "sim", client.BackendName())
}

func TestMoveJointsBusyEstimateFromTravel(t *testing.T) {
	client, clock := newTestClient(t)

	// Known joints at zero; a 1.5 rad swing at 0.5 rad/s is 3 s nominal,
	// guard 0.1 + 0.1*3 = 0.4 s.
	client.Ingest(StatusPacket{State: StateIdle, Quat: IdentityQuaternion()})
	require.NoError(t, client.MoveJoints(JointVector{1.5, 0, 0, 0, 0, 0}, 0.5))

	clock.Advance(3*time.Second + 390*time.Millisecond)
	assert.True(t, client.IsBusy())
	clock.Advance(20 * time.Millisecond)
	assert.False(t, client.IsBusy())
}

func TestTaskFlags(t *testing.T) {
	client, _ := newTestClient(t)
	assert.False(t, client.Completed())
	assert.False(t, client.TaskSuccess())

	client.SetCompleted(true)
	client.SetTaskSuccess(true)
	assert.True(t, client.Completed())
	assert.True(t, client.TaskSuccess())
}

func TestDrainIngestsAndStopsOnDeadline(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	client := NewClient(NewConn(local), logging.NewLogger("client-test"))

	go func() {
		rc := NewConn(remote)
		rc.Send(StatusPacket{State: StateIdle, Msg: "connected", Pos: r3.Vector{X: 0.3}, Quat: IdentityQuaternion(), TS: 1})
		rc.Send(PongPacket{Backend: "sim", Connected: true, TS: 2})
		remote.Write([]byte("junk line\n"))
		rc.Send(DebugPacket{Msg: "noise", TS: 3})
	}()

	n := client.Drain(200 * time.Millisecond)
	assert.Equal(t, 3, n, "junk line is swallowed, not counted")
	assert.True(t, client.Connected())
	assert.Equal(t, "sim", client.BackendName())
	pose, ok := client.Pose()
	require.True(t, ok)
	assert.Equal(t, 0.3, pose.Position.X)
}

func TestWaitUntilIdle(t *testing.T) {
	client, _ := newTestClient(t)
	// Real clock here; the window is short.
	client.now = time.Now
	require.NoError(t, client.MoveLinear(r3.Vector{Z: 0.01}, MaxLinearSpeed, FrameTool))
	assert.True(t, client.IsBusy())
	assert.True(t, client.WaitUntilIdle(2*time.Second))
	assert.False(t, client.IsBusy())
}
