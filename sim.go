package armlink

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// simBackend is an in-memory arm: moves land instantly (or after a nominal
// travel delay when realtime is set) and telemetry is always available.
// It backs tests and the `sim` backend selection.
type simBackend struct {
	realtime bool

	mu        sync.Mutex
	connected bool
	pose      Pose
	joints    JointVector
}

// NewSimBackend builds the simulated backend. With realtime set, moves
// sleep for their nominal duration before completing.
func NewSimBackend(realtime bool) Backend {
	return &simBackend{realtime: realtime}
}

func (b *simBackend) Name() string { return "sim" }

func (b *simBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *simBackend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *simBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *simBackend) TCPPose() (Pose, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pose, nil
}

func (b *simBackend) Joints() (JointVector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joints, nil
}

func (b *simBackend) MoveL(target Pose, speed, accel float64) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return errors.Wrap(ErrMotion, "sim backend not connected")
	}
	speed = ClampLinearSpeed(speed)
	dist := target.Position.Sub(b.pose.Position).Norm()
	b.mu.Unlock()

	if b.realtime {
		time.Sleep(time.Duration(dist / speed * float64(time.Second)))
	}

	b.mu.Lock()
	b.pose = target
	b.mu.Unlock()
	return nil
}

func (b *simBackend) MoveJ(q JointVector, speed, accel float64) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return errors.Wrap(ErrMotion, "sim backend not connected")
	}
	b.mu.Unlock()

	if b.realtime {
		time.Sleep(50 * time.Millisecond)
	}

	b.mu.Lock()
	b.joints = q
	b.mu.Unlock()
	return nil
}
