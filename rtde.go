package armlink

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"armlink/urtde"
)

// Settle detection for blocking moves.
const (
	settlePoll       = 50 * time.Millisecond
	settlePosTol     = 0.002 // m
	settleJointTol   = 0.01  // rad
	settleGuardTime  = 2 * time.Second
	settleTimeFactor = 3.0
)

// urBackend drives a UR-style controller through the urtde control/receive
// pair. Connected is true only when both links are live; there is no
// partial-connected state.
type urBackend struct {
	host        string
	controlPort int
	receivePort int
	timeout     time.Duration
	logger      logging.Logger

	mu      sync.Mutex
	control *urtde.ControlClient
	receive *urtde.ReceiveClient
}

// NewURBackend builds the vendor backend. No connection is attempted until
// Connect.
func NewURBackend(host string, controlPort, receivePort int, timeout time.Duration, logger logging.Logger) Backend {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &urBackend{
		host:        host,
		controlPort: controlPort,
		receivePort: receivePort,
		timeout:     timeout,
		logger:      logger,
	}
}

func (b *urBackend) Name() string { return "rtde" }

func (b *urBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.control != nil && b.receive != nil {
		return nil
	}

	control, err := urtde.DialControl(b.host, b.controlPort, b.timeout)
	if err != nil {
		return errors.Wrapf(ErrConnection, "%s: %v", b.host, err)
	}
	receive, err := urtde.DialReceive(b.host, b.receivePort, b.timeout)
	if err != nil {
		_ = control.Close()
		return errors.Wrapf(ErrConnection, "%s: %v", b.host, err)
	}

	b.control = control
	b.receive = receive
	b.logger.Infof("connected to %s (control :%d, receive :%d)", b.host, b.controlPort, b.receivePort)
	return nil
}

func (b *urBackend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.control != nil {
		if err := b.control.Stop(); err != nil {
			b.logger.Debugw("stop script during shutdown", "error", err)
		}
		if err := b.control.Close(); err != nil {
			b.logger.Debugw("close control link", "error", err)
		}
		b.control = nil
	}
	if b.receive != nil {
		if err := b.receive.Close(); err != nil {
			b.logger.Debugw("close receive link", "error", err)
		}
		b.receive = nil
	}
	b.logger.Debug("[rtde] shutdown complete")
}

func (b *urBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control != nil && b.receive != nil && b.receive.Alive()
}

func (b *urBackend) links() (*urtde.ControlClient, *urtde.ReceiveClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control, b.receive
}

// TCPPose returns the latest telemetry pose, or the zero pose before the
// first sample arrives.
func (b *urBackend) TCPPose() (Pose, error) {
	_, receive := b.links()
	if receive == nil {
		return Pose{}, nil
	}
	raw, ok := receive.ActualTCPPose()
	if !ok {
		return Pose{}, nil
	}
	return Pose{
		Position: r3.Vector{X: raw[0], Y: raw[1], Z: raw[2]},
		Rotation: r3.Vector{X: raw[3], Y: raw[4], Z: raw[5]},
	}, nil
}

func (b *urBackend) Joints() (JointVector, error) {
	_, receive := b.links()
	if receive == nil {
		return JointVector{}, nil
	}
	raw, ok := receive.ActualQ()
	if !ok {
		return JointVector{}, nil
	}
	return JointVector(raw), nil
}

func (b *urBackend) MoveL(target Pose, speed, accel float64) error {
	control, receive := b.links()
	if control == nil || receive == nil {
		return errors.Wrap(ErrMotion, "control link not connected")
	}
	// Defensive re-clamp; nothing unclamped reaches the controller.
	speed = ClampLinearSpeed(speed)
	accel = ClampLinearAccel(accel)

	start, err := b.TCPPose()
	if err != nil {
		return errors.Wrapf(ErrMotion, "read pose: %v", err)
	}
	dist := target.Position.Sub(start.Position).Norm()

	raw := [6]float64{
		target.Position.X, target.Position.Y, target.Position.Z,
		target.Rotation.X, target.Rotation.Y, target.Rotation.Z,
	}
	if err := control.MoveL(raw, speed, accel); err != nil {
		return errors.Wrapf(ErrMotion, "moveL: %v", err)
	}
	return b.waitSettled(dist/speed, func() bool {
		cur, ok := receive.ActualTCPPose()
		if !ok {
			return false
		}
		d := r3.Vector{
			X: cur[0] - raw[0],
			Y: cur[1] - raw[1],
			Z: cur[2] - raw[2],
		}
		return d.Norm() < settlePosTol
	})
}

func (b *urBackend) MoveJ(q JointVector, speed, accel float64) error {
	control, receive := b.links()
	if control == nil || receive == nil {
		return errors.Wrap(ErrMotion, "control link not connected")
	}
	speed = ClampJointSpeed(speed)
	accel = ClampJointAccel(accel)

	startQ, _ := b.Joints()
	maxDiff := 0.0
	for i := range q {
		maxDiff = math.Max(maxDiff, math.Abs(q[i]-startQ[i]))
	}

	if err := control.MoveJ([6]float64(q), speed, accel); err != nil {
		return errors.Wrapf(ErrMotion, "moveJ: %v", err)
	}
	return b.waitSettled(maxDiff/speed, func() bool {
		cur, ok := receive.ActualQ()
		if !ok {
			return false
		}
		for i := range q {
			if math.Abs(cur[i]-q[i]) > settleJointTol {
				return false
			}
		}
		return true
	})
}

// waitSettled blocks until reached reports true or a time budget derived
// from the nominal duration elapses. The script interface has no synchronous
// acknowledgement, so settling is observed through telemetry.
func (b *urBackend) waitSettled(nominal float64, reached func() bool) error {
	budget := time.Duration(nominal*settleTimeFactor*float64(time.Second)) + settleGuardTime
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if reached() {
			return nil
		}
		time.Sleep(settlePoll)
	}
	if reached() {
		return nil
	}
	return errors.Wrapf(ErrMotion, "move did not settle within %s", budget)
}
