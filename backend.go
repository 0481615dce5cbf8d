package armlink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
)

// Pose is the driver-native pose: position in meters plus an axis-angle
// rotation vector.
type Pose struct {
	Position r3.Vector
	Rotation r3.Vector
}

// Quaternion returns the pose orientation as a unit quaternion.
func (p Pose) Quaternion() Quaternion {
	return AxisAngleToQuaternion(p.Rotation)
}

// Backend is the capability set a motion driver adapter must provide.
// Implementations: urBackend (vendor real-time driver pair), simBackend
// (in-memory), soArmBackend (serial servo bus, joints only).
type Backend interface {
	Name() string

	// Connect establishes the driver link. It fails fast; no
	// partial-connected state is ever exposed.
	Connect(ctx context.Context) error
	// Shutdown stops any in-flight motion and releases the link.
	// Idempotent, best-effort, never reports secondary errors.
	Shutdown()
	Connected() bool

	// TCPPose returns the current tool pose. Implementations return the
	// zero pose rather than failing when telemetry is not available yet.
	TCPPose() (Pose, error)
	Joints() (JointVector, error)

	// MoveL moves linearly to an absolute target pose. Blocks until the
	// driver considers the move finished or failed.
	MoveL(target Pose, speed, accel float64) error
	// MoveJ moves to absolute joint angles. Blocks like MoveL.
	MoveJ(q JointVector, speed, accel float64) error
}

// Sender delivers a motion->control packet, best-effort.
type Sender func(Packet)

// Mover implements the high-level motion operations once, against the
// Backend interface, with the status/debug/flag discipline every variant
// shares: Status(moving) before the attempt, Status(idle) on success,
// Status(error) on failure, one Debug with the computed target, and a moving
// flag that is always cleared on the way out.
type Mover struct {
	backend Backend
	send    Sender
	logger  logging.Logger

	linearAccel float64
	jointAccel  float64

	moving      atomic.Bool
	lastCommand atomic.Value // string
}

// NewMover wires a backend to a packet sender. Accelerations are clamped to
// the vendor-safe ranges here so no unclamped value can reach the driver.
func NewMover(b Backend, send Sender, linearAccel, jointAccel float64, logger logging.Logger) *Mover {
	m := &Mover{
		backend:     b,
		send:        send,
		logger:      logger,
		linearAccel: ClampLinearAccel(linearAccel),
		jointAccel:  ClampJointAccel(jointAccel),
	}
	m.lastCommand.Store("")
	return m
}

// Moving reports whether a motion call is in flight.
func (m *Mover) Moving() bool {
	return m.moving.Load()
}

// SetLastCommand records the issuing side's command text for diagnostics.
func (m *Mover) SetLastCommand(text string) {
	m.lastCommand.Store(text)
}

// LastCommand returns the most recent recorded command text.
func (m *Mover) LastCommand() string {
	s, _ := m.lastCommand.Load().(string)
	return s
}

// Status emits a status packet carrying the current observed pose. Telemetry
// read failures degrade to the zero pose; a status report must never fail.
func (m *Mover) Status(state MotionState, msg string) {
	pose, err := m.backend.TCPPose()
	if err != nil {
		m.logger.Debugw("pose read failed during status", "error", err)
		pose = Pose{}
	}
	joints, err := m.backend.Joints()
	if err != nil {
		m.logger.Debugw("joint read failed during status", "error", err)
		joints = JointVector{}
	}
	m.send(StatusPacket{
		State:  state,
		Msg:    msg,
		Pos:    pose.Position,
		Quat:   pose.Quaternion(),
		Joints: joints,
		TS:     NowTS(),
	})
}

// Debug emits a debug packet and mirrors it to the local logger.
func (m *Mover) Debug(msg string) {
	m.logger.Debug(msg)
	m.send(DebugPacket{Msg: msg, TS: NowTS()})
}

// MoveLinear applies a relative linear delta. Tool-frame deltas are rotated
// into the base frame by the current orientation before being added.
func (m *Mover) MoveLinear(delta r3.Vector, speed float64, frame Frame) {
	delta = ClampStep(delta)
	speed = ClampLinearSpeed(speed)
	m.Status(StateMoving, fmt.Sprintf("move_linear %s @ %.3f m/s frame=%s", fmtVec(delta), speed, frame))
	m.moving.Store(true)
	defer m.moving.Store(false)

	pose, err := m.backend.TCPPose()
	if err != nil {
		m.fail("move_linear", err)
		return
	}

	dBase := delta
	if frame == FrameTool {
		dBase = AxisAngleToMatrix(pose.Rotation).Apply(delta)
	}
	target := Pose{Position: pose.Position.Add(dBase), Rotation: pose.Rotation}

	m.Debug(fmt.Sprintf("[%s] moveL target=%s rot=%s, v=%.3f, a=%.3f",
		m.backend.Name(), fmtVec(target.Position), fmtVec(target.Rotation), speed, m.linearAccel))
	if err := m.backend.MoveL(target, speed, m.linearAccel); err != nil {
		m.fail("move_linear", err)
		return
	}
	m.Status(StateIdle, "done")
}

// MoveCartesian moves to an absolute position. A non-nil orientation is
// normalized and converted to axis-angle, replacing the current orientation;
// nil preserves it.
func (m *Mover) MoveCartesian(pos r3.Vector, orientation *Quaternion, speed float64, frame Frame) {
	speed = ClampLinearSpeed(speed)
	m.Status(StateMoving, fmt.Sprintf("move_cartesian %s @ %.3f m/s frame=%s", fmtVec(pos), speed, frame))
	m.moving.Store(true)
	defer m.moving.Store(false)

	pose, err := m.backend.TCPPose()
	if err != nil {
		m.fail("move_cartesian", err)
		return
	}

	rotation := pose.Rotation
	if orientation != nil {
		rotation = QuaternionToAxisAngle(*orientation)
	}
	target := Pose{Position: pos, Rotation: rotation}

	m.Debug(fmt.Sprintf("[%s] moveL target=%s rot=%s, v=%.3f, a=%.3f",
		m.backend.Name(), fmtVec(target.Position), fmtVec(target.Rotation), speed, m.linearAccel))
	if err := m.backend.MoveL(target, speed, m.linearAccel); err != nil {
		m.fail("move_cartesian", err)
		return
	}
	m.Status(StateIdle, "done")
}

// MoveJoints moves to absolute joint angles.
func (m *Mover) MoveJoints(q JointVector, speed float64) {
	speed = ClampJointSpeed(speed)
	m.Status(StateMoving, fmt.Sprintf("move_joints %v @ %.3f rad/s", q.Slice(), speed))
	m.moving.Store(true)
	defer m.moving.Store(false)

	m.Debug(fmt.Sprintf("[%s] moveJ q=%v, v=%.3f, a=%.3f",
		m.backend.Name(), q.Slice(), speed, m.jointAccel))
	if err := m.backend.MoveJ(q, speed, m.jointAccel); err != nil {
		m.fail("move_joints", err)
		return
	}
	m.Status(StateIdle, "done")
}

func (m *Mover) fail(op string, err error) {
	m.Status(StateError, fmt.Sprintf("%s failed: %v", op, err))
	m.Debug(fmt.Sprintf("%s: %+v", op, err))
}

func fmtVec(v r3.Vector) string {
	return fmt.Sprintf("[%.4f %.4f %.4f]", v.X, v.Y, v.Z)
}
