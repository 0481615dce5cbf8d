package armlink

import (
	"encoding/json"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Wire packets are flat, order-significant JSON arrays with the tag first and
// the send timestamp (epoch seconds) last:
//
//	control -> motion
//	  ["log", msg, ts]
//	  ["ping", ts]
//	  ["set_last_command", text, ts]
//	  ["move_linear", [dx,dy,dz], speed, frame, ts]
//	  ["move_cartesian", [x,y,z], [qx,qy,qz,qw]|null, speed, frame, ts]
//	  ["move_joints", [q1..q6], speed, ts]
//
//	motion -> control
//	  ["status", state, msg, [x,y,z], [qx,qy,qz,qw], joints, ts]
//	  ["debug", msg, ts]
//	  ["pong", backend, connected, ts]
//
// Decoding is defensive: missing trailing fields take their defaults, and an
// unknown or malformed leading tag yields ErrProtocol, never a panic.

// Frame selects the reference coordinate system for a motion delta.
type Frame string

const (
	FrameTool Frame = "tool"
	FrameBase Frame = "base"
)

// Valid reports whether f is one of the two allowed frames.
func (f Frame) Valid() bool {
	return f == FrameTool || f == FrameBase
}

// MotionState is the reported backend state.
type MotionState string

const (
	StateIdle   MotionState = "idle"
	StateMoving MotionState = "moving"
	StateError  MotionState = "error"
)

// JointVector holds exactly six joint angles in radians.
type JointVector [6]float64

// Slice returns the joint angles as a plain slice.
func (j JointVector) Slice() []float64 {
	out := make([]float64, len(j))
	copy(out, j[:])
	return out
}

// Packet is one wire message. Implementations are immutable value types.
type Packet interface {
	Tag() string
	// fields returns the ordered wire fields after the tag, timestamp last.
	fields() []any
}

// Packet tags.
const (
	TagLog            = "log"
	TagPing           = "ping"
	TagSetLastCommand = "set_last_command"
	TagMoveLinear     = "move_linear"
	TagMoveCartesian  = "move_cartesian"
	TagMoveJoints     = "move_joints"
	TagStatus         = "status"
	TagDebug          = "debug"
	TagPong           = "pong"
)

// LogPacket forwards a free-form message from the control side.
type LogPacket struct {
	Msg string
	TS  float64
}

func (p LogPacket) Tag() string   { return TagLog }
func (p LogPacket) fields() []any { return []any{p.Msg, p.TS} }

// PingPacket requests a PongPacket with backend identity and link state.
type PingPacket struct {
	TS float64
}

func (p PingPacket) Tag() string   { return TagPing }
func (p PingPacket) fields() []any { return []any{p.TS} }

// SetLastCommandPacket records the issuing side's current command text on the
// motion side, for diagnostics.
type SetLastCommandPacket struct {
	Text string
	TS   float64
}

func (p SetLastCommandPacket) Tag() string   { return TagSetLastCommand }
func (p SetLastCommandPacket) fields() []any { return []any{p.Text, p.TS} }

// MoveLinearPacket requests a relative linear move of Delta meters in Frame.
type MoveLinearPacket struct {
	Delta r3.Vector
	Speed float64
	Frame Frame
	TS    float64
}

func (p MoveLinearPacket) Tag() string { return TagMoveLinear }
func (p MoveLinearPacket) fields() []any {
	return []any{vec3(p.Delta), p.Speed, string(p.Frame), p.TS}
}

// MoveCartesianPacket requests an absolute move to Pos; a nil Orientation
// preserves the current orientation.
type MoveCartesianPacket struct {
	Pos         r3.Vector
	Orientation *Quaternion
	Speed       float64
	Frame       Frame
	TS          float64
}

func (p MoveCartesianPacket) Tag() string { return TagMoveCartesian }
func (p MoveCartesianPacket) fields() []any {
	var orient any
	if p.Orientation != nil {
		orient = quat4(*p.Orientation)
	}
	return []any{vec3(p.Pos), orient, p.Speed, string(p.Frame), p.TS}
}

// MoveJointsPacket requests an absolute joint move.
type MoveJointsPacket struct {
	Joints JointVector
	Speed  float64
	TS     float64
}

func (p MoveJointsPacket) Tag() string { return TagMoveJoints }
func (p MoveJointsPacket) fields() []any {
	return []any{p.Joints.Slice(), p.Speed, p.TS}
}

// StatusPacket reports backend state and the full observed pose.
type StatusPacket struct {
	State  MotionState
	Msg    string
	Pos    r3.Vector
	Quat   Quaternion
	Joints JointVector
	TS     float64
}

func (p StatusPacket) Tag() string { return TagStatus }
func (p StatusPacket) fields() []any {
	return []any{string(p.State), p.Msg, vec3(p.Pos), quat4(p.Quat), p.Joints.Slice(), p.TS}
}

// DebugPacket carries a diagnostic line from the motion side.
type DebugPacket struct {
	Msg string
	TS  float64
}

func (p DebugPacket) Tag() string   { return TagDebug }
func (p DebugPacket) fields() []any { return []any{p.Msg, p.TS} }

// PongPacket answers a ping with backend identity and connection state.
type PongPacket struct {
	Backend   string
	Connected bool
	TS        float64
}

func (p PongPacket) Tag() string   { return TagPong }
func (p PongPacket) fields() []any { return []any{p.Backend, p.Connected, p.TS} }

// NowTS returns the current time as epoch seconds, the packet timestamp unit.
func NowTS() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func vec3(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

func quat4(q Quaternion) []float64 {
	return []float64{q.X, q.Y, q.Z, q.W}
}

// MarshalPacket encodes p as its flat JSON array form.
func MarshalPacket(p Packet) ([]byte, error) {
	arr := append([]any{p.Tag()}, p.fields()...)
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, errors.Wrap(err, "encode packet")
	}
	return data, nil
}

// UnmarshalPacket decodes a flat JSON array into its packet variant.
// Malformed input and unknown tags return an error wrapping ErrProtocol.
func UnmarshalPacket(data []byte) (Packet, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "not a packet array: %v", err)
	}
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrProtocol, "empty packet")
	}

	var tag string
	if err := json.Unmarshal(raw[0], &tag); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "non-string tag: %v", err)
	}
	fields := raw[1:]

	switch tag {
	case TagLog:
		return LogPacket{Msg: fieldString(fields, 0), TS: fieldFloat(fields, 1)}, nil
	case TagPing:
		return PingPacket{TS: fieldFloat(fields, 0)}, nil
	case TagSetLastCommand:
		return SetLastCommandPacket{Text: fieldString(fields, 0), TS: fieldFloat(fields, 1)}, nil
	case TagMoveLinear:
		return MoveLinearPacket{
			Delta: fieldVec3(fields, 0),
			Speed: fieldFloat(fields, 1),
			Frame: fieldFrame(fields, 2),
			TS:    fieldFloat(fields, 3),
		}, nil
	case TagMoveCartesian:
		return MoveCartesianPacket{
			Pos:         fieldVec3(fields, 0),
			Orientation: fieldQuatPtr(fields, 1),
			Speed:       fieldFloat(fields, 2),
			Frame:       fieldFrame(fields, 3),
			TS:          fieldFloat(fields, 4),
		}, nil
	case TagMoveJoints:
		return MoveJointsPacket{
			Joints: fieldJoints(fields, 0),
			Speed:  fieldFloat(fields, 1),
			TS:     fieldFloat(fields, 2),
		}, nil
	case TagStatus:
		return StatusPacket{
			State:  MotionState(fieldString(fields, 0)),
			Msg:    fieldString(fields, 1),
			Pos:    fieldVec3(fields, 2),
			Quat:   fieldQuat(fields, 3),
			Joints: fieldJoints(fields, 4),
			TS:     fieldFloat(fields, 5),
		}, nil
	case TagDebug:
		return DebugPacket{Msg: fieldString(fields, 0), TS: fieldFloat(fields, 1)}, nil
	case TagPong:
		return PongPacket{
			Backend:   fieldString(fields, 0),
			Connected: fieldBool(fields, 1),
			TS:        fieldFloat(fields, 2),
		}, nil
	default:
		return nil, &UnknownTagError{Tag: tag}
	}
}

// UnknownTagError reports an unrecognized leading tag. It matches
// ErrProtocol but additionally carries the offending tag so the motion loop
// can reference it in the error status it answers with.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return "malformed packet: unknown tag \"" + e.Tag + "\""
}

func (e *UnknownTagError) Unwrap() error { return ErrProtocol }

// Field accessors below default silently on missing or mistyped fields so a
// short or sloppy packet degrades instead of failing the receiver.

func fieldString(fields []json.RawMessage, i int) string {
	var s string
	if i < len(fields) {
		_ = json.Unmarshal(fields[i], &s)
	}
	return s
}

func fieldFloat(fields []json.RawMessage, i int) float64 {
	var f float64
	if i < len(fields) {
		_ = json.Unmarshal(fields[i], &f)
	}
	return f
}

func fieldBool(fields []json.RawMessage, i int) bool {
	var b bool
	if i < len(fields) {
		_ = json.Unmarshal(fields[i], &b)
	}
	return b
}

func fieldFrame(fields []json.RawMessage, i int) Frame {
	f := Frame(fieldString(fields, i))
	if !f.Valid() {
		return FrameTool
	}
	return f
}

func fieldVec3(fields []json.RawMessage, i int) r3.Vector {
	var vals []float64
	if i < len(fields) {
		_ = json.Unmarshal(fields[i], &vals)
	}
	if len(vals) != 3 {
		return r3.Vector{}
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}
}

func fieldQuat(fields []json.RawMessage, i int) Quaternion {
	if q := fieldQuatPtr(fields, i); q != nil {
		return *q
	}
	return IdentityQuaternion()
}

func fieldQuatPtr(fields []json.RawMessage, i int) *Quaternion {
	var vals []float64
	if i < len(fields) {
		_ = json.Unmarshal(fields[i], &vals)
	}
	if len(vals) != 4 {
		return nil
	}
	return &Quaternion{X: vals[0], Y: vals[1], Z: vals[2], W: vals[3]}
}

func fieldJoints(fields []json.RawMessage, i int) JointVector {
	var vals []float64
	if i < len(fields) {
		_ = json.Unmarshal(fields[i], &vals)
	}
	var j JointVector
	if len(vals) == 6 {
		copy(j[:], vals)
	}
	return j
}
