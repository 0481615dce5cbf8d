package armlink

import (
	"math"

	"github.com/golang/geo/r3"
)

// Rotation conversions between the three representations the system uses:
// axis-angle vectors (the driver's native pose rotation), unit quaternions
// (the wire format), and rotation matrices (for rotating tool-frame deltas
// into the base frame). All functions are pure.

// Magnitudes below epsRotation are treated as identity rotation.
const epsRotation = 1e-12

// Quaternion is a rotation in (x, y, z, w) component order, matching the
// [qx,qy,qz,qw] layout used on the wire.
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion returns the no-rotation quaternion.
func IdentityQuaternion() Quaternion {
	return Quaternion{0, 0, 0, 1}
}

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns q scaled to unit length. Degenerate input (norm below
// epsRotation) yields the identity quaternion rather than dividing by ~0.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n < epsRotation {
		return IdentityQuaternion()
	}
	return Quaternion{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// RotationMatrix is a 3x3 rotation matrix in row-major order.
type RotationMatrix [3][3]float64

// Apply returns R*v.
func (m RotationMatrix) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// AxisAngleToMatrix converts an axis-angle vector to a rotation matrix via
// Rodrigues' formula. Near-zero magnitude yields the identity matrix.
func AxisAngleToMatrix(aa r3.Vector) RotationMatrix {
	theta := aa.Norm()
	if theta < epsRotation {
		return RotationMatrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	kx, ky, kz := aa.X/theta, aa.Y/theta, aa.Z/theta
	c := math.Cos(theta)
	s := math.Sin(theta)
	v := 1.0 - c
	return RotationMatrix{
		{kx*kx*v + c, kx*ky*v - kz*s, kx*kz*v + ky*s},
		{ky*kx*v + kz*s, ky*ky*v + c, ky*kz*v - kx*s},
		{kz*kx*v - ky*s, kz*ky*v + kx*s, kz*kz*v + c},
	}
}

// AxisAngleToQuaternion converts an axis-angle vector to a unit quaternion.
// Near-zero magnitude yields the identity quaternion.
func AxisAngleToQuaternion(aa r3.Vector) Quaternion {
	theta := aa.Norm()
	if theta < epsRotation {
		return IdentityQuaternion()
	}
	ax, ay, az := aa.X/theta, aa.Y/theta, aa.Z/theta
	s := math.Sin(theta / 2.0)
	c := math.Cos(theta / 2.0)
	return Quaternion{ax * s, ay * s, az * s, c}
}

// QuaternionToAxisAngle converts a quaternion to an axis-angle vector.
// The input is normalized first and w is clamped to [-1, 1] so floating-point
// drift never produces an acos domain error. When the sine term is below 1e-8
// the axis is undefined; a pure rotation about x (or the zero vector for zero
// angle) is returned instead of dividing by near-zero.
func QuaternionToAxisAngle(q Quaternion) r3.Vector {
	n := q.Normalize()
	w := clamp(n.W, -1.0, 1.0)
	angle := 2.0 * math.Acos(w)
	s := math.Sqrt(1 - w*w)
	if s < 1e-8 {
		if angle == 0 {
			return r3.Vector{}
		}
		return r3.Vector{X: angle}
	}
	return r3.Vector{
		X: n.X / s * angle,
		Y: n.Y / s * angle,
		Z: n.Z / s * angle,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
