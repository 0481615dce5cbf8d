package armlink

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestAxisAngleQuaternionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rv   r3.Vector
	}{
		{"x quarter turn", r3.Vector{X: math.Pi / 2}},
		{"y quarter turn", r3.Vector{Y: math.Pi / 2}},
		{"z half turn", r3.Vector{Z: math.Pi - 1e-3}},
		{"diagonal", r3.Vector{X: 0.3, Y: -0.7, Z: 1.1}},
		{"tiny but representable", r3.Vector{X: 1e-5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := AxisAngleToQuaternion(tt.rv)
			got := QuaternionToAxisAngle(q)
			assert.InDelta(t, tt.rv.X, got.X, 1e-9)
			assert.InDelta(t, tt.rv.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.rv.Z, got.Z, 1e-9)
		})
	}
}

func TestAxisAngleToQuaternionZero(t *testing.T) {
	q := AxisAngleToQuaternion(r3.Vector{})
	assert.Equal(t, IdentityQuaternion(), q)
}

func TestQuaternionToAxisAngleIdentity(t *testing.T) {
	got := QuaternionToAxisAngle(IdentityQuaternion())
	assert.Equal(t, r3.Vector{}, got)
}

func TestQuaternionToAxisAngleNormalizesInput(t *testing.T) {
	// Same rotation, scaled to an unnormalized quaternion.
	q := AxisAngleToQuaternion(r3.Vector{Y: 0.8})
	scaled := Quaternion{X: 3 * q.X, Y: 3 * q.Y, Z: 3 * q.Z, W: 3 * q.W}
	got := QuaternionToAxisAngle(scaled)
	assert.InDelta(t, 0.8, got.Y, 1e-9)
	assert.InDelta(t, 0.0, got.X, 1e-9)
	assert.InDelta(t, 0.0, got.Z, 1e-9)
}

func TestQuaternionToAxisAngleDegenerateNorm(t *testing.T) {
	got := QuaternionToAxisAngle(Quaternion{})
	assert.Equal(t, r3.Vector{}, got)
}

func TestNegatedQuaternionSameRotation(t *testing.T) {
	rv := r3.Vector{X: 0.2, Y: 0.4, Z: -0.6}
	q := AxisAngleToQuaternion(rv)
	neg := Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: -q.W}

	m1 := AxisAngleToMatrix(QuaternionToAxisAngle(q))
	m2 := AxisAngleToMatrix(QuaternionToAxisAngle(neg))
	probe := r3.Vector{X: 1, Y: 2, Z: 3}
	p1 := m1.Apply(probe)
	p2 := m2.Apply(probe)
	assert.InDelta(t, p1.X, p2.X, 1e-9)
	assert.InDelta(t, p1.Y, p2.Y, 1e-9)
	assert.InDelta(t, p1.Z, p2.Z, 1e-9)
}

func TestAxisAngleToMatrix(t *testing.T) {
	// 90 degrees about Z maps +X to +Y.
	m := AxisAngleToMatrix(r3.Vector{Z: math.Pi / 2})
	got := m.Apply(r3.Vector{X: 1})
	assert.InDelta(t, 0, got.X, 1e-12)
	assert.InDelta(t, 1, got.Y, 1e-12)
	assert.InDelta(t, 0, got.Z, 1e-12)
}

func TestAxisAngleToMatrixZeroIsIdentity(t *testing.T) {
	m := AxisAngleToMatrix(r3.Vector{})
	v := r3.Vector{X: 0.1, Y: -2, Z: 3.5}
	assert.Equal(t, v, m.Apply(v))
}

func TestAxisAngleToMatrixPreservesLength(t *testing.T) {
	m := AxisAngleToMatrix(r3.Vector{X: 1.2, Y: -0.4, Z: 0.9})
	v := r3.Vector{X: 0.3, Y: 0.4, Z: -0.5}
	assert.InDelta(t, v.Norm(), m.Apply(v).Norm(), 1e-12)
}

func TestQuaternionNormalize(t *testing.T) {
	q := Quaternion{X: 2, Y: 0, Z: 0, W: 0}.Normalize()
	assert.InDelta(t, 1.0, q.Norm(), 1e-12)
	assert.InDelta(t, 1.0, q.X, 1e-12)

	// Degenerate input falls back to identity.
	assert.Equal(t, IdentityQuaternion(), Quaternion{}.Normalize())
}
