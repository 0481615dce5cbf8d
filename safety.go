package armlink

import "github.com/golang/geo/r3"

// Safety envelope for motion parameters. The command-issuing side is an
// untrusted code generator, so every numeric parameter passes through these
// clamps on the control side and again defensively inside the backend.
const (
	MinStepMeters = 0.005
	MaxStepMeters = 0.20

	MinLinearSpeed     = 0.01 // m/s
	MaxLinearSpeed     = 0.25
	DefaultLinearSpeed = 0.05

	MinJointSpeed     = 0.05 // rad/s
	MaxJointSpeed     = 1.5
	DefaultJointSpeed = 0.3

	// Vendor-safe acceleration ranges, same bounds the driver enforces.
	MinLinearAccel     = 0.05 // m/s^2
	MaxLinearAccel     = 1.5
	DefaultLinearAccel = 0.2

	MinJointAccel     = 0.2 // rad/s^2
	MaxJointAccel     = 5.0
	DefaultJointAccel = 1.0
)

// ClampStep limits the magnitude of a linear delta to [MinStepMeters,
// MaxStepMeters], preserving direction. A zero vector is returned unchanged
// since it has no direction to scale.
func ClampStep(delta r3.Vector) r3.Vector {
	norm := delta.Norm()
	if norm == 0 {
		return delta
	}
	step := clamp(norm, MinStepMeters, MaxStepMeters)
	return delta.Mul(step / norm)
}

// ClampLinearSpeed bounds a linear speed, substituting the default for
// non-positive input.
func ClampLinearSpeed(speed float64) float64 {
	if speed <= 0 {
		speed = DefaultLinearSpeed
	}
	return clamp(speed, MinLinearSpeed, MaxLinearSpeed)
}

// ClampJointSpeed bounds a joint speed, substituting the default for
// non-positive input.
func ClampJointSpeed(speed float64) float64 {
	if speed <= 0 {
		speed = DefaultJointSpeed
	}
	return clamp(speed, MinJointSpeed, MaxJointSpeed)
}

// ClampLinearAccel bounds a linear acceleration, substituting the default
// for non-positive input.
func ClampLinearAccel(accel float64) float64 {
	if accel <= 0 {
		accel = DefaultLinearAccel
	}
	return clamp(accel, MinLinearAccel, MaxLinearAccel)
}

// ClampJointAccel bounds a joint acceleration, substituting the default for
// non-positive input.
func ClampJointAccel(accel float64) float64 {
	if accel <= 0 {
		accel = DefaultJointAccel
	}
	return clamp(accel, MinJointAccel, MaxJointAccel)
}
