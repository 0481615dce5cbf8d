package armlink

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// soArmBackend drives a six-servo serial bus arm (SO-ARM class hardware).
// It is a joints-only variant: the bus has no cartesian controller, so
// linear moves report a motion error and the tool pose reads as zero.
type soArmBackend struct {
	port     string
	baudrate int
	timeout  time.Duration
	logger   logging.Logger

	mu     sync.Mutex
	bus    *feetech.Bus
	servos []*feetech.Servo
}

const (
	soArmServoCount   = 6
	soArmCountsPerRev = 4096
	soArmCenterCount  = 2048
	soArmMaxSpeed     = 4094
)

// NewSoArmBackend builds the serial bus variant. An empty port is resolved
// by scanning USB serial devices at connect time.
func NewSoArmBackend(port string, baudrate int, timeout time.Duration, logger logging.Logger) Backend {
	if baudrate == 0 {
		baudrate = 1000000
	}
	if timeout == 0 {
		timeout = time.Second
	}
	return &soArmBackend{port: port, baudrate: baudrate, timeout: timeout, logger: logger}
}

func (b *soArmBackend) Name() string { return "soarm" }

func (b *soArmBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		return nil
	}

	port := b.port
	if port == "" {
		var err error
		if port, err = firstUSBSerialPort(); err != nil {
			return errors.Wrapf(ErrConnection, "no serial port: %v", err)
		}
		b.logger.Infof("auto-selected serial port %s", port)
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: b.baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  b.timeout,
	})
	if err != nil {
		return errors.Wrapf(ErrConnection, "open servo bus %s: %v", port, err)
	}

	servos := make([]*feetech.Servo, soArmServoCount)
	for i := range servos {
		servos[i] = feetech.NewServo(bus, i+1, &feetech.ModelSTS3215)
	}
	// One responding servo is enough to treat the bus as live.
	responding := false
	for _, s := range servos {
		if _, err := s.Ping(ctx); err == nil {
			responding = true
			break
		}
	}
	if !responding {
		_ = bus.Close()
		return errors.Wrapf(ErrConnection, "no servos responded on %s", port)
	}

	b.bus = bus
	b.servos = servos
	b.logger.Infof("servo bus live on %s at %d baud", port, b.baudrate)
	return nil
}

func (b *soArmBackend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	for _, s := range b.servos {
		if err := s.SetTorqueEnabled(ctx, false); err != nil {
			b.logger.Debugw("torque disable during shutdown", "error", err)
		}
	}
	if err := b.bus.Close(); err != nil {
		b.logger.Debugw("close servo bus", "error", err)
	}
	b.bus = nil
	b.servos = nil
}

func (b *soArmBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus != nil
}

// TCPPose has no cartesian source on this hardware; the zero pose stands in,
// matching the telemetry-not-available fallback of the interface contract.
func (b *soArmBackend) TCPPose() (Pose, error) {
	return Pose{}, nil
}

func (b *soArmBackend) Joints() (JointVector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return JointVector{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var q JointVector
	for i, s := range b.servos {
		raw, err := s.Position(ctx)
		if err != nil {
			return JointVector{}, errors.Wrapf(err, "read servo %d", i+1)
		}
		q[i] = countsToRadians(float64(raw))
	}
	return q, nil
}

func (b *soArmBackend) MoveL(target Pose, speed, accel float64) error {
	return errors.Wrap(ErrMotion, "soarm: linear motion not supported on servo bus")
}

func (b *soArmBackend) MoveJ(q JointVector, speed, accel float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return errors.Wrap(ErrMotion, "servo bus not connected")
	}
	speed = ClampJointSpeed(speed)
	ctx, cancel := context.WithTimeout(context.Background(), 10*b.timeout)
	defer cancel()

	servoSpeed := radiansPerSecToCounts(speed)
	for i, s := range b.servos {
		if err := s.SetPositionWithSpeed(ctx, int(radiansToCounts(q[i])), servoSpeed); err != nil {
			return errors.Wrapf(ErrMotion, "servo %d: %v", i+1, err)
		}
	}
	return nil
}

func countsToRadians(raw float64) float64 {
	return (raw - soArmCenterCount) / soArmCountsPerRev * 2 * math.Pi
}

func radiansToCounts(rad float64) float64 {
	return rad/(2*math.Pi)*soArmCountsPerRev + soArmCenterCount
}

func radiansPerSecToCounts(radPerSec float64) int {
	counts := int(radPerSec / (2 * math.Pi) * soArmCountsPerRev)
	if counts < 1 {
		counts = 1
	}
	if counts > soArmMaxSpeed {
		counts = soArmMaxSpeed
	}
	return counts
}

func firstUSBSerialPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsUSB {
			return p.Name, nil
		}
	}
	return "", errors.New("no USB serial device found")
}
