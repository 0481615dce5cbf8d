package armlink

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	// busyGuardBase/busyGuardFactor pad the nominal move duration to cover
	// driver latency; the pad is capped so long moves do not accumulate an
	// unbounded margin.
	busyGuardBase   = 0.1
	busyGuardFactor = 0.1
	busyGuardMax    = 0.5

	idlePollInterval = 50 * time.Millisecond
)

// Client is the control-side endpoint of the motion channel. It validates and
// clamps requests before they leave the process, keeps an optimistic pose
// cache, and estimates busyness from wall-clock time because the motion side
// only reports state when it chooses to.
//
// Client is safe for concurrent use.
type Client struct {
	conn   *Conn
	logger logging.Logger

	// now is replaceable so the busy-window arithmetic is testable.
	now func() time.Time

	mu          sync.Mutex
	readyAt     time.Time
	pose        Pose
	havePose    bool
	joints      JointVector
	haveJoints  bool
	connected   bool
	backendName string
	lastStatus  *StatusPacket
	completed   bool
	taskSuccess bool
}

// NewClient wraps an established channel connection.
func NewClient(conn *Conn, logger logging.Logger) *Client {
	return &Client{conn: conn, logger: logger, now: time.Now}
}

// DialClient connects to a motion process listening at addr.
func DialClient(addr string, timeout time.Duration, logger logging.Logger) (*Client, error) {
	conn, err := Dial(addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, logger), nil
}

// Close hangs up the channel; the motion side treats that as termination.
func (c *Client) Close() error {
	return c.conn.Close()
}

// MoveLinear requests a relative linear move. The delta is clamped to the
// permitted step length and the speed to the permitted band before anything
// crosses the channel, then the busy window and the pose cache are advanced
// by the values actually sent.
func (c *Client) MoveLinear(delta r3.Vector, speed float64, frame Frame) error {
	if !frame.Valid() {
		return errors.Wrapf(ErrValidation, "bad frame %q", frame)
	}
	clamped := ClampStep(delta)
	speed = ClampLinearSpeed(speed)

	if err := c.conn.Send(MoveLinearPacket{Delta: clamped, Speed: speed, Frame: frame, TS: NowTS()}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.markBusy(clamped.Norm() / speed)
	// The cache is a heuristic, not ground truth; tool-frame deltas are
	// folded in without rotating them, and the next status overwrites it.
	if c.havePose {
		c.pose.Position = c.pose.Position.Add(clamped)
	}
	return nil
}

// MoveCartesian requests an absolute pose. A nil orientation keeps the
// current tool orientation.
func (c *Client) MoveCartesian(pos r3.Vector, orientation *Quaternion, speed float64, frame Frame) error {
	if !frame.Valid() {
		return errors.Wrapf(ErrValidation, "bad frame %q", frame)
	}
	speed = ClampLinearSpeed(speed)

	if err := c.conn.Send(MoveCartesianPacket{Pos: pos, Orientation: orientation, Speed: speed, Frame: frame, TS: NowTS()}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	distance := 0.0
	if c.havePose {
		distance = pos.Sub(c.pose.Position).Norm()
	}
	c.markBusy(distance / speed)
	c.pose.Position = pos
	c.havePose = true
	return nil
}

// MoveJoints requests absolute joint angles.
func (c *Client) MoveJoints(q JointVector, speed float64) error {
	speed = ClampJointSpeed(speed)

	if err := c.conn.Send(MoveJointsPacket{Joints: q, Speed: speed, TS: NowTS()}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	travel := 0.0
	if c.haveJoints {
		for i := range q {
			if d := abs(q[i] - c.joints[i]); d > travel {
				travel = d
			}
		}
	}
	c.markBusy(travel / speed)
	c.joints = q
	c.haveJoints = true
	return nil
}

// markBusy extends the busy window by the nominal duration plus a capped
// guard. Caller holds mu.
func (c *Client) markBusy(duration float64) {
	guard := busyGuardBase + busyGuardFactor*duration
	if guard > busyGuardMax {
		guard = busyGuardMax
	}
	until := c.now().Add(time.Duration((duration + guard) * float64(time.Second)))
	if until.After(c.readyAt) {
		c.readyAt = until
	}
}

// IsBusy reports whether the estimated busy window is still open. The window
// clears lazily; nothing runs in the background.
func (c *Client) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.readyAt)
}

// WaitUntilIdle polls the busy window until it closes or timeout elapses,
// reporting whether the arm went idle in time.
func (c *Client) WaitUntilIdle(timeout time.Duration) bool {
	deadline := c.now().Add(timeout)
	for c.IsBusy() {
		if !c.now().Before(deadline) {
			return false
		}
		time.Sleep(idlePollInterval)
	}
	return true
}

// Log forwards a free-form line to the motion side's log stream.
func (c *Client) Log(msg string) error {
	return c.conn.Send(LogPacket{Msg: msg, TS: NowTS()})
}

// RequestStatus asks the motion side for a pong; the answer arrives through
// Drain.
func (c *Client) RequestStatus() error {
	return c.conn.Send(PingPacket{TS: NowTS()})
}

// SetCommand records the command text the motion side should associate with
// subsequent moves.
func (c *Client) SetCommand(text string) error {
	return c.conn.Send(SetLastCommandPacket{Text: text, TS: NowTS()})
}

// Drain reads inbound packets for at most window, folding each into the
// cached view. Malformed packets are swallowed; a closed channel stops the
// drain without error. Returns the number of packets ingested.
func (c *Client) Drain(window time.Duration) int {
	deadline := c.now().Add(window)
	n := 0
	for {
		pkt, err := c.conn.RecvDeadline(deadline)
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				continue
			}
			return n
		}
		c.Ingest(pkt)
		n++
	}
}

// Ingest folds one inbound packet into the cached view.
func (c *Client) Ingest(pkt Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p := pkt.(type) {
	case StatusPacket:
		c.lastStatus = &p
		c.connected = p.State == StateIdle || p.State == StateMoving
		c.pose = Pose{Position: p.Pos, Rotation: QuaternionToAxisAngle(p.Quat)}
		c.havePose = true
		c.joints = p.Joints
		c.haveJoints = true
		if p.State == StateError && c.logger != nil {
			c.logger.Warnw("arm reported error", "msg", p.Msg)
		}
	case PongPacket:
		c.backendName = p.Backend
		c.connected = p.Connected
	case DebugPacket:
		if c.logger != nil {
			c.logger.Debug(p.Msg)
		}
		// The motion side announces its driver in a debug line right after
		// connecting; that is the only place the name appears unprompted.
		if i := strings.Index(p.Msg, "using backend:"); i >= 0 {
			name := strings.TrimSpace(p.Msg[i+len("using backend:"):])
			if name != "" {
				c.backendName = name
			}
		}
	}
}

// Connected reports the connection state as last told by the motion side.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// BackendName returns the driver name learned from pongs or debug lines,
// empty until one arrives.
func (c *Client) BackendName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendName
}

// Pose returns the cached pose estimate and whether one exists yet.
func (c *Client) Pose() (Pose, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose, c.havePose
}

// LastStatus returns the most recent status packet, nil before the first.
func (c *Client) LastStatus() *StatusPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// SetCompleted flags that the current task's motion phase finished.
func (c *Client) SetCompleted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = v
}

// Completed reports the completion flag.
func (c *Client) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// SetTaskSuccess records whether the task as a whole succeeded.
func (c *Client) SetTaskSuccess(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskSuccess = v
}

// TaskSuccess reports the task success flag.
func (c *Client) TaskSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskSuccess
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
