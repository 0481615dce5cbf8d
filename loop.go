package armlink

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Serve runs a single motion session: listen on cfg.ListenAddr, accept one
// control connection, then hand it to RunMotionLoop. The process model is one
// session per process; when the loop returns the listener is closed and Serve
// returns, rather than accepting a replacement client against a backend in an
// unknown state.
func Serve(ctx context.Context, cfg *Config, logger logging.Logger) error {
	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return err
	}

	ln, err := Listen(cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.Infow("waiting for control connection", "addr", cfg.ListenAddr, "backend", backend.Name())

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return err
	}

	return RunMotionLoop(ctx, NewConn(conn), backend, cfg, logger)
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "accept control connection")
	}
	return conn, nil
}

// RunMotionLoop drives the motion side of the channel through its three
// phases: connect the backend, serve packets until the channel breaks, then
// shut the backend down. A failed connect answers with one error status and
// one debug line before returning, so the control side learns why the process
// went away.
func RunMotionLoop(ctx context.Context, conn *Conn, backend Backend, cfg *Config, logger logging.Logger) error {
	defer conn.Close()

	// Unblock the blocking Recv below when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	send := func(pkt Packet) {
		if err := conn.Send(pkt); err != nil {
			logger.Debugw("send failed", "tag", pkt.Tag(), "error", err)
		}
	}
	mover := NewMover(backend, send, cfg.Accel, cfg.JointAccel, logger)

	if err := backend.Connect(ctx); err != nil {
		logger.Errorw("backend connect failed", "backend", backend.Name(), "error", err)
		send(StatusPacket{
			State: StateError,
			Msg:   fmt.Sprintf("%s connect failed: %v", backend.Name(), err),
			Quat:  IdentityQuaternion(),
			TS:    NowTS(),
		})
		send(DebugPacket{Msg: "[motiond] backend unavailable; terminating", TS: NowTS()})
		return err
	}
	mover.Status(StateIdle, fmt.Sprintf("%s connected", backend.Name()))
	mover.Debug("using backend: " + backend.Name())

	for {
		pkt, err := conn.Recv()
		if err != nil {
			var unknown *UnknownTagError
			switch {
			case errors.As(err, &unknown):
				mover.Status(StateError, fmt.Sprintf("unknown op %q", unknown.Tag))
				continue
			case errors.Is(err, ErrProtocol):
				mover.Debug(fmt.Sprintf("[motiond] dropping malformed packet: %v", err))
				continue
			default:
				// Channel gone, control side hung up or the context was
				// cancelled. Either way the session is over.
				logger.Debugw("control channel closed", "error", err)
				backend.Shutdown()
				send(DebugPacket{Msg: "[motiond] terminated", TS: NowTS()})
				return nil
			}
		}
		dispatch(mover, backend, cfg, send, pkt)
	}
}

// dispatch handles one inbound packet. A panic in a handler is converted to
// an error status naming the op, and the loop keeps serving.
func dispatch(mover *Mover, backend Backend, cfg *Config, send Sender, pkt Packet) {
	defer func() {
		if r := recover(); r != nil {
			mover.Status(StateError, fmt.Sprintf("%s failed: %v", pkt.Tag(), r))
			mover.Debug(fmt.Sprintf("[motiond] panic in %s handler:\n%s", pkt.Tag(), debug.Stack()))
		}
	}()

	switch p := pkt.(type) {
	case LogPacket:
		mover.Debug("[log] " + p.Msg)
	case PingPacket:
		send(PongPacket{Backend: backend.Name(), Connected: backend.Connected(), TS: NowTS()})
	case SetLastCommandPacket:
		mover.SetLastCommand(p.Text)
		mover.Debug(fmt.Sprintf("[motiond] last command %q", p.Text))
	case MoveLinearPacket:
		speed := p.Speed
		if speed <= 0 {
			speed = cfg.Speed
		}
		mover.MoveLinear(p.Delta, speed, p.Frame)
	case MoveCartesianPacket:
		speed := p.Speed
		if speed <= 0 {
			speed = cfg.Speed
		}
		mover.MoveCartesian(p.Pos, p.Orientation, speed, p.Frame)
	case MoveJointsPacket:
		speed := p.Speed
		if speed <= 0 {
			speed = cfg.JointSpeed
		}
		mover.MoveJoints(p.Joints, speed)
	default:
		mover.Status(StateError, fmt.Sprintf("unknown op %q", pkt.Tag()))
	}
}
