// armctl is a small interactive client for a running motiond. It reads one
// command per line and prints whatever the motion side sends back.
//
//	move dx dy dz [speed] [frame]   relative linear move (meters)
//	goto x y z [speed] [frame]      absolute cartesian move
//	joints q1 q2 q3 q4 q5 q6 [speed]
//	status                          ping the motion side
//	cmd <text>                      record the current command text
//	log <text>                      forward a log line
//	wait [seconds]                  block until the busy window closes
//	quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"armlink"
)

const drainWindow = 300 * time.Millisecond

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("armctl"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	addr := "127.0.0.1:7600"
	if len(args) > 1 {
		addr = args[1]
	}

	client, err := armlink.DialClient(addr, 5*time.Second, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// Pick up the connect banner so the backend name is known right away.
	client.RequestStatus()
	client.Drain(drainWindow)
	fmt.Printf("connected to %s (backend %q)\n", addr, client.BackendName())

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := runCommand(client, line); err != nil {
			fmt.Println("error:", err)
			continue
		}
		client.Drain(drainWindow)
		if st := client.LastStatus(); st != nil {
			fmt.Printf("state=%s msg=%q pos=(%.4f, %.4f, %.4f)\n",
				st.State, st.Msg, st.Pos.X, st.Pos.Y, st.Pos.Z)
		}
	}
}

func runCommand(client *armlink.Client, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "move":
		v, rest, err := parseVec(fields[1:])
		if err != nil {
			return err
		}
		speed, frame := parseSpeedFrame(rest)
		return client.MoveLinear(v, speed, frame)
	case "goto":
		v, rest, err := parseVec(fields[1:])
		if err != nil {
			return err
		}
		speed, frame := parseSpeedFrame(rest)
		return client.MoveCartesian(v, nil, speed, frame)
	case "joints":
		if len(fields) < 7 {
			return fmt.Errorf("joints needs 6 angles")
		}
		var q armlink.JointVector
		for i := 0; i < 6; i++ {
			val, err := strconv.ParseFloat(fields[1+i], 64)
			if err != nil {
				return err
			}
			q[i] = val
		}
		speed := 0.0
		if len(fields) > 7 {
			speed, _ = strconv.ParseFloat(fields[7], 64)
		}
		return client.MoveJoints(q, speed)
	case "status":
		return client.RequestStatus()
	case "cmd":
		return client.SetCommand(strings.TrimSpace(strings.TrimPrefix(line, "cmd")))
	case "log":
		return client.Log(strings.TrimSpace(strings.TrimPrefix(line, "log")))
	case "wait":
		timeout := 30 * time.Second
		if len(fields) > 1 {
			if secs, err := strconv.ParseFloat(fields[1], 64); err == nil {
				timeout = time.Duration(secs * float64(time.Second))
			}
		}
		if !client.WaitUntilIdle(timeout) {
			return fmt.Errorf("still busy after %v", timeout)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseVec(fields []string) (r3.Vector, []string, error) {
	if len(fields) < 3 {
		return r3.Vector{}, nil, fmt.Errorf("need 3 coordinates")
	}
	var vals [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return r3.Vector{}, nil, err
		}
		vals[i] = v
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, fields[3:], nil
}

func parseSpeedFrame(fields []string) (float64, armlink.Frame) {
	speed := 0.0
	frame := armlink.FrameTool
	if len(fields) > 0 {
		speed, _ = strconv.ParseFloat(fields[0], 64)
	}
	if len(fields) > 1 {
		frame = armlink.Frame(fields[1])
	}
	return speed, frame
}
