package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rwsim/internal/protocol"
)

// RunREPL drives a minimal line-oriented command loop against c, reading
// commands from in and writing results to out. It exercises every
// control-plane command but is intentionally thin: a real console UI is a
// separate concern from the dispatcher it exists to exercise.
func RunREPL(c *Client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "rwsim client ready; commands: create load start restart stop save snapshot status mode quit")

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		cmd, args := fields[0], fields[1:]
		if cmd == "quit" {
			stopIfOwner := len(args) > 0 && args[0] == "1"
			if err := c.Quit(stopIfOwner); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			return nil
		}

		if err := dispatchREPLCommand(c, cmd, args, out); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}

	return scanner.Err()
}

func dispatchREPLCommand(c *Client, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "create":
		return replCreate(c, args, out)
	case "load":
		return replLoad(c, args, out)
	case "start":
		return c.StartSim()
	case "restart":
		return replRestart(c, args)
	case "stop":
		return c.StopSim()
	case "save":
		return replSave(c, args)
	case "snapshot":
		return c.RequestSnapshot()
	case "status":
		return replStatus(c, out)
	case "mode":
		return replMode(c, args)
	default:
		fmt.Fprintln(out, "unknown command:", cmd)
		return nil
	}
}

func replCreate(c *Client, args []string, out io.Writer) error {
	if len(args) < 9 {
		fmt.Fprintln(out, "usage: create <wrap|obstacles> <width> <height> <up> <down> <left> <right> <k> <reps> [multiuser]")
		return nil
	}

	kind := protocol.WorldWrap
	if args[0] == "obstacles" {
		kind = protocol.WorldObstacles
	}

	width, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("width: %w", err)
	}
	height, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("height: %w", err)
	}
	up, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("up: %w", err)
	}
	down, err := strconv.ParseFloat(args[4], 64)
	if err != nil {
		return fmt.Errorf("down: %w", err)
	}
	left, err := strconv.ParseFloat(args[5], 64)
	if err != nil {
		return fmt.Errorf("left: %w", err)
	}
	right, err := strconv.ParseFloat(args[6], 64)
	if err != nil {
		return fmt.Errorf("right: %w", err)
	}
	k, err := strconv.ParseUint(args[7], 10, 32)
	if err != nil {
		return fmt.Errorf("k: %w", err)
	}
	reps, err := strconv.ParseUint(args[8], 10, 32)
	if err != nil {
		return fmt.Errorf("reps: %w", err)
	}

	multiUser := len(args) > 9 && args[9] == "1"

	return c.CreateSim(protocol.CreateSim{
		Kind:      kind,
		Size:      protocol.Size{Width: uint32(width), Height: uint32(height)},
		Probs:     protocol.Probs{Up: up, Down: down, Left: left, Right: right},
		K:         uint32(k),
		Reps:      uint32(reps),
		MultiUser: multiUser,
	})
}

func replLoad(c *Client, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(out, "usage: load <path> [multiuser]")
		return nil
	}
	multiUser := len(args) > 1 && args[1] == "1"
	return c.LoadWorld(protocol.LoadWorld{Path: args[0], MultiUser: multiUser})
}

func replRestart(c *Client, args []string) error {
	reps := uint64(0)
	if len(args) > 0 {
		var err error
		reps, err = strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("reps: %w", err)
		}
	}
	return c.RestartSim(uint32(reps))
}

func replSave(c *Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: save <path>")
	}
	return c.SaveResults(args[0])
}

func replStatus(c *Client, out io.Writer) error {
	status, err := c.QueryStatus()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "state=%v reps=%d/%d multiUser=%v canControl=%v\n",
		status.State, status.CurrentRep, status.TotalReps, status.MultiUser, status.CanControl)
	return nil
}

func replMode(c *Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mode <interactive|summary>")
	}
	mode := protocol.ModeSummary
	if args[0] == "interactive" {
		mode = protocol.ModeInteractive
	}
	return c.SetGlobalMode(mode)
}
