package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"rwsim/internal/protocol"
	"rwsim/internal/server"
)

// startTestServer spins up a real server.Server on a temp-dir Unix socket
// and returns its path plus a shutdown func.
func startTestServer(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "rwsim.sock")

	ln, err := server.Listen(sockPath)
	if err != nil {
		t.Fatalf("server.Listen: %v", err)
	}
	srv := server.NewServer(testLogger(), nil)

	var g errgroup.Group
	g.Go(func() error {
		return srv.Serve(context.Background(), ln)
	})
	t.Cleanup(func() {
		ln.Close()
		g.Wait()
	})

	return sockPath
}

func TestClientCreateStartAndReceiveEnd(t *testing.T) {
	t.Parallel()

	sockPath := startTestServer(t)

	events := make(chan Event, 16)
	c, welcome, err := Dial(sockPath, 1, testLogger(), events)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if welcome.TotalReps != 1 {
		t.Fatalf("WELCOME TotalReps = %d, want 1", welcome.TotalReps)
	}

	err = c.CreateSim(protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 3, Height: 3},
		Probs: protocol.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:     5,
		Reps:  2,
	})
	if err != nil {
		t.Fatalf("CreateSim: %v", err)
	}

	if err := c.StartSim(); err != nil {
		t.Fatalf("StartSim: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == protocol.MsgEnd {
				if ev.End.Reason != 0 {
					t.Fatalf("End.Reason = %d, want 0", ev.End.Reason)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for END event")
		}
	}
}

func TestClientQueryStatusReflectsServerState(t *testing.T) {
	t.Parallel()

	sockPath := startTestServer(t)

	c, _, err := Dial(sockPath, 1, testLogger(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	status, err := c.QueryStatus()
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if !status.CanControl {
		t.Fatal("sole connected client should CanControl")
	}
	if status.State != protocol.SimLobby {
		t.Fatalf("State = %v, want SimLobby", status.State)
	}
}

func TestClientCreateSimRejectsBadProbabilities(t *testing.T) {
	t.Parallel()

	sockPath := startTestServer(t)

	c, _, err := Dial(sockPath, 1, testLogger(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	err = c.CreateSim(protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 3, Height: 3},
		Probs: protocol.Probs{Up: 0.9, Down: 0.9, Left: 0, Right: 0},
		K:     5,
		Reps:  1,
	})
	if err == nil {
		t.Fatal("CreateSim with bad probabilities: want error, got nil")
	}
}

func TestClientSaveAndLoadResultsRoundTrip(t *testing.T) {
	t.Parallel()

	sockPath := startTestServer(t)

	c, _, err := Dial(sockPath, 1, testLogger(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.CreateSim(protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 2, Height: 2},
		Probs: protocol.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:     3,
		Reps:  1,
	}); err != nil {
		t.Fatalf("CreateSim: %v", err)
	}
	if err := c.StartSim(); err != nil {
		t.Fatalf("StartSim: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := c.QueryStatus()
		if err != nil {
			t.Fatalf("QueryStatus: %v", err)
		}
		if status.State == protocol.SimFinished {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for simulation to finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	path := filepath.Join(t.TempDir(), "out.rwres")
	if err := c.SaveResults(path); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved file missing: %v", err)
	}

	if err := c.LoadResults(path); err != nil {
		t.Fatalf("LoadResults: %v", err)
	}

	status, err := c.QueryStatus()
	if err != nil {
		t.Fatalf("QueryStatus after load: %v", err)
	}
	if status.State != protocol.SimFinished {
		t.Fatalf("State after LoadResults = %v, want SimFinished", status.State)
	}
}
