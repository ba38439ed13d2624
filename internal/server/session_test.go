package server

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"rwsim/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dial spins up a Server session against one half of a net.Pipe and returns
// the peer the test drives directly.
func dial(t *testing.T) (*Server, net.Conn) {
	t.Helper()

	srv := NewServer(discardLogger(), nil)
	serverConn, clientConn := net.Pipe()
	go srv.HandleConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return srv, clientConn
}

func mustJoin(t *testing.T, conn net.Conn, pid uint32) protocol.Welcome {
	t.Helper()

	join := protocol.Join{PID: pid}
	if err := protocol.SendMsg(conn, protocol.MsgJoin, join.Marshal()); err != nil {
		t.Fatalf("send JOIN: %v", err)
	}
	hdr, err := protocol.RecvHeader(conn)
	if err != nil {
		t.Fatalf("recv header: %v", err)
	}
	if hdr.Type != protocol.MsgWelcome {
		t.Fatalf("got message type %s, want WELCOME", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		t.Fatalf("recv payload: %v", err)
	}
	return protocol.UnmarshalWelcome(payload)
}

func sendAndRecv(t *testing.T, conn net.Conn, msgType protocol.MsgType, payload []byte) protocol.Header {
	t.Helper()

	if err := protocol.SendMsg(conn, msgType, payload); err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
	hdr, err := protocol.RecvHeader(conn)
	if err != nil {
		t.Fatalf("recv header after %s: %v", msgType, err)
	}
	return hdr
}

func TestJoinReceivesWelcomeWithLobbyDefaults(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	welcome := mustJoin(t, conn, 1)

	if welcome.Kind != protocol.WorldWrap {
		t.Fatalf("Kind = %v, want WorldWrap", welcome.Kind)
	}
	if welcome.Size.Width != 10 || welcome.Size.Height != 10 {
		t.Fatalf("Size = %+v, want 10x10", welcome.Size)
	}
	if welcome.TotalReps != 1 {
		t.Fatalf("TotalReps = %d, want 1", welcome.TotalReps)
	}
	if welcome.Mode != protocol.ModeSummary {
		t.Fatalf("Mode = %v, want ModeSummary", welcome.Mode)
	}
}

func TestQueryStatusReportsOwnerCanControl(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	mustJoin(t, conn, 1)

	hdr := sendAndRecv(t, conn, protocol.MsgQueryStatus, protocol.QueryStatus{PID: 1}.Marshal())
	if hdr.Type != protocol.MsgStatus {
		t.Fatalf("got %s, want STATUS", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		t.Fatal(err)
	}
	status := protocol.UnmarshalStatus(payload)
	if !status.CanControl {
		t.Fatal("first/only connected client should CanControl")
	}
	if status.State != protocol.SimLobby {
		t.Fatalf("State = %v, want SimLobby", status.State)
	}
}

func TestCreateSimRejectsInvalidParameters(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	mustJoin(t, conn, 1)

	req := protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 0, Height: 5},
		Probs: protocol.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:     10,
		Reps:  1,
	}
	hdr := sendAndRecv(t, conn, protocol.MsgCreateSim, req.Marshal())
	if hdr.Type != protocol.MsgError {
		t.Fatalf("got %s, want ERROR", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		t.Fatal(err)
	}
	errMsg := protocol.UnmarshalErrorMsg(payload)
	if errMsg.Code != errInvalidParameters {
		t.Fatalf("Code = %d, want %d", errMsg.Code, errInvalidParameters)
	}
}

func TestCreateSimRejectsBadProbabilities(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	mustJoin(t, conn, 1)

	req := protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 4, Height: 4},
		Probs: protocol.Probs{Up: 0.5, Down: 0.5, Left: 0.5, Right: 0.5},
		K:     10,
		Reps:  1,
	}
	hdr := sendAndRecv(t, conn, protocol.MsgCreateSim, req.Marshal())
	if hdr.Type != protocol.MsgError {
		t.Fatalf("got %s, want ERROR", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		t.Fatal(err)
	}
	errMsg := protocol.UnmarshalErrorMsg(payload)
	if errMsg.Code != errBadProbabilities {
		t.Fatalf("Code = %d, want %d", errMsg.Code, errBadProbabilities)
	}
}

func TestCreateSimThenStartSimRunsToCompletion(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	mustJoin(t, conn, 1)

	create := protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 3, Height: 3},
		Probs: protocol.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:     5,
		Reps:  2,
	}
	hdr := sendAndRecv(t, conn, protocol.MsgCreateSim, create.Marshal())
	if hdr.Type != protocol.MsgAck {
		t.Fatalf("CREATE_SIM got %s, want ACK", hdr.Type)
	}
	if _, err := protocol.RecvPayload(conn, hdr.PayloadLen); err != nil {
		t.Fatal(err)
	}

	hdr = sendAndRecv(t, conn, protocol.MsgStartSim, nil)
	if hdr.Type != protocol.MsgAck {
		t.Fatalf("START_SIM got %s, want ACK", hdr.Type)
	}
	if _, err := protocol.RecvPayload(conn, hdr.PayloadLen); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for END broadcast")
		}
		if err := conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		hdr, err := protocol.RecvHeader(conn)
		if err != nil {
			continue
		}
		payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
		if err != nil {
			continue
		}
		if hdr.Type == protocol.MsgEnd {
			end := protocol.UnmarshalEnd(payload)
			if end.Reason != 0 {
				t.Fatalf("End.Reason = %d, want 0 (completed naturally)", end.Reason)
			}
			break
		}
	}
}

func TestStartSimRejectsWhenAlreadyRunning(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	mustJoin(t, conn, 1)

	create := protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 5, Height: 5},
		Probs: protocol.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:     50,
		Reps:  5000,
	}
	hdr := sendAndRecv(t, conn, protocol.MsgCreateSim, create.Marshal())
	if _, err := protocol.RecvPayload(conn, hdr.PayloadLen); err != nil {
		t.Fatal(err)
	}

	hdr = sendAndRecv(t, conn, protocol.MsgStartSim, nil)
	if hdr.Type != protocol.MsgAck {
		t.Fatalf("first START_SIM got %s, want ACK", hdr.Type)
	}
	if _, err := protocol.RecvPayload(conn, hdr.PayloadLen); err != nil {
		t.Fatal(err)
	}

	hdr = sendAndRecv(t, conn, protocol.MsgStartSim, nil)
	if hdr.Type != protocol.MsgError {
		t.Fatalf("second START_SIM got %s, want ERROR", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		t.Fatal(err)
	}
	errMsg := protocol.UnmarshalErrorMsg(payload)
	if errMsg.Code != errSimulationRunning {
		t.Fatalf("Code = %d, want %d", errMsg.Code, errSimulationRunning)
	}
}

func TestRestartSimWithoutPriorStartFails(t *testing.T) {
	t.Parallel()

	_, conn := dial(t)
	mustJoin(t, conn, 1)

	hdr := sendAndRecv(t, conn, protocol.MsgRestartSim, protocol.RestartSim{Reps: 3}.Marshal())
	if hdr.Type != protocol.MsgError {
		t.Fatalf("got %s, want ERROR", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		t.Fatal(err)
	}
	errMsg := protocol.UnmarshalErrorMsg(payload)
	if errMsg.Code != errManagerNotSet {
		t.Fatalf("Code = %d, want %d", errMsg.Code, errManagerNotSet)
	}
}

func TestSecondClientCannotControl(t *testing.T) {
	t.Parallel()

	srv, conn1 := dial(t)
	mustJoin(t, conn1, 1)

	serverConn2, conn2 := net.Pipe()
	go srv.HandleConn(serverConn2)
	t.Cleanup(func() { conn2.Close() })
	mustJoin(t, conn2, 2)

	hdr := sendAndRecv(t, conn2, protocol.MsgCreateSim, protocol.CreateSim{
		Kind:  protocol.WorldWrap,
		Size:  protocol.Size{Width: 4, Height: 4},
		Probs: protocol.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:     10,
		Reps:  1,
	}.Marshal())
	if hdr.Type != protocol.MsgError {
		t.Fatalf("non-owner CREATE_SIM got %s, want ERROR", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn2, hdr.PayloadLen)
	if err != nil {
		t.Fatal(err)
	}
	errMsg := protocol.UnmarshalErrorMsg(payload)
	if errMsg.Code != errPermissionDenied {
		t.Fatalf("Code = %d, want %d", errMsg.Code, errPermissionDenied)
	}
}

func TestQuitAcksAndClosesSession(t *testing.T) {
	t.Parallel()

	srv, conn := dial(t)
	mustJoin(t, conn, 1)

	hdr := sendAndRecv(t, conn, protocol.MsgQuit, protocol.Quit{PID: 1}.Marshal())
	if hdr.Type != protocol.MsgAck {
		t.Fatalf("got %s, want ACK", hdr.Type)
	}
	if _, err := protocol.RecvPayload(conn, hdr.PayloadLen); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Ctx.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered after QUIT")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
