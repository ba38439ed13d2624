package protocol

import (
	"net"
	"testing"
	"time"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := Header{Type: MsgProgress, PayloadLen: 1234}
	buf := make([]byte, headerSize)
	EncodeHeader(buf, h)

	got := DecodeHeader(buf)
	if got != h {
		t.Fatalf("DecodeHeader(EncodeHeader(h)) = %+v, want %+v", got, h)
	}
}

func TestMsgTypeString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		t    MsgType
		want string
	}{
		{MsgJoin, "JOIN"},
		{MsgError, "ERROR"},
		{MsgType(9999), "MsgType(9999)"},
	}
	for _, c := range cases {
		if got := c.t.String(); got != c.want {
			t.Errorf("MsgType(%d).String() = %q, want %q", c.t, got, c.want)
		}
	}
}

func TestSnapshotFieldBit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		f    SnapshotField
		want uint32
	}{
		{FieldObstacles, 1 << 0},
		{FieldTrials, 1 << 1},
		{FieldSumSteps, 1 << 2},
		{FieldSuccLEQK, 1 << 3},
	}
	for _, c := range cases {
		if got := c.f.Bit(); got != c.want {
			t.Errorf("Bit(%d) = %b, want %b", c.f, got, c.want)
		}
	}
}

func TestSendRecvMsg(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := Join{PID: 42}.Marshal()

	go func() {
		if err := SendMsg(client, MsgJoin, payload); err != nil {
			t.Errorf("SendMsg: %v", err)
		}
	}()

	hdr, err := RecvHeader(server)
	if err != nil {
		t.Fatalf("RecvHeader: %v", err)
	}
	if hdr.Type != MsgJoin {
		t.Fatalf("hdr.Type = %v, want MsgJoin", hdr.Type)
	}
	got, err := RecvPayload(server, hdr.PayloadLen)
	if err != nil {
		t.Fatalf("RecvPayload: %v", err)
	}
	join := UnmarshalJoin(got)
	if join.PID != 42 {
		t.Fatalf("join.PID = %d, want 42", join.PID)
	}
}

func TestRecvHeaderShortReadOnClose(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()

	_ = server.Close()

	if _, err := RecvHeader(client); err == nil {
		t.Fatal("RecvHeader on closed pipe: want error, got nil")
	}
}

func TestSendMsgNoBlockTimesOut(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// net.Pipe is unbuffered and synchronous: with nobody reading,
	// any write blocks until the deadline fires.
	done := make(chan error, 1)
	go func() {
		done <- SendMsgNoBlock(client, MsgProgress, Progress{CurrentRep: 1, TotalReps: 10}.Marshal())
	}()

	select {
	case err := <-done:
		if err != ErrWouldBlock {
			t.Fatalf("SendMsgNoBlock = %v, want ErrWouldBlock", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendMsgNoBlock did not return within 1s")
	}
}
