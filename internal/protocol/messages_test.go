package protocol

import "testing"

func TestWelcomeRoundTrip(t *testing.T) {
	t.Parallel()

	w := Welcome{
		Kind:       WorldObstacles,
		Size:       Size{Width: 20, Height: 10},
		Probs:      Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:          50,
		TotalReps:  1000,
		CurrentRep: 3,
		Mode:       ModeInteractive,
		Origin:     Pos{X: 10, Y: 5},
	}
	got := UnmarshalWelcome(w.Marshal())
	if got != w {
		t.Fatalf("UnmarshalWelcome(Marshal(w)) = %+v, want %+v", got, w)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	t.Parallel()

	s := Status{
		Welcome: Welcome{
			Kind:       WorldWrap,
			Size:       Size{Width: 8, Height: 8},
			Probs:      Probs{Up: 0.1, Down: 0.2, Left: 0.3, Right: 0.4},
			K:          5,
			TotalReps:  10,
			CurrentRep: 10,
			Mode:       ModeSummary,
			Origin:     Pos{X: 0, Y: 0},
		},
		State:      SimFinished,
		MultiUser:  true,
		CanControl: false,
	}
	got := UnmarshalStatus(s.Marshal())
	if got != s {
		t.Fatalf("UnmarshalStatus(Marshal(s)) = %+v, want %+v", got, s)
	}
}

func TestCreateSimRoundTrip(t *testing.T) {
	t.Parallel()

	c := CreateSim{
		Kind:      WorldObstacles,
		Size:      Size{Width: 32, Height: 32},
		Probs:     Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
		K:         100,
		Reps:      5000,
		MultiUser: true,
	}
	got := UnmarshalCreateSim(c.Marshal())
	if got != c {
		t.Fatalf("UnmarshalCreateSim(Marshal(c)) = %+v, want %+v", got, c)
	}
}

func TestLoadWorldRoundTrip(t *testing.T) {
	t.Parallel()

	l := LoadWorld{Path: "/tmp/world.bin", MultiUser: true}
	got := UnmarshalLoadWorld(l.Marshal())
	if got != l {
		t.Fatalf("UnmarshalLoadWorld(Marshal(l)) = %+v, want %+v", got, l)
	}
}

func TestLoadWorldPathTruncatesAtMax(t *testing.T) {
	t.Parallel()

	long := make([]byte, PathMax+10)
	for i := range long {
		long[i] = 'a'
	}
	l := LoadWorld{Path: string(long)}
	got := UnmarshalLoadWorld(l.Marshal())
	if len(got.Path) != PathMax {
		t.Fatalf("round-tripped path len = %d, want %d (no NUL terminator found)", len(got.Path), PathMax)
	}
}

func TestSnapshotChunkRoundTrip(t *testing.T) {
	t.Parallel()

	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i)
	}
	c := SnapshotChunk{
		SnapshotID:  7,
		Field:       FieldSumSteps,
		OffsetBytes: 256,
		Data:        data,
	}
	got := UnmarshalSnapshotChunk(c.Marshal())
	if got.SnapshotID != c.SnapshotID || got.Field != c.Field || got.OffsetBytes != c.OffsetBytes {
		t.Fatalf("UnmarshalSnapshotChunk header fields = %+v, want matching %+v", got, c)
	}
	if string(got.Data) != string(c.Data) {
		t.Fatalf("UnmarshalSnapshotChunk data mismatch")
	}
}

func TestStartSimAndSnapshotEndEmpty(t *testing.T) {
	t.Parallel()

	if len(StartSim{}.Marshal()) != 0 {
		t.Fatal("StartSim.Marshal() should be empty")
	}
	if len(SnapshotEnd{}.Marshal()) != 0 {
		t.Fatal("SnapshotEnd.Marshal() should be empty")
	}
}

func TestErrorMsgRoundTrip(t *testing.T) {
	t.Parallel()

	e := ErrorMsg{Code: 7, Msg: "sim already running"}
	got := UnmarshalErrorMsg(e.Marshal())
	if got != e {
		t.Fatalf("UnmarshalErrorMsg(Marshal(e)) = %+v, want %+v", got, e)
	}
}

func TestQuitRoundTrip(t *testing.T) {
	t.Parallel()

	q := Quit{PID: 99, StopIfOwner: true}
	got := UnmarshalQuit(q.Marshal())
	if got != q {
		t.Fatalf("UnmarshalQuit(Marshal(q)) = %+v, want %+v", got, q)
	}
}

func TestAckRoundTrip(t *testing.T) {
	t.Parallel()

	a := Ack{RequestType: MsgCreateSim, Status: 0}
	got := UnmarshalAck(a.Marshal())
	if got != a {
		t.Fatalf("UnmarshalAck(Marshal(a)) = %+v, want %+v", got, a)
	}
}
