package protocol

// WorldKind is the wire representation of a world's topology.
type WorldKind uint32

const (
	WorldWrap      WorldKind = 1
	WorldObstacles WorldKind = 2
)

// GlobalMode is the wire representation of the informational server mode.
type GlobalMode uint32

const (
	ModeInteractive GlobalMode = 1
	ModeSummary     GlobalMode = 2
)

// SimState is the wire representation of the simulation lifecycle state.
type SimState uint32

const (
	SimLobby    SimState = 1
	SimRunning  SimState = 2
	SimFinished SimState = 3
)

// Size is a wire world size.
type Size struct {
	Width, Height uint32
}

// Pos is a wire grid position.
type Pos struct {
	X, Y int32
}

// Probs is the wire movement-probability tuple.
type Probs struct {
	Up, Down, Left, Right float64
}

// PathMax is the fixed on-wire size of a LOAD_WORLD/SAVE_RESULTS/
// LOAD_RESULTS path field.
const PathMax = 256

// Join is the JOIN payload.
type Join struct {
	PID uint32
}

func (m Join) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.PID)
	return w.Bytes()
}

func UnmarshalJoin(b []byte) Join {
	r := newBufReader(b)
	return Join{PID: r.u32()}
}

// Welcome is the WELCOME payload.
type Welcome struct {
	Kind       WorldKind
	Size       Size
	Probs      Probs
	K          uint32
	TotalReps  uint32
	CurrentRep uint32
	Mode       GlobalMode
	Origin     Pos
}

func (m Welcome) Marshal() []byte {
	w := newBufWriter()
	w.u32(uint32(m.Kind))
	w.u32(m.Size.Width)
	w.u32(m.Size.Height)
	w.f64(m.Probs.Up)
	w.f64(m.Probs.Down)
	w.f64(m.Probs.Left)
	w.f64(m.Probs.Right)
	w.u32(m.K)
	w.u32(m.TotalReps)
	w.u32(m.CurrentRep)
	w.u32(uint32(m.Mode))
	w.i32(m.Origin.X)
	w.i32(m.Origin.Y)
	return w.Bytes()
}

func UnmarshalWelcome(b []byte) Welcome {
	r := newBufReader(b)
	var m Welcome
	m.Kind = WorldKind(r.u32())
	m.Size.Width = r.u32()
	m.Size.Height = r.u32()
	m.Probs.Up = r.f64()
	m.Probs.Down = r.f64()
	m.Probs.Left = r.f64()
	m.Probs.Right = r.f64()
	m.K = r.u32()
	m.TotalReps = r.u32()
	m.CurrentRep = r.u32()
	m.Mode = GlobalMode(r.u32())
	m.Origin.X = r.i32()
	m.Origin.Y = r.i32()
	return m
}

// SetGlobalMode is the SET_GLOBAL_MODE payload.
type SetGlobalMode struct {
	NewMode GlobalMode
}

func (m SetGlobalMode) Marshal() []byte {
	w := newBufWriter()
	w.u32(uint32(m.NewMode))
	return w.Bytes()
}

func UnmarshalSetGlobalMode(b []byte) SetGlobalMode {
	r := newBufReader(b)
	return SetGlobalMode{NewMode: GlobalMode(r.u32())}
}

// GlobalModeChanged is the GLOBAL_MODE_CHANGED payload.
type GlobalModeChanged struct {
	NewMode     GlobalMode
	ChangedByPID uint32
}

func (m GlobalModeChanged) Marshal() []byte {
	w := newBufWriter()
	w.u32(uint32(m.NewMode))
	w.u32(m.ChangedByPID)
	return w.Bytes()
}

func UnmarshalGlobalModeChanged(b []byte) GlobalModeChanged {
	r := newBufReader(b)
	return GlobalModeChanged{NewMode: GlobalMode(r.u32()), ChangedByPID: r.u32()}
}

// Progress is the PROGRESS payload.
type Progress struct {
	CurrentRep uint32
	TotalReps  uint32
}

func (m Progress) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.CurrentRep)
	w.u32(m.TotalReps)
	return w.Bytes()
}

func UnmarshalProgress(b []byte) Progress {
	r := newBufReader(b)
	return Progress{CurrentRep: r.u32(), TotalReps: r.u32()}
}

// SnapshotBegin is the SNAPSHOT_BEGIN payload.
type SnapshotBegin struct {
	SnapshotID      uint32
	Size            Size
	Kind            WorldKind
	CellCount       uint32
	IncludedFields  uint32
}

func (m SnapshotBegin) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.SnapshotID)
	w.u32(m.Size.Width)
	w.u32(m.Size.Height)
	w.u32(uint32(m.Kind))
	w.u32(m.CellCount)
	w.u32(m.IncludedFields)
	return w.Bytes()
}

func UnmarshalSnapshotBegin(b []byte) SnapshotBegin {
	r := newBufReader(b)
	var m SnapshotBegin
	m.SnapshotID = r.u32()
	m.Size.Width = r.u32()
	m.Size.Height = r.u32()
	m.Kind = WorldKind(r.u32())
	m.CellCount = r.u32()
	m.IncludedFields = r.u32()
	return m
}

// SnapshotChunk is the SNAPSHOT_CHUNK payload. Data is exactly DataLen bytes
// long; the wire struct's conceptual maximum (SnapshotChunkMax) is never
// padded onto the payload itself.
type SnapshotChunk struct {
	SnapshotID   uint32
	Field        SnapshotField
	OffsetBytes  uint32
	Data         []byte
}

func (m SnapshotChunk) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.SnapshotID)
	w.u16(uint16(m.Field))
	w.u16(0) // reserved
	w.u32(m.OffsetBytes)
	w.u32(uint32(len(m.Data)))
	w.bytes(m.Data)
	return w.Bytes()
}

func UnmarshalSnapshotChunk(b []byte) SnapshotChunk {
	r := newBufReader(b)
	var m SnapshotChunk
	m.SnapshotID = r.u32()
	m.Field = SnapshotField(r.u16())
	_ = r.u16() // reserved
	m.OffsetBytes = r.u32()
	dataLen := r.u32()
	m.Data = append([]byte(nil), r.take(int(dataLen))...)
	return m
}

// SnapshotEnd is the SNAPSHOT_END payload. It carries no fields.
type SnapshotEnd struct{}

func (m SnapshotEnd) Marshal() []byte { return nil }

func UnmarshalSnapshotEnd(b []byte) SnapshotEnd { return SnapshotEnd{} }

// StartSim is the START_SIM payload. It carries no fields.
type StartSim struct{}

func (m StartSim) Marshal() []byte { return nil }

func UnmarshalStartSim(b []byte) StartSim { return StartSim{} }

// StopSim is the STOP_SIM payload.
type StopSim struct {
	PID uint32
}

func (m StopSim) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.PID)
	return w.Bytes()
}

func UnmarshalStopSim(b []byte) StopSim {
	r := newBufReader(b)
	return StopSim{PID: r.u32()}
}

// End is the END payload. Reason 0 = completed naturally, 1 = stopped by
// request.
type End struct {
	Reason uint32
}

func (m End) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.Reason)
	return w.Bytes()
}

func UnmarshalEnd(b []byte) End {
	r := newBufReader(b)
	return End{Reason: r.u32()}
}

// QueryStatus is the QUERY_STATUS payload.
type QueryStatus struct {
	PID uint32
}

func (m QueryStatus) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.PID)
	return w.Bytes()
}

func UnmarshalQueryStatus(b []byte) QueryStatus {
	r := newBufReader(b)
	return QueryStatus{PID: r.u32()}
}

// Status is the STATUS payload: it mirrors Welcome plus lifecycle/policy
// fields.
type Status struct {
	Welcome
	State       SimState
	MultiUser   bool
	CanControl  bool
}

func (m Status) Marshal() []byte {
	w := newBufWriter()
	w.bytes(m.Welcome.Marshal())
	w.u32(uint32(m.State))
	w.u8(boolToU8(m.MultiUser))
	w.u8(boolToU8(m.CanControl))
	w.u16(0) // reserved
	return w.Bytes()
}

func UnmarshalStatus(b []byte) Status {
	const welcomeLen = 4 + 4 + 4 + 8*4 + 4 + 4 + 4 + 4 + 4 + 4
	var m Status
	if len(b) < welcomeLen {
		return m
	}
	m.Welcome = UnmarshalWelcome(b[:welcomeLen])
	r := newBufReader(b[welcomeLen:])
	m.State = SimState(r.u32())
	m.MultiUser = r.u8() != 0
	m.CanControl = r.u8() != 0
	_ = r.u16()
	return m
}

// CreateSim is the CREATE_SIM payload.
type CreateSim struct {
	Kind      WorldKind
	Size      Size
	Probs     Probs
	K         uint32
	Reps      uint32
	MultiUser bool
}

func (m CreateSim) Marshal() []byte {
	w := newBufWriter()
	w.u32(uint32(m.Kind))
	w.u32(m.Size.Width)
	w.u32(m.Size.Height)
	w.f64(m.Probs.Up)
	w.f64(m.Probs.Down)
	w.f64(m.Probs.Left)
	w.f64(m.Probs.Right)
	w.u32(m.K)
	w.u32(m.Reps)
	w.u8(boolToU8(m.MultiUser))
	w.pad(3)
	return w.Bytes()
}

func UnmarshalCreateSim(b []byte) CreateSim {
	r := newBufReader(b)
	var m CreateSim
	m.Kind = WorldKind(r.u32())
	m.Size.Width = r.u32()
	m.Size.Height = r.u32()
	m.Probs.Up = r.f64()
	m.Probs.Down = r.f64()
	m.Probs.Left = r.f64()
	m.Probs.Right = r.f64()
	m.K = r.u32()
	m.Reps = r.u32()
	m.MultiUser = r.u8() != 0
	_ = r.take(3)
	return m
}

// LoadWorld is the LOAD_WORLD payload.
type LoadWorld struct {
	Path      string
	MultiUser bool
}

func (m LoadWorld) Marshal() []byte {
	w := newBufWriter()
	w.fixedStr(m.Path, PathMax)
	w.u8(boolToU8(m.MultiUser))
	w.pad(3)
	return w.Bytes()
}

func UnmarshalLoadWorld(b []byte) LoadWorld {
	r := newBufReader(b)
	var m LoadWorld
	m.Path = r.fixedStr(PathMax)
	m.MultiUser = r.u8() != 0
	_ = r.take(3)
	return m
}

// RequestSnapshot is the REQUEST_SNAPSHOT payload.
type RequestSnapshot struct {
	PID uint32
}

func (m RequestSnapshot) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.PID)
	return w.Bytes()
}

func UnmarshalRequestSnapshot(b []byte) RequestSnapshot {
	r := newBufReader(b)
	return RequestSnapshot{PID: r.u32()}
}

// RestartSim is the RESTART_SIM payload.
type RestartSim struct {
	Reps uint32
}

func (m RestartSim) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.Reps)
	return w.Bytes()
}

func UnmarshalRestartSim(b []byte) RestartSim {
	r := newBufReader(b)
	return RestartSim{Reps: r.u32()}
}

// LoadResults is the LOAD_RESULTS payload.
type LoadResults struct {
	Path string
}

func (m LoadResults) Marshal() []byte {
	w := newBufWriter()
	w.fixedStr(m.Path, PathMax)
	return w.Bytes()
}

func UnmarshalLoadResults(b []byte) LoadResults {
	r := newBufReader(b)
	return LoadResults{Path: r.fixedStr(PathMax)}
}

// SaveResults is the SAVE_RESULTS payload.
type SaveResults struct {
	Path string
}

func (m SaveResults) Marshal() []byte {
	w := newBufWriter()
	w.fixedStr(m.Path, PathMax)
	return w.Bytes()
}

func UnmarshalSaveResults(b []byte) SaveResults {
	r := newBufReader(b)
	return SaveResults{Path: r.fixedStr(PathMax)}
}

// Quit is the QUIT payload.
type Quit struct {
	PID         uint32
	StopIfOwner bool
}

func (m Quit) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.PID)
	w.u8(boolToU8(m.StopIfOwner))
	w.pad(3)
	return w.Bytes()
}

func UnmarshalQuit(b []byte) Quit {
	r := newBufReader(b)
	var m Quit
	m.PID = r.u32()
	m.StopIfOwner = r.u8() != 0
	_ = r.take(3)
	return m
}

// Ack is the ACK payload.
type Ack struct {
	RequestType MsgType
	Status      uint16
}

func (m Ack) Marshal() []byte {
	w := newBufWriter()
	w.u16(uint16(m.RequestType))
	w.u16(m.Status)
	return w.Bytes()
}

func UnmarshalAck(b []byte) Ack {
	r := newBufReader(b)
	return Ack{RequestType: MsgType(r.u16()), Status: r.u16()}
}

// ErrMsgLen is the fixed on-wire size of an ERROR message's text field.
const ErrMsgLen = 256

// ErrorMsg is the ERROR payload.
type ErrorMsg struct {
	Code uint32
	Msg  string
}

func (m ErrorMsg) Marshal() []byte {
	w := newBufWriter()
	w.u32(m.Code)
	w.fixedStr(m.Msg, ErrMsgLen)
	return w.Bytes()
}

func UnmarshalErrorMsg(b []byte) ErrorMsg {
	r := newBufReader(b)
	var m ErrorMsg
	m.Code = r.u32()
	m.Msg = r.fixedStr(ErrMsgLen)
	return m
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
