package client

import (
	"encoding/binary"
	"sync"

	"rwsim/internal/protocol"
)

// Snapshot is one fully reassembled snapshot, decoded into typed slices.
type Snapshot struct {
	SnapshotID     uint32
	Size           protocol.Size
	Kind           protocol.WorldKind
	CellCount      uint32
	IncludedFields uint32
	Obstacles      []bool
	Trials         []uint32
	SumSteps       []uint64
	SuccessLEQK    []uint32
}

type pendingSnapshot struct {
	meta    protocol.SnapshotBegin
	buffers map[protocol.SnapshotField][]byte
}

// SnapshotReassembler accumulates BEGIN/CHUNK/END into a Snapshot. It is
// safe for concurrent use, though in practice only the dispatcher's reader
// goroutine calls it.
type SnapshotReassembler struct {
	mu      sync.Mutex
	current *pendingSnapshot
}

func NewSnapshotReassembler() *SnapshotReassembler {
	return &SnapshotReassembler{}
}

// Begin discards any in-progress snapshot and allocates zero-filled buffers
// for every field named in b.IncludedFields.
func (r *SnapshotReassembler) Begin(b protocol.SnapshotBegin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffers := make(map[protocol.SnapshotField][]byte)
	for _, f := range []protocol.SnapshotField{
		protocol.FieldObstacles, protocol.FieldTrials, protocol.FieldSumSteps, protocol.FieldSuccLEQK,
	} {
		if b.IncludedFields&f.Bit() != 0 {
			buffers[f] = make([]byte, int(b.CellCount)*f.ElemSize())
		}
	}

	r.current = &pendingSnapshot{meta: b, buffers: buffers}
}

// Chunk copies c.Data into the matching field buffer at c.OffsetBytes. A
// chunk for a stale snapshot id, an unincluded field, or an out-of-bounds
// range is silently ignored.
func (r *SnapshotReassembler) Chunk(c protocol.SnapshotChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || c.SnapshotID != r.current.meta.SnapshotID {
		return
	}
	buf, ok := r.current.buffers[c.Field]
	if !ok {
		return
	}
	start := int(c.OffsetBytes)
	end := start + len(c.Data)
	if start < 0 || end > len(buf) {
		return
	}
	copy(buf[start:end], c.Data)
}

// End finalizes the in-progress snapshot, decoding raw bytes into typed
// slices, and reports false if no snapshot was in progress.
func (r *SnapshotReassembler) End() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return Snapshot{}, false
	}
	p := r.current
	r.current = nil

	snap := Snapshot{
		SnapshotID:     p.meta.SnapshotID,
		Size:           p.meta.Size,
		Kind:           p.meta.Kind,
		CellCount:      p.meta.CellCount,
		IncludedFields: p.meta.IncludedFields,
	}

	if buf, ok := p.buffers[protocol.FieldObstacles]; ok {
		snap.Obstacles = make([]bool, len(buf))
		for i, v := range buf {
			snap.Obstacles[i] = v != 0
		}
	}
	if buf, ok := p.buffers[protocol.FieldTrials]; ok {
		snap.Trials = decodeU32(buf)
	}
	if buf, ok := p.buffers[protocol.FieldSumSteps]; ok {
		snap.SumSteps = decodeU64(buf)
	}
	if buf, ok := p.buffers[protocol.FieldSuccLEQK]; ok {
		snap.SuccessLEQK = decodeU32(buf)
	}

	return snap, true
}

func decodeU32(buf []byte) []uint32 {
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}

func decodeU64(buf []byte) []uint64 {
	out := make([]uint64, len(buf)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out
}
