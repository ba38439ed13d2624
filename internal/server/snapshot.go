package server

import (
	"encoding/binary"
	"fmt"
	"net"

	"rwsim/internal/protocol"
	"rwsim/internal/world"
)

// nextSnapshotID returns a monotonically increasing id starting at 1,
// shared by every snapshot broadcast on this Context.
func (c *Context) nextSnapshotID() uint32 {
	return c.snapshotSeq.Add(1)
}

// broadcastSnapshot sends one BEGIN/CHUNK.../END stream, under a single
// snapshot id, to every registered client. A failure writing to one
// connection is logged by the caller and does not stop delivery to the
// others.
func (c *Context) broadcastSnapshot() map[net.Conn]error {
	id := c.nextSnapshotID()
	w := c.World()
	results := c.Results()

	failures := make(map[net.Conn]error)
	c.ForEachClient(func(conn net.Conn) {
		if err := sendSnapshotTo(conn, id, w, results); err != nil {
			failures[conn] = err
		}
	})

	return failures
}

// sendSnapshotTo streams one full snapshot of w and results to conn,
// field by field: obstacles, trials, sum-of-steps, success-within-k.
func sendSnapshotTo(conn net.Conn, snapshotID uint32, w *world.World, results *world.Results) error {
	cellCount := w.Size.CellCount()

	begin := protocol.SnapshotBegin{
		SnapshotID: snapshotID,
		Size:       protocol.Size{Width: w.Size.Width, Height: w.Size.Height},
		Kind:       protocol.WorldKind(w.Kind),
		CellCount:  cellCount,
		IncludedFields: protocol.FieldObstacles.Bit() | protocol.FieldTrials.Bit() |
			protocol.FieldSumSteps.Bit() | protocol.FieldSuccLEQK.Bit(),
	}
	if err := protocol.SendMsg(conn, protocol.MsgSnapshotBegin, begin.Marshal()); err != nil {
		return fmt.Errorf("server: snapshot begin: %w", err)
	}

	obstacles := w.Obstacles()
	obstacleBytes := make([]byte, cellCount)
	for i, v := range obstacles {
		if v {
			obstacleBytes[i] = 1
		}
	}
	if err := sendFieldChunks(conn, snapshotID, protocol.FieldObstacles, obstacleBytes); err != nil {
		return err
	}

	trials, sumSteps, successLEQK := results.Snapshot()

	trialBytes := make([]byte, 4*len(trials))
	for i, v := range trials {
		binary.LittleEndian.PutUint32(trialBytes[i*4:], v)
	}
	if err := sendFieldChunks(conn, snapshotID, protocol.FieldTrials, trialBytes); err != nil {
		return err
	}

	sumBytes := make([]byte, 8*len(sumSteps))
	for i, v := range sumSteps {
		binary.LittleEndian.PutUint64(sumBytes[i*8:], v)
	}
	if err := sendFieldChunks(conn, snapshotID, protocol.FieldSumSteps, sumBytes); err != nil {
		return err
	}

	succBytes := make([]byte, 4*len(successLEQK))
	for i, v := range successLEQK {
		binary.LittleEndian.PutUint32(succBytes[i*4:], v)
	}
	if err := sendFieldChunks(conn, snapshotID, protocol.FieldSuccLEQK, succBytes); err != nil {
		return err
	}

	end := protocol.SnapshotEnd{}
	if err := protocol.SendMsg(conn, protocol.MsgSnapshotEnd, end.Marshal()); err != nil {
		return fmt.Errorf("server: snapshot end: %w", err)
	}

	return nil
}

// sendFieldChunks slices data into protocol.SnapshotChunkMax-sized pieces
// and sends one SNAPSHOT_CHUNK message per piece.
func sendFieldChunks(conn net.Conn, snapshotID uint32, field protocol.SnapshotField, data []byte) error {
	offset := uint32(0)
	total := uint32(len(data))

	for offset < total {
		remaining := total - offset
		toCopy := remaining
		if toCopy > protocol.SnapshotChunkMax {
			toCopy = protocol.SnapshotChunkMax
		}

		chunk := protocol.SnapshotChunk{
			SnapshotID:  snapshotID,
			Field:       field,
			OffsetBytes: offset,
			Data:        data[offset : offset+toCopy],
		}
		if err := protocol.SendMsg(conn, protocol.MsgSnapshotChunk, chunk.Marshal()); err != nil {
			return fmt.Errorf("server: snapshot chunk field=%d offset=%d: %w", field, offset, err)
		}

		offset += toCopy
	}

	return nil
}
