// Package persist saves and loads the versioned binary results-file
// format used to checkpoint a world's obstacle layout and accumulated
// replication statistics.
package persist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"rwsim/internal/walkpool"
	"rwsim/internal/world"
)

var magic = [8]byte{'R', 'W', 'R', 'E', 'S', 0, 0, 0}

const fileVersion uint32 = 1

// Header is the fixed-size preface of a results file: everything needed
// to reconstruct the World and the run configuration it was produced
// under, ahead of the variable-length per-cell arrays.
type Header struct {
	WorldKind world.Kind
	Size      world.Size
	Probs     walkpool.Probs
	MaxSteps  uint32
	TotalReps uint32
}

// Document is a Header plus the data it describes: an obstacle mask and
// a set of per-cell result arrays, all sized Size.CellCount().
type Document struct {
	Header
	Obstacles   []bool
	Trials      []uint32
	SumSteps    []uint64
	SuccessLEQK []uint32
}

// SaveResults writes w's obstacle layout and results' accumulated
// counters to path, preceded by hdr, in the RWRES v1 format.
func SaveResults(path string, hdr Header, w *world.World, results *world.Results) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: create %q: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	if err := writeHeader(bw, hdr); err != nil {
		return fmt.Errorf("persist: write header: %w", err)
	}

	n := w.Size.CellCount()
	obstacles := make([]byte, n)
	for i, v := range w.Obstacles() {
		if v {
			obstacles[i] = 1
		}
	}
	if _, err := bw.Write(obstacles); err != nil {
		return fmt.Errorf("persist: write obstacles: %w", err)
	}

	trials, sumSteps, successLEQK := results.Snapshot()
	if err := writeUint32Slice(bw, trials); err != nil {
		return fmt.Errorf("persist: write trials: %w", err)
	}
	if err := writeUint64Slice(bw, sumSteps); err != nil {
		return fmt.Errorf("persist: write sum_steps: %w", err)
	}
	if err := writeUint32Slice(bw, successLEQK); err != nil {
		return fmt.Errorf("persist: write success_leq_k: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("persist: flush %q: %w", path, err)
	}
	return f.Close()
}

// LoadResults reads a full Document — header, obstacle mask, and all
// three result arrays — from path.
func LoadResults(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("persist: open %q: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	hdr, err := readHeader(br)
	if err != nil {
		return Document{}, fmt.Errorf("persist: read header: %w", err)
	}

	n := hdr.Size.CellCount()

	obstacleBytes := make([]byte, n)
	if _, err := io.ReadFull(br, obstacleBytes); err != nil {
		return Document{}, fmt.Errorf("persist: read obstacles: %w", err)
	}
	obstacles := make([]bool, n)
	for i, b := range obstacleBytes {
		obstacles[i] = b != 0
	}

	trials, err := readUint32Slice(br, n)
	if err != nil {
		return Document{}, fmt.Errorf("persist: read trials: %w", err)
	}
	sumSteps, err := readUint64Slice(br, n)
	if err != nil {
		return Document{}, fmt.Errorf("persist: read sum_steps: %w", err)
	}
	successLEQK, err := readUint32Slice(br, n)
	if err != nil {
		return Document{}, fmt.Errorf("persist: read success_leq_k: %w", err)
	}

	return Document{
		Header:      hdr,
		Obstacles:   obstacles,
		Trials:      trials,
		SumSteps:    sumSteps,
		SuccessLEQK: successLEQK,
	}, nil
}

// LoadWorld reads only a results file's header and obstacle mask,
// reconstructing the World it describes without touching the result
// arrays that follow on disk.
func LoadWorld(path string) (*world.World, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("persist: open %q: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	hdr, err := readHeader(br)
	if err != nil {
		return nil, Header{}, fmt.Errorf("persist: read header: %w", err)
	}

	w, err := world.New(hdr.WorldKind, hdr.Size)
	if err != nil {
		return nil, Header{}, fmt.Errorf("persist: reconstruct world: %w", err)
	}

	n := hdr.Size.CellCount()
	obstacleBytes := make([]byte, n)
	if _, err := io.ReadFull(br, obstacleBytes); err != nil {
		return nil, Header{}, fmt.Errorf("persist: read obstacles: %w", err)
	}
	for i, b := range obstacleBytes {
		if b != 0 {
			x := int32(uint32(i) % hdr.Size.Width)
			y := int32(uint32(i) / hdr.Size.Width)
			w.SetObstacle(x, y, true)
		}
	}

	return w, hdr, nil
}

func writeHeader(w io.Writer, hdr Header) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	fields := []uint32{fileVersion, uint32(hdr.WorldKind), hdr.Size.Width, hdr.Size.Height}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	probs := []float64{hdr.Probs.Up, hdr.Probs.Down, hdr.Probs.Left, hdr.Probs.Right}
	for _, p := range probs {
		if err := binary.Write(w, binary.LittleEndian, p); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, [2]uint32{hdr.MaxSteps, hdr.TotalReps})
}

func readHeader(r io.Reader) (Header, error) {
	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Header{}, err
	}
	if gotMagic != magic {
		return Header{}, fmt.Errorf("bad magic %q", gotMagic)
	}

	var version, kind, width, height uint32
	for _, dst := range []*uint32{&version, &kind, &width, &height} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return Header{}, err
		}
	}
	if version != fileVersion {
		return Header{}, fmt.Errorf("unsupported version %d", version)
	}

	var probs [4]float64
	if err := binary.Read(r, binary.LittleEndian, &probs); err != nil {
		return Header{}, err
	}

	var maxSteps, totalReps uint32
	if err := binary.Read(r, binary.LittleEndian, &maxSteps); err != nil {
		return Header{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &totalReps); err != nil {
		return Header{}, err
	}

	wk := world.Wrap
	if kind == uint32(world.Obstacles) {
		wk = world.Obstacles
	}

	return Header{
		WorldKind: wk,
		Size:      world.Size{Width: width, Height: height},
		Probs:     walkpool.Probs{Up: probs[0], Down: probs[1], Left: probs[2], Right: probs[3]},
		MaxSteps:  maxSteps,
		TotalReps: totalReps,
	}, nil
}

func writeUint32Slice(w io.Writer, s []uint32) error {
	buf := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	_, err := w.Write(buf)
	return err
}

func writeUint64Slice(w io.Writer, s []uint64) error {
	buf := make([]byte, 8*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	_, err := w.Write(buf)
	return err
}

func readUint32Slice(r io.Reader, n uint32) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out, nil
}

func readUint64Slice(r io.Reader, n uint32) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out, nil
}
