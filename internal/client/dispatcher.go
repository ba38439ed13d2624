// Package client implements the caller side of the wire protocol: a single
// reader goroutine (the Dispatcher) that demultiplexes unsolicited
// broadcasts and chunked snapshots from synchronous request/response
// exchanges, plus thin command wrappers and a line-oriented REPL.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"rwsim/internal/protocol"
)

// Event is published on the optional observer channel for PROGRESS, END,
// and GLOBAL_MODE_CHANGED notifications the dispatcher otherwise consumes
// silently, and for completed snapshots.
type Event struct {
	Type        protocol.MsgType
	Progress    *protocol.Progress
	End         *protocol.End
	ModeChanged *protocol.GlobalModeChanged
	Snapshot    *Snapshot
}

// Dispatcher owns the only read half of a connection after the JOIN/WELCOME
// handshake. Writes go through a mutex so SendAndWait and any out-of-band
// sends never interleave header/payload bytes.
type Dispatcher struct {
	conn    net.Conn
	writeMu sync.Mutex
	log     *slog.Logger
	events  chan<- Event

	reassembler *SnapshotReassembler

	mu          sync.Mutex
	cond        *sync.Cond
	inFlight    bool
	expected    map[protocol.MsgType]bool
	respHdr     protocol.Header
	respPayload []byte
	respReady   bool
	fatalErr    error
}

// NewDispatcher builds a Dispatcher for conn. events may be nil, in which
// case PROGRESS/END/GLOBAL_MODE_CHANGED/Snapshot notifications are simply
// dropped after being consumed.
func NewDispatcher(conn net.Conn, log *slog.Logger, events chan<- Event) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		conn:        conn,
		log:         log,
		events:      events,
		reassembler: NewSnapshotReassembler(),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Run reads and dispatches messages until the connection errors or closes,
// or ctx is cancelled. It returns the terminating error (nil only if ctx
// was cancelled cleanly).
func (d *Dispatcher) Run(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		hdr, err := protocol.RecvHeader(d.conn)
		if err != nil {
			d.fail(err)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		payload, err := protocol.RecvPayload(d.conn, hdr.PayloadLen)
		if err != nil {
			d.fail(err)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch hdr.Type {
		case protocol.MsgProgress:
			p := protocol.UnmarshalProgress(payload)
			d.publish(Event{Type: hdr.Type, Progress: &p})
		case protocol.MsgEnd:
			e := protocol.UnmarshalEnd(payload)
			d.publish(Event{Type: hdr.Type, End: &e})
		case protocol.MsgGlobalModeChanged:
			m := protocol.UnmarshalGlobalModeChanged(payload)
			d.publish(Event{Type: hdr.Type, ModeChanged: &m})
		case protocol.MsgSnapshotBegin:
			d.reassembler.Begin(protocol.UnmarshalSnapshotBegin(payload))
		case protocol.MsgSnapshotChunk:
			d.reassembler.Chunk(protocol.UnmarshalSnapshotChunk(payload))
		case protocol.MsgSnapshotEnd:
			if snap, ok := d.reassembler.End(); ok {
				d.publish(Event{Type: hdr.Type, Snapshot: &snap})
			}
		default:
			d.deliver(hdr, payload)
		}
	}
}

func (d *Dispatcher) publish(ev Event) {
	if d.events == nil {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.log.Warn("dropping event, observer channel full", "type", ev.Type)
	}
}

func (d *Dispatcher) deliver(hdr protocol.Header, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight && d.expected[hdr.Type] {
		d.respHdr = hdr
		d.respPayload = payload
		d.respReady = true
		d.cond.Broadcast()
		return
	}

	d.log.Warn("dropping unsolicited message", "type", hdr.Type)
}

func (d *Dispatcher) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fatalErr = err
	d.cond.Broadcast()
}

// send writes one framed message, serialized against other writers.
func (d *Dispatcher) send(t protocol.MsgType, payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	return protocol.SendMsg(d.conn, t, payload)
}

// SendAndWait serializes callers one at a time: it blocks until any
// in-flight request completes, sends reqType/payload, then waits for a
// response whose type is in expected, a fatal reader error, or timeout (0
// means wait indefinitely). On success the returned payload's ownership
// transfers to the caller.
func (d *Dispatcher) SendAndWait(
	ctx context.Context,
	reqType protocol.MsgType,
	payload []byte,
	expected []protocol.MsgType,
	timeout time.Duration,
) (protocol.Header, []byte, error) {
	d.mu.Lock()
	for d.inFlight {
		d.cond.Wait()
	}
	if d.fatalErr != nil {
		err := d.fatalErr
		d.mu.Unlock()
		return protocol.Header{}, nil, err
	}

	d.inFlight = true
	d.expected = make(map[protocol.MsgType]bool, len(expected))
	for _, t := range expected {
		d.expected[t] = true
	}
	d.respReady = false
	d.respPayload = nil
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.expected = nil
		d.cond.Broadcast()
		d.mu.Unlock()
	}()

	if err := d.send(reqType, payload); err != nil {
		return protocol.Header{}, nil, fmt.Errorf("client: send %s: %w", reqType, err)
	}

	var timedOut bool
	watchDone := make(chan struct{})
	defer close(watchDone)

	if timeout > 0 || ctx != nil {
		go func() {
			var timerC <-chan time.Time
			if timeout > 0 {
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				timerC = timer.C
			}
			var ctxDone <-chan struct{}
			if ctx != nil {
				ctxDone = ctx.Done()
			}
			select {
			case <-timerC:
				d.mu.Lock()
				timedOut = true
				d.cond.Broadcast()
				d.mu.Unlock()
			case <-ctxDone:
				d.mu.Lock()
				timedOut = true
				d.cond.Broadcast()
				d.mu.Unlock()
			case <-watchDone:
			}
		}()
	}

	d.mu.Lock()
	for !d.respReady && d.fatalErr == nil && !timedOut {
		d.cond.Wait()
	}
	var (
		hdr     protocol.Header
		respPay []byte
		err     error
	)
	switch {
	case d.respReady:
		hdr, respPay = d.respHdr, d.respPayload
	case d.fatalErr != nil:
		err = d.fatalErr
	case timedOut:
		err = fmt.Errorf("client: timed out waiting for response to %s", reqType)
	}
	d.mu.Unlock()

	return hdr, respPay, err
}
