package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"rwsim/internal/protocol"
)

// DefaultRequestTimeout bounds every synchronous command below.
const DefaultRequestTimeout = 10 * time.Second

// Client is a connected session: the raw connection, its dispatcher, and
// the pid this session joined as.
type Client struct {
	conn   net.Conn
	disp   *Dispatcher
	pid    uint32
	cancel context.CancelFunc
}

// Dial connects to the Unix domain socket at path, performs the JOIN/
// WELCOME handshake, and starts the dispatcher's reader goroutine. events
// may be nil.
func Dial(path string, pid uint32, log *slog.Logger, events chan<- Event) (*Client, protocol.Welcome, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, protocol.Welcome{}, fmt.Errorf("client: dial %q: %w", path, err)
	}

	welcome, err := join(conn, pid)
	if err != nil {
		conn.Close()
		return nil, protocol.Welcome{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	disp := NewDispatcher(conn, log, events)
	go func() {
		if err := disp.Run(ctx); err != nil && log != nil {
			log.Debug("dispatcher stopped", "error", err)
		}
	}()

	return &Client{conn: conn, disp: disp, pid: pid, cancel: cancel}, welcome, nil
}

// join performs the mandatory first JOIN/WELCOME exchange before the
// dispatcher takes over reads.
func join(conn net.Conn, pid uint32) (protocol.Welcome, error) {
	req := protocol.Join{PID: pid}
	if err := protocol.SendMsg(conn, protocol.MsgJoin, req.Marshal()); err != nil {
		return protocol.Welcome{}, fmt.Errorf("client: send join: %w", err)
	}

	hdr, err := protocol.RecvHeader(conn)
	if err != nil {
		return protocol.Welcome{}, fmt.Errorf("client: recv welcome header: %w", err)
	}
	if hdr.Type != protocol.MsgWelcome {
		return protocol.Welcome{}, fmt.Errorf("client: expected WELCOME, got %s", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		return protocol.Welcome{}, fmt.Errorf("client: recv welcome payload: %w", err)
	}

	return protocol.UnmarshalWelcome(payload), nil
}

// Close releases the dispatcher and closes the underlying connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close()
}

// PID returns this session's joined process id.
func (c *Client) PID() uint32 { return c.pid }

func (c *Client) doSimple(reqType protocol.MsgType, payload []byte) error {
	hdr, respPayload, err := c.disp.SendAndWait(
		context.Background(), reqType, payload,
		[]protocol.MsgType{protocol.MsgAck, protocol.MsgError}, DefaultRequestTimeout)
	if err != nil {
		return err
	}
	if hdr.Type == protocol.MsgError {
		e := protocol.UnmarshalErrorMsg(respPayload)
		return fmt.Errorf("server: %s (code %d)", e.Msg, e.Code)
	}
	return nil
}

func (c *Client) SetGlobalMode(mode protocol.GlobalMode) error {
	return c.doSimple(protocol.MsgSetGlobalMode, protocol.SetGlobalMode{NewMode: mode}.Marshal())
}

func (c *Client) CreateSim(req protocol.CreateSim) error {
	return c.doSimple(protocol.MsgCreateSim, req.Marshal())
}

func (c *Client) LoadWorld(req protocol.LoadWorld) error {
	return c.doSimple(protocol.MsgLoadWorld, req.Marshal())
}

func (c *Client) StartSim() error {
	return c.doSimple(protocol.MsgStartSim, nil)
}

func (c *Client) RestartSim(reps uint32) error {
	return c.doSimple(protocol.MsgRestartSim, protocol.RestartSim{Reps: reps}.Marshal())
}

func (c *Client) StopSim() error {
	return c.doSimple(protocol.MsgStopSim, protocol.StopSim{PID: c.pid}.Marshal())
}

func (c *Client) RequestSnapshot() error {
	return c.doSimple(protocol.MsgRequestSnapshot, protocol.RequestSnapshot{PID: c.pid}.Marshal())
}

func (c *Client) SaveResults(path string) error {
	return c.doSimple(protocol.MsgSaveResults, protocol.SaveResults{Path: path}.Marshal())
}

func (c *Client) LoadResults(path string) error {
	return c.doSimple(protocol.MsgLoadResults, protocol.LoadResults{Path: path}.Marshal())
}

func (c *Client) Quit(stopIfOwner bool) error {
	return c.doSimple(protocol.MsgQuit, protocol.Quit{PID: c.pid, StopIfOwner: stopIfOwner}.Marshal())
}

// QueryStatus returns the server's current simulation status.
func (c *Client) QueryStatus() (protocol.Status, error) {
	hdr, payload, err := c.disp.SendAndWait(
		context.Background(), protocol.MsgQueryStatus, protocol.QueryStatus{PID: c.pid}.Marshal(),
		[]protocol.MsgType{protocol.MsgStatus, protocol.MsgError}, DefaultRequestTimeout)
	if err != nil {
		return protocol.Status{}, err
	}
	if hdr.Type == protocol.MsgError {
		e := protocol.UnmarshalErrorMsg(payload)
		return protocol.Status{}, fmt.Errorf("server: %s (code %d)", e.Msg, e.Code)
	}
	return protocol.UnmarshalStatus(payload), nil
}
