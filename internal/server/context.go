// Package server implements the per-connection session state machine and
// the shared Context that every session reads and mutates: the client
// registry, ownership, and the replicated configuration/progress fields
// mirrored in every WELCOME/STATUS reply.
package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"rwsim/internal/protocol"
	"rwsim/internal/walkpool"
	"rwsim/internal/world"
)

// MaxClients bounds the number of simultaneously registered sessions.
const MaxClients = 32

// ErrTooManyClients is returned by RegisterClient once MaxClients sessions
// are already registered.
var ErrTooManyClients = errors.New("server: too many clients")

// SimState mirrors the lifecycle reported in WELCOME/STATUS.
type SimState uint32

const (
	SimLobby SimState = iota + 1
	SimRunning
	SimFinished
)

// Config is the replicated simulation configuration every client's
// WELCOME/STATUS reply is built from.
type Config struct {
	Kind      world.Kind
	Size      world.Size
	Probs     walkpool.Probs
	KMaxSteps uint32
	TotalReps uint32
}

// Context is the state shared by every session on a server: the client
// registry (clientsMu) and the simulation configuration/progress/mode
// (stateMu). Callers always acquire clientsMu before stateMu; never the
// reverse, and never hold one while calling an exported method guarded by
// the other.
type Context struct {
	clientsMu sync.Mutex
	clients   []net.Conn
	owner     net.Conn

	stateMu    sync.Mutex
	cfg        Config
	world      *world.World
	results    *world.Results
	globalMode protocol.GlobalMode
	currentRep uint32
	simState   SimState
	multiUser  bool

	snapshotSeq atomic.Uint32
}

// NewContext builds a Context seeded with the lobby defaults: a 10x10
// wrap-around world, uniform movement probabilities, K=100, one
// replication, summary mode.
func NewContext() *Context {
	w, err := world.New(world.Wrap, world.Size{Width: 10, Height: 10})
	if err != nil {
		panic("server: default world construction failed: " + err.Error())
	}

	return &Context{
		cfg: Config{
			Kind:      world.Wrap,
			Size:      world.Size{Width: 10, Height: 10},
			Probs:     walkpool.Probs{Up: 0.25, Down: 0.25, Left: 0.25, Right: 0.25},
			KMaxSteps: 100,
			TotalReps: 1,
		},
		world:      w,
		results:    world.NewResults(world.Size{Width: 10, Height: 10}),
		globalMode: protocol.ModeSummary,
		simState:   SimLobby,
	}
}

// RegisterClient adds conn to the registry and, if no owner is set yet,
// makes conn the owner. It fails once MaxClients sessions are registered.
func (c *Context) RegisterClient(conn net.Conn) (int, error) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	if len(c.clients) >= MaxClients {
		return 0, ErrTooManyClients
	}

	c.clients = append(c.clients, conn)
	if c.owner == nil {
		c.owner = conn
	}

	return len(c.clients) - 1, nil
}

// UnregisterClient removes conn from the registry and clears ownership if
// conn was the owner. It is idempotent: unregistering an already-absent
// conn is a no-op.
func (c *Context) UnregisterClient(conn net.Conn) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	for i, cc := range c.clients {
		if cc == conn {
			c.clients = append(c.clients[:i], c.clients[i+1:]...)
			break
		}
	}

	if c.owner == conn {
		c.owner = nil
	}
}

// ForEachClient invokes fn for every registered connection under the
// registry lock. fn must not call back into the registry or block on a
// per-connection lock.
func (c *Context) ForEachClient(fn func(net.Conn)) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	for _, cc := range c.clients {
		fn(cc)
	}
}

// Owner returns the current owner connection, or nil if unset.
func (c *Context) Owner() net.Conn {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	return c.owner
}

// SetOwner overwrites the owner connection directly, used when ownership
// transfers explicitly rather than via register/unregister.
func (c *Context) SetOwner(conn net.Conn) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	c.owner = conn
}

// ClientCanControl reports whether conn may issue mutating commands: true
// iff no owner is set, or conn is the owner.
func (c *Context) ClientCanControl(conn net.Conn) bool {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	return c.owner == nil || c.owner == conn
}

// ClientCount returns the number of currently registered sessions.
func (c *Context) ClientCount() int {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	return len(c.clients)
}

// Config returns a copy of the current simulation configuration.
func (c *Context) Config() Config {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.cfg
}

// SetConfig replaces the simulation configuration, world, and results
// accumulator together, as happens on CREATE_SIM/LOAD_WORLD/LOAD_RESULTS.
func (c *Context) SetConfig(cfg Config, w *world.World, results *world.Results) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.cfg = cfg
	c.world = w
	c.results = results
	c.currentRep = 0
}

// World returns the world currently configured.
func (c *Context) World() *world.World {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.world
}

// Results returns the results accumulator currently configured.
func (c *Context) Results() *world.Results {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.results
}

// GlobalMode returns the interactive/summary display mode.
func (c *Context) GlobalMode() protocol.GlobalMode {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.globalMode
}

// SetGlobalMode overwrites the display mode.
func (c *Context) SetGlobalMode(mode protocol.GlobalMode) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.globalMode = mode
}

// CurrentRep returns the most recently completed replication index.
func (c *Context) CurrentRep() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.currentRep
}

// SetCurrentRep overwrites the most recently completed replication index.
func (c *Context) SetCurrentRep(rep uint32) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.currentRep = rep
}

// SimState returns the simulation's lobby/running/finished state.
func (c *Context) SimState() SimState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.simState
}

// SetSimState overwrites the simulation's lobby/running/finished state.
func (c *Context) SetSimState(s SimState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.simState = s
}

// MultiUser reports whether the current simulation was created in
// multi-user mode.
func (c *Context) MultiUser() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.multiUser
}

// SetMultiUser overwrites the multi-user flag.
func (c *Context) SetMultiUser(v bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.multiUser = v
}
