package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"rwsim/internal/persist"
	"rwsim/internal/protocol"
	"rwsim/internal/simmanager"
	"rwsim/internal/walkpool"
	"rwsim/internal/world"
)

// Numeric ERROR codes reported on the wire, mirroring the distilled
// protocol's command table one for one.
const (
	errPermissionDenied    = 1
	errSimulationRunning   = 2
	errInvalidParameters   = 3
	errBadProbabilities    = 4
	errWorldInitFailed     = 5
	errResultsInitFailed   = 6
	errHandlesNotSet       = 7
	errLoadWorldFailed     = 8
	errManagerNotSet       = 9
	errStartRestartFailed  = 10
	errSnapshotUnavailable = 11
	errSnapshotSendFailed  = 12
	errNothingToSave       = 13
	errSaveFailed          = 14
	errLoadFailed          = 15
)

// DefaultNumWorkers and DefaultQueueCapacity size the worker pool built
// for every simulation run.
const (
	DefaultNumWorkers    = 8
	DefaultQueueCapacity = 256
)

// obstacleDensityPercent and obstacleSeed are CREATE_SIM's fixed defaults
// for auto-generating an obstacle layout when the requested world kind is
// WorldObstacles.
const (
	obstacleDensityPercent = 10
	obstacleSeed           = 12345
)

// SessionMetrics is the set of counters/gauges a Server records against,
// kept as an interface so *metrics.Registry can be passed in directly
// without this package importing the concrete Prometheus types, and so
// tests can substitute a stub.
type SessionMetrics interface {
	walkpool.Metrics
	ClientConnected()
	ClientDisconnected()
	BroadcastDropped()
	ReplicationCompleted()
}

type noopSessionMetrics struct{}

func (noopSessionMetrics) JobSubmitted()        {}
func (noopSessionMetrics) JobCompleted()        {}
func (noopSessionMetrics) JobsInflight(int)     {}
func (noopSessionMetrics) QueueFullRetry()      {}
func (noopSessionMetrics) ClientConnected()     {}
func (noopSessionMetrics) ClientDisconnected()  {}
func (noopSessionMetrics) BroadcastDropped()    {}
func (noopSessionMetrics) ReplicationCompleted() {}

// Server owns the shared Context plus the single simulation manager all
// sessions start/stop/restart against.
type Server struct {
	Ctx     *Context
	log     *slog.Logger
	metrics SessionMetrics

	numWorkers    int
	queueCapacity int

	mgrMu sync.Mutex
	mgr   *simmanager.Manager
}

// NewServer builds a Server with lobby defaults and no simulation manager
// yet; a new one is constructed each time a session starts a run. metrics
// may be nil, in which case instrumentation is a no-op.
func NewServer(log *slog.Logger, metrics SessionMetrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = noopSessionMetrics{}
	}
	return &Server{
		Ctx:           NewContext(),
		log:           log,
		metrics:       metrics,
		numWorkers:    DefaultNumWorkers,
		queueCapacity: DefaultQueueCapacity,
	}
}

// HandleConn runs one client's full session lifecycle: handshake,
// registration, command loop, and cleanup. It returns once the
// connection is done, closing conn itself.
func (s *Server) HandleConn(conn net.Conn) {
	defer conn.Close()

	sessionID := uuid.NewString()
	log := s.log.With("session", sessionID)

	pid, err := s.handleJoin(conn)
	if err != nil {
		log.Warn("join handshake failed", "error", err)
		return
	}
	log = log.With("pid", pid)

	slot, err := s.Ctx.RegisterClient(conn)
	if err != nil {
		log.Warn("registration failed", "error", err)
		return
	}
	log.Info("client connected", "slot", slot)
	s.metrics.ClientConnected()

	defer func() {
		s.Ctx.UnregisterClient(conn)
		s.metrics.ClientDisconnected()
		log.Info("client disconnected")
	}()

	s.commandLoop(conn, pid, log)
}

// handleJoin reads the mandatory first JOIN message and replies with
// WELCOME reflecting the current configuration. It returns an error
// (and sends nothing further) on any framing mismatch.
func (s *Server) handleJoin(conn net.Conn) (uint32, error) {
	hdr, err := protocol.RecvHeader(conn)
	if err != nil {
		return 0, fmt.Errorf("recv join header: %w", err)
	}
	if hdr.Type != protocol.MsgJoin {
		return 0, fmt.Errorf("expected JOIN, got type %s", hdr.Type)
	}
	payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
	if err != nil {
		return 0, fmt.Errorf("recv join payload: %w", err)
	}
	join := protocol.UnmarshalJoin(payload)

	cfg := s.Ctx.Config()
	welcome := protocol.Welcome{
		Kind:       protocol.WorldKind(cfg.Kind),
		Size:       protocol.Size{Width: cfg.Size.Width, Height: cfg.Size.Height},
		Probs:      protocol.Probs(cfg.Probs),
		K:          cfg.KMaxSteps,
		TotalReps:  cfg.TotalReps,
		CurrentRep: s.Ctx.CurrentRep(),
		Mode:       s.Ctx.GlobalMode(),
		Origin:     protocol.Pos{X: 0, Y: 0},
	}
	if err := protocol.SendMsg(conn, protocol.MsgWelcome, welcome.Marshal()); err != nil {
		return 0, fmt.Errorf("send welcome: %w", err)
	}

	return join.PID, nil
}

// commandLoop reads and dispatches control-plane commands until the
// connection closes, a QUIT is received, or a framing error occurs.
func (s *Server) commandLoop(conn net.Conn, pid uint32, log *slog.Logger) {
	for {
		hdr, err := protocol.RecvHeader(conn)
		if err != nil {
			return
		}

		payload, err := protocol.RecvPayload(conn, hdr.PayloadLen)
		if err != nil {
			return
		}

		switch hdr.Type {
		case protocol.MsgSetGlobalMode:
			s.handleSetGlobalMode(conn, pid, payload, log)
		case protocol.MsgQueryStatus:
			s.handleQueryStatus(conn, payload, log)
		case protocol.MsgCreateSim:
			s.handleCreateSim(conn, payload, log)
		case protocol.MsgLoadWorld:
			s.handleLoadWorld(conn, payload, log)
		case protocol.MsgStartSim:
			s.handleStartSim(conn, log)
		case protocol.MsgRestartSim:
			s.handleRestartSim(conn, payload, log)
		case protocol.MsgStopSim:
			s.handleStopSim(conn, log)
		case protocol.MsgRequestSnapshot:
			s.handleRequestSnapshot(conn, log)
		case protocol.MsgSaveResults:
			s.handleSaveResults(conn, payload, log)
		case protocol.MsgLoadResults:
			s.handleLoadResults(conn, payload, log)
		case protocol.MsgQuit:
			s.handleQuit(conn, payload, log)
			return
		default:
			// Unknown/unsupported message type: payload already drained
			// by RecvPayload above, simply ignore and keep the loop going.
			log.Warn("ignoring unknown message type", "type", hdr.Type)
		}
	}
}

func sendAck(conn net.Conn, reqType protocol.MsgType, log *slog.Logger) {
	ack := protocol.Ack{RequestType: reqType, Status: 0}
	if err := protocol.SendMsg(conn, protocol.MsgAck, ack.Marshal()); err != nil {
		log.Warn("failed to send ack", "error", err)
	}
}

func sendError(conn net.Conn, code uint32, msg string, log *slog.Logger) {
	e := protocol.ErrorMsg{Code: code, Msg: msg}
	if err := protocol.SendMsg(conn, protocol.MsgError, e.Marshal()); err != nil {
		log.Warn("failed to send error", "error", err)
	}
	log.Warn("command failed", "code", code, "message", msg)
}

func (s *Server) handleSetGlobalMode(conn net.Conn, pid uint32, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalSetGlobalMode(payload)
	s.Ctx.SetGlobalMode(req.NewMode)
	log.Info("global mode changed", "mode", req.NewMode)
	s.broadcastGlobalModeChanged(req.NewMode, pid)
	sendAck(conn, protocol.MsgSetGlobalMode, log)
}

func (s *Server) handleQueryStatus(conn net.Conn, payload []byte, log *slog.Logger) {
	_ = protocol.UnmarshalQueryStatus(payload)

	cfg := s.Ctx.Config()
	st := protocol.Status{
		Welcome: protocol.Welcome{
			Kind:       protocol.WorldKind(cfg.Kind),
			Size:       protocol.Size{Width: cfg.Size.Width, Height: cfg.Size.Height},
			Probs:      protocol.Probs(cfg.Probs),
			K:          cfg.KMaxSteps,
			TotalReps:  cfg.TotalReps,
			CurrentRep: s.Ctx.CurrentRep(),
			Mode:       s.Ctx.GlobalMode(),
			Origin:     protocol.Pos{X: 0, Y: 0},
		},
		State:      protocol.SimState(s.Ctx.SimState()),
		MultiUser:  s.Ctx.MultiUser(),
		CanControl: s.Ctx.ClientCanControl(conn),
	}
	if err := protocol.SendMsg(conn, protocol.MsgStatus, st.Marshal()); err != nil {
		log.Warn("failed to send status", "error", err)
	}
}

func (s *Server) handleCreateSim(conn net.Conn, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalCreateSim(payload)

	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}
	if s.Ctx.SimState() == SimRunning {
		sendError(conn, errSimulationRunning, "Simulation already running", log)
		return
	}
	if req.Size.Width == 0 || req.Size.Height == 0 || req.Reps == 0 || req.K == 0 {
		sendError(conn, errInvalidParameters, "Invalid parameters", log)
		return
	}
	sum := req.Probs.Up + req.Probs.Down + req.Probs.Left + req.Probs.Right
	if sum < 0.999 || sum > 1.001 {
		sendError(conn, errBadProbabilities, "Probabilities must sum to 1", log)
		return
	}

	kind := world.Kind(req.Kind)
	size := world.Size{Width: req.Size.Width, Height: req.Size.Height}

	w, err := world.New(kind, size)
	if err != nil {
		sendError(conn, errWorldInitFailed, "world init failed", log)
		return
	}
	if kind == world.Obstacles {
		w.GenerateObstacles(obstacleDensityPercent, obstacleSeed)
	}

	results := world.NewResults(size)

	s.Ctx.SetMultiUser(req.MultiUser)
	s.Ctx.SetConfig(Config{
		Kind:      kind,
		Size:      size,
		Probs:     walkpool.Probs(req.Probs),
		KMaxSteps: req.K,
		TotalReps: req.Reps,
	}, w, results)
	s.Ctx.SetSimState(SimLobby)

	log.Info("simulation created", "kind", kind, "width", size.Width, "height", size.Height, "reps", req.Reps)
	sendAck(conn, protocol.MsgCreateSim, log)
}

func (s *Server) handleLoadWorld(conn net.Conn, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalLoadWorld(payload)

	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}
	if s.Ctx.SimState() == SimRunning {
		sendError(conn, errSimulationRunning, "Simulation already running", log)
		return
	}

	s.Ctx.SetMultiUser(req.MultiUser)

	w, hdr, err := persist.LoadWorld(req.Path)
	if err != nil {
		sendError(conn, errLoadWorldFailed, "Failed to load world file", log)
		return
	}

	results := world.NewResults(hdr.Size)
	s.Ctx.SetConfig(Config{
		Kind:      hdr.WorldKind,
		Size:      hdr.Size,
		Probs:     hdr.Probs,
		KMaxSteps: hdr.MaxSteps,
		TotalReps: hdr.TotalReps,
	}, w, results)
	s.Ctx.SetSimState(SimLobby)

	log.Info("world loaded", "path", req.Path)
	sendAck(conn, protocol.MsgLoadWorld, log)
}

func (s *Server) handleStartSim(conn net.Conn, log *slog.Logger) {
	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}
	if s.Ctx.SimState() == SimRunning {
		sendError(conn, errSimulationRunning, "Simulation already running", log)
		return
	}

	mgr := s.newManager()
	prevState := s.Ctx.SimState()
	s.Ctx.SetSimState(SimRunning)
	if err := mgr.Start(s.managerConfig()); err != nil {
		s.Ctx.SetSimState(prevState)
		sendError(conn, errStartRestartFailed, "Failed to start simulation", log)
		return
	}
	s.mgrMu.Lock()
	s.mgr = mgr
	s.mgrMu.Unlock()

	log.Info("simulation started")
	sendAck(conn, protocol.MsgStartSim, log)
}

func (s *Server) handleRestartSim(conn net.Conn, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalRestartSim(payload)

	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}
	if s.Ctx.SimState() == SimRunning {
		sendError(conn, errSimulationRunning, "Simulation running; stop first", log)
		return
	}
	if req.Reps == 0 {
		sendError(conn, errInvalidParameters, "Invalid repetitions", log)
		return
	}

	s.mgrMu.Lock()
	mgr := s.mgr
	s.mgrMu.Unlock()
	if mgr == nil {
		sendError(conn, errManagerNotSet, "Server sim_manager not set", log)
		return
	}
	prevState := s.Ctx.SimState()
	s.Ctx.SetSimState(SimRunning)
	if err := mgr.Restart(req.Reps); err != nil {
		s.Ctx.SetSimState(prevState)
		sendError(conn, errStartRestartFailed, "Failed to restart simulation", log)
		return
	}

	log.Info("simulation restarted", "reps", req.Reps)
	sendAck(conn, protocol.MsgRestartSim, log)
}

func (s *Server) handleStopSim(conn net.Conn, log *slog.Logger) {
	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}

	s.mgrMu.Lock()
	mgr := s.mgr
	s.mgrMu.Unlock()
	if mgr != nil {
		mgr.RequestStop()
	}

	log.Info("stop requested")
	sendAck(conn, protocol.MsgStopSim, log)
}

func (s *Server) handleRequestSnapshot(conn net.Conn, log *slog.Logger) {
	failures := s.Ctx.broadcastSnapshot()
	for _, err := range failures {
		log.Warn("snapshot send failed for a client", "error", err)
	}
	if len(failures) > 0 {
		sendError(conn, errSnapshotSendFailed, "Snapshot send failed", log)
		return
	}

	log.Info("snapshot broadcast")
	sendAck(conn, protocol.MsgRequestSnapshot, log)
}

func (s *Server) handleSaveResults(conn net.Conn, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalSaveResults(payload)

	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}

	cfg := s.Ctx.Config()
	w := s.Ctx.World()
	results := s.Ctx.Results()
	if w == nil || results == nil {
		sendError(conn, errNothingToSave, "Nothing to save", log)
		return
	}

	hdr := persist.Header{
		WorldKind: cfg.Kind,
		Size:      cfg.Size,
		Probs:     cfg.Probs,
		MaxSteps:  cfg.KMaxSteps,
		TotalReps: cfg.TotalReps,
	}
	if err := persist.SaveResults(req.Path, hdr, w, results); err != nil {
		sendError(conn, errSaveFailed, "Save failed", log)
		return
	}

	log.Info("results saved", "path", req.Path)
	sendAck(conn, protocol.MsgSaveResults, log)
}

func (s *Server) handleLoadResults(conn net.Conn, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalLoadResults(payload)

	if !s.Ctx.ClientCanControl(conn) {
		sendError(conn, errPermissionDenied, "Permission denied", log)
		return
	}

	doc, err := persist.LoadResults(req.Path)
	if err != nil {
		sendError(conn, errLoadFailed, "Load failed", log)
		return
	}

	w, err := world.New(doc.WorldKind, doc.Size)
	if err != nil {
		sendError(conn, errLoadFailed, "Load failed", log)
		return
	}
	for i, obstacle := range doc.Obstacles {
		if obstacle {
			x := int32(uint32(i) % doc.Size.Width)
			y := int32(uint32(i) / doc.Size.Width)
			w.SetObstacle(x, y, true)
		}
	}

	results := world.NewResults(doc.Size)
	for i := range doc.Trials {
		if doc.Trials[i] == 0 {
			continue
		}
		results.Replay(uint32(i), doc.Trials[i], doc.SumSteps[i], doc.SuccessLEQK[i])
	}

	s.Ctx.SetConfig(Config{
		Kind:      doc.WorldKind,
		Size:      doc.Size,
		Probs:     doc.Probs,
		KMaxSteps: doc.MaxSteps,
		TotalReps: doc.TotalReps,
	}, w, results)
	s.Ctx.SetSimState(SimFinished)

	log.Info("results loaded", "path", req.Path)
	sendAck(conn, protocol.MsgLoadResults, log)
}

func (s *Server) handleQuit(conn net.Conn, payload []byte, log *slog.Logger) {
	req := protocol.UnmarshalQuit(payload)

	if req.StopIfOwner && s.Ctx.ClientCanControl(conn) {
		s.mgrMu.Lock()
		mgr := s.mgr
		s.mgrMu.Unlock()
		if mgr != nil {
			mgr.RequestStop()
		}
	}

	log.Info("client quit", "pid", req.PID)
	sendAck(conn, protocol.MsgQuit, log)
}

// newManager builds a fresh simulation manager bound to the Results
// accumulator currently configured on the Context, wiring its
// progress/end callbacks to the Context's broadcast helpers. START_SIM
// always calls this so the manager never outlives a CREATE_SIM/LOAD_WORLD
// swap of the underlying world/results; RESTART_SIM reuses the manager
// a prior START_SIM installed.
func (s *Server) newManager() *simmanager.Manager {
	mgr := simmanager.New(s.Ctx.Results(), s.metrics, s.log, func(current, total uint32) {
		s.Ctx.SetCurrentRep(current)
		s.metrics.ReplicationCompleted()
		s.broadcastProgress(current, total)
	})
	mgr.SetOnEnd(func(stopped bool) {
		s.Ctx.SetSimState(SimFinished)
		reason := uint32(0)
		if stopped {
			reason = 1
		}
		s.broadcastEnd(reason)
	})
	return mgr
}

func (s *Server) managerConfig() simmanager.Config {
	cfg := s.Ctx.Config()
	return simmanager.Config{
		World:         s.Ctx.World(),
		Probs:         cfg.Probs,
		MaxSteps:      cfg.KMaxSteps,
		NumWorkers:    s.numWorkers,
		QueueCapacity: s.queueCapacity,
		TotalReps:     cfg.TotalReps,
	}
}

// SetWorkerPoolSize overrides the worker count and queue capacity every
// subsequently created simulation manager uses. Call it once, before any
// client starts a run; it does not affect a manager already installed by
// newManager.
func (s *Server) SetWorkerPoolSize(numWorkers, queueCapacity int) {
	s.numWorkers = numWorkers
	s.queueCapacity = queueCapacity
}

func (s *Server) broadcastProgress(current, total uint32) {
	msg := protocol.Progress{CurrentRep: current, TotalReps: total}
	s.Ctx.ForEachClient(func(conn net.Conn) {
		if err := protocol.SendMsgNoBlock(conn, protocol.MsgProgress, msg.Marshal()); err != nil {
			s.metrics.BroadcastDropped()
		}
	})
}

func (s *Server) broadcastEnd(reason uint32) {
	msg := protocol.End{Reason: reason}
	s.Ctx.ForEachClient(func(conn net.Conn) {
		if err := protocol.SendMsgNoBlock(conn, protocol.MsgEnd, msg.Marshal()); err != nil {
			s.metrics.BroadcastDropped()
		}
	})
}

func (s *Server) broadcastGlobalModeChanged(mode protocol.GlobalMode, changedByPID uint32) {
	msg := protocol.GlobalModeChanged{NewMode: mode, ChangedByPID: changedByPID}
	s.Ctx.ForEachClient(func(conn net.Conn) {
		if err := protocol.SendMsgNoBlock(conn, protocol.MsgGlobalModeChanged, msg.Marshal()); err != nil {
			s.metrics.BroadcastDropped()
		}
	})
}
