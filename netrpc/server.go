// Package netrpc exposes a world.Simulator over a websocket connection, one
// JSON message per request/response, mirroring the add_agent/move/turn/...
// surface of world.Simulator directly.
package netrpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jbw-sim/jbw/world"
)

// LostConnHandler is called whenever a connection that created agents
// closes, whether or not the client closed it deliberately. ServeHTTP calls
// it synchronously on that connection's goroutine before closing the socket.
type LostConnHandler func(connID uuid.UUID, agentIDs []int64)

// Server upgrades incoming HTTP requests to websocket connections and serves
// the RPC surface of a single Simulator to each.
type Server struct {
	Sim        *world.Simulator
	Log        *slog.Logger
	OnLostConn LostConnHandler

	// DefaultPermissions is granted to every newly accepted connection.
	// It is used as is: the zero value denies everything. NewServer sets it
	// to world.AllPermissions.
	DefaultPermissions world.PermissionSet

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]*clientConn
}

// NewServer returns a Server bound to sim. If log is nil, slog.Default() is
// used. Connections default to world.AllPermissions; restrict individual
// connections after accept via Server.SetPermissions.
func NewServer(sim *world.Simulator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		Sim:                sim,
		Log:                log,
		DefaultPermissions: world.AllPermissions,
		conns:              make(map[uuid.UUID]*clientConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.OnLostConn = func(connID uuid.UUID, agentIDs []int64) {
		sim.NotifyDisconnected(agentIDs)
	}
	sim.Handle(&stepBroadcaster{srv: s})
	return s
}

// SetPermissions restricts the permission set of an already-connected
// client, e.g. after an out-of-band authentication step.
func (s *Server) SetPermissions(connID uuid.UUID, perms world.PermissionSet) {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.perms = perms
	c.mu.Unlock()
}

// clientConn is one connected client: its websocket, a serialised write
// queue (gorilla/websocket forbids concurrent writers on one connection) and
// the set of agent ids this connection has created, for lost_connection
// bookkeeping.
type clientConn struct {
	id uuid.UUID
	ws *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	agents map[int64]struct{}
	perms  world.PermissionSet
}

func (c *clientConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *clientConn) trackAgent(id int64) {
	c.mu.Lock()
	c.agents[id] = struct{}{}
	c.mu.Unlock()
}

func (c *clientConn) untrackAgent(id int64) {
	c.mu.Lock()
	delete(c.agents, id)
	c.mu.Unlock()
}

func (c *clientConn) permissions() world.PermissionSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perms
}

func (c *clientConn) ownedAgents() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.agents))
	for id := range c.agents {
		out = append(out, id)
	}
	return out
}

// request is the envelope for every client-to-server message.
type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is the envelope for every server-to-client reply, including
// unsolicited step/step_failed pushes (which carry an empty ID). No
// lost_connection message is sent; a dropped connection is reported only
// through Server.OnLostConn.
type response struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result any             `json:"result,omitempty"`
	Code   world.ErrorCode `json:"code"`
	Error  string          `json:"error,omitempty"`
}

// ServeHTTP upgrades the request to a websocket and serves RPC calls on it
// until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("netrpc: upgrade failed", "err", err)
		return
	}
	c := &clientConn{id: uuid.New(), ws: ws, agents: make(map[int64]struct{}), perms: s.DefaultPermissions}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.Log.Info("netrpc: client connected", "conn", c.id)
	s.serveConn(c)

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	if owned := c.ownedAgents(); len(owned) > 0 && s.OnLostConn != nil {
		s.OnLostConn(c.id, owned)
	}
	ws.Close()
}

func (s *Server) serveConn(c *clientConn) {
	for {
		var req request
		if err := c.ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Warn("netrpc: read error", "conn", c.id, "err", err)
			}
			return
		}
		result, err := s.dispatch(c, req.Method, req.Params)
		resp := response{ID: req.ID, Method: req.Method, Result: result, Code: world.CodeOf(err)}
		if err != nil {
			resp.Error = err.Error()
		}
		if err := c.writeJSON(resp); err != nil {
			s.Log.Warn("netrpc: write error", "conn", c.id, "err", err)
			return
		}
	}
}

var errUnknownMethod = errors.New("netrpc: unknown method")

// requirePermission checks perm against c's granted permission set, returning
// world.ErrPermission without having mutated any simulator state if denied.
func requirePermission(c *clientConn, perm world.Permission) error {
	return c.permissions().Check(perm)
}

func (s *Server) dispatch(c *clientConn, method string, params json.RawMessage) (any, error) {
	switch method {
	case "add_agent":
		if err := requirePermission(c, world.PermAddAgent); err != nil {
			return nil, err
		}
		res, err := s.Sim.AddAgent()
		if err != nil {
			return nil, err
		}
		c.trackAgent(res.AgentID)
		return res, nil

	case "remove_agent":
		if err := requirePermission(c, world.PermRemoveAgent); err != nil {
			return nil, err
		}
		var p struct {
			AgentID int64 `json:"agent_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := s.Sim.RemoveAgent(p.AgentID); err != nil {
			return nil, err
		}
		c.untrackAgent(p.AgentID)
		return nil, nil

	case "move":
		var p struct {
			AgentID   int64           `json:"agent_id"`
			Direction world.Direction `json:"direction"`
			Steps     int64           `json:"steps"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.Move(p.AgentID, p.Direction, p.Steps)

	case "turn":
		var p struct {
			AgentID   int64           `json:"agent_id"`
			Direction world.Direction `json:"direction"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.Turn(p.AgentID, p.Direction)

	case "no_op":
		var p struct {
			AgentID int64 `json:"agent_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.NoOp(p.AgentID)

	case "set_active":
		if err := requirePermission(c, world.PermSetActive); err != nil {
			return nil, err
		}
		var p struct {
			AgentID int64 `json:"agent_id"`
			Active  bool  `json:"active"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.SetActive(p.AgentID, p.Active)

	case "is_active":
		var p struct {
			AgentID int64 `json:"agent_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return s.Sim.IsActive(p.AgentID)

	case "get_agent_ids":
		if err := requirePermission(c, world.PermGetAgentIDs); err != nil {
			return nil, err
		}
		return s.Sim.GetAgentIDs(), nil

	case "get_agent_states":
		if err := requirePermission(c, world.PermGetAgentStates); err != nil {
			return nil, err
		}
		var p struct {
			AgentIDs []int64 `json:"agent_ids"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return s.Sim.GetAgentStates(p.AgentIDs), nil

	case "add_semaphore":
		if err := requirePermission(c, world.PermManageSemaphores); err != nil {
			return nil, err
		}
		return s.Sim.AddSemaphore(), nil

	case "remove_semaphore":
		if err := requirePermission(c, world.PermManageSemaphores); err != nil {
			return nil, err
		}
		var p struct {
			SemaphoreID int64 `json:"semaphore_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.RemoveSemaphore(p.SemaphoreID)

	case "signal_semaphore":
		if err := requirePermission(c, world.PermManageSemaphores); err != nil {
			return nil, err
		}
		var p struct {
			SemaphoreID int64 `json:"semaphore_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.SignalSemaphore(p.SemaphoreID)

	case "unsignal_semaphore":
		if err := requirePermission(c, world.PermManageSemaphores); err != nil {
			return nil, err
		}
		var p struct {
			SemaphoreID int64 `json:"semaphore_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, s.Sim.UnsignalSemaphore(p.SemaphoreID)

	case "get_semaphores":
		if err := requirePermission(c, world.PermGetSemaphores); err != nil {
			return nil, err
		}
		return s.Sim.GetSemaphores(), nil

	case "get_map":
		if err := requirePermission(c, world.PermGetMap); err != nil {
			return nil, err
		}
		var p struct {
			BottomLeft world.PatchCoord `json:"bottom_left"`
			TopRight   world.PatchCoord `json:"top_right"`
			WantScent  bool             `json:"want_scent"`
			WantVision bool             `json:"want_vision"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return s.Sim.GetMap(p.BottomLeft, p.TopRight, p.WantScent, p.WantVision), nil

	default:
		return nil, errUnknownMethod
	}
}

// broadcast sends an unsolicited message to every connected client, used for
// step/step_failed pushes. A slow or dead client is dropped silently; it
// will be cleaned up by its own read loop returning.
func (s *Server) broadcast(resp response) {
	s.mu.RLock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.writeJSON(resp)
	}
}

// stepBroadcaster implements world.Handler, pushing step/step_failed
// notifications to every connected client.
type stepBroadcaster struct {
	srv *Server
}

func (b *stepBroadcaster) Stepped(sim *world.Simulator, agents []*world.Agent) {
	states := make([]world.AgentState, len(agents))
	for i, a := range agents {
		states[i] = world.AgentState{
			ID:             a.ID,
			Position:       a.Position(),
			Direction:      a.Direction(),
			Scent:          a.Scent(),
			Vision:         a.Vision(),
			CollectedItems: a.CollectedItems(),
			Active:         a.Active(),
		}
	}
	b.srv.broadcast(response{Method: "step", Result: struct {
		Tick   int64              `json:"tick"`
		Agents []world.AgentState `json:"agents"`
	}{Tick: sim.CurrentTick(), Agents: states}})
}

func (b *stepBroadcaster) StepFailed(sim *world.Simulator, failure *world.StepFailure) {
	b.srv.broadcast(response{Method: "step_failed", Result: struct {
		Tick int64  `json:"tick"`
		Err  string `json:"error"`
	}{Tick: failure.Tick, Err: failure.Error()}})
}
