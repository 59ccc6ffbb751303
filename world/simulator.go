package world

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Handler receives simulator lifecycle notifications. A Handler must
// not call back into the Simulator synchronously, since that would
// recursively acquire the simulator's locks; defer such work to another
// goroutine.
type Handler interface {
	// Stepped is called once per completed tick with the snapshot of every
	// agent as of the new tick boundary.
	Stepped(sim *Simulator, agents []*Agent)
	// StepFailed is called when a step aborted without advancing the tick.
	StepFailed(sim *Simulator, failure *StepFailure)
}

// NopHandler implements Handler with no-ops, used as the default.
type NopHandler struct{}

func (NopHandler) Stepped(*Simulator, []*Agent)        {}
func (NopHandler) StepFailed(*Simulator, *StepFailure) {}

// Simulator is the top-level, concurrency-safe entry point into a running
// JBW world. Construct one via Config.New.
type Simulator struct {
	conf     Config
	registry *Registry

	patchStore *PatchStore
	sampler    *FieldSampler
	diffuser   *ScentDiffuser

	agents      *AgentTable
	semaphores  *SemaphoreTable
	coordinator *Coordinator

	st *stepper

	tickMu      sync.Mutex
	currentTick int64

	rngMu  sync.Mutex
	rng    *rand.Rand
	rngSrc *rand.PCG // underlying source of rng, kept so Save can marshal its state

	handler atomic.Pointer[Handler]

	topMu sync.Mutex // guards structural mutations: AddAgent, RemoveAgent, AddSemaphore, RemoveSemaphore

	// worldMu serialises a running tick (write side) against readers that
	// walk patch state from other goroutines (GetMap, Save). Acquired after
	// topMu and above every patch-store and per-agent lock.
	worldMu sync.RWMutex

	closing chan struct{}
	once    sync.Once
}

func newSimulator(conf Config) (*Simulator, error) {
	sampler, err := NewFieldSampler(conf.ItemTypes, conf.Registry, conf.PatchSize, int64(conf.ScentDim), conf.SamplerMode, conf.MCMCIterations, conf.RandomSeed)
	if err != nil {
		return nil, err
	}
	rngSrc := rand.NewPCG(conf.RandomSeed, conf.RandomSeed^0xD1B54A32D192ED03)
	sim := &Simulator{
		conf:       conf,
		registry:   conf.Registry,
		patchStore: NewPatchStore(conf.PatchSize, int64(conf.ScentDim), int64(len(conf.ItemTypes))),
		sampler:    sampler,
		diffuser:   NewScentDiffuser(conf.PatchSize, int64(conf.ScentDim), conf.ScentDecay, conf.ScentDiffusion, conf.RemovedItemLifetime, conf.ItemTypes),
		agents:     NewAgentTable(),
		semaphores: NewSemaphoreTable(),
		rngSrc:     rngSrc,
		rng:        rand.New(rngSrc),
		closing:    make(chan struct{}),
	}
	sim.coordinator = NewCoordinator(sim.agents, sim.semaphores)
	sim.st = &stepper{sim: sim}
	var h Handler = NopHandler{}
	sim.handler.Store(&h)
	return sim, nil
}

// Handle installs h as the Simulator's step handler. A nil h resets to
// NopHandler.
func (sim *Simulator) Handle(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	sim.handler.Store(&h)
}

func (sim *Simulator) getHandler() Handler {
	return *sim.handler.Load()
}

// CurrentTick returns the simulator's current tick counter.
func (sim *Simulator) CurrentTick() int64 {
	sim.tickMu.Lock()
	defer sim.tickMu.Unlock()
	return sim.currentTick
}

// PatchCount returns the number of patches currently known to the store,
// including any still generating.
func (sim *Simulator) PatchCount() int { return sim.patchStore.Count() }

// SetPatchCache installs an external lookaside cache of generated patches,
// e.g. a disk-backed store, consulted before the field sampler runs. It must
// be called before the simulator generates any patch (i.e. immediately after
// construction and before any agent is added or Load is used to resume from
// a snapshot).
func (sim *Simulator) SetPatchCache(cache PatchCache) { sim.patchStore.SetCache(cache) }

// Registry returns the simulator's energy-function registry.
func (sim *Simulator) Registry() *Registry { return sim.registry }

// Config returns a copy of the simulator's configuration.
func (sim *Simulator) Config() Config { return sim.conf }

// agentsInPatch reports whether any agent currently occupies the patch at
// coord, used by PatchStore.GetOrGenerate to decide whether a newly
// generated non-requested patch in the batch should also be fixed.
func (sim *Simulator) agentsInPatch(coord PatchCoord) bool {
	for _, a := range sim.agents.All() {
		c, _ := a.Position().Split(sim.conf.PatchSize)
		if c == coord {
			return true
		}
	}
	return false
}

// neighborPatchLookup returns a patchLookup bound to coord, used by the
// scent diffuser to resolve cross-boundary neighbours.
func (sim *Simulator) neighborPatchLookup(coord PatchCoord) patchLookup {
	return func(dx, dy int64) *Patch {
		p, _ := sim.patchStore.Get(PatchCoord{coord.X + dx, coord.Y + dy})
		return p
	}
}

// Step runs exactly one tick if quorum is currently met, otherwise it blocks
// until ctx is cancelled or quorum is reached. On step-time failure the
// Handler's StepFailed is invoked and Step returns the error without
// advancing the tick.
func (sim *Simulator) Step(ctx context.Context) error {
	if err := sim.coordinator.WaitForQuorum(ctx); err != nil {
		return err
	}
	if err := sim.st.runTick(); err != nil {
		tick := sim.CurrentTick()
		sim.conf.Log.Error("step aborted without advancing tick", "tick", tick, "err", err)
		sim.getHandler().StepFailed(sim, &StepFailure{Tick: tick, Err: err})
		return err
	}
	return nil
}

// Run repeatedly calls Step until ctx is cancelled, the long-lived driving
// loop for a hosted simulator. There is no wall-clock ticker: ticks are
// quorum-gated rather than timer-gated.
func (sim *Simulator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sim.closing:
			return nil
		default:
		}
		if err := sim.Step(ctx); err != nil {
			return err
		}
	}
}

// Close shuts down the simulator. It is safe to call multiple times.
func (sim *Simulator) Close() error {
	sim.once.Do(func() { close(sim.closing) })
	return nil
}

// --- RPC surface ---

// AddAgentResult is the add_agent RPC response.
type AddAgentResult struct {
	AgentID int64
	State   AgentState
}

// AgentState is the wire-friendly snapshot of one agent, the payload of
// add_agent/get_agent_states/step broadcasts.
type AgentState struct {
	ID             int64
	Position       Position
	Direction      Direction
	Scent          []float64
	Vision         []float64
	CollectedItems []int
	Active         bool
}

func snapshotAgent(a *Agent) AgentState {
	return AgentState{
		ID:             a.ID,
		Position:       a.Position(),
		Direction:      a.Direction(),
		Scent:          a.Scent(),
		Vision:         a.Vision(),
		CollectedItems: a.CollectedItems(),
		Active:         a.Active(),
	}
}

// AddAgent registers a new agent at the origin facing Up and returns its id
// and initial state.
func (sim *Simulator) AddAgent() (AddAgentResult, error) {
	sim.topMu.Lock()
	defer sim.topMu.Unlock()
	sim.worldMu.Lock()
	defer sim.worldMu.Unlock()
	a := sim.agents.Add(Position{}, Up, len(sim.conf.ItemTypes))
	if _, err := sim.patchStore.GetOrGenerate(PatchCoord{}, true, sim.sampler, sim.agentsInPatch, sim.CurrentTick()); err != nil {
		sim.agents.Remove(a.ID)
		return AddAgentResult{}, err
	}
	return AddAgentResult{AgentID: a.ID, State: snapshotAgent(a)}, nil
}

// RemoveAgent deregisters an agent.
func (sim *Simulator) RemoveAgent(id int64) error {
	sim.topMu.Lock()
	defer sim.topMu.Unlock()
	if !sim.agents.Remove(id) {
		return ErrUnknownAgent
	}
	sim.coordinator.Exclude(id)
	return nil
}

// AddSemaphore registers a new, unsignaled semaphore.
func (sim *Simulator) AddSemaphore() int64 {
	sim.topMu.Lock()
	defer sim.topMu.Unlock()
	return sim.semaphores.Add().ID
}

// RemoveSemaphore deregisters a semaphore.
func (sim *Simulator) RemoveSemaphore(id int64) error {
	sim.topMu.Lock()
	defer sim.topMu.Unlock()
	if !sim.semaphores.Remove(id) {
		return ErrUnknownSemaphore
	}
	sim.coordinator.NotifySemaphoreChanged()
	return nil
}

// SignalSemaphore marks a semaphore as having reported for this (and every
// subsequent) tick.
func (sim *Simulator) SignalSemaphore(id int64) error {
	s, ok := sim.semaphores.Get(id)
	if !ok {
		return ErrUnknownSemaphore
	}
	s.Signal()
	sim.coordinator.NotifySemaphoreChanged()
	return nil
}

// UnsignalSemaphore clears a semaphore's signaled state.
func (sim *Simulator) UnsignalSemaphore(id int64) error {
	s, ok := sim.semaphores.Get(id)
	if !ok {
		return ErrUnknownSemaphore
	}
	s.Unsignal()
	return nil
}

// GetSemaphores returns the id and signaled state of every semaphore.
func (sim *Simulator) GetSemaphores() []struct {
	ID       int64
	Signaled bool
} {
	all := sim.semaphores.All()
	out := make([]struct {
		ID       int64
		Signaled bool
	}, len(all))
	for i, s := range all {
		out[i] = struct {
			ID       int64
			Signaled bool
		}{s.ID, s.Signaled()}
	}
	return out
}

// Move queues a MOVE(direction, steps) action for agent id.
func (sim *Simulator) Move(id int64, dir Direction, steps int64) error {
	if !dir.Valid() || !sim.conf.AllowedMovementDirections[dir] {
		return ErrOutOfRange
	}
	if steps <= 0 || steps > sim.conf.MaxStepsPerMovement {
		return ErrOutOfRange
	}
	a, ok := sim.agents.Get(id)
	if !ok {
		return ErrUnknownAgent
	}
	if err := a.RequestAction(Action{Kind: ActionMove, Direction: dir, Steps: steps}); err != nil {
		return err
	}
	sim.coordinator.ReportAgent(id)
	return nil
}

// Turn queues a TURN(direction) action for agent id.
func (sim *Simulator) Turn(id int64, dir Direction) error {
	if !dir.Valid() || !sim.conf.AllowedTurnDirections[dir] {
		return ErrOutOfRange
	}
	a, ok := sim.agents.Get(id)
	if !ok {
		return ErrUnknownAgent
	}
	if err := a.RequestAction(Action{Kind: ActionTurn, Direction: dir}); err != nil {
		return err
	}
	sim.coordinator.ReportAgent(id)
	return nil
}

// NoOp queues a NO_OP action for agent id.
func (sim *Simulator) NoOp(id int64) error {
	if !sim.conf.NoOpAllowed {
		return fmt.Errorf("%w: no_op not allowed by configuration", ErrInvalidArgument)
	}
	a, ok := sim.agents.Get(id)
	if !ok {
		return ErrUnknownAgent
	}
	if err := a.RequestAction(Action{Kind: ActionNoOp}); err != nil {
		return err
	}
	sim.coordinator.ReportAgent(id)
	return nil
}

// SetActive sets an agent's active flag, including/excluding it from
// quorum's expected responders accordingly.
func (sim *Simulator) SetActive(id int64, active bool) error {
	a, ok := sim.agents.Get(id)
	if !ok {
		return ErrUnknownAgent
	}
	a.mu.Lock()
	a.active = active
	a.mu.Unlock()
	if active {
		sim.coordinator.Include(id)
	} else {
		sim.coordinator.Exclude(id)
	}
	return nil
}

// IsActive reports whether agent id is active.
func (sim *Simulator) IsActive(id int64) (bool, error) {
	a, ok := sim.agents.Get(id)
	if !ok {
		return false, ErrUnknownAgent
	}
	return a.Active(), nil
}

// NotifyDisconnected drops each given agent's pending-action obligation for
// the current tick, treating a client disconnect as an implicit no-op rather
// than stalling quorum indefinitely. Agents already marked inactive are
// unaffected (they are already excluded from expected responders).
func (sim *Simulator) NotifyDisconnected(agentIDs []int64) {
	for _, id := range agentIDs {
		if a, ok := sim.agents.Get(id); ok && a.Active() {
			sim.coordinator.ReportAgent(id)
		}
	}
}

// GetAgentIDs returns every registered agent id.
func (sim *Simulator) GetAgentIDs() []int64 { return sim.agents.IDs() }

// GetAgentStates returns the state of every id requested; unknown ids yield
// a zero-value AgentState with a false ok flag at the same index.
func (sim *Simulator) GetAgentStates(ids []int64) []struct {
	State AgentState
	OK    bool
} {
	out := make([]struct {
		State AgentState
		OK    bool
	}, len(ids))
	for i, id := range ids {
		if a, ok := sim.agents.Get(id); ok {
			out[i].State = snapshotAgent(a)
			out[i].OK = true
		}
	}
	return out
}

// PatchState is the get_map RPC response element for a single patch.
type PatchState struct {
	Coord PatchCoord
	Fixed bool
	Items []ItemInstance
	Scent []float64 // nil unless wantScent
	// Vision is the world-frame colour rendering of the patch: for each of
	// the n*n cells, the colour of the item occupying it (background zero
	// otherwise). Nil unless wantVision.
	Vision []float64
}

// GetMap returns the state of every generated patch whose coordinate falls
// within [bottomLeft, topRight] (inclusive), in patch-coordinate space.
func (sim *Simulator) GetMap(bottomLeft, topRight PatchCoord, wantScent, wantVision bool) []PatchState {
	sim.worldMu.RLock()
	defer sim.worldMu.RUnlock()
	n, colorDim := sim.conf.PatchSize, int64(sim.conf.ColorDim)
	var out []PatchState
	sim.patchStore.forEachReady(func(p *Patch) {
		if p.Coord.X < bottomLeft.X || p.Coord.X > topRight.X || p.Coord.Y < bottomLeft.Y || p.Coord.Y > topRight.Y {
			return
		}
		ps := PatchState{Coord: p.Coord, Fixed: p.Fixed, Items: append([]ItemInstance(nil), p.Items...)}
		if wantScent {
			ps.Scent = append([]float64(nil), p.Scent...)
		}
		if wantVision {
			ps.Vision = make([]float64, n*n*colorDim)
			for _, it := range p.Items {
				if !it.Alive() {
					continue
				}
				_, cell := it.Location.Split(n)
				copy(ps.Vision[(cell.Y*n+cell.X)*colorDim:], sim.conf.ItemTypes[it.Type].Color)
			}
		}
		out = append(out, ps)
	})
	return out
}
