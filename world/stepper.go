package world

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// moveRequest is one agent's resolved movement proposal for the current
// tick, built from its queued Action.
type moveRequest struct {
	agent  *Agent
	origin Position
	target Position
}

// stepper orchestrates a single tick: action admission has already happened
// via Agent.RequestAction/Coordinator by the time runTick is called; runTick
// performs conflict resolution, movement, patch materialisation, pickup,
// regeneration, tick advance, perception and the step callback.
type stepper struct {
	sim *Simulator
}

// runTick performs one full tick. It returns an error only for step-time
// failures ; on error, no patch inserts are committed (best-effort:
// committed-this-tick inserts are represented as statusFailed slots that a
// future GetOrGenerate will retry) and the tick counter is not advanced.
func (st *stepper) runTick() error {
	sim := st.sim
	sim.worldMu.Lock()
	defer sim.worldMu.Unlock()
	start := time.Now()
	agents := sim.agents.All()

	actions := make(map[int64]Action, len(agents))
	for _, a := range agents {
		actions[a.ID] = a.consumeAction()
	}

	requests := st.resolveMovement(agents, actions)
	resolved := st.resolveCollisions(requests)

	for _, r := range resolved {
		r.agent.mu.Lock()
		r.agent.position = r.target
		r.agent.mu.Unlock()
	}

	materializeTick := sim.CurrentTick() + 1
	for _, r := range resolved {
		if err := st.materializePatchesAround(r.target, materializeTick); err != nil {
			return err
		}
	}
	for _, a := range agents {
		if err := st.materializePatchesAround(a.Position(), materializeTick); err != nil {
			return err
		}
	}

	for _, r := range resolved {
		if r.target != r.origin {
			st.tryPickup(r.agent)
		}
	}
	for _, a := range agents {
		if act := actions[a.ID]; act.Kind == ActionTurn {
			st.applyTurn(a, act.Direction)
		}
	}

	sim.tickMu.Lock()
	sim.currentTick++
	tick := sim.currentTick
	sim.tickMu.Unlock()

	st.expireLifetimes(tick)
	st.runRegeneration(tick)
	st.prunePatchGhosts(tick)

	for _, a := range agents {
		st.computeAgentPerception(a, tick)
	}

	if h := sim.getHandler(); h != nil {
		h.Stepped(sim, agents)
	}

	if d := time.Since(start); d > time.Second {
		sim.conf.Log.Warn("tick took longer than a second", "tick", tick, "duration", d)
	}

	sim.coordinator.Reset()
	return nil
}

// resolveMovement turns each agent's queued action into a target cell,
// truncating at the last free cell if a blocking item is encountered along
// the path.
func (st *stepper) resolveMovement(agents []*Agent, actions map[int64]Action) []moveRequest {
	out := make([]moveRequest, 0, len(agents))
	for _, a := range agents {
		act := actions[a.ID]
		if act.Kind != ActionMove {
			continue
		}
		origin := a.Position()
		step := act.Direction.Vector()
		target := origin
		for i := int64(0); i < act.Steps; i++ {
			next := target.Add(step)
			if st.cellBlocked(next) {
				break
			}
			target = next
		}
		out = append(out, moveRequest{agent: a, origin: origin, target: target})
	}
	return out
}

// cellBlocked reports whether pos is currently occupied by an item whose
// type blocks movement. Unmaterialised patches never block movement.
func (st *stepper) cellBlocked(pos Position) bool {
	coord, _ := pos.Split(st.sim.conf.PatchSize)
	p, ok := st.sim.patchStore.Get(coord)
	if !ok {
		return false
	}
	inst, ok := p.ItemAt(pos)
	if !ok {
		return false
	}
	return st.sim.conf.ItemTypes[inst.Type].BlocksMovement
}

// resolveCollisions applies the configured CollisionPolicy to a batch of
// movement requests that may target the same cell.
func (st *stepper) resolveCollisions(requests []moveRequest) []moveRequest {
	switch st.sim.conf.CollisionPolicy {
	case NoCollisions:
		return requests
	case FirstComeFirstServe:
		sort.Slice(requests, func(i, j int) bool { return requests[i].agent.ID < requests[j].agent.ID })
		return st.firstWriterWins(requests)
	case RandomCollision:
		shuffled := append([]moveRequest(nil), requests...)
		st.sim.rngMu.Lock()
		st.sim.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		st.sim.rngMu.Unlock()
		return st.firstWriterWins(shuffled)
	default:
		return requests
	}
}

// firstWriterWins iterates requests in the order given and lets the first
// request to target a given cell win it; later requests targeting an
// already-claimed cell stay at their origin, consuming their tick as a loss.
// Two movers may still share a cell if nothing there blocks movement;
// collision only excludes two agents from ending on the exact same target
// cell when that cell was the subject of competing claims.
func (st *stepper) firstWriterWins(requests []moveRequest) []moveRequest {
	claimed := make(map[Position]int64, len(requests))
	out := make([]moveRequest, len(requests))
	for i, r := range requests {
		if owner, ok := claimed[r.target]; ok && owner != r.agent.ID {
			out[i] = moveRequest{agent: r.agent, origin: r.origin, target: r.origin}
			continue
		}
		claimed[r.target] = r.agent.ID
		out[i] = r
	}
	return out
}

// materializePatchesAround ensures pos's patch and its 8 neighbours are
// generated and fixed.
func (st *stepper) materializePatchesAround(pos Position, tick int64) error {
	coord, _ := pos.Split(st.sim.conf.PatchSize)
	for dy := int64(-1); dy <= 1; dy++ {
		for dx := int64(-1); dx <= 1; dx++ {
			c := PatchCoord{coord.X + dx, coord.Y + dy}
			if _, err := st.sim.patchStore.GetOrGenerate(c, true, st.sim.sampler, st.sim.agentsInPatch, tick); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyTurn rotates an agent's facing in place.
func (st *stepper) applyTurn(a *Agent, dir Direction) {
	a.mu.Lock()
	a.direction = dir
	a.mu.Unlock()
}

// tryPickup checks the item at the agent's current position and, if the
// agent's inventory satisfies its required-item gate, removes the instance
// (turning it into a ghost) and credits the agent's inventory.
func (st *stepper) tryPickup(a *Agent) {
	pos := a.Position()
	coord, _ := pos.Split(st.sim.conf.PatchSize)
	p, ok := st.sim.patchStore.Get(coord)
	if !ok {
		return
	}
	inst, ok := p.ItemAt(pos)
	if !ok {
		return
	}
	itemType := st.sim.conf.ItemTypes[inst.Type]

	a.mu.Lock()
	satisfied := true
	for i, need := range itemType.RequiredItemCounts {
		if a.collectedItems[i] < need {
			satisfied = false
			break
		}
	}
	if satisfied {
		for i, cost := range itemType.RequiredItemCosts {
			a.collectedItems[i] -= cost
		}
		a.collectedItems[inst.Type]++
	}
	a.mu.Unlock()

	if satisfied {
		st.sim.tickMu.Lock()
		tick := st.sim.currentTick
		st.sim.tickMu.Unlock()
		p.removeItem(pos, tick+1)
	}
}

// expireLifetimes removes, as ghosts, every live item instance whose type
// carries a non-zero Lifetime and whose age (tick - CreationTick) has reached
// it. Only fixed patches are scanned: non-fixed patches are not yet visible
// to any agent and may still be freely resampled.
func (st *stepper) expireLifetimes(tick int64) {
	sim := st.sim
	hasLifetimes := false
	for _, it := range sim.conf.ItemTypes {
		if it.Lifetime > 0 {
			hasLifetimes = true
			break
		}
	}
	if !hasLifetimes {
		return
	}
	sim.patchStore.forEachReady(func(p *Patch) {
		if !p.Fixed {
			return
		}
		var expired []Position
		for _, it := range p.Items {
			if !it.Alive() {
				continue
			}
			lifetime := sim.conf.ItemTypes[it.Type].Lifetime
			if lifetime > 0 && tick-it.CreationTick >= lifetime {
				expired = append(expired, it.Location)
			}
		}
		for _, pos := range expired {
			p.removeItem(pos, tick)
		}
	})
}

// prunePatchGhosts drops ghost instances whose scent contribution has fully
// decayed from every ready patch, keeping Patch.Items from growing without
// bound over a long-running simulation.
func (st *stepper) prunePatchGhosts(tick int64) {
	sim := st.sim
	sim.patchStore.forEachReady(func(p *Patch) {
		p.pruneExpiredGhosts(tick, sim.conf.RemovedItemLifetime)
	})
}

// runRegeneration runs a short MH pass restricted to births of each
// regenerating item type, over every fixed patch whose last regeneration
// touch is stale, intensity scaled by the regeneration value.
func (st *stepper) runRegeneration(tick int64) {
	sim := st.sim
	for typ, it := range sim.conf.ItemTypes {
		regen, _, err := sim.registry.Regeneration(it.Regeneration)
		if err != nil {
			continue
		}
		sim.patchStore.forEachReady(func(p *Patch) {
			if !p.Fixed {
				return
			}
			if typ >= len(p.LastRegenerationTick) {
				return
			}
			if tick-p.LastRegenerationTick[typ] < regenerationInterval {
				return
			}
			p.LastRegenerationTick[typ] = tick
			scale := regen(Position{p.Coord.X * sim.conf.PatchSize, p.Coord.Y * sim.conf.PatchSize}, tick, nil)
			if scale <= 0 {
				return
			}
			st.regenerateBirths(p, typ, scale, tick)
		})
	}
}

// regenerationInterval is the number of ticks between regeneration attempts
// against a single fixed patch.
const regenerationInterval = 20

// regenerateBirths runs a handful of birth-only MH proposals for item type
// typ within patch p, with the type's intensity function scaled by scale.
func (st *stepper) regenerateBirths(p *Patch, typ int, scale float64, tick int64) {
	sim := st.sim
	rng := rand.New(rand.NewPCG(perPatchSeed(sim.conf.RandomSeed, p.Coord)^uint64(typ), uint64(p.LastRegenerationTick[typ])))
	intensityFn, _, _, err := sim.registry.Intensity(sim.conf.ItemTypes[typ].Intensity)
	if err != nil {
		return
	}
	n := sim.conf.PatchSize
	const attempts = 4
	for i := 0; i < attempts; i++ {
		x, y := rng.Int64N(n), rng.Int64N(n)
		pos := Position{p.Coord.X*n + x, p.Coord.Y*n + y}
		if _, occupied := p.ItemAt(pos); occupied {
			continue
		}
		L := scale * intensityFn(pos, nil)
		if rng.Float64() < math.Min(1, math.Exp(L)) {
			p.addItem(ItemInstance{Type: typ, Location: pos, CreationTick: tick})
		}
	}
}

// computeAgentPerception recomputes an agent's scent and vision for the new
// tick, catching up the scent of the patch that contains the agent's
// position; no other patch is caught up here.
func (st *stepper) computeAgentPerception(a *Agent, tick int64) {
	sim := st.sim
	computePerception(a, sim.conf, func(pos Position) []float64 {
		coord, local := pos.Split(sim.conf.PatchSize)
		p, ok := sim.patchStore.Get(coord)
		if !ok {
			return make([]float64, sim.conf.ScentDim)
		}
		sim.diffuser.CatchUp(p, tick, sim.neighborPatchLookup(coord))
		return append([]float64(nil), p.ScentAt(local.X, local.Y, sim.conf.PatchSize, int64(sim.conf.ScentDim))...)
	}, func(pos Position) (ItemInstance, bool) {
		coord, _ := pos.Split(sim.conf.PatchSize)
		p, ok := sim.patchStore.Get(coord)
		if !ok {
			return ItemInstance{}, false
		}
		return p.ItemAt(pos)
	})
}
