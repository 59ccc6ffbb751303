package world

import (
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// ActionKind is the requested action an agent has queued for the current
// tick.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionMove
	ActionTurn
	ActionNoOp
)

// Action describes a single queued action.
type Action struct {
	Kind      ActionKind
	Direction Direction
	Steps     int64
}

// Agent is a single embodied participant in the simulation. All
// mutation of an Agent's fields happens through AgentTable methods, which
// serialise access via the agent's own mutex.
type Agent struct {
	ID int64

	mu sync.Mutex

	position  Position
	direction Direction

	currentScent  []float64
	currentVision []float64

	collectedItems []int

	requestedAction Action
	active          bool
}

// Position returns the agent's current position.
func (a *Agent) Position() Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Direction returns the agent's current facing direction.
func (a *Agent) Direction() Direction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.direction
}

// Active reports whether the agent currently participates in quorum.
func (a *Agent) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Scent returns a copy of the agent's last-computed scent perception.
func (a *Agent) Scent() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.currentScent))
	copy(out, a.currentScent)
	return out
}

// Vision returns a copy of the agent's last-computed vision perception.
func (a *Agent) Vision() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.currentVision))
	copy(out, a.currentVision)
	return out
}

// CollectedItems returns a read-only snapshot of the agent's inventory,
// copied out rather than handed out live.
func (a *Agent) CollectedItems() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.collectedItems))
	copy(out, a.collectedItems)
	return out
}

// RequestAction attempts to queue action for this tick. It fails with
// ErrActionPending if an action is already queued and not yet consumed by
// the stepper.
func (a *Agent) RequestAction(action Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return ErrUnknownAgent
	}
	if a.requestedAction.Kind != ActionNone {
		return ErrActionPending
	}
	a.requestedAction = action
	return nil
}

// hasPendingAction reports whether the agent has a queued action.
func (a *Agent) hasPendingAction() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requestedAction.Kind != ActionNone
}

// consumeAction returns and clears the agent's pending action, defaulting to
// a no-op if none was queued.
func (a *Agent) consumeAction() Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	act := a.requestedAction
	a.requestedAction = Action{}
	if act.Kind == ActionNone {
		act = Action{Kind: ActionNoOp}
	}
	return act
}

// AgentTable stores every agent known to the simulator, keyed by id, and
// produces perceptions. Structural changes (add/remove) take
// the table's own lock; per-agent mutation goes through the Agent's mutex,
// simulator/table lock is always acquired above any per-agent lock.
type AgentTable struct {
	mu     sync.RWMutex
	agents map[int64]*Agent
	nextID int64
}

// NewAgentTable returns an empty table.
func NewAgentTable() *AgentTable {
	return &AgentTable{agents: make(map[int64]*Agent)}
}

// Add creates and registers a new active agent at pos facing dir, with an
// empty inventory sized for itemTypeCount item types.
func (t *AgentTable) Add(pos Position, dir Direction, itemTypeCount int) *Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	a := &Agent{
		ID:             id,
		position:       pos,
		direction:      dir,
		collectedItems: make([]int, itemTypeCount),
		active:         true,
	}
	t.agents[id] = a
	return a
}

// Remove deletes the agent with the given id. It reports whether the agent
// existed.
func (t *AgentTable) Remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.agents[id]; !ok {
		return false
	}
	delete(t.agents, id)
	return true
}

// Get returns the agent with the given id.
func (t *AgentTable) Get(id int64) (*Agent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.agents[id]
	return a, ok
}

// IDs returns every agent id currently registered, in ascending order.
func (t *AgentTable) IDs() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int64, 0, len(t.agents))
	for id := range t.agents {
		out = append(out, id)
	}
	sortInt64s(out)
	return out
}

// All returns a snapshot slice of every agent, in ascending id order. Used
// by the stepper, which needs a stable iteration order for deterministic
// collision resolution.
func (t *AgentTable) All() []*Agent {
	t.mu.RLock()
	out := make([]*Agent, 0, len(t.agents))
	for _, a := range t.agents {
		out = append(out, a)
	}
	t.mu.RUnlock()
	sortAgentsByID(out)
	return out
}

func sortInt64s(s []int64) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

func sortAgentsByID(s []*Agent) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

// facingVector returns the unit direction vector for d in the Vec2 frame
// used for field-of-view and ray-casting math.
func facingVector(d Direction) mgl64.Vec2 {
	v := d.Vector()
	return mgl64.Vec2{float64(v.X), float64(v.Y)}
}

// computePerception fills in an agent's current scent and vision based on
// its current position and direction, resolving scent and item colour
// through the supplied accessors. scentAt and itemAt must reflect a
// scent-diffuser-caught-up view of the world as of the current tick.
func computePerception(a *Agent, cfg Config, scentAt func(Position) []float64, itemAt func(Position) (ItemInstance, bool)) {
	a.mu.Lock()
	pos, dir := a.position, a.direction
	a.mu.Unlock()

	scent := scentAt(pos)
	vision := computeVision(pos, dir, cfg, itemAt)

	a.mu.Lock()
	a.currentScent = scent
	a.currentVision = vision
	a.mu.Unlock()
}

// computeVision renders the (2V+1)^2 color grid around pos in the agent's
// relative frame: facing direction becomes +y, the grid rotated in 90
// degree increments accordingly. Each cell's color is the background plus every item present,
// attenuated by per-ray occlusion and zeroed outside the configured field
// of view.
func computeVision(pos Position, dir Direction, cfg Config, itemAt func(Position) (ItemInstance, bool)) []float64 {
	V := cfg.VisionRange
	side := 2*V + 1
	colorDim := int64(cfg.ColorDim)
	out := make([]float64, side*side*colorDim)
	facing := facingVector(dir)
	halfFOV := cfg.FieldOfView / 2

	for ry := int64(-V); ry <= V; ry++ {
		for rx := int64(-V); rx <= V; rx++ {
			worldPos := rotateRelativeToWorld(pos, dir, rx, ry)
			idx := ((ry+V)*side + (rx + V)) * colorDim
			cell := out[idx : idx+colorDim]

			bearing := mgl64.Vec2{float64(worldPos.X - pos.X), float64(worldPos.Y - pos.Y)}
			if bearing.Len() > 0 {
				cosAngle := bearing.Normalize().Dot(facing)
				cosAngle = math.Max(-1, math.Min(1, cosAngle))
				angle := math.Acos(cosAngle)
				if angle > halfFOV {
					continue
				}
			}
			transmittance := castVisionRay(pos, worldPos, cfg, itemAt)
			if inst, ok := itemAt(worldPos); ok {
				color := cfg.ItemTypes[inst.Type].Color
				for c := int64(0); c < colorDim && c < int64(len(color)); c++ {
					cell[c] += transmittance * color[c]
				}
			}
		}
	}
	return out
}

// rotateRelativeToWorld maps an agent-relative offset (rx "right", ry
// "forward") to an absolute world position given the agent's facing.
func rotateRelativeToWorld(pos Position, dir Direction, rx, ry int64) Position {
	var fx, fy, ux, uy int64 // forward vector, "up"/right vector in world space
	switch dir {
	case Up:
		fx, fy, ux, uy = 0, 1, 1, 0
	case Down:
		fx, fy, ux, uy = 0, -1, -1, 0
	case Left:
		fx, fy, ux, uy = -1, 0, 0, 1
	case Right:
		fx, fy, ux, uy = 1, 0, 0, -1
	}
	return Position{pos.X + ux*rx + fx*ry, pos.Y + uy*rx + fy*ry}
}

// castVisionRay walks the line of sight from from to to in unit steps and
// returns the accumulated transmittance after applying each occluding
// item's (1 - visual_occlusion) factor. The
// cell at to itself is excluded: an item occupying the target cell tints
// that cell's color but does not occlude itself.
func castVisionRay(from, to Position, cfg Config, itemAt func(Position) (ItemInstance, bool)) float64 {
	dx, dy := to.X-from.X, to.Y-from.Y
	steps := maxAbs(dx, dy)
	if steps == 0 {
		return 1
	}
	transmittance := 1.0
	for i := int64(1); i < steps; i++ {
		x := from.X + dx*i/steps
		y := from.Y + dy*i/steps
		if inst, ok := itemAt(Position{x, y}); ok {
			transmittance *= 1 - cfg.ItemTypes[inst.Type].VisualOcclusion
		}
	}
	return transmittance
}

func maxAbs(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
