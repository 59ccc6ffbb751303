package world

// ItemType describes an immutable species of item placed into the world by
// the field sampler. ItemType values are validated and frozen at Simulator
// construction (see Config.New); the catalog cannot be mutated afterwards.
type ItemType struct {
	// Name identifies the item type in logs, the RPC surface, and the
	// snapshot codec. Names must be unique within a Config.
	Name string
	// Scent is the scent vector contributed by a live instance of this type
	// to every cell it occupies, and (decayed) by its ghosts. len(Scent)
	// must equal Config.ScentDim.
	Scent []float64
	// Color is the color contributed to vision for a live instance of this
	// type. len(Color) must equal Config.ColorDim.
	Color []float64
	// RequiredItemCounts and RequiredItemCosts gate automatic pickup: an
	// agent may pick up an instance of this type only if its current
	// inventory holds at least RequiredItemCounts[i] of item type i; on
	// pickup RequiredItemCosts[i] is subtracted from the agent's inventory
	// for each i. Both slices have length equal to the number of item types
	// in the catalog.
	RequiredItemCounts []int
	RequiredItemCosts  []int
	// BlocksMovement marks cells occupied by a live instance of this type as
	// impassable to agent movement (see stepper.go resolveMovement).
	BlocksMovement bool
	// VisualOcclusion in [0,1] is the fraction of light blocked per unit ray
	// passing through a cell occupied by a live instance (see
	// agent.go castVisionRay).
	VisualOcclusion float64
	// Intensity, Interaction and Regeneration are energy function
	// references resolved through the Registry at Simulator construction.
	// Interaction has one entry per item type in the catalog (including
	// this one), indexed the same way as RequiredItemCounts.
	Intensity    FuncRef
	Interaction  []FuncRef
	Regeneration FuncRef
	// Lifetime is the number of ticks after creation at which a live
	// instance is automatically removed (as if by the stepper). Zero means
	// the instance is eternal.
	Lifetime int64
}

// ItemInstance is a single placed (or recently removed) item in a patch.
type ItemInstance struct {
	// Type indexes into the catalog the instance belongs to.
	Type int
	// Location is the instance's absolute world position.
	Location Position
	// CreationTick is the simulator tick at which the instance was placed.
	CreationTick int64
	// DeletionTick is the tick at which the instance was removed, or 0 if it
	// is still alive. A removed instance is retained as a "ghost" for scent
	// purposes until current_tick - DeletionTick >= RemovedItemLifetime.
	DeletionTick int64
}

// Alive reports whether the instance has not been removed.
func (i ItemInstance) Alive() bool { return i.DeletionTick == 0 }

// GhostExpired reports whether a removed instance's ghost scent contribution
// has fully decayed by currentTick, given the configured ghost lifetime.
func (i ItemInstance) GhostExpired(currentTick, removedItemLifetime int64) bool {
	if i.Alive() {
		return false
	}
	return currentTick-i.DeletionTick >= removedItemLifetime
}

// Age returns the number of ticks since a ghost's removal, as of currentTick.
// Age is only meaningful for removed instances.
func (i ItemInstance) Age(currentTick int64) int64 {
	if i.Alive() {
		return 0
	}
	age := currentTick - i.DeletionTick
	if age < 0 {
		age = 0
	}
	return age
}
