package world

// Patch is an n x n subgrid of the infinite world, the unit of generation
// and scent bookkeeping. A Patch is owned exclusively by the
// PatchStore; the field sampler only ever holds a transient reference to one
// during generation (released before PatchStore.GetOrGenerate returns).
type Patch struct {
	Coord PatchCoord

	// Fixed is true once any agent has touched or observed this patch,
	// after which the field sampler may never resample it again.
	Fixed bool

	// Items holds both alive and ghost (recently removed) instances located
	// anywhere within this patch.
	Items []ItemInstance

	// Scent is a flattened n*n*scentDim grid; cell (x,y)'s scent vector
	// starts at Scent[(y*n+x)*scentDim].
	Scent []float64

	// LastScentUpdateTick is the tick through which Scent has already been
	// caught up.
	LastScentUpdateTick int64

	// LastRegenerationTick records, per item type, the last tick at which a
	// regeneration pass ran against this patch.
	LastRegenerationTick []int64

	occupied map[Position]int // cell -> index into Items, alive instances only
}

func newPatch(coord PatchCoord, n, scentDim, itemTypeCount int64, currentTick int64) *Patch {
	return &Patch{
		Coord:                coord,
		Items:                nil,
		Scent:                make([]float64, n*n*scentDim),
		LastScentUpdateTick:  currentTick,
		LastRegenerationTick: make([]int64, itemTypeCount),
		occupied:             make(map[Position]int),
	}
}

// newPatchFromCache reconstructs a patch from a previously cached item
// layout, skipping the field sampler entirely. The scent grid and
// regeneration bookkeeping start fresh, exactly as if the patch had just been
// generated: scent is cheap to catch up from empty and regeneration timers
// resetting simply means the first regeneration pass after a reload runs a
// little early.
func newPatchFromCache(coord PatchCoord, n, scentDim, itemTypeCount int64, entry PatchCacheEntry) *Patch {
	p := newPatch(coord, n, scentDim, itemTypeCount, 0)
	p.Fixed = entry.Fixed
	p.Items = append([]ItemInstance(nil), entry.Items...)
	for idx, it := range p.Items {
		if it.Alive() {
			p.occupied[it.Location] = idx
		}
	}
	return p
}

// cellIndex returns the flattened scent-grid offset of the scent vector for
// local cell coordinates (x,y), 0 <= x,y < n.
func cellIndex(x, y, n, scentDim int64) int64 { return (y*n + x) * scentDim }

// ScentAt returns the scent vector at local cell (x,y) within the patch.
func (p *Patch) ScentAt(x, y, n, scentDim int64) []float64 {
	i := cellIndex(x, y, n, scentDim)
	return p.Scent[i : i+scentDim]
}

// ItemAt returns the alive item instance occupying the absolute position
// pos, if any.
func (p *Patch) ItemAt(pos Position) (ItemInstance, bool) {
	idx, ok := p.occupied[pos]
	if !ok {
		return ItemInstance{}, false
	}
	return p.Items[idx], true
}

// addItem appends a new alive instance and indexes it by position.
func (p *Patch) addItem(inst ItemInstance) {
	p.occupied[inst.Location] = len(p.Items)
	p.Items = append(p.Items, inst)
}

// removeItem marks the alive instance at pos as a ghost as of deletionTick.
// It is a no-op if pos has no alive instance.
func (p *Patch) removeItem(pos Position, deletionTick int64) (ItemInstance, bool) {
	idx, ok := p.occupied[pos]
	if !ok {
		return ItemInstance{}, false
	}
	p.Items[idx].DeletionTick = deletionTick
	delete(p.occupied, pos)
	return p.Items[idx], true
}

// deleteItemEntirely removes an instance that was never committed, as
// opposed to removeItem which retains it as a ghost. Only valid for alive
// instances.
func (p *Patch) deleteItemEntirely(pos Position) bool {
	idx, ok := p.occupied[pos]
	if !ok {
		return false
	}
	last := len(p.Items) - 1
	p.Items[idx] = p.Items[last]
	p.Items = p.Items[:last]
	delete(p.occupied, pos)
	if idx != last {
		p.occupied[p.Items[idx].Location] = idx
	}
	return true
}

// pruneExpiredGhosts drops ghost instances whose scent contribution has
// fully decayed, keeping Patch.Items from growing without bound.
func (p *Patch) pruneExpiredGhosts(currentTick, removedItemLifetime int64) {
	kept := make([]ItemInstance, 0, len(p.Items))
	for _, it := range p.Items {
		if it.GhostExpired(currentTick, removedItemLifetime) {
			continue
		}
		kept = append(kept, it)
	}
	p.Items = kept
	// Pruning can shift the index of every alive instance, so occupied must
	// be rebuilt rather than patched in place.
	clear(p.occupied)
	for idx, it := range p.Items {
		if it.Alive() {
			p.occupied[it.Location] = idx
		}
	}
}
