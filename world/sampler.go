package world

import (
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

// SamplerMode selects between the two MH update schemes a FieldSampler can
// run.
type SamplerMode uint8

const (
	// ModeMetropolisHastings runs the birth/death proposal scheme.
	ModeMetropolisHastings SamplerMode = iota
	// ModeGibbs runs the four-colour interleaved-quadrant conditional
	// sampling scheme.
	ModeGibbs
)

// logCache memoizes log(k) for small non-negative integers k so MH and Gibbs
// sweeps don't repeatedly recompute log(itemTypeCount) and log(n) per cell.
type logCache struct {
	vals []float64
}

const logCacheSize = 256

func newLogCache() *logCache {
	c := &logCache{vals: make([]float64, logCacheSize)}
	for i := range c.vals {
		c.vals[i] = math.Log(float64(i))
	}
	return c
}

func (c *logCache) log(k int) float64 {
	if k >= 0 && k < len(c.vals) {
		return c.vals[k]
	}
	return math.Log(float64(k))
}

// logSumExp combines a and b via log(exp(a)+exp(b)) using the standard
// shift-by-max trick for numeric stability.
func logSumExp(a, b float64) float64 {
	m := math.Max(a, b)
	if math.IsInf(m, -1) {
		return m
	}
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// normalizeExp turns a slice of unnormalised log-weights into a probability
// distribution via the shift-by-max log-sum-exp trick, returning the
// normalised (linear-space) weights in place.
func normalizeExp(logWeights []float64) []float64 {
	if len(logWeights) == 0 {
		return logWeights
	}
	m := logWeights[0]
	for _, v := range logWeights[1:] {
		if v > m {
			m = v
		}
	}
	sum := 0.0
	for i, v := range logWeights {
		e := math.Exp(v - m)
		logWeights[i] = e
		sum += e
	}
	if sum > 0 {
		for i := range logWeights {
			logWeights[i] /= sum
		}
	}
	return logWeights
}

// FieldSampler runs Metropolis-Hastings (or Gibbs) sweeps over newly
// generated patches under the catalog's per-item intensity and pairwise
// interaction energy functions. A FieldSampler is stateless
// across calls apart from its sampler cache; it is safe for concurrent use
// by multiple batches as long as each batch's patches are disjoint (which
// PatchStore.GetOrGenerate guarantees by construction).
type FieldSampler struct {
	catalog       []ItemType
	registry      *Registry
	n             int64
	scentDim      int64
	mode          SamplerMode
	mcmcSweeps    int
	seed          uint64
	interactionDT bool // true if all interaction functions are time-independent

	// stationaryTables[t*K+u] precomputes the interaction energy of the
	// ordered item-type pair (t, u) by displacement, for displacements
	// within [-2n, 2n]^2 (the sampler's single largest hot-path read);
	// nil for pairs whose interaction function is not stationary. Indexed
	// (dy+2n)*(4n+1) + (dx+2n).
	stationaryTables [][]float64
	tableSide        int64 // 4n+1
	logs             *logCache
}

// NewFieldSampler builds a sampler for the given catalog and patch geometry.
// It returns an error if any catalog entry's energy function references
// fail to resolve against registry.
func NewFieldSampler(catalog []ItemType, registry *Registry, n, scentDim int64, mode SamplerMode, mcmcSweeps int, seed uint64) (*FieldSampler, error) {
	fs := &FieldSampler{
		catalog:    catalog,
		registry:   registry,
		n:          n,
		scentDim:   scentDim,
		mode:       mode,
		mcmcSweeps: mcmcSweeps,
		seed:       seed,
		logs:       newLogCache(),
	}
	if err := fs.buildStationaryTables(); err != nil {
		return nil, err
	}
	return fs, nil
}

// resolved bundles the resolved callables for one item type, cached per
// GenerateBatch call to avoid re-resolving FuncRefs on every cell visit.
type resolved struct {
	intensity   IntensityFunc
	interaction []InteractionFunc
}

func (fs *FieldSampler) resolveAll() ([]resolved, error) {
	out := make([]resolved, len(fs.catalog))
	for i, t := range fs.catalog {
		intensity, _, _, err := fs.registry.Intensity(t.Intensity)
		if err != nil {
			return nil, err
		}
		inter := make([]InteractionFunc, len(t.Interaction))
		for j, ref := range t.Interaction {
			fn, _, _, err := fs.registry.Interaction(ref)
			if err != nil {
				return nil, err
			}
			inter[j] = fn
		}
		out[i] = resolved{intensity: intensity, interaction: inter}
	}
	return out, nil
}

// buildStationaryTables evaluates every stationary interaction function once
// per displacement in [-2n, 2n]^2 so sweeps read a table instead of calling
// the function per candidate pair. Boundary effects beyond 2n are out of a
// quadrant neighbourhood's reach, so the table covers every displacement a
// sweep can produce.
func (fs *FieldSampler) buildStationaryTables() error {
	k := len(fs.catalog)
	side := 4*fs.n + 1
	fs.tableSide = side
	fs.stationaryTables = make([][]float64, k*k)
	for t, it := range fs.catalog {
		for u, ref := range it.Interaction {
			fn, stationary, _, err := fs.registry.Interaction(ref)
			if err != nil {
				return err
			}
			if !stationary {
				continue
			}
			tbl := make([]float64, side*side)
			for dy := -2 * fs.n; dy <= 2*fs.n; dy++ {
				for dx := -2 * fs.n; dx <= 2*fs.n; dx++ {
					tbl[(dy+2*fs.n)*side+(dx+2*fs.n)] = fn(Position{dx, dy}, Position{}, nil)
				}
			}
			fs.stationaryTables[t*k+u] = tbl
		}
	}
	return nil
}

// interactionEnergy returns the pairwise energy of an item of type t at p1
// against one of type u at p2, preferring the precomputed stationary table
// and falling back to calling fn for non-stationary pairs or out-of-table
// displacements.
func (fs *FieldSampler) interactionEnergy(t, u int, p1, p2 Position, fn InteractionFunc) float64 {
	d := p1.Sub(p2)
	if tbl := fs.stationaryTables[t*len(fs.catalog)+u]; tbl != nil &&
		d.X >= -2*fs.n && d.X <= 2*fs.n && d.Y >= -2*fs.n && d.Y <= 2*fs.n {
		return tbl[(d.Y+2*fs.n)*fs.tableSide+(d.X+2*fs.n)]
	}
	return fn(p1, p2, nil)
}

// perPatchSeed derives a deterministic seed for a patch's sampler state from
// the sampler's global seed and the patch coordinate, so that generating a
// patch is reproducible independent of what order its neighbours in a batch
// were visited.
func perPatchSeed(seed uint64, c PatchCoord) uint64 {
	h := seed
	h ^= splitmix64(uint64(c.X))
	h ^= splitmix64(uint64(c.Y) + 0x9E3779B97F4A7C15)
	return h
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return x
}

// GenerateBatch runs mcmcSweeps MH (or Gibbs) sweeps over the patches newly
// reserved for a generation batch, then commits their item placements.
// patches are freshly reserved (empty) slots; existing neighbouring patches
// (not part of this batch) are read from store for boundary interactions
// but never mutated. store must not have its map lock held by the caller.
func (fs *FieldSampler) GenerateBatch(store *PatchStore, coords []PatchCoord, slots []*patchSlot, tick int64) error {
	resolvedTypes, err := fs.resolveAll()
	if err != nil {
		return err
	}

	// Initialise empty patches for every reserved slot up front so that
	// neighbourhood lookups within the batch see a real (if empty) patch
	// rather than nil.
	batch := make(map[PatchCoord]*Patch, len(coords))
	for i, c := range coords {
		p := newPatch(c, fs.n, fs.scentDim, int64(len(fs.catalog)), tick)
		slots[i].patch = p
		batch[c] = p
	}

	// Snapshot each patch's cross-boundary neighbourhood before any sweep
	// starts. Batch-mates are still empty here, so the snapshots only carry
	// items from patches already resident in the store; taking them up front
	// keeps concurrent sweeps from reading a batch-mate mid-mutation and
	// keeps each patch's layout independent of its batch composition.
	neighs := make(map[PatchCoord][]neighborCell, len(coords))
	for _, c := range coords {
		neighs[c] = fs.neighborCells(store, batch, c)
	}

	group := new(errgroup.Group)
	for _, c := range coords {
		c := c
		group.Go(func() error {
			return fs.runSweeps(batch[c], c, neighs[c], resolvedTypes, tick)
		})
	}
	return group.Wait()
}

// runSweeps runs the configured number of MH (or Gibbs) sweeps against the
// single patch at coord within batch. tick is the simulation tick at which
// this patch is being materialised, stamped onto every committed item as its
// CreationTick.
func (fs *FieldSampler) runSweeps(p *Patch, coord PatchCoord, neigh []neighborCell, resolvedTypes []resolved, tick int64) error {
	rng := rand.New(rand.NewPCG(perPatchSeed(fs.seed, coord), perPatchSeed(fs.seed^0xA5A5A5A5, coord)))

	for sweep := 0; sweep < fs.mcmcSweeps; sweep++ {
		switch fs.mode {
		case ModeGibbs:
			fs.gibbsSweep(p, rng, neigh, resolvedTypes, tick)
		default:
			fs.mhSweep(p, rng, neigh, resolvedTypes, tick)
		}
	}
	return nil
}

// neighborCell is one item placement visible from a patch boundary, used to
// evaluate interaction energy crossing patch edges.
type neighborCell struct {
	pos Position
	typ int
}

// neighborCells gathers every item placement from the eight patches
// surrounding coord (within the batch or already resident in the store);
// items are not filtered by distance.
func (fs *FieldSampler) neighborCells(store *PatchStore, batch map[PatchCoord]*Patch, coord PatchCoord) []neighborCell {
	var out []neighborCell
	for dy := int64(-1); dy <= 1; dy++ {
		for dx := int64(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			c := PatchCoord{coord.X + dx, coord.Y + dy}
			var p *Patch
			if bp, ok := batch[c]; ok {
				p = bp
			} else if sp, ok := store.Get(c); ok {
				p = sp
			} else {
				continue
			}
			for _, it := range p.Items {
				if it.Alive() {
					out = append(out, neighborCell{pos: it.Location, typ: it.Type})
				}
			}
		}
	}
	return out
}

// cellOrigin returns the absolute world position of local cell (x,y) of the
// patch at coord.
func (fs *FieldSampler) cellOrigin(coord PatchCoord, x, y int64) Position {
	return Position{coord.X*fs.n + x, coord.Y*fs.n + y}
}

// totalLogEnergy computes intensity(pos,t) + sum of interaction(pos,q,t,u)
// over every other occupied cell q, within the patch (excluding pos itself)
// plus the cross-boundary neighbours.
func (fs *FieldSampler) totalLogEnergy(p *Patch, neigh []neighborCell, pos Position, typ int, resolvedTypes []resolved) float64 {
	r := resolvedTypes[typ]
	l := r.intensity(pos, nil)
	for _, it := range p.Items {
		if !it.Alive() || it.Location == pos {
			continue
		}
		l += fs.interactionEnergy(typ, it.Type, pos, it.Location, resolvedTypes[typ].interaction[it.Type])
		l += fs.interactionEnergy(it.Type, typ, it.Location, pos, resolvedTypes[it.Type].interaction[typ])
	}
	for _, nc := range neigh {
		l += fs.interactionEnergy(typ, nc.typ, pos, nc.pos, resolvedTypes[typ].interaction[nc.typ])
		l += fs.interactionEnergy(nc.typ, typ, nc.pos, pos, resolvedTypes[nc.typ].interaction[typ])
	}
	return l
}

// mhSweep performs one Metropolis-Hastings sweep, proposing a birth or a
// death, over a single patch.
func (fs *FieldSampler) mhSweep(p *Patch, rng *rand.Rand, neigh []neighborCell, resolvedTypes []resolved, tick int64) {
	birth := rng.Float64() < 0.5
	itemTypeCount := len(fs.catalog)
	if birth {
		typ := rng.IntN(itemTypeCount)
		x, y := rng.Int64N(fs.n), rng.Int64N(fs.n)
		pos := fs.cellOrigin(p.Coord, x, y)
		if _, occupied := p.ItemAt(pos); occupied {
			return
		}
		L := fs.totalLogEnergy(p, neigh, pos, typ, resolvedTypes)
		L -= -fs.logs.log(itemTypeCount) - 2*fs.logs.log(int(fs.n))
		L -= fs.logs.log(len(p.Items) + 1)
		if rng.Float64() < math.Min(1, math.Exp(L)) {
			p.addItem(ItemInstance{Type: typ, Location: pos, CreationTick: tick})
		}
		return
	}

	if len(p.Items) == 0 {
		return
	}
	idx := rng.IntN(len(p.Items))
	victim := p.Items[idx]
	L := -fs.totalLogEnergy(p, neigh, victim.Location, victim.Type, resolvedTypes)
	L += -fs.logs.log(itemTypeCount) - 2*fs.logs.log(int(fs.n))
	L -= -fs.logs.log(len(p.Items))
	if rng.Float64() < math.Min(1, math.Exp(L)) {
		p.deleteItemEntirely(victim.Location)
	}
}

// gibbsSweep performs one sweep of the four-colour interleaved-quadrant
// conditional sampling scheme.
func (fs *FieldSampler) gibbsSweep(p *Patch, rng *rand.Rand, neigh []neighborCell, resolvedTypes []resolved, tick int64) {
	n := fs.n
	type cell struct{ x, y int64 }
	var cells [4][]cell
	for y := int64(0); y < n; y++ {
		for x := int64(0); x < n; x++ {
			q := (x%2)*2 + (y % 2)
			cells[q] = append(cells[q], cell{x, y})
		}
	}
	itemTypeCount := len(fs.catalog)
	logWeights := make([]float64, itemTypeCount+1)
	for q := 0; q < 4; q++ {
		rng.Shuffle(len(cells[q]), func(i, j int) { cells[q][i], cells[q][j] = cells[q][j], cells[q][i] })
		for _, c := range cells[q] {
			pos := fs.cellOrigin(p.Coord, c.x, c.y)
			if _, occupied := p.ItemAt(pos); occupied {
				p.deleteItemEntirely(pos)
			}
			for t := 0; t < itemTypeCount; t++ {
				logWeights[t] = fs.totalLogEnergy(p, neigh, pos, t, resolvedTypes)
			}
			logWeights[itemTypeCount] = 0 // "empty" candidate
			normalizeExp(logWeights)
			u := rng.Float64()
			acc := 0.0
			choice := itemTypeCount
			for t, w := range logWeights {
				acc += w
				if u <= acc {
					choice = t
					break
				}
			}
			if choice != itemTypeCount {
				p.addItem(ItemInstance{Type: choice, Location: pos, CreationTick: tick})
			}
		}
	}
}
