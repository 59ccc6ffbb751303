package world

// ScentDiffuser applies the per-tick decay+diffusion update to a patch's
// scent grid, with lazy catch-up across however many ticks have elapsed
// since the patch was last touched.
type ScentDiffuser struct {
	n               int64
	scentDim        int64
	decay           float64 // lambda
	diffusion       float64 // delta
	removedItemLife int64
	catalog         []ItemType

	// scratch buffers reused across CatchUp calls to avoid per-call
	// allocation while a patch's lock is held.
	next []float64
}

// NewScentDiffuser constructs a diffuser for the given world geometry and
// catalog. catalog must be the same slice (or an equal one) that item type
// indices in Patch.Items refer to.
func NewScentDiffuser(n, scentDim int64, decay, diffusion float64, removedItemLifetime int64, catalog []ItemType) *ScentDiffuser {
	return &ScentDiffuser{
		n:               n,
		scentDim:        scentDim,
		decay:           decay,
		diffusion:       diffusion,
		removedItemLife: removedItemLifetime,
		catalog:         catalog,
		next:            make([]float64, n*n*scentDim),
	}
}

// patchLookup resolves a patch by its offset from a centre patch; it is used
// to evaluate the centre patch's boundary cells. The diffuser only asks for
// the four edge-adjacent offsets (N, S, E, W).
type patchLookup func(dx, dy int64) *Patch

// CatchUp advances p's scent grid from p.LastScentUpdateTick up to
// currentTick, applying the decay+diffusion update once per elapsed tick.
// lookup resolves the (up to 4) edge-adjacent patches lazily; a nil result
// for an offset is treated as if that neighbour contributes zero scent
// (patch not yet generated).
func (d *ScentDiffuser) CatchUp(p *Patch, currentTick int64, lookup patchLookup) {
	for p.LastScentUpdateTick < currentTick {
		tick := p.LastScentUpdateTick + 1
		d.step(p, tick, lookup)
		p.LastScentUpdateTick = tick
	}
}

// step applies one decay+diffusion update, landing the result at tick.
func (d *ScentDiffuser) step(p *Patch, tick int64, lookup patchLookup) {
	n, dim := d.n, d.scentDim
	next := d.next
	for y := int64(0); y < n; y++ {
		for x := int64(0); x < n; x++ {
			k := 0
			var sum [64]float64 // supports scentDim up to 64 without allocating
			var sumSlice []float64
			if dim <= int64(len(sum)) {
				sumSlice = sum[:dim]
			} else {
				sumSlice = make([]float64, dim)
			}
			if v, ok := d.neighborScent(p, x-1, y, lookup); ok {
				k++
				addInto(sumSlice, v)
			}
			if v, ok := d.neighborScent(p, x+1, y, lookup); ok {
				k++
				addInto(sumSlice, v)
			}
			if v, ok := d.neighborScent(p, x, y-1, lookup); ok {
				k++
				addInto(sumSlice, v)
			}
			if v, ok := d.neighborScent(p, x, y+1, lookup); ok {
				k++
				addInto(sumSlice, v)
			}
			self := p.ScentAt(x, y, n, dim)
			out := next[cellIndex(x, y, n, dim) : cellIndex(x, y, n, dim)+dim]
			for c := int64(0); c < dim; c++ {
				v := (1-d.diffusion*float64(k))*d.decay*self[c] + d.decay*d.diffusion*sumSlice[c]
				if v < 0 {
					v = 0
				}
				out[c] = v
			}
			d.addContributions(p, x, y, tick, out)
		}
	}
	copy(p.Scent, next)
}

// neighborScent returns the scent vector at local coordinates (x,y) relative
// to p, resolving across a patch boundary via lookup when necessary. ok is
// false if that neighbouring patch does not exist yet.
func (d *ScentDiffuser) neighborScent(p *Patch, x, y int64, lookup patchLookup) ([]float64, bool) {
	n := d.n
	if x >= 0 && x < n && y >= 0 && y < n {
		return p.ScentAt(x, y, n, d.scentDim), true
	}
	dx, dy := int64(0), int64(0)
	lx, ly := x, y
	if x < 0 {
		dx, lx = -1, x+n
	} else if x >= n {
		dx, lx = 1, x-n
	}
	if y < 0 {
		dy, ly = -1, y+n
	} else if y >= n {
		dy, ly = 1, y-n
	}
	neighbor := lookup(dx, dy)
	if neighbor == nil {
		return nil, false
	}
	return neighbor.ScentAt(lx, ly, n, d.scentDim), true
}

// addContributions adds the scent of every alive item and every live ghost
// echo at local cell (x,y) into out.
func (d *ScentDiffuser) addContributions(p *Patch, x, y, tick int64, out []float64) {
	pos := Position{p.Coord.X*d.n + x, p.Coord.Y*d.n + y}
	it, ok := p.ItemAt(pos)
	if ok {
		addInto(out, d.catalog[it.Type].Scent)
	}
	for _, g := range p.Items {
		if g.Alive() || g.Location != pos {
			continue
		}
		age := g.Age(tick)
		if age >= d.removedItemLife {
			continue
		}
		decayFactor := pow(d.decay, age)
		scent := d.catalog[g.Type].Scent
		for c := range out {
			if c < len(scent) {
				out[c] += decayFactor * scent[c]
			}
		}
	}
}

func addInto(dst, src []float64) {
	for i := range dst {
		if i < len(src) {
			dst[i] += src[i]
		}
	}
}

// pow computes base^exp for non-negative integer exponents without pulling
// in math.Pow's float64 exponent handling (age is always a small int64).
func pow(base float64, exp int64) float64 {
	result := 1.0
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}
