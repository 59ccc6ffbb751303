package world

import (
	"sync"

	"github.com/brentp/intintmap"
)

// patchStatus tracks the lifecycle of a patch store slot so that concurrent
// GetOrGenerate calls for overlapping generation batches observe each
// other's in-flight work instead of double-generating.
type patchStatus uint8

const (
	statusGenerating patchStatus = iota
	statusReady
	statusFailed
)

type patchSlot struct {
	mu     sync.Mutex
	status patchStatus
	patch  *Patch
}

// PatchCacheEntry is the persisted subset of a Patch's fields worth caching
// across process restarts: the generated item layout and fixed flag. Scent
// grids and regeneration bookkeeping are cheap to recompute from scratch and
// are not part of the cached form.
type PatchCacheEntry struct {
	Fixed bool
	Items []ItemInstance
}

// PatchCache is an optional, external lookaside cache of generated patches,
// consulted before the field sampler runs and populated after a fresh fixed
// patch is generated, so a restarted process does not have to resample
// patches an agent has already visited. It is a cache, not the source of
// truth: the snapshot codec remains the sole load-bearing persistence
// format. The diskstore package provides a LevelDB-backed implementation.
type PatchCache interface {
	Get(coord PatchCoord) (PatchCacheEntry, bool, error)
	Put(coord PatchCoord, entry PatchCacheEntry) error
}

// PatchStore owns every patch of the infinite grid, keyed by packed patch
// coordinate. Reads of the coordinate index take the shared lock; insertion
// of new slots takes the exclusive lock. The patch-store map lock is always
// acquired above any per-patch lock.
type PatchStore struct {
	mu    sync.RWMutex
	index *intintmap.Map // packed PatchCoord -> offset into slots
	slots []*patchSlot

	cond *sync.Cond // broadcast when any slot transitions to statusReady

	n             int64
	scentDim      int64
	itemTypeCount int64

	cache PatchCache
}

// NewPatchStore constructs an empty store for a world with the given patch
// edge length, scent dimensionality and item-type count.
func NewPatchStore(n, scentDim, itemTypeCount int64) *PatchStore {
	s := &PatchStore{
		index:         intintmap.New(64, 0.6),
		n:             n,
		scentDim:      scentDim,
		itemTypeCount: itemTypeCount,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetCache installs an external patch cache consulted by GetOrGenerate. It
// must be called before any patch is generated; installing a cache after
// patches already exist does not retroactively populate it.
func (s *PatchStore) SetCache(cache PatchCache) { s.cache = cache }

// lookup returns the slot for coord if it exists, under the shared lock.
func (s *PatchStore) lookup(coord PatchCoord) (*patchSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off, ok := s.index.Get(coord.Pack())
	if !ok {
		return nil, false
	}
	return s.slots[off], true
}

// reserve creates a statusGenerating slot for coord if absent and returns it
// together with whether this call created it (the caller that created it is
// responsible for generating and filling it in). Must be called with s.mu
// held for writing.
func (s *PatchStore) reserveLocked(coord PatchCoord) (slot *patchSlot, created bool) {
	if off, ok := s.index.Get(coord.Pack()); ok {
		existing := s.slots[off]
		existing.mu.Lock()
		failed := existing.status == statusFailed
		if failed {
			existing.status = statusGenerating
		}
		existing.mu.Unlock()
		return existing, failed
	}
	slot = &patchSlot{status: statusGenerating}
	s.index.Put(coord.Pack(), int64(len(s.slots)))
	s.slots = append(s.slots, slot)
	return slot, true
}

// Get returns the patch at coord if it has already been generated (and is
// not still being generated), without triggering generation.
func (s *PatchStore) Get(coord PatchCoord) (*Patch, bool) {
	slot, ok := s.lookup(coord)
	if !ok {
		return nil, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.status != statusReady {
		return nil, false
	}
	return slot.patch, true
}

// Count returns the number of patches currently known to the store,
// including any still generating.
func (s *PatchStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// batchBlock returns the 4x4 block of patch coordinates around p: offsets
// -1 through +2 from p on each axis.
func batchBlock(p PatchCoord) []PatchCoord {
	block := make([]PatchCoord, 0, 16)
	for dy := int64(-1); dy <= 2; dy++ {
		for dx := int64(-1); dx <= 2; dx++ {
			block = append(block, PatchCoord{p.X + dx, p.Y + dy})
		}
	}
	return block
}

// GetOrGenerate returns the patch at coord, generating it (and its batch
// block) if necessary via sampler. fix forces the returned patch (and every
// other new patch in the batch that contains an agent position, passed via
// agentsIn) to be marked fixed. Generation is idempotent: a concurrent
// caller that loses the race to generate observes the winner's patches
// rather than generating its own.
func (s *PatchStore) GetOrGenerate(coord PatchCoord, fix bool, sampler *FieldSampler, agentsIn func(PatchCoord) bool, tick int64) (*Patch, error) {
	block := batchBlock(coord)

	s.mu.Lock()
	var mine []*patchSlot
	var mineCoords []PatchCoord
	for _, c := range block {
		slot, created := s.reserveLocked(c)
		if created {
			mine = append(mine, slot)
			mineCoords = append(mineCoords, c)
		}
	}
	s.mu.Unlock()

	if len(mine) > 0 {
		var toSample []*patchSlot
		var toSampleCoords []PatchCoord
		if s.cache != nil {
			for i, c := range mineCoords {
				slot := mine[i]
				entry, ok, err := s.cache.Get(c)
				if err != nil || !ok {
					toSample = append(toSample, slot)
					toSampleCoords = append(toSampleCoords, c)
					continue
				}
				slot.patch = newPatchFromCache(c, s.n, s.scentDim, s.itemTypeCount, entry)
			}
		} else {
			toSample = mine
			toSampleCoords = mineCoords
		}

		if len(toSample) > 0 {
			if err := sampler.GenerateBatch(s, toSampleCoords, toSample, tick); err != nil {
				for _, slot := range mine {
					slot.mu.Lock()
					slot.status = statusFailed
					slot.mu.Unlock()
				}
				s.cond.Broadcast()
				return nil, err
			}
		}

		s.mu.Lock()
		for i, slot := range mine {
			slot.mu.Lock()
			slot.status = statusReady
			if fix && mineCoords[i] == coord {
				slot.patch.Fixed = true
			}
			if agentsIn != nil && agentsIn(mineCoords[i]) {
				slot.patch.Fixed = true
			}
			if s.cache != nil && slot.patch.Fixed {
				entry := PatchCacheEntry{Fixed: true, Items: append([]ItemInstance(nil), slot.patch.Items...)}
				_ = s.cache.Put(mineCoords[i], entry)
			}
			slot.mu.Unlock()
		}
		s.mu.Unlock()
		s.cond.Broadcast()
	}

	// Wait for every slot in the block (ours and anyone else's in-flight
	// work our request overlapped with) to become ready.
	target, _ := s.lookup(coord)
	s.mu.Lock()
	for {
		target.mu.Lock()
		status, p := target.status, target.patch
		target.mu.Unlock()
		switch status {
		case statusReady:
			s.mu.Unlock()
			if fix {
				target.mu.Lock()
				p.Fixed = true
				target.mu.Unlock()
			}
			return p, nil
		case statusFailed:
			s.mu.Unlock()
			return nil, ErrOutOfMemory
		}
		s.cond.Wait()
	}
}

// Neighborhood returns the patches adjacent to coord in each of the four
// quadrant directions used by the field sampler for boundary interactions.
// Only patches that already exist in the store are returned; missing ones
// are simply omitted, since boundary effects beyond 2n are negligible.
type Quadrant int

const (
	QuadNW Quadrant = iota
	QuadNE
	QuadSW
	QuadSE
)

func (s *PatchStore) Neighborhood(coord PatchCoord) map[Quadrant]*Patch {
	offsets := map[Quadrant]PatchCoord{
		QuadNW: {coord.X - 1, coord.Y + 1},
		QuadNE: {coord.X + 1, coord.Y + 1},
		QuadSW: {coord.X - 1, coord.Y - 1},
		QuadSE: {coord.X + 1, coord.Y - 1},
	}
	out := make(map[Quadrant]*Patch, 4)
	for q, c := range offsets {
		if p, ok := s.Get(c); ok {
			out[q] = p
		}
	}
	return out
}

// MarkFixed sets the Fixed flag on the patch at coord, if it exists.
func (s *PatchStore) MarkFixed(coord PatchCoord) {
	slot, ok := s.lookup(coord)
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.patch.Fixed = true
	slot.mu.Unlock()
}

// forEachReady calls fn with every patch currently in the ready state. Used
// by the snapshot codec and map queries.
func (s *PatchStore) forEachReady(fn func(*Patch)) {
	s.mu.RLock()
	slots := append([]*patchSlot(nil), s.slots...)
	s.mu.RUnlock()
	for _, slot := range slots {
		slot.mu.Lock()
		if slot.status == statusReady {
			fn(slot.patch)
		}
		slot.mu.Unlock()
	}
}
