package world

import (
	"sync"
	"testing"
)

func newTestSampler(t *testing.T, n int64) *FieldSampler {
	t.Helper()
	fs, err := NewFieldSampler(testCatalog(), NewRegistry(), n, 1, ModeMetropolisHastings, 4, 7)
	if err != nil {
		t.Fatalf("NewFieldSampler: %v", err)
	}
	return fs
}

func TestPatchStoreGetOrGenerateFixesRequestedPatch(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)

	p, err := store.GetOrGenerate(PatchCoord{0, 0}, true, fs, nil, 0)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if !p.Fixed {
		t.Fatal("patch requested with fix=true should be marked fixed")
	}

	got, ok := store.Get(PatchCoord{0, 0})
	if !ok || got != p {
		t.Fatal("Get should return the same generated patch")
	}
}

func TestPatchStoreGetOrGenerateBatchesNeighbors(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)

	if _, err := store.GetOrGenerate(PatchCoord{0, 0}, false, fs, nil, 0); err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if store.Count() != 16 {
		t.Fatalf("generating one patch should populate its whole 4x4 batch block, got %d patches", store.Count())
	}
}

func TestPatchStoreGetOrGenerateIsIdempotentUnderConcurrency(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)
	coord := PatchCoord{5, 5}

	const n = 8
	results := make([]*Patch, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			p, err := store.GetOrGenerate(coord, false, fs, nil, 0)
			if err != nil {
				t.Errorf("GetOrGenerate: %v", err)
				return
			}
			results[i] = p
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrGenerate calls for the same coordinate should observe the same generated patch")
		}
	}
}

// fakePatchCache is an in-memory stand-in for a disk-backed PatchCache.
type fakePatchCache struct {
	mu      sync.Mutex
	entries map[PatchCoord]PatchCacheEntry
	gets    int
	puts    int
}

func newFakePatchCache() *fakePatchCache {
	return &fakePatchCache{entries: make(map[PatchCoord]PatchCacheEntry)}
}

func (c *fakePatchCache) Get(coord PatchCoord) (PatchCacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	e, ok := c.entries[coord]
	return e, ok, nil
}

func (c *fakePatchCache) Put(coord PatchCoord, entry PatchCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[coord] = entry
	return nil
}

func TestPatchStoreGetOrGeneratePopulatesCacheForFixedPatches(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)
	cache := newFakePatchCache()
	store.SetCache(cache)

	coord := PatchCoord{2, 2}
	p, err := store.GetOrGenerate(coord, true, fs, nil, 0)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}

	entry, ok, err := cache.Get(coord)
	if err != nil {
		t.Fatalf("cache.Get: %v", err)
	}
	if !ok {
		t.Fatal("a fixed patch should have been written back to the cache")
	}
	if len(entry.Items) != len(p.Items) {
		t.Fatalf("cached entry has %d items, generated patch has %d", len(entry.Items), len(p.Items))
	}
}

func TestPatchStoreGetOrGenerateSkipsSamplingOnCacheHit(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)
	cache := newFakePatchCache()
	store.SetCache(cache)

	coord := PatchCoord{9, 9}
	cached := PatchCacheEntry{Fixed: true, Items: []ItemInstance{{Type: 0, Location: Position{coord.X * 8, coord.Y * 8}, CreationTick: 0}}}
	for _, c := range batchBlock(coord) {
		if err := cache.Put(c, cached); err != nil {
			t.Fatalf("cache.Put: %v", err)
		}
	}

	p, err := store.GetOrGenerate(coord, true, fs, nil, 0)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if len(p.Items) != 1 {
		t.Fatalf("patch should have been restored from the cache with exactly the cached item, got %d items", len(p.Items))
	}
	if p.Items[0].Location != cached.Items[0].Location {
		t.Fatalf("restored item location = %v, want %v", p.Items[0].Location, cached.Items[0].Location)
	}
}

func TestPatchStoreNeighborhoodOnlyReturnsExistingPatches(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)
	if _, err := store.GetOrGenerate(PatchCoord{0, 0}, false, fs, nil, 0); err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	neigh := store.Neighborhood(PatchCoord{0, 0})
	if _, ok := neigh[QuadNE]; !ok {
		t.Fatal("QuadNE patch was generated as part of the batch block and should be present")
	}
	far := store.Neighborhood(PatchCoord{1000, 1000})
	if len(far) != 0 {
		t.Fatalf("far-away neighborhood should be empty, got %d entries", len(far))
	}
}

func TestPatchStoreMarkFixed(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)
	coord := PatchCoord{0, 0}
	p, err := store.GetOrGenerate(coord, false, fs, nil, 0)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if p.Fixed {
		t.Fatal("patch generated with fix=false should not start fixed")
	}
	store.MarkFixed(coord)
	if !p.Fixed {
		t.Fatal("MarkFixed should set the Fixed flag")
	}
}

func TestPatchStoreForEachReadySkipsGeneratingSlots(t *testing.T) {
	store := NewPatchStore(8, 1, 1)
	fs := newTestSampler(t, 8)
	if _, err := store.GetOrGenerate(PatchCoord{0, 0}, false, fs, nil, 0); err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	count := 0
	store.forEachReady(func(p *Patch) { count++ })
	if count != store.Count() {
		t.Fatalf("forEachReady visited %d patches, store has %d", count, store.Count())
	}
}
