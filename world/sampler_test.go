package world

import "testing"

func testCatalog() []ItemType {
	return []ItemType{{
		Name:               "bean",
		Scent:              []float64{1},
		Color:              []float64{1},
		RequiredItemCounts: []int{0},
		RequiredItemCosts:  []int{0},
		Intensity:          FuncRef{Tag: TagConstant, Args: []float64{-1}},
		Interaction:        []FuncRef{{Tag: TagGaussian, Args: []float64{2, 1}}},
		Regeneration:       FuncRef{Tag: TagZero},
	}}
}

func TestPerPatchSeedDeterministicAndCoordSensitive(t *testing.T) {
	a := perPatchSeed(42, PatchCoord{1, 2})
	b := perPatchSeed(42, PatchCoord{1, 2})
	if a != b {
		t.Fatal("perPatchSeed must be a pure function of its inputs")
	}
	c := perPatchSeed(42, PatchCoord{2, 1})
	if a == c {
		t.Fatal("perPatchSeed should differ across distinct coordinates")
	}
}

func TestSplitmix64Deterministic(t *testing.T) {
	if splitmix64(7) != splitmix64(7) {
		t.Fatal("splitmix64 must be deterministic")
	}
	if splitmix64(7) != splitmix64(8) {
		return
	}
	t.Fatal("splitmix64 should not collide on adjacent inputs")
}

func TestGenerateBatchIsDeterministicForAGivenSeed(t *testing.T) {
	catalog := testCatalog()
	registry := NewRegistry()
	coord := PatchCoord{3, -2}

	layout := func(seed uint64) []ItemInstance {
		fs, err := NewFieldSampler(catalog, registry, 8, 1, ModeMetropolisHastings, 8, seed)
		if err != nil {
			t.Fatalf("NewFieldSampler: %v", err)
		}
		store := NewPatchStore(8, 1, 1)
		slot := &patchSlot{status: statusGenerating}
		if err := fs.GenerateBatch(store, []PatchCoord{coord}, []*patchSlot{slot}, 0); err != nil {
			t.Fatalf("GenerateBatch: %v", err)
		}
		return append([]ItemInstance(nil), slot.patch.Items...)
	}

	a := layout(1234)
	b := layout(1234)
	if len(a) != len(b) {
		t.Fatalf("same seed produced different item counts: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Location != b[i].Location || a[i].Type != b[i].Type {
			t.Fatalf("same seed produced different layouts at index %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGibbsSweepProducesValidLayout(t *testing.T) {
	catalog := testCatalog()
	registry := NewRegistry()
	fs, err := NewFieldSampler(catalog, registry, 4, 1, ModeGibbs, 2, 99)
	if err != nil {
		t.Fatalf("NewFieldSampler: %v", err)
	}
	store := NewPatchStore(4, 1, 1)
	slot := &patchSlot{status: statusGenerating}
	coord := PatchCoord{0, 0}
	if err := fs.GenerateBatch(store, []PatchCoord{coord}, []*patchSlot{slot}, 0); err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	seen := make(map[Position]bool)
	for _, it := range slot.patch.Items {
		if !it.Alive() {
			continue
		}
		if seen[it.Location] {
			t.Fatalf("gibbs sweep left two live items at the same position %v", it.Location)
		}
		seen[it.Location] = true
	}
}

// TestFieldSamplerBirthDeathEquilibrium checks that a single item type with
// a constant negative intensity and zero interaction
// must converge the patch's item count to an equilibrium well below its
// 16-cell capacity, not fill toward capacity. It guards the sign of the
// birth move's inverse-proposal term in mhSweep.
func TestFieldSamplerBirthDeathEquilibrium(t *testing.T) {
	catalog := []ItemType{{
		Name:               "bean",
		Scent:              []float64{1},
		Color:              []float64{1},
		RequiredItemCounts: []int{0},
		RequiredItemCosts:  []int{0},
		Intensity:          FuncRef{Tag: TagConstant, Args: []float64{-2}},
		Interaction:        []FuncRef{{Tag: TagZero}},
		Regeneration:       FuncRef{Tag: TagZero},
	}}
	registry := NewRegistry()
	fs, err := NewFieldSampler(catalog, registry, 4, 1, ModeMetropolisHastings, 4000, 99)
	if err != nil {
		t.Fatalf("NewFieldSampler: %v", err)
	}
	store := NewPatchStore(4, 1, 1)
	slot := &patchSlot{status: statusGenerating}
	coord := PatchCoord{0, 0}
	if err := fs.GenerateBatch(store, []PatchCoord{coord}, []*patchSlot{slot}, 0); err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	count := 0
	for _, it := range slot.patch.Items {
		if it.Alive() {
			count++
		}
	}
	if count > 10 {
		t.Fatalf("item count %d did not equilibrate within the patch's 16-cell capacity, want <= 10", count)
	}
}

func TestStationaryTableMatchesDirectEvaluation(t *testing.T) {
	catalog := testCatalog()
	registry := NewRegistry()
	fs, err := NewFieldSampler(catalog, registry, 4, 1, ModeMetropolisHastings, 1, 1)
	if err != nil {
		t.Fatalf("NewFieldSampler: %v", err)
	}
	if fs.stationaryTables[0] == nil {
		t.Fatal("GAUSSIAN is stationary and should have a precomputed table")
	}
	fn, _, _, err := registry.Interaction(catalog[0].Interaction[0])
	if err != nil {
		t.Fatalf("resolve interaction: %v", err)
	}
	for _, d := range []Position{{0, 0}, {1, 0}, {-3, 2}, {8, -8}} {
		p1, p2 := Position{10, 10}, Position{10 - d.X, 10 - d.Y}
		got := fs.interactionEnergy(0, 0, p1, p2, fn)
		want := fn(p1, p2, nil)
		if diff := got - want; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("table lookup at displacement %v = %v, direct evaluation = %v", d, got, want)
		}
	}
}

func TestLogSumExpMatchesDirectComputation(t *testing.T) {
	got := logSumExp(0, 0)
	want := 0.6931471805599453 // log(2)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("logSumExp(0,0) = %v, want %v", got, want)
	}
}

func TestNormalizeExpSumsToOne(t *testing.T) {
	weights := []float64{1, 2, 3}
	normalizeExp(weights)
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if diff := sum - 1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("normalizeExp weights sum to %v, want 1", sum)
	}
}
