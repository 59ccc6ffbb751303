package world

import "testing"

func TestPatchAddRemoveItem(t *testing.T) {
	p := newPatch(PatchCoord{}, 8, 2, 1, 0)
	pos := Position{3, 4}
	p.addItem(ItemInstance{Type: 0, Location: pos, CreationTick: 1})

	inst, ok := p.ItemAt(pos)
	if !ok || !inst.Alive() {
		t.Fatalf("expected a live instance at %v", pos)
	}

	removed, ok := p.removeItem(pos, 5)
	if !ok {
		t.Fatalf("removeItem should find the instance")
	}
	if removed.DeletionTick != 5 {
		t.Errorf("removeItem deletion tick = %d, want 5", removed.DeletionTick)
	}
	if _, ok := p.ItemAt(pos); ok {
		t.Fatalf("ItemAt should no longer find a removed instance")
	}
	if len(p.Items) != 1 {
		t.Fatalf("removeItem should retain the instance as a ghost, got %d items", len(p.Items))
	}
}

func TestPatchDeleteItemEntirelySwapRemoves(t *testing.T) {
	p := newPatch(PatchCoord{}, 8, 2, 1, 0)
	a, b, c := Position{0, 0}, Position{1, 1}, Position{2, 2}
	p.addItem(ItemInstance{Location: a})
	p.addItem(ItemInstance{Location: b})
	p.addItem(ItemInstance{Location: c})

	if !p.deleteItemEntirely(b) {
		t.Fatalf("deleteItemEntirely should find b")
	}
	if len(p.Items) != 2 {
		t.Fatalf("expected 2 remaining items, got %d", len(p.Items))
	}
	for _, pos := range []Position{a, c} {
		if _, ok := p.ItemAt(pos); !ok {
			t.Errorf("item at %v should still be indexed after swap-remove", pos)
		}
	}
	if _, ok := p.ItemAt(b); ok {
		t.Errorf("item at %v should be gone entirely, not a ghost", b)
	}
}

func TestPatchPruneExpiredGhosts(t *testing.T) {
	p := newPatch(PatchCoord{}, 8, 2, 1, 0)
	live := Position{0, 0}
	freshGhost := Position{1, 0}
	staleGhost := Position{2, 0}

	p.addItem(ItemInstance{Location: live, CreationTick: 0})
	p.addItem(ItemInstance{Location: freshGhost, CreationTick: 0})
	p.addItem(ItemInstance{Location: staleGhost, CreationTick: 0})
	p.removeItem(freshGhost, 8)
	p.removeItem(staleGhost, 2)

	const removedItemLifetime = 5
	p.pruneExpiredGhosts(10, removedItemLifetime)

	if len(p.Items) != 2 {
		t.Fatalf("expected stale ghost to be pruned, got %d items: %+v", len(p.Items), p.Items)
	}
	if _, ok := p.ItemAt(live); !ok {
		t.Errorf("live instance should survive pruning")
	}
	for _, it := range p.Items {
		if it.Location == staleGhost {
			t.Errorf("stale ghost at %v should have been pruned", staleGhost)
		}
	}
}

func TestNewPatchFromCacheReindexesOccupied(t *testing.T) {
	entry := PatchCacheEntry{
		Fixed: true,
		Items: []ItemInstance{
			{Location: Position{0, 0}, CreationTick: 1},
			{Location: Position{1, 1}, CreationTick: 1, DeletionTick: 2},
		},
	}
	p := newPatchFromCache(PatchCoord{3, 3}, 8, 2, 1, entry)
	if !p.Fixed {
		t.Errorf("cached patch should preserve Fixed")
	}
	if _, ok := p.ItemAt(Position{0, 0}); !ok {
		t.Errorf("alive cached item should be indexed in occupied")
	}
	if _, ok := p.ItemAt(Position{1, 1}); ok {
		t.Errorf("ghost cached item should not be indexed in occupied")
	}
	if len(p.Items) != 2 {
		t.Errorf("expected both items retained, got %d", len(p.Items))
	}
}
