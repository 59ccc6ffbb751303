package world

import "testing"

func TestRunTickAdvancesTickAndMovesAgent(t *testing.T) {
	sim := newTestSimulator(t, false)
	res, err := sim.AddAgent()
	if err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if err := sim.Move(res.AgentID, Right, 1); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := sim.st.runTick(); err != nil {
		t.Fatalf("runTick: %v", err)
	}
	if sim.CurrentTick() != 1 {
		t.Fatalf("tick = %d, want 1", sim.CurrentTick())
	}
	a, _ := sim.agents.Get(res.AgentID)
	if want := (Position{1, 0}); a.Position() != want {
		t.Errorf("agent position = %v, want %v", a.Position(), want)
	}
}

func TestFirstWriterWinsExcludesLoserFromTargetCell(t *testing.T) {
	sim := newTestSimulator(t, false)
	st := sim.st
	a1 := sim.agents.Add(Position{0, 0}, Up, 1)
	a2 := sim.agents.Add(Position{2, 0}, Up, 1)

	requests := []moveRequest{
		{agent: a1, origin: Position{0, 0}, target: Position{1, 0}},
		{agent: a2, origin: Position{2, 0}, target: Position{1, 0}},
	}
	resolved := st.firstWriterWins(requests)

	if resolved[0].target != (Position{1, 0}) {
		t.Errorf("first request should win the contested cell")
	}
	if resolved[1].target != resolved[1].origin {
		t.Errorf("second request should lose and stay at its origin, got %v", resolved[1].target)
	}
}

func TestExpireLifetimesRemovesAgedItems(t *testing.T) {
	sim := newTestSimulator(t, false)
	sim.conf.ItemTypes = append([]ItemType(nil), sim.conf.ItemTypes...)
	sim.conf.ItemTypes[0].Lifetime = 5

	coord := PatchCoord{0, 0}
	p, err := sim.patchStore.GetOrGenerate(coord, true, sim.sampler, sim.agentsInPatch, 0)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	pos := Position{0, 0}
	for _, existing := range append([]ItemInstance(nil), p.Items...) {
		p.deleteItemEntirely(existing.Location)
	}
	p.addItem(ItemInstance{Type: 0, Location: pos, CreationTick: 0})

	sim.st.expireLifetimes(5)

	if _, ok := p.ItemAt(pos); ok {
		t.Fatalf("item should have expired by tick 5 (lifetime 5, created at 0)")
	}
}

func TestPrunePatchGhostsDropsStaleGhostsAcrossFixedPatches(t *testing.T) {
	sim := newTestSimulator(t, false)
	sim.conf.RemovedItemLifetime = 3

	coord := PatchCoord{0, 0}
	p, err := sim.patchStore.GetOrGenerate(coord, true, sim.sampler, sim.agentsInPatch, 0)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	ghostPos := Position{5, 5}
	p.addItem(ItemInstance{Location: ghostPos, CreationTick: 0})
	p.removeItem(ghostPos, 1)

	sim.st.prunePatchGhosts(100)

	for _, it := range p.Items {
		if it.Location == ghostPos {
			t.Fatalf("long-dead ghost should have been pruned")
		}
	}
}
