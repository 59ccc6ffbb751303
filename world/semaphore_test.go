package world

import "testing"

func TestSemaphoreTableAddAssignsIncreasingIDs(t *testing.T) {
	tbl := NewSemaphoreTable()
	s1 := tbl.Add()
	s2 := tbl.Add()
	if s2.ID <= s1.ID {
		t.Fatalf("expected increasing ids, got %d then %d", s1.ID, s2.ID)
	}
	if s1.Signaled() {
		t.Fatal("a freshly added semaphore should start unsignaled")
	}
}

func TestSemaphoreTableRemove(t *testing.T) {
	tbl := NewSemaphoreTable()
	s := tbl.Add()
	if !tbl.Remove(s.ID) {
		t.Fatal("Remove should report success for an existing semaphore")
	}
	if tbl.Remove(s.ID) {
		t.Fatal("Remove should report failure for an already-removed semaphore")
	}
	if _, ok := tbl.Get(s.ID); ok {
		t.Fatal("Get should not find a removed semaphore")
	}
}

func TestSemaphoreSignalUnsignal(t *testing.T) {
	s := &Semaphore{ID: 1}
	if s.Signaled() {
		t.Fatal("new semaphore should be unsignaled")
	}
	s.Signal()
	if !s.Signaled() {
		t.Fatal("Signal should mark the semaphore signaled")
	}
	s.Unsignal()
	if s.Signaled() {
		t.Fatal("Unsignal should clear the signaled state")
	}
}

func TestSemaphoreTableAllReturnsEveryRegistered(t *testing.T) {
	tbl := NewSemaphoreTable()
	tbl.Add()
	tbl.Add()
	tbl.Add()
	if got := len(tbl.All()); got != 3 {
		t.Fatalf("All() returned %d semaphores, want 3", got)
	}
}

func TestCoordinatorQuorumRequiresSemaphoreSignal(t *testing.T) {
	agents := NewAgentTable()
	semaphores := NewSemaphoreTable()
	c := NewCoordinator(agents, semaphores)
	s := semaphores.Add()

	if c.QuorumMet() {
		t.Fatal("quorum should not be met while an unsignaled semaphore exists")
	}
	s.Signal()
	c.NotifySemaphoreChanged()
	if !c.QuorumMet() {
		t.Fatal("quorum should be met once the only semaphore is signaled")
	}
}
