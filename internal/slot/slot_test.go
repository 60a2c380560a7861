package slot

import (
	"testing"

	"github.com/kingrea/autopilot/internal/assignment"
)

func TestAcquireExhaustsCapacity(t *testing.T) {
	a := New(map[assignment.Provider]int{assignment.ProviderClaude: 2})
	first, ok := a.Acquire("claude")
	if !ok || first != "claude-0" {
		t.Fatalf("expected claude-0, got %q ok=%v", first, ok)
	}
	second, ok := a.Acquire("claude")
	if !ok || second != "claude-1" {
		t.Fatalf("expected claude-1, got %q ok=%v", second, ok)
	}
	if _, ok := a.Acquire("claude"); ok {
		t.Fatal("expected pool exhaustion to return false")
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	a := New(map[assignment.Provider]int{"claude": 1})
	id, _ := a.Acquire("claude")
	a.Release(id)
	again, ok := a.Acquire("claude")
	if !ok || again != id {
		t.Fatalf("expected released slot %s to be reusable, got %q ok=%v", id, again, ok)
	}
}

func TestFreeSlotsSumsAcrossProviders(t *testing.T) {
	a := New(map[assignment.Provider]int{"claude": 2, "gemini": 1})
	if got := a.FreeSlots(); got != 3 {
		t.Fatalf("expected 3 free slots initially, got %d", got)
	}
	if _, ok := a.Acquire("claude"); !ok {
		t.Fatal("setup: expected to acquire a claude slot")
	}
	if got := a.FreeSlots(); got != 2 {
		t.Fatalf("expected 2 free slots after one acquire, got %d", got)
	}
}

func TestRebuildFromRegistrySurvivesRestart(t *testing.T) {
	a := New(map[assignment.Provider]int{"claude": 2})
	a.RebuildFromRegistry(map[string]bool{"claude-0": true})
	if !a.InUse("claude-0") {
		t.Fatal("expected claude-0 to be marked in use after rebuild")
	}
	if _, ok := a.Acquire("claude"); !ok {
		t.Fatal("expected claude-1 still acquirable")
	}
	if _, ok := a.Acquire("claude"); ok {
		t.Fatal("expected pool exhausted after rebuild + one more acquire")
	}
}
