// Package slot implements the InstanceSlotAllocator: a fixed-capacity pool
// of instance ids per provider (e.g. "claude-0", "claude-1", ...). It
// mirrors the teacher's nextWorktreeNumber counter idiom but bounded by a
// capacity instead of growing unboundedly.
package slot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/autopilot/internal/assignment"
)

// Allocator hands out and reclaims instance slot ids, one pool per provider.
type Allocator struct {
	mu       sync.Mutex
	capacity map[assignment.Provider]int
	inUse    map[string]bool
}

// New returns an Allocator with the given per-provider capacities.
func New(capacity map[assignment.Provider]int) *Allocator {
	c := make(map[assignment.Provider]int, len(capacity))
	for k, v := range capacity {
		c[k] = v
	}
	return &Allocator{
		capacity: c,
		inUse:    make(map[string]bool),
	}
}

// Acquire returns a free instance id for provider p, or ("", false) if the
// pool is exhausted.
func (a *Allocator) Acquire(p assignment.Provider) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	capacity := a.capacity[p]
	for i := 0; i < capacity; i++ {
		id := fmt.Sprintf("%s-%d", p, i)
		if !a.inUse[id] {
			a.inUse[id] = true
			return id, true
		}
	}
	return "", false
}

// Release frees an instance id so it can be acquired again.
func (a *Allocator) Release(instanceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, instanceID)
}

// InUse reports whether instanceID is currently held.
func (a *Allocator) InUse(instanceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse[instanceID]
}

// RebuildFromRegistry re-derives the in-use set from a restarted
// orchestrator's registry, so existing board commitments survive a
// restart without being double-issued.
func (a *Allocator) RebuildFromRegistry(instancesInUse map[string]bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse = make(map[string]bool, len(instancesInUse))
	for id, used := range instancesInUse {
		if used {
			a.inUse[id] = true
		}
	}
}

// FreeSlots returns the number of unoccupied instance slots summed across
// every provider's pool, used by the Orchestrator to bound how many
// candidates it spawns per tick (§4.10, §5 "backpressure").
func (a *Allocator) FreeSlots() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	free := 0
	for p, capacity := range a.capacity {
		used := 0
		for i := 0; i < capacity; i++ {
			if a.inUse[fmt.Sprintf("%s-%d", p, i)] {
				used++
			}
		}
		free += capacity - used
	}
	return free
}

// Snapshot returns a sorted copy of the instance ids currently in use, for
// diagnostics and tests.
func (a *Allocator) Snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.inUse))
	for id := range a.inUse {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
