// Package registry implements the AssignmentRegistry: a thread-safe,
// in-memory index of active assignments keyed by assignment ID, with
// secondary indices by issue number and by worker instance ID. All
// assignment mutation in the core goes through this package so the
// invariants in spec.md §3 can be enforced centrally. The registry holds no
// durable state: it starts empty on every orchestrator start. Reconciliation
// (SyncAllFieldsFromBoard) only updates or removes existing entries, so
// assignments in flight before a restart are not re-created from the board.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/autopilot/internal/assignment"
	"github.com/kingrea/autopilot/internal/orchestrerr"
)

// ErrAlreadyAssigned is returned by Create when issueNumber already has a
// live assignment.
var ErrAlreadyAssigned = fmt.Errorf("registry: issue already assigned")

// CreateInput describes a new assignment.
type CreateInput struct {
	IssueNumber  int
	InstanceID   string
	Provider     assignment.Provider
	WorktreePath string
	BranchName   string
	Metadata     assignment.Metadata
}

// Registry is the single writer-preferring lock covering the primary map
// and both secondary indices (§5). Reads return value copies so callers
// never hold the lock across I/O.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*assignment.Assignment
	byIssue    map[int]string
	byInstance map[string]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byID:       make(map[string]*assignment.Assignment),
		byIssue:    make(map[int]string),
		byInstance: make(map[string]string),
	}
}

// Create registers a brand-new assignment for issueNumber. At most one live
// assignment per issue number may exist at a time (§3 invariant); a second
// concurrent attempt fails with ErrAlreadyAssigned.
func (r *Registry) Create(input CreateInput) (*assignment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byIssue[input.IssueNumber]; exists {
		return nil, ErrAlreadyAssigned
	}
	if _, exists := r.byInstance[input.InstanceID]; exists {
		return nil, orchestrerr.New(orchestrerr.InvariantViolation, fmt.Sprintf("instance %s already in use", input.InstanceID))
	}

	a := assignment.New(input.IssueNumber, input.InstanceID, input.Provider, input.WorktreePath, input.BranchName, input.Metadata)
	r.byID[a.ID] = a
	r.byIssue[input.IssueNumber] = a.ID
	r.byInstance[input.InstanceID] = a.ID
	return a.Clone(), nil
}

// Get returns a value copy of the assignment, or (nil, false) if unknown.
func (r *Registry) Get(id string) (*assignment.Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// GetByIssue looks up the live assignment for an issue number.
func (r *Registry) GetByIssue(issueNumber int) (*assignment.Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIssue[issueNumber]
	if !ok {
		return nil, false
	}
	return r.byID[id].Clone(), true
}

// GetByInstance looks up the live assignment occupying an instance slot.
func (r *Registry) GetByInstance(instanceID string) (*assignment.Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byInstance[instanceID]
	if !ok {
		return nil, false
	}
	return r.byID[id].Clone(), true
}

// List returns value copies of every live assignment.
func (r *Registry) List() []*assignment.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*assignment.Assignment, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a.Clone())
	}
	return out
}

// InstancesInUse returns the set of instance IDs currently occupied,
// used by InstanceSlotAllocator.RebuildFromRegistry to survive restarts.
func (r *Registry) InstancesInUse() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.byInstance))
	for instance := range r.byInstance {
		out[instance] = true
	}
	return out
}

// UpdateStatus applies a validated status transition and returns the
// updated value copy.
func (r *Registry) UpdateStatus(id string, to assignment.Status) (*assignment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("registry: unknown assignment %s", id)
	}
	if err := a.ApplyStatus(to, time.Now().UTC()); err != nil {
		return nil, orchestrerr.Wrap(orchestrerr.InvariantViolation, "status transition rejected", err)
	}
	return a.Clone(), nil
}

// AppendWorkSession appends a work session and bumps lastActivity.
func (r *Registry) AppendWorkSession(id string, session assignment.WorkSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("registry: unknown assignment %s", id)
	}
	a.AppendWorkSession(session)
	return nil
}

// EndLastWorkSession stamps EndedAt on the most recent session, used on
// cancellation (§4.7 step 5).
func (r *Registry) EndLastWorkSession(id string, endedAt time.Time, exitCode *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("registry: unknown assignment %s", id)
	}
	session := a.LastSession()
	if session == nil {
		return nil
	}
	t := endedAt
	session.EndedAt = &t
	session.ExitCode = exitCode
	a.LastActivity = endedAt
	return nil
}

// SetBoardItemID caches the resolved remote handle for an assignment.
func (r *Registry) SetBoardItemID(id, boardItemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("registry: unknown assignment %s", id)
	}
	a.BoardItemID = boardItemID
	return nil
}

// SetPRNumber records the PR number the Worker reported.
func (r *Registry) SetPRNumber(id string, prNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("registry: unknown assignment %s", id)
	}
	n := prNumber
	a.PRNumber = &n
	return nil
}

// Remove deletes all index entries for an assignment.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byIssue, a.IssueNumber)
	delete(r.byInstance, a.InstanceID)
}

// Mutate grants exclusive, in-lock access to an assignment for a callback,
// for atomic read-then-write changes the narrow methods above do not cover.
// No package in the core calls it.
func (r *Registry) Mutate(id string, fn func(*assignment.Assignment)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("registry: unknown assignment %s", id)
	}
	fn(a)
	return nil
}

// Count returns the number of live assignments, optionally restricted to a
// status predicate.
func (r *Registry) Count(pred func(assignment.Status) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pred == nil {
		return len(r.byID)
	}
	n := 0
	for _, a := range r.byID {
		if pred(a.Status) {
			n++
		}
	}
	return n
}
