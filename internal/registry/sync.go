package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/autopilot/internal/assignment"
	"github.com/kingrea/autopilot/internal/board"
	"github.com/kingrea/autopilot/internal/telemetry"
	"go.uber.org/zap"
)

// SyncResult is the per-cycle summary returned by SyncAllFieldsFromBoard
// and surfaced to the user per §7's "user-visible surface".
type SyncResult struct {
	Synced       int
	Conflicts    int
	Removed      int
	ClearedStale int
	Errors       int
}

type boardState struct {
	status           string
	assignedInstance string
	issueNumber      int
}

// SyncAllFieldsFromBoard folds the remote board into the local registry
// following the "board wins for mapped statuses" rule (§4.4). It is always
// safe to call: it never creates an assignment, it only resolves existing
// ones. Board pagination happens outside the registry's write-lock; only
// the merge step holds it, per §5's "Reconciliation acquires the registry
// write-lock for the duration of its merge step but not during its board
// pagination."
func (r *Registry) SyncAllFieldsFromBoard(ctx context.Context, client board.Client, mapping board.StatusMapping, logger *zap.Logger, metrics *telemetry.Metrics) SyncResult {
	states, err := pageAllItems(ctx, client)
	if err != nil {
		if logger != nil {
			logger.Warn("reconciliation: failed to list board items", zap.Error(err))
		}
		if metrics != nil {
			metrics.ReconcileErrors.Inc()
		}
		return SyncResult{Errors: 1}
	}

	result := r.mergeBoardState(states, mapping, logger)
	r.clearStaleAssignedInstances(ctx, client, states, logger, &result)

	if metrics != nil {
		metrics.ReconcileConflicts.Add(float64(result.Conflicts))
		metrics.ReconcileRemoved.Add(float64(result.Removed))
		metrics.ReconcileStaleCleared.Add(float64(result.ClearedStale))
		metrics.ReconcileErrors.Add(float64(result.Errors))
	}
	return result
}

func pageAllItems(ctx context.Context, client board.Client) (map[string]boardState, error) {
	states := make(map[string]boardState)
	cursor := ""
	for {
		page, err := client.ListItems(ctx, board.ListFilter{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			states[item.BoardItemID] = boardState{
				status:           item.Status,
				assignedInstance: item.AssignedInstance,
				issueNumber:      item.IssueNumber,
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return states, nil
}

func (r *Registry) mergeBoardState(states map[string]boardState, mapping board.StatusMapping, logger *zap.Logger) SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result SyncResult
	now := time.Now().UTC()

	for id, a := range r.byID {
		if a.BoardItemID == "" {
			continue
		}
		state, ok := states[a.BoardItemID]
		if !ok {
			// Orphaned: the board item disappeared.
			r.removeLocked(id)
			result.Removed++
			continue
		}

		if state.assignedInstance == "" && a.Status == assignment.StatusInProgress {
			// The operator revoked the assignment on the board.
			r.removeLocked(id)
			result.Removed++
			continue
		}

		if local, ok := mapping.ToLocal(state.status); ok && local != a.Status {
			if err := a.ApplyStatus(local, now); err == nil {
				result.Conflicts++
				if logger != nil {
					logger.Warn("reconciliation: board status overrode local status",
						zap.String("assignment_id", a.ID),
						zap.Int("issue_number", a.IssueNumber),
						zap.String("local_status", string(a.Status)),
						zap.String("board_status", state.status))
				}
			}
			continue
		}
		result.Synced++
	}
	return result
}

func (r *Registry) removeLocked(id string) {
	a, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byIssue, a.IssueNumber)
	delete(r.byInstance, a.InstanceID)
}

// clearStaleAssignedInstances implements reconciliation step 3: any board
// entry whose status is in the ready or complete set but whose
// AssignedInstance is non-empty has that field cleared (§4.4, §8 "stale-slot
// clearing" testable property).
func (r *Registry) clearStaleAssignedInstances(ctx context.Context, client board.Client, states map[string]boardState, logger *zap.Logger, result *SyncResult) {
	ready := board.ReadySet()
	complete := board.CompleteSet()
	for boardItemID, state := range states {
		if state.assignedInstance == "" {
			continue
		}
		if !ready[state.status] && !complete[state.status] {
			continue
		}
		if err := client.SetAssignedInstance(ctx, boardItemID, ""); err != nil {
			result.Errors++
			if logger != nil {
				logger.Warn("reconciliation: failed to clear stale assigned instance", zap.String("board_item_id", boardItemID), zap.Error(err))
			}
			continue
		}
		result.ClearedStale++
	}
}

// EnsureBoardItemID caches the assignment's remote board handle on first
// use. A not-found issue (the board has no matching item, e.g. it was
// deleted) is logged but does not fail the call — the assignment simply
// keeps running with no board handle to write through to.
func (r *Registry) EnsureBoardItemID(ctx context.Context, client board.Client, id string, logger *zap.Logger) (string, error) {
	r.mu.Lock()
	a, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("registry: unknown assignment %s", id)
	}
	if a.BoardItemID != "" {
		boardItemID := a.BoardItemID
		r.mu.Unlock()
		return boardItemID, nil
	}
	issueNumber := a.IssueNumber
	r.mu.Unlock()

	boardItemID, err := client.GetItemForIssue(ctx, issueNumber)
	if err != nil {
		if logger != nil {
			logger.Warn("ensureBoardItemId: board lookup failed", zap.Int("issue_number", issueNumber), zap.Error(err))
		}
		return "", err
	}
	if boardItemID == "" {
		if logger != nil {
			logger.Warn("ensureBoardItemId: no board item found for issue", zap.Int("issue_number", issueNumber))
		}
		return "", nil
	}

	r.mu.Lock()
	if a, ok := r.byID[id]; ok {
		a.BoardItemID = boardItemID
	}
	r.mu.Unlock()
	return boardItemID, nil
}

// UpdateStatusWithSync applies a local status transition and then attempts
// a best-effort write-through to the board: on dev-complete or merged it
// also clears the board's assignedInstance field. Board I/O failures are
// logged but never fail the call — the core never blocks on board
// availability; reconciliation resolves divergence on its next cycle.
func (r *Registry) UpdateStatusWithSync(ctx context.Context, client board.Client, mapping board.StatusMapping, id string, to assignment.Status, logger *zap.Logger) (*assignment.Assignment, error) {
	updated, err := r.UpdateStatus(id, to)
	if err != nil {
		return nil, err
	}
	if updated.BoardItemID == "" || client == nil {
		return updated, nil
	}

	if boardStatus, ok := mapping.ToBoard(to); ok {
		if err := client.SetStatus(ctx, updated.BoardItemID, boardStatus); err != nil && logger != nil {
			logger.Warn("updateStatusWithSync: board write failed", zap.String("assignment_id", id), zap.Error(err))
		}
	}
	if to == assignment.StatusDevComplete || to == assignment.StatusMerged {
		if err := client.SetAssignedInstance(ctx, updated.BoardItemID, ""); err != nil && logger != nil {
			logger.Warn("updateStatusWithSync: failed to clear assigned instance", zap.String("assignment_id", id), zap.Error(err))
		}
	}
	return updated, nil
}

// LoadWithConflictDetection fetches the board status for the assignment
// tied to issueNumber and, if it maps and differs, updates local state to
// match before returning the refreshed assignment (§4.5 conflict-resolution
// read path).
func (r *Registry) LoadWithConflictDetection(ctx context.Context, client board.Client, mapping board.StatusMapping, issueNumber int) (*assignment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byIssue[issueNumber]
	if !ok {
		return nil, nil
	}
	a := r.byID[id]
	if a.BoardItemID == "" {
		return a.Clone(), nil
	}

	status, err := client.GetStatus(ctx, a.BoardItemID)
	if err != nil {
		// Degraded mode: the core never blocks on board I/O; return what we have.
		return a.Clone(), nil
	}
	if local, ok := mapping.ToLocal(status); ok && local != a.Status {
		_ = a.ApplyStatus(local, time.Now().UTC())
	}
	return a.Clone(), nil
}
