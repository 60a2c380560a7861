// Package lifecycle implements the ItemLifecycleSupervisor: it owns one
// assignment end-to-end, from slot acquisition through a terminal status,
// as an independent unit of concurrency. Its monitor loop is the direct
// descendant of the teacher's runSession polling loop in upcycle.go, which
// also dispatches a unit of work, polls for a completion marker, and
// re-dispatches on the next cycle — here replaced with a 5s isRunning poll
// and a single resurrection instead of an unbounded cycle count.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kingrea/autopilot/internal/assignment"
	"github.com/kingrea/autopilot/internal/board"
	"github.com/kingrea/autopilot/internal/epic"
	"github.com/kingrea/autopilot/internal/prompt"
	"github.com/kingrea/autopilot/internal/registry"
	"github.com/kingrea/autopilot/internal/signal"
	"github.com/kingrea/autopilot/internal/slot"
	"github.com/kingrea/autopilot/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultMonitorPollInterval is the poll cadence production wiring should
// use; Deps.MonitorPollInterval overrides it when non-zero so tests can run
// the monitor loop without a real 5s wait.
const DefaultMonitorPollInterval = 5 * time.Second

// Item is the minimal shape the supervisor needs from a candidate board
// entry to start work on it.
type Item struct {
	board.Item
	BaseBranch      string
	SiblingBranches []string // populated for phase masters
}

// ProcessRunner is the slice of *process.Supervisor the supervisor drives.
// Narrowed to an interface so tests can substitute a fake instead of
// spawning real PTY children.
type ProcessRunner interface {
	Start(command string, args []string, prompt, cwd, logPath, instanceID string) (int, error)
	IsRunning(instanceID string) bool
	ExitCode(instanceID string) *int
	Stop(instanceID string) error
}

// WorktreeEnsurer is the slice of *worktree.Provider the supervisor drives.
type WorktreeEnsurer interface {
	Ensure(ctx context.Context, branchName, path, baseBranch string) (string, error)
}

// Deps bundles every collaborator the supervisor drives. All fields are
// required except SessionPath, PromptPath, Logger, Metrics and
// MonitorPollInterval, which may be left zero.
type Deps struct {
	Registry    *registry.Registry
	Slots       *slot.Allocator
	Worktrees   WorktreeEnsurer
	Process     ProcessRunner
	Board       board.Client
	StatusMap   board.StatusMapping
	ProvidersIn []assignment.Provider // preference order when choosing a provider
	ProviderCmd func(assignment.Provider) string
	WorktreeDir func(issueNumber int) string
	BranchName  func(issueNumber int) string
	LogPath     func(instanceID string) string

	// SessionPath and PromptPath, when set, locate the per-instance session
	// descriptor and the exact prompt text sent to the Worker CLI (§6). Both
	// are optional: a nil func skips writing the corresponding file.
	SessionPath func(instanceID string) string
	PromptPath  func(instanceID string) string

	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	// MonitorPollInterval overrides DefaultMonitorPollInterval when non-zero.
	MonitorPollInterval time.Duration
}

func (d Deps) monitorPollInterval() time.Duration {
	if d.MonitorPollInterval > 0 {
		return d.MonitorPollInterval
	}
	return DefaultMonitorPollInterval
}

// ErrNoSlotAvailable is returned by Run when every provider's pool is
// exhausted. It is ordinary backpressure, not a failure: the orchestrator
// simply retries the candidate on a later tick once a slot frees up.
var ErrNoSlotAvailable = errors.New("lifecycle: no slot available")

// Run drives one item from Prepare through a terminal status. It blocks
// until the assignment reaches a terminal state or ctx is cancelled.
func Run(ctx context.Context, deps Deps, item Item) error {
	provider, instanceID, ok := acquireSlot(deps)
	if !ok {
		return ErrNoSlotAvailable
	}
	defer deps.Slots.Release(instanceID)

	a, err := prepare(ctx, deps, item, provider, instanceID)
	if err != nil {
		return err
	}

	kind, siblings := classify(item)
	logPath := deps.LogPath(instanceID)
	text := prompt.Build(prompt.Input{
		Kind:            kind,
		IssueNumber:     item.IssueNumber,
		Title:           item.Title,
		Body:            item.Body,
		BranchName:      a.BranchName,
		WorktreePath:    a.WorktreePath,
		BaseBranch:      item.BaseBranch,
		RequiresTests:   true,
		RequiresCI:      true,
		SiblingBranches: siblings,
	})

	if err := launch(ctx, deps, a, text, logPath); err != nil {
		abandon(ctx, deps, a, err)
		return err
	}

	return monitor(ctx, deps, a, logPath, kind == prompt.KindPhaseMaster)
}

// abandon marks an assignment that never reached a running process as
// failed and frees its issue number for a later retry, since a stuck
// "assigned" record would otherwise block that issue forever (§3's at-most-
// one-live-assignment invariant has no other way to release it).
func abandon(ctx context.Context, deps Deps, a *assignment.Assignment, cause error) {
	if _, err := deps.Registry.UpdateStatusWithSync(ctx, deps.Board, deps.StatusMap, a.ID, assignment.StatusFailed, deps.Logger); err != nil && deps.Logger != nil {
		deps.Logger.Warn("lifecycle: failed to mark abandoned assignment failed", zap.String("assignment_id", a.ID), zap.Error(err))
	}
	deps.Registry.Remove(a.ID)
	if deps.Logger != nil {
		deps.Logger.Warn("lifecycle: abandoned assignment before launch completed", zap.String("assignment_id", a.ID), zap.Error(cause))
	}
}

func acquireSlot(deps Deps) (assignment.Provider, string, bool) {
	for _, p := range deps.ProvidersIn {
		if instanceID, ok := deps.Slots.Acquire(p); ok {
			return p, instanceID, true
		}
	}
	return "", "", false
}

func classify(item Item) (prompt.Kind, []string) {
	if epic.IsMaster(item.Title) {
		return prompt.KindPhaseMaster, item.SiblingBranches
	}
	titleKind, _ := epic.ClassifyTitle(item.Title)
	if titleKind == epic.TitleWorkItem {
		return prompt.KindWorkItem, nil
	}
	return prompt.KindInitial, nil
}

func prepare(ctx context.Context, deps Deps, item Item, provider assignment.Provider, instanceID string) (*assignment.Assignment, error) {
	branch := deps.BranchName(item.IssueNumber)
	path := deps.WorktreeDir(item.IssueNumber)

	kind, _ := classify(item)
	a, err := deps.Registry.Create(registry.CreateInput{
		IssueNumber:  item.IssueNumber,
		InstanceID:   instanceID,
		Provider:     provider,
		WorktreePath: path,
		BranchName:   branch,
		Metadata: assignment.Metadata{
			RequiresTests: true,
			RequiresCI:    true,
			IsPhaseMaster: kind == prompt.KindPhaseMaster,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create assignment for issue %d: %w", item.IssueNumber, err)
	}

	boardItemID, err := deps.Registry.EnsureBoardItemID(ctx, deps.Board, a.ID, deps.Logger)
	if err != nil && deps.Logger != nil {
		deps.Logger.Warn("lifecycle: ensureBoardItemId failed", zap.Int("issue_number", item.IssueNumber), zap.Error(err))
	}
	a.BoardItemID = boardItemID

	if _, err := deps.Worktrees.Ensure(ctx, branch, path, item.BaseBranch); err != nil {
		wrapped := fmt.Errorf("lifecycle: ensure worktree for issue %d: %w", item.IssueNumber, err)
		abandon(ctx, deps, a, wrapped)
		return nil, wrapped
	}

	return a, nil
}

// sessionRecord is the on-disk descriptor written to SessionPath while an
// instance is live. A file left behind after an orchestrator restart marks
// an instance that never reached a clean stop.
type sessionRecord struct {
	InstanceID  string    `json:"instance_id"`
	IssueNumber int       `json:"issue_number"`
	Provider    string    `json:"provider"`
	Pid         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
}

func writeSession(deps Deps, a *assignment.Assignment, pid int) {
	if deps.SessionPath == nil {
		return
	}
	data, err := json.Marshal(sessionRecord{
		InstanceID:  a.InstanceID,
		IssueNumber: a.IssueNumber,
		Provider:    string(a.Provider),
		Pid:         pid,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := os.WriteFile(deps.SessionPath(a.InstanceID), data, 0o644); err != nil && deps.Logger != nil {
		deps.Logger.Warn("lifecycle: failed to write session file", zap.String("instance_id", a.InstanceID), zap.Error(err))
	}
}

// clearSession removes the session descriptor on a clean stop (§6): the
// instance reached a terminal status or was cancelled through the normal
// monitor loop rather than vanishing mid-session.
func clearSession(deps Deps, instanceID string) {
	if deps.SessionPath == nil {
		return
	}
	if err := os.Remove(deps.SessionPath(instanceID)); err != nil && !os.IsNotExist(err) && deps.Logger != nil {
		deps.Logger.Warn("lifecycle: failed to remove session file", zap.String("instance_id", instanceID), zap.Error(err))
	}
}

func writePrompt(deps Deps, instanceID, text string) {
	if deps.PromptPath == nil {
		return
	}
	if err := os.WriteFile(deps.PromptPath(instanceID), []byte(text), 0o644); err != nil && deps.Logger != nil {
		deps.Logger.Warn("lifecycle: failed to write prompt file", zap.String("instance_id", instanceID), zap.Error(err))
	}
}

func launch(ctx context.Context, deps Deps, a *assignment.Assignment, promptText, logPath string) error {
	command := deps.ProviderCmd(a.Provider)
	pid, err := deps.Process.Start(command, nil, promptText, a.WorktreePath, logPath, a.InstanceID)
	if err != nil {
		return fmt.Errorf("lifecycle: start process for instance %s: %w", a.InstanceID, err)
	}
	writeSession(deps, a, pid)
	writePrompt(deps, a.InstanceID, promptText)

	if _, err := deps.Registry.UpdateStatusWithSync(ctx, deps.Board, deps.StatusMap, a.ID, assignment.StatusInProgress, deps.Logger); err != nil {
		return fmt.Errorf("lifecycle: mark in-progress: %w", err)
	}
	if a.BoardItemID != "" {
		if err := deps.Board.SetAssignedInstance(ctx, a.BoardItemID, a.InstanceID); err != nil && deps.Logger != nil {
			deps.Logger.Warn("lifecycle: failed to set assigned instance on board", zap.String("assignment_id", a.ID), zap.Error(err))
		}
	}
	return deps.Registry.AppendWorkSession(a.ID, assignment.WorkSession{
		StartedAt:  time.Now().UTC(),
		PromptUsed: promptText,
	})
}

// monitor implements the 5s poll loop and single-resurrection rule (§4.7
// steps 3-5).
func monitor(ctx context.Context, deps Deps, a *assignment.Assignment, logPath string, allowHeuristic bool) error {
	ticker := time.NewTicker(deps.monitorPollInterval())
	defer ticker.Stop()

	resurrected := false
	for {
		select {
		case <-ctx.Done():
			return cancel(deps, a)
		case <-ticker.C:
			if deps.Process.IsRunning(a.InstanceID) {
				continue
			}

			log, readErr := readLog(logPath)
			if readErr != nil && deps.Logger != nil {
				deps.Logger.Warn("lifecycle: failed to read log", zap.String("instance_id", a.InstanceID), zap.Error(readErr))
			}
			result := signal.Parse(log, allowHeuristic)

			switch result.Outcome {
			case signal.OutcomeFailed:
				return finish(ctx, deps, a, assignment.StatusFailed, result.Reason)
			case signal.OutcomeBlocked:
				return finish(ctx, deps, a, assignment.StatusBlocked, result.Reason)
			case signal.OutcomeComplete, signal.OutcomeLikelyComplete:
				return finalizeComplete(ctx, deps, a, result)
			default:
				if resurrected {
					return finish(ctx, deps, a, assignment.StatusFailed, "process exited without completion")
				}
				resurrected = true
				if err := resurrect(ctx, deps, a, logPath); err != nil {
					return err
				}
			}
		}
	}
}

func finalizeComplete(ctx context.Context, deps Deps, a *assignment.Assignment, result signal.Result) error {
	if result.PRNumber != nil {
		_ = deps.Registry.SetPRNumber(a.ID, *result.PRNumber)
	}
	if _, err := deps.Registry.UpdateStatusWithSync(ctx, deps.Board, deps.StatusMap, a.ID, assignment.StatusDevComplete, deps.Logger); err != nil {
		return fmt.Errorf("lifecycle: mark dev-complete: %w", err)
	}
	if a.BoardItemID != "" {
		if err := deps.Board.SetStatus(ctx, a.BoardItemID, board.BoardStatusDevComplete); err != nil && deps.Logger != nil {
			deps.Logger.Warn("lifecycle: failed to set board status", zap.String("assignment_id", a.ID), zap.Error(err))
		}
	}
	clearSession(deps, a.InstanceID)
	return nil
}

func finish(ctx context.Context, deps Deps, a *assignment.Assignment, status assignment.Status, reason string) error {
	if _, err := deps.Registry.UpdateStatusWithSync(ctx, deps.Board, deps.StatusMap, a.ID, status, deps.Logger); err != nil {
		return fmt.Errorf("lifecycle: mark %s: %w", status, err)
	}
	if a.BoardItemID != "" {
		if err := deps.Board.SetAssignedInstance(ctx, a.BoardItemID, ""); err != nil && deps.Logger != nil {
			deps.Logger.Warn("lifecycle: failed to clear assigned instance on board", zap.String("assignment_id", a.ID), zap.Error(err))
		}
	}
	if deps.Logger != nil {
		deps.Logger.Warn("lifecycle: assignment reached terminal unsuccessful status", zap.String("assignment_id", a.ID), zap.String("status", string(status)), zap.String("reason", reason))
	}
	clearSession(deps, a.InstanceID)
	return nil
}

func resurrect(ctx context.Context, deps Deps, a *assignment.Assignment, logPath string) error {
	if deps.Metrics != nil {
		deps.Metrics.LifecycleResurrections.Inc()
	}
	var previousSummary string
	if got, ok := deps.Registry.Get(a.ID); ok {
		if session := got.LastSession(); session != nil {
			previousSummary = session.Summary
		}
	}

	text := prompt.Build(prompt.Input{
		Kind:            prompt.KindContinuation,
		IssueNumber:     a.IssueNumber,
		Title:           fmt.Sprintf("issue #%d", a.IssueNumber),
		WorktreePath:    a.WorktreePath,
		PreviousSummary: previousSummary,
	})

	command := deps.ProviderCmd(a.Provider)
	pid, err := deps.Process.Start(command, nil, text, a.WorktreePath, logPath, a.InstanceID)
	if err != nil {
		return fmt.Errorf("lifecycle: resurrect instance %s: %w", a.InstanceID, err)
	}
	writeSession(deps, a, pid)
	writePrompt(deps, a.InstanceID, text)
	return deps.Registry.AppendWorkSession(a.ID, assignment.WorkSession{
		StartedAt:  time.Now().UTC(),
		PromptUsed: text,
	})
}

func cancel(deps Deps, a *assignment.Assignment) error {
	_ = deps.Process.Stop(a.InstanceID)
	now := time.Now().UTC()
	exitCode := deps.Process.ExitCode(a.InstanceID)
	_ = deps.Registry.EndLastWorkSession(a.ID, now, exitCode)
	clearSession(deps, a.InstanceID)
	return context.Canceled
}

// readLog reads the Worker's log file. A missing file (the process never
// wrote anything before exiting) yields an empty log rather than an error,
// since signal.Parse treats an empty log as "no signal" correctly on its
// own.
func readLog(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
