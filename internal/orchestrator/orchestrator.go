// Package orchestrator implements the top-level scheduling loop described
// in spec §4.10: on start it reconciles against the board and rebuilds the
// slot pool, then on every tick it asks the Evaluator for ready candidates,
// restricts them through the EpicCoordinator when epic mode is on, and
// spawns one ItemLifecycleSupervisor goroutine per candidate while slots
// remain free. It is the direct descendant of the teacher's upCycleManager
// dispatch loop (one goroutine per in-flight unit of work, a periodic
// reconciliation pass, graceful drain on shutdown) generalized from a fixed
// tmux-session roster to a per-provider slot pool sized from config.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/kingrea/autopilot/internal/board"
	"github.com/kingrea/autopilot/internal/epic"
	"github.com/kingrea/autopilot/internal/evaluator"
	"github.com/kingrea/autopilot/internal/lifecycle"
	"github.com/kingrea/autopilot/internal/registry"
	"github.com/kingrea/autopilot/internal/slot"
	"github.com/kingrea/autopilot/internal/telemetry"
	"go.uber.org/zap"
)

// EventKind classifies an Event published on Orchestrator.Events.
type EventKind string

const (
	EventSpawned  EventKind = "spawned"
	EventFinished EventKind = "finished"
)

// Event is a status transition any future UI can subscribe to (§1, §4.10).
type Event struct {
	Kind        EventKind
	IssueNumber int
	InstanceID  string
	Err         error
	At          time.Time
}

// Deps bundles every collaborator the loop drives.
type Deps struct {
	Registry  *registry.Registry
	Slots     *slot.Allocator
	Board     board.Client
	StatusMap board.StatusMapping
	Evaluator evaluator.Evaluator

	// Epic, when non-nil, restricts candidates to one epic's phase
	// ordering (§4.9). Nil disables epic mode entirely.
	Epic *epic.Coordinator

	// LifecycleDeps is cloned per spawned item; its Board/Registry/Slots
	// fields should match the ones above.
	LifecycleDeps lifecycle.Deps
	BaseBranch    func() string

	TickInterval      time.Duration
	ReconcileInterval time.Duration

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Orchestrator drives Deps.Evaluator and Deps.Epic against a pool of
// ItemLifecycleSupervisor goroutines until its context is cancelled.
type Orchestrator struct {
	deps Deps

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
	Events  chan Event
}

// New constructs an Orchestrator. Events is buffered so supervisors never
// block publishing a transition; once the buffer is full because of a slow
// or absent consumer, each newly published event is dropped and the events
// already queued are kept.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		cancels: make(map[string]context.CancelFunc),
		Events:  make(chan Event, 256),
	}
}

// Run executes on_start then the tick loop until ctx is cancelled, at which
// point it cancels every live supervisor and waits for them to stop before
// returning (§4.10's on_shutdown).
func (o *Orchestrator) Run(ctx context.Context) error {
	o.reconcile(ctx)
	o.rebuildSlotPool()

	tick := o.deps.TickInterval
	if tick <= 0 {
		tick = 5 * time.Second
	}
	reconcileEvery := o.deps.ReconcileInterval
	if reconcileEvery <= 0 {
		reconcileEvery = 60 * time.Second
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	lastReconcile := time.Now()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			o.dispatchTick(ctx)
			if time.Since(lastReconcile) >= reconcileEvery {
				o.reconcile(ctx)
				lastReconcile = time.Now()
			}
		}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context) {
	result := o.deps.Registry.SyncAllFieldsFromBoard(ctx, o.deps.Board, o.deps.StatusMap, o.deps.Logger, o.deps.Metrics)
	if o.deps.Logger != nil {
		o.deps.Logger.Info("orchestrator: reconciliation complete",
			zap.Int("synced", result.Synced),
			zap.Int("conflicts", result.Conflicts),
			zap.Int("removed", result.Removed),
			zap.Int("cleared_stale", result.ClearedStale),
			zap.Int("errors", result.Errors))
	}
}

func (o *Orchestrator) rebuildSlotPool() {
	o.deps.Slots.RebuildFromRegistry(o.deps.Registry.InstancesInUse())
}

func (o *Orchestrator) dispatchTick(ctx context.Context) {
	free := o.deps.Slots.FreeSlots()
	if free <= 0 {
		return
	}

	candidates, err := o.deps.Evaluator.PickReadyItems(ctx, free)
	if err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Warn("orchestrator: evaluator failed", zap.Error(err))
		}
		return
	}

	var duplicates []epic.DuplicateMaster
	if o.deps.Epic != nil {
		candidates, duplicates = o.deps.Epic.Restrict(ctx, candidates)
		for _, d := range duplicates {
			if o.deps.Logger != nil {
				o.deps.Logger.Warn("orchestrator: duplicate phase master ignored",
					zap.Int("phase", d.Phase), zap.String("board_item_id", d.Item.BoardItemID))
			}
		}
	}

	baseBranch := ""
	if o.deps.BaseBranch != nil {
		baseBranch = o.deps.BaseBranch()
	}

	for _, candidate := range candidates {
		if o.deps.Slots.FreeSlots() <= 0 {
			break
		}
		item := lifecycle.Item{Item: candidate, BaseBranch: baseBranch}
		if epic.IsMaster(candidate.Title) {
			for _, issue := range epic.SiblingIssueNumbers(candidates, candidate.Title) {
				item.SiblingBranches = append(item.SiblingBranches, o.deps.LifecycleDeps.BranchName(issue))
			}
		}
		o.spawn(ctx, item)
	}
}

func (o *Orchestrator) spawn(parent context.Context, item lifecycle.Item) {
	runCtx, cancel := context.WithCancel(parent)
	instanceKey := item.BoardItemID

	o.mu.Lock()
	o.cancels[instanceKey] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	o.publish(Event{Kind: EventSpawned, IssueNumber: item.IssueNumber, At: time.Now()})

	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, instanceKey)
			o.mu.Unlock()
			cancel()
		}()

		err := lifecycle.Run(runCtx, o.deps.LifecycleDeps, item)
		o.publish(Event{Kind: EventFinished, IssueNumber: item.IssueNumber, Err: err, At: time.Now()})
		if err != nil && o.deps.Logger != nil && err != context.Canceled {
			o.deps.Logger.Warn("orchestrator: supervisor exited with error",
				zap.Int("issue_number", item.IssueNumber), zap.Error(err))
		}
	}()
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, cancel := range o.cancels {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	o.wg.Wait()
}

// publish sends e without blocking; a full channel drops the event rather
// than stall the dispatch loop (§4.10's events hook is best-effort).
func (o *Orchestrator) publish(e Event) {
	select {
	case o.Events <- e:
	default:
	}
}
