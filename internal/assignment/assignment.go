// Package assignment holds the core's data model: one Assignment per
// attempt to implement one issue, its status state machine, and the
// work-session history attached to it. Nothing in this package performs
// I/O; it is pure data plus the transition rules that govern it.
package assignment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider identifies which Worker CLI backs an assignment.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderCodex  Provider = "codex"
)

// Status is the tagged AssignmentStatus variant from the data model.
// The totally-ordered terminal set is:
//
//	assigned -> in-progress -> {dev-complete | blocked | failed} -> {merged}
//
// Only dev-complete and merged are "done"; blocked and failed are
// terminal-but-unsuccessful.
type Status string

const (
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in-progress"
	StatusDevComplete Status = "dev-complete"
	StatusBlocked     Status = "blocked"
	StatusFailed      Status = "failed"
	StatusMerged      Status = "merged"
)

// IsDone reports whether the status represents successful completion.
func (s Status) IsDone() bool {
	return s == StatusDevComplete || s == StatusMerged
}

// IsTerminal reports whether the status can no longer advance except
// through an explicit board-driven transition (merged).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDevComplete, StatusBlocked, StatusFailed, StatusMerged:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the state machine's edges. A transition not
// present here is rejected with orchestrerr.InvariantViolation by callers
// (the registry enforces this; this package only exposes the table so the
// rule lives in one place).
var allowedTransitions = map[Status]map[Status]bool{
	StatusAssigned: {
		StatusInProgress: true,
		StatusFailed:     true, // e.g. worktree/prepare failure before launch
	},
	StatusInProgress: {
		StatusDevComplete: true,
		StatusBlocked:     true,
		StatusFailed:      true,
		StatusInProgress:  true, // reconciliation re-stamping lastActivity
	},
	StatusDevComplete: {
		StatusMerged: true,
	},
	StatusBlocked: {},
	StatusFailed:  {},
	StatusMerged:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		// Idempotent re-application (e.g. reconciliation observing the same
		// board status twice) is always allowed.
		return true
	}
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// WorkSession records one Worker CLI process lifetime within an assignment.
type WorkSession struct {
	StartedAt  time.Time
	EndedAt    *time.Time
	PromptUsed string
	Summary    string
	ExitCode   *int
}

// Ended reports whether this session has a recorded end time.
func (w WorkSession) Ended() bool {
	return w.EndedAt != nil
}

// Metadata captures the per-assignment flags that shape prompt construction
// and downstream review policy.
type Metadata struct {
	RequiresTests bool
	RequiresCI    bool
	IsPhaseMaster bool
}

// Assignment is one attempt to implement one issue. It is exclusively owned
// by the Orchestrator's registry. Registry read methods return clones, so
// changes made to a returned value never reach the registry; every mutation
// goes through registry methods.
type Assignment struct {
	ID          string
	IssueNumber int
	InstanceID  string
	BoardItemID string // opaque remote handle; empty until resolved

	Provider     Provider
	WorktreePath string
	BranchName   string
	Status       Status

	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	MergedAt     *time.Time
	LastActivity time.Time

	WorkSessions []WorkSession
	Metadata     Metadata

	PRNumber *int
	PRURL    string
	CIStatus string

	// Labels holds free-form labels (supplement to the distilled data
	// model). Clone copies it; no other code in the core sets or reads it.
	Labels []string
}

// New constructs a fresh Assignment with status "assigned" and a newly
// generated ID. It does not register the assignment anywhere; that is the
// registry's job.
func New(issueNumber int, instanceID string, provider Provider, worktreePath, branchName string, meta Metadata) *Assignment {
	now := time.Now().UTC()
	return &Assignment{
		ID:           uuid.NewString(),
		IssueNumber:  issueNumber,
		InstanceID:   instanceID,
		Provider:     provider,
		WorktreePath: worktreePath,
		BranchName:   branchName,
		Status:       StatusAssigned,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     meta,
	}
}

// Clone returns a deep-enough value copy safe to hand to callers outside
// the registry's lock (work sessions and labels are copied; nested pointer
// fields keep the same underlying time value since time.Time is immutable).
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	clone := *a
	clone.WorkSessions = append([]WorkSession(nil), a.WorkSessions...)
	clone.Labels = append([]string(nil), a.Labels...)
	return &clone
}

// ApplyStatus validates and applies a status transition, stamping the
// relevant timestamp the first time the assignment enters that state.
func (a *Assignment) ApplyStatus(to Status, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for assignment %s", a.Status, to, a.ID)
	}
	a.Status = to
	a.LastActivity = now
	switch to {
	case StatusInProgress:
		if a.StartedAt == nil {
			t := now
			a.StartedAt = &t
		}
	case StatusDevComplete, StatusBlocked, StatusFailed:
		if a.CompletedAt == nil {
			t := now
			a.CompletedAt = &t
		}
	case StatusMerged:
		if a.MergedAt == nil {
			t := now
			a.MergedAt = &t
		}
	}
	return nil
}

// AppendWorkSession adds a session and bumps LastActivity.
func (a *Assignment) AppendWorkSession(session WorkSession) {
	a.WorkSessions = append(a.WorkSessions, session)
	a.LastActivity = time.Now().UTC()
}

// LastSession returns a pointer to the most recent session, or nil if none.
func (a *Assignment) LastSession() *WorkSession {
	if len(a.WorkSessions) == 0 {
		return nil
	}
	return &a.WorkSessions[len(a.WorkSessions)-1]
}
