// Package epic implements the EpicCoordinator and the phase/master title
// parsing shared with PromptBuilder's kind selection. It mirrors the
// teacher's buildWorktreeName / canonicalBeadKey idiom of deriving
// structured meaning from free-form title strings via small regexps.
package epic

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/kingrea/autopilot/internal/board"
	"go.uber.org/zap"
)

var (
	phaseIntRe  = regexp.MustCompile(`(?i)phase\s+(\d+)(?:\s|$|[:.\-])`)
	phaseDotRe  = regexp.MustCompile(`(?i)phase\s+(\d+)\.(\d+)`)
	masterTokRe = regexp.MustCompile(`(?i)\bmaster\b`)
)

// TitleKind distinguishes the three title shapes §3 and §4.8 care about.
type TitleKind int

const (
	// TitleStandalone is a plain issue: no phase designator at all.
	TitleStandalone TitleKind = iota
	// TitleWorkItem matches "Phase N.M".
	TitleWorkItem
	// TitlePhaseMaster matches "Phase N" (integer only) plus the token
	// MASTER.
	TitlePhaseMaster
)

// ClassifyTitle extracts the phase designator (if any) and whether the
// item is a standalone issue, a dotted work item, or a phase master.
// phase is 0 when no "Phase N" designator is present.
func ClassifyTitle(title string) (kind TitleKind, phase int) {
	if m := phaseDotRe.FindStringSubmatch(title); m != nil {
		n, _ := strconv.Atoi(m[1])
		return TitleWorkItem, n
	}
	if m := phaseIntRe.FindStringSubmatch(title); m != nil {
		n, _ := strconv.Atoi(m[1])
		if masterTokRe.MatchString(title) {
			return TitlePhaseMaster, n
		}
		return TitleWorkItem, n
	}
	return TitleStandalone, 0
}

// IsMaster reports whether title identifies a phase master: contains the
// token "master" and an integer (never dotted) phase designator.
func IsMaster(title string) bool {
	kind, _ := ClassifyTitle(title)
	return kind == TitlePhaseMaster
}

// completeStatuses is the set of board statuses that count as "done" for
// phase-completion purposes (§4.9 step 3).
var completeStatuses = map[string]bool{
	"Done":         true,
	"Completed":    true,
	"Dev Complete": true,
}

// phaseGroup accumulates the items belonging to one phase number while
// scanning a candidate set.
type phaseGroup struct {
	number    int
	master    *board.Item
	masters   []board.Item // every master found, for duplicate detection
	workItems []board.Item
}

// MergeChecker reports whether branch has actually been merged into
// baseBranch, letting phase-completion checks verify a "Dev Complete" item
// against the repository instead of trusting the board string alone
// (§4.9 step 3).
type MergeChecker interface {
	IsMerged(ctx context.Context, branch, baseBranch string) (bool, error)
}

// Coordinator restricts a candidate set of board items to those assignable
// under one epic's phase ordering.
type Coordinator struct {
	epicName string

	// AutoMerge relaxes isPhaseComplete's master-status check from
	// BoardStatusDone down to any completeStatuses entry (including
	// Dev Complete). Set when cmd/autopilot is run with --auto-merge,
	// since a downstream merge-to-main bot is then assumed to promote
	// Dev Complete to Done fast enough that gating on the stricter
	// status would just stall the next phase for no benefit.
	AutoMerge bool

	// Merges, BranchName, and DefaultBranchName let a "Dev Complete" item
	// be verified against the repository rather than trusted at face
	// value: the core itself sets Dev Complete on worker success, before
	// any human or bot has reviewed the PR, so the board string alone
	// can't prove the branch actually landed. Leaving any of the three
	// nil falls back to the board-status-only check.
	Merges            MergeChecker
	BranchName        func(issueNumber int) string
	DefaultBranchName func() string
	Logger            *zap.Logger
}

// New returns a Coordinator scoped to one epic name.
func New(epicName string) *Coordinator {
	return &Coordinator{epicName: epicName}
}

// DuplicateMaster records a phase that had more than one item classified
// as its master. The spec leaves resolution as an open question; this
// core keeps the first master encountered in board order and reports the
// rest here so the caller can log them as InvariantViolation (§9).
type DuplicateMaster struct {
	Phase int
	Item  board.Item
}

// Restrict filters items to the epic, groups them by phase, and returns the
// subset assignable right now per §4.9's algorithm, plus any duplicate
// masters discovered along the way.
func (c *Coordinator) Restrict(ctx context.Context, items []board.Item) ([]board.Item, []DuplicateMaster) {
	matched := c.filterToEpic(items)
	groups, duplicates := groupByPhase(matched)
	if len(groups) == 0 {
		return nil, duplicates
	}

	phaseNumbers := sortedPhaseNumbers(groups)
	for _, phaseNum := range phaseNumbers {
		g := groups[phaseNum]
		if c.isPhaseComplete(ctx, g) {
			continue
		}
		// This is the current (lowest-numbered, non-complete) phase.
		if g.master != nil && g.master.AssignedInstance != "" {
			return nil, duplicates // master already assigned: hold the line
		}
		if c.allNonMasterDone(ctx, g) {
			if g.master != nil {
				return []board.Item{*g.master}, duplicates
			}
			return nil, duplicates
		}
		return unassignedWorkItems(g), duplicates
	}
	// Every phase complete.
	return nil, duplicates
}

func (c *Coordinator) filterToEpic(items []board.Item) []board.Item {
	if c.epicName == "" {
		return items
	}
	name := strings.ToLower(c.epicName)
	var out []board.Item
	for _, item := range items {
		if strings.ToLower(item.Field("epic")) == name {
			out = append(out, item)
			continue
		}
		if strings.Contains(strings.ToLower(item.Title), name) {
			out = append(out, item)
		}
	}
	return out
}

func groupByPhase(items []board.Item) (map[int]*phaseGroup, []DuplicateMaster) {
	groups := make(map[int]*phaseGroup)
	var duplicates []DuplicateMaster
	for _, item := range items {
		kind, phase := ClassifyTitle(item.Title)
		g, ok := groups[phase]
		if !ok {
			g = &phaseGroup{number: phase}
			groups[phase] = g
		}
		if kind == TitlePhaseMaster {
			g.masters = append(g.masters, item)
			if g.master == nil {
				item := item
				g.master = &item
			} else {
				duplicates = append(duplicates, DuplicateMaster{Phase: phase, Item: item})
			}
			continue
		}
		g.workItems = append(g.workItems, item)
	}
	return groups, duplicates
}

func sortedPhaseNumbers(groups map[int]*phaseGroup) []int {
	nums := make([]int, 0, len(groups))
	for n := range groups {
		nums = append(nums, n)
	}
	for i := 1; i < len(nums); i++ {
		for j := i; j > 0 && nums[j-1] > nums[j]; j-- {
			nums[j-1], nums[j] = nums[j], nums[j-1]
		}
	}
	return nums
}

// isPhaseComplete resolves an ambiguity in the phase-completion rule left
// open by the spec (§9): taken literally, "isComplete" checks only
// non-master work items, which would let a phase with all items done but
// an unmerged master be skipped as "complete" — making its master
// unreturnable. A phase is therefore only complete once every non-master
// item is done AND its master (if any) is itself done/merged; a master-only
// phase with no work items is "all work complete" but still incomplete
// until the master merges, matching "its master is returnable".
func (c *Coordinator) isPhaseComplete(ctx context.Context, g *phaseGroup) bool {
	if len(g.workItems) == 0 && g.master == nil {
		return false // an empty phase is never considered complete
	}
	for _, item := range g.workItems {
		if !c.itemVerified(ctx, item) {
			return false
		}
	}
	if g.master == nil {
		return true
	}
	if c.AutoMerge {
		return c.itemVerified(ctx, *g.master)
	}
	return g.master.Status == board.BoardStatusDone
}

func (c *Coordinator) allNonMasterDone(ctx context.Context, g *phaseGroup) bool {
	for _, item := range g.workItems {
		if !c.itemVerified(ctx, item) {
			return false
		}
	}
	return true
}

// itemVerified reports whether item counts as actually done: "Done" (or
// "Completed") is trusted outright since the board's Done is written by the
// downstream merge-to-main subsystem, never by this core. "Dev Complete" is
// this core's own self-reported status on worker success, set before any
// review, so it is only trusted once Merges confirms the branch actually
// landed in the default branch — or, if no MergeChecker is wired, trusted
// as before (§4.9 step 3).
func (c *Coordinator) itemVerified(ctx context.Context, item board.Item) bool {
	switch item.Status {
	case board.BoardStatusDone, "Completed":
		return true
	case board.BoardStatusDevComplete:
	default:
		return false
	}
	if c.Merges == nil || c.BranchName == nil || c.DefaultBranchName == nil {
		return true
	}
	merged, err := c.Merges.IsMerged(ctx, c.BranchName(item.IssueNumber), c.DefaultBranchName())
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("epic: merge check failed, treating item as unmerged",
				zap.Int("issue_number", item.IssueNumber), zap.Error(err))
		}
		return false
	}
	return merged
}

// SiblingIssueNumbers returns the issue numbers of every non-master item in
// the same phase as title, for building a phase master's merge-list prompt
// (§4.8 "phaseMaster" template).
func SiblingIssueNumbers(items []board.Item, title string) []int {
	_, phase := ClassifyTitle(title)
	var out []int
	for _, item := range items {
		kind, p := ClassifyTitle(item.Title)
		if p != phase || kind == TitlePhaseMaster {
			continue
		}
		out = append(out, item.IssueNumber)
	}
	return out
}

func unassignedWorkItems(g *phaseGroup) []board.Item {
	var out []board.Item
	for _, item := range g.workItems {
		if completeStatuses[item.Status] {
			continue
		}
		if item.AssignedInstance != "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
