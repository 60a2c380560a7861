package prompt

import (
	"strings"
	"testing"
)

func TestBuildAppendsCompletionSignalContractToEveryKind(t *testing.T) {
	kinds := []Kind{KindInitial, KindWorkItem, KindPhaseMaster, KindContinuation}
	for _, k := range kinds {
		out := Build(Input{Kind: k, IssueNumber: 1, Title: "Add login page"})
		if !containsAll(out, "AUTONOMOUS_SIGNAL:COMPLETE", "AUTONOMOUS_SIGNAL:BLOCKED", "AUTONOMOUS_SIGNAL:FAILED") {
			t.Errorf("Build(%v) missing completion signal contract: %s", k, out)
		}
	}
}

func TestBuildWorkItemForbidsOpeningAPullRequest(t *testing.T) {
	out := Build(Input{Kind: KindWorkItem, IssueNumber: 2, Title: "Phase 1.1: cart"})
	if !containsAll(out, "do NOT create a pull request") {
		t.Errorf("expected work item prompt to forbid opening a PR, got: %s", out)
	}
}

func TestBuildPhaseMasterListsSiblingBranches(t *testing.T) {
	out := Build(Input{
		Kind:            KindPhaseMaster,
		IssueNumber:     3,
		Title:           "Phase 1 MASTER: checkout-revamp",
		SiblingBranches: []string{"autopilot/issue-1", "autopilot/issue-2"},
	})
	if !containsAll(out, "autopilot/issue-1", "autopilot/issue-2", "create a pull request for this phase") {
		t.Errorf("expected phase master prompt to list siblings and request a PR, got: %s", out)
	}
}

func TestBuildPhaseMasterWithNoSiblingsStillNamesTheGap(t *testing.T) {
	out := Build(Input{Kind: KindPhaseMaster, IssueNumber: 3, Title: "Phase 1 MASTER: checkout-revamp"})
	if !containsAll(out, "no sibling branches recorded") {
		t.Errorf("expected a note about missing siblings, got: %s", out)
	}
}

func TestBuildContinuationIncludesPreviousSummaryWhenPresent(t *testing.T) {
	withSummary := Build(Input{Kind: KindContinuation, IssueNumber: 4, Title: "issue #4", PreviousSummary: "left off mid-refactor"})
	if !containsAll(withSummary, "left off mid-refactor") {
		t.Errorf("expected previous summary to be included, got: %s", withSummary)
	}

	without := Build(Input{Kind: KindContinuation, IssueNumber: 4, Title: "issue #4"})
	if !containsAll(without, "left no summary") {
		t.Errorf("expected a note about a missing summary, got: %s", without)
	}
}

func TestBuildHonorsRequiresTestsAndRequiresCIFlags(t *testing.T) {
	both := Build(Input{Kind: KindInitial, RequiresTests: true, RequiresCI: true})
	if !containsAll(both, "Run the project's test suite", "CI-required checks") {
		t.Errorf("expected both instructions present, got: %s", both)
	}

	neither := Build(Input{Kind: KindInitial})
	if containsAny(neither, "Run the project's test suite", "CI-required checks") {
		t.Errorf("expected no test/CI instructions when both flags are false, got: %s", neither)
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
