// Package prompt builds the text sent to a Worker CLI on launch. It is a
// pure function, the same shape as the teacher's buildAgentPrompt and
// buildOrchestratorPrompt (plain fmt.Sprintf templates, no I/O).
package prompt

import (
	"fmt"
	"strings"
)

// Kind selects which template Build renders.
type Kind string

const (
	KindInitial      Kind = "initial"
	KindWorkItem     Kind = "work_item"
	KindPhaseMaster  Kind = "phase_master"
	KindContinuation Kind = "continuation"
)

// Input carries everything a template needs. Not every field applies to
// every kind; Build ignores fields that don't apply.
type Input struct {
	Kind            Kind
	IssueNumber     int
	Title           string
	Body            string
	BranchName      string
	WorktreePath    string
	BaseBranch      string
	RequiresTests   bool
	RequiresCI      bool
	SiblingBranches []string // phaseMaster only: branches to merge in
	PreviousSummary string   // continuation only
}

// completionSignalContract is appended to every variant: it is the sole
// protocol between Worker and core (§4.8).
const completionSignalContract = `
When your work reaches a terminal state, emit exactly one of the following
on its own line before exiting:

  AUTONOMOUS_SIGNAL:COMPLETE
  AUTONOMOUS_SIGNAL:PR:<pr number>
  AUTONOMOUS_SIGNAL:BLOCKED:<short reason>
  AUTONOMOUS_SIGNAL:FAILED:<short reason>

PR:<n> is independent of the others and may appear alongside COMPLETE when
you opened or updated a pull request. Emit nothing else on that line.
`

// Build renders the prompt text for in.Kind.
func Build(in Input) string {
	var b strings.Builder
	switch in.Kind {
	case KindInitial:
		writeInitial(&b, in)
	case KindWorkItem:
		writeWorkItem(&b, in)
	case KindPhaseMaster:
		writePhaseMaster(&b, in)
	case KindContinuation:
		writeContinuation(&b, in)
	default:
		writeInitial(&b, in)
	}
	b.WriteString(completionSignalContract)
	return b.String()
}

func writeInitial(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "You are working issue #%d: %s\n\n", in.IssueNumber, in.Title)
	if in.Body != "" {
		fmt.Fprintf(b, "Description:\n%s\n\n", in.Body)
	}
	fmt.Fprintf(b, "Your branch %q is already checked out at %s (based on %s). Implement the change there.\n", in.BranchName, in.WorktreePath, in.BaseBranch)
	writeTestAndCIInstructions(b, in)
	b.WriteString("When the implementation is ready, push your branch and create a pull request.\n")
}

func writeWorkItem(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "You are working issue #%d: %s\n\n", in.IssueNumber, in.Title)
	if in.Body != "" {
		fmt.Fprintf(b, "Description:\n%s\n\n", in.Body)
	}
	fmt.Fprintf(b, "Your branch %q is already checked out at %s (based on %s). Implement the change there.\n", in.BranchName, in.WorktreePath, in.BaseBranch)
	writeTestAndCIInstructions(b, in)
	b.WriteString("Push your branch when ready, but do NOT create a pull request — the phase master will merge your branch.\n")
}

func writePhaseMaster(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "You are the phase master for issue #%d: %s\n\n", in.IssueNumber, in.Title)
	fmt.Fprintf(b, "Your branch %q is checked out at %s (based on %s).\n", in.BranchName, in.WorktreePath, in.BaseBranch)
	b.WriteString("Merge in every sibling work-item branch listed below, resolving conflicts as needed:\n")
	if len(in.SiblingBranches) == 0 {
		b.WriteString("  (no sibling branches recorded — verify with the board before proceeding)\n")
	}
	for _, branch := range in.SiblingBranches {
		fmt.Fprintf(b, "  - %s\n", branch)
	}
	writeTestAndCIInstructions(b, in)
	b.WriteString("Once merged and green, push your branch and create a pull request for this phase.\n")
}

func writeContinuation(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "You are resuming issue #%d: %s\n\n", in.IssueNumber, in.Title)
	if in.PreviousSummary != "" {
		fmt.Fprintf(b, "Your previous session ended without a clean signal. Its summary was:\n%s\n\n", in.PreviousSummary)
	} else {
		b.WriteString("Your previous session ended without a clean signal and left no summary.\n\n")
	}
	fmt.Fprintf(b, "Inspect the current state of %s before continuing — the prior attempt may have left partial work, uncommitted changes, or none at all.\n", in.WorktreePath)
	writeTestAndCIInstructions(b, in)
	b.WriteString("Finish the work and emit a terminal signal before exiting.\n")
}

func writeTestAndCIInstructions(b *strings.Builder, in Input) {
	if in.RequiresTests {
		b.WriteString("Run the project's test suite and ensure it passes before finishing.\n")
	}
	if in.RequiresCI {
		b.WriteString("Ensure CI-required checks (lint, build) pass locally before pushing.\n")
	}
}
