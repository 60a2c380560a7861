package epic

import (
	"context"
	"testing"

	"github.com/kingrea/autopilot/internal/board"
)

func TestClassifyTitle(t *testing.T) {
	cases := []struct {
		title     string
		wantKind  TitleKind
		wantPhase int
	}{
		{"Add login page", TitleStandalone, 0},
		{"Phase 2.3: wire up auth", TitleWorkItem, 2},
		{"Phase 3 MASTER: ship it", TitlePhaseMaster, 3},
		{"Phase 3.1 MASTER shouldn't happen but still dotted", TitleWorkItem, 3},
	}
	for _, c := range cases {
		kind, phase := ClassifyTitle(c.title)
		if kind != c.wantKind || phase != c.wantPhase {
			t.Errorf("ClassifyTitle(%q) = (%v, %d), want (%v, %d)", c.title, kind, phase, c.wantKind, c.wantPhase)
		}
	}
}

func TestRestrictReturnsUnassignedWorkItemsOfCurrentPhase(t *testing.T) {
	c := New("checkout-revamp")
	items := []board.Item{
		{BoardItemID: "1", Title: "Phase 1.1: checkout-revamp cart", Status: "Ready"},
		{BoardItemID: "2", Title: "Phase 1.2: checkout-revamp payment", Status: "In Progress", AssignedInstance: "claude-0"},
		{BoardItemID: "3", Title: "Phase 1 MASTER: checkout-revamp", Status: "Ready"},
	}
	got, dupes := c.Restrict(context.Background(), items)
	if len(dupes) != 0 {
		t.Fatalf("unexpected duplicates: %+v", dupes)
	}
	if len(got) != 1 || got[0].BoardItemID != "1" {
		t.Fatalf("expected only unassigned work item 1.1, got %+v", got)
	}
}

func TestRestrictReturnsMasterWhenWorkItemsDone(t *testing.T) {
	c := New("checkout-revamp")
	items := []board.Item{
		{BoardItemID: "1", Title: "Phase 1.1: checkout-revamp cart", Status: "Done"},
		{BoardItemID: "2", Title: "Phase 1.2: checkout-revamp payment", Status: "Dev Complete"},
		{BoardItemID: "3", Title: "Phase 1 MASTER: checkout-revamp", Status: "Ready"},
	}
	got, _ := c.Restrict(context.Background(), items)
	if len(got) != 1 || got[0].BoardItemID != "3" {
		t.Fatalf("expected master to be returned, got %+v", got)
	}
}

func TestRestrictHoldsLineWhenMasterAssigned(t *testing.T) {
	c := New("checkout-revamp")
	items := []board.Item{
		{BoardItemID: "1", Title: "Phase 1.1: checkout-revamp cart", Status: "Done"},
		{BoardItemID: "3", Title: "Phase 1 MASTER: checkout-revamp", Status: "In Progress", AssignedInstance: "claude-0"},
	}
	got, _ := c.Restrict(context.Background(), items)
	if len(got) != 0 {
		t.Fatalf("expected no candidates while master is assigned, got %+v", got)
	}
}

func TestRestrictBlocksNextPhaseUntilMasterMerges(t *testing.T) {
	c := New("checkout-revamp")
	items := []board.Item{
		{BoardItemID: "1", Title: "Phase 1 MASTER: checkout-revamp", Status: "Dev Complete"},
		{BoardItemID: "2", Title: "Phase 2.1: checkout-revamp followup", Status: "Ready"},
	}
	got, _ := c.Restrict(context.Background(), items)
	if len(got) != 1 || got[0].BoardItemID != "1" {
		t.Fatalf("expected phase 1 master still returnable since not merged, got %+v", got)
	}
}

func TestRestrictDetectsDuplicateMasters(t *testing.T) {
	c := New("checkout-revamp")
	items := []board.Item{
		{BoardItemID: "1", Title: "Phase 1 MASTER: checkout-revamp", Status: "Ready"},
		{BoardItemID: "2", Title: "Phase 1 MASTER: checkout-revamp duplicate", Status: "Ready"},
	}
	_, dupes := c.Restrict(context.Background(), items)
	if len(dupes) != 1 || dupes[0].Item.BoardItemID != "2" {
		t.Fatalf("expected second master flagged as duplicate, got %+v", dupes)
	}
}

func TestSiblingIssueNumbersExcludesMaster(t *testing.T) {
	items := []board.Item{
		{BoardItemID: "1", IssueNumber: 11, Title: "Phase 1.1: checkout-revamp cart"},
		{BoardItemID: "2", IssueNumber: 12, Title: "Phase 1.2: checkout-revamp payment"},
		{BoardItemID: "3", IssueNumber: 13, Title: "Phase 1 MASTER: checkout-revamp"},
		{BoardItemID: "4", IssueNumber: 21, Title: "Phase 2.1: checkout-revamp followup"},
	}
	got := SiblingIssueNumbers(items, "Phase 1 MASTER: checkout-revamp")
	if len(got) != 2 || got[0] != 11 || got[1] != 12 {
		t.Fatalf("expected [11 12], got %v", got)
	}
}

func TestRestrictReturnsNilWhenAllPhasesComplete(t *testing.T) {
	c := New("checkout-revamp")
	items := []board.Item{
		{BoardItemID: "1", Title: "Phase 1 MASTER: checkout-revamp", Status: "Done"},
	}
	got, _ := c.Restrict(context.Background(), items)
	if got != nil {
		t.Fatalf("expected nil when all phases complete, got %+v", got)
	}
}
