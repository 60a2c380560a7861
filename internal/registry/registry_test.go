package registry

import (
	"context"
	"testing"

	"github.com/kingrea/autopilot/internal/assignment"
	"github.com/kingrea/autopilot/internal/board"
)

func newTestInput(issue int, instance string) CreateInput {
	return CreateInput{
		IssueNumber:  issue,
		InstanceID:   instance,
		Provider:     assignment.ProviderClaude,
		WorktreePath: "/tmp/wt",
		BranchName:   "issue-" + string(rune('0'+issue)),
	}
}

func TestCreateRejectsDuplicateIssue(t *testing.T) {
	r := New()
	if _, err := r.Create(newTestInput(1, "claude-1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := r.Create(newTestInput(1, "claude-2"))
	if err != ErrAlreadyAssigned {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestCreateRejectsDuplicateInstance(t *testing.T) {
	r := New()
	if _, err := r.Create(newTestInput(1, "claude-1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := r.Create(newTestInput(2, "claude-1")); err == nil {
		t.Fatal("expected error reusing an occupied instance slot")
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	r := New()
	a, err := r.Create(newTestInput(1, "claude-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.UpdateStatus(a.ID, assignment.StatusMerged); err == nil {
		t.Fatal("expected rejection of assigned -> merged")
	}
	if _, err := r.UpdateStatus(a.ID, assignment.StatusInProgress); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
}

func TestRemoveClearsAllIndices(t *testing.T) {
	r := New()
	a, err := r.Create(newTestInput(1, "claude-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r.Remove(a.ID)

	if _, ok := r.Get(a.ID); ok {
		t.Fatal("assignment still retrievable by id after Remove")
	}
	if _, ok := r.GetByIssue(1); ok {
		t.Fatal("assignment still retrievable by issue after Remove")
	}
	if _, ok := r.GetByInstance("claude-1"); ok {
		t.Fatal("assignment still retrievable by instance after Remove")
	}

	// The slot must be reusable after removal.
	if _, err := r.Create(newTestInput(1, "claude-1")); err != nil {
		t.Fatalf("re-create after remove: %v", err)
	}
}

func TestCountFiltersByStatusPredicate(t *testing.T) {
	r := New()
	a1, _ := r.Create(newTestInput(1, "claude-1"))
	_, _ = r.Create(newTestInput(2, "claude-2"))
	if _, err := r.UpdateStatus(a1.ID, assignment.StatusInProgress); err != nil {
		t.Fatalf("update status: %v", err)
	}

	inProgress := r.Count(func(s assignment.Status) bool { return s == assignment.StatusInProgress })
	if inProgress != 1 {
		t.Fatalf("expected 1 in-progress assignment, got %d", inProgress)
	}
	if total := r.Count(nil); total != 2 {
		t.Fatalf("expected 2 total assignments, got %d", total)
	}
}

// fakeBoardClient is a minimal in-memory board.Client for reconciliation tests.
type fakeBoardClient struct {
	items            []board.Item
	assignedInstance map[string]string
}

func (f *fakeBoardClient) ListItems(ctx context.Context, filter board.ListFilter) (board.Page, error) {
	return board.Page{Items: f.items}, nil
}

func (f *fakeBoardClient) GetStatus(ctx context.Context, boardItemID string) (string, error) {
	for _, it := range f.items {
		if it.BoardItemID == boardItemID {
			return it.Status, nil
		}
	}
	return "", nil
}

func (f *fakeBoardClient) SetStatus(ctx context.Context, boardItemID, status string) error {
	return nil
}

func (f *fakeBoardClient) GetAssignedInstance(ctx context.Context, boardItemID string) (string, error) {
	return f.assignedInstance[boardItemID], nil
}

func (f *fakeBoardClient) SetAssignedInstance(ctx context.Context, boardItemID, instanceID string) error {
	if f.assignedInstance == nil {
		f.assignedInstance = make(map[string]string)
	}
	f.assignedInstance[boardItemID] = instanceID
	return nil
}

func (f *fakeBoardClient) GetItemForIssue(ctx context.Context, issueNumber int) (string, error) {
	for _, it := range f.items {
		if it.IssueNumber == issueNumber {
			return it.BoardItemID, nil
		}
	}
	return "", nil
}

func TestSyncAllFieldsFromBoardAppliesBoardWins(t *testing.T) {
	r := New()
	a, err := r.Create(newTestInput(1, "claude-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.UpdateStatus(a.ID, assignment.StatusInProgress); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := r.SetBoardItemID(a.ID, "item-1"); err != nil {
		t.Fatalf("set board item id: %v", err)
	}

	client := &fakeBoardClient{
		items: []board.Item{
			{BoardItemID: "item-1", IssueNumber: 1, Status: board.BoardStatusDevComplete, AssignedInstance: "claude-1"},
		},
	}

	result := r.SyncAllFieldsFromBoard(context.Background(), client, board.DefaultStatusMapping(), nil, nil)
	if result.Conflicts != 1 {
		t.Fatalf("expected 1 conflict, got %+v", result)
	}

	updated, ok := r.Get(a.ID)
	if !ok {
		t.Fatal("assignment disappeared after sync")
	}
	if updated.Status != assignment.StatusDevComplete {
		t.Fatalf("expected board status to win, got %s", updated.Status)
	}
}

func TestSyncAllFieldsFromBoardRemovesOrphans(t *testing.T) {
	r := New()
	a, err := r.Create(newTestInput(1, "claude-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.SetBoardItemID(a.ID, "item-1"); err != nil {
		t.Fatalf("set board item id: %v", err)
	}

	client := &fakeBoardClient{items: nil}
	result := r.SyncAllFieldsFromBoard(context.Background(), client, board.DefaultStatusMapping(), nil, nil)
	if result.Removed != 1 {
		t.Fatalf("expected 1 removal, got %+v", result)
	}
	if _, ok := r.Get(a.ID); ok {
		t.Fatal("orphaned assignment should have been removed")
	}
}

func TestSyncAllFieldsFromBoardClearsStaleAssignedInstance(t *testing.T) {
	r := New()
	client := &fakeBoardClient{
		items: []board.Item{
			{BoardItemID: "item-1", IssueNumber: 1, Status: board.BoardStatusReady, AssignedInstance: "stale-1"},
		},
		assignedInstance: map[string]string{"item-1": "stale-1"},
	}

	result := r.SyncAllFieldsFromBoard(context.Background(), client, board.DefaultStatusMapping(), nil, nil)
	if result.ClearedStale != 1 {
		t.Fatalf("expected 1 cleared stale slot, got %+v", result)
	}
	if client.assignedInstance["item-1"] != "" {
		t.Fatalf("expected stale assigned instance field to be cleared, got %q", client.assignedInstance["item-1"])
	}
}
