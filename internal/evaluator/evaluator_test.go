package evaluator

import (
	"context"
	"testing"

	"github.com/kingrea/autopilot/internal/board"
)

type fakeBoardClient struct {
	pages [][]board.Item
}

func (f *fakeBoardClient) ListItems(ctx context.Context, filter board.ListFilter) (board.Page, error) {
	idx := 0
	if filter.Cursor != "" {
		idx = 1
	}
	if idx >= len(f.pages) {
		return board.Page{}, nil
	}
	next := ""
	if idx+1 < len(f.pages) {
		next = "next"
	}
	return board.Page{Items: f.pages[idx], NextCursor: next}, nil
}

func (f *fakeBoardClient) GetStatus(ctx context.Context, boardItemID string) (string, error) {
	return "", nil
}
func (f *fakeBoardClient) SetStatus(ctx context.Context, boardItemID, status string) error {
	return nil
}
func (f *fakeBoardClient) GetAssignedInstance(ctx context.Context, boardItemID string) (string, error) {
	return "", nil
}
func (f *fakeBoardClient) SetAssignedInstance(ctx context.Context, boardItemID, instanceID string) error {
	return nil
}
func (f *fakeBoardClient) GetItemForIssue(ctx context.Context, issueNumber int) (string, error) {
	return "", nil
}

func TestPickReadyItemsOrdersByPriorityThenIssue(t *testing.T) {
	client := &fakeBoardClient{pages: [][]board.Item{{
		{BoardItemID: "1", IssueNumber: 10, Status: board.BoardStatusReady, FieldMap: map[string]string{"priority": "2"}},
		{BoardItemID: "2", IssueNumber: 5, Status: board.BoardStatusReady, FieldMap: map[string]string{"priority": "1"}},
		{BoardItemID: "3", IssueNumber: 1, Status: board.BoardStatusReady}, // no priority field
		{BoardItemID: "4", IssueNumber: 7, Status: board.BoardStatusInProgress},
	}}}
	e := New(client, "priority")

	got, err := e.PickReadyItems(context.Background(), 0)
	if err != nil {
		t.Fatalf("PickReadyItems: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 ready items (in-progress excluded), got %d", len(got))
	}
	want := []string{"2", "1", "3"}
	for i, id := range want {
		if got[i].BoardItemID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].BoardItemID)
		}
	}
}

func TestPickReadyItemsRespectsLimit(t *testing.T) {
	client := &fakeBoardClient{pages: [][]board.Item{{
		{BoardItemID: "1", IssueNumber: 1, Status: board.BoardStatusReady},
		{BoardItemID: "2", IssueNumber: 2, Status: board.BoardStatusReady},
		{BoardItemID: "3", IssueNumber: 3, Status: board.BoardStatusReady},
	}}}
	e := New(client, "")

	got, err := e.PickReadyItems(context.Background(), 2)
	if err != nil {
		t.Fatalf("PickReadyItems: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 items with limit, got %d", len(got))
	}
}

func TestPickReadyItemsPagesAllCursors(t *testing.T) {
	client := &fakeBoardClient{pages: [][]board.Item{
		{{BoardItemID: "1", IssueNumber: 1, Status: board.BoardStatusReady}},
		{{BoardItemID: "2", IssueNumber: 2, Status: board.BoardStatusReady}},
	}}
	e := New(client, "priority")

	got, err := e.PickReadyItems(context.Background(), 0)
	if err != nil {
		t.Fatalf("PickReadyItems: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both pages merged, got %d", len(got))
	}
}
