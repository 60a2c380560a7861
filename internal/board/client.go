package board

import "context"

// ListFilter narrows listItems to a set of board statuses and carries the
// pagination cursor.
type ListFilter struct {
	Status []string
	Cursor string
}

// Page is one page of board items plus the cursor to fetch the next one,
// if any.
type Page struct {
	Items      []Item
	NextCursor string
}

// Client is the remote board adapter the rest of the core depends on.
// Every method carries a context so callers can bound board calls with the
// per-call deadline from §5 (default 30s) and cancel them on shutdown.
type Client interface {
	// ListItems pages through board items, at most 100 per call.
	ListItems(ctx context.Context, filter ListFilter) (Page, error)
	GetStatus(ctx context.Context, boardItemID string) (string, error)
	SetStatus(ctx context.Context, boardItemID, status string) error
	GetAssignedInstance(ctx context.Context, boardItemID string) (string, error)
	SetAssignedInstance(ctx context.Context, boardItemID, instanceID string) error
	GetItemForIssue(ctx context.Context, issueNumber int) (string, error)
}
