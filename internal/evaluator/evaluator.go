// Package evaluator picks which ready board items the Orchestrator should
// spawn next. It is deliberately kept outside the Orchestrator (§6): the
// Orchestrator only ever calls Evaluator.PickReadyItems and never contains
// prioritization logic of its own. PriorityEvaluator is a minimal, runnable
// default — a capacity-aware ordering pass over the ready set, the same
// shape as the teacher's selectBeadsForCycle/assignBeadsToAgents but
// stripped down to ordering only.
package evaluator

import (
	"context"
	"strconv"
	"strings"

	"github.com/kingrea/autopilot/internal/board"
)

// Evaluator chooses up to limit board items to assign on the current tick.
type Evaluator interface {
	PickReadyItems(ctx context.Context, limit int) ([]board.Item, error)
}

// PriorityEvaluator lists the board's ready set and orders it by the
// Priority custom field (lower number first, missing/unparseable last),
// breaking ties by ascending issue number.
type PriorityEvaluator struct {
	client        board.Client
	priorityField string
}

// New returns a PriorityEvaluator reading priorityField (e.g. "priority")
// off each board item's custom field map.
func New(client board.Client, priorityField string) *PriorityEvaluator {
	if priorityField == "" {
		priorityField = "priority"
	}
	return &PriorityEvaluator{client: client, priorityField: priorityField}
}

// PickReadyItems pages the board's ready set, sorts it, and returns at most
// limit items. limit <= 0 returns all ready items.
func (e *PriorityEvaluator) PickReadyItems(ctx context.Context, limit int) ([]board.Item, error) {
	items, err := e.listReady(ctx)
	if err != nil {
		return nil, err
	}
	sortByPriorityThenIssue(items, e.priorityField)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (e *PriorityEvaluator) listReady(ctx context.Context) ([]board.Item, error) {
	var out []board.Item
	cursor := ""
	ready := board.ReadySet()
	for {
		page, err := e.client.ListItems(ctx, board.ListFilter{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if ready[item.Status] {
				out = append(out, item)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// sortByPriorityThenIssue is a plain insertion sort: the ready set per tick
// is small (bounded by total slot capacity across providers), so this
// avoids pulling in sort for a handful of elements.
func sortByPriorityThenIssue(items []board.Item, priorityField string) {
	less := func(a, b board.Item) bool {
		pa, oka := parsePriority(a, priorityField)
		pb, okb := parsePriority(b, priorityField)
		if oka && okb && pa != pb {
			return pa < pb
		}
		if oka != okb {
			return oka // items with a parsed priority sort before those without
		}
		return a.IssueNumber < b.IssueNumber
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(items[j], items[j-1]); j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
}

func parsePriority(item board.Item, field string) (int, bool) {
	raw := strings.TrimSpace(item.Field(field))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
