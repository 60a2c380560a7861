// Package board adapts the remote issue tracker's board into the shapes
// the core needs: a read-only BoardItem projection, a StatusMapping between
// AssignmentStatus and the board's free-form status strings, and a Client
// interface the rest of the core depends on instead of any transport
// detail.
package board

import (
	"time"

	"github.com/kingrea/autopilot/internal/assignment"
)

// Item is the read-only projection of one board entry.
type Item struct {
	BoardItemID      string
	IssueNumber      int
	Title            string
	Body             string
	Status           string // free-form string from the board, e.g. "Ready"
	AssignedInstance string
	FieldMap         map[string]string // custom fields: epic, phase, priority, size, sprint
	UpdatedAt        time.Time
}

// Field reads a custom field by name, returning "" if absent.
func (i Item) Field(name string) string {
	if i.FieldMap == nil {
		return ""
	}
	return i.FieldMap[name]
}

// Canonical board status names the core reads and writes (§6). Values with
// no entry in StatusMapping (Todo, Evaluated, Needs More Info) are
// preserved opaquely and never overwritten by the core. "Blocked" is mapped
// to assignment.StatusBlocked in both directions.
const (
	BoardStatusReady       = "Ready"
	BoardStatusInProgress  = "In Progress"
	BoardStatusInReview    = "In Review"
	BoardStatusDevComplete = "Dev Complete"
	BoardStatusDone        = "Done"
)

// StatusMapping is the fixed bidirectional mapping between
// assignment.Status and canonical board status names. It is the single
// place in the core that compares status strings (§9).
type StatusMapping struct {
	toBoard map[assignment.Status]string
	toLocal map[string]assignment.Status
}

// DefaultStatusMapping returns the mapping used in production.
// in-progress <-> "In Progress", dev-complete <-> "Dev Complete",
// blocked <-> "Blocked".
// "assigned" and "merged" have no board equivalent: assigned is a purely
// local pre-launch state, and a board's terminal "Done" is written by the
// downstream merge-to-main subsystem, not this core.
func DefaultStatusMapping() StatusMapping {
	return StatusMapping{
		toBoard: map[assignment.Status]string{
			assignment.StatusInProgress:  BoardStatusInProgress,
			assignment.StatusDevComplete: BoardStatusDevComplete,
			assignment.StatusBlocked:     "Blocked",
		},
		toLocal: map[string]assignment.Status{
			BoardStatusInProgress:  assignment.StatusInProgress,
			BoardStatusDevComplete: assignment.StatusDevComplete,
			"Blocked":              assignment.StatusBlocked,
		},
	}
}

// ToBoard converts a local status to its canonical board name. ok is false
// when the status has no board equivalent and must not be written.
func (m StatusMapping) ToBoard(s assignment.Status) (string, bool) {
	name, ok := m.toBoard[s]
	return name, ok
}

// ToLocal converts a board status name back to assignment.Status. ok is
// false for opaque statuses (e.g. "Needs More Info") that the core must
// leave alone.
func (m StatusMapping) ToLocal(name string) (assignment.Status, bool) {
	s, ok := m.toLocal[name]
	return s, ok
}

// ReadySet is the set of board statuses from which items may be picked up
// for assignment.
func ReadySet() map[string]bool {
	return map[string]bool{BoardStatusReady: true}
}

// CompleteSet is the set of board statuses indicating an item no longer
// needs (or is eligible for) an assignment.
func CompleteSet() map[string]bool {
	return map[string]bool{
		BoardStatusDevComplete: true,
		BoardStatusDone:        true,
	}
}
