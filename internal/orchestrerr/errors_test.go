package orchestrerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(WorktreeError, "failed to remove tree", cause)

	if err.Kind() != WorktreeError {
		t.Errorf("Kind() = %v, want %v", err.Kind(), WorktreeError)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
	kind, ok := KindOf(err)
	if !ok || kind != WorktreeError {
		t.Errorf("KindOf() = (%v, %v), want (%v, true)", kind, ok, WorktreeError)
	}
}

func TestIsComparesKindOnly(t *testing.T) {
	a := New(WorkerBlocked, "blocked on review")
	b := New(WorkerBlocked, "different reason")
	c := New(WorkerExitFailure, "blocked on review")

	if !errors.Is(a, b) {
		t.Error("expected same-kind errors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected different-kind errors not to match")
	}
}

func TestKindOfUnknownError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("expected KindOf to report false for a non-orchestrerr error")
	}
}
