package signal

import "testing"

func TestParseCompleteWithPRNumber(t *testing.T) {
	log := []byte("some output\nAUTONOMOUS_SIGNAL:PR:101\nAUTONOMOUS_SIGNAL:COMPLETE\nmore output\n")
	result := Parse(log, false)
	if result.Outcome != OutcomeComplete {
		t.Fatalf("expected complete, got %s", result.Outcome)
	}
	if result.PRNumber == nil || *result.PRNumber != 101 {
		t.Fatalf("expected PR 101, got %v", result.PRNumber)
	}
}

func TestParsePrecedenceFailedOverComplete(t *testing.T) {
	log := []byte("AUTONOMOUS_SIGNAL:COMPLETE\nAUTONOMOUS_SIGNAL:FAILED:build broke\n")
	result := Parse(log, false)
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed to win precedence, got %s", result.Outcome)
	}
	if result.Reason != "build broke" {
		t.Fatalf("expected reason captured, got %q", result.Reason)
	}
}

func TestParsePrecedenceBlockedOverComplete(t *testing.T) {
	log := []byte("AUTONOMOUS_SIGNAL:COMPLETE\nAUTONOMOUS_SIGNAL:BLOCKED:waiting on design\n")
	result := Parse(log, false)
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked to win precedence, got %s", result.Outcome)
	}
	if result.Reason != "waiting on design" {
		t.Fatalf("expected reason captured, got %q", result.Reason)
	}
}

func TestParseNoneWhenNoSignal(t *testing.T) {
	log := []byte("just some chatter, nothing terminal here\n")
	result := Parse(log, false)
	if result.Outcome != OutcomeNone {
		t.Fatalf("expected none, got %s", result.Outcome)
	}
}

func TestParseHeuristicOnlyWhenAllowed(t *testing.T) {
	log := []byte("Pull request created: see #555 for details\n")

	result := Parse(log, false)
	if result.Outcome != OutcomeNone {
		t.Fatalf("heuristic must not apply when disallowed, got %s", result.Outcome)
	}

	result = Parse(log, true)
	if result.Outcome != OutcomeLikelyComplete {
		t.Fatalf("expected likely_complete when allowed, got %s", result.Outcome)
	}
	if result.PRNumber == nil || *result.PRNumber != 555 {
		t.Fatalf("expected PR 555 from heuristic, got %v", result.PRNumber)
	}
}

func TestParseIndependentPRWithBlocked(t *testing.T) {
	log := []byte("AUTONOMOUS_SIGNAL:PR:7\nAUTONOMOUS_SIGNAL:BLOCKED:need input\n")
	result := Parse(log, false)
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %s", result.Outcome)
	}
	if result.PRNumber == nil || *result.PRNumber != 7 {
		t.Fatalf("expected PR number to still be recorded, got %v", result.PRNumber)
	}
}
