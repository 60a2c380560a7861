package process

import "testing"

func TestEchoStripperElidesFirstOccurrence(t *testing.T) {
	stripper := newEchoStripper("hello world", echoSuppressWindow)
	out := stripper.filter([]byte("hello world"))
	if len(out) != 0 {
		t.Fatalf("expected echo fully suppressed, got %q", out)
	}
	out = stripper.filter([]byte("response text"))
	if string(out) != "response text" {
		t.Fatalf("expected output to pass through after echo, got %q", out)
	}
}

func TestEchoStripperHandlesSplitChunks(t *testing.T) {
	stripper := newEchoStripper("abc", echoSuppressWindow)
	out1 := stripper.filter([]byte("ab"))
	out2 := stripper.filter([]byte("c and more"))
	if len(out1) != 0 {
		t.Fatalf("expected first chunk fully suppressed, got %q", out1)
	}
	if string(out2) != " and more" {
		t.Fatalf("expected remainder after echo, got %q", out2)
	}
}

func TestEchoStripperStopsSuppressingOnMismatch(t *testing.T) {
	stripper := newEchoStripper("expected prompt", echoSuppressWindow)
	out := stripper.filter([]byte("unrelated output"))
	if len(out) == 0 {
		t.Fatal("expected mismatched output to pass through rather than vanish")
	}
}

func TestProcessAliveReportsFalseForInvalidPid(t *testing.T) {
	if processAlive(0) {
		t.Fatal("pid 0 should never be reported alive")
	}
	if processAlive(-1) {
		t.Fatal("negative pid should never be reported alive")
	}
}

func TestIsRunningFalseForUnknownInstance(t *testing.T) {
	sup := New(nil, nil)
	if sup.IsRunning("does-not-exist") {
		t.Fatal("unknown instance should never report running")
	}
}

func TestExitCodeNilForUnknownInstance(t *testing.T) {
	sup := New(nil, nil)
	if code := sup.ExitCode("does-not-exist"); code != nil {
		t.Fatalf("expected nil exit code for unknown instance, got %v", *code)
	}
}
