package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	run("add", "README.md")
	run("commit", "-m", "seed")
	return dir
}

func TestEnsureCreatesNewBranchAndIsIdempotent(t *testing.T) {
	repo := initTestRepo(t)
	provider := New(repo)
	ctx := context.Background()
	path := filepath.Join(repo, "..", "wt-1")

	got, err := provider.Ensure(ctx, "feature-1", path, "main")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got != path {
		t.Fatalf("expected path %s, got %s", path, got)
	}

	got2, err := provider.Ensure(ctx, "feature-1", path, "main")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if got2 != path {
		t.Fatalf("expected idempotent path %s, got %s", path, got2)
	}
}

func TestBranchExistsReflectsRepoState(t *testing.T) {
	repo := initTestRepo(t)
	provider := New(repo)
	ctx := context.Background()

	exists, err := provider.BranchExists(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("branch exists: %v", err)
	}
	if exists {
		t.Fatal("expected branch to not exist")
	}

	path := filepath.Join(repo, "..", "wt-2")
	if _, err := provider.Ensure(ctx, "feature-2", path, "main"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	exists, err = provider.BranchExists(ctx, "feature-2")
	if err != nil {
		t.Fatalf("branch exists: %v", err)
	}
	if !exists {
		t.Fatal("expected branch to exist after ensure")
	}
}
