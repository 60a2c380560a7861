// Package worktree implements the WorktreeProvider: idempotent git
// worktree management scoped to one repository root. It shells out to the
// git CLI the same way the teacher's orchestrator shells out to external
// tooling (runProjectCommand in its workcycle), rather than linking a git
// library — no such library appears anywhere in the retrieved corpus.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Provider manages git worktrees under one repository root.
type Provider struct {
	repoRoot string
}

// New returns a Provider scoped to repoRoot, the root of the main checkout.
func New(repoRoot string) *Provider {
	return &Provider{repoRoot: repoRoot}
}

// Ensure returns a worktree at path checked out to branchName, creating
// branchName from baseBranch if it does not yet exist. It is idempotent:
// calling it twice with identical arguments on a consistent filesystem
// never fails. If path exists on disk but git has no record of it as a
// registered working tree, it is treated as orphaned, forcibly removed,
// and recreated.
func (p *Provider) Ensure(ctx context.Context, branchName, path, baseBranch string) (string, error) {
	registered, err := p.isRegisteredWorktree(ctx, path)
	if err != nil {
		return "", err
	}
	if registered {
		onBranch, err := p.worktreeBranch(ctx, path)
		if err != nil {
			return "", err
		}
		if onBranch == branchName {
			return path, nil
		}
	}

	if dirExists(path) && !registered {
		if err := p.cleanOrphan(ctx, path); err != nil {
			return "", err
		}
	}

	exists, err := p.BranchExists(ctx, branchName)
	if err != nil {
		return "", err
	}
	if exists {
		if _, err := p.run(ctx, "worktree", "add", path, branchName); err != nil {
			return "", err
		}
		return path, nil
	}

	if _, err := p.run(ctx, "worktree", "add", "-b", branchName, path, baseBranch); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes the worktree at path. If the git-level removal fails
// (common when the tree has untracked files) it falls back to a recursive
// directory delete followed by Prune, per §4.3's failure semantics.
func (p *Provider) Remove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := p.run(ctx, args...); err == nil {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("worktree: remove %s: %w", path, err)
	}
	return p.Prune(ctx)
}

// Prune removes stale worktree administrative files.
func (p *Provider) Prune(ctx context.Context) error {
	_, err := p.run(ctx, "worktree", "prune")
	return err
}

// DefaultBranch returns the repository's default branch name, read from
// the remote HEAD symbolic ref.
func (p *Provider) DefaultBranch(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err == nil {
		return strings.TrimPrefix(strings.TrimSpace(out), "origin/"), nil
	}
	// No remote HEAD recorded locally; fall back to the current branch of
	// the main checkout.
	out, err = p.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("worktree: resolve default branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// BranchExists reports whether a local branch by that name exists.
func (p *Provider) BranchExists(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = p.repoRoot
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		// Non-zero exit from show-ref --verify means "no such ref", not a
		// real failure.
		return false, nil
	}
	return false, fmt.Errorf("worktree: check branch %s: %w", name, err)
}

// IsMerged reports whether every commit on branch is already reachable from
// baseBranch, i.e. branch has been fully merged.
func (p *Provider) IsMerged(ctx context.Context, branch, baseBranch string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", branch, baseBranch)
	cmd.Dir = p.repoRoot
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ExitCode() == 1 {
			// Exit 1 means "not an ancestor", not a real failure. Any other
			// non-zero code (128 for an invalid/unknown ref, etc.) falls
			// through to the error return below.
			return false, nil
		}
	}
	return false, fmt.Errorf("worktree: check merge of %s into %s: %w", branch, baseBranch, err)
}

func (p *Provider) isRegisteredWorktree(ctx context.Context, path string) (bool, error) {
	out, err := p.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return false, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("worktree: resolve %s: %w", path, err)
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		registeredPath := strings.TrimPrefix(line, "worktree ")
		if registeredPath == abs {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) worktreeBranch(ctx context.Context, path string) (string, error) {
	out, err := p.run(ctx, "-C", path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *Provider) cleanOrphan(ctx context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("worktree: remove orphaned dir %s: %w", path, err)
	}
	return p.Prune(ctx)
}

func (p *Provider) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.repoRoot
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return stdout.String(), fmt.Errorf("git %s failed: %s", strings.Join(args, " "), errMsg)
	}
	return stdout.String(), nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
