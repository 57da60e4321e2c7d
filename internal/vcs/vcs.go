// Package vcs wraps git and the platform PR CLI as subprocesses: worktree
// create/remove, branch create/delete, commit+push, PR creation, and stale
// worktree listing. Grounded on the teacher pack's git.go subprocess wrapper,
// generalized from single-checkout branch switching to worktree isolation so
// concurrent sessions never share a working directory.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultSubprocessTimeout = 30 * time.Second
	pushTimeout              = 120 * time.Second
	prTimeout                = 120 * time.Second
)

var (
	nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
)

// BranchSlug derives the `task-<id>-<slug>` branch name: lowercase the
// title, collapse runs of non-alphanumerics to single hyphens, strip
// leading/trailing hyphens, truncate the slug portion to 40 characters.
func BranchSlug(taskID, title string) string {
	slug := strings.ToLower(title)
	slug = nonAlnumRun.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	return fmt.Sprintf("task-%s-%s", taskID, slug)
}

// WorktreeInfo describes one entry from `git worktree list`.
type WorktreeInfo struct {
	Path   string
	Branch string
	Head   string
}

// Result carries the output of a subprocess operation, including captured
// stderr on failure so callers can surface a useful error to the user.
type Result struct {
	Output string
	Stderr string
}

// Adapter wraps git + the platform CLI (gh) for one or more repositories.
// Operations on distinct worktrees are independent; operations on the same
// repository's shared metadata (branch/worktree list mutation) are
// serialized by a per-repo lock.
type Adapter struct {
	worktreesRoot string

	mu      sync.Mutex
	repoMus map[string]*sync.Mutex
}

// New constructs an Adapter rooted at worktreesRoot (spec's WORKTREES_DIR).
// A leading "~/" is expanded to the user's home directory.
func New(worktreesRoot string) *Adapter {
	if strings.HasPrefix(worktreesRoot, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			worktreesRoot = filepath.Join(home, worktreesRoot[2:])
		}
	}
	return &Adapter{worktreesRoot: worktreesRoot, repoMus: make(map[string]*sync.Mutex)}
}

func (a *Adapter) repoLock(repoDir string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.repoMus[repoDir]
	if !ok {
		m = &sync.Mutex{}
		a.repoMus[repoDir] = m
	}
	return m
}

func runGit(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: args are internally constructed, never raw user input
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Output: strings.TrimSpace(stdout.String()), Stderr: strings.TrimSpace(stderr.String())}
	if err != nil {
		return res, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, res.Stderr)
	}
	return res, nil
}

// CreateWorktree fetches base from origin, creates branch off origin/<base>
// and adds a worktree for it under <worktreesRoot>/<branch>, returning the
// worktree path.
func (a *Adapter) CreateWorktree(ctx context.Context, repoDir, branch, base string) (string, error) {
	lock := a.repoLock(repoDir)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	if _, err := runGit(ctx, repoDir, "fetch", "origin", base); err != nil {
		return "", fmt.Errorf("fetch base %q: %w", base, err)
	}
	path := filepath.Join(a.worktreesRoot, branch)
	if _, err := runGit(ctx, repoDir, "worktree", "add", "-b", branch, path, "origin/"+base); err != nil {
		return "", fmt.Errorf("create worktree for branch %q: %w", branch, err)
	}
	return path, nil
}

// CommitAndPush stages all changes in worktree, commits with message, and
// pushes the branch to origin, returning the new commit SHA.
func (a *Adapter) CommitAndPush(ctx context.Context, worktree, message string) (string, error) {
	addCtx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()
	if _, err := runGit(addCtx, worktree, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	commitCtx, cancel2 := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel2()
	if _, err := runGit(commitCtx, worktree, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	pushCtx, cancel3 := context.WithTimeout(ctx, pushTimeout)
	defer cancel3()
	branchRes, err := runGit(pushCtx, worktree, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("determine current branch: %w", err)
	}
	if _, err := runGit(pushCtx, worktree, "push", "-u", "origin", branchRes.Output); err != nil {
		return "", fmt.Errorf("push: %w", err)
	}

	shaCtx, cancel4 := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel4()
	shaRes, err := runGit(shaCtx, worktree, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve commit sha: %w", err)
	}
	return shaRes.Output, nil
}

// CreatePR creates a pull request from worktree's current branch via the
// platform CLI ("gh"), returning the PR URL.
func (a *Adapter) CreatePR(ctx context.Context, worktree, title, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, prTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", "pr", "create", "--title", title, "--body", body, "--fill-first") //nolint:gosec // G204: title/body are CLI-flag values, not shell-interpreted
	cmd.Dir = worktree
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh pr create: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RemoveWorktree removes a worktree directory. Removing an already-missing
// path is treated as success (idempotent per spec's testable properties).
func (a *Adapter) RemoveWorktree(ctx context.Context, repoDir, worktree string) error {
	lock := a.repoLock(repoDir)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	if _, err := runGit(ctx, repoDir, "worktree", "remove", "--force", worktree); err != nil {
		if strings.Contains(err.Error(), "is not a working tree") || strings.Contains(err.Error(), "No such file or directory") {
			return nil
		}
		return fmt.Errorf("remove worktree %q: %w", worktree, err)
	}
	return nil
}

// DeleteBranch deletes a branch. localOnly=true skips deleting the remote ref.
func (a *Adapter) DeleteBranch(ctx context.Context, repoDir, branch string, localOnly bool) error {
	lock := a.repoLock(repoDir)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	if _, err := runGit(ctx, repoDir, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete local branch %q: %w", branch, err)
	}
	if localOnly {
		return nil
	}
	if _, err := runGit(ctx, repoDir, "push", "origin", "--delete", branch); err != nil {
		return fmt.Errorf("delete remote branch %q: %w", branch, err)
	}
	return nil
}

// ListWorktrees returns the worktrees currently registered for repoDir.
func (a *Adapter) ListWorktrees(ctx context.Context, repoDir string) ([]WorktreeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	res, err := runGit(ctx, repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(res.Output), nil
}

func parseWorktreeList(output string) []WorktreeInfo {
	var out []WorktreeInfo
	var cur WorktreeInfo
	flush := func() {
		if cur.Path != "" {
			out = append(out, cur)
		}
		cur = WorktreeInfo{}
	}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			cur.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	flush()
	return out
}
