package vcs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchSlugLowercasesAndCollapsesSeparators(t *testing.T) {
	assert.Equal(t, "task-42-fix-the-login-bug", BranchSlug("42", "Fix The  Login---Bug"))
}

func TestBranchSlugTruncatesTo40Chars(t *testing.T) {
	title := strings.Repeat("word ", 20) // well over 40 chars once slugified
	slug := BranchSlug("7", title)

	const prefix = "task-7-"
	assert.True(t, strings.HasPrefix(slug, prefix))
	assert.LessOrEqual(t, len(slug)-len(prefix), 40)
	assert.False(t, strings.HasSuffix(slug, "-"))
}

func TestBranchSlugTrimsLeadingAndTrailingPunctuation(t *testing.T) {
	assert.Equal(t, "task-1-hello-world", BranchSlug("1", "!!!Hello, World!!!"))
}

func TestParseWorktreeList(t *testing.T) {
	output := strings.Join([]string{
		"worktree /repo",
		"HEAD abc123",
		"branch refs/heads/main",
		"",
		"worktree /repo/.worktrees/task-1-foo",
		"HEAD def456",
		"branch refs/heads/task-1-foo",
		"",
	}, "\n")

	infos := parseWorktreeList(output)
	if assert.Len(t, infos, 2) {
		assert.Equal(t, "/repo", infos[0].Path)
		assert.Equal(t, "main", infos[0].Branch)
		assert.Equal(t, "/repo/.worktrees/task-1-foo", infos[1].Path)
		assert.Equal(t, "task-1-foo", infos[1].Branch)
		assert.Equal(t, "def456", infos[1].Head)
	}
}

func TestParseWorktreeListEmpty(t *testing.T) {
	assert.Empty(t, parseWorktreeList(""))
}
