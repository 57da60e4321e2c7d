// Package scheduler implements the task state machine as pure operations
// over Store: dedupe, assess-batch, fill execution slots, reap finished
// sessions, and GC stale worktrees. Grounded on the teacher's multi-step
// transactional pattern (internal/actions/push.go's PushIdempotent) and its
// select-then-act-then-event pipeline for claiming work.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentqueue/agentqueue/internal/agentrunner"
	"github.com/agentqueue/agentqueue/internal/assess"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/eventbus"
	"github.com/agentqueue/agentqueue/internal/store"
	"github.com/agentqueue/agentqueue/internal/vcs"
)

const defaultMaxRetries = 3

// Scheduler drives the task state machine. It holds no mutable in-memory
// state of its own beyond its collaborators — every decision is made from a
// fresh Store read, per the "Store is the single source of truth" policy.
type Scheduler struct {
	db         *sql.DB
	bus        *eventbus.Bus
	assessor   *assess.Engine
	vcsAdapter *vcs.Adapter
	runner     *agentrunner.Runner

	worktreesRoot string
	maxRetries    int
}

// New constructs a Scheduler. runner's completion callback must be wired to
// call OnSessionTerminated; see internal/orchestrator for the wiring order.
func New(db *sql.DB, bus *eventbus.Bus, assessor *assess.Engine, vcsAdapter *vcs.Adapter, runner *agentrunner.Runner, worktreesRoot string) *Scheduler {
	return &Scheduler{
		db:            db,
		bus:           bus,
		assessor:      assessor,
		vcsAdapter:    vcsAdapter,
		runner:        runner,
		worktreesRoot: worktreesRoot,
		maxRetries:    defaultMaxRetries,
	}
}

func (s *Scheduler) emit(kind, entityType, entityID string, payload map[string]any) {
	b, _ := marshalPayload(payload)
	if _, err := s.bus.Publish(domain.Event{Kind: kind, EntityType: entityType, EntityID: entityID, Payload: b}); err != nil {
		slog.Default().Warn("failed to publish event", "kind", kind, "entity_id", entityID, "error", err)
	}
}

// AssessBatch selects up to batchSize unassessed pending tasks and classifies
// each via the AssessmentEngine. Status is never changed twice on the same
// task within this phase.
func (s *Scheduler) AssessBatch(ctx context.Context, batchSize int) error {
	tasks, err := store.NextPendingUnassessed(s.db, batchSize)
	if err != nil {
		return fmt.Errorf("select unassessed tasks: %w", err)
	}

	for _, t := range tasks {
		s.assessOne(ctx, t)
	}
	return nil
}

func (s *Scheduler) assessOne(ctx context.Context, t *domain.Task) {
	taskID := fmt.Sprintf("%d", t.ID)

	if err := store.Transact(s.db, func(tx *sql.Tx) error {
		var version int
		if err := tx.QueryRowContext(ctx, `SELECT version FROM tasks WHERE id = ? AND status = ?`,
			t.ID, string(domain.TaskStatusPending)).Scan(&version); err != nil {
			return err
		}
		return store.UpdateTaskStatusCAS(tx, t.ID, domain.TaskStatusAssessing, version)
	}); err != nil {
		// A concurrent phase already moved this task; skip it this beat.
		return
	}

	var parentTitle, parentDesc string
	if t.ParentTaskID != nil {
		if parent, err := store.GetTask(s.db, *t.ParentTaskID); err == nil {
			parentTitle, parentDesc = parent.Title, parent.Description
		}
	}

	out, err := s.assessor.Assess(ctx, assess.Input{
		Title:         t.Title,
		Description:   t.Description,
		ParentTitle:   parentTitle,
		ParentContext: parentDesc,
	})
	if err != nil {
		s.failAssessment(t)
		return
	}

	patch := map[string]any{"assessment": map[string]any{
		"complexity":        out.Complexity,
		"recommended_model": out.RecommendedModel,
		"should_decompose":  out.ShouldDecompose,
		"reasoning":         out.Reasoning,
	}}
	patchJSON, _ := marshalPayload(patch)
	merged, err := domain.MergePatch(t.Metadata, patchJSON)
	if err != nil {
		s.failAssessment(t)
		return
	}

	if out.ShouldDecompose && len(out.Subtasks) > 0 {
		s.decompose(t, out, merged)
		return
	}

	if err := store.Transact(s.db, func(tx *sql.Tx) error {
		if err := store.SetTaskAssessment(tx, t.ID, out.Complexity, out.RecommendedModel, merged); err != nil {
			return err
		}
		if out.Comment != "" {
			if _, err := store.CreateComment(tx, &domain.Comment{TaskID: t.ID, Content: out.Comment, Author: "assessment-engine"}); err != nil {
				return err
			}
		}
		return store.SetTaskStatus(tx, t.ID, domain.TaskStatusPending)
	}); err != nil {
		slog.Default().Error("persist assessment", "task_id", t.ID, "error", err)
		return
	}

	s.emit(domain.EventTaskAssessed, domain.EntityTask, taskID, map[string]any{"complexity": out.Complexity})
}

func (s *Scheduler) decompose(t *domain.Task, out assess.Output, merged domain.Metadata) {
	taskID := fmt.Sprintf("%d", t.ID)

	var childIDs []string
	err := store.Transact(s.db, func(tx *sql.Tx) error {
		if err := store.SetTaskAssessment(tx, t.ID, out.Complexity, out.RecommendedModel, merged); err != nil {
			return err
		}
		if out.Comment != "" {
			if _, err := store.CreateComment(tx, &domain.Comment{TaskID: t.ID, Content: out.Comment, Author: "assessment-engine"}); err != nil {
				return err
			}
		}
		// Evenly spaced child positions within the parent's position range.
		step := 10
		for i, sub := range out.Subtasks {
			childExternalID := store.GenerateTaskID()
			childID, err := store.InsertChildTask(tx, t.ID, childExternalID, sub.Title, sub.Description, t.Position*100+i*step)
			if err != nil {
				return err
			}
			childIDs = append(childIDs, fmt.Sprintf("%d", childID))
		}
		return store.SetTaskStatus(tx, t.ID, domain.TaskStatusDecomposed)
	})
	if err != nil {
		slog.Default().Error("persist decomposition", "task_id", t.ID, "error", err)
		return
	}

	s.emit(domain.EventTaskDecomposed, domain.EntityTask, taskID, map[string]any{"children": childIDs})
}

func (s *Scheduler) failAssessment(t *domain.Task) {
	taskID := fmt.Sprintf("%d", t.ID)
	retryCount := t.Metadata.RetryCount() + 1
	patchJSON, _ := marshalPayload(map[string]any{"retry_count": retryCount})

	_ = store.Transact(s.db, func(tx *sql.Tx) error {
		if _, err := store.MergeMetadataTx(tx, t.ID, patchJSON); err != nil {
			return err
		}
		return store.SetTaskStatus(tx, t.ID, domain.TaskStatusPending)
	})

	s.emit(domain.EventTaskAssessFailed, domain.EntityTask, taskID, map[string]any{"retry_count": retryCount})
}

// ExecuteNextTasks computes free slots (maxConcurrent - running sessions),
// selects that many executable tasks in (position, priority, id) order, and
// spawns a session for each. Any failed step for a task rolls back that
// task's preceding steps and marks it failed-with-retry.
func (s *Scheduler) ExecuteNextTasks(ctx context.Context, maxConcurrent int) error {
	running, err := store.CountRunningSessions(s.db)
	if err != nil {
		return fmt.Errorf("count running sessions: %w", err)
	}
	slots := maxConcurrent - running
	if slots <= 0 {
		return nil
	}

	tasks, err := store.NextExecutable(s.db, slots)
	if err != nil {
		return fmt.Errorf("select executable tasks: %w", err)
	}

	for _, t := range tasks {
		s.executeOne(ctx, t)
	}
	return nil
}

func (s *Scheduler) executeOne(ctx context.Context, t *domain.Task) {
	taskID := fmt.Sprintf("%d", t.ID)
	branch := vcs.BranchSlug(taskID, t.Title)

	// TODO(agentqueue): resolve the task's project repo_dir/default_ref once
	// Project assignment on Task lands; default branch and repo dir are
	// placeholders until then.
	repoDir := "."
	baseBranch := "main"

	worktreePath, err := s.vcsAdapter.CreateWorktree(ctx, repoDir, branch, baseBranch)
	if err != nil {
		s.failExecution(t, fmt.Sprintf("create worktree: %v", err))
		return
	}

	var sessionID int64
	var stdoutPath, stderrPath string
	err = store.Transact(s.db, func(tx *sql.Tx) error {
		externalID := store.GenerateSessionID()
		// The log directory is named by a fresh UUID rather than the prefixed
		// external id: it is a filesystem identity, not a lookup key, and a
		// uuid avoids ever colliding with a path a human typed by hand.
		logDirID := uuid.NewString()
		sess := &domain.Session{
			ExternalID: externalID,
			TaskID:     t.ID,
			WorkingDir: worktreePath,
			Model:      t.RecommendedModel,
			StdoutPath: fmt.Sprintf("data/sessions/%s/stdout.log", logDirID),
			StderrPath: fmt.Sprintf("data/sessions/%s/stderr.log", logDirID),
		}
		id, err := store.CreateSession(tx, sess)
		if err != nil {
			return err
		}
		sessionID = id
		stdoutPath, stderrPath = sess.StdoutPath, sess.StderrPath

		if err := store.SetTaskActiveSession(tx, t.ID, &id); err != nil {
			return err
		}
		patchJSON, _ := marshalPayload(map[string]any{"branch": branch, "worktree_path": worktreePath})
		if _, err := store.MergeMetadataTx(tx, t.ID, patchJSON); err != nil {
			return err
		}
		return store.SetTaskStatus(tx, t.ID, domain.TaskStatusExecuting)
	})
	if err != nil {
		_ = s.vcsAdapter.RemoveWorktree(ctx, repoDir, worktreePath)
		s.failExecution(t, fmt.Sprintf("create session: %v", err))
		return
	}

	s.emit(domain.EventTaskExecuting, domain.EntityTask, taskID, map[string]any{"session_id": sessionID})

	pid, err := s.runner.Spawn(agentrunner.Spec{
		SessionID:  sessionID,
		Prompt:     t.Description,
		WorkingDir: worktreePath,
		Model:      t.RecommendedModel,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
	if err != nil {
		_ = store.Transact(s.db, func(tx *sql.Tx) error {
			return store.CompleteSession(tx, sessionID, domain.SessionStatusFailed, -1)
		})
		_ = s.vcsAdapter.RemoveWorktree(ctx, repoDir, worktreePath)
		s.failExecution(t, fmt.Sprintf("spawn agent: %v", err))
		return
	}

	_ = store.Transact(s.db, func(tx *sql.Tx) error {
		return store.SetSessionRunning(tx, sessionID, pid)
	})

	s.emit(domain.EventSessionStarted, domain.EntitySession, fmt.Sprintf("%d", sessionID), map[string]any{"task_id": t.ID})
}

func (s *Scheduler) failExecution(t *domain.Task, reason string) {
	taskID := fmt.Sprintf("%d", t.ID)
	retryCount := t.Metadata.RetryCount() + 1

	newStatus := domain.TaskStatusFailed
	if retryCount <= s.maxRetries {
		newStatus = domain.TaskStatusPending
	}

	_ = store.Transact(s.db, func(tx *sql.Tx) error {
		patchJSON, _ := marshalPayload(map[string]any{"retry_count": retryCount, "error": reason})
		if _, err := store.MergeMetadataTx(tx, t.ID, patchJSON); err != nil {
			return err
		}
		if err := store.SetTaskActiveSession(tx, t.ID, nil); err != nil {
			return err
		}
		return store.SetTaskStatus(tx, t.ID, newStatus)
	})

	s.emit(domain.EventTaskFailed, domain.EntityTask, taskID, map[string]any{"reason": reason, "retry_count": retryCount})
}

// OnSessionTerminated is the AgentAdapter completion callback. It finalizes
// the session and task, driving PR creation on success, retry/failure
// bookkeeping on failure, and always clears active_session_id and attempts
// worktree removal (best-effort).
func (s *Scheduler) OnSessionTerminated(sessionID int64, exitCode int, stdoutPath, stderrPath string) {
	ctx := context.Background()

	sess, err := store.GetSession(s.db, sessionID)
	if err != nil {
		slog.Default().Error("on_session_terminated: load session", "session_id", sessionID, "error", err)
		return
	}
	t, err := store.GetTask(s.db, sess.TaskID)
	if err != nil {
		slog.Default().Error("on_session_terminated: load task", "task_id", sess.TaskID, "error", err)
		return
	}

	newSessionStatus := domain.SessionStatusCompleted
	if exitCode != 0 {
		newSessionStatus = domain.SessionStatusFailed
	}
	if err := store.Transact(s.db, func(tx *sql.Tx) error {
		return store.CompleteSession(tx, sessionID, newSessionStatus, exitCode)
	}); err != nil {
		slog.Default().Error("on_session_terminated: complete session", "session_id", sessionID, "error", err)
	}

	repoDir := "."
	worktree := t.Metadata.WorktreePath()
	branch := t.Metadata.Branch()

	// A task already in a terminal state (e.g. cancelled out from under this
	// session) keeps that status; only worktree/session bookkeeping still runs.
	if t.Status.IsTerminal() {
		slog.Default().Info("on_session_terminated: task already terminal, skipping transition",
			"task_id", t.ID, "status", t.Status)
	} else if exitCode == 0 {
		s.finishSuccess(ctx, t, worktree, branch)
	} else {
		s.finishFailure(t, fmt.Sprintf("session %d exited %d", sessionID, exitCode))
	}

	if worktree != "" {
		if err := s.vcsAdapter.RemoveWorktree(ctx, repoDir, worktree); err != nil {
			slog.Default().Warn("remove worktree after session end", "worktree", worktree, "error", err)
		}
	}

	_ = store.Transact(s.db, func(tx *sql.Tx) error {
		return store.SetTaskActiveSession(tx, t.ID, nil)
	})

	sessionEventKind := domain.EventSessionCompleted
	if exitCode != 0 {
		sessionEventKind = domain.EventSessionFailed
	}
	s.emit(sessionEventKind, domain.EntitySession, fmt.Sprintf("%d", sessionID), map[string]any{
		"task_id": t.ID, "exit_code": exitCode, "stdout_path": stdoutPath, "stderr_path": stderrPath,
	})
}

func (s *Scheduler) finishSuccess(ctx context.Context, t *domain.Task, worktree, branch string) {
	taskID := fmt.Sprintf("%d", t.ID)

	commitSHA, err := s.vcsAdapter.CommitAndPush(ctx, worktree, fmt.Sprintf("agentqueue: %s", t.Title))
	if err != nil {
		s.finishFailure(t, fmt.Sprintf("commit_and_push: %v", err))
		return
	}
	prURL, err := s.vcsAdapter.CreatePR(ctx, worktree, t.Title, t.Description)
	if err != nil {
		s.finishFailure(t, fmt.Sprintf("create_pr: %v", err))
		return
	}

	_ = store.Transact(s.db, func(tx *sql.Tx) error {
		patchJSON, _ := marshalPayload(map[string]any{"pr_url": prURL, "commit_sha": commitSHA})
		if _, err := store.MergeMetadataTx(tx, t.ID, patchJSON); err != nil {
			return err
		}
		return store.SetTaskStatus(tx, t.ID, domain.TaskStatusReadyForReview)
	})

	s.emit(domain.EventTaskReadyForReview, domain.EntityTask, taskID, map[string]any{"pr_url": prURL})
}

func (s *Scheduler) finishFailure(t *domain.Task, reason string) {
	s.failExecution(t, reason)
}

// CleanupStaleWorktrees lists the worktrees of the repository at the current
// directory (the same "." repoDir executeOne uses) and removes
// any whose branch is not the branch of a task with status in
// {pending, assessing, executing}. Failures are warnings, never fatal.
func (s *Scheduler) CleanupStaleWorktrees(ctx context.Context) error {
	tasks, err := store.ListTasks(s.db)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	active := make(map[string]bool)
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusPending, domain.TaskStatusAssessing, domain.TaskStatusExecuting:
			branch := t.Metadata.Branch()
			if branch == "" {
				branch = vcs.BranchSlug(fmt.Sprintf("%d", t.ID), t.Title)
			}
			active[branch] = true
		}
	}

	repoDir := "."
	worktrees, err := s.vcsAdapter.ListWorktrees(ctx, repoDir)
	if err != nil {
		slog.Default().Warn("cleanup_stale_worktrees: list worktrees", "error", err)
		return nil
	}

	for _, wt := range worktrees {
		if wt.Branch == "" || active[wt.Branch] {
			continue
		}
		if err := s.vcsAdapter.RemoveWorktree(ctx, repoDir, wt.Path); err != nil {
			slog.Default().Warn("cleanup_stale_worktrees: remove worktree", "path", wt.Path, "error", err)
		}
	}
	return nil
}

// DedupeTasks delegates to Store.DedupePending and emits one
// task.deduped event per removed row.
func (s *Scheduler) DedupeTasks() error {
	removed, err := store.DedupePending(s.db)
	if err != nil {
		return fmt.Errorf("dedupe pending tasks: %w", err)
	}
	for _, id := range removed {
		s.emit(domain.EventTaskDeduped, domain.EntityTask, fmt.Sprintf("%d", id), nil)
	}
	return nil
}

// CancelTask transitions a task to cancelled, cancelling any active session
// and removing its worktree best-effort. Applying cancel twice leaves the
// task in the same terminal state (idempotent).
func (s *Scheduler) CancelTask(ctx context.Context, taskID int64) error {
	t, err := store.GetTask(s.db, taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return nil
	}

	if t.ActiveSessionID != nil {
		if err := s.runner.Cancel(*t.ActiveSessionID); err != nil {
			slog.Default().Warn("cancel: agent runner cancel", "session_id", *t.ActiveSessionID, "error", err)
		}
	}

	worktree := t.Metadata.WorktreePath()

	err = store.Transact(s.db, func(tx *sql.Tx) error {
		if err := store.SetTaskActiveSession(tx, t.ID, nil); err != nil {
			return err
		}
		return store.SetTaskStatus(tx, t.ID, domain.TaskStatusCancelled)
	})
	if err != nil {
		return err
	}

	if worktree != "" {
		if err := s.vcsAdapter.RemoveWorktree(ctx, ".", worktree); err != nil {
			slog.Default().Warn("cancel: remove worktree", "worktree", worktree, "error", err)
		}
	}

	s.emit(domain.EventTaskCancelled, domain.EntityTask, fmt.Sprintf("%d", taskID), nil)
	return nil
}
