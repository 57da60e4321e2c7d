package domain

import "encoding/json"

// Metadata is the open-ended, shallow-merge side channel carried by a Task.
// Recognized keys get typed accessors below; anything else passes through
// untouched so forward-compatible callers can stash their own data.
//
// Merge semantics (see internal/store's merge_metadata): shallow merge,
// an explicit JSON null for a key deletes it.
type Metadata map[string]any

func (m Metadata) boolField(key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (m Metadata) stringField(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (m Metadata) intField(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Active gates whether a classified task is eligible for execution.
func (m Metadata) Active() bool { return m.boolField("active") }

// DecomposeOnHeartbeat is a hint to the assessor that this task should be
// considered for decomposition.
func (m Metadata) DecomposeOnHeartbeat() bool { return m.boolField("decompose_on_heartbeat") }

// RetryCount is the number of transient-failure retries attempted so far.
func (m Metadata) RetryCount() int { return m.intField("retry_count") }

// Error is the last recorded permanent-failure summary, if any.
func (m Metadata) Error() string { return m.stringField("error") }

// Branch is the vcs branch name this task's worktree was created on.
func (m Metadata) Branch() string { return m.stringField("branch") }

// WorktreePath is the filesystem path of this task's active worktree, if any.
func (m Metadata) WorktreePath() string { return m.stringField("worktree_path") }

// PRURL is the pull request URL created for this task's session, if any.
func (m Metadata) PRURL() string { return m.stringField("pr_url") }

// Assessment returns the sub-object the AssessmentEngine wrote, if present.
func (m Metadata) Assessment() map[string]any {
	v, _ := m["assessment"].(map[string]any)
	return v
}

// DecomposedInto returns the child task external IDs created by a decomposition.
func (m Metadata) DecomposedInto() []string {
	raw, ok := m["decomposed_into"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// MergePatch shallow-merges patchJSON into base, returning a new Metadata. A key
// whose value is the JSON literal null is deleted rather than set.
func MergePatch(base Metadata, patchJSON []byte) (Metadata, error) {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(patchJSON, &patch); err != nil {
		return nil, err
	}
	out := make(Metadata, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, raw := range patch {
		if string(raw) == "null" {
			delete(out, k)
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
