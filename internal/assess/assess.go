// Package assess implements the AssessmentEngine: a single-shot, deterministic
// LLM call that classifies a task and optionally proposes subtasks and a
// review comment. Built directly on net/http + encoding/json rather than a
// vendor SDK: no example repo in the pack wraps a generic chat-completions
// endpoint, and the call shape here (one request, one structured JSON
// response, temperature pinned near zero) is exactly what net/http + a
// typed request/response struct expresses with no framework overhead. This
// is a deliberate standard-library exception — see DESIGN.md.
package assess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

const defaultEndpoint = "https://api.anthropic.com/v1/messages"

// Input is what the Scheduler hands the engine for one task.
type Input struct {
	Title         string
	Description   string
	ParentTitle   string
	ParentContext string
}

// Output is the parsed assessment. Complexity and RecommendedModel are free
// strings per spec; the Scheduler only uses RecommendedModel as a hint.
type Output struct {
	Complexity       domain.Complexity `json:"complexity"`
	RecommendedModel string            `json:"recommended_model"`
	ShouldDecompose  bool              `json:"should_decompose"`
	Subtasks         []Subtask         `json:"subtasks"`
	Comment          string            `json:"comment,omitempty"`
	Reasoning        string            `json:"reasoning,omitempty"`
}

// Subtask is one proposed child task from a decomposition.
type Subtask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Engine calls a fixed assessment model with temperature pinned near zero.
// It never retries — the Scheduler owns retry policy — and any JSON parse
// failure is surfaced as an error rather than papered over with a "medium"
// default complexity.
type Engine struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	timeout    time.Duration
}

// New constructs an Engine. apiKey is read by the caller from the configured
// environment variable (AGENTQUEUE_ASSESSMENT_API_KEY); model is the fixed
// assessment model label (ASSESSMENT_MODEL), used regardless of what the
// task itself might recommend.
func New(apiKey, model string, timeout time.Duration) *Engine {
	return &Engine{
		httpClient: &http.Client{Timeout: timeout + 5*time.Second},
		endpoint:   defaultEndpoint,
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
	}
}

// SetEndpoint overrides the assessment endpoint, default
// api.anthropic.com/v1/messages. Exists for tests and self-hosted proxies
// that front the Messages API under a different URL.
func (e *Engine) SetEndpoint(url string) {
	e.endpoint = url
}

type assessRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type assessResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

const systemPrompt = `You classify coding tasks. Respond with ONLY a JSON object matching this shape:
{"complexity":"simple|medium|complex","recommended_model":"<model label>","should_decompose":bool,
"subtasks":[{"title":"","description":""}],"comment":"","reasoning":""}
Request decomposition only for clearly independent multi-session work.`

// Assess classifies one task. The request runs under ctx wrapped with the
// Engine's own timeout (the one passed to New).
func (e *Engine) Assess(ctx context.Context, in Input) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	userMsg := fmt.Sprintf("Title: %s\nDescription: %s\n", in.Title, in.Description)
	if in.ParentTitle != "" {
		userMsg += fmt.Sprintf("Parent task: %s\nParent context: %s\n", in.ParentTitle, in.ParentContext)
	}

	reqBody := assessRequest{
		Model:       e.model,
		Temperature: 0,
		MaxTokens:   1024,
		System:      systemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: userMsg}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Output{}, fmt.Errorf("encode assessment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Output{}, fmt.Errorf("build assessment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("assessment call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("assessment call returned status %d", resp.StatusCode)
	}

	var parsed assessResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Output{}, fmt.Errorf("decode assessment response envelope: %w", err)
	}
	if len(parsed.Content) == 0 {
		return Output{}, fmt.Errorf("assessment response has no content")
	}

	var out Output
	if err := json.Unmarshal([]byte(parsed.Content[0].Text), &out); err != nil {
		return Output{}, fmt.Errorf("parse assessment json: %w", err)
	}
	return out, nil
}
