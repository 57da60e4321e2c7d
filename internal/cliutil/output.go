// Package cliutil provides the JSON response envelope every agentqueue CLI
// command prints. Adapted directly from the teacher's internal/output
// package: same envelope shape, same RecoverableError enrichment via
// errors.As, renamed for this repo's domain and env var prefix.
package cliutil

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// Response is the standard JSON envelope printed by every command.
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            any               `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// Config holds output configuration.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig returns configuration using stdout, honoring
// AGENTQUEUE_PRETTY_JSON for human-readable output.
func DefaultConfig() Config {
	v := os.Getenv("AGENTQUEUE_PRETTY_JSON")
	return Config{Writer: os.Stdout, Pretty: v == "1" || v == "true"}
}

// Success wraps a successful response with data.
func Success(data any) Response {
	return Response{SchemaVersion: "v1", Success: true, Data: data}
}

// Error wraps an error in a response, enriching with structured metadata
// when it implements domain.RecoverableError.
func Error(err error) Response {
	resp := Response{SchemaVersion: "v1", Success: false, Error: err.Error()}
	var re domain.RecoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

// PrintWith prints a value as JSON to the configured writer.
func PrintWith(cfg Config, v any) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints a value as JSON to stdout using DefaultConfig. Compact by
// default to minimize output size for agent consumption.
func Print(v any) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a success response.
func PrintSuccess(data any) error {
	return Print(Success(data))
}

// PrintError prints an error response.
func PrintError(err error) error {
	return Print(Error(err))
}
