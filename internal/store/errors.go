package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// RecoverableError is an alias for domain.RecoverableError, retained so
// callers can reference store.RecoverableError without importing domain
// directly.
type RecoverableError = domain.RecoverableError

// StaleClaimError is returned when a caller attempts to transition a task or
// session from a status it is no longer in — e.g. two heartbeat beats racing
// to claim the same pending task.
type StaleClaimError struct {
	Entity       string
	ID           string
	ExpectedFrom string
}

func (e *StaleClaimError) Error() string {
	return fmt.Sprintf("%s %s is no longer in status %q", e.Entity, e.ID, e.ExpectedFrom)
}
func (e *StaleClaimError) ErrorCode() string { return "STALE_CLAIM" }
func (e *StaleClaimError) Context() map[string]string {
	return map[string]string{
		"entity":        e.Entity,
		"id":            e.ID,
		"expected_from": e.ExpectedFrom,
	}
}
func (e *StaleClaimError) SuggestedAction() string {
	return "re-read current state and retry the operation"
}
func (e *StaleClaimError) Is(target error) bool { return target == ErrStaleClaim }

// VersionConflictError is returned when an optimistic-concurrency CAS update
// finds the row's version column has already moved.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int
}

func (e *VersionConflictError) Error() string {
	return "version conflict: record was modified by another process"
}
func (e *VersionConflictError) ErrorCode() string { return "VERSION_CONFLICT" }
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{
		"entity":  e.Entity,
		"id":      e.ID,
		"version": strconv.Itoa(e.Version),
	}
}
func (e *VersionConflictError) SuggestedAction() string {
	return "reload the record and retry with a new request id"
}
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// IdempotencyInProgressError is returned when a concurrent caller holds the
// in-progress row for the same (agent, request id) pair.
type IdempotencyInProgressError struct {
	AgentName string
	RequestID string
	Operation string
}

func (e *IdempotencyInProgressError) Error() string { return "idempotent operation already in progress" }
func (e *IdempotencyInProgressError) ErrorCode() string { return "IDEMPOTENCY_IN_PROGRESS" }
func (e *IdempotencyInProgressError) Context() map[string]string {
	return map[string]string{
		"agent_name": e.AgentName,
		"request_id": e.RequestID,
		"operation":  e.Operation,
	}
}
func (e *IdempotencyInProgressError) SuggestedAction() string {
	return "wait for the in-flight request to complete, or retry with a new request id"
}
func (e *IdempotencyInProgressError) Is(target error) bool {
	return target == ErrIdempotencyInProgress
}

// Sentinel errors for errors.Is comparisons against the typed errors above.
// ErrVersionConflict lives in retry.go alongside the retry classifier that
// checks for it.
var (
	ErrStaleClaim            = errors.New("stale claim")
	ErrIdempotencyInProgress = errors.New("idempotency in progress")
)

// ErrNotFound is returned by single-row lookups that find no matching row.
var ErrNotFound = errors.New("not found")
