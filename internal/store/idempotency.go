package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsUniqueConstraintErr reports whether err is a SQLite unique/primary-key
// constraint violation, via typed code matching first and string matching
// as a fallback for wrapped errors.
func IsUniqueConstraintErr(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint") || strings.Contains(errStr, "PRIMARY KEY constraint")
}

// beginIdempotencyTx inserts the (agent, request id) row marking an
// operation in progress. If a row already exists and carries a result, that
// result is returned for replay. If a row exists with no result yet, a
// concurrent caller is mid-flight: returns IdempotencyInProgressError.
func beginIdempotencyTx(tx *sql.Tx, agentName, requestID, operation string) (existingResult string, found bool, err error) {
	row := tx.QueryRowContext(context.Background(),
		`SELECT result_json FROM idempotency_keys WHERE agent_name = ? AND request_id = ?`, agentName, requestID)
	var result sql.NullString
	scanErr := row.Scan(&result)
	switch {
	case scanErr == sql.ErrNoRows:
		// fall through to insert
	case scanErr != nil:
		return "", false, scanErr
	default:
		if result.Valid {
			return result.String, true, nil
		}
		return "", false, &IdempotencyInProgressError{AgentName: agentName, RequestID: requestID, Operation: operation}
	}

	_, err = tx.ExecContext(context.Background(),
		`INSERT INTO idempotency_keys (agent_name, request_id, operation) VALUES (?, ?, ?)`,
		agentName, requestID, operation)
	if err != nil {
		if IsUniqueConstraintErr(err) {
			return "", false, &IdempotencyInProgressError{AgentName: agentName, RequestID: requestID, Operation: operation}
		}
		return "", false, err
	}
	return "", false, nil
}

// completeIdempotencyTx stamps the result of a completed idempotent operation.
func completeIdempotencyTx(tx *sql.Tx, agentName, requestID, resultJSON string) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE idempotency_keys SET result_json = ?, completed_at = datetime('now')
		WHERE agent_name = ? AND request_id = ?`, resultJSON, agentName, requestID)
	return err
}

// RunIdempotent runs fn at most once per (agentName, requestID) pair. If the
// pair was already completed, fn is not called and the prior resultJSON is
// returned for replay by the caller's own unmarshal. This is applied only to
// the user-facing mutating CLI commands (task submit/patch/cancel/reorder),
// not to internal scheduler phases, which have their own CAS-based idempotence.
func RunIdempotent(db *sql.DB, agentName, requestID, operation string, fn func(tx *sql.Tx) (string, error)) (resultJSON string, replayed bool, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		existing, found, beginErr := beginIdempotencyTx(tx, agentName, requestID, operation)
		if beginErr != nil {
			return beginErr
		}
		if found {
			resultJSON = existing
			replayed = true
			return nil
		}
		result, fnErr := fn(tx)
		if fnErr != nil {
			return fnErr
		}
		resultJSON = result
		return completeIdempotencyTx(tx, agentName, requestID, result)
	})
	return resultJSON, replayed, err
}
