package cliutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverableError struct {
	msg    string
	code   string
	ctx    map[string]string
	action string
}

func (e *fakeRecoverableError) Error() string             { return e.msg }
func (e *fakeRecoverableError) ErrorCode() string          { return e.code }
func (e *fakeRecoverableError) Context() map[string]string { return e.ctx }
func (e *fakeRecoverableError) SuggestedAction() string    { return e.action }

func TestSuccessWrapsData(t *testing.T) {
	resp := Success(map[string]int{"count": 3})
	assert.True(t, resp.Success)
	assert.Equal(t, "v1", resp.SchemaVersion)
	assert.Empty(t, resp.Error)
}

func TestErrorWrapsPlainErrorWithoutEnrichment(t *testing.T) {
	resp := Error(errors.New("boom"))
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.Error)
	assert.Empty(t, resp.ErrorCode)
	assert.Nil(t, resp.ErrorContext)
	assert.Empty(t, resp.SuggestedAction)
}

func TestErrorEnrichesRecoverableErrorViaErrorsAs(t *testing.T) {
	underlying := &fakeRecoverableError{
		msg:    "version conflict",
		code:   "version_conflict",
		ctx:    map[string]string{"task_id": "42"},
		action: "retry with latest version",
	}

	// Wrapped the way commands do it (fmt.Errorf("...: %w", err)); errors.As
	// must still unwrap to the RecoverableError underneath.
	resp := Error(fmt.Errorf("update task: %w", underlying))
	assert.Equal(t, "version_conflict", resp.ErrorCode)
	assert.Equal(t, map[string]string{"task_id": "42"}, resp.ErrorContext)
	assert.Equal(t, "retry with latest version", resp.SuggestedAction)
}

func TestPrintWithCompactByDefault(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintWith(Config{Writer: &buf}, Success("x")))
	assert.NotContains(t, buf.String(), "  ")

	var decoded Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.True(t, decoded.Success)
}

func TestPrintWithPrettyIndents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintWith(Config{Writer: &buf, Pretty: true}, Success("x")))
	assert.Contains(t, buf.String(), "  ")
}
